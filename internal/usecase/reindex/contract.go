package reindex

import (
	"context"

	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
)

// ListingReader pages the canonical store in (CreatedAt, ID) order.
type ListingReader interface {
	ListAfter(ctx context.Context, after listing.Cursor, limit int) ([]listing.Listing, error)
}

// IndexWriter writes whole pages to the search index.
type IndexWriter interface {
	BulkUpsert(ctx context.Context, docs []projection.Document) error
	Delete(ctx context.Context, id string) error
}
