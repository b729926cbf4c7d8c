package indexsync

import (
	"context"

	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
)

// IndexWriter applies single-document changes to the search index.
type IndexWriter interface {
	Upsert(ctx context.Context, doc *projection.Document) error
	Delete(ctx context.Context, id string) error
}

// Recorder captures index writes that could not be applied.
type Recorder interface {
	Record(ctx context.Context, op syncerr.Operation, listingID string, payload any, cause error)
}

// VersionGuard remembers the newest applied version per listing.
type VersionGuard interface {
	Advance(ctx context.Context, id string, version int64) (bool, error)
}

// SnapshotReader loads the current canonical snapshot of one listing.
// It returns domain.ErrListingNotFound when the listing no longer exists.
type SnapshotReader interface {
	Get(ctx context.Context, id string) (*listing.Listing, error)
}
