package deadletter

import (
	"context"

	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
)

// Store persists dead-letter records.
type Store interface {
	Append(ctx context.Context, rec *syncerr.Record) error
	List(ctx context.Context, listingID string, limit int) ([]syncerr.Record, error)
}
