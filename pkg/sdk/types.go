package listsync

import (
	"time"

	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
)

// Listing is a canonical listing snapshot.
type Listing = listing.Listing

// Status is a listing lifecycle state.
type Status = listing.Status

// Listing lifecycle states.
const (
	StatusDraft    = listing.StatusDraft
	StatusPending  = listing.StatusPending
	StatusActive   = listing.StatusActive
	StatusSold     = listing.StatusSold
	StatusRented   = listing.StatusRented
	StatusRejected = listing.StatusRejected
	StatusArchived = listing.StatusArchived
)

// SyncError is a dead-lettered index write.
type SyncError struct {
	ID        string
	Operation string
	ListingID string
	Payload   []byte
	Error     string
	Timestamp time.Time
}

func syncErrorFromRecord(r syncerr.Record) SyncError {
	return SyncError{
		ID:        r.ID,
		Operation: string(r.Operation),
		ListingID: r.ListingID,
		Payload:   r.Payload,
		Error:     r.Error,
		Timestamp: r.Timestamp,
	}
}

// ReindexOptions parameterizes Client.Reindex.
type ReindexOptions struct {
	// Caller names who started the run, for logs.
	Caller string
	// Roles of the caller. The run is refused unless one of them is an admin role.
	Roles []string
	// After resumes a previous run from its Cursor. Empty starts from the beginning.
	After    string
	PageSize int
}

// ReindexReport summarizes a reindex run.
type ReindexReport struct {
	OK             bool
	TotalProcessed int
	Pages          int
	Deleted        int
	// Cursor is where a failed run should resume.
	Cursor string
}

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            // "ok", "degraded", "error"
	Checks map[string]string // component → "ok"/"error"
}
