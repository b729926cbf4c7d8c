package listsync

import "github.com/kailas-cloud/listsync/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrPermissionDenied = domain.ErrPermissionDenied
	ErrIndexProvider    = domain.ErrIndexProvider
	ErrInvalidCursor    = domain.ErrInvalidCursor
	ErrInvalidEvent     = domain.ErrInvalidEvent
)
