package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied signals a caller without the required role.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrIndexProvider signals a search index provider failure.
	ErrIndexProvider = errors.New("index provider error")
	// ErrListingNotFound signals a missing canonical listing.
	ErrListingNotFound = errors.New("listing not found")
	// ErrInvalidEvent signals a change-feed event that cannot be applied.
	ErrInvalidEvent = errors.New("invalid change event")
	// ErrInvalidCursor signals a malformed reindex cursor.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// IndexOp names an Index Writer operation for error context.
type IndexOp string

// Index Writer operations.
const (
	IndexOpUpsert     IndexOp = "upsert"
	IndexOpBulkUpsert IndexOp = "bulk_upsert"
	IndexOpDelete     IndexOp = "delete"
)

// IndexError is the single error type every index provider failure is translated into.
type IndexError struct {
	Op IndexOp
	// ID is the listing id; empty for bulk operations.
	ID string
	// Permanent marks rejections that will fail identically on retry (mapping errors, 4xx).
	Permanent bool
	Err       error
}

func (e *IndexError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", ErrIndexProvider.Error(), e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", ErrIndexProvider.Error(), e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the provider cause to errors.Is/As.
func (e *IndexError) Unwrap() []error { return []error{ErrIndexProvider, e.Err} }

// NewIndexError wraps a provider failure. Returns nil when err is nil.
func NewIndexError(op IndexOp, id string, err error) error {
	if err == nil {
		return nil
	}
	return &IndexError{Op: op, ID: id, Err: err}
}

// NewPermanentIndexError wraps a provider rejection that retrying cannot fix.
func NewPermanentIndexError(op IndexOp, id string, err error) error {
	if err == nil {
		return nil
	}
	return &IndexError{Op: op, ID: id, Permanent: true, Err: err}
}

// IsTransient reports whether err is an index provider failure worth retrying.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ie *IndexError
	if !errors.As(err, &ie) {
		return false
	}
	return !ie.Permanent
}
