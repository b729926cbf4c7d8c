package syncerr

import (
	"encoding/json"
	"time"
)

// Operation is the change kind that failed to reach the index.
type Operation string

// Recorded operations.
const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Record is one failed index write kept for operator inspection and replay.
type Record struct {
	ID        string    `json:"id"`
	Operation Operation `json:"operationType"`
	ListingID string    `json:"listingId"`
	// Payload is the JSON snapshot that failed to apply; nil for deletes.
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}
