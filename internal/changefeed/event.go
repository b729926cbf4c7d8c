// Package changefeed describes canonical-store mutation events and the sources that deliver them.
package changefeed

import (
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
)

// Op is the kind of canonical mutation.
type Op string

// Mutation kinds.
const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is one canonical mutation. Create and update carry the full listing snapshot,
// or only the id when the consumer is expected to read the snapshot back from the
// canonical store. Delete carries only the id.
type Event struct {
	Op      Op               `json:"op"`
	ID      string           `json:"id"`
	Payload *listing.Listing `json:"payload,omitempty"`
	// Version orders events for one listing. Zero means unknown; the payload version is used instead.
	Version int64 `json:"version,omitempty"`
}

// EffectiveVersion is Version if set, else the payload's last-modified time in Unix milliseconds.
func (e Event) EffectiveVersion() int64 {
	if e.Version != 0 {
		return e.Version
	}
	if e.Payload != nil {
		return e.Payload.Version()
	}
	return 0
}

// Validate checks the event can be applied.
func (e Event) Validate() error {
	switch e.Op {
	case OpCreate, OpUpdate:
		if e.Payload == nil {
			if e.ID == "" {
				return fmt.Errorf("%s event without id or payload: %w", e.Op, domain.ErrInvalidEvent)
			}
			return nil
		}
		if err := e.Payload.Validate(); err != nil {
			return fmt.Errorf("%s event: %w: %w", e.Op, domain.ErrInvalidEvent, err)
		}
		if e.ID != "" && e.ID != e.Payload.ID {
			return fmt.Errorf("%s event id %q does not match payload id %q: %w",
				e.Op, e.ID, e.Payload.ID, domain.ErrInvalidEvent)
		}
	case OpDelete:
		if e.ID == "" {
			return fmt.Errorf("delete event without id: %w", domain.ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("unknown op %q: %w", e.Op, domain.ErrInvalidEvent)
	}
	return nil
}

// ListingID returns the id the event targets.
func (e Event) ListingID() string {
	if e.ID != "" {
		return e.ID
	}
	if e.Payload != nil {
		return e.Payload.ID
	}
	return ""
}

// Decode parses and validates a JSON-encoded event.
func Decode(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w: %w", domain.ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Encode serializes an event for publishing.
func Encode(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return raw, nil
}
