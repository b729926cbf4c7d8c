package listing

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/listsync/internal/domain"
)

// Cursor is the last (created_at, id) sort key seen while paging the canonical store.
// The zero value starts from the beginning.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// IsZero reports whether the cursor points at the start of the data.
func (c Cursor) IsZero() bool { return c.CreatedAt.IsZero() && c.ID == "" }

// String encodes the cursor as "<RFC3339Nano>|<id>". The zero cursor encodes to "".
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
}

// CursorOf returns the cursor positioned at l.
func CursorOf(l *Listing) Cursor {
	return Cursor{CreatedAt: l.CreatedAt, ID: l.ID}
}

// ParseCursor decodes a cursor produced by Cursor.String. Empty input yields the zero cursor.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	ts, id, ok := strings.Cut(s, "|")
	if !ok || id == "" {
		return Cursor{}, fmt.Errorf("cursor %q: expected <timestamp>|<id>: %w", s, domain.ErrInvalidCursor)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Cursor{}, fmt.Errorf("cursor %q: %w: %w", s, domain.ErrInvalidCursor, err)
	}
	return Cursor{CreatedAt: t, ID: id}, nil
}
