package listing

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a listing in the canonical store.
type Status string

// Listing lifecycle states.
const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusSold     Status = "sold"
	StatusRented   Status = "rented"
	StatusRejected Status = "rejected"
	StatusArchived Status = "archived"
)

// Visible reports whether listings in this state may appear in the public index.
// Sold and rented listings stay searchable; everything else is retracted.
// Unknown states are treated as visible so a new upstream state never silently
// drops listings from search.
func (s Status) Visible() bool {
	switch s {
	case StatusDraft, StatusPending, StatusRejected, StatusArchived:
		return false
	default:
		return true
	}
}

// Listing is a snapshot of a canonical listing record. It is read-only to this service.
type Listing struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	Bedrooms    int      `json:"bedrooms"`
	Bathrooms   float64  `json:"bathrooms"`
	Area        float64  `json:"area"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Features    []string `json:"features"`
	Images      []string `json:"images"`
	Status      Status   `json:"status"`
	AgentID     string   `json:"agentId"`
	// AgentTrust is the owner's trust score in [0,1]; nil when unknown.
	AgentTrust    *float64   `json:"agentTrust,omitempty"`
	FeaturedUntil *time.Time `json:"featuredUntil,omitempty"`
	Views         int64      `json:"views"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// LastModified returns UpdatedAt when set and not earlier than CreatedAt, else CreatedAt.
func (l *Listing) LastModified() time.Time {
	if l.UpdatedAt != nil && !l.UpdatedAt.IsZero() && l.UpdatedAt.After(l.CreatedAt) {
		return *l.UpdatedAt
	}
	return l.CreatedAt
}

// Version is the snapshot ordering key in Unix milliseconds. Zero when no timestamps are set.
func (l *Listing) Version() int64 {
	t := l.LastModified()
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// HasLocation reports whether both coordinates are present.
func (l *Listing) HasLocation() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Validate checks the minimum a snapshot needs to be projected: an identifier.
// Everything else is null-safe downstream.
func (l *Listing) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("listing id is required")
	}
	return nil
}
