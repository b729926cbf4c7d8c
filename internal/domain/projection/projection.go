// Package projection builds the denormalized Document the search index stores for a
// listing, with its score computed at build time. Every index writer indexes this shape.
package projection

import (
	"time"

	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/score"
)

// GeoLoc is the coordinate pair search providers read for geo queries.
type GeoLoc struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Document is the denormalized shape written to the search index, keyed by ObjectID.
type Document struct {
	ObjectID      string           `json:"objectID"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Price         float64          `json:"price"`
	Currency      string           `json:"currency"`
	Bedrooms      int              `json:"bedrooms"`
	Bathrooms     float64          `json:"bathrooms"`
	Area          float64          `json:"area"`
	Latitude      *float64         `json:"latitude,omitempty"`
	Longitude     *float64         `json:"longitude,omitempty"`
	Features      []string         `json:"features"`
	Images        []string         `json:"images"`
	Status        listing.Status   `json:"status"`
	AgentID       string           `json:"agentId"`
	AgentTrust    *float64         `json:"agentTrust,omitempty"`
	FeaturedUntil *time.Time       `json:"featuredUntil,omitempty"`
	Views         int64            `json:"views"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     *time.Time       `json:"updatedAt,omitempty"`
	GeoLoc        *GeoLoc          `json:"_geoloc,omitempty"`
	Score         float64          `json:"score"`
	Components    score.Components `json:"scoreComponents"`
	Version       int64            `json:"version"`
}

// Build projects l with its precomputed score components.
// Slices are copied so the document never aliases the snapshot.
func Build(l *listing.Listing, c score.Components) Document {
	doc := Document{
		ObjectID:      l.ID,
		Title:         l.Title,
		Description:   l.Description,
		Price:         l.Price,
		Currency:      l.Currency,
		Bedrooms:      l.Bedrooms,
		Bathrooms:     l.Bathrooms,
		Area:          l.Area,
		Latitude:      l.Latitude,
		Longitude:     l.Longitude,
		Features:      cloneStrings(l.Features),
		Images:        cloneStrings(l.Images),
		Status:        l.Status,
		AgentID:       l.AgentID,
		AgentTrust:    l.AgentTrust,
		FeaturedUntil: l.FeaturedUntil,
		Views:         l.Views,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
		Score:         c.Final,
		Components:    c,
		Version:       l.Version(),
	}
	if l.HasLocation() {
		doc.GeoLoc = &GeoLoc{Lat: *l.Latitude, Lng: *l.Longitude}
	}
	return doc
}

// For is shorthand for Build(l, score.Calculate(l, now)).
func For(l *listing.Listing, now time.Time) Document {
	return Build(l, score.Calculate(l, now))
}

func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
