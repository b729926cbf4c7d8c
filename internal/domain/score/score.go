// Package score computes the ranking signal every indexed listing carries.
// Calculate is pure: the same snapshot and the same now always yield the same Components.
package score

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/kailas-cloud/listsync/internal/domain/listing"
)

// Quality weights and caps.
const (
	imageWeight       = 0.55
	imageCap          = 10
	descriptionWeight = 0.30
	descriptionCap    = 600
	featureWeight     = 0.10
	featureCap        = 8
	richMediaBonus    = 0.05
	richMediaImages   = 4
)

// Final score weights.
const (
	recencyWeight = 0.33
	qualityWeight = 0.33
	trustWeight   = 0.20
	viewsWeight   = 0.14

	// DefaultTrust is used when the owner has no trust score.
	DefaultTrust = 0.5
	// FeaturedMultiplier boosts listings whose featured window is still open.
	FeaturedMultiplier = 1.25
	// MaxFinal is the upper bound of Components.Final.
	MaxFinal = FeaturedMultiplier
)

// RecencyHalfLife is the decay constant of the recency curve.
const RecencyHalfLife = 240 * time.Hour

const minAge = time.Hour

// Components are the derived ranking values for one listing snapshot.
type Components struct {
	Quality float64 `json:"quality"`
	Recency float64 `json:"recency"`
	Final   float64 `json:"final"`
}

// Calculate derives the score components of l as of now.
func Calculate(l *listing.Listing, now time.Time) Components {
	quality := Quality(l)
	recency := Recency(l, now)

	final := recencyWeight*recency +
		qualityWeight*quality +
		trustWeight*trust(l.AgentTrust) +
		viewsWeight*viewsFactor(l.Views)
	if l.FeaturedUntil != nil && l.FeaturedUntil.After(now) {
		final *= FeaturedMultiplier
	}

	return Components{
		Quality: quality,
		Recency: recency,
		Final:   round3(clamp(final, 0, MaxFinal)),
	}
}

// Quality rates how complete the listing's content is, in [0,1].
func Quality(l *listing.Listing) float64 {
	images := len(l.Images)
	q := imageWeight*float64(min(images, imageCap))/imageCap +
		descriptionWeight*float64(min(utf8.RuneCountInString(l.Description), descriptionCap))/descriptionCap +
		featureWeight*float64(min(len(l.Features), featureCap))/featureCap
	if images >= richMediaImages {
		q += richMediaBonus
	}
	return round3(clamp(q, 0, 1))
}

// Recency decays exponentially with age since the last modification, in [0,1].
// Ages below one hour count as one hour.
func Recency(l *listing.Listing, now time.Time) float64 {
	age := now.Sub(l.LastModified())
	if age < minAge {
		age = minAge
	}
	r := math.Exp(-age.Hours() / RecencyHalfLife.Hours())
	return round3(clamp(r, 0, 1))
}

func trust(t *float64) float64 {
	if t == nil || math.IsNaN(*t) {
		return DefaultTrust
	}
	return clamp(*t, 0, 1)
}

func viewsFactor(views int64) float64 {
	if views <= 0 {
		return 0
	}
	return math.Min(math.Log(float64(views)+1)/5, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
