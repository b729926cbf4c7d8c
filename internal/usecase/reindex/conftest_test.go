package reindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kailas-cloud/listsync/internal/domain/auth"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var admin = auth.Identity{Subject: "ops", Roles: []string{"admin"}}

// fakeCanonical serves listings in (CreatedAt, ID) order.
type fakeCanonical struct {
	rows   []listing.Listing
	listFn func(ctx context.Context, after listing.Cursor, limit int) error
	calls  int
}

func newFakeCanonical(n int, status func(i int) listing.Status) *fakeCanonical {
	base := testNow.Add(-30 * 24 * time.Hour)
	rows := make([]listing.Listing, n)
	for i := range rows {
		st := listing.StatusActive
		if status != nil {
			st = status(i)
		}
		rows[i] = listing.Listing{
			ID:     fmt.Sprintf("l%03d", i),
			Title:  "Listing",
			Status: st,
			// Pairs share a timestamp so the id tiebreak is exercised.
			CreatedAt: base.Add(time.Duration(i/2) * time.Hour),
		}
	}
	sort.Slice(rows, func(a, b int) bool {
		if !rows[a].CreatedAt.Equal(rows[b].CreatedAt) {
			return rows[a].CreatedAt.Before(rows[b].CreatedAt)
		}
		return rows[a].ID < rows[b].ID
	})
	return &fakeCanonical{rows: rows}
}

func (f *fakeCanonical) ListAfter(ctx context.Context, after listing.Cursor, limit int) ([]listing.Listing, error) {
	f.calls++
	if f.listFn != nil {
		if err := f.listFn(ctx, after, limit); err != nil {
			return nil, err
		}
	}
	var out []listing.Listing
	for _, l := range f.rows {
		if !after.IsZero() {
			if l.CreatedAt.Before(after.CreatedAt) {
				continue
			}
			if l.CreatedAt.Equal(after.CreatedAt) && l.ID <= after.ID {
				continue
			}
		}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// fakeIndex is a map-backed index writer.
type fakeIndex struct {
	mu       sync.Mutex
	docs     map[string]projection.Document
	bulkFn   func(ctx context.Context, docs []projection.Document) error
	deleteFn func(ctx context.Context, id string) error
	bulks    int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]projection.Document{}}
}

func (f *fakeIndex) BulkUpsert(ctx context.Context, docs []projection.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulks++
	if f.bulkFn != nil {
		if err := f.bulkFn(ctx, docs); err != nil {
			return err
		}
	}
	for _, d := range docs {
		f.docs[d.ObjectID] = d
	}
	return nil
}

// Upsert lets live change handlers share the index in convergence tests.
func (f *fakeIndex) Upsert(_ context.Context, doc *projection.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ObjectID] = *doc
	return nil
}

func (f *fakeIndex) snapshot() map[string]projection.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]projection.Document, len(f.docs))
	for k, v := range f.docs {
		out[k] = v
	}
	return out
}

func (f *fakeIndex) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteFn != nil {
		if err := f.deleteFn(ctx, id); err != nil {
			return err
		}
	}
	delete(f.docs, id)
	return nil
}

func newTestService(r ListingReader, w IndexWriter) *Service {
	return New(r, w).WithClock(func() time.Time { return testNow })
}
