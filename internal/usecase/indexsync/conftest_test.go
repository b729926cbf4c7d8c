package indexsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type mockWriter struct {
	mu       sync.Mutex
	upsertFn func(ctx context.Context, doc *projection.Document) error
	deleteFn func(ctx context.Context, id string) error
	upserts  []projection.Document
	deletes  []string
	calls    int
}

func (m *mockWriter) Upsert(ctx context.Context, doc *projection.Document) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.upsertFn != nil {
		if err := m.upsertFn(ctx, doc); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.upserts = append(m.upserts, *doc)
	m.mu.Unlock()
	return nil
}

func (m *mockWriter) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.deleteFn != nil {
		if err := m.deleteFn(ctx, id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.deletes = append(m.deletes, id)
	m.mu.Unlock()
	return nil
}

type recorded struct {
	op        syncerr.Operation
	listingID string
	payload   any
	cause     error
}

type mockRecorder struct {
	mu      sync.Mutex
	records []recorded
}

func (m *mockRecorder) Record(_ context.Context, op syncerr.Operation, listingID string, payload any, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recorded{op: op, listingID: listingID, payload: payload, cause: cause})
}

type mockGuard struct {
	advanceFn func(ctx context.Context, id string, version int64) (bool, error)
}

func (m *mockGuard) Advance(ctx context.Context, id string, version int64) (bool, error) {
	return m.advanceFn(ctx, id, version)
}

func newTestService(w *mockWriter, r *mockRecorder) *Service {
	return New(w, r).
		WithClock(func() time.Time { return testNow }).
		WithRetry(RetryPolicy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func activeListing(id string) *listing.Listing {
	return &listing.Listing{
		ID:          id,
		Title:       "Two-bedroom flat",
		Description: "Bright flat near the park",
		Images:      []string{"a.jpg", "b.jpg"},
		Status:      listing.StatusActive,
		CreatedAt:   testNow.Add(-48 * time.Hour),
	}
}

func transientErr(id string) error {
	return domain.NewIndexError(domain.IndexOpUpsert, id, errors.New("connection reset"))
}

func permanentErr(id string) error {
	return domain.NewPermanentIndexError(domain.IndexOpUpsert, id, errors.New("mapper_parsing_exception"))
}

type mockSnapshots struct {
	getFn func(ctx context.Context, id string) (*listing.Listing, error)
}

func (m *mockSnapshots) Get(ctx context.Context, id string) (*listing.Listing, error) {
	return m.getFn(ctx, id)
}
