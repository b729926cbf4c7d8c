package indexsync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kailas-cloud/listsync/internal/changefeed"
	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
	"github.com/kailas-cloud/listsync/internal/domain/score"
	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
)

func TestOnCreate_UpsertsProjection(t *testing.T) {
	w, r := &mockWriter{}, &mockRecorder{}
	svc := newTestService(w, r)
	l := activeListing("l1")

	if err := svc.OnCreate(context.Background(), l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(w.upserts))
	}
	got := w.upserts[0]
	want := score.Calculate(l, testNow)
	if got.ObjectID != "l1" || got.Score != want.Final {
		t.Errorf("doc = %+v, want score %v", got, want.Final)
	}
	if len(r.records) != 0 {
		t.Errorf("unexpected dead letters: %+v", r.records)
	}
}

func TestOnCreate_UpsertFailureIsDeadLettered(t *testing.T) {
	w := &mockWriter{upsertFn: func(context.Context, *projection.Document) error {
		return permanentErr("l1")
	}}
	r := &mockRecorder{}
	svc := newTestService(w, r)

	if err := svc.OnCreate(context.Background(), activeListing("l1")); err != nil {
		t.Fatalf("handler must swallow index failures, got %v", err)
	}
	if len(r.records) != 1 {
		t.Fatalf("expected exactly 1 dead letter, got %d", len(r.records))
	}
	rec := r.records[0]
	if rec.op != syncerr.OpCreate || rec.listingID != "l1" {
		t.Errorf("record = %+v", rec)
	}
	if l, ok := rec.payload.(*listing.Listing); !ok || l.ID != "l1" {
		t.Errorf("payload = %#v", rec.payload)
	}
	if !errors.Is(rec.cause, domain.ErrIndexProvider) {
		t.Errorf("cause = %v", rec.cause)
	}
	if w.calls != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", w.calls)
	}
}

func TestOnUpdate_RetriesTransientErrors(t *testing.T) {
	failures := 2
	w := &mockWriter{upsertFn: func(context.Context, *projection.Document) error {
		if failures > 0 {
			failures--
			return transientErr("l1")
		}
		return nil
	}}
	r := &mockRecorder{}

	if err := newTestService(w, r).OnUpdate(context.Background(), activeListing("l1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.calls != 3 || len(w.upserts) != 1 {
		t.Errorf("calls = %d, upserts = %d", w.calls, len(w.upserts))
	}
	if len(r.records) != 0 {
		t.Errorf("recovered write must not be dead-lettered")
	}
}

func TestOnUpdate_RetriesExhausted(t *testing.T) {
	w := &mockWriter{upsertFn: func(context.Context, *projection.Document) error {
		return transientErr("l1")
	}}
	r := &mockRecorder{}

	_ = newTestService(w, r).OnUpdate(context.Background(), activeListing("l1"))

	if w.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", w.calls)
	}
	if len(r.records) != 1 || r.records[0].op != syncerr.OpUpdate {
		t.Fatalf("records = %+v", r.records)
	}
}

func TestOnUpdate_RetractedListingIsRemoved(t *testing.T) {
	for _, st := range []listing.Status{listing.StatusDraft, listing.StatusPending, listing.StatusRejected, listing.StatusArchived} {
		w, r := &mockWriter{}, &mockRecorder{}
		l := activeListing("l1")
		l.Status = st

		_ = newTestService(w, r).OnUpdate(context.Background(), l)

		if len(w.upserts) != 0 || len(w.deletes) != 1 || w.deletes[0] != "l1" {
			t.Errorf("%s: upserts=%d deletes=%v", st, len(w.upserts), w.deletes)
		}
	}
}

func TestOnDelete_NeverIndexedSucceeds(t *testing.T) {
	w, r := &mockWriter{}, &mockRecorder{}

	if err := newTestService(w, r).OnDelete(context.Background(), "ghost"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.deletes) != 1 || w.deletes[0] != "ghost" {
		t.Errorf("deletes = %v", w.deletes)
	}
	if len(r.records) != 0 {
		t.Errorf("unexpected dead letters")
	}
}

func TestOnDelete_FailureRecordedWithoutPayload(t *testing.T) {
	w := &mockWriter{deleteFn: func(context.Context, string) error {
		return domain.NewPermanentIndexError(domain.IndexOpDelete, "l1", errors.New("forbidden"))
	}}
	r := &mockRecorder{}

	_ = newTestService(w, r).OnDelete(context.Background(), "l1")

	if len(r.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(r.records))
	}
	if rec := r.records[0]; rec.op != syncerr.OpDelete || rec.payload != nil {
		t.Errorf("record = %+v", rec)
	}
}

func TestOnDelete_EmptyIDInvalid(t *testing.T) {
	w, r := &mockWriter{}, &mockRecorder{}
	err := newTestService(w, r).OnDelete(context.Background(), "")
	if !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if w.calls != 0 {
		t.Error("writer must not be called")
	}
}

func TestOnCreate_NilListingInvalid(t *testing.T) {
	err := newTestService(&mockWriter{}, &mockRecorder{}).OnCreate(context.Background(), nil)
	if !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestHandle_Dispatch(t *testing.T) {
	w, r := &mockWriter{}, &mockRecorder{}
	svc := newTestService(w, r)
	ctx := context.Background()

	events := []changefeed.Event{
		{Op: changefeed.OpCreate, ID: "a", Payload: activeListing("a")},
		{Op: changefeed.OpUpdate, Payload: activeListing("b")},
		{Op: changefeed.OpDelete, ID: "c"},
	}
	for _, e := range events {
		if err := svc.Handle(ctx, e); err != nil {
			t.Fatalf("handle %s: %v", e.Op, err)
		}
	}
	if len(w.upserts) != 2 || len(w.deletes) != 1 {
		t.Errorf("upserts=%d deletes=%d", len(w.upserts), len(w.deletes))
	}

	if err := svc.Handle(ctx, changefeed.Event{Op: "merge", ID: "x"}); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent for unknown op, got %v", err)
	}
}

func TestHandle_StaleEventSkipped(t *testing.T) {
	w, r := &mockWriter{}, &mockRecorder{}
	var seen []int64
	g := &mockGuard{advanceFn: func(_ context.Context, _ string, v int64) (bool, error) {
		seen = append(seen, v)
		return v >= 10, nil
	}}
	svc := newTestService(w, r).WithGuard(g)
	ctx := context.Background()

	_ = svc.Handle(ctx, changefeed.Event{Op: changefeed.OpUpdate, Payload: activeListing("a"), Version: 10})
	_ = svc.Handle(ctx, changefeed.Event{Op: changefeed.OpUpdate, Payload: activeListing("a"), Version: 5})
	_ = svc.Handle(ctx, changefeed.Event{Op: changefeed.OpDelete, ID: "a", Version: 4})

	if len(w.upserts) != 1 || len(w.deletes) != 0 {
		t.Errorf("upserts=%d deletes=%d", len(w.upserts), len(w.deletes))
	}
	if len(seen) != 3 {
		t.Errorf("guard consulted %d times", len(seen))
	}
}

func TestHandle_GuardFailureFailsOpen(t *testing.T) {
	w, r := &mockWriter{}, &mockRecorder{}
	g := &mockGuard{advanceFn: func(context.Context, string, int64) (bool, error) {
		return false, errors.New("redis down")
	}}

	_ = newTestService(w, r).WithGuard(g).OnCreate(context.Background(), activeListing("a"))

	if len(w.upserts) != 1 {
		t.Fatal("event must be applied when the guard is unavailable")
	}
}

func TestHandle_UnversionedDeleteBypassesGuard(t *testing.T) {
	w, r := &mockWriter{}, &mockRecorder{}
	g := &mockGuard{advanceFn: func(context.Context, string, int64) (bool, error) {
		t.Fatal("guard must not be consulted")
		return false, nil
	}}

	_ = newTestService(w, r).WithGuard(g).OnDelete(context.Background(), "a")

	if len(w.deletes) != 1 {
		t.Fatal("delete not applied")
	}
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &mockWriter{upsertFn: func(context.Context, *projection.Document) error {
		cancel()
		return transientErr("a")
	}}
	r := &mockRecorder{}
	svc := New(w, r).WithRetry(RetryPolicy{Attempts: 5, InitialBackoff: DefaultRetryPolicy.MaxBackoff})

	err := svc.OnCreate(ctx, activeListing("a"))

	if w.calls != 1 {
		t.Errorf("expected 1 attempt after cancel, got %d", w.calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(r.records) != 0 {
		t.Errorf("canceled write must not be dead-lettered, got %d records", len(r.records))
	}
}

func TestDelete_CanceledIsNotDeadLettered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &mockWriter{deleteFn: func(ctx context.Context, _ string) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}}
	r := &mockRecorder{}
	svc := newTestService(w, r)

	err := svc.OnDelete(ctx, "a")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(r.records) != 0 {
		t.Errorf("expected no dead letter, got %d", len(r.records))
	}
}

func TestConcurrentHandlers(t *testing.T) {
	w, r := &mockWriter{}, &mockRecorder{}
	svc := newTestService(w, r)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i%26))
			_ = svc.OnUpdate(context.Background(), activeListing(id))
		}()
	}
	wg.Wait()

	if len(w.upserts) != 50 {
		t.Errorf("upserts = %d, want 50", len(w.upserts))
	}
}
