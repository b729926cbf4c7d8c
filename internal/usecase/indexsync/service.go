package indexsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/listsync/internal/changefeed"
	"github.com/kailas-cloud/listsync/internal/domain"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
	"github.com/kailas-cloud/listsync/internal/metrics"
)

// Event outcomes reported in listsync_sync_events_total.
const (
	outcomeIndexed      = "indexed"
	outcomeDeleted      = "deleted"
	outcomeDeadLettered = "dead_lettered"
	outcomeStale        = "stale"
	outcomeInvalid      = "invalid"
	outcomeInterrupted  = "interrupted"
)

// RetryPolicy bounds retries of transient index failures.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is three tries backing off from 200ms up to 2s.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}

// Service mirrors canonical listing mutations into the search index.
// Index failures never reach the caller; they are dead-lettered. Only malformed
// events and cancellation of ctx are returned.
// A Service holds no mutable state and is safe for concurrent use.
type Service struct {
	writer    IndexWriter
	dead      Recorder
	guard     VersionGuard
	snapshots SnapshotReader
	retry     RetryPolicy
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a sync service.
func New(writer IndexWriter, dead Recorder) *Service {
	return &Service{
		writer: writer,
		dead:   dead,
		retry:  DefaultRetryPolicy,
		now:    time.Now,
		logger: zap.NewNop(),
	}
}

// WithRetry overrides the retry policy. Attempts below 1 disable retries.
func (s *Service) WithRetry(p RetryPolicy) *Service {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	s.retry = p
	return s
}

// WithGuard enables stale-event detection.
func (s *Service) WithGuard(g VersionGuard) *Service {
	s.guard = g
	return s
}

// WithSnapshots lets create and update events that carry only an id be resolved
// against the canonical store. Without it such events are rejected as invalid.
func (s *Service) WithSnapshots(r SnapshotReader) *Service {
	s.snapshots = r
	return s
}

// WithClock overrides the scoring clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// OnCreate indexes a newly created listing.
func (s *Service) OnCreate(ctx context.Context, l *listing.Listing) error {
	return s.onWrite(ctx, changefeed.OpCreate, l, 0)
}

// OnUpdate replaces the indexed projection of an updated listing.
func (s *Service) OnUpdate(ctx context.Context, l *listing.Listing) error {
	return s.onWrite(ctx, changefeed.OpUpdate, l, 0)
}

// OnDelete removes a listing from the index. Deleting a never-indexed id succeeds.
func (s *Service) OnDelete(ctx context.Context, id string) error {
	return s.Handle(ctx, changefeed.Event{Op: changefeed.OpDelete, ID: id})
}

// Handle dispatches a change-feed event. Only malformed events and cancellation return an error.
func (s *Service) Handle(ctx context.Context, e changefeed.Event) error {
	if err := e.Validate(); err != nil {
		metrics.SyncEventsTotal.WithLabelValues(string(e.Op), outcomeInvalid).Inc()
		return err
	}
	if e.Op == changefeed.OpDelete {
		id := e.ListingID()
		if s.stale(ctx, e.Op, id, e.EffectiveVersion()) {
			return nil
		}
		return s.remove(ctx, e.Op, id, nil)
	}
	if e.Payload == nil {
		return s.resolve(ctx, e)
	}
	return s.onWrite(ctx, e.Op, e.Payload, e.EffectiveVersion())
}

// resolve applies an id-only create or update by reading the current snapshot.
// A listing missing from the canonical store is removed from the index.
func (s *Service) resolve(ctx context.Context, e changefeed.Event) error {
	if s.snapshots == nil {
		metrics.SyncEventsTotal.WithLabelValues(string(e.Op), outcomeInvalid).Inc()
		return fmt.Errorf("%s event without payload: %w", e.Op, domain.ErrInvalidEvent)
	}

	l, err := s.snapshots.Get(ctx, e.ID)
	switch {
	case err == nil:
		return s.onWrite(ctx, e.Op, l, e.Version)
	case errors.Is(err, domain.ErrListingNotFound):
		if s.stale(ctx, e.Op, e.ID, e.Version) {
			return nil
		}
		return s.remove(ctx, e.Op, e.ID, nil)
	default:
		return s.fail(ctx, e.Op, e.ID, nil, fmt.Errorf("read snapshot: %w", err))
	}
}

func (s *Service) onWrite(ctx context.Context, op changefeed.Op, l *listing.Listing, version int64) error {
	if l == nil {
		metrics.SyncEventsTotal.WithLabelValues(string(op), outcomeInvalid).Inc()
		return fmt.Errorf("%s without listing: %w", op, domain.ErrInvalidEvent)
	}
	if err := l.Validate(); err != nil {
		metrics.SyncEventsTotal.WithLabelValues(string(op), outcomeInvalid).Inc()
		return fmt.Errorf("%s: %w: %w", op, domain.ErrInvalidEvent, err)
	}
	if version == 0 {
		version = l.Version()
	}
	if s.stale(ctx, op, l.ID, version) {
		return nil
	}

	if !l.Status.Visible() {
		return s.remove(ctx, op, l.ID, l)
	}

	doc := projection.For(l, s.now())
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.writer.Upsert(ctx, &doc)
	})
	if err != nil {
		return s.fail(ctx, op, l.ID, l, err)
	}
	metrics.SyncEventsTotal.WithLabelValues(string(op), outcomeIndexed).Inc()
	return nil
}

// remove deletes id from the index. payload is kept for the dead-letter record.
func (s *Service) remove(ctx context.Context, op changefeed.Op, id string, payload *listing.Listing) error {
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.writer.Delete(ctx, id)
	})
	if err != nil {
		return s.fail(ctx, op, id, payload, err)
	}
	metrics.SyncEventsTotal.WithLabelValues(string(op), outcomeDeleted).Inc()
	return nil
}

// fail dead-letters a write that could not be applied. A write cut short by the
// caller's cancellation is not an index failure: the event is returned unrecorded
// so a durable feed can redeliver it.
func (s *Service) fail(ctx context.Context, op changefeed.Op, id string, payload *listing.Listing, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		metrics.SyncEventsTotal.WithLabelValues(string(op), outcomeInterrupted).Inc()
		s.logger.Info("index write interrupted",
			zap.String("op", string(op)), zap.String("listing_id", id), zap.Error(err))
		return fmt.Errorf("%s %s interrupted: %w", op, id, cerr)
	}
	s.deadLetter(ctx, op, id, payload, err)
	return nil
}

func (s *Service) deadLetter(ctx context.Context, op changefeed.Op, id string, payload *listing.Listing, err error) {
	metrics.SyncEventsTotal.WithLabelValues(string(op), outcomeDeadLettered).Inc()
	if payload == nil {
		s.dead.Record(ctx, syncerr.Operation(op), id, nil, err)
		return
	}
	s.dead.Record(ctx, syncerr.Operation(op), id, payload, err)
}

// stale reports whether a newer version of id was already applied.
// Guard errors fail open.
func (s *Service) stale(ctx context.Context, op changefeed.Op, id string, version int64) bool {
	if s.guard == nil || version <= 0 {
		return false
	}
	ok, err := s.guard.Advance(ctx, id, version)
	if err != nil {
		s.logger.Warn("version guard unavailable, applying event",
			zap.String("op", string(op)), zap.String("listing_id", id), zap.Error(err))
		return false
	}
	if !ok {
		metrics.SyncEventsTotal.WithLabelValues(string(op), outcomeStale).Inc()
		s.logger.Debug("stale event skipped",
			zap.String("op", string(op)), zap.String("listing_id", id), zap.Int64("version", version))
		return true
	}
	return false
}

// withRetry runs fn until it succeeds, fails permanently, or attempts run out.
func (s *Service) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := s.retry.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= s.retry.Attempts || !domain.IsTransient(err) {
			return err
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		backoff = min(backoff*2, s.retry.MaxBackoff)
	}
}
