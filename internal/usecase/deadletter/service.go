package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
	"github.com/kailas-cloud/listsync/internal/metrics"
)

const appendTimeout = 5 * time.Second

// Recorder writes failed index operations to the dead-letter log.
// Record never fails: when the log itself is unavailable the record goes to the process log.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// New creates a Recorder.
func New(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// Record appends one failure. payload is marshalled to JSON and may be nil.
func (r *Recorder) Record(ctx context.Context, op syncerr.Operation, listingID string, payload any, cause error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("dead-letter recorder panicked",
				zap.String("operation", string(op)),
				zap.String("listing_id", listingID),
				zap.Any("panic", p),
			)
		}
	}()

	metrics.DeadLettersTotal.WithLabelValues(string(op)).Inc()

	rec := &syncerr.Record{
		Operation: op,
		ListingID: listingID,
		Error:     errorText(cause),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			r.logger.Warn("dead-letter payload not serializable",
				zap.String("listing_id", listingID), zap.Error(err))
		} else if string(raw) != "null" {
			rec.Payload = raw
		}
	}

	// The caller's context may already be done when a write timed out.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	if err := r.store.Append(actx, rec); err != nil {
		r.logger.Error("dead-letter append failed",
			zap.String("operation", string(op)),
			zap.String("listing_id", listingID),
			zap.String("sync_error", rec.Error),
			zap.ByteString("payload", rec.Payload),
			zap.Error(err),
		)
		return
	}

	r.logger.Warn("index write dead-lettered",
		zap.String("id", rec.ID),
		zap.String("operation", string(op)),
		zap.String("listing_id", listingID),
		zap.String("sync_error", rec.Error),
	)
}

// List returns recorded failures, newest first. An empty listingID lists all.
func (r *Recorder) List(ctx context.Context, listingID string, limit int) ([]syncerr.Record, error) {
	recs, err := r.store.List(ctx, listingID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync errors: %w", err)
	}
	return recs, nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
