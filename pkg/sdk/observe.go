package listsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/listsync/internal/domain"
)

// Call results used as the "result" metric label.
const (
	resultOK       = "ok"
	resultInvalid  = "invalid"
	resultDenied   = "denied"
	resultCanceled = "canceled"
	resultError    = "error"
)

type sdkMetrics struct {
	calls     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	reindexed prometheus.Counter
}

func newSDKMetrics(reg prometheus.Registerer) (*sdkMetrics, error) {
	m := &sdkMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listsync",
			Subsystem: "sdk",
			Name:      "calls_total",
			Help:      "Lifecycle hook and admin calls by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "listsync",
			Subsystem: "sdk",
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds, including retries before dead-lettering.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 30, 300},
		}, []string{"op"}),
		reindexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "listsync",
			Subsystem: "sdk",
			Name:      "reindexed_listings_total",
			Help:      "Listings processed by Reindex calls.",
		}),
	}
	if err := registerOrReuse(reg, &m.calls); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.reindexed); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse lets several clients share one registry.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return fmt.Errorf("listsync: register metric: %w", err)
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return fmt.Errorf("listsync: metric already registered with incompatible type: %T", are.ExistingCollector)
	}
	*c = existing
	return nil
}

// resultOf maps a call error to its result label.
func resultOf(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, domain.ErrInvalidEvent), errors.Is(err, domain.ErrInvalidCursor):
		return resultInvalid
	case errors.Is(err, domain.ErrPermissionDenied):
		return resultDenied
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resultCanceled
	}
	return resultError
}

// call is one in-progress client call.
type call struct {
	op        string
	listingID string
	start     time.Time
}

type observer struct {
	logger  *slog.Logger
	metrics *sdkMetrics
}

func newObserver(logger *slog.Logger, reg prometheus.Registerer) (*observer, error) {
	o := &observer{logger: logger}
	if reg != nil {
		m, err := newSDKMetrics(reg)
		if err != nil {
			return nil, err
		}
		o.metrics = m
	}
	return o, nil
}

func (o *observer) begin(op, listingID string) call {
	return call{op: op, listingID: listingID, start: time.Now()}
}

// end records c. processed is the number of listings a reindex touched, zero otherwise.
func (o *observer) end(c call, processed int, err error) {
	if o == nil {
		return
	}
	dur := time.Since(c.start)
	result := resultOf(err)

	if o.metrics != nil {
		o.metrics.calls.WithLabelValues(c.op, result).Inc()
		o.metrics.duration.WithLabelValues(c.op).Observe(dur.Seconds())
		if processed > 0 {
			o.metrics.reindexed.Add(float64(processed))
		}
	}

	if o.logger == nil {
		return
	}
	attrs := []any{"op", c.op, "duration", dur}
	if c.listingID != "" {
		attrs = append(attrs, "listing_id", c.listingID)
	}
	if processed > 0 {
		attrs = append(attrs, "processed", processed)
	}
	switch result {
	case resultOK:
		o.logger.Debug("listsync call completed", attrs...)
	case resultInvalid, resultDenied, resultCanceled:
		o.logger.Info("listsync call rejected", append(attrs, "result", result, "error", err)...)
	default:
		o.logger.Warn("listsync call failed", append(attrs, "error", err)...)
	}
}
