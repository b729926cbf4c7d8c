package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/listsync/internal/domain/projection"
)

// Sync pipeline Prometheus metrics.
var (
	SyncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listsync",
			Name:      "sync_events_total",
			Help:      "Change events handled, by operation and outcome",
		},
		[]string{"op", "outcome"}, // outcome: "indexed" / "deleted" / "dead_lettered" / "stale" / "invalid" / "interrupted"
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listsync",
			Name:      "dead_letters_total",
			Help:      "Failed index writes recorded to the dead-letter log",
		},
		[]string{"op"},
	)

	IndexWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "listsync",
			Name:      "index_write_duration_seconds",
			Help:      "Index provider write latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"driver", "op", "status"},
	)

	ReindexDocumentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "listsync",
			Name:      "reindex_documents_total",
			Help:      "Documents written or removed by batch reindex runs",
		},
	)

	ReindexPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listsync",
			Name:      "reindex_pages_total",
			Help:      "Batch reindex pages, by outcome",
		},
		[]string{"outcome"},
	)
)

var syncMetricsRegistered bool

// RegisterSyncMetrics registers the sync pipeline metrics. Must be called once from main.
func RegisterSyncMetrics() {
	if syncMetricsRegistered {
		return
	}
	prometheus.MustRegister(SyncEventsTotal)
	prometheus.MustRegister(DeadLettersTotal)
	prometheus.MustRegister(IndexWriteDuration)
	prometheus.MustRegister(ReindexDocumentsTotal)
	prometheus.MustRegister(ReindexPagesTotal)
	syncMetricsRegistered = true
}

// indexWriter is the Index Writer surface being timed.
type indexWriter interface {
	Upsert(ctx context.Context, doc *projection.Document) error
	BulkUpsert(ctx context.Context, docs []projection.Document) error
	Delete(ctx context.Context, id string) error
}

// InstrumentedWriter records IndexWriteDuration around every write of the wrapped writer.
type InstrumentedWriter struct {
	next   indexWriter
	driver string
}

// NewInstrumentedWriter wraps w, labelling observations with driver.
func NewInstrumentedWriter(driver string, w indexWriter) *InstrumentedWriter {
	return &InstrumentedWriter{next: w, driver: driver}
}

// Upsert times one document write.
func (w *InstrumentedWriter) Upsert(ctx context.Context, doc *projection.Document) error {
	start := time.Now()
	err := w.next.Upsert(ctx, doc)
	w.observe("upsert", start, err)
	return err
}

// BulkUpsert times one page write.
func (w *InstrumentedWriter) BulkUpsert(ctx context.Context, docs []projection.Document) error {
	start := time.Now()
	err := w.next.BulkUpsert(ctx, docs)
	w.observe("bulk_upsert", start, err)
	return err
}

// Delete times one removal.
func (w *InstrumentedWriter) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := w.next.Delete(ctx, id)
	w.observe("delete", start, err)
	return err
}

func (w *InstrumentedWriter) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	IndexWriteDuration.WithLabelValues(w.driver, op, status).Observe(time.Since(start).Seconds())
}
