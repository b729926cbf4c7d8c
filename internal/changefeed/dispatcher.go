package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/listsync/internal/domain"
)

const ackTimeout = 5 * time.Second

// Handler applies one event. It returns an error for events that can never be
// applied, or when ctx ends before the event was applied.
type Handler interface {
	Handle(ctx context.Context, e Event) error
}

// Dispatcher fans deliveries from a Source out to a fixed pool of workers.
type Dispatcher struct {
	src     Source
	h       Handler
	workers int
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. workers below 1 means one worker.
func NewDispatcher(src Source, h Handler, workers int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{src: src, h: h, workers: workers, logger: logger}
}

// Run consumes until ctx is done or the source closes its channel.
func (d *Dispatcher) Run(ctx context.Context) error {
	ch, err := d.src.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("open change feed: %w", err)
	}

	var wg sync.WaitGroup
	for range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case dl, ok := <-ch:
					if !ok {
						return
					}
					d.handle(ctx, dl)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// handle applies dl and acknowledges it. Malformed events are acknowledged too:
// redelivering them cannot succeed. A delivery interrupted by shutdown is left
// unacknowledged so a durable source hands it out again.
func (d *Dispatcher) handle(ctx context.Context, dl Delivery) {
	e := dl.Event
	if err := d.h.Handle(ctx, e); err != nil {
		if ctx.Err() != nil {
			d.logger.Info("change event interrupted, left unacknowledged",
				zap.String("op", string(e.Op)),
				zap.String("listing_id", e.ListingID()),
				zap.Error(err),
			)
			return
		}
		lvl := zap.ErrorLevel
		if errors.Is(err, domain.ErrInvalidEvent) {
			lvl = zap.WarnLevel
		}
		d.logger.Log(lvl, "change event rejected",
			zap.String("op", string(e.Op)),
			zap.String("listing_id", e.ListingID()),
			zap.Error(err),
		)
	}

	if dl.Ack == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := dl.Ack(actx); err != nil {
		d.logger.Warn("change event ack failed",
			zap.String("op", string(e.Op)),
			zap.String("listing_id", e.ListingID()),
			zap.Error(err),
		)
	}
}
