// Package stream consumes the listing change feed from a Redis Stream consumer group.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kailas-cloud/listsync/internal/changefeed"
)

// eventField is the stream entry field holding the JSON-encoded event.
const eventField = "event"

const (
	defaultBlock   = 5 * time.Second
	defaultCount   = 64
	defaultBackoff = time.Second
)

// streamClient is the subset of *redis.Client the consumer uses.
type streamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Config configures a consumer.
type Config struct {
	Stream   string
	Group    string
	Consumer string
	// Block is how long one XREADGROUP waits for new entries.
	Block time.Duration
	Count int64
	// MaxLen caps the stream on publish (approximate trimming). Zero disables trimming.
	MaxLen int64
}

// Consumer reads change events as one member of a consumer group.
// Entries are acknowledged only through Delivery.Ack, so a crashed worker's
// entries are redelivered when the consumer restarts.
type Consumer struct {
	rdb     streamClient
	cfg     Config
	backoff time.Duration
	logger  *zap.Logger
}

// NewConsumer creates a consumer.
func NewConsumer(rdb streamClient, cfg Config, logger *zap.Logger) (*Consumer, error) {
	if cfg.Stream == "" || cfg.Group == "" || cfg.Consumer == "" {
		return nil, errors.New("stream, group and consumer names are required")
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.Count <= 0 {
		cfg.Count = defaultCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{rdb: rdb, cfg: cfg, backoff: defaultBackoff, logger: logger}, nil
}

// EnsureGroup creates the stream and consumer group if missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s/%s: %w", c.cfg.Stream, c.cfg.Group, err)
	}
	return nil
}

// Deliveries starts reading. This consumer's pending entries are replayed first,
// then new entries are read until ctx is done.
func (c *Consumer) Deliveries(ctx context.Context) (<-chan changefeed.Delivery, error) {
	if err := c.EnsureGroup(ctx); err != nil {
		return nil, err
	}
	out := make(chan changefeed.Delivery)
	go c.loop(ctx, out)
	return out, nil
}

func (c *Consumer) loop(ctx context.Context, out chan<- changefeed.Delivery) {
	defer close(out)

	// An explicit id reads our own pending entries after it; ">" reads entries
	// never delivered to the group.
	start := "0"
	for ctx.Err() == nil {
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, start},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("read change stream", zap.String("stream", c.cfg.Stream), zap.Error(err))
			if !sleep(ctx, c.backoff) {
				return
			}
			continue
		}

		last := ""
		for _, s := range streams {
			for _, msg := range s.Messages {
				last = msg.ID
				if !c.deliver(ctx, out, msg) {
					return
				}
			}
		}
		if start != ">" {
			if last == "" {
				start = ">"
			} else {
				start = last
			}
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, out chan<- changefeed.Delivery, msg redis.XMessage) bool {
	e, err := decode(msg)
	if err != nil {
		// Poison entries are acknowledged so they do not block the group.
		c.logger.Warn("dropping malformed change event",
			zap.String("stream", c.cfg.Stream), zap.String("entry_id", msg.ID), zap.Error(err))
		if aerr := c.ack(ctx, msg.ID); aerr != nil {
			c.logger.Warn("ack malformed change event", zap.String("entry_id", msg.ID), zap.Error(aerr))
		}
		return true
	}

	id := msg.ID
	dl := changefeed.Delivery{
		Event: e,
		Ack:   func(ctx context.Context) error { return c.ack(ctx, id) },
	}
	select {
	case out <- dl:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", id, err)
	}
	return nil
}

// Publish appends e to the stream.
func (c *Consumer) Publish(ctx context.Context, e changefeed.Event) error {
	raw, err := changefeed.Encode(e)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: map[string]any{eventField: string(raw)},
	}
	if c.cfg.MaxLen > 0 {
		args.MaxLen = c.cfg.MaxLen
		args.Approx = true
	}
	if err := c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", c.cfg.Stream, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *Consumer) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping change stream: %w", err)
	}
	return nil
}

func decode(msg redis.XMessage) (changefeed.Event, error) {
	v, ok := msg.Values[eventField]
	if !ok {
		return changefeed.Event{}, fmt.Errorf("entry has no %q field", eventField)
	}
	s, ok := v.(string)
	if !ok {
		return changefeed.Event{}, fmt.Errorf("field %q is %T, want string", eventField, v)
	}
	return changefeed.Decode([]byte(s))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
