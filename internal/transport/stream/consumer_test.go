package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kailas-cloud/listsync/internal/changefeed"
	"github.com/kailas-cloud/listsync/internal/domain/listing"
)

// fakeStream emulates one stream with a single consumer group.
type fakeStream struct {
	mu        sync.Mutex
	entries   []redis.XMessage
	delivered int
	pending   map[string]bool
	acked     []string
	groupErr  error
	readErr   error
}

func newFakeStream() *fakeStream {
	return &fakeStream{pending: map[string]bool{}}
}

func (f *fakeStream) XGroupCreateMkStream(context.Context, string, string, string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	if f.readErr != nil {
		err := f.readErr
		f.mu.Unlock()
		return redis.NewXStreamSliceCmdResult(nil, err)
	}
	var msgs []redis.XMessage
	if after := a.Streams[1]; after != ">" {
		for _, m := range f.entries[:f.delivered] {
			if f.pending[m.ID] && idAfter(m.ID, after) {
				msgs = append(msgs, m)
			}
		}
	} else {
		for f.delivered < len(f.entries) && int64(len(msgs)) < a.Count {
			m := f.entries[f.delivered]
			f.pending[m.ID] = true
			f.delivered++
			msgs = append(msgs, m)
		}
	}
	f.mu.Unlock()

	if len(msgs) == 0 && a.Streams[1] == ">" {
		select {
		case <-ctx.Done():
			return redis.NewXStreamSliceCmdResult(nil, ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: a.Streams[0], Messages: msgs}}, nil)
}

// idAfter compares "<n>-0" ids.
func idAfter(id, after string) bool {
	var a, b int
	_, _ = fmt.Sscanf(id, "%d-", &a)
	_, _ = fmt.Sscanf(after, "%d-", &b)
	return a > b
}

func (f *fakeStream) XAck(_ context.Context, _, _ string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.pending, id)
		f.acked = append(f.acked, id)
	}
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, _ := a.Values.(map[string]any)
	id := fmt.Sprintf("%d-0", len(f.entries)+1)
	f.entries = append(f.entries, redis.XMessage{ID: id, Values: values})
	return redis.NewStringResult(id, nil)
}

func (f *fakeStream) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeStream) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func newTestConsumer(t *testing.T, fs *fakeStream) *Consumer {
	t.Helper()
	c, err := NewConsumer(fs, Config{Stream: "listings", Group: "listsync", Consumer: "w1", Block: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	c.backoff = time.Millisecond
	return c
}

func receive(t *testing.T, ch <-chan changefeed.Delivery) changefeed.Delivery {
	t.Helper()
	select {
	case dl, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return dl
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return changefeed.Delivery{}
}

func TestNewConsumer_Validation(t *testing.T) {
	if _, err := NewConsumer(newFakeStream(), Config{Stream: "s"}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureGroup_ExistingGroupIgnored(t *testing.T) {
	fs := newFakeStream()
	fs.groupErr = errors.New("BUSYGROUP Consumer Group name already exists")
	if err := newTestConsumer(t, fs).EnsureGroup(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fs.groupErr = errors.New("NOAUTH")
	if err := newTestConsumer(t, fs).EnsureGroup(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestConsumer_PublishDeliverAck(t *testing.T) {
	fs := newFakeStream()
	c := newTestConsumer(t, fs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = c.Publish(ctx, changefeed.Event{Op: changefeed.OpCreate, Payload: &listing.Listing{ID: "a"}})
	fs.entries = append(fs.entries, redis.XMessage{ID: "99-0", Values: map[string]any{"event": "{not json"}})
	_ = c.Publish(ctx, changefeed.Event{Op: changefeed.OpDelete, ID: "b"})

	ch, err := c.Deliveries(ctx)
	if err != nil {
		t.Fatalf("deliveries: %v", err)
	}

	first := receive(t, ch)
	if first.Event.ListingID() != "a" {
		t.Errorf("first = %+v", first.Event)
	}
	second := receive(t, ch)
	if second.Event.Op != changefeed.OpDelete || second.Event.ID != "b" {
		t.Errorf("second = %+v", second.Event)
	}
	for _, dl := range []changefeed.Delivery{first, second} {
		if err := dl.Ack(ctx); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}

	acked := fs.ackedIDs()
	if len(acked) != 3 {
		t.Fatalf("acked = %v, want malformed entry plus two events", acked)
	}

	cancel()
	for range ch {
	}
}

func TestConsumer_ReplaysPendingFirst(t *testing.T) {
	fs := newFakeStream()
	c := newTestConsumer(t, fs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = c.Publish(ctx, changefeed.Event{Op: changefeed.OpDelete, ID: "stuck"})
	fs.delivered = 1
	fs.pending["1-0"] = true
	_ = c.Publish(ctx, changefeed.Event{Op: changefeed.OpDelete, ID: "fresh"})

	ch, err := c.Deliveries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if dl := receive(t, ch); dl.Event.ID != "stuck" {
		t.Fatalf("expected pending entry first, got %q", dl.Event.ID)
	}
	if dl := receive(t, ch); dl.Event.ID != "fresh" {
		t.Fatalf("expected new entry, got %q", dl.Event.ID)
	}
}

func TestConsumer_ReadErrorRetries(t *testing.T) {
	fs := newFakeStream()
	fs.readErr = errors.New("connection refused")
	c := newTestConsumer(t, fs)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := c.Deliveries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected delivery")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestPublish_Trims(t *testing.T) {
	var got *redis.XAddArgs
	fs := &capturingStream{fakeStream: newFakeStream(), onAdd: func(a *redis.XAddArgs) { got = a }}
	c, _ := NewConsumer(fs, Config{Stream: "s", Group: "g", Consumer: "c", MaxLen: 1000}, nil)

	if err := c.Publish(context.Background(), changefeed.Event{Op: changefeed.OpDelete, ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if got == nil || got.MaxLen != 1000 || !got.Approx {
		t.Errorf("xadd args = %+v", got)
	}
}

type capturingStream struct {
	*fakeStream
	onAdd func(a *redis.XAddArgs)
}

func (c *capturingStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	c.onAdd(a)
	return c.fakeStream.XAdd(ctx, a)
}
