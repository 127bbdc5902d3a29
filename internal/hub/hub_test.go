// ABOUTME: Tests for the in-process hub: fetch, write, live queries and teardown
// ABOUTME: Covers snapshot and delta push modes, ordering, cancel guarantees and persistence

package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/coven-chat/internal/query"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector records events delivered to a handler.
type collector struct {
	mu     sync.Mutex
	events []query.Event
	notify chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 128)}
}

func (c *collector) handle(ev query.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *collector) snapshot() []query.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]query.Event(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, n int) []query.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if evs := c.snapshot(); len(evs) >= n {
			return evs
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, have %d", n, len(c.snapshot()))
		}
	}
}

func ids(records []query.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func TestHub_FetchFiltersInInsertOrder(t *testing.T) {
	h := New(Options{})
	defer h.Close()
	ctx := context.Background()

	for _, rec := range []query.Record{
		{"id": "m1", "to": "bob"},
		{"id": "m2", "to": "ALL"},
		{"id": "m3", "to": "bob"},
	} {
		_, err := h.Write(ctx, query.CollectionMessages, rec)
		require.NoError(t, err)
	}

	got, err := h.Fetch(ctx, query.CollectionMessages, query.Cond("to", query.OpEq, "bob"))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m3"}, ids(got))

	all, err := h.Fetch(ctx, query.CollectionMessages, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	empty, err := h.Fetch(ctx, "nothing", nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestHub_WriteUpsertsByID(t *testing.T) {
	h := New(Options{})
	defer h.Close()
	ctx := context.Background()

	_, err := h.Write(ctx, query.CollectionUsers, query.Record{"id": "u1", "name": "old"})
	require.NoError(t, err)
	res, err := h.Write(ctx, query.CollectionUsers, query.Record{"id": "u1", "name": "new"})
	require.NoError(t, err)
	assert.Equal(t, query.WriteResult{ID: "u1", Status: query.WriteAccepted}, res)

	got, err := h.Fetch(ctx, query.CollectionUsers, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].String("name"))
}

func TestHub_WriteValidation(t *testing.T) {
	h := New(Options{})
	defer h.Close()
	ctx := context.Background()

	_, err := h.Write(ctx, query.CollectionUsers, query.Record{"name": "no id"})
	assert.Error(t, err)

	_, err = h.Write(ctx, "", query.Record{"id": "x"})
	assert.Error(t, err)

	_, err = h.Fetch(ctx, query.CollectionUsers, &query.Filter{Op: "bogus"})
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = h.Fetch(cancelled, query.CollectionUsers, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHub_FetchReturnsCopies(t *testing.T) {
	h := New(Options{})
	defer h.Close()
	ctx := context.Background()

	_, err := h.Write(ctx, query.CollectionUsers, query.Record{"id": "u1", "name": "a"})
	require.NoError(t, err)

	got, err := h.Fetch(ctx, query.CollectionUsers, nil)
	require.NoError(t, err)
	got[0]["name"] = "mutated"

	again, err := h.Fetch(ctx, query.CollectionUsers, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].String("name"))
}

func TestHub_SnapshotMode(t *testing.T) {
	h := New(Options{Mode: PushSnapshot})
	defer h.Close()
	ctx := context.Background()

	_, err := h.Write(ctx, query.CollectionMessages, query.Record{"id": "m1", "to": "ALL"})
	require.NoError(t, err)

	c := newCollector()
	sub, err := h.Subscribe(ctx, query.CollectionMessages, query.Cond("to", query.OpEq, "ALL"), c.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	evs := c.waitFor(t, 1)
	assert.Equal(t, []string{"m1"}, ids(evs[0].Records), "initial snapshot")

	_, err = h.Write(ctx, query.CollectionMessages, query.Record{"id": "m2", "to": "bob"})
	require.NoError(t, err)
	_, err = h.Write(ctx, query.CollectionMessages, query.Record{"id": "m3", "to": "ALL"})
	require.NoError(t, err)

	evs = c.waitFor(t, 2)
	require.Len(t, evs, 2, "non-matching write is not pushed")
	assert.Equal(t, []string{"m1", "m3"}, ids(evs[1].Records))
}

func TestHub_SnapshotPushesWhenRecordStopsMatching(t *testing.T) {
	h := New(Options{Mode: PushSnapshot})
	defer h.Close()
	ctx := context.Background()

	_, err := h.Write(ctx, query.CollectionUsers, query.Record{"id": "u1", "isActive": true})
	require.NoError(t, err)

	c := newCollector()
	sub, err := h.Subscribe(ctx, query.CollectionUsers, query.Cond("isActive", query.OpEq, true), c.handle)
	require.NoError(t, err)
	defer sub.Cancel()
	c.waitFor(t, 1)

	_, err = h.Write(ctx, query.CollectionUsers, query.Record{"id": "u1", "isActive": false})
	require.NoError(t, err)

	evs := c.waitFor(t, 2)
	assert.Empty(t, evs[1].Records)
}

func TestHub_DeltaMode(t *testing.T) {
	h := New(Options{Mode: PushDelta})
	defer h.Close()
	ctx := context.Background()

	_, err := h.Write(ctx, query.CollectionMessages, query.Record{"id": "m1", "to": "ALL"})
	require.NoError(t, err)

	c := newCollector()
	sub, err := h.Subscribe(ctx, query.CollectionMessages, nil, c.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	for i := 2; i <= 4; i++ {
		_, err := h.Write(ctx, query.CollectionMessages, query.Record{"id": fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	evs := c.waitFor(t, 3)
	require.Len(t, evs, 3, "no initial delivery in delta mode")
	for i, ev := range evs {
		assert.Equal(t, []string{fmt.Sprintf("m%d", i+2)}, ids(ev.Records), "delivery order")
	}
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	h := New(Options{Mode: PushDelta})
	defer h.Close()
	ctx := context.Background()

	var calls atomic.Int32
	sub, err := h.Subscribe(ctx, query.CollectionMessages, nil, func(query.Event) {
		calls.Add(1)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.LiveCount())

	require.NoError(t, sub.Cancel())
	require.NoError(t, sub.Cancel(), "second cancel is a no-op")
	assert.Equal(t, 0, h.LiveCount())

	before := calls.Load()
	_, err = h.Write(ctx, query.CollectionMessages, query.Record{"id": "late"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, calls.Load())
}

func TestHub_CancelWaitsForRunningHandler(t *testing.T) {
	h := New(Options{Mode: PushDelta})
	defer h.Close()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	sub, err := h.Subscribe(ctx, query.CollectionMessages, nil, func(query.Event) {
		close(entered)
		<-release
		finished.Store(true)
	})
	require.NoError(t, err)

	_, err = h.Write(ctx, query.CollectionMessages, query.Record{"id": "m1"})
	require.NoError(t, err)
	<-entered

	cancelled := make(chan struct{})
	go func() {
		_ = sub.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("cancel returned while handler was running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-cancelled
	assert.True(t, finished.Load())
}

func TestHub_HandlerPanicDoesNotKillQuery(t *testing.T) {
	h := New(Options{Mode: PushDelta})
	defer h.Close()
	ctx := context.Background()

	c := newCollector()
	var first atomic.Bool
	sub, err := h.Subscribe(ctx, query.CollectionMessages, nil, func(ev query.Event) {
		if first.CompareAndSwap(false, true) {
			panic("handler bug")
		}
		c.handle(ev)
	})
	require.NoError(t, err)
	defer sub.Cancel()

	_, err = h.Write(ctx, query.CollectionMessages, query.Record{"id": "m1"})
	require.NoError(t, err)
	_, err = h.Write(ctx, query.CollectionMessages, query.Record{"id": "m2"})
	require.NoError(t, err)

	evs := c.waitFor(t, 1)
	assert.Equal(t, []string{"m2"}, ids(evs[0].Records))
}

func TestHub_FailDeliversErrorEvent(t *testing.T) {
	h := New(Options{Mode: PushDelta})
	defer h.Close()

	c := newCollector()
	sub, err := h.Subscribe(context.Background(), query.CollectionUsers, nil, c.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	h.Fail(query.CollectionUsers, errors.New("backend hiccup"))
	evs := c.waitFor(t, 1)
	assert.True(t, evs[0].IsError())
	assert.Equal(t, 1, h.LiveCount(), "query stays open after an error event")
}

func TestHub_CloseCancelsEverything(t *testing.T) {
	h := New(Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.Subscribe(ctx, query.CollectionMessages, nil, func(query.Event) {})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, h.LiveCount())

	h.Close()
	h.Close()
	assert.Equal(t, 0, h.LiveCount())

	_, err := h.Fetch(ctx, query.CollectionMessages, nil)
	assert.ErrorIs(t, err, query.ErrClosed)
	_, err = h.Subscribe(ctx, query.CollectionMessages, nil, func(query.Event) {})
	assert.ErrorIs(t, err, query.ErrClosed)
}

// memPersister is an in-memory Persister for tests.
type memPersister struct {
	mu      sync.Mutex
	order   map[string][]string
	records map[string]map[string][]byte
	failing bool
}

func newMemPersister() *memPersister {
	return &memPersister{
		order:   make(map[string][]string),
		records: make(map[string]map[string][]byte),
	}
}

func (p *memPersister) SaveRecord(_ context.Context, collection, id string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return errors.New("disk full")
	}
	if p.records[collection] == nil {
		p.records[collection] = make(map[string][]byte)
	}
	if _, ok := p.records[collection][id]; !ok {
		p.order[collection] = append(p.order[collection], id)
	}
	p.records[collection][id] = body
	return nil
}

func (p *memPersister) LoadRecords(_ context.Context, collection string) ([][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, id := range p.order[collection] {
		out = append(out, p.records[collection][id])
	}
	return out, nil
}

func (p *memPersister) Collections(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for name := range p.order {
		out = append(out, name)
	}
	return out, nil
}

func TestHub_PersistAndLoad(t *testing.T) {
	p := newMemPersister()
	ctx := context.Background()

	h := New(Options{Persister: p})
	_, err := h.Write(ctx, query.CollectionUsers, query.Record{"id": "u1", "name": "Ann"})
	require.NoError(t, err)
	_, err = h.Write(ctx, query.CollectionMessages, query.Record{"id": "m1", "text": "hi"})
	require.NoError(t, err)
	h.Close()

	restored := New(Options{Persister: p})
	defer restored.Close()
	require.NoError(t, restored.Load(ctx))

	users, err := restored.Fetch(ctx, query.CollectionUsers, nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Ann", users[0].String("name"))

	p.failing = true
	_, err = restored.Write(ctx, query.CollectionUsers, query.Record{"id": "u2"})
	assert.Error(t, err)
	users, err = restored.Fetch(ctx, query.CollectionUsers, nil)
	require.NoError(t, err)
	assert.Len(t, users, 1, "failed persist leaves memory untouched")
}

func TestParsePushMode(t *testing.T) {
	m, err := ParsePushMode("")
	require.NoError(t, err)
	assert.Equal(t, PushSnapshot, m)

	m, err = ParsePushMode("delta")
	require.NoError(t, err)
	assert.Equal(t, PushDelta, m)

	_, err = ParsePushMode("stream")
	assert.Error(t, err)
}
