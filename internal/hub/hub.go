// ABOUTME: In-process realtime query backend holding ordered record collections
// ABOUTME: Serves filtered fetches, upsert writes and live queries; implements query.Client

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-chat/internal/query"
)

// PushMode selects what a live query receives when a matching record is written.
type PushMode string

const (
	// PushSnapshot delivers the full current match set, including once on subscribe.
	PushSnapshot PushMode = "snapshot"
	// PushDelta delivers only the written record.
	PushDelta PushMode = "delta"
)

// ParsePushMode validates a push mode name. The empty string selects PushSnapshot.
func ParsePushMode(s string) (PushMode, error) {
	switch PushMode(s) {
	case "", PushSnapshot:
		return PushSnapshot, nil
	case PushDelta:
		return PushDelta, nil
	default:
		return "", fmt.Errorf("unknown push mode %q (want %q or %q)", s, PushSnapshot, PushDelta)
	}
}

// Persister stores record bodies so a hub survives restarts.
type Persister interface {
	SaveRecord(ctx context.Context, collection, id string, body []byte) error
	LoadRecords(ctx context.Context, collection string) ([][]byte, error)
	Collections(ctx context.Context) ([]string, error)
}

// collection keeps records in first-insert order.
type collection struct {
	order []string
	byID  map[string]query.Record
}

func newCollection() *collection {
	return &collection{byID: make(map[string]query.Record)}
}

func (c *collection) upsert(rec query.Record) (previous query.Record) {
	id := rec.ID()
	previous, exists := c.byID[id]
	if !exists {
		c.order = append(c.order, id)
	}
	c.byID[id] = rec
	return previous
}

func (c *collection) match(filter *query.Filter) []query.Record {
	var out []query.Record
	for _, id := range c.order {
		rec := c.byID[id]
		if filter.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Hub is a thread-safe in-memory query backend.
type Hub struct {
	mu          sync.RWMutex
	collections map[string]*collection
	live        map[string]*liveQuery
	closed      bool

	mode    PushMode
	persist Persister
	logger  *slog.Logger
}

// Options configures a Hub. The zero value is an unpersisted snapshot hub.
type Options struct {
	Mode      PushMode
	Persister Persister
	Logger    *slog.Logger
}

// New creates a hub.
func New(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := opts.Mode
	if mode == "" {
		mode = PushSnapshot
	}
	return &Hub{
		collections: make(map[string]*collection),
		live:        make(map[string]*liveQuery),
		mode:        mode,
		persist:     opts.Persister,
		logger:      logger.With("component", "hub"),
	}
}

// Mode returns the hub's push mode.
func (h *Hub) Mode() PushMode { return h.mode }

// Load restores every persisted collection. It should run before the hub
// serves traffic.
func (h *Hub) Load(ctx context.Context) error {
	if h.persist == nil {
		return nil
	}
	names, err := h.persist.Collections(ctx)
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}

	loaded := 0
	for _, name := range names {
		bodies, err := h.persist.LoadRecords(ctx, name)
		if err != nil {
			return fmt.Errorf("loading %s: %w", name, err)
		}
		h.mu.Lock()
		coll := h.collection(name)
		for _, body := range bodies {
			var rec query.Record
			if err := json.Unmarshal(body, &rec); err != nil {
				h.logger.Warn("skipping unreadable record", "collection", name, "error", err)
				continue
			}
			coll.upsert(rec)
			loaded++
		}
		h.mu.Unlock()
	}
	h.logger.Info("hub loaded", "collections", len(names), "records", loaded)
	return nil
}

// Fetch returns the records of collection matching filter, in insertion order.
func (h *Hub) Fetch(ctx context.Context, collectionName string, filter *query.Filter) ([]query.Record, error) {
	if err := validate(ctx, collectionName, filter); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, query.ErrClosed
	}
	coll, ok := h.collections[collectionName]
	if !ok {
		return []query.Record{}, nil
	}
	out := coll.match(filter)
	if out == nil {
		out = []query.Record{}
	}
	return out, nil
}

// Write upserts record by id and notifies matching live queries.
func (h *Hub) Write(ctx context.Context, collectionName string, record query.Record) (query.WriteResult, error) {
	if err := validate(ctx, collectionName, nil); err != nil {
		return query.WriteResult{}, err
	}
	id := record.ID()
	if id == "" {
		return query.WriteResult{}, fmt.Errorf("writing %s: record id is required", collectionName)
	}
	rec := record.Clone()

	if h.persist != nil {
		body, err := json.Marshal(rec)
		if err != nil {
			return query.WriteResult{}, fmt.Errorf("encoding record: %w", err)
		}
		if err := h.persist.SaveRecord(ctx, collectionName, id, body); err != nil {
			return query.WriteResult{}, fmt.Errorf("persisting record: %w", err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return query.WriteResult{}, query.ErrClosed
	}
	coll := h.collection(collectionName)
	previous := coll.upsert(rec)

	notified := 0
	for _, q := range h.live {
		if q.collection != collectionName {
			continue
		}
		matchesNow := q.filter.Match(rec)
		matchedBefore := previous != nil && q.filter.Match(previous)
		switch {
		case h.mode == PushDelta && matchesNow:
			q.enqueue(query.Data([]query.Record{rec.Clone()}))
		case h.mode == PushSnapshot && (matchesNow || matchedBefore):
			q.enqueue(query.Data(coll.match(q.filter)))
		default:
			continue
		}
		notified++
	}

	h.logger.Debug("record written",
		"collection", collectionName,
		"id", id,
		"notified", notified)
	return query.WriteResult{ID: id, Status: query.WriteAccepted}, nil
}

// Subscribe opens a live query. In snapshot mode the current match set is
// delivered immediately.
func (h *Hub) Subscribe(ctx context.Context, collectionName string, filter *query.Filter, handler query.Handler) (query.Subscription, error) {
	if err := validate(ctx, collectionName, filter); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribing to %s: handler is required", collectionName)
	}

	q := newLiveQuery(h, collectionName, filter, handler)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, query.ErrClosed
	}
	h.live[q.id] = q
	if h.mode == PushSnapshot {
		initial := []query.Record{}
		if coll, ok := h.collections[collectionName]; ok {
			if matched := coll.match(filter); matched != nil {
				initial = matched
			}
		}
		q.enqueue(query.Data(initial))
	}
	h.mu.Unlock()

	go q.run()

	h.logger.Debug("live query opened",
		"collection", collectionName,
		"sub_id", q.id,
		"filter", filter.String())
	return q, nil
}

// Fail delivers an error event to every live query on collection.
// The queries stay open.
func (h *Hub) Fail(collectionName string, cause error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, q := range h.live {
		if q.collection == collectionName {
			q.enqueue(query.Error(cause))
		}
	}
}

// LiveCount returns the number of open live queries.
func (h *Hub) LiveCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

// Close cancels every live query. Later calls fail with query.ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	queries := make([]*liveQuery, 0, len(h.live))
	for _, q := range h.live {
		queries = append(queries, q)
	}
	h.mu.Unlock()

	for _, q := range queries {
		_ = q.Cancel()
	}
	h.logger.Debug("hub closed", "live_queries", len(queries))
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.live, id)
	h.mu.Unlock()
}

// collection returns the named collection, creating it. Callers hold h.mu.
func (h *Hub) collection(name string) *collection {
	coll, ok := h.collections[name]
	if !ok {
		coll = newCollection()
		h.collections[name] = coll
	}
	return coll
}

func validate(ctx context.Context, collectionName string, filter *query.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := query.ValidateCollection(collectionName); err != nil {
		return err
	}
	if err := filter.Validate(); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}
	return nil
}

var _ query.Client = (*Hub)(nil)
