// ABOUTME: Live query subscriptions with an unbounded ordered queue per subscriber
// ABOUTME: A delivery goroutine invokes the handler; Cancel stops delivery synchronously

package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/query"
)

type liveQuery struct {
	id         string
	hub        *Hub
	collection string
	filter     *query.Filter
	handler    query.Handler

	qmu     sync.Mutex
	pending []query.Event
	wake    chan struct{}

	// deliverMu is held for the whole of each handler call and while
	// Cancel flips canceled, so no call starts after Cancel returns.
	deliverMu sync.Mutex
	canceled  bool

	stop       chan struct{}
	done       chan struct{}
	cancelOnce sync.Once
}

func newLiveQuery(h *Hub, collection string, filter *query.Filter, handler query.Handler) *liveQuery {
	return &liveQuery{
		id:         uuid.New().String(),
		hub:        h,
		collection: collection,
		filter:     filter,
		handler:    handler,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// enqueue never blocks, so it is safe to call while holding the hub lock.
func (q *liveQuery) enqueue(ev query.Event) {
	q.qmu.Lock()
	q.pending = append(q.pending, ev)
	q.qmu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *liveQuery) next() ([]query.Event, bool) {
	for {
		q.qmu.Lock()
		if len(q.pending) > 0 {
			batch := q.pending
			q.pending = nil
			q.qmu.Unlock()
			return batch, true
		}
		q.qmu.Unlock()

		select {
		case <-q.wake:
		case <-q.stop:
			return nil, false
		}
	}
}

func (q *liveQuery) run() {
	defer close(q.done)
	for {
		batch, ok := q.next()
		if !ok {
			return
		}
		for _, ev := range batch {
			if !q.deliver(ev) {
				return
			}
		}
	}
}

func (q *liveQuery) deliver(ev query.Event) (ok bool) {
	q.deliverMu.Lock()
	defer q.deliverMu.Unlock()
	if q.canceled {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			q.hub.logger.Error("live query handler panicked",
				"sub_id", q.id,
				"collection", q.collection,
				"panic", p)
			ok = true
		}
	}()
	q.handler(ev)
	return true
}

// Cancel removes the live query and waits for its delivery goroutine to exit.
// It must not be called from the query's own handler.
func (q *liveQuery) Cancel() error {
	q.cancelOnce.Do(func() {
		q.hub.remove(q.id)

		q.deliverMu.Lock()
		q.canceled = true
		q.deliverMu.Unlock()

		close(q.stop)
		<-q.done

		q.hub.logger.Debug("live query cancelled", "sub_id", q.id, "collection", q.collection)
	})
	return nil
}
