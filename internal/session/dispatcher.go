// ABOUTME: Serialized event loop running every state read-compute-commit step in order
// ABOUTME: Unbounded FIFO so producers such as subscription handlers never block

package session

import (
	"log/slog"
	"sync"
)

type dispatcher struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	logger  *slog.Logger
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.run()
	return d
}

// post enqueues fn. It reports false once the dispatcher is closed.
func (d *dispatcher) post(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.pending = append(d.pending, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			d.exec(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

func (d *dispatcher) exec(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("dispatcher task panicked", "panic", p)
		}
	}()
	fn()
}

// close stops accepting work, drains what was already posted and waits for
// the loop to exit.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}
