// ABOUTME: Keyed registry of live subscription handles owned by a session
// ABOUTME: Guarantees one handle per key and a complete, panic-tolerant teardown sweep

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/coven-chat/internal/query"
)

// Kind identifies what a subscription watches.
type Kind string

const (
	KindUsers  Kind = "users"
	KindChats  Kind = "chats"
	KindThread Kind = "thread"
)

// Key identifies a subscription. Keys are comparable and used as map keys.
type Key struct {
	Kind    Kind
	Partner string
}

// UserListKey is the key of the user-list subscription.
func UserListKey() Key { return Key{Kind: KindUsers} }

// ChatListKey is the key of the chat-list subscription.
func ChatListKey() Key { return Key{Kind: KindChats} }

// ThreadKey is the key of the thread subscription with partner ("ALL" for broadcast).
func ThreadKey(partner string) Key { return Key{Kind: KindThread, Partner: partner} }

func (k Key) String() string {
	if k.Partner == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.Partner
}

// Registry holds at most one live subscription per key.
type Registry struct {
	mu     sync.Mutex
	subs   map[Key]query.Subscription
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subs:   make(map[Key]query.Subscription),
		logger: logger.With("component", "registry"),
	}
}

// Register stores sub under key. A handle already stored under key is
// cancelled first; its cancel error, if any, is returned after the swap.
func (r *Registry) Register(key Key, sub query.Subscription) error {
	if sub == nil {
		return fmt.Errorf("registering %s: nil subscription", key)
	}
	r.mu.Lock()
	prev := r.subs[key]
	r.subs[key] = sub
	r.mu.Unlock()

	if prev == nil {
		return nil
	}
	r.logger.Debug("replacing subscription", "key", key.String())
	return cancel(key, prev)
}

// Has reports whether a handle is stored under key.
func (r *Registry) Has(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[key]
	return ok
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Keys returns the registered keys in a stable order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// CancelByKey cancels and removes the handle under key. Missing keys are a no-op.
func (r *Registry) CancelByKey(key Key) error {
	r.mu.Lock()
	sub, ok := r.subs[key]
	delete(r.subs, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return cancel(key, sub)
}

// CancelAll cancels every handle and empties the registry. A failing or
// panicking cancel does not stop the sweep; all failures are joined.
func (r *Registry) CancelAll() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[Key]query.Subscription)
	r.mu.Unlock()

	if len(subs) == 0 {
		return nil
	}

	var errs []error
	for key, sub := range subs {
		if err := cancel(key, sub); err != nil {
			r.logger.Warn("subscription cancel failed", "key", key.String(), "error", err)
			errs = append(errs, err)
		}
	}
	r.logger.Debug("cancelled subscriptions", "count", len(subs), "failures", len(errs))
	return errors.Join(errs...)
}

func cancel(key Key, sub query.Subscription) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cancelling %s: panic: %v", key, p)
		}
	}()
	if cerr := sub.Cancel(); cerr != nil {
		return fmt.Errorf("cancelling %s: %w", key, cerr)
	}
	return nil
}
