// ABOUTME: Query client contract used by the chat core to read, write and watch collections
// ABOUTME: Defines Record, tagged subscription Events, Subscription handles and the Client interface

package query

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Collection names used by the chat core.
const (
	CollectionUsers    = "users"
	CollectionMessages = "messages"
	CollectionChats    = "chats"
)

// Write statuses reported by WriteResult.
const (
	WriteAccepted  = "accepted"
	WriteDuplicate = "duplicate"
)

// ErrClosed is returned by clients that have been shut down.
var ErrClosed = errors.New("query client closed")

// Record is a schemaless document as exchanged with the backend.
type Record map[string]any

// ID returns the record's "id" field, or "" if absent or not a string.
func (r Record) ID() string {
	return r.String("id")
}

// String returns a string field, or "" if absent or of another type.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Bool returns a boolean field, or false if absent or of another type.
func (r Record) Bool(field string) bool {
	b, _ := r[field].(bool)
	return b
}

// Time returns a timestamp field. Values may be time.Time, an RFC3339 string,
// or unix milliseconds (any numeric type, as produced by JSON decoding).
func (r Record) Time(field string) (time.Time, bool) {
	switch v := r[field].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case float64:
		return time.UnixMilli(int64(v)), true
	case int64:
		return time.UnixMilli(v), true
	case int:
		return time.UnixMilli(int64(v)), true
	default:
		return time.Time{}, false
	}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Event is one delivery on a live subscription. Exactly one of Records or Err
// is meaningful: an event with a non-nil Err is an error event.
type Event struct {
	Records []Record
	Err     error
}

// Data builds a data event.
func Data(records []Record) Event {
	return Event{Records: records}
}

// Error builds an error event.
func Error(cause error) Event {
	return Event{Err: cause}
}

// IsError reports whether the event carries a stream error.
func (e Event) IsError() bool {
	return e.Err != nil
}

// Handler consumes subscription events. Handlers are invoked sequentially per
// subscription and must not call Cancel on their own subscription.
type Handler func(Event)

// Subscription is a live query handle.
type Subscription interface {
	// Cancel stops the subscription. No handler invocation starts after
	// Cancel returns. Calling Cancel more than once is a no-op.
	Cancel() error
}

// WriteResult acknowledges a write.
type WriteResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Client is the query client adapter consumed by the chat core.
type Client interface {
	// Fetch performs a one-shot read of the records in collection matching filter.
	// A nil filter matches every record.
	Fetch(ctx context.Context, collection string, filter *Filter) ([]Record, error)

	// Subscribe opens a live query. ctx bounds only the setup; the
	// subscription stays open until Cancel is called.
	Subscribe(ctx context.Context, collection string, filter *Filter, handler Handler) (Subscription, error)

	// Write inserts or replaces the record with the same id.
	Write(ctx context.Context, collection string, record Record) (WriteResult, error)
}

// ValidateCollection rejects empty collection names.
func ValidateCollection(collection string) error {
	if collection == "" {
		return fmt.Errorf("collection name is required")
	}
	return nil
}
