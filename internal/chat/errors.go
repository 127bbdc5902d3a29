// ABOUTME: Error taxonomy shared by the reconciliation engine and the session controller
// ABOUTME: Typed errors wrap their cause so callers can use errors.Is and errors.As

package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn is returned by operations that need a live session.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrSessionActive is returned when logging in while a session exists.
	ErrSessionActive = errors.New("session already active")

	// ErrStaleSession is returned when a logout superseded the operation.
	ErrStaleSession = errors.New("session superseded by logout")

	// ErrReservedID marks a backend record using the broadcast id.
	ErrReservedID = errors.New("reserved id")

	// ErrMalformedRecord marks a record missing a required field.
	ErrMalformedRecord = errors.New("malformed record")
)

// AuthError reports a failed authentication attempt.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports a failed one-shot read of a collection.
type FetchError struct {
	Collection string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Collection, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SubscriptionError reports an error event on a live subscription or a
// failure to open one. Key is the registry key of the subscription.
type SubscriptionError struct {
	Key string
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Key, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// WriteError reports a rejected write.
type WriteError struct {
	Collection string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Collection, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ValidationError reports bad caller input. Nothing is sent when it occurs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
