// ABOUTME: Collaborator interfaces the session controller depends on
// ABOUTME: Authentication, credential persistence, navigation and user-facing notifications

package session

import (
	"context"

	"github.com/2389/coven-chat/internal/chat"
)

// Credentials identify a user at login.
type Credentials struct {
	Email    string
	Password string
}

// Authenticator exchanges credentials for a session.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (*chat.Session, error)
}

// TokenSetter is implemented by query clients that attach the session token
// to their requests. The controller sets it after login and clears it on logout.
type TokenSetter interface {
	SetToken(token string)
}

// CredentialStore persists the current session across restarts.
type CredentialStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// Route is a navigation target.
type Route string

const (
	RouteRoot  Route = "/"
	RouteLogin Route = "/login"
)

// Navigator moves the presentation layer between screens.
type Navigator interface {
	Navigate(route Route)
}

// Notification is a user-visible failure report.
type Notification struct {
	Message string
	Err     error
}

// Notifier surfaces failures to the user. Calls come from the controller's
// dispatcher, one at a time.
type Notifier interface {
	Notify(n Notification)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(Route)

func (f NavigatorFunc) Navigate(r Route) { f(r) }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNavigator struct{}

func (nopNavigator) Navigate(Route) {}
