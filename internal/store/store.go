// ABOUTME: Store interfaces and data types for coven-chat persistence
// ABOUTME: Defines record persistence for the hub and login accounts for the gateway

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when creating an account with an email already in use
var ErrEmailExists = errors.New("email already registered")

// Account is a login identity. Its ID is also the user's id in the users collection.
type Account struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string // bcrypt hash
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// RecordStore persists hub records as JSON bodies keyed by collection and id.
// Records keep the position of their first insert.
type RecordStore interface {
	SaveRecord(ctx context.Context, collection, id string, body []byte) error
	LoadRecords(ctx context.Context, collection string) ([][]byte, error)
	Collections(ctx context.Context) ([]string, error)
}

// AccountStore persists login accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	TouchAccountLogin(ctx context.Context, id string, at time.Time) error
}

// Store is everything the gateway persists.
type Store interface {
	RecordStore
	AccountStore
	Close() error
}
