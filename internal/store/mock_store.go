// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	order    map[string][]string          // collection -> ids in first-insert order
	records  map[string]map[string][]byte // collection -> id -> body
	accounts map[string]*Account          // keyed by account ID
	byEmail  map[string]string            // normalized email -> account ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		order:    make(map[string][]string),
		records:  make(map[string]map[string][]byte),
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
	}
}

// SaveRecord stores a copy of body.
func (m *MockStore) SaveRecord(ctx context.Context, collection, id string, body []byte) error {
	if collection == "" || id == "" {
		return fmt.Errorf("saving record: collection and id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.records[collection]
	if !ok {
		coll = make(map[string][]byte)
		m.records[collection] = coll
	}
	if _, exists := coll[id]; !exists {
		m.order[collection] = append(m.order[collection], id)
	}
	coll[id] = append([]byte(nil), body...)
	return nil
}

// LoadRecords returns copies of the bodies in first-insert order.
func (m *MockStore) LoadRecords(ctx context.Context, collection string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out [][]byte
	for _, id := range m.order[collection] {
		out = append(out, append([]byte(nil), m.records[collection][id]...))
	}
	return out, nil
}

// Collections lists non-empty collections.
func (m *MockStore) Collections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.order))
	for name := range m.order {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateAccount stores a copy of account.
func (m *MockStore) CreateAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := NormalizeEmail(account.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrEmailExists
	}

	// Make a copy to avoid external modification
	a := *account
	a.Email = email
	m.accounts[a.ID] = &a
	m.byEmail[email] = a.ID
	return nil
}

// GetAccount retrieves an account by ID.
func (m *MockStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// GetAccountByEmail retrieves an account by email.
func (m *MockStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetAccount(ctx, id)
}

// ListAccounts returns every account ordered by creation time.
func (m *MockStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// TouchAccountLogin records a successful login.
func (m *MockStore) TouchAccountLogin(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	a.LastLoginAt = &t
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

var _ Store = (*MockStore)(nil)
