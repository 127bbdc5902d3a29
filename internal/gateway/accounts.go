// ABOUTME: Account registration and password authentication for the gateway
// ABOUTME: Signup creates both the login account and the public users record

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/query"
	"github.com/2389/coven-chat/internal/store"
)

// Registrar creates accounts and checks passwords. The users collection is
// written through records so live user lists see new signups.
type Registrar struct {
	accounts store.AccountStore
	records  query.Client
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistrar creates a Registrar.
func NewRegistrar(accounts store.AccountStore, records query.Client, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		accounts: accounts,
		records:  records,
		now:      time.Now,
		logger:   logger.With("component", "registrar"),
	}
}

// Register validates the input, stores the account and publishes the user.
// Returns a *chat.ValidationError for bad input and store.ErrEmailExists for
// a taken email.
func (r *Registrar) Register(ctx context.Context, email, name, password string) (*store.Account, error) {
	email = store.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email[:strings.IndexByte(email, '@')]
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, &chat.ValidationError{Field: "password", Reason: err.Error()}
	}

	account := &store.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    r.now().UTC(),
	}
	if err := r.accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	user := chat.User{ID: account.ID, Name: account.Name, Email: account.Email}
	if _, err := r.records.Write(ctx, query.CollectionUsers, user.Record()); err != nil {
		return nil, fmt.Errorf("publishing user %s: %w", account.ID, err)
	}

	r.logger.Info("account registered", "user_id", account.ID, "email", email)
	return account, nil
}

// Authenticate returns the account for email when password matches.
// Unknown emails and wrong passwords both yield auth.ErrBadCredentials.
func (r *Registrar) Authenticate(ctx context.Context, email, password string) (*store.Account, error) {
	account, err := r.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, auth.CheckPassword("", password)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	if err := auth.CheckPassword(account.PasswordHash, password); err != nil {
		return nil, err
	}

	if err := r.accounts.TouchAccountLogin(ctx, account.ID, r.now().UTC()); err != nil {
		r.logger.Warn("failed to record login", "user_id", account.ID, "error", err)
	}
	return account, nil
}

func validateEmail(email string) error {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\n") {
		return &chat.ValidationError{Field: "email", Reason: "must look like name@host"}
	}
	return nil
}
