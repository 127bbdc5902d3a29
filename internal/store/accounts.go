// ABOUTME: Login account persistence for signup and password login
// ABOUTME: Emails are unique and compared case-insensitively

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount inserts a new account. Returns ErrEmailExists when the email
// is already registered.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (id, email, name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		NormalizeEmail(account.Email),
		account.Name,
		account.PasswordHash,
		formatTime(account.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Info("created account", "id", account.ID, "email", NormalizeEmail(account.Email))
	return nil
}

// GetAccount retrieves an account by id.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	return s.getAccount(ctx, `WHERE id = ?`, id)
}

// GetAccountByEmail retrieves an account by email.
func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.getAccount(ctx, `WHERE email = ?`, NormalizeEmail(email))
}

func (s *SQLiteStore) getAccount(ctx context.Context, where string, arg any) (*Account, error) {
	query := `
		SELECT id, email, name, password_hash, created_at, last_login_at
		FROM accounts
	` + where

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return account, nil
}

// ListAccounts returns every account ordered by creation time.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	query := `
		SELECT id, email, name, password_hash, created_at, last_login_at
		FROM accounts
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// TouchAccountLogin records a successful login.
func (s *SQLiteStore) TouchAccountLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_login_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating account login: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var account Account
	var createdAt string
	var lastLogin sql.NullString
	if err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Name,
		&account.PasswordHash,
		&createdAt,
		&lastLogin,
	); err != nil {
		return nil, err
	}

	var err error
	account.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastLogin.Valid {
		t, err := parseTime(lastLogin.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_login_at: %w", err)
		}
		account.LastLoginAt = &t
	}
	return &account, nil
}
