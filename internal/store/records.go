// ABOUTME: Record persistence backing the in-process hub
// ABOUTME: Upserts JSON bodies and reloads them in first-insert order

package store

import (
	"context"
	"fmt"
	"time"
)

// SaveRecord inserts or replaces the body of (collection, id). A replaced
// record keeps its original position.
func (s *SQLiteStore) SaveRecord(ctx context.Context, collection, id string, body []byte) error {
	if collection == "" || id == "" {
		return fmt.Errorf("saving record: collection and id are required")
	}
	now := formatTime(time.Now())
	query := `
		INSERT INTO records (collection, id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, collection, id, string(body), now, now); err != nil {
		return fmt.Errorf("saving record %s/%s: %w", collection, id, err)
	}
	return nil
}

// LoadRecords returns every body in collection in first-insert order.
func (s *SQLiteStore) LoadRecords(ctx context.Context, collection string) ([][]byte, error) {
	query := `
		SELECT body FROM records
		WHERE collection = ?
		ORDER BY rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var bodies [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		bodies = append(bodies, []byte(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return bodies, nil
}

// Collections lists the collections that hold at least one record.
func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM records ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("querying collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
