package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const lastSyncKey = "last_sync_time"

// SetLastSyncTime records when a drain last completed.
func (db *DB) SetLastSyncTime(ctx context.Context, at time.Time) error {
	query := `INSERT INTO sync_meta (key, value) VALUES (?, ?)
              ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := db.ExecContext(ctx, query, lastSyncKey, at.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("set last sync time: %w", err)
	}
	return nil
}

// GetLastSyncTime returns the last completed drain time, or nil if no drain
// has ever completed.
func (db *DB) GetLastSyncTime(ctx context.Context) (*time.Time, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, lastSyncKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last sync time: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("parse last sync time: %w", err)
	}
	return &at, nil
}
