package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"slotsync/internal/models"
)

// SaveAvailability upserts a snapshot for its (provider, date) key.
func (db *DB) SaveAvailability(ctx context.Context, availability *models.ProviderAvailability) error {
	snapshot, err := json.Marshal(availability)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	key := availability.Key()
	query := `INSERT INTO availability (provider_id, date, snapshot, last_updated)
              VALUES (?, ?, ?, ?)
              ON CONFLICT(provider_id, date) DO UPDATE SET snapshot = excluded.snapshot, last_updated = excluded.last_updated`
	_, err = db.ExecContext(ctx, query, key.ProviderID, key.Date, string(snapshot), availability.LastUpdated)
	if err != nil {
		return fmt.Errorf("save availability %s: %w", key, err)
	}
	return nil
}

// GetAvailability loads one snapshot, or ErrNotFound.
func (db *DB) GetAvailability(ctx context.Context, key models.AvailabilityKey) (*models.ProviderAvailability, error) {
	query := `SELECT snapshot FROM availability WHERE provider_id = ? AND date = ?`

	var snapshot string
	err := db.QueryRowContext(ctx, query, key.ProviderID, key.Date).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get availability %s: %w", key, err)
	}

	var availability models.ProviderAvailability
	if err := json.Unmarshal([]byte(snapshot), &availability); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &availability, nil
}

// ListAvailability returns every persisted snapshot. Used once at startup
// to rebuild the in-memory cache.
func (db *DB) ListAvailability(ctx context.Context) ([]*models.ProviderAvailability, error) {
	rows, err := db.QueryContext(ctx, `SELECT snapshot FROM availability`)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.ProviderAvailability
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var availability models.ProviderAvailability
		if err := json.Unmarshal([]byte(raw), &availability); err != nil {
			db.logger.Warn().Err(err).Msg("Skipping undecodable availability snapshot")
			continue
		}
		snapshots = append(snapshots, &availability)
	}
	return snapshots, rows.Err()
}

// DeleteAvailability removes one snapshot; missing rows are not an error.
func (db *DB) DeleteAvailability(ctx context.Context, key models.AvailabilityKey) error {
	_, err := db.ExecContext(ctx, `DELETE FROM availability WHERE provider_id = ? AND date = ?`, key.ProviderID, key.Date)
	if err != nil {
		return fmt.Errorf("delete availability %s: %w", key, err)
	}
	return nil
}

// ClearAvailability drops all persisted snapshots.
func (db *DB) ClearAvailability(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM availability`); err != nil {
		return fmt.Errorf("clear availability: %w", err)
	}
	return nil
}
