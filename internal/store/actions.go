package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotsync/internal/models"
)

// AppendAction adds one entry to the offline action log.
func (db *DB) AppendAction(ctx context.Context, action *models.OfflineAction) error {
	query := `INSERT INTO offline_actions (id, type, entity, entity_id, payload, created_at, synced, synced_at, last_error)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		action.ID,
		action.Type,
		action.Entity,
		action.EntityID,
		action.Payload,
		action.Timestamp,
		action.Synced,
		action.SyncedAt,
		action.LastError,
	)
	if err != nil {
		return fmt.Errorf("append offline action %s: %w", action.ID, err)
	}
	return nil
}

// GetUnsyncedActions returns unsynced actions in creation order. Rowid
// ordering reflects insertion order even when timestamps collide.
func (db *DB) GetUnsyncedActions(ctx context.Context) ([]models.OfflineAction, error) {
	query := `SELECT id, type, entity, entity_id, payload, created_at, synced, synced_at, last_error
              FROM offline_actions WHERE synced = 0 ORDER BY rowid ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get unsynced actions: %w", err)
	}
	defer rows.Close()

	var actions []models.OfflineAction
	for rows.Next() {
		var action models.OfflineAction
		err := rows.Scan(
			&action.ID,
			&action.Type,
			&action.Entity,
			&action.EntityID,
			&action.Payload,
			&action.Timestamp,
			&action.Synced,
			&action.SyncedAt,
			&action.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan offline action: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// GetAction loads a single log entry by id.
func (db *DB) GetAction(ctx context.Context, id string) (*models.OfflineAction, error) {
	query := `SELECT id, type, entity, entity_id, payload, created_at, synced, synced_at, last_error
              FROM offline_actions WHERE id = ?`

	var action models.OfflineAction
	err := db.QueryRowContext(ctx, query, id).Scan(
		&action.ID,
		&action.Type,
		&action.Entity,
		&action.EntityID,
		&action.Payload,
		&action.Timestamp,
		&action.Synced,
		&action.SyncedAt,
		&action.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offline action %s: %w", id, err)
	}
	return &action, nil
}

// MarkActionSynced flags an action as replayed. The entry stays in the log
// until the retention cleanup removes it.
func (db *DB) MarkActionSynced(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE offline_actions SET synced = 1, synced_at = ?, last_error = NULL WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("mark action synced %s: %w", id, err)
	}
	return nil
}

// MarkActionFailed records the last replay error; the action stays queued.
func (db *DB) MarkActionFailed(ctx context.Context, id, errMsg string) error {
	query := `UPDATE offline_actions SET last_error = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, errMsg, id); err != nil {
		return fmt.Errorf("mark action failed %s: %w", id, err)
	}
	return nil
}

// PurgeSyncedActions removes synced actions older than the cutoff and
// returns how many were deleted. Unsynced actions are retained regardless
// of age.
func (db *DB) PurgeSyncedActions(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM offline_actions WHERE synced = 1 AND created_at < ?`
	result, err := db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge synced actions: %w", err)
	}
	return result.RowsAffected()
}

// CountUnsyncedActions reports the pending backlog size.
func (db *DB) CountUnsyncedActions(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_actions WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unsynced actions: %w", err)
	}
	return count, nil
}
