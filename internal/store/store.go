package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// DB is the durable store. It is the single source of truth for anything
// that must survive a restart; in-memory caches are rebuilt from it.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// NewDB opens (creating if needed) the sqlite database at path and ensures
// the schema exists. Use ":memory:" in tests.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Durable store initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS availability (
            provider_id TEXT NOT NULL,
            date TEXT NOT NULL,
            snapshot TEXT NOT NULL,
            last_updated DATETIME NOT NULL,
            PRIMARY KEY (provider_id, date)
        )`,
		`CREATE TABLE IF NOT EXISTS booking_requests (
            id TEXT PRIMARY KEY,
            customer_id TEXT NOT NULL,
            provider_id TEXT NOT NULL,
            time_slot_id TEXT NOT NULL,
            service_id TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            created_at DATETIME NOT NULL,
            expires_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS offline_actions (
            id TEXT PRIMARY KEY,
            type TEXT NOT NULL,
            entity TEXT NOT NULL,
            entity_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            synced BOOLEAN NOT NULL DEFAULT 0,
            synced_at DATETIME,
            last_error TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS sync_meta (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_availability_provider ON availability(provider_id)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_requests_status ON booking_requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_requests_expires ON booking_requests(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_actions_synced ON offline_actions(synced)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_actions_entity ON offline_actions(entity, entity_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
