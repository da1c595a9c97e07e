// Package db provides SQLite persistence for bar history and sync events.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/tOgg1/scrollsync/internal/logging"
	_ "modernc.org/sqlite"
)

// Config contains database settings.
type Config struct {
	// Path is the SQLite file. ":memory:" opens a private in-memory database.
	Path string

	// BusyTimeoutMs is how long a writer waits on a locked database.
	// Default: 5000
	BusyTimeoutMs int
}

// DB wraps a SQLite handle.
type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens the database at cfg.Path, creating parent directories.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = 5000
	}

	var dsn string
	if cfg.Path == ":memory:" {
		// One connection, otherwise every pooled connection sees its own
		// empty database.
		dsn = fmt.Sprintf("file::memory:?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)", cfg.BusyTimeoutMs)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", cfg.Path, cfg.BusyTimeoutMs)
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{
		DB:     sqlDB,
		path:   cfg.Path,
		logger: logging.Component("db"),
	}, nil
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(Config{Path: ":memory:"})
}

// Path returns the database location.
func (db *DB) Path() string { return db.path }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bars (
		instrument TEXT NOT NULL,
		granularity TEXT NOT NULL,
		open_time INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (instrument, granularity, open_time)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_events (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		type TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		granularity TEXT NOT NULL,
		view_kind TEXT NOT NULL,
		target TEXT,
		metadata_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS sync_events_timestamp_idx ON sync_events(timestamp, id)`,
	`CREATE INDEX IF NOT EXISTS sync_events_type_idx ON sync_events(type)`,
}

// MigrateUp creates any missing tables and indexes and returns the number of
// statements executed.
func (db *DB) MigrateUp(ctx context.Context) (int, error) {
	for i, statement := range schema {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return i, fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	db.logger.Debug().Str("path", db.path).Int("statements", len(schema)).Msg("schema ready")
	return len(schema), nil
}

// Transaction runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
