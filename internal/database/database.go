package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable pending-operation queue backed by sqlite.
type Store struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewStore(path string, logger *zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	s := &Store{db: db, logger: logger}

	// A record stuck in_progress means the previous process died mid-run;
	// it must become retryable again, never a permanent terminal state.
	reclaimed, err := s.ReclaimInProgressOperations(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim in-progress operations: %w", err)
	}
	if reclaimed > 0 {
		logger.Warn().Int64("count", reclaimed).Msg("reclaimed in-progress operations from previous run")
	}

	logger.Info().Str("path", path).Msg("operation store initialized")
	return s, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pending_operations (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            completed_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_operations_status ON pending_operations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_created_at ON pending_operations(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_completed_at ON pending_operations(completed_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}
