package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dgnsrekt/servalsync/internal/feed"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// SQLite keeps one token row per collection.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path, creating its directory,
// and applies the schema. Use ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: sqlite has a single writer and ":memory:" is per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// LoadToken returns the stored token for collection.
func (s *SQLite) LoadToken(ctx context.Context, collection string) (feed.Token, bool, error) {
	var tok string
	err := s.db.QueryRowContext(ctx,
		"SELECT token FROM tokens WHERE collection = ?", collection,
	).Scan(&tok)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load token for %s: %w", collection, err)
	}
	return feed.Token(tok), true, nil
}

// SaveToken stores token for collection. An empty token deletes the row.
func (s *SQLite) SaveToken(ctx context.Context, collection string, token feed.Token) error {
	if token == "" {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE collection = ?", collection); err != nil {
			return fmt.Errorf("clear token for %s: %w", collection, err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (collection, token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		collection, string(token), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save token for %s: %w", collection, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
