// Package cache implements Weaver's Shadow Cache: a SQLite-backed index
// of vault files, their frontmatter-derived tags, and their link graph.
package cache

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"database/sql"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the raw *sql.DB and the hand-written query methods,
// following the teacher's Store/Queries split.
type Store struct {
	db      *sql.DB
	queries *Queries
}

// Open opens or creates the shadow-cache database at dbPath. A schema
// mismatch (spec.md §4.2 "fails open and the caller must migrate") is
// detected by the same error-string sniffing the teacher uses, and
// resolved by recreating the database file rather than attempting an
// in-place migration.
func Open(dbPath string) (*Store, error) {
	store, err := openDB(dbPath)
	if err != nil {
		if isSchemaMismatch(err) {
			if removeErr := os.Remove(dbPath); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("remove incompatible cache: %w", removeErr)
			}
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			return openDB(dbPath)
		}
		return nil, err
	}
	return store, nil
}

func isSchemaMismatch(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "SQL logic error")
}

func openDB(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	escapedPath := strings.ReplaceAll(dbPath, " ", "%20")
	connStr := "file:" + escapedPath + "?_time_format=sqlite"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, queries: &Queries{db: db}}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Queries() *Queries {
	return s.queries
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, matching spec.md §9's
// "withTransaction(fn) as its only write path": on any error the
// transaction rolls back, guaranteeing derived rows (tags, links) and
// their parent row never commit in a partially-applied state.
func (s *Store) WithTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.withTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// Now returns the current time with monotonic reading stripped, so
// timestamps round-trip cleanly through SQLite storage and comparison.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}
