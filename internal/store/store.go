// Package store implements the append-only version store backing pagespin's
// revision history. Records live in a named collection inside a SQLite
// database; the collection name is versioned, so a record-schema change is
// handled by bumping the name and starting a clean collection rather than
// migrating old rows.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pagespin/internal/logging"
	"pagespin/internal/types"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"
)

// VersionsCollection is the fixed name of the backing collection. Changing
// it is the designated migration mechanism: a new name forces a clean
// collection instead of migrating old records.
const VersionsCollection = "versions2"

// Editor attributes a version to its author.
type Editor string

const (
	EditorUser       Editor = "user"
	EditorAIWriter   Editor = "ai-writer"
	EditorAIReviewer Editor = "ai-reviewer"
)

// Version is one immutable snapshot of content in the lineage log.
type Version struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	ParentID  string    `json:"parent_id,omitempty"`
	Editor    Editor    `json:"editor"`
	Timestamp time.Time `json:"timestamp"`
}

// Store owns the SQLite connection and the memoized collection id.
type Store struct {
	db     *sql.DB
	dbPath string

	mu           sync.Mutex
	collectionID string // memoized for the process lifetime; "" when unresolved
	sf           singleflight.Group
}

// New opens (or creates) the store database at path and ensures the schema
// exists. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Get(logging.CategoryStore).Debug("set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Get(logging.CategoryStore).Debug("set journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("version store ready at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS versions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		collection_id TEXT NOT NULL REFERENCES collections(id),
		content TEXT NOT NULL,
		parent_id TEXT,
		editor TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_versions_collection
		ON versions(collection_id, timestamp, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return &types.StoreError{Op: "bootstrap", Err: fmt.Errorf("create schema: %w", err)}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureCollection makes sure the backing collection exists. Idempotent:
// listing by name first, creating only when absent, and tolerating a lost
// creation race by re-reading the winner's row.
func (s *Store) EnsureCollection(ctx context.Context) error {
	_, err := s.resolve(ctx)
	return err
}

// ResolveCollectionID returns the collection's identifier, resolving and
// bootstrapping it on first use. The id is cached for the process lifetime
// and invalidated only by DeleteCollection.
func (s *Store) ResolveCollectionID(ctx context.Context) (string, error) {
	return s.resolve(ctx)
}

func (s *Store) resolve(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.collectionID != "" {
		id := s.collectionID
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	// Concurrent bootstrap attempts collapse into a single lookup/create.
	v, err, _ := s.sf.Do("resolve", func() (interface{}, error) {
		id, err := s.lookupOrCreate(ctx)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.collectionID = id
		s.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Store) lookupOrCreate(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM collections WHERE name = ?`, VersionsCollection).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", &types.StoreError{Op: "bootstrap", Err: err}
	}

	id = uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (id, name, created_at) VALUES (?, ?, ?)`,
		id, VersionsCollection, time.Now().UnixMilli())
	if err != nil {
		// Another writer may have created it between our read and write;
		// the UNIQUE constraint on name makes the create idempotent.
		if strings.Contains(err.Error(), "UNIQUE") {
			var winner string
			if rerr := s.db.QueryRowContext(ctx,
				`SELECT id FROM collections WHERE name = ?`, VersionsCollection).Scan(&winner); rerr == nil {
				return winner, nil
			}
		}
		return "", &types.StoreError{Op: "bootstrap", Err: err}
	}
	logging.Store("created collection %q (%s)", VersionsCollection, id)
	return id, nil
}

// DeleteCollection removes the backing collection and its versions, and
// clears the memoized id. Used only for explicit schema resets.
func (s *Store) DeleteCollection(ctx context.Context) error {
	s.mu.Lock()
	s.collectionID = ""
	s.mu.Unlock()

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM collections WHERE name = ?`, VersionsCollection).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return &types.StoreError{Op: "delete", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StoreError{Op: "delete", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE collection_id = ?`, id); err != nil {
		return &types.StoreError{Op: "delete", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id); err != nil {
		return &types.StoreError{Op: "delete", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &types.StoreError{Op: "delete", Err: err}
	}
	logging.Store("deleted collection %q (%s)", VersionsCollection, id)
	return nil
}
