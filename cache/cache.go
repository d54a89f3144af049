// Package cache provides a SQLite-backed store of decompile results,
// keyed by the SHA-256 of the source text. Repeated decompiles of
// identical source skip the pipeline entirely.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates no cached result exists for the source.
var ErrNotFound = errors.New("cache: no entry for source")

// Store persists decompile results in a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) a cache database at the given
// path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS decompiles (
		hash       TEXT PRIMARY KEY,
		source     TEXT NOT NULL,
		steps      TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key returns the cache key for a source string.
func Key(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached steps JSON for the source, or ErrNotFound.
func (s *Store) Get(source string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var steps string
	err := s.db.QueryRow(
		"SELECT steps FROM decompiles WHERE hash = ?", Key(source),
	).Scan(&steps)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cache: reading entry: %w", err)
	}
	return steps, nil
}

// Put stores the steps JSON for the source, replacing any previous
// entry.
func (s *Store) Put(source, steps string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO decompiles (hash, source, steps, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET steps = excluded.steps, created_at = excluded.created_at`,
		Key(source), source, steps, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache: writing entry: %w", err)
	}
	return nil
}

// Len returns the number of cached entries.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM decompiles").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: counting entries: %w", err)
	}
	return n, nil
}
