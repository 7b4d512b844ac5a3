package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps blobs in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS blobs (
		name TEXT PRIMARY KEY,
		value BLOB
	);`
	if _, err := db.Exec(query); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init blobs table: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`)
	if err != nil {
		slog.Warn("Failed to set sqlite pragmas", "path", path, "error", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Write replaces the blob name with data.
func (s *SQLiteStore) Write(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO blobs (name, value) VALUES (?, ?)", name, data)
	return err
}

// WriteBatch writes several blobs in one transaction.
func (s *SQLiteStore) WriteBatch(blobs map[string][]byte) error {
	if len(blobs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO blobs (name, value) VALUES (?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for name, data := range blobs {
		if _, err := stmt.Exec(name, data); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Read returns the contents of blob name.
func (s *SQLiteStore) Read(name string) ([]byte, error) {
	var val []byte
	err := s.db.QueryRow("SELECT value FROM blobs WHERE name = ?", name).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Exists reports whether blob name is present.
func (s *SQLiteStore) Exists(name string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(1) FROM blobs WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
