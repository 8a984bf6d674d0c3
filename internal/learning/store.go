package learning

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// GlobalStore is the SQLite-backed Global learnings index. Applied learnings
// are indexed here so novelty checks can see what the installation already
// knows, independent of which tier the record currently sits in.
type GlobalStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// GlobalDBPath returns the index location under a state directory.
func GlobalDBPath(stateDir string) string {
	return filepath.Join(stateDir, "global", "learnings.db")
}

// NewGlobalStore opens the index at dbPath, creating parent directories.
// Call Migrate before use.
func NewGlobalStore(dbPath string) (*GlobalStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Another process may hold the write lock during a scheduled run.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &GlobalStore{db: conn, dbPath: dbPath}, nil
}

// OpenGlobalStore opens and migrates the index.
func OpenGlobalStore(dbPath string) (*GlobalStore, error) {
	store, err := NewGlobalStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate global index: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *GlobalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *GlobalStore) Path() string {
	return s.dbPath
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullString converts a string to sql.NullString, treating empty as null.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
