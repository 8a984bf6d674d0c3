// Package docstore provides transactional access to the file-resident JSON
// documents that hold shared state (inbox, warm aggregate, logs, scheduler
// state).
//
// Every mutation is a read-modify-write performed while holding an advisory
// single-writer lock scoped to the document's backing file, and every write
// goes through a temp file, fsync and rename so readers never observe a
// partial document. Two writers on different documents proceed in parallel.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/tierlearn/internal/logging"
)

// ErrLockTimeout is returned when the document lock cannot be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for document lock")

// ErrMalformed is returned when a state document exists but cannot be decoded.
// Malformed documents are never silently reset.
var ErrMalformed = errors.New("malformed state document")

// Store roots a set of named documents in one directory.
type Store struct {
	root    string
	lockDir string
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Store rooted at dir. A zero timeout waits up to 10 seconds.
func New(dir string, timeout time.Duration, logger *zap.Logger) *Store {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger = logging.OrNop(logger)
	return &Store{root: dir, timeout: timeout, logger: logger}
}

// Root returns the directory the store is rooted at.
func (s *Store) Root() string {
	return s.root
}

// SetLockDir places lock files under dir instead of beside the documents.
func (s *Store) SetLockDir(dir string) {
	s.lockDir = dir
}

// LockPath returns the lock file guarding the named aggregate.
func (s *Store) LockPath(name string) string {
	if s.lockDir != "" {
		return filepath.Join(s.lockDir, name+".lock")
	}
	return s.Path(name) + ".lock"
}

// Path returns the absolute path of a named document or directory aggregate.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// WithLock runs fn while holding the exclusive lock for the named aggregate.
// The lock lives at LockPath(name) and is released when fn returns,
// including on panic.
func (s *Store) WithLock(ctx context.Context, name string, fn func() error) error {
	lockPath := s.LockPath(name)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	start := time.Now()
	if err := acquire(ctx, f, s.timeout); err != nil {
		return fmt.Errorf("lock %s: %w", name, err)
	}
	defer release(f)

	if waited := time.Since(start); waited > 100*time.Millisecond {
		s.logger.Debug("acquired document lock after wait",
			zap.String("document", name),
			zap.Duration("waited", waited),
		)
	}

	return fn()
}

// Read decodes the named document. A missing document yields a zero value.
func Read[T any](s *Store, name string) (*T, error) {
	doc := new(T)
	if _, err := ReadJSON(s.Path(name), doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Update performs one locked read-modify-write of the named document.
// If fn returns an error nothing is written.
func Update[T any](ctx context.Context, s *Store, name string, fn func(doc *T) error) error {
	return s.WithLock(ctx, name, func() error {
		doc, err := Read[T](s, name)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		return WriteJSON(s.Path(name), doc)
	})
}

// ReadJSON decodes path into v and reports whether the file existed.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read state document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return true, nil
}

// WriteJSON atomically replaces path with the indented JSON encoding of v.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0644)
}

// WriteFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	cleanup = false

	// Best effort; the rename already happened.
	_ = syncDir(dir)
	return nil
}

// CheckWritable ensures each directory exists and can be written to.
// The returned error names the offending path.
func CheckWritable(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("state directory %s: %w", dir, err)
		}
		tmp, err := os.CreateTemp(dir, ".writable-*")
		if err != nil {
			return fmt.Errorf("state directory %s is not writable: %w", dir, err)
		}
		name := tmp.Name()
		tmp.Close()
		os.Remove(name)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
