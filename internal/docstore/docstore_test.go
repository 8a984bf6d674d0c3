package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type counterDoc struct {
	Count int      `json:"count"`
	Seen  []string `json:"seen,omitempty"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), 30*time.Second, nil)
}

func TestRead_MissingIsZero(t *testing.T) {
	s := newTestStore(t)

	doc, err := Read[counterDoc](s, "counter.json")
	require.NoError(t, err)
	require.Equal(t, 0, doc.Count)
	require.Nil(t, doc.Seen)
}

func TestRead_Malformed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path("counter.json"), []byte("{not json"), 0644))

	_, err := Read[counterDoc](s, "counter.json")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformed))
	require.Contains(t, err.Error(), "counter.json")

	// The malformed file is left in place.
	data, err := os.ReadFile(s.Path("counter.json"))
	require.NoError(t, err)
	require.Equal(t, "{not json", string(data))
}

func TestUpdate_Persists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := Update(ctx, s, "counter.json", func(doc *counterDoc) error {
			doc.Count++
			return nil
		})
		require.NoError(t, err)
	}

	doc, err := Read[counterDoc](s, "counter.json")
	require.NoError(t, err)
	require.Equal(t, 3, doc.Count)
}

func TestUpdate_ErrorSkipsWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, Update(ctx, s, "counter.json", func(doc *counterDoc) error {
		doc.Count = 7
		return nil
	}))

	err := Update(ctx, s, "counter.json", func(doc *counterDoc) error {
		doc.Count = 100
		return boom
	})
	require.ErrorIs(t, err, boom)

	doc, err := Read[counterDoc](s, "counter.json")
	require.NoError(t, err)
	require.Equal(t, 7, doc.Count)
}

func TestUpdate_ConcurrentWritersSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Separate Store values open separate lock descriptors, like separate processes.
			w := New(s.Root(), 30*time.Second, nil)
			errs <- Update(ctx, w, "counter.json", func(doc *counterDoc) error {
				doc.Count++
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := Read[counterDoc](s, "counter.json")
	require.NoError(t, err)
	require.Equal(t, writers, doc.Count)
}

func TestWithLock_Timeout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	impatient := New(s.Root(), 50*time.Millisecond, nil)

	err := s.WithLock(ctx, "warm.json", func() error {
		return impatient.WithLock(ctx, "warm.json", func() error {
			t.Fatal("second holder must not run")
			return nil
		})
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrLockTimeout))
}

func TestWithLock_DifferentDocumentsDoNotBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	impatient := New(s.Root(), 50*time.Millisecond, nil)

	ran := false
	err := s.WithLock(ctx, "warm.json", func() error {
		return impatient.WithLock(ctx, "changelog.json", func() error {
			ran = true
			return nil
		})
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestWithLock_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	other := New(s.Root(), 30*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithLock(context.Background(), "inbox", func() error {
		cancel()
		return other.WithLock(ctx, "inbox", func() error { return nil })
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteFileAtomic_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CheckWritable(filepath.Join(dir, "a"), filepath.Join(dir, "b", "c")))

	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	err := CheckWritable(filepath.Join(blocker, "sub"))
	require.Error(t, err)
	require.Contains(t, err.Error(), blocker)
}

func TestWithLock_LockDir(t *testing.T) {
	s := newTestStore(t)
	locks := t.TempDir()
	s.SetLockDir(locks)

	err := s.WithLock(context.Background(), "rules/skill-rules.json", func() error { return nil })
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(locks, "rules", "skill-rules.json.lock"))
	_, err = os.Stat(s.Path("rules/skill-rules.json.lock"))
	require.True(t, errors.Is(err, os.ErrNotExist), "lock left beside the document: %v", err)
}
