package learning

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/tierlearn/internal/docstore"
)

func writeIncoming(t *testing.T, m *Manager, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(m.IncomingDir(), name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestDetect(t *testing.T) {
	m, _ := newTestManager(t)

	writeIncoming(t, m, "001.json", `{"id":"pat_001","type":"code_pattern","description":"Wrap errors with context"}`)
	writeIncoming(t, m, "002.json", `[
		{"id":"pat_002","type":"code_pattern","description":"Close response bodies"},
		{"id":"pat_003","type":"code_pattern","description":"wrap errors with context"},
		{"id":"","type":"code_pattern","description":"no id"}
	]`)
	writeIncoming(t, m, "003.json", `{not json`)
	writeIncoming(t, m, "notes.txt", `ignored`)

	res, err := m.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if res.Files != 3 {
		t.Errorf("Files = %d, want 3", res.Files)
	}
	if res.Submitted != 2 || res.Duplicates != 1 {
		t.Errorf("Submitted = %d, Duplicates = %d, want 2 and 1", res.Submitted, res.Duplicates)
	}
	if res.Failed != 2 || len(res.Problems) != 2 {
		t.Errorf("Failed = %d, Problems = %v", res.Failed, res.Problems)
	}

	rec, err := m.Inbox().Get("pat_001")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Frequency != 2 {
		t.Errorf("pat_001 frequency = %d, want 2", rec.Frequency)
	}

	if got := countFiles(t, filepath.Join(m.IncomingDir(), "processed")); got != 2 {
		t.Errorf("processed files = %d, want 2", got)
	}
	if got := countFiles(t, filepath.Join(m.IncomingDir(), "failed")); got != 1 {
		t.Errorf("failed files = %d, want 1", got)
	}
	if _, err := os.Stat(filepath.Join(m.IncomingDir(), "notes.txt")); err != nil {
		t.Errorf("non-json file was touched: %v", err)
	}

	// A second pass finds nothing new.
	res, err = m.Detect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Files != 0 {
		t.Errorf("second pass Files = %d, want 0", res.Files)
	}
}

func TestDetect_RerunAfterFailureCountsOnce(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	// An unreadable Cold entry makes the second submission fail midway.
	quarterDir := filepath.Join(m.Cold().Dir(), "2026-Q1")
	if err := os.MkdirAll(quarterDir, 0755); err != nil {
		t.Fatal(err)
	}
	broken := filepath.Join(quarterDir, "pat_002.json")
	if err := os.WriteFile(broken, []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	writeIncoming(t, m, "001.json", `[
		{"id":"pat_001","type":"code_pattern","description":"Wrap errors with context"},
		{"id":"pat_002","type":"code_pattern","description":"Close response bodies"},
		{"id":"pat_003","type":"code_pattern","description":"Use errgroup for fan-out"}
	]`)

	if _, err := m.Detect(ctx); !errors.Is(err, docstore.ErrMalformed) {
		t.Fatalf("Detect() error = %v, want ErrMalformed", err)
	}
	left, err := readSubmissions(filepath.Join(m.IncomingDir(), "001.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 2 || left[0].ID != "pat_002" || left[1].ID != "pat_003" {
		t.Errorf("remaining submissions = %d, want pat_002 and pat_003", len(left))
	}

	if err := os.Remove(broken); err != nil {
		t.Fatal(err)
	}
	res, err := m.Detect(ctx)
	if err != nil {
		t.Fatalf("rerun Detect() error = %v", err)
	}
	if res.Submitted != 2 || res.Duplicates != 0 {
		t.Errorf("rerun Submitted = %d, Duplicates = %d, want 2 and 0", res.Submitted, res.Duplicates)
	}
	rec, err := m.Inbox().Get("pat_001")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Frequency != 1 {
		t.Errorf("pat_001 frequency = %d, want 1", rec.Frequency)
	}
	if got := countFiles(t, filepath.Join(m.IncomingDir(), "processed")); got != 1 {
		t.Errorf("processed files = %d, want 1", got)
	}
}

func TestWatch(t *testing.T) {
	m, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writeIncoming(t, m, "001.json", `{"id":"pat_001","type":"code_pattern","description":"Wrap errors with context"}`)

	passes := make(chan *DetectResult, 4)
	done := make(chan error, 1)
	go func() {
		done <- m.Watch(ctx, func(res *DetectResult) { passes <- res })
	}()

	wait := func() *DetectResult {
		t.Helper()
		select {
		case res := <-passes:
			return res
		case err := <-done:
			t.Fatalf("Watch() returned early: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a detect pass")
		}
		return nil
	}

	if res := wait(); res.Submitted != 1 {
		t.Errorf("initial pass Submitted = %d, want 1", res.Submitted)
	}

	writeIncoming(t, m, "002.json", `{"id":"pat_002","type":"code_pattern","description":"Close response bodies"}`)
	if res := wait(); res.Submitted != 1 {
		t.Errorf("watched pass Submitted = %d, want 1", res.Submitted)
	}
	if _, err := m.Inbox().Get("pat_002"); err != nil {
		t.Errorf("pat_002 not ingested: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch() did not stop after cancel")
	}
}
