package learning

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// newTestStore creates a migrated Global index in a temp dir.
func newTestStore(t *testing.T) *GlobalStore {
	t.Helper()
	store, err := OpenGlobalStore(filepath.Join(t.TempDir(), "global", "learnings.db"))
	if err != nil {
		t.Fatalf("OpenGlobalStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenGlobalStore_MigrateTwice(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestGlobalStore_UpsertGetDelete(t *testing.T) {
	store := newTestStore(t)
	applied := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	rec := codePattern("pat_042", "Wrap errors with context", 3)
	rec.CreatedAt = applied.Add(-time.Hour)

	if err := store.Upsert(rec, applied); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	// Upserting again updates in place.
	rec.Frequency = 5
	if err := store.Upsert(rec, applied); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	got, err := store.Get("pat_042")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil, want entry")
	}
	if got.Frequency != 5 {
		t.Errorf("Frequency = %d, want 5", got.Frequency)
	}
	if got.PatternKey != "wrap errors with context" {
		t.Errorf("PatternKey = %q", got.PatternKey)
	}
	if !got.AppliedAt.Equal(applied) {
		t.Errorf("AppliedAt = %v, want %v", got.AppliedAt, applied)
	}
	if got.Context["example"] == nil {
		t.Error("Context lost on round trip")
	}

	existed, err := store.Delete("pat_042")
	if err != nil || !existed {
		t.Fatalf("Delete() = %v, %v; want true, nil", existed, err)
	}
	if got, _ := store.Get("pat_042"); got != nil {
		t.Error("Get() after Delete returned an entry")
	}
	existed, _ = store.Delete("pat_042")
	if existed {
		t.Error("second Delete() reported existed")
	}
}

func TestGlobalStore_KeyConflict(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	a := &models.LearningRecord{ID: "a", Type: models.TypeCodePattern, Description: "one", PatternKey: "k"}
	b := &models.LearningRecord{ID: "b", Type: models.TypeCodePattern, Description: "two", PatternKey: "k"}
	if err := store.Upsert(a, now); err != nil {
		t.Fatalf("Upsert(a) error = %v", err)
	}
	err := store.Upsert(b, now)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Upsert(b) error = %v, want ErrConflict", err)
	}
}

func TestGlobalStore_FindDuplicate(t *testing.T) {
	store := newTestStore(t)
	if err := store.Upsert(&models.LearningRecord{
		ID: "g1", Type: models.TypeUserPreference, Description: "Prefer  table-driven tests", PatternKey: "table-tests",
	}, time.Now()); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	tests := []struct {
		name string
		rec  *models.LearningRecord
		want string
	}{
		{"same key", &models.LearningRecord{ID: "x", Description: "other", PatternKey: "table-tests"}, "g1"},
		{"same description", &models.LearningRecord{ID: "x", Description: "prefer table-driven TESTS"}, "g1"},
		{"itself", &models.LearningRecord{ID: "g1", PatternKey: "table-tests"}, ""},
		{"novel", &models.LearningRecord{ID: "x", Description: "something else"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FindDuplicate(tt.rec)
			if err != nil {
				t.Fatalf("FindDuplicate() error = %v", err)
			}
			gotID := ""
			if got != nil {
				gotID = got.ID
			}
			if gotID != tt.want {
				t.Errorf("FindDuplicate() = %q, want %q", gotID, tt.want)
			}
		})
	}
}

func TestGlobalStore_SearchAndHits(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, rec := range []*models.LearningRecord{
		{ID: "a", Type: models.TypeCodePattern, Description: "use errgroup for fan-out"},
		{ID: "b", Type: models.TypeCodePattern, Description: "close response bodies"},
	} {
		if err := store.Upsert(rec, now); err != nil {
			t.Fatalf("Upsert(%s) error = %v", rec.ID, err)
		}
	}

	got, err := store.Search("errgroup", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("Search(errgroup) = %v, want [a]", got)
	}

	// Quotes in user input must not break the FTS query.
	if _, err := store.Search(`"unbalanced`, 10); err != nil {
		t.Errorf("Search() with quote error = %v", err)
	}

	if err := store.RecordHit("b", now.Add(time.Hour)); err != nil {
		t.Fatalf("RecordHit() error = %v", err)
	}
	b, _ := store.Get("b")
	if b.HitCount != 1 || b.LastHitAt == nil {
		t.Errorf("after RecordHit: HitCount = %d, LastHitAt = %v", b.HitCount, b.LastHitAt)
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("All() returned %d entries, want 2", len(all))
	}
}
