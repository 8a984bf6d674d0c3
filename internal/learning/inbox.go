package learning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/tierlearn/internal/docstore"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// inboxName names the Hot-tier directory and its lock.
const inboxName = "inbox"

// ListFilter narrows Inbox.List.
type ListFilter struct {
	// Statuses restricts results to these statuses. Empty means all.
	Statuses []models.Status
	// IncludeRejected shows rejected records, which are hidden by default.
	IncludeRejected bool
}

func (f ListFilter) match(rec *models.LearningRecord) bool {
	if rec.Status == models.StatusRejected && !f.IncludeRejected {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if rec.Status == s {
			return true
		}
	}
	return false
}

// SubmitResult describes what a submission did.
type SubmitResult struct {
	Record    *models.LearningRecord
	Duplicate bool
}

// Inbox is the Hot-tier store: one JSON file per record.
type Inbox struct {
	store  *docstore.Store
	scorer *Scorer
	now    func() time.Time
}

// NewInbox creates an Inbox under the state store.
func NewInbox(store *docstore.Store, scorer *Scorer) *Inbox {
	return &Inbox{store: store, scorer: scorer, now: time.Now}
}

// Dir returns the inbox directory.
func (b *Inbox) Dir() string {
	return b.store.Path(inboxName)
}

// Submit stores a new Pending Hot record, or, when a non-rejected record
// already shares its pattern key or ID, counts a repeat detection on it.
func (b *Inbox) Submit(ctx context.Context, rec *models.LearningRecord) (*SubmitResult, error) {
	var result *SubmitResult
	err := b.withLock(ctx, func() error {
		var err error
		if result, err = b.repeat(rec); err != nil || result != nil {
			return err
		}
		if err := b.put(rec); err != nil {
			return err
		}
		result = &SubmitResult{Record: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// repeat counts a repeat detection on the Hot record sharing rec's ID or
// pattern key. It returns nil when no Hot record matches. The caller holds
// the inbox lock.
func (b *Inbox) repeat(rec *models.LearningRecord) (*SubmitResult, error) {
	existing, err := b.all()
	if err != nil {
		return nil, err
	}

	key := rec.Key()
	for _, cur := range existing {
		if cur.ID == rec.ID && cur.Status == models.StatusRejected {
			return nil, fmt.Errorf("%w: %s was rejected and cannot be resubmitted", ErrConflict, rec.ID)
		}
		if cur.Status == models.StatusRejected {
			continue
		}
		if cur.ID != rec.ID && cur.Key() != key {
			continue
		}
		cur.Frequency++
		cur.LastAccessed = b.now().UTC()
		b.scorer.Apply(cur)
		if err := b.put(cur); err != nil {
			return nil, err
		}
		return &SubmitResult{Record: cur, Duplicate: true}, nil
	}
	return nil, nil
}

// Get returns a Hot record by ID.
func (b *Inbox) Get(id string) (*models.LearningRecord, error) {
	return b.get(id)
}

// List returns Hot records matching the filter, oldest first.
func (b *Inbox) List(filter ListFilter) ([]*models.LearningRecord, error) {
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	var out []*models.LearningRecord
	for _, rec := range all {
		if filter.match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Update applies fn to a Hot record under the inbox lock and persists it.
func (b *Inbox) Update(ctx context.Context, id string, fn func(rec *models.LearningRecord) error) (*models.LearningRecord, error) {
	var updated *models.LearningRecord
	err := b.withLock(ctx, func() error {
		rec, err := b.get(id)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		if err := b.put(rec); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	return updated, err
}

func (b *Inbox) withLock(ctx context.Context, fn func() error) error {
	return b.store.WithLock(ctx, inboxName, fn)
}

func (b *Inbox) path(id string) string {
	return filepath.Join(b.Dir(), id+".json")
}

// get reads one record without locking.
func (b *Inbox) get(id string) (*models.LearningRecord, error) {
	if !safeID(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	var rec models.LearningRecord
	found, err := docstore.ReadJSON(b.path(id), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &rec, nil
}

func (b *Inbox) put(rec *models.LearningRecord) error {
	return docstore.WriteJSON(b.path(rec.ID), rec)
}

func (b *Inbox) remove(id string) error {
	if err := os.Remove(b.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove inbox record: %w", err)
	}
	return nil
}

// all reads every Hot record without locking, oldest first.
func (b *Inbox) all() ([]*models.LearningRecord, error) {
	entries, err := os.ReadDir(b.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	var recs []*models.LearningRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		var rec models.LearningRecord
		if _, err := docstore.ReadJSON(filepath.Join(b.Dir(), name), &rec); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	sortByCreated(recs)
	return recs, nil
}

func sortByCreated(recs []*models.LearningRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

func safeID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
