package learning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/tierlearn/internal/docstore"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// warmDoc is the Warm-tier aggregate document and lock name.
const warmDoc = "warm.json"

// WarmAggregate is the single shared Warm-tier document.
type WarmAggregate struct {
	Patterns    []*models.LearningRecord `json:"patterns"`
	Preferences []*models.LearningRecord `json:"preferences"`
	Workflows   []*models.LearningRecord `json:"workflows"`
}

// MarshalJSON writes empty collections as [] rather than null.
func (w WarmAggregate) MarshalJSON() ([]byte, error) {
	type plain WarmAggregate
	p := plain(w)
	empty := []*models.LearningRecord{}
	if p.Patterns == nil {
		p.Patterns = empty
	}
	if p.Preferences == nil {
		p.Preferences = empty
	}
	if p.Workflows == nil {
		p.Workflows = empty
	}
	return json.Marshal(p)
}

// bucket returns the collection a record type belongs in.
// Skill gaps and unknown types share the workflows collection.
func (w *WarmAggregate) bucket(t models.LearningType) *[]*models.LearningRecord {
	switch t {
	case models.TypeCodePattern:
		return &w.Patterns
	case models.TypeUserPreference:
		return &w.Preferences
	default:
		return &w.Workflows
	}
}

// All returns every Warm record.
func (w *WarmAggregate) All() []*models.LearningRecord {
	out := make([]*models.LearningRecord, 0, len(w.Patterns)+len(w.Preferences)+len(w.Workflows))
	out = append(out, w.Patterns...)
	out = append(out, w.Preferences...)
	out = append(out, w.Workflows...)
	return out
}

// Len returns the Warm population.
func (w *WarmAggregate) Len() int {
	return len(w.Patterns) + len(w.Preferences) + len(w.Workflows)
}

// Find returns the record with the given ID, or nil.
func (w *WarmAggregate) Find(id string) *models.LearningRecord {
	for _, rec := range w.All() {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// FindKey returns a record sharing the pattern key or normalized
// description with rec, excluding rec itself.
func (w *WarmAggregate) FindKey(rec *models.LearningRecord) *models.LearningRecord {
	key := rec.Key()
	desc := models.NormalizeKey(rec.Description)
	for _, cur := range w.All() {
		if cur.ID == rec.ID {
			continue
		}
		if cur.Key() == key || (desc != "" && models.NormalizeKey(cur.Description) == desc) {
			return cur
		}
	}
	return nil
}

// Put inserts rec into its bucket, replacing any record with the same ID.
func (w *WarmAggregate) Put(rec *models.LearningRecord) {
	w.Remove(rec.ID)
	b := w.bucket(rec.Type)
	*b = append(*b, rec)
}

// Remove deletes the record with the given ID and reports whether it existed.
func (w *WarmAggregate) Remove(id string) bool {
	removed := false
	for _, b := range []*[]*models.LearningRecord{&w.Patterns, &w.Preferences, &w.Workflows} {
		kept := (*b)[:0]
		for _, rec := range *b {
			if rec.ID == id {
				removed = true
				continue
			}
			kept = append(kept, rec)
		}
		*b = kept
	}
	return removed
}

// Warm is the locked accessor for the Warm aggregate.
type Warm struct {
	store *docstore.Store
}

// NewWarm creates a Warm accessor over the state store.
func NewWarm(store *docstore.Store) *Warm {
	return &Warm{store: store}
}

// Load reads the aggregate without locking.
func (w *Warm) Load() (*WarmAggregate, error) {
	return docstore.Read[WarmAggregate](w.store, warmDoc)
}

// Get returns one Warm record.
func (w *Warm) Get(id string) (*models.LearningRecord, error) {
	agg, err := w.Load()
	if err != nil {
		return nil, err
	}
	if rec := agg.Find(id); rec != nil {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Update performs one locked read-modify-write of the aggregate.
func (w *Warm) Update(ctx context.Context, fn func(agg *WarmAggregate) error) error {
	return docstore.Update(ctx, w.store, warmDoc, fn)
}

// UpdateRecord applies fn to one Warm record under the lock.
func (w *Warm) UpdateRecord(ctx context.Context, id string, fn func(rec *models.LearningRecord) error) (*models.LearningRecord, error) {
	var updated *models.LearningRecord
	err := w.Update(ctx, func(agg *WarmAggregate) error {
		rec := agg.Find(id)
		if rec == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := fn(rec); err != nil {
			return err
		}
		updated = rec.Clone()
		return nil
	})
	return updated, err
}

func (w *Warm) withLock(ctx context.Context, fn func() error) error {
	return w.store.WithLock(ctx, warmDoc, fn)
}

func (w *Warm) save(agg *WarmAggregate) error {
	return docstore.WriteJSON(w.store.Path(warmDoc), agg)
}
