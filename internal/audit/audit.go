// Package audit keeps the append-only change and rollback logs.
//
// Entries are only ever appended; the single permitted in-place edit is
// flipping a change entry's rolled_back flag. The logs exist for history
// display and are never replayed.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/tierlearn/internal/docstore"
)

const (
	changeLogDoc   = "changelog.json"
	rollbackLogDoc = "rollbacks.json"
)

// Rollback types recorded in RollbackEntry.RollbackType.
const (
	RollbackManifest      = "manifest"
	RollbackLegacy        = "legacy_backup"
	RollbackDeleteCreated = "delete_created"
	RollbackManualRestore = "manual_restore"
)

// ErrNoChange is returned when no matching change entry exists.
var ErrNoChange = errors.New("no matching change entry")

// ChangeEntry records one applied mutation.
type ChangeEntry struct {
	ID            string     `json:"id"`
	LearningID    string     `json:"learning_id"`
	Type          string     `json:"type"`
	Description   string     `json:"description"`
	FilesAffected []string   `json:"files_affected"`
	BackupPath    string     `json:"backup_path"`
	Timestamp     time.Time  `json:"timestamp"`
	RolledBack    bool       `json:"rolled_back"`
	RolledBackAt  *time.Time `json:"rolled_back_at,omitempty"`
}

// RollbackEntry records one rollback or manual restore.
type RollbackEntry struct {
	ID           string    `json:"id"`
	LearningID   string    `json:"learning_id"`
	BackupUsed   string    `json:"backup_used"`
	RollbackType string    `json:"rollback_type"`
	Timestamp    time.Time `json:"timestamp"`
}

type changeLog struct {
	Changes []ChangeEntry `json:"changes"`
}

type rollbackLog struct {
	Rollbacks []RollbackEntry `json:"rollbacks"`
}

// Log appends to and reads the change and rollback documents.
type Log struct {
	store *docstore.Store
	now   func() time.Time // For testing
}

// New creates a Log over the given state store.
func New(store *docstore.Store) *Log {
	return &Log{store: store, now: time.Now}
}

// SetClock replaces the time source.
func (l *Log) SetClock(now func() time.Time) {
	l.now = now
}

// RecordChange appends a change entry, assigning its ID and timestamp.
func (l *Log) RecordChange(ctx context.Context, entry ChangeEntry) (ChangeEntry, error) {
	entry.ID = uuid.New().String()
	entry.Timestamp = l.now().UTC()
	entry.RolledBack = false
	entry.RolledBackAt = nil

	err := docstore.Update(ctx, l.store, changeLogDoc, func(doc *changeLog) error {
		doc.Changes = append(doc.Changes, entry)
		return nil
	})
	if err != nil {
		return ChangeEntry{}, err
	}
	return entry, nil
}

// RecordRollback appends a rollback entry, assigning its ID and timestamp.
func (l *Log) RecordRollback(ctx context.Context, entry RollbackEntry) (RollbackEntry, error) {
	entry.ID = uuid.New().String()
	entry.Timestamp = l.now().UTC()

	err := docstore.Update(ctx, l.store, rollbackLogDoc, func(doc *rollbackLog) error {
		doc.Rollbacks = append(doc.Rollbacks, entry)
		return nil
	})
	if err != nil {
		return RollbackEntry{}, err
	}
	return entry, nil
}

// MarkRolledBack flips rolled_back on the newest live change for learningID.
func (l *Log) MarkRolledBack(ctx context.Context, learningID string) (ChangeEntry, error) {
	var marked ChangeEntry
	err := docstore.Update(ctx, l.store, changeLogDoc, func(doc *changeLog) error {
		for i := len(doc.Changes) - 1; i >= 0; i-- {
			c := &doc.Changes[i]
			if c.LearningID != learningID || c.RolledBack {
				continue
			}
			at := l.now().UTC()
			c.RolledBack = true
			c.RolledBackAt = &at
			marked = *c
			return nil
		}
		return ErrNoChange
	})
	if err != nil {
		return ChangeEntry{}, err
	}
	return marked, nil
}

// LatestChange returns the newest change for learningID that has not been
// rolled back.
func (l *Log) LatestChange(learningID string) (*ChangeEntry, error) {
	doc, err := docstore.Read[changeLog](l.store, changeLogDoc)
	if err != nil {
		return nil, err
	}
	for i := len(doc.Changes) - 1; i >= 0; i-- {
		c := doc.Changes[i]
		if c.LearningID == learningID && !c.RolledBack {
			return &c, nil
		}
	}
	return nil, ErrNoChange
}

// RecentChanges returns up to n change entries, newest first.
// n <= 0 returns all of them.
func (l *Log) RecentChanges(n int) ([]ChangeEntry, error) {
	doc, err := docstore.Read[changeLog](l.store, changeLogDoc)
	if err != nil {
		return nil, err
	}
	return newestFirst(doc.Changes, n), nil
}

// RecentRollbacks returns up to n rollback entries, newest first.
// n <= 0 returns all of them.
func (l *Log) RecentRollbacks(n int) ([]RollbackEntry, error) {
	doc, err := docstore.Read[rollbackLog](l.store, rollbackLogDoc)
	if err != nil {
		return nil, err
	}
	return newestFirst(doc.Rollbacks, n), nil
}

func newestFirst[T any](entries []T, n int) []T {
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]T, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out
}
