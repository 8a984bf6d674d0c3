package learning

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// GlobalEntry is one learning in the Global index.
type GlobalEntry struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	PatternKey  string         `json:"pattern_key"`
	Scope       string         `json:"scope"`
	Frequency   int            `json:"frequency"`
	Confidence  float64        `json:"confidence"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	AppliedAt   time.Time      `json:"applied_at"`
	HitCount    int            `json:"hit_count"`
	LastHitAt   *time.Time     `json:"last_hit_at,omitempty"`
}

const globalColumns = `id, type, description, pattern_key, scope, frequency, confidence,
	context, created_at, applied_at, hit_count, last_hit_at`

// Upsert indexes rec as applied at appliedAt, replacing any entry with the
// same ID. A different entry holding the same pattern key is a conflict.
func (s *GlobalStore) Upsert(rec *models.LearningRecord, appliedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owner string
	err := s.db.QueryRow("SELECT id FROM global_learnings WHERE pattern_key = ?", rec.Key()).Scan(&owner)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("check pattern key: %w", err)
	}
	if owner != "" && owner != rec.ID {
		return fmt.Errorf("%w: pattern key %q is already indexed as %s", ErrConflict, rec.Key(), owner)
	}

	var ctxJSON sql.NullString
	if len(rec.Context) > 0 {
		data, err := json.Marshal(rec.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		ctxJSON = nullString(string(data))
	}

	scope := rec.Scope
	if scope == "" {
		scope = models.ScopeProject
	}

	_, err = s.db.Exec(`
		INSERT INTO global_learnings (
			id, type, description, pattern_key, normalized_description, scope,
			frequency, confidence, context, created_at, applied_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			description = excluded.description,
			pattern_key = excluded.pattern_key,
			normalized_description = excluded.normalized_description,
			scope = excluded.scope,
			frequency = excluded.frequency,
			confidence = excluded.confidence,
			context = excluded.context,
			applied_at = excluded.applied_at
	`,
		rec.ID,
		string(rec.Type),
		rec.Description,
		rec.Key(),
		models.NormalizeKey(rec.Description),
		string(scope),
		rec.Frequency,
		rec.Confidence,
		ctxJSON,
		formatTime(rec.CreatedAt),
		formatTime(appliedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert global learning: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID. It returns nil, nil when absent.
func (s *GlobalStore) Get(id string) (*GlobalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+globalColumns+" FROM global_learnings WHERE id = ?", id)
	entry, err := scanGlobalEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query global learning: %w", err)
	}
	return entry, nil
}

// Delete removes an entry and reports whether it existed.
func (s *GlobalStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM global_learnings WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete global learning: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// RecordHit counts a re-observation of an indexed learning.
func (s *GlobalStore) RecordHit(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE global_learnings SET hit_count = hit_count + 1, last_hit_at = ?
		WHERE id = ?
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("record hit: %w", err)
	}
	return nil
}

// All returns every entry, oldest applied first.
func (s *GlobalStore) All() ([]*GlobalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT " + globalColumns + " FROM global_learnings ORDER BY applied_at, id")
	if err != nil {
		return nil, fmt.Errorf("list global learnings: %w", err)
	}
	defer rows.Close()

	return scanGlobalEntries(rows)
}

// Count returns the number of indexed learnings.
func (s *GlobalStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM global_learnings").Scan(&n); err != nil {
		return 0, fmt.Errorf("count global learnings: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGlobalEntry(row rowScanner) (*GlobalEntry, error) {
	var (
		entry     GlobalEntry
		ctxJSON   sql.NullString
		createdAt string
		appliedAt string
		lastHitAt sql.NullString
	)
	err := row.Scan(
		&entry.ID,
		&entry.Type,
		&entry.Description,
		&entry.PatternKey,
		&entry.Scope,
		&entry.Frequency,
		&entry.Confidence,
		&ctxJSON,
		&createdAt,
		&appliedAt,
		&entry.HitCount,
		&lastHitAt,
	)
	if err != nil {
		return nil, err
	}

	if ctxJSON.Valid {
		if err := json.Unmarshal([]byte(ctxJSON.String), &entry.Context); err != nil {
			return nil, fmt.Errorf("decode context of %s: %w", entry.ID, err)
		}
	}
	entry.CreatedAt, _ = parseTime(createdAt)
	entry.AppliedAt, _ = parseTime(appliedAt)
	if lastHitAt.Valid {
		t, _ := parseTime(lastHitAt.String)
		entry.LastHitAt = &t
	}
	return &entry, nil
}

func scanGlobalEntries(rows *sql.Rows) ([]*GlobalEntry, error) {
	var entries []*GlobalEntry
	for rows.Next() {
		entry, err := scanGlobalEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan global learning: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}
