package learning

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// FindDuplicate returns an entry other than rec that shares its pattern key
// or normalized description, or nil.
func (s *GlobalStore) FindDuplicate(rec *models.LearningRecord) (*GlobalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT `+globalColumns+`
		FROM global_learnings
		WHERE id != ? AND (pattern_key = ? OR normalized_description = ?)
		ORDER BY applied_at DESC
		LIMIT 1
	`, rec.ID, rec.Key(), models.NormalizeKey(rec.Description))

	entry, err := scanGlobalEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate: %w", err)
	}
	return entry, nil
}

// Search performs a full-text search over descriptions and pattern keys.
// Each whitespace-separated term is matched as a quoted phrase.
func (s *GlobalStore) Search(query string, limit int) ([]*GlobalEntry, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT g.id, g.type, g.description, g.pattern_key, g.scope, g.frequency, g.confidence,
			   g.context, g.created_at, g.applied_at, g.hit_count, g.last_hit_at
		FROM global_learnings g
		JOIN global_learnings_fts fts ON g.rowid = fts.rowid
		WHERE global_learnings_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search global learnings: %w", err)
	}
	defer rows.Close()

	return scanGlobalEntries(rows)
}

// ftsQuery quotes each term so user input cannot inject FTS5 syntax.
func ftsQuery(query string) string {
	var terms []string
	for _, term := range strings.Fields(query) {
		term = strings.ReplaceAll(term, `"`, `""`)
		terms = append(terms, `"`+term+`"`)
	}
	return strings.Join(terms, " ")
}
