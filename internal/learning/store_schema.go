package learning

// Migrate creates the necessary tables and indexes if they don't exist.
func (s *GlobalStore) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Create schema version table
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS global_schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM global_schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Global},
		{2, migrationV2Usage},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return err
		}

		if _, err := tx.Exec("INSERT INTO global_schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

const migrationV1Global = `
CREATE TABLE IF NOT EXISTS global_learnings (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	pattern_key TEXT NOT NULL,
	normalized_description TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT 'project',
	frequency INTEGER NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	context TEXT,
	created_at DATETIME NOT NULL,
	applied_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_global_pattern_key ON global_learnings(pattern_key);
CREATE INDEX IF NOT EXISTS idx_global_normalized ON global_learnings(normalized_description);
CREATE INDEX IF NOT EXISTS idx_global_type ON global_learnings(type);

-- Full-text search on description and pattern key
CREATE VIRTUAL TABLE IF NOT EXISTS global_learnings_fts USING fts5(
	description,
	pattern_key,
	content='global_learnings',
	content_rowid='rowid'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS global_learnings_ai AFTER INSERT ON global_learnings BEGIN
	INSERT INTO global_learnings_fts(rowid, description, pattern_key)
	VALUES (NEW.rowid, NEW.description, NEW.pattern_key);
END;

CREATE TRIGGER IF NOT EXISTS global_learnings_ad AFTER DELETE ON global_learnings BEGIN
	INSERT INTO global_learnings_fts(global_learnings_fts, rowid, description, pattern_key)
	VALUES ('delete', OLD.rowid, OLD.description, OLD.pattern_key);
END;

CREATE TRIGGER IF NOT EXISTS global_learnings_au AFTER UPDATE ON global_learnings BEGIN
	INSERT INTO global_learnings_fts(global_learnings_fts, rowid, description, pattern_key)
	VALUES ('delete', OLD.rowid, OLD.description, OLD.pattern_key);
	INSERT INTO global_learnings_fts(rowid, description, pattern_key)
	VALUES (NEW.rowid, NEW.description, NEW.pattern_key);
END;
`

const migrationV2Usage = `
-- Count how often a learning is re-observed after it was applied
ALTER TABLE global_learnings ADD COLUMN hit_count INTEGER NOT NULL DEFAULT 0;
ALTER TABLE global_learnings ADD COLUMN last_hit_at DATETIME;
`
