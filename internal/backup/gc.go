package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Candidate is a bundle eligible for garbage collection.
type Candidate struct {
	ID        string
	Path      string
	Timestamp time.Time
	Reason    string
}

// Candidates lists bundles older than retention or beyond the newest
// maxBackups, oldest first. Interrupted bundles without a manifest are
// always candidates. A zero retention or maxBackups disables that rule.
func (m *Manager) Candidates(retention time.Duration, maxBackups int) ([]Candidate, error) {
	manifests, err := m.List()
	if err != nil {
		return nil, err
	}

	var out []Candidate
	cutoff := m.now().Add(-retention)
	overflow := 0
	if maxBackups > 0 && len(manifests) > maxBackups {
		overflow = len(manifests) - maxBackups
	}

	for i, mf := range manifests {
		reason := ""
		switch {
		case retention > 0 && mf.Timestamp.Before(cutoff):
			reason = "expired"
		case i < overflow:
			reason = "over limit"
		}
		if reason != "" {
			out = append(out, Candidate{ID: mf.ID, Path: mf.BackupPath, Timestamp: mf.Timestamp, Reason: reason})
		}
	}

	partial, err := m.incomplete()
	if err != nil {
		return nil, err
	}
	return append(out, partial...), nil
}

// Delete removes the given candidates.
func (m *Manager) Delete(candidates []Candidate) (int, error) {
	deleted := 0
	for _, c := range candidates {
		if err := os.RemoveAll(c.Path); err != nil {
			return deleted, fmt.Errorf("delete backup %s: %w", c.ID, err)
		}
		deleted++
		m.logger.Info("backup deleted",
			zap.String("backup_id", c.ID),
			zap.String("reason", c.Reason),
		)
	}
	return deleted, nil
}

func (m *Manager) incomplete() ([]Candidate, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backups: %w", err)
	}
	var out []Candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		if _, err := os.Stat(filepath.Join(path, manifestFile)); os.IsNotExist(err) {
			info, _ := e.Info()
			var ts time.Time
			if info != nil {
				ts = info.ModTime()
			}
			out = append(out, Candidate{ID: e.Name(), Path: path, Timestamp: ts, Reason: "incomplete"})
		}
	}
	return out, nil
}
