package learning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ShayCichocki/tierlearn/internal/artifacts"
	"github.com/ShayCichocki/tierlearn/internal/audit"
	"github.com/ShayCichocki/tierlearn/internal/backup"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// ApplyResult reports what Apply did.
type ApplyResult struct {
	Record         *models.LearningRecord
	Manifest       *backup.Manifest
	Files          []string
	Change         audit.ChangeEntry
	Moves          []Transition
	AlreadyApplied bool
}

// RollbackResult reports what Rollback did.
type RollbackResult struct {
	Record       *models.LearningRecord
	RollbackType string
	BackupUsed   string
	PreRollback  *backup.Manifest
	Files        []string
}

// RestoreResult reports what Restore did.
type RestoreResult struct {
	Manifest   *backup.Manifest
	PreRestore *backup.Manifest
	RolledBack bool
}

// Apply produces the artifacts for a learning. A Pending record is
// validated first and an explicit apply counts as confirmation. Every file
// the apply will touch is backed up before any state or artifact write; if
// the backup fails nothing is changed.
func (m *Manager) Apply(ctx context.Context, id string) (*ApplyResult, error) {
	rec, tier, err := m.Find(id)
	if err != nil {
		return nil, err
	}

	switch tier {
	case models.TierCold:
		return nil, fmt.Errorf("%w: %s is in the cold tier; recall it first", ErrNotEligible, id)
	case models.TierWarm:
		if rec.Status == models.StatusApplied {
			return &ApplyResult{Record: rec, AlreadyApplied: true}, nil
		}
		if !models.CanTransition(rec.Status, models.StatusConfirmed) && rec.Status != models.StatusConfirmed {
			return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, rec.Status)
		}
	case models.TierHot:
		switch rec.Status {
		case models.StatusRejected:
			return nil, fmt.Errorf("%w: %s is rejected", ErrInvalidTransition, id)
		case models.StatusPending:
			agg, err := m.warm.Load()
			if err != nil {
				return nil, err
			}
			check, err := m.validator.Check(rec, agg)
			if err != nil {
				return nil, err
			}
			if check.Outcome != OutcomeValidated {
				// Persist the validation outcome; nothing is applied.
				res, err := m.Validate(ctx, id)
				if err != nil {
					return nil, err
				}
				return nil, fmt.Errorf("%w: %s: %s", ErrNotEligible, id, res.Summary())
			}
		}
	}

	files := m.artifacts.Plan(rec)
	manifest, err := m.backups.Snapshot(id, backup.KindApply, m.artifacts.Root(), files)
	if err != nil {
		return nil, fmt.Errorf("backup failed, nothing applied: %w", err)
	}

	var moves []Transition
	if tier == models.TierHot {
		if rec.Status == models.StatusPending {
			res, err := m.Validate(ctx, id)
			if err != nil {
				return nil, err
			}
			if res.Outcome != OutcomeValidated {
				return nil, fmt.Errorf("%w: %s: %s", ErrNotEligible, id, res.Summary())
			}
		}
		if err := m.confirmHot(ctx, id); err != nil {
			return nil, err
		}
		if moves, err = m.engine.PromoteHotToWarm(ctx, id); err != nil {
			return nil, err
		}
	} else if rec.Status != models.StatusConfirmed {
		if _, err := m.warm.UpdateRecord(ctx, id, func(r *models.LearningRecord) error {
			return r.SetStatus(models.StatusConfirmed)
		}); err != nil {
			return nil, err
		}
	}

	rec, err = m.warm.Get(id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s was superseded during promotion", ErrConflict, id)
	}
	if err != nil {
		return nil, err
	}

	written, err := m.artifacts.Apply(ctx, rec)
	if err != nil {
		m.undoApply(manifest)
		return nil, err
	}

	now := m.now().UTC()
	if err := m.global.Upsert(rec, now); err != nil {
		m.undoApply(manifest)
		return nil, fmt.Errorf("index %s: %w", id, err)
	}

	change, err := m.audit.RecordChange(ctx, audit.ChangeEntry{
		LearningID:    id,
		Type:          string(rec.Type),
		Description:   fmt.Sprintf("Applied %s: %s", rec.Type, truncate(rec.Description, 80)),
		FilesAffected: written,
		BackupPath:    manifest.BackupPath,
	})
	if err != nil {
		m.abortApply(ctx, manifest, false)
		return nil, err
	}

	rec, err = m.warm.UpdateRecord(ctx, id, func(r *models.LearningRecord) error {
		if err := r.SetStatus(models.StatusApplied); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		r.LastAccessed = now
		m.scorer.Apply(r)
		return nil
	})
	if err != nil {
		m.abortApply(ctx, manifest, true)
		return nil, err
	}

	m.logger.Info("learning applied",
		zap.String("learning_id", id),
		zap.String("backup_id", manifest.ID),
		zap.Strings("files", written),
	)
	return &ApplyResult{Record: rec, Manifest: manifest, Files: written, Change: change, Moves: moves}, nil
}

func (m *Manager) confirmHot(ctx context.Context, id string) error {
	_, err := m.inbox.Update(ctx, id, func(r *models.LearningRecord) error {
		if err := r.SetStatus(models.StatusConfirmed); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		m.scorer.Apply(r)
		return nil
	})
	return err
}

// undoApply puts artifacts back after a failed apply. The manifest stays
// on disk so the user can restore by hand if this also fails.
func (m *Manager) undoApply(manifest *backup.Manifest) {
	if err := m.backups.Restore(manifest); err != nil {
		m.logger.Error("restore after failed apply",
			zap.String("learning_id", manifest.LearningID),
			zap.String("backup_id", manifest.ID),
			zap.Error(err),
		)
	}
}

// abortApply reverts an apply that failed after its artifacts were written
// and indexed. logged reports whether the change entry was recorded.
func (m *Manager) abortApply(ctx context.Context, manifest *backup.Manifest, logged bool) {
	m.undoApply(manifest)
	id := manifest.LearningID
	if _, err := m.global.Delete(id); err != nil {
		m.logger.Error("unindex after failed apply", zap.String("learning_id", id), zap.Error(err))
	}
	if !logged {
		return
	}
	if _, err := m.audit.MarkRolledBack(ctx, id); err != nil {
		m.logger.Error("mark change after failed apply", zap.String("learning_id", id), zap.Error(err))
	}
}

// Rollback undoes the most recent apply of a learning. It restores from the
// newest apply manifest, falls back to a legacy single-file backup, and as a
// last resort deletes the pattern files the apply created. The files are
// backed up again before they are restored.
func (m *Manager) Rollback(ctx context.Context, id string) (*RollbackResult, error) {
	rec, tier, err := m.Find(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusApplied {
		return nil, fmt.Errorf("%w: %s is %s", ErrNothingToRollback, id, rec.Status)
	}
	if tier == models.TierCold {
		return nil, fmt.Errorf("%w: %s is in the cold tier; recall it first", ErrNotEligible, id)
	}

	res := &RollbackResult{}
	var restore func() error

	manifest, err := m.backups.Latest(id, backup.KindApply)
	switch {
	case err == nil:
		res.RollbackType = audit.RollbackManifest
		res.BackupUsed = manifest.BackupPath
		res.Files = manifest.FileNames()
		restore = func() error { return m.backups.Restore(manifest) }

	case errors.Is(err, backup.ErrNoBackup):
		plan := m.artifacts.Plan(rec)
		if _, statErr := os.Stat(m.backups.LegacyPath(id)); statErr == nil && len(plan) > 0 {
			target := plan[0]
			res.RollbackType = audit.RollbackLegacy
			res.BackupUsed = m.backups.LegacyPath(id)
			res.Files = []string{target}
			restore = func() error { return m.backups.RestoreLegacy(id, m.artifacts.Path(target)) }
			break
		}

		files := plan
		if change, err := m.audit.LatestChange(id); err == nil && len(change.FilesAffected) > 0 {
			files = change.FilesAffected
		}
		res.RollbackType = audit.RollbackDeleteCreated
		res.Files = createdArtifacts(files)
		if len(res.Files) == 0 {
			return nil, fmt.Errorf("%w: no backup for %s and no created artifact to delete", ErrNothingToRollback, id)
		}
		restore = func() error {
			for _, rel := range res.Files {
				if err := os.Remove(m.artifacts.Path(rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("delete %s: %w", rel, err)
				}
			}
			return nil
		}

	default:
		return nil, err
	}

	pre, err := m.backups.Snapshot(id, backup.KindPreRollback, m.artifacts.Root(), res.Files)
	if err != nil {
		return nil, fmt.Errorf("backup failed, nothing rolled back: %w", err)
	}
	res.PreRollback = pre

	if err := restore(); err != nil {
		return nil, fmt.Errorf("rollback %s: %w", id, err)
	}

	if _, err := m.global.Delete(id); err != nil {
		return nil, err
	}
	if _, err := m.audit.RecordRollback(ctx, audit.RollbackEntry{
		LearningID:   id,
		BackupUsed:   res.BackupUsed,
		RollbackType: res.RollbackType,
	}); err != nil {
		return nil, err
	}
	if _, err := m.audit.MarkRolledBack(ctx, id); err != nil && !errors.Is(err, audit.ErrNoChange) {
		return nil, err
	}

	res.Record, err = m.warm.UpdateRecord(ctx, id, func(r *models.LearningRecord) error {
		if err := r.SetStatus(models.StatusRolledBack); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		m.scorer.Apply(r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("learning rolled back",
		zap.String("learning_id", id),
		zap.String("rollback_type", res.RollbackType),
		zap.String("backup_used", res.BackupUsed),
	)
	return res, nil
}

// createdArtifacts keeps only per-learning pattern documents; shared files
// such as the preferences list are never deleted wholesale.
func createdArtifacts(files []string) []string {
	var out []string
	for _, f := range files {
		if filepath.Dir(f) == artifacts.PatternsDir {
			out = append(out, f)
		}
	}
	return out
}

// Restore puts back the files captured by one backup bundle after taking a
// fresh backup of their current content. Restoring an apply bundle of a
// still-applied learning marks that learning rolled back.
func (m *Manager) Restore(ctx context.Context, backupID string) (*RestoreResult, error) {
	manifest, err := m.backups.Get(backupID)
	if err != nil {
		return nil, err
	}

	pre, err := m.backups.Snapshot(manifest.LearningID, backup.KindPreRestore, manifest.Root, manifest.FileNames())
	if err != nil {
		return nil, fmt.Errorf("backup failed, nothing restored: %w", err)
	}
	if err := m.backups.Restore(manifest); err != nil {
		return nil, err
	}

	res := &RestoreResult{Manifest: manifest, PreRestore: pre}
	if _, err := m.audit.RecordRollback(ctx, audit.RollbackEntry{
		LearningID:   manifest.LearningID,
		BackupUsed:   manifest.BackupPath,
		RollbackType: audit.RollbackManualRestore,
	}); err != nil {
		return nil, err
	}

	if manifest.Kind == backup.KindApply {
		rec, err := m.warm.Get(manifest.LearningID)
		if err == nil && rec.Status == models.StatusApplied {
			if _, err := m.warm.UpdateRecord(ctx, rec.ID, func(r *models.LearningRecord) error {
				return r.SetStatus(models.StatusRolledBack)
			}); err != nil {
				return nil, err
			}
			if _, err := m.global.Delete(rec.ID); err != nil {
				return nil, err
			}
			if _, err := m.audit.MarkRolledBack(ctx, rec.ID); err != nil && !errors.Is(err, audit.ErrNoChange) {
				return nil, err
			}
			res.RolledBack = true
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	m.logger.Info("backup restored manually",
		zap.String("backup_id", manifest.ID),
		zap.String("learning_id", manifest.LearningID),
		zap.Bool("rolled_back", res.RolledBack),
	)
	return res, nil
}

// GCCandidates lists backups past retention or beyond the newest max_backups.
func (m *Manager) GCCandidates() ([]backup.Candidate, error) {
	return m.backups.Candidates(m.cfg.RetentionWindow(), m.cfg.Backup.MaxBackups)
}

// GC deletes the given candidates.
func (m *Manager) GC(candidates []backup.Candidate) (int, error) {
	return m.backups.Delete(candidates)
}

// UpdateRules adds trigger keywords to a skill, backing up the rules file
// first and recording the change.
func (m *Manager) UpdateRules(ctx context.Context, skill string, keywords []string) (*audit.ChangeEntry, error) {
	if strings.TrimSpace(skill) == "" || len(keywords) == 0 {
		return nil, fmt.Errorf("skill and at least one keyword are required")
	}
	id := "rules-" + artifacts.Slug(skill)

	manifest, err := m.backups.Snapshot(id, backup.KindRules, m.artifacts.Root(), []string{artifacts.SkillRulesFile})
	if err != nil {
		return nil, fmt.Errorf("backup failed, rules unchanged: %w", err)
	}
	if err := m.artifacts.UpdateRules(ctx, skill, keywords); err != nil {
		m.undoApply(manifest)
		return nil, err
	}

	change, err := m.audit.RecordChange(ctx, audit.ChangeEntry{
		LearningID:    id,
		Type:          "skill_rules",
		Description:   fmt.Sprintf("Updated %s triggers: %s", skill, strings.Join(keywords, ", ")),
		FilesAffected: []string{artifacts.SkillRulesFile},
		BackupPath:    manifest.BackupPath,
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
