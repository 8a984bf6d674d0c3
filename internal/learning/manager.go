package learning

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/tierlearn/internal/artifacts"
	"github.com/ShayCichocki/tierlearn/internal/audit"
	"github.com/ShayCichocki/tierlearn/internal/backup"
	"github.com/ShayCichocki/tierlearn/internal/config"
	"github.com/ShayCichocki/tierlearn/internal/docstore"
	"github.com/ShayCichocki/tierlearn/internal/logging"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// Subdirectories of the state directory.
const (
	backupsName  = "backups"
	incomingName = "incoming"
	locksName    = "locks"
	globalName   = "global"
)

// Manager wires the tiers, the artifact writer, backups, the change log and
// the Global index together behind the command-level operations.
type Manager struct {
	cfg       *config.Config
	store     *docstore.Store
	scorer    *Scorer
	inbox     *Inbox
	warm      *Warm
	cold      *Cold
	engine    *Engine
	validator *Validator
	global    *GlobalStore
	artifacts *artifacts.Writer
	backups   *backup.Manager
	audit     *audit.Log
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager builds a Manager from a resolved configuration. Every state
// directory must be writable; the error names the first one that is not.
func NewManager(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	logger = logging.OrNop(logger)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	state := cfg.Paths.StateDir
	if err := docstore.CheckWritable(
		state,
		filepath.Join(state, inboxName),
		filepath.Join(state, coldName),
		filepath.Join(state, backupsName),
		filepath.Join(state, incomingName),
		filepath.Join(state, globalName),
		cfg.Paths.ArtifactsDir,
	); err != nil {
		return nil, err
	}

	global, err := OpenGlobalStore(GlobalDBPath(state))
	if err != nil {
		return nil, err
	}

	store := docstore.New(state, cfg.Locks.Timeout, logger)
	scorer := NewScorer(cfg.DemotionWindow())
	inbox := NewInbox(store, scorer)
	warm := NewWarm(store)
	cold := NewCold(store, cfg.Archive.CompressionLevel, cfg.Archive.Workers, logger)
	engine := NewEngine(store, inbox, warm, cold, scorer, EngineConfig{
		PromotionThreshold: cfg.Learning.PromotionThreshold,
		MaxHotItems:        cfg.Learning.MaxHotItems,
		DemotionWindow:     cfg.DemotionWindow(),
	}, logger)

	return &Manager{
		cfg:       cfg,
		store:     store,
		scorer:    scorer,
		inbox:     inbox,
		warm:      warm,
		cold:      cold,
		engine:    engine,
		validator: NewValidator(cfg.Learning.PromotionThreshold, global),
		global:    global,
		artifacts: artifacts.NewWriter(cfg.Paths.ArtifactsDir, filepath.Join(state, locksName, "artifacts"), cfg.Locks.Timeout, logger),
		backups:   backup.NewManager(filepath.Join(state, backupsName), logger),
		audit:     audit.New(store),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Close releases the Global index.
func (m *Manager) Close() error {
	return m.global.Close()
}

// SetClock replaces the time source of every component.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
	m.scorer.now = now
	m.inbox.now = now
	m.engine.now = now
	m.cold.SetClock(now)
	m.artifacts.SetClock(now)
	m.backups.SetClock(now)
	m.audit.SetClock(now)
}

// Config returns the configuration the Manager was built with.
func (m *Manager) Config() *config.Config { return m.cfg }

// Inbox returns the Hot-tier store.
func (m *Manager) Inbox() *Inbox { return m.inbox }

// Warm returns the Warm-tier accessor.
func (m *Manager) Warm() *Warm { return m.warm }

// Cold returns the Cold-tier store.
func (m *Manager) Cold() *Cold { return m.cold }

// Engine returns the tier transition engine.
func (m *Manager) Engine() *Engine { return m.engine }

// Global returns the Global index.
func (m *Manager) Global() *GlobalStore { return m.global }

// Backups returns the backup manager.
func (m *Manager) Backups() *backup.Manager { return m.backups }

// Audit returns the change and rollback logs.
func (m *Manager) Audit() *audit.Log { return m.audit }

// Artifacts returns the artifact writer.
func (m *Manager) Artifacts() *artifacts.Writer { return m.artifacts }

// Store returns the state document store.
func (m *Manager) Store() *docstore.Store { return m.store }

// IncomingDir is where the capture step drops submission files.
func (m *Manager) IncomingDir() string {
	return m.store.Path(incomingName)
}

// Find locates a record in whichever tier holds it.
func (m *Manager) Find(id string) (*models.LearningRecord, models.Tier, error) {
	if rec, err := m.inbox.Get(id); err == nil {
		return rec, models.TierHot, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}
	if rec, err := m.warm.Get(id); err == nil {
		return rec, models.TierWarm, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}
	rec, _, err := m.cold.Get(id)
	if err != nil {
		return nil, "", err
	}
	return rec, models.TierCold, nil
}

// Submit ingests a learning from the capture step. A repeat detection of a
// known record increments its frequency instead of creating a duplicate.
// When capacity enforcement is enabled, overflowing Hot records are demoted.
func (m *Manager) Submit(ctx context.Context, rec *models.LearningRecord) (*SubmitResult, []Transition, error) {
	if err := m.validator.CheckSubmission(rec); err != nil {
		return nil, nil, err
	}

	now := m.now().UTC()
	rec.Status = models.StatusPending
	rec.Tier = models.TierHot
	rec.PatternKey = rec.Key()
	if rec.Frequency < 1 {
		rec.Frequency = 1
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastAccessed = now
	if rec.Scope == "" {
		rec.Scope = models.ScopeProject
	}
	rec.PromotedAt, rec.DemotedAt, rec.RecalledAt = nil, nil, nil
	rec.DemotionReason = ""

	m.scorer.Apply(rec)
	var (
		res *SubmitResult
		hit string
	)
	err := m.engine.locked(ctx, func() error {
		agg, err := m.warm.Load()
		if err != nil {
			return err
		}
		// Re-detection of a record that already left the Hot tier.
		if cur := agg.Find(rec.ID); cur != nil {
			res, hit = m.repeatWarm(cur, now)
			return m.warm.save(agg)
		}
		if res, err = m.inbox.repeat(rec); err != nil || res != nil {
			return err
		}
		if cur := agg.FindKey(rec); cur != nil {
			res, hit = m.repeatWarm(cur, now)
			return m.warm.save(agg)
		}

		if _, _, err := m.cold.Get(rec.ID); err == nil {
			return fmt.Errorf("%w: %s is archived in the cold tier; recall it first", ErrConflict, rec.ID)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := m.inbox.put(rec); err != nil {
			return err
		}
		res = &SubmitResult{Record: rec}
		return nil
	}, coldName)
	if err != nil {
		return nil, nil, err
	}
	if hit != "" {
		m.recordGlobalHit(hit, now)
	}

	m.logger.Info("learning submitted",
		zap.String("learning_id", res.Record.ID),
		zap.Bool("duplicate", res.Duplicate),
		zap.Int("frequency", res.Record.Frequency),
	)

	if res.Duplicate || !m.cfg.Learning.AutoEnforceCapacity {
		return res, nil, nil
	}
	moves, err := m.engine.EnforceHotCapacity(ctx)
	if err != nil {
		return res, nil, fmt.Errorf("enforce hot capacity: %w", err)
	}
	return res, moves, nil
}

// repeatWarm counts a repeat detection on a Warm record. The caller holds
// the warm lock and saves the aggregate.
func (m *Manager) repeatWarm(cur *models.LearningRecord, now time.Time) (*SubmitResult, string) {
	cur.Frequency++
	cur.LastAccessed = now
	m.scorer.Apply(cur)
	return &SubmitResult{Record: cur.Clone(), Duplicate: true}, cur.ID
}

// Validate runs the validator on a Hot record and persists the outcome.
// A duplicate is rejected and counts as a re-observation of the record it
// duplicates. A novel record below the frequency threshold stays Pending.
func (m *Manager) Validate(ctx context.Context, id string) (*ValidationResult, error) {
	rec, tier, err := m.Find(id)
	if err != nil {
		return nil, err
	}
	if tier != models.TierHot {
		return nil, fmt.Errorf("%w: %s is already in the %s tier", ErrInvalidTransition, id, tier)
	}
	switch rec.Status {
	case models.StatusPending, models.StatusValidated:
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, rec.Status)
	}

	var res *ValidationResult
	err = m.store.WithLock(ctx, inboxName, func() error {
		return m.store.WithLock(ctx, warmDoc, func() error {
			rec, err := m.inbox.get(id)
			if err != nil {
				return err
			}
			agg, err := m.warm.Load()
			if err != nil {
				return err
			}
			res, err = m.validator.Check(rec, agg)
			if err != nil {
				return err
			}

			now := m.now().UTC()
			switch res.Outcome {
			case OutcomeRejected:
				if err := rec.SetStatus(models.StatusRejected); err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
				}
				if dup := agg.Find(res.DuplicateOf); dup != nil {
					dup.Frequency++
					dup.LastAccessed = now
					m.scorer.Apply(dup)
					if err := m.warm.save(agg); err != nil {
						return err
					}
				}
			case OutcomeValidated:
				if err := rec.SetStatus(models.StatusValidated); err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
				}
			}
			m.scorer.Apply(rec)
			return m.inbox.put(rec)
		})
	})
	if err != nil {
		return nil, err
	}

	if res.Outcome == OutcomeRejected && res.DuplicateTier == "global" {
		m.recordGlobalHit(res.DuplicateOf, m.now().UTC())
	}
	m.logger.Info("learning validated",
		zap.String("learning_id", id),
		zap.String("outcome", string(res.Outcome)),
		zap.Strings("warnings", res.Warnings),
	)
	return res, nil
}

// Propose marks a validated Hot record as proposed for user confirmation.
func (m *Manager) Propose(ctx context.Context, id string) (*models.LearningRecord, error) {
	if _, tier, err := m.Find(id); err != nil {
		return nil, err
	} else if tier != models.TierHot {
		return nil, fmt.Errorf("%w: %s is in the %s tier", ErrInvalidTransition, id, tier)
	}
	return m.inbox.Update(ctx, id, func(rec *models.LearningRecord) error {
		if err := rec.SetStatus(models.StatusProposed); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		m.scorer.Apply(rec)
		return nil
	})
}

// Confirm records explicit confirmation and promotes the record to Warm.
func (m *Manager) Confirm(ctx context.Context, id string) (*models.LearningRecord, []Transition, error) {
	_, tier, err := m.Find(id)
	if err != nil {
		return nil, nil, err
	}

	confirm := func(rec *models.LearningRecord) error {
		if err := rec.SetStatus(models.StatusConfirmed); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		rec.LastAccessed = m.now().UTC()
		m.scorer.Apply(rec)
		return nil
	}

	switch tier {
	case models.TierHot:
		if _, err := m.inbox.Update(ctx, id, confirm); err != nil {
			return nil, nil, err
		}
		moves, err := m.engine.PromoteHotToWarm(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		rec, _, err := m.Find(id)
		return rec, moves, err
	case models.TierWarm:
		rec, err := m.warm.UpdateRecord(ctx, id, confirm)
		return rec, nil, err
	default:
		return nil, nil, fmt.Errorf("%w: %s is in the cold tier; recall it first", ErrNotEligible, id)
	}
}

// Show returns a record with fresh scores. Viewing a Hot or Warm record
// counts as an access.
func (m *Manager) Show(ctx context.Context, id string) (*models.LearningRecord, models.Tier, Scores, error) {
	_, tier, err := m.Find(id)
	if err != nil {
		return nil, "", Scores{}, err
	}

	var sc Scores
	touch := func(rec *models.LearningRecord) error {
		rec.AccessCount++
		rec.LastAccessed = m.now().UTC()
		sc = m.scorer.Apply(rec)
		return nil
	}

	var rec *models.LearningRecord
	switch tier {
	case models.TierHot:
		rec, err = m.inbox.Update(ctx, id, touch)
	case models.TierWarm:
		rec, err = m.warm.UpdateRecord(ctx, id, touch)
	default:
		rec, _, err = m.cold.Get(id)
		if err == nil {
			sc = m.scorer.Score(rec)
		}
	}
	if err != nil {
		return nil, "", Scores{}, err
	}
	return rec, tier, sc, nil
}

// ReviewItem is a Hot record with a suggested next step.
type ReviewItem struct {
	Record *models.LearningRecord
	Hint   string
}

// Review lists non-rejected Hot records with next-step hints.
func (m *Manager) Review() ([]ReviewItem, error) {
	recs, err := m.inbox.List(ListFilter{})
	if err != nil {
		return nil, err
	}
	threshold := m.cfg.Learning.PromotionThreshold
	items := make([]ReviewItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, ReviewItem{Record: rec, Hint: nextStep(rec, threshold)})
	}
	return items, nil
}

func nextStep(rec *models.LearningRecord, threshold int) string {
	switch rec.Status {
	case models.StatusPending:
		if rec.Frequency < threshold {
			return fmt.Sprintf("awaiting evidence (%d more detection(s)), or: tierlearn validate %s", threshold-rec.Frequency, rec.ID)
		}
		return "tierlearn validate " + rec.ID
	case models.StatusValidated:
		return fmt.Sprintf("tierlearn confirm %s  (or apply %s)", rec.ID, rec.ID)
	case models.StatusProposed:
		return "tierlearn confirm " + rec.ID
	case models.StatusConfirmed:
		return "tierlearn apply " + rec.ID
	default:
		return ""
	}
}

// StatusReport counts records per tier and status.
type StatusReport struct {
	ByTier      map[models.Tier]int
	ByStatus    map[models.Status]int
	Rejected    int
	MaxHot      int
	Quarters    []QuarterInfo
	Backups     int
	GlobalCount int
}

// Status gathers counts across every tier. Rejected records are counted
// by status only.
func (m *Manager) Status() (*StatusReport, error) {
	report := &StatusReport{
		ByTier:   make(map[models.Tier]int),
		ByStatus: make(map[models.Status]int),
		MaxHot:   m.cfg.Learning.MaxHotItems,
	}

	hot, err := m.inbox.List(ListFilter{IncludeRejected: true})
	if err != nil {
		return nil, err
	}
	for _, rec := range hot {
		report.ByStatus[rec.Status]++
		if rec.Status == models.StatusRejected {
			report.Rejected++
			continue
		}
		report.ByTier[models.TierHot]++
	}

	agg, err := m.warm.Load()
	if err != nil {
		return nil, err
	}
	for _, rec := range agg.All() {
		report.ByTier[models.TierWarm]++
		report.ByStatus[rec.Status]++
	}

	cold, err := m.cold.List()
	if err != nil {
		return nil, err
	}
	for _, rec := range cold {
		report.ByTier[models.TierCold]++
		report.ByStatus[rec.Status]++
	}

	if report.Quarters, err = m.cold.Quarters(); err != nil {
		return nil, err
	}
	backups, err := m.backups.List()
	if err != nil {
		return nil, err
	}
	report.Backups = len(backups)
	if report.GlobalCount, err = m.global.Count(); err != nil {
		return nil, err
	}
	return report, nil
}

// History returns the newest change and rollback entries.
func (m *Manager) History(changes, rollbacks int) ([]audit.ChangeEntry, []audit.RollbackEntry, error) {
	c, err := m.audit.RecentChanges(changes)
	if err != nil {
		return nil, nil, err
	}
	r, err := m.audit.RecentRollbacks(rollbacks)
	if err != nil {
		return nil, nil, err
	}
	return c, r, nil
}

func (m *Manager) recordGlobalHit(id string, at time.Time) {
	if err := m.global.RecordHit(id, at); err != nil {
		m.logger.Warn("record global hit failed", zap.String("learning_id", id), zap.Error(err))
	}
}
