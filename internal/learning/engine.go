package learning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/tierlearn/internal/docstore"
	"github.com/ShayCichocki/tierlearn/internal/logging"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// EngineConfig holds the tier thresholds.
type EngineConfig struct {
	PromotionThreshold int
	MaxHotItems        int
	DemotionWindow     time.Duration
}

// Transition records one tier move.
type Transition struct {
	ID     string
	From   models.Tier
	To     models.Tier
	Reason string
}

// Engine moves records between tiers. Locks are always taken in the order
// inbox, warm, cold.
type Engine struct {
	store  *docstore.Store
	inbox  *Inbox
	warm   *Warm
	cold   *Cold
	scorer *Scorer
	cfg    EngineConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an Engine over the three tiers.
func NewEngine(store *docstore.Store, inbox *Inbox, warm *Warm, cold *Cold, scorer *Scorer, cfg EngineConfig, logger *zap.Logger) *Engine {
	logger = logging.OrNop(logger)
	return &Engine{
		store:  store,
		inbox:  inbox,
		warm:   warm,
		cold:   cold,
		scorer: scorer,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Eligible reports whether a Hot record may be promoted to Warm.
func (e *Engine) Eligible(rec *models.LearningRecord) bool {
	switch rec.Status {
	case models.StatusConfirmed:
		return true
	case models.StatusValidated:
		return rec.Frequency >= e.cfg.PromotionThreshold
	default:
		return false
	}
}

// PromoteHotToWarm moves an eligible Hot record into the Warm aggregate.
// Promoting a record that is already Warm is a no-op. When a Warm record
// shares the pattern key, the loser of the conflict goes to Cold as
// superseded.
func (e *Engine) PromoteHotToWarm(ctx context.Context, id string) ([]Transition, error) {
	var moves []Transition
	err := e.locked(ctx, func() error {
		agg, err := e.warm.Load()
		if err != nil {
			return err
		}
		if agg.Find(id) != nil {
			// Finish an interrupted promotion.
			return e.inbox.remove(id)
		}

		rec, err := e.inbox.get(id)
		if err != nil {
			return err
		}
		if rec.Status == models.StatusRejected {
			return fmt.Errorf("%w: %s is rejected", ErrInvalidTransition, id)
		}
		if !e.Eligible(rec) {
			return fmt.Errorf("%w: %s is %s with %d/%d detections",
				ErrNotEligible, id, rec.Status, rec.Frequency, e.cfg.PromotionThreshold)
		}
		if err := models.CheckTierMove(rec.Tier, models.TierWarm); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}

		now := e.now().UTC()
		rec.Tier = models.TierWarm
		rec.PromotedAt = &now
		e.scorer.Apply(rec)
		moves = append(moves, Transition{ID: id, From: models.TierHot, To: models.TierWarm})

		var loser *models.LearningRecord
		if dup := agg.FindKey(rec); dup != nil {
			var winner *models.LearningRecord
			winner, loser = models.Resolve(rec, dup)
			from := models.TierWarm
			agg.Remove(loser.ID)
			if winner == rec {
				agg.Put(rec)
			} else {
				from = models.TierHot
				moves = nil
			}
			e.demote(loser, models.ReasonSuperseded, now)
			moves = append(moves, Transition{ID: loser.ID, From: from, To: models.TierCold, Reason: models.ReasonSuperseded})
		} else {
			agg.Put(rec)
		}

		if err := e.warm.save(agg); err != nil {
			return err
		}
		if loser != nil {
			if err := e.cold.put(loser); err != nil {
				return err
			}
		}
		return e.inbox.remove(id)
	})
	if err != nil {
		return nil, err
	}
	e.logMoves(moves)
	return moves, nil
}

// PromoteEligible promotes every eligible Hot record.
func (e *Engine) PromoteEligible(ctx context.Context) ([]Transition, error) {
	recs, err := e.inbox.List(ListFilter{})
	if err != nil {
		return nil, err
	}
	var moves []Transition
	for _, rec := range recs {
		if !e.Eligible(rec) {
			continue
		}
		m, err := e.PromoteHotToWarm(ctx, rec.ID)
		if err != nil {
			return moves, fmt.Errorf("promote %s: %w", rec.ID, err)
		}
		moves = append(moves, m...)
	}
	return moves, nil
}

// DemoteInactive moves Warm records idle for at least the demotion window
// into the current quarter of the Cold tier.
func (e *Engine) DemoteInactive(ctx context.Context) ([]Transition, error) {
	var moves []Transition
	err := e.locked(ctx, func() error {
		agg, err := e.warm.Load()
		if err != nil {
			return err
		}

		now := e.now().UTC()
		var idle []*models.LearningRecord
		for _, rec := range agg.All() {
			if now.Sub(rec.LastActivity()) >= e.cfg.DemotionWindow {
				idle = append(idle, rec)
			}
		}
		if len(idle) == 0 {
			return nil
		}

		// Cold copies are written before the Warm entries are dropped.
		for _, rec := range idle {
			e.demote(rec, models.ReasonInactivity, now)
			if err := e.cold.put(rec); err != nil {
				return err
			}
			moves = append(moves, Transition{ID: rec.ID, From: models.TierWarm, To: models.TierCold, Reason: models.ReasonInactivity})
		}
		for _, rec := range idle {
			agg.Remove(rec.ID)
		}
		return e.warm.save(agg)
	}, inboxName)
	if err != nil {
		return nil, err
	}
	e.logMoves(moves)
	return moves, nil
}

// EnforceHotCapacity sends the lowest-priority Hot records straight to Cold
// until at most MaxHotItems non-rejected records remain.
func (e *Engine) EnforceHotCapacity(ctx context.Context) ([]Transition, error) {
	var moves []Transition
	err := e.locked(ctx, func() error {
		recs, err := e.inbox.all()
		if err != nil {
			return err
		}
		var active []*models.LearningRecord
		for _, rec := range recs {
			if rec.Status != models.StatusRejected {
				e.scorer.Apply(rec)
				active = append(active, rec)
			}
		}
		excess := len(active) - e.cfg.MaxHotItems
		if excess <= 0 {
			return nil
		}

		sort.SliceStable(active, func(i, j int) bool { return lessPriority(active[i], active[j]) })

		now := e.now().UTC()
		for _, rec := range active[:excess] {
			e.demote(rec, models.ReasonCapacityOverflow, now)
			if err := e.cold.put(rec); err != nil {
				return err
			}
			if err := e.inbox.remove(rec.ID); err != nil {
				return err
			}
			moves = append(moves, Transition{ID: rec.ID, From: models.TierHot, To: models.TierCold, Reason: models.ReasonCapacityOverflow})
		}
		return nil
	}, warmDoc)
	if err != nil {
		return nil, err
	}
	e.logMoves(moves)
	return moves, nil
}

// Recall moves a Cold record back into the Warm aggregate, extracting it
// from its quarter archive if the quarter was compressed. Recalling a
// record that is already Warm only cleans up a stale Cold copy.
func (e *Engine) Recall(ctx context.Context, id string) ([]Transition, error) {
	var moves []Transition
	err := e.locked(ctx, func() error {
		agg, err := e.warm.Load()
		if err != nil {
			return err
		}
		if agg.Find(id) != nil {
			_, loc, err := e.cold.find(id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return e.cold.take(id, loc)
		}

		rec, loc, err := e.cold.find(id)
		if err != nil {
			return err
		}
		if err := models.CheckTierMove(models.TierCold, models.TierWarm); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}

		now := e.now().UTC()
		rec.Tier = models.TierWarm
		rec.RecallCount++
		rec.RecalledAt = &now
		rec.DemotionReason = ""
		e.scorer.Apply(rec)
		moves = append(moves, Transition{ID: id, From: models.TierCold, To: models.TierWarm})

		var loser *models.LearningRecord
		if dup := agg.FindKey(rec); dup != nil {
			winner, l := models.Resolve(rec, dup)
			if winner != rec {
				return fmt.Errorf("%w: %s is superseded by warm record %s", ErrConflict, id, dup.ID)
			}
			loser = l
			agg.Remove(loser.ID)
			e.demote(loser, models.ReasonSuperseded, now)
			moves = append(moves, Transition{ID: loser.ID, From: models.TierWarm, To: models.TierCold, Reason: models.ReasonSuperseded})
		}
		agg.Put(rec)

		if err := e.warm.save(agg); err != nil {
			return err
		}
		if err := e.cold.take(id, loc); err != nil {
			return err
		}
		if loser != nil {
			return e.cold.put(loser)
		}
		return nil
	}, inboxName)
	if err != nil {
		return nil, err
	}
	e.logMoves(moves)
	return moves, nil
}

// demote stamps a record as moved to Cold.
func (e *Engine) demote(rec *models.LearningRecord, reason string, at time.Time) {
	rec.Tier = models.TierCold
	rec.DemotedAt = &at
	rec.DemotionReason = reason
}

// locked runs fn holding the inbox, warm and cold locks in order, minus any
// names listed in skip.
func (e *Engine) locked(ctx context.Context, fn func() error, skip ...string) error {
	names := []string{inboxName, warmDoc, coldName}
	var chain func(i int) error
	chain = func(i int) error {
		if i == len(names) {
			return fn()
		}
		for _, s := range skip {
			if s == names[i] {
				return chain(i + 1)
			}
		}
		return e.store.WithLock(ctx, names[i], func() error { return chain(i + 1) })
	}
	return chain(0)
}

func (e *Engine) logMoves(moves []Transition) {
	for _, m := range moves {
		e.logger.Info("tier transition",
			zap.String("learning_id", m.ID),
			zap.String("from", string(m.From)),
			zap.String("to", string(m.To)),
			zap.String("reason", m.Reason),
		)
	}
}
