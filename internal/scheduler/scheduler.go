// Package scheduler runs the periodic archival cycle: promote eligible Hot
// records, demote idle Warm records, enforce Hot capacity, compress past
// Cold quarters and snapshot the Global index. It keeps a small state
// document with last-run times and cumulative counters.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/tierlearn/internal/archive"
	"github.com/ShayCichocki/tierlearn/internal/docstore"
	"github.com/ShayCichocki/tierlearn/internal/learning"
	"github.com/ShayCichocki/tierlearn/internal/logging"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// stateDoc is the scheduler state document under the state directory.
const stateDoc = "scheduler.json"

// Job names recorded in the state document.
const (
	JobRun        = "run"
	JobHotToWarm  = "hot2warm"
	JobWarmToCold = "warm2cold"
	JobCapacity   = "capacity"
	JobCompress   = "compress"
	JobRecall     = "recall"
	JobSnapshot   = "snapshot"
)

// State is persisted between runs.
type State struct {
	LastRun      map[string]time.Time `json:"last_run"`
	Promotions   int                  `json:"promotions"`
	Demotions    int                  `json:"demotions"`
	Compressions int                  `json:"compressions"`
	Recalls      int                  `json:"recalls"`
}

// Report describes one full run.
type Report struct {
	Promoted   []learning.Transition
	Demoted    []learning.Transition
	Evicted    []learning.Transition
	Compressed *archive.Result
	Snapshot   string
	Duration   time.Duration
}

// Scheduler drives the tier engine on a schedule.
type Scheduler struct {
	mgr         *learning.Manager
	metricsFile string
	logger      *zap.Logger
	now         func() time.Time // For testing
}

// New creates a Scheduler over mgr. metricsFile may be empty.
func New(mgr *learning.Manager, metricsFile string, logger *zap.Logger) *Scheduler {
	logger = logging.OrNop(logger)
	return &Scheduler{
		mgr:         mgr,
		metricsFile: metricsFile,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// State reads the scheduler state document.
func (s *Scheduler) State() (*State, error) {
	return docstore.Read[State](s.mgr.Store(), stateDoc)
}

// HotToWarm promotes every eligible Hot record.
func (s *Scheduler) HotToWarm(ctx context.Context) ([]learning.Transition, error) {
	moves, err := s.mgr.Engine().PromoteEligible(ctx)
	if err != nil {
		return nil, err
	}
	return moves, s.record(ctx, JobHotToWarm, moves, 0)
}

// WarmToCold demotes Warm records idle past the demotion window.
func (s *Scheduler) WarmToCold(ctx context.Context) ([]learning.Transition, error) {
	moves, err := s.mgr.Engine().DemoteInactive(ctx)
	if err != nil {
		return nil, err
	}
	return moves, s.record(ctx, JobWarmToCold, moves, 0)
}

// EnforceCapacity trims the Hot tier to its configured maximum.
func (s *Scheduler) EnforceCapacity(ctx context.Context) ([]learning.Transition, error) {
	moves, err := s.mgr.Engine().EnforceHotCapacity(ctx)
	if err != nil {
		return nil, err
	}
	return moves, s.record(ctx, JobCapacity, moves, 0)
}

// Compress archives every past Cold quarter.
func (s *Scheduler) Compress(ctx context.Context) (*archive.Result, error) {
	res, err := s.mgr.Cold().Compress(ctx)
	if err != nil {
		return nil, err
	}
	return res, s.record(ctx, JobCompress, nil, len(res.Compressed))
}

// Recall brings a Cold record back to Warm.
func (s *Scheduler) Recall(ctx context.Context, id string) ([]learning.Transition, error) {
	moves, err := s.mgr.Engine().Recall(ctx, id)
	if err != nil {
		return nil, err
	}
	return moves, s.record(ctx, JobRecall, moves, 0)
}

// Run executes the full cycle. A failing step stops the run; the counters
// of steps that completed are kept.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	start := s.now()
	report := &Report{}
	var err error

	if report.Promoted, err = s.HotToWarm(ctx); err != nil {
		return report, fmt.Errorf("hot2warm: %w", err)
	}
	if report.Demoted, err = s.WarmToCold(ctx); err != nil {
		return report, fmt.Errorf("warm2cold: %w", err)
	}
	if report.Evicted, err = s.EnforceCapacity(ctx); err != nil {
		return report, fmt.Errorf("capacity: %w", err)
	}
	if report.Compressed, err = s.Compress(ctx); err != nil {
		return report, fmt.Errorf("compress: %w", err)
	}
	if report.Snapshot, err = s.Snapshot(ctx); err != nil {
		return report, fmt.Errorf("snapshot: %w", err)
	}
	if err := s.record(ctx, JobRun, nil, 0); err != nil {
		return report, err
	}
	report.Duration = s.now().Sub(start)

	if s.metricsFile != "" {
		st, err := s.State()
		if err != nil {
			return report, err
		}
		if err := WriteMetrics(s.metricsFile, st); err != nil {
			return report, err
		}
	}

	s.logger.Info("archival run complete",
		zap.Int("promoted", len(report.Promoted)),
		zap.Int("demoted", len(report.Demoted)),
		zap.Int("evicted", len(report.Evicted)),
		zap.Int("quarters_compressed", len(report.Compressed.Compressed)),
		zap.String("snapshot", report.Snapshot),
	)
	return report, nil
}

// Snapshot writes the dated Global aggregate document,
// global/global-YYYY-MM-DD.json, and returns its path.
func (s *Scheduler) Snapshot(ctx context.Context) (string, error) {
	entries, err := s.mgr.Global().All()
	if err != nil {
		return "", err
	}
	if entries == nil {
		entries = []*learning.GlobalEntry{}
	}
	now := s.now().UTC()
	path := filepath.Join(filepath.Dir(s.mgr.Global().Path()), "global-"+now.Format("2006-01-02")+".json")
	doc := struct {
		GeneratedAt time.Time               `json:"generated_at"`
		Learnings   []*learning.GlobalEntry `json:"learnings"`
	}{now, entries}
	if err := docstore.WriteJSON(path, doc); err != nil {
		return "", err
	}
	return path, s.record(ctx, JobSnapshot, nil, 0)
}

// record stamps a job's last run and adds its moves to the counters.
func (s *Scheduler) record(ctx context.Context, job string, moves []learning.Transition, compressed int) error {
	return docstore.Update(ctx, s.mgr.Store(), stateDoc, func(st *State) error {
		if st.LastRun == nil {
			st.LastRun = make(map[string]time.Time)
		}
		st.LastRun[job] = s.now().UTC()
		for _, m := range moves {
			switch {
			case m.From == models.TierHot && m.To == models.TierWarm:
				st.Promotions++
			case m.From == models.TierCold && m.To == models.TierWarm:
				st.Recalls++
			case m.To == models.TierCold:
				st.Demotions++
			}
		}
		st.Compressions += compressed
		return nil
	})
}
