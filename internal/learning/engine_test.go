package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/tierlearn/internal/config"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

func TestPromoteHotToWarm(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	promote(t, m, "pat_001", "Wrap errors with context")

	rec, err := m.Warm().Get("pat_001")
	if err != nil {
		t.Fatalf("Warm().Get() error = %v", err)
	}
	if rec.Tier != models.TierWarm || rec.Status != models.StatusConfirmed {
		t.Errorf("got tier=%s status=%s, want warm/confirmed", rec.Tier, rec.Status)
	}
	if rec.PromotedAt == nil || !rec.PromotedAt.Equal(clock.now) {
		t.Errorf("PromotedAt = %v, want %v", rec.PromotedAt, clock.now)
	}
	if _, err := m.Inbox().Get("pat_001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("inbox still holds pat_001, err = %v", err)
	}

	// A second promotion is a no-op.
	moves, err := m.Engine().PromoteHotToWarm(ctx, "pat_001")
	if err != nil {
		t.Fatalf("second PromoteHotToWarm() error = %v", err)
	}
	if len(moves) != 0 {
		t.Errorf("second promotion moved %v", moves)
	}
	agg, err := m.Warm().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if agg.Len() != 1 {
		t.Errorf("warm holds %d records, want 1", agg.Len())
	}
}

func TestPromoteHotToWarm_FinishesInterruptedMove(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	promote(t, m, "pat_001", "Wrap errors with context")
	rec, err := m.Warm().Get("pat_001")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	// Simulate a crash between the warm write and the inbox removal.
	rec.Tier = models.TierHot
	if err := m.inbox.put(rec); err != nil {
		t.Fatalf("put() error = %v", err)
	}

	if _, err := m.Engine().PromoteHotToWarm(ctx, "pat_001"); err != nil {
		t.Fatalf("PromoteHotToWarm() error = %v", err)
	}
	if _, err := m.Inbox().Get("pat_001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale inbox copy not removed, err = %v", err)
	}
}

func TestPromoteHotToWarm_NotEligible(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	mustSubmit(t, m, codePattern("pat_001", "Wrap errors with context", 1))
	if _, err := m.Engine().PromoteHotToWarm(ctx, "pat_001"); !errors.Is(err, ErrNotEligible) {
		t.Errorf("pending promotion error = %v, want ErrNotEligible", err)
	}

	// Validated but short of the threshold.
	if _, err := m.inbox.Update(ctx, "pat_001", func(rec *models.LearningRecord) error {
		return rec.SetStatus(models.StatusValidated)
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := m.Engine().PromoteHotToWarm(ctx, "pat_001"); !errors.Is(err, ErrNotEligible) {
		t.Errorf("low-frequency promotion error = %v, want ErrNotEligible", err)
	}
	if _, err := m.Engine().PromoteHotToWarm(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing promotion error = %v, want ErrNotFound", err)
	}
}

func TestPromoteEligible(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"pat_a", "pat_b"} {
		mustSubmit(t, m, codePattern(id, "pattern "+id, 3))
		if _, err := m.Validate(ctx, id); err != nil {
			t.Fatalf("Validate(%s) error = %v", id, err)
		}
	}
	mustSubmit(t, m, codePattern("pat_c", "pattern pat_c", 1))

	moves, err := m.Engine().PromoteEligible(ctx)
	if err != nil {
		t.Fatalf("PromoteEligible() error = %v", err)
	}
	if len(moves) != 2 {
		t.Fatalf("PromoteEligible() moved %d records, want 2", len(moves))
	}
	if ids := hotIDs(t, m); len(ids) != 1 || ids[0] != "pat_c" {
		t.Errorf("hot tier = %v, want [pat_c]", ids)
	}
}

// explicitHot places a confirmed explicit record straight into the inbox.
func explicitHot(t *testing.T, m *Manager, id, desc string, now time.Time) {
	t.Helper()
	rec := codePattern(id, desc, 1)
	rec.Explicit = true
	rec.Status = models.StatusConfirmed
	rec.Tier = models.TierHot
	rec.Scope = models.ScopeProject
	rec.CreatedAt, rec.LastAccessed = now, now
	if _, err := m.inbox.Submit(context.Background(), rec); err != nil {
		t.Fatalf("inbox.Submit(%s) error = %v", id, err)
	}
}

func TestPromoteHotToWarm_SupersedesWarmRecord(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	promote(t, m, "pat_old", "Wrap errors with context")
	clock.Advance(time.Hour)
	explicitHot(t, m, "pat_new", "Wrap errors with context", clock.now)

	moves, err := m.Engine().PromoteHotToWarm(ctx, "pat_new")
	if err != nil {
		t.Fatalf("PromoteHotToWarm() error = %v", err)
	}
	want := []Transition{
		{ID: "pat_new", From: models.TierHot, To: models.TierWarm},
		{ID: "pat_old", From: models.TierWarm, To: models.TierCold, Reason: models.ReasonSuperseded},
	}
	if len(moves) != len(want) {
		t.Fatalf("moves = %v, want %v", moves, want)
	}
	for i := range want {
		if moves[i] != want[i] {
			t.Errorf("moves[%d] = %v, want %v", i, moves[i], want[i])
		}
	}

	if _, err := m.Warm().Get("pat_new"); err != nil {
		t.Errorf("pat_new not in warm: %v", err)
	}
	old, loc, err := m.Cold().Get("pat_old")
	if err != nil {
		t.Fatalf("Cold().Get() error = %v", err)
	}
	if old.DemotionReason != models.ReasonSuperseded {
		t.Errorf("DemotionReason = %q, want superseded", old.DemotionReason)
	}
	if loc.Quarter.String() != "2026-Q1" {
		t.Errorf("quarter = %s, want 2026-Q1", loc.Quarter)
	}
}

func TestPromoteHotToWarm_IncomingLoses(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	explicitHot(t, m, "pat_explicit", "Wrap errors with context", clock.now)
	if _, err := m.Engine().PromoteHotToWarm(ctx, "pat_explicit"); err != nil {
		t.Fatalf("PromoteHotToWarm() error = %v", err)
	}

	// An inferred project record cannot displace an explicit one.
	clock.Advance(time.Hour)
	rec := codePattern("pat_inferred", "wrap errors with context", 5)
	rec.Status = models.StatusConfirmed
	rec.Tier = models.TierHot
	rec.Scope = models.ScopeProject
	rec.CreatedAt, rec.LastAccessed = clock.now, clock.now
	if _, err := m.inbox.Submit(ctx, rec); err != nil {
		t.Fatalf("inbox.Submit() error = %v", err)
	}

	moves, err := m.Engine().PromoteHotToWarm(ctx, "pat_inferred")
	if err != nil {
		t.Fatalf("PromoteHotToWarm() error = %v", err)
	}
	if len(moves) != 1 || moves[0].From != models.TierHot || moves[0].To != models.TierCold {
		t.Fatalf("moves = %v, want a single hot->cold move", moves)
	}
	if _, err := m.Warm().Get("pat_explicit"); err != nil {
		t.Errorf("explicit record left warm: %v", err)
	}
	if _, _, err := m.Cold().Get("pat_inferred"); err != nil {
		t.Errorf("inferred record not in cold: %v", err)
	}
	if _, err := m.Inbox().Get("pat_inferred"); !errors.Is(err, ErrNotFound) {
		t.Errorf("inferred record still in inbox, err = %v", err)
	}
}

func TestDemoteInactive(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	promote(t, m, "pat_a", "Wrap errors with context")
	promote(t, m, "pat_b", "Close response bodies")

	clock.Advance(20 * 24 * time.Hour)
	if _, _, _, err := m.Show(ctx, "pat_b"); err != nil {
		t.Fatalf("Show() error = %v", err)
	}

	clock.Advance(10*24*time.Hour - time.Minute)
	moves, err := m.Engine().DemoteInactive(ctx)
	if err != nil {
		t.Fatalf("DemoteInactive() error = %v", err)
	}
	if len(moves) != 0 {
		t.Fatalf("demoted %v before the window elapsed", moves)
	}

	clock.Advance(time.Minute)
	moves, err = m.Engine().DemoteInactive(ctx)
	if err != nil {
		t.Fatalf("DemoteInactive() error = %v", err)
	}
	if len(moves) != 1 || moves[0].ID != "pat_a" || moves[0].Reason != models.ReasonInactivity {
		t.Fatalf("moves = %v, want pat_a demoted for inactivity", moves)
	}

	if _, err := m.Warm().Get("pat_a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("pat_a still warm, err = %v", err)
	}
	if _, err := m.Warm().Get("pat_b"); err != nil {
		t.Errorf("pat_b left warm: %v", err)
	}
	rec, loc, err := m.Cold().Get("pat_a")
	if err != nil {
		t.Fatalf("Cold().Get() error = %v", err)
	}
	if rec.Tier != models.TierCold || rec.DemotedAt == nil {
		t.Errorf("cold record tier=%s demoted_at=%v", rec.Tier, rec.DemotedAt)
	}
	if loc.Quarter != models.QuarterOf(clock.now) {
		t.Errorf("quarter = %s, want %s", loc.Quarter, models.QuarterOf(clock.now))
	}
}

func TestEnforceHotCapacity(t *testing.T) {
	m, clock := newTestManager(t)

	ids := seq("rec", 21)
	var last []Transition
	for i, id := range ids {
		_, moves, err := m.Submit(context.Background(), codePattern(id, "pattern "+id, 1))
		if err != nil {
			t.Fatalf("Submit(%s) error = %v", id, err)
		}
		if i < 20 && len(moves) != 0 {
			t.Fatalf("Submit(%s) evicted %v below capacity", id, moves)
		}
		last = moves
		clock.Advance(time.Hour)
	}

	if len(last) != 1 || last[0].ID != "rec-00" || last[0].Reason != models.ReasonCapacityOverflow {
		t.Fatalf("eviction = %v, want rec-00 for capacity_overflow", last)
	}
	if got := len(hotIDs(t, m)); got != 20 {
		t.Errorf("hot tier holds %d records, want 20", got)
	}
	rec, _, err := m.Cold().Get("rec-00")
	if err != nil {
		t.Fatalf("Cold().Get() error = %v", err)
	}
	if rec.DemotionReason != models.ReasonCapacityOverflow {
		t.Errorf("DemotionReason = %q", rec.DemotionReason)
	}
}

func TestEnforceHotCapacity_IgnoresRejected(t *testing.T) {
	m, _ := newTestManager(t, func(c *config.Config) { c.Learning.MaxHotItems = 1 })
	ctx := context.Background()

	promote(t, m, "pat_a", "Wrap errors with context")
	pendingHot(t, m, codePattern("pat_dup", "wrap errors with context", 3))
	if _, err := m.Validate(ctx, "pat_dup"); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	mustSubmit(t, m, codePattern("pat_b", "Close response bodies", 1))

	moves, err := m.Engine().EnforceHotCapacity(ctx)
	if err != nil {
		t.Fatalf("EnforceHotCapacity() error = %v", err)
	}
	if len(moves) != 0 {
		t.Errorf("rejected record counted toward capacity: %v", moves)
	}
}

func TestRecall_FromArchive(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	promote(t, m, "pat_a", "Wrap errors with context")
	clock.Advance(31 * 24 * time.Hour)
	if _, err := m.Engine().DemoteInactive(ctx); err != nil {
		t.Fatalf("DemoteInactive() error = %v", err)
	}

	clock.now = time.Date(2026, 4, 20, 9, 0, 0, 0, time.UTC)
	res, err := m.Cold().Compress(ctx)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if len(res.Compressed) != 1 || res.Compressed[0].String() != "2026-Q1" {
		t.Fatalf("Compressed = %v, want [2026-Q1]", res.Compressed)
	}
	_, loc, err := m.Cold().Get("pat_a")
	if err != nil {
		t.Fatalf("Cold().Get() error = %v", err)
	}
	if !loc.Archived {
		t.Fatal("pat_a should be read from the archive")
	}

	moves, err := m.Engine().Recall(ctx, "pat_a")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(moves) != 1 || moves[0].From != models.TierCold || moves[0].To != models.TierWarm {
		t.Errorf("moves = %v", moves)
	}

	rec, err := m.Warm().Get("pat_a")
	if err != nil {
		t.Fatalf("Warm().Get() error = %v", err)
	}
	if rec.RecallCount != 1 || rec.RecalledAt == nil || rec.DemotionReason != "" {
		t.Errorf("recalled record = count %d at %v reason %q", rec.RecallCount, rec.RecalledAt, rec.DemotionReason)
	}
	if _, _, err := m.Cold().Get("pat_a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("pat_a still in cold, err = %v", err)
	}

	// Recalling again only checks for a stale cold copy.
	moves, err = m.Engine().Recall(ctx, "pat_a")
	if err != nil || len(moves) != 0 {
		t.Errorf("second Recall() = %v, %v", moves, err)
	}
}

func TestRecall_Missing(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Engine().Recall(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Recall() error = %v, want ErrNotFound", err)
	}
}
