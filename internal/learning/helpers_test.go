package learning

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ShayCichocki/tierlearn/internal/config"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// newTestManager builds a Manager over a temp project with a fixed clock.
func newTestManager(t *testing.T, tweak ...func(*config.Config)) (*Manager, *testClock) {
	t.Helper()
	cfg := config.Default()
	cfg.Resolve(t.TempDir())
	cfg.Locks.Timeout = 5 * time.Second
	for _, fn := range tweak {
		fn(cfg)
	}

	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })

	clock := &testClock{now: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)}
	m.SetClock(clock.Now)
	return m, clock
}

func codePattern(id, desc string, freq int) *models.LearningRecord {
	return &models.LearningRecord{
		ID:          id,
		Type:        models.TypeCodePattern,
		Description: desc,
		Frequency:   freq,
		Context: map[string]any{
			"files":   []any{"internal/store.go"},
			"example": "return fmt.Errorf(\"open: %w\", err)",
		},
	}
}

func mustSubmit(t *testing.T, m *Manager, rec *models.LearningRecord) *SubmitResult {
	t.Helper()
	res, _, err := m.Submit(context.Background(), rec)
	if err != nil {
		t.Fatalf("Submit(%s) error = %v", rec.ID, err)
	}
	return res
}

// pendingHot places a Pending record straight into the inbox, as if it had
// been captured before a matching record reached the Warm tier.
func pendingHot(t *testing.T, m *Manager, rec *models.LearningRecord) {
	t.Helper()
	now := m.now()
	rec.Status = models.StatusPending
	rec.Tier = models.TierHot
	rec.Scope = models.ScopeProject
	rec.PatternKey = rec.Key()
	rec.CreatedAt, rec.LastAccessed = now, now
	if _, err := m.inbox.Submit(context.Background(), rec); err != nil {
		t.Fatalf("inbox.Submit(%s) error = %v", rec.ID, err)
	}
}

// promote drives a record from submission into the Warm tier.
func promote(t *testing.T, m *Manager, id, desc string) {
	t.Helper()
	ctx := context.Background()
	mustSubmit(t, m, codePattern(id, desc, m.cfg.Learning.PromotionThreshold))
	res, err := m.Validate(ctx, id)
	if err != nil {
		t.Fatalf("Validate(%s) error = %v", id, err)
	}
	if res.Outcome != OutcomeValidated {
		t.Fatalf("Validate(%s) outcome = %s, want validated", id, res.Outcome)
	}
	if _, _, err := m.Confirm(ctx, id); err != nil {
		t.Fatalf("Confirm(%s) error = %v", id, err)
	}
}

func hotIDs(t *testing.T, m *Manager) []string {
	t.Helper()
	recs, err := m.Inbox().List(ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

func seq(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%02d", prefix, i)
	}
	return out
}
