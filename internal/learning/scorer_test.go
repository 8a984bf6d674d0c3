package learning

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/ShayCichocki/tierlearn/pkg/models"
)

func newTestScorer(now time.Time) *Scorer {
	s := NewScorer(30 * 24 * time.Hour)
	s.now = func() time.Time { return now }
	return s
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScorer_Components(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	s := newTestScorer(now)

	tests := []struct {
		name          string
		rec           models.LearningRecord
		wantFreq      float64
		wantRecency   float64
		wantConfirmed float64
		wantConsist   float64
		wantBonus     float64
	}{
		{
			name:        "fresh pending",
			rec:         models.LearningRecord{Type: models.TypeCodePattern, Frequency: 1, Status: models.StatusPending, LastAccessed: now},
			wantFreq:    0.1,
			wantRecency: 1,
			wantBonus:   1,
		},
		{
			name:          "validated, one half-life old",
			rec:           models.LearningRecord{Type: models.TypeCodePattern, Frequency: 3, Status: models.StatusValidated, LastAccessed: now.Add(-30 * 24 * time.Hour)},
			wantFreq:      0.3,
			wantRecency:   0.5,
			wantConfirmed: 0.5,
		},
		{
			name: "confirmed, saturated frequency, full context",
			rec: models.LearningRecord{
				Type: models.TypeSkillGap, Frequency: 25, Status: models.StatusConfirmed,
				LastAccessed: now.Add(-3 * 24 * time.Hour),
				Context:      map[string]any{"skill": "docker", "keywords": []any{"compose"}},
			},
			wantFreq:      1,
			wantRecency:   math.Pow(0.5, 0.1),
			wantConfirmed: 1,
			wantConsist:   1,
			wantBonus:     0.5,
		},
		{
			name: "half the context",
			rec: models.LearningRecord{
				Type: models.TypeCodePattern, Frequency: 0, Status: models.StatusRejected,
				LastAccessed: now.Add(-60 * 24 * time.Hour),
				Context:      map[string]any{"files": "a.go", "example": ""},
			},
			wantRecency: 0.25,
			wantConsist: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := s.Score(&tt.rec)
			if !approx(sc.FrequencyNorm, tt.wantFreq) {
				t.Errorf("FrequencyNorm = %v, want %v", sc.FrequencyNorm, tt.wantFreq)
			}
			if !approx(sc.RecencyNorm, tt.wantRecency) {
				t.Errorf("RecencyNorm = %v, want %v", sc.RecencyNorm, tt.wantRecency)
			}
			if !approx(sc.ConfirmedNorm, tt.wantConfirmed) {
				t.Errorf("ConfirmedNorm = %v, want %v", sc.ConfirmedNorm, tt.wantConfirmed)
			}
			if !approx(sc.ConsistencyNorm, tt.wantConsist) {
				t.Errorf("ConsistencyNorm = %v, want %v", sc.ConsistencyNorm, tt.wantConsist)
			}
			if !approx(sc.RecencyBonus, tt.wantBonus) {
				t.Errorf("RecencyBonus = %v, want %v", sc.RecencyBonus, tt.wantBonus)
			}

			wantConf := 0.30*tt.wantFreq + 0.25*tt.wantRecency + 0.25*tt.wantConfirmed + 0.20*tt.wantConsist
			if !approx(sc.Confidence, wantConf) {
				t.Errorf("Confidence = %v, want %v", sc.Confidence, wantConf)
			}
			wantPrio := wantConf*50 + float64(tt.rec.AccessCount)*30 + tt.wantBonus*20
			if !approx(sc.Priority, wantPrio) {
				t.Errorf("Priority = %v, want %v", sc.Priority, wantPrio)
			}
		})
	}
}

func TestScorer_AccessCountDominatesPriority(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	s := newTestScorer(now)

	idle := &models.LearningRecord{Frequency: 10, Status: models.StatusConfirmed, LastAccessed: now}
	used := &models.LearningRecord{Frequency: 1, Status: models.StatusPending, LastAccessed: now.Add(-90 * 24 * time.Hour), AccessCount: 2}

	if s.Score(used).Priority <= s.Score(idle).Priority {
		t.Errorf("two accesses should outrank a fresh confirmed record: used=%v idle=%v",
			s.Score(used).Priority, s.Score(idle).Priority)
	}
}

func TestScorer_ApplyRounds(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	s := newTestScorer(now)
	rec := &models.LearningRecord{Frequency: 1, LastAccessed: now.Add(-time.Hour)}

	s.Apply(rec)
	if rec.Confidence != round(rec.Confidence, 4) {
		t.Errorf("Confidence %v not rounded to 4 places", rec.Confidence)
	}
	if rec.Priority == 0 {
		t.Error("Apply() did not store a priority")
	}
}

func TestLessPriority(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []*models.LearningRecord{
		{ID: "c", Priority: 10, CreatedAt: t0},
		{ID: "b", Priority: 5, CreatedAt: t0.Add(time.Hour)},
		{ID: "a", Priority: 5, CreatedAt: t0},
		{ID: "d", Priority: 1, CreatedAt: t0.Add(2 * time.Hour)},
	}
	sort.SliceStable(recs, func(i, j int) bool { return lessPriority(recs[i], recs[j]) })

	want := []string{"d", "a", "b", "c"}
	for i, id := range want {
		if recs[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, recs[i].ID, id)
		}
	}
}

func TestMissingContext(t *testing.T) {
	rec := &models.LearningRecord{Type: models.TypeSkillGap, Context: map[string]any{"skill": "docker"}}
	missing := MissingContext(rec)
	if len(missing) != 1 || missing[0] != "keywords" {
		t.Errorf("MissingContext() = %v, want [keywords]", missing)
	}
	if got := ContextCompleteness(&models.LearningRecord{Type: "bogus"}); got != 0 {
		t.Errorf("ContextCompleteness(unknown type) = %v, want 0", got)
	}
}
