package learning

import (
	"math"
	"time"

	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// Confidence weights. They sum to 1.
const (
	weightFrequency   = 0.30
	weightRecency     = 0.25
	weightConfirmed   = 0.25
	weightConsistency = 0.20
)

// Priority weights.
const (
	priorityConfidence = 50
	priorityAccess     = 30
	priorityRecency    = 20
)

// frequencyCap is the detection count at which frequency_norm saturates.
const frequencyCap = 10

// contextFields lists the context keys a complete record of each type carries.
var contextFields = map[models.LearningType][]string{
	models.TypeCodePattern:         {"files", "example"},
	models.TypeUserPreference:      {"source"},
	models.TypeWorkflowImprovement: {"trigger", "steps"},
	models.TypeSkillGap:            {"skill", "keywords"},
}

// Scores holds the computed rankings of a record.
type Scores struct {
	Confidence float64
	Priority   float64

	FrequencyNorm   float64
	RecencyNorm     float64
	ConfirmedNorm   float64
	ConsistencyNorm float64
	RecencyBonus    float64
}

// Scorer computes confidence and priority.
type Scorer struct {
	halfLife time.Duration
	now      func() time.Time // For testing
}

// NewScorer creates a Scorer whose recency term halves every halfLife.
// The demotion window is used as the half-life.
func NewScorer(halfLife time.Duration) *Scorer {
	if halfLife <= 0 {
		halfLife = 30 * 24 * time.Hour
	}
	return &Scorer{halfLife: halfLife, now: time.Now}
}

// Score computes the scores for rec without modifying it.
func (s *Scorer) Score(rec *models.LearningRecord) Scores {
	var sc Scores

	sc.FrequencyNorm = math.Min(float64(rec.Frequency), frequencyCap) / frequencyCap
	if sc.FrequencyNorm < 0 {
		sc.FrequencyNorm = 0
	}

	age := s.now().Sub(rec.LastActivity())
	if age < 0 {
		age = 0
	}
	sc.RecencyNorm = math.Pow(0.5, age.Hours()/s.halfLife.Hours())

	switch rec.Status {
	case models.StatusConfirmed, models.StatusApplied:
		sc.ConfirmedNorm = 1
	case models.StatusValidated, models.StatusProposed:
		sc.ConfirmedNorm = 0.5
	}

	sc.ConsistencyNorm = ContextCompleteness(rec)

	switch {
	case age <= 24*time.Hour:
		sc.RecencyBonus = 1
	case age <= 7*24*time.Hour:
		sc.RecencyBonus = 0.5
	}

	sc.Confidence = weightFrequency*sc.FrequencyNorm +
		weightRecency*sc.RecencyNorm +
		weightConfirmed*sc.ConfirmedNorm +
		weightConsistency*sc.ConsistencyNorm
	sc.Priority = sc.Confidence*priorityConfidence +
		float64(rec.AccessCount)*priorityAccess +
		sc.RecencyBonus*priorityRecency

	return sc
}

// Apply recomputes and stores the scores on rec.
func (s *Scorer) Apply(rec *models.LearningRecord) Scores {
	sc := s.Score(rec)
	rec.Confidence = round(sc.Confidence, 4)
	rec.Priority = round(sc.Priority, 4)
	return sc
}

// ContextCompleteness is the fraction of expected context keys present.
// Unknown types score zero.
func ContextCompleteness(rec *models.LearningRecord) float64 {
	fields := contextFields[rec.Type]
	if len(fields) == 0 {
		return 0
	}
	present := 0
	for _, f := range fields {
		if v, ok := rec.Context[f]; ok && !emptyValue(v) {
			present++
		}
	}
	return float64(present) / float64(len(fields))
}

// MissingContext lists the expected context keys absent from rec.
func MissingContext(rec *models.LearningRecord) []string {
	var missing []string
	for _, f := range contextFields[rec.Type] {
		if v, ok := rec.Context[f]; !ok || emptyValue(v) {
			missing = append(missing, f)
		}
	}
	return missing
}

// lessPriority orders eviction candidates: lowest priority first, then
// oldest created_at.
func lessPriority(a, b *models.LearningRecord) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func emptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
