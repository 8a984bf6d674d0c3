package models

import (
	"fmt"
	"strings"
	"time"
)

// LearningType categorizes what a learning record describes.
type LearningType string

const (
	// TypeCodePattern is a detected recurring code pattern.
	TypeCodePattern LearningType = "code_pattern"
	// TypeUserPreference is a preference the user stated or showed.
	TypeUserPreference LearningType = "user_preference"
	// TypeWorkflowImprovement is a suggested change to how work is done.
	TypeWorkflowImprovement LearningType = "workflow_improvement"
	// TypeSkillGap is a missing or under-triggered skill.
	TypeSkillGap LearningType = "skill_gap"
)

// Valid returns true if the type is a known value.
func (t LearningType) Valid() bool {
	switch t {
	case TypeCodePattern, TypeUserPreference, TypeWorkflowImprovement, TypeSkillGap:
		return true
	default:
		return false
	}
}

// Status is the validation lifecycle state of a learning record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidated  Status = "validated"
	StatusProposed   Status = "proposed"
	StatusConfirmed  Status = "confirmed"
	StatusApplied    Status = "applied"
	StatusRejected   Status = "rejected"
	StatusRolledBack Status = "rolled_back"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusValidated, StatusProposed, StatusConfirmed,
	StatusApplied, StatusRejected, StatusRolledBack,
}

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// statusTransitions is the allowed-transition table for record status.
// Rejected has no outgoing edges.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusValidated, StatusRejected},
	StatusValidated:  {StatusProposed, StatusConfirmed, StatusRejected},
	StatusProposed:   {StatusConfirmed},
	StatusConfirmed:  {StatusApplied},
	StatusApplied:    {StatusRolledBack},
	StatusRolledBack: {StatusConfirmed},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Scope says whether a learning is specific to this project or shared globally.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

// Demotion reasons recorded on Cold-tier records.
const (
	ReasonInactivity       = "inactivity"
	ReasonCapacityOverflow = "capacity_overflow"
	ReasonSuperseded       = "superseded"
)

// LearningRecord is a single captured learning and its lifecycle metadata.
type LearningRecord struct {
	ID          string         `json:"id" validate:"required,max=128,excludesall=/\\"`
	Type        LearningType   `json:"type"`
	Description string         `json:"description" validate:"required"`
	PatternKey  string         `json:"pattern_key"`
	Frequency   int            `json:"frequency" validate:"gte=0"`
	Status      Status         `json:"status"`
	Tier        Tier           `json:"tier"`
	Scope       Scope          `json:"scope,omitempty"`
	Explicit    bool           `json:"explicit,omitempty"`
	Confidence  float64        `json:"confidence"`
	Priority    float64        `json:"priority"`
	Context     map[string]any `json:"context,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed time.Time  `json:"last_accessed"`
	PromotedAt   *time.Time `json:"promoted_at,omitempty"`
	DemotedAt    *time.Time `json:"demoted_at,omitempty"`
	RecalledAt   *time.Time `json:"recalled_at,omitempty"`

	AccessCount    int    `json:"access_count"`
	RecallCount    int    `json:"recall_count"`
	DemotionReason string `json:"demotion_reason,omitempty"`
}

// Key returns the dedup key, falling back to the normalized description.
func (r *LearningRecord) Key() string {
	if r.PatternKey != "" {
		return r.PatternKey
	}
	return NormalizeKey(r.Description)
}

// NormalizeKey lowercases and collapses whitespace so trivially different
// descriptions share a key.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// SetStatus moves the record to a new status, enforcing the transition table.
// Setting the current status again is a no-op.
func (r *LearningRecord) SetStatus(to Status) error {
	if r.Status == to {
		return nil
	}
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("status %s -> %s is not allowed for %s", r.Status, to, r.ID)
	}
	r.Status = to
	return nil
}

// LastActivity returns the later of LastAccessed and PromotedAt.
func (r *LearningRecord) LastActivity() time.Time {
	last := r.LastAccessed
	if r.PromotedAt != nil && r.PromotedAt.After(last) {
		last = *r.PromotedAt
	}
	if r.RecalledAt != nil && r.RecalledAt.After(last) {
		last = *r.RecalledAt
	}
	if last.IsZero() {
		last = r.CreatedAt
	}
	return last
}

// Clone returns a deep-enough copy for safe mutation.
func (r *LearningRecord) Clone() *LearningRecord {
	c := *r
	if r.Context != nil {
		c.Context = make(map[string]any, len(r.Context))
		for k, v := range r.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// Resolve picks which of two records sharing a pattern key survives.
// Explicit beats inferred, project scope beats global, then the more
// recently active record wins.
func Resolve(a, b *LearningRecord) (winner, loser *LearningRecord) {
	if a.Explicit != b.Explicit {
		if a.Explicit {
			return a, b
		}
		return b, a
	}
	if a.Scope != b.Scope {
		if a.Scope == ScopeProject {
			return a, b
		}
		if b.Scope == ScopeProject {
			return b, a
		}
	}
	if b.LastActivity().After(a.LastActivity()) {
		return b, a
	}
	return a, b
}

// ContextString returns a string context value, or "" if absent.
func (r *LearningRecord) ContextString(key string) string {
	if r.Context == nil {
		return ""
	}
	if v, ok := r.Context[key].(string); ok {
		return v
	}
	return ""
}

// ContextStrings returns a list context value. Comma-separated strings are split.
func (r *LearningRecord) ContextStrings(key string) []string {
	if r.Context == nil {
		return nil
	}
	switch v := r.Context[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}
