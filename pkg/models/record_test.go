package models

import (
	"testing"
	"time"
)

func TestLearningType_Valid(t *testing.T) {
	for _, lt := range []LearningType{TypeCodePattern, TypeUserPreference, TypeWorkflowImprovement, TypeSkillGap} {
		if !lt.Valid() {
			t.Errorf("LearningType(%q).Valid() = false, want true", lt)
		}
	}
	if LearningType("codepattern").Valid() {
		t.Error("misspelled type should be invalid")
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range AllStatuses {
		if !s.Valid() {
			t.Errorf("Status(%q).Valid() = false, want true", s)
		}
	}
	if Status("done").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusValidated, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusApplied, false},
		{StatusValidated, StatusConfirmed, true},
		{StatusValidated, StatusProposed, true},
		{StatusProposed, StatusConfirmed, true},
		{StatusProposed, StatusRejected, false},
		{StatusConfirmed, StatusApplied, true},
		{StatusConfirmed, StatusRejected, false},
		{StatusApplied, StatusRolledBack, true},
		{StatusApplied, StatusRejected, false},
		{StatusRolledBack, StatusConfirmed, true},
		{StatusRejected, StatusPending, false},
		{StatusRejected, StatusValidated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestLearningRecord_SetStatus(t *testing.T) {
	r := &LearningRecord{ID: "pat_1", Status: StatusPending}

	if err := r.SetStatus(StatusPending); err != nil {
		t.Fatalf("same-status SetStatus() error = %v", err)
	}
	if err := r.SetStatus(StatusApplied); err == nil {
		t.Fatal("SetStatus(applied) from pending should fail")
	}
	if r.Status != StatusPending {
		t.Errorf("status changed on rejected transition: %s", r.Status)
	}
	if err := r.SetStatus(StatusValidated); err != nil {
		t.Fatalf("SetStatus(validated) error = %v", err)
	}
	if r.Status != StatusValidated {
		t.Errorf("Status = %s, want validated", r.Status)
	}
}

func TestLearningRecord_Key(t *testing.T) {
	r := &LearningRecord{Description: "  Use   Table-Driven tests "}
	if got := r.Key(); got != "use table-driven tests" {
		t.Errorf("Key() = %q", got)
	}
	r.PatternKey = "table-tests"
	if got := r.Key(); got != "table-tests" {
		t.Errorf("Key() = %q, want explicit pattern key", got)
	}
}

func TestLearningRecord_LastActivity(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	promoted := base.Add(48 * time.Hour)

	r := &LearningRecord{CreatedAt: base.Add(-time.Hour), LastAccessed: base}
	if got := r.LastActivity(); !got.Equal(base) {
		t.Errorf("LastActivity() = %v, want %v", got, base)
	}
	r.PromotedAt = &promoted
	if got := r.LastActivity(); !got.Equal(promoted) {
		t.Errorf("LastActivity() = %v, want promoted_at %v", got, promoted)
	}

	empty := &LearningRecord{CreatedAt: base}
	if got := empty.LastActivity(); !got.Equal(base) {
		t.Errorf("LastActivity() with no access = %v, want created_at", got)
	}
}

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	older := &LearningRecord{ID: "old", LastAccessed: now.Add(-time.Hour)}
	newer := &LearningRecord{ID: "new", LastAccessed: now}

	if w, _ := Resolve(older, newer); w.ID != "new" {
		t.Errorf("recency: winner = %s, want new", w.ID)
	}

	explicit := &LearningRecord{ID: "explicit", Explicit: true, LastAccessed: now.Add(-72 * time.Hour)}
	if w, l := Resolve(newer, explicit); w.ID != "explicit" || l.ID != "new" {
		t.Errorf("explicit: winner = %s, loser = %s", w.ID, l.ID)
	}

	project := &LearningRecord{ID: "project", Scope: ScopeProject, LastAccessed: now.Add(-72 * time.Hour)}
	global := &LearningRecord{ID: "global", Scope: ScopeGlobal, LastAccessed: now}
	if w, _ := Resolve(global, project); w.ID != "project" {
		t.Errorf("scope: winner = %s, want project", w.ID)
	}
}

func TestLearningRecord_ContextStrings(t *testing.T) {
	r := &LearningRecord{Context: map[string]any{
		"keywords": []any{"retry", "", "backoff"},
		"csv":      "a, b ,,c",
		"skill":    "go-testing",
	}}

	if got := r.ContextStrings("keywords"); len(got) != 2 || got[0] != "retry" || got[1] != "backoff" {
		t.Errorf("ContextStrings(keywords) = %v", got)
	}
	if got := r.ContextStrings("csv"); len(got) != 3 || got[2] != "c" {
		t.Errorf("ContextStrings(csv) = %v", got)
	}
	if got := r.ContextString("skill"); got != "go-testing" {
		t.Errorf("ContextString(skill) = %q", got)
	}
	if got := r.ContextStrings("missing"); got != nil {
		t.Errorf("ContextStrings(missing) = %v, want nil", got)
	}
}
