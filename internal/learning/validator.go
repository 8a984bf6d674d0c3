package learning

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// similarLimit caps the near-duplicates reported by a novelty check.
const similarLimit = 3

// submissionValidate checks the structural tags on LearningRecord.
var submissionValidate = validator.New()

// Outcome is the overall result of validating a record.
type Outcome string

const (
	// OutcomeValidated means the record passed and met the frequency threshold.
	OutcomeValidated Outcome = "validated"
	// OutcomePending means the record is novel but awaiting more detections.
	OutcomePending Outcome = "pending"
	// OutcomeRejected means the record duplicates a known learning.
	OutcomeRejected Outcome = "rejected"
)

// ValidationResult reports each check.
type ValidationResult struct {
	ID       string
	Outcome  Outcome
	Warnings []string

	// Novelty
	DuplicateOf   string
	DuplicateTier string
	Similar       []string

	// Frequency
	Frequency    int
	Threshold    int
	FrequencyMet bool
}

// Validator runs novelty, frequency, type and context checks.
type Validator struct {
	threshold int
	global    *GlobalStore
}

// NewValidator creates a Validator. global may be nil.
func NewValidator(threshold int, global *GlobalStore) *Validator {
	if threshold < 1 {
		threshold = 1
	}
	return &Validator{threshold: threshold, global: global}
}

// Threshold returns the promotion frequency threshold.
func (v *Validator) Threshold() int {
	return v.threshold
}

// CheckSubmission validates the structure of an incoming record.
func (v *Validator) CheckSubmission(rec *models.LearningRecord) error {
	err := submissionValidate.Struct(rec)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w %q: %s", ErrInvalidSubmission, rec.ID, strings.Join(msgs, ", "))
}

// Check runs every validation step against rec without modifying anything.
// Only a novelty failure rejects; type and context problems are warnings.
func (v *Validator) Check(rec *models.LearningRecord, warm *WarmAggregate) (*ValidationResult, error) {
	res := &ValidationResult{
		ID:        rec.ID,
		Frequency: rec.Frequency,
		Threshold: v.threshold,
	}

	// Novelty
	if warm != nil {
		if dup := warm.FindKey(rec); dup != nil {
			res.DuplicateOf, res.DuplicateTier = dup.ID, string(models.TierWarm)
		}
	}
	if res.DuplicateOf == "" && v.global != nil {
		dup, err := v.global.FindDuplicate(rec)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			res.DuplicateOf, res.DuplicateTier = dup.ID, "global"
		}
	}

	if res.DuplicateOf == "" && v.global != nil {
		similar, err := v.global.Search(rec.Description, similarLimit)
		if err != nil {
			return nil, err
		}
		for _, e := range similar {
			if e.ID != rec.ID {
				res.Similar = append(res.Similar, e.ID)
			}
		}
		if len(res.Similar) > 0 {
			res.Warnings = append(res.Warnings, "similar to applied "+strings.Join(res.Similar, ", "))
		}
	}

	// Frequency
	res.FrequencyMet = rec.Frequency >= v.threshold

	// Type
	if !rec.Type.Valid() {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unknown type %q", rec.Type))
	}

	// Context completeness
	if len(rec.Context) == 0 {
		res.Warnings = append(res.Warnings, "no context provided")
	} else if missing := MissingContext(rec); len(missing) > 0 {
		res.Warnings = append(res.Warnings, "context missing "+strings.Join(missing, ", "))
	}

	switch {
	case res.DuplicateOf != "":
		res.Outcome = OutcomeRejected
	case res.FrequencyMet:
		res.Outcome = OutcomeValidated
	default:
		res.Outcome = OutcomePending
	}
	return res, nil
}

// Summary is a one-line description of the outcome.
func (r *ValidationResult) Summary() string {
	switch r.Outcome {
	case OutcomeRejected:
		return fmt.Sprintf("duplicate of %s (%s)", r.DuplicateOf, r.DuplicateTier)
	case OutcomePending:
		return fmt.Sprintf("pending, awaiting evidence (%d/%d detections)", r.Frequency, r.Threshold)
	default:
		return fmt.Sprintf("validated (%d/%d detections)", r.Frequency, r.Threshold)
	}
}
