package learning

import "errors"

var (
	// ErrNotFound is returned when no tier holds a record with the given ID.
	ErrNotFound = errors.New("learning not found")
	// ErrInvalidTransition is returned for a status or tier move outside the
	// transition tables.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNothingToRollback is returned when a record has no applied change.
	ErrNothingToRollback = errors.New("nothing to roll back")
	// ErrNotEligible is returned when a record does not yet meet the
	// conditions for the requested operation.
	ErrNotEligible = errors.New("not eligible")
	// ErrInvalidSubmission is returned when a submission fails structural checks.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrConflict is returned when a submission collides with an archived record.
	ErrConflict = errors.New("conflicting record")
)
