package models

import (
	"fmt"
	"time"
)

// Quarter identifies a calendar quarter. Cold-tier archives are keyed by it.
type Quarter struct {
	Year int
	Q    int
}

// QuarterOf returns the quarter containing t (in UTC).
func QuarterOf(t time.Time) Quarter {
	t = t.UTC()
	return Quarter{Year: t.Year(), Q: (int(t.Month())-1)/3 + 1}
}

// String formats the quarter as "2026-Q1".
func (q Quarter) String() string {
	return fmt.Sprintf("%04d-Q%d", q.Year, q.Q)
}

// Valid reports whether Q is 1-4.
func (q Quarter) Valid() bool {
	return q.Q >= 1 && q.Q <= 4 && q.Year > 0
}

// Before reports whether q is strictly earlier than other.
func (q Quarter) Before(other Quarter) bool {
	if q.Year != other.Year {
		return q.Year < other.Year
	}
	return q.Q < other.Q
}

// ParseQuarter parses the "2026-Q1" form.
func ParseQuarter(s string) (Quarter, error) {
	var q Quarter
	if _, err := fmt.Sscanf(s, "%4d-Q%d", &q.Year, &q.Q); err != nil {
		return Quarter{}, fmt.Errorf("parse quarter %q: %w", s, err)
	}
	if !q.Valid() || q.String() != s {
		return Quarter{}, fmt.Errorf("parse quarter %q: out of range", s)
	}
	return q, nil
}
