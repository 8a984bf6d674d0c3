package models

import "fmt"

// Tier represents the storage class a learning record currently lives in.
type Tier string

const (
	// TierHot holds freshly captured session-scope candidates.
	TierHot Tier = "hot"
	// TierWarm holds records that are actively consulted.
	TierWarm Tier = "warm"
	// TierCold holds archived records, grouped by calendar quarter.
	TierCold Tier = "cold"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold:
		return true
	default:
		return false
	}
}

// AllTiers lists the tiers in lifecycle order.
var AllTiers = []Tier{TierHot, TierWarm, TierCold}

// tierTransitions is the closed set of tier moves the engine may perform.
var tierTransitions = map[Tier][]Tier{
	TierHot:  {TierWarm, TierCold},
	TierWarm: {TierCold},
	TierCold: {TierWarm},
}

// CanMoveTier reports whether a record may move from one tier to another.
func CanMoveTier(from, to Tier) bool {
	for _, t := range tierTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CheckTierMove returns an error describing a disallowed tier move.
func CheckTierMove(from, to Tier) error {
	if !CanMoveTier(from, to) {
		return fmt.Errorf("tier move %s -> %s is not allowed", from, to)
	}
	return nil
}
