package models

import "testing"

func TestTier_Valid(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		want bool
	}{
		{"hot is valid", TierHot, true},
		{"warm is valid", TierWarm, true},
		{"cold is valid", TierCold, true},
		{"empty string is invalid", Tier(""), false},
		{"unknown tier is invalid", Tier("lukewarm"), false},
		{"uppercase is invalid", Tier("HOT"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tier.Valid(); got != tt.want {
				t.Errorf("Tier(%q).Valid() = %v, want %v", tt.tier, got, tt.want)
			}
		})
	}
}

func TestCanMoveTier(t *testing.T) {
	tests := []struct {
		from, to Tier
		want     bool
	}{
		{TierHot, TierWarm, true},
		{TierHot, TierCold, true},
		{TierWarm, TierCold, true},
		{TierCold, TierWarm, true},
		{TierWarm, TierHot, false},
		{TierCold, TierHot, false},
		{TierHot, TierHot, false},
		{Tier("bogus"), TierWarm, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanMoveTier(tt.from, tt.to); got != tt.want {
				t.Errorf("CanMoveTier(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
			if err := CheckTierMove(tt.from, tt.to); (err == nil) != tt.want {
				t.Errorf("CheckTierMove(%s, %s) error = %v", tt.from, tt.to, err)
			}
		})
	}
}
