// Package tier classifies a player's battle rating against the rating bracket
// of the match they were placed in.
package tier

import (
	"errors"
	"fmt"
	"math"
)

// Tier is the position of a player's vehicle inside a match's BR bracket.
// Values are ordered from most favourable to least favourable.
type Tier int

const (
	Downtier Tier = iota
	PartialDowntier
	Balanced
	PartialUptier
	Uptier
)

// ErrInvalidBattleRating is returned for non-positive or non-finite ratings.
var ErrInvalidBattleRating = errors.New("invalid battle rating")

// Bracket offsets in battle-rating units, measured as match BR minus player BR.
const (
	partialDowntierFloor = 0.0
	balancedFloor        = 0.3
	balancedCeiling      = 0.7
	uptierFloor          = 1.0
)

var names = [...]string{
	Downtier:        "downtier",
	PartialDowntier: "partial_downtier",
	Balanced:        "balanced",
	PartialUptier:   "partial_uptier",
	Uptier:          "uptier",
}

// All returns every tier in bracket order.
func All() []Tier {
	return []Tier{Downtier, PartialDowntier, Balanced, PartialUptier, Uptier}
}

// Classify places playerBR inside the bracket topped by matchBR.
//
// The delta is rounded to two decimals first so values such as 4.3-3.3 land on
// the 1.0 boundary instead of 0.9999999.
func Classify(playerBR, matchBR float64) (Tier, error) {
	if !validRating(playerBR) {
		return 0, fmt.Errorf("%w: player battle rating %v", ErrInvalidBattleRating, playerBR)
	}
	if !validRating(matchBR) {
		return 0, fmt.Errorf("%w: match battle rating %v", ErrInvalidBattleRating, matchBR)
	}

	delta := Delta(playerBR, matchBR)
	switch {
	case delta <= partialDowntierFloor:
		return Downtier, nil
	case delta < balancedFloor:
		return PartialDowntier, nil
	case delta <= balancedCeiling:
		return Balanced, nil
	case delta < uptierFloor:
		return PartialUptier, nil
	default:
		return Uptier, nil
	}
}

// Delta returns matchBR - playerBR rounded to two decimals.
func Delta(playerBR, matchBR float64) float64 {
	return math.Round((matchBR-playerBR)*100) / 100
}

func validRating(value float64) bool {
	return value > 0 && !math.IsNaN(value) && !math.IsInf(value, 0)
}

func (t Tier) String() string {
	if t < 0 || int(t) >= len(names) {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return names[t]
}

// Parse converts a tier name back into a Tier.
func Parse(value string) (Tier, error) {
	for i, name := range names {
		if name == value {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", value)
}

func (t Tier) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(names) {
		return nil, fmt.Errorf("unknown tier %d", int(t))
	}
	return []byte(names[t]), nil
}

func (t *Tier) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
