package tier_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"warthog/internal/tier"
)

func TestClassifyBracketExamples(t *testing.T) {
	cases := []struct {
		player float64
		want   tier.Tier
	}{
		{4.3, tier.Downtier},
		{4.7, tier.Downtier},
		{4.1, tier.PartialDowntier},
		{3.8, tier.Balanced},
		{3.5, tier.PartialUptier},
		{3.2, tier.Uptier},
		{3.3, tier.Uptier},
		{4.0, tier.Balanced},
		{3.6, tier.Balanced},
	}
	for _, tc := range cases {
		got, err := tier.Classify(tc.player, 4.3)
		if err != nil {
			t.Fatalf("Classify(%v, 4.3): %v", tc.player, err)
		}
		if got != tc.want {
			t.Fatalf("Classify(%v, 4.3) = %s, want %s", tc.player, got, tc.want)
		}
	}
}

func TestClassifyIsMonotonicInDelta(t *testing.T) {
	const matchBR = 8.7
	previous := tier.Downtier
	for step := 0; step <= 300; step++ {
		playerBR := matchBR + 1.0 - float64(step)*0.01
		if playerBR <= 0 {
			break
		}
		got, err := tier.Classify(playerBR, matchBR)
		if err != nil {
			t.Fatalf("Classify(%v): %v", playerBR, err)
		}
		if got < previous {
			t.Fatalf("tier decreased from %s to %s at player BR %v", previous, got, playerBR)
		}
		previous = got
	}
	if previous != tier.Uptier {
		t.Fatalf("expected sweep to end at uptier, got %s", previous)
	}
}

func TestClassifyRejectsInvalidRatings(t *testing.T) {
	for _, pair := range [][2]float64{{0, 4.3}, {4.3, 0}, {-1, 4.3}, {math.NaN(), 4.3}, {4.3, math.Inf(1)}} {
		if _, err := tier.Classify(pair[0], pair[1]); !errors.Is(err, tier.ErrInvalidBattleRating) {
			t.Fatalf("Classify(%v, %v): expected ErrInvalidBattleRating, got %v", pair[0], pair[1], err)
		}
	}
}

func TestTierTextEncoding(t *testing.T) {
	payload, err := json.Marshal(map[string]tier.Tier{"tier": tier.PartialUptier})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"tier":"partial_uptier"}` {
		t.Fatalf("unexpected json: %s", payload)
	}
	var decoded map[string]tier.Tier
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["tier"] != tier.PartialUptier {
		t.Fatalf("round trip mismatch: %v", decoded["tier"])
	}
	if _, err := tier.Parse("sideways"); err == nil {
		t.Fatal("expected parse error")
	}
}
