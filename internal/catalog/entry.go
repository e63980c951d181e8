package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// GameMode selects which of a vehicle's battle ratings applies to a match.
type GameMode string

const (
	ModeArcade     GameMode = "arcade"
	ModeRealistic  GameMode = "realistic"
	ModeSimulation GameMode = "simulation"
)

// ParseGameMode accepts the canonical names plus the client's labels
// ("historical" is the datamine name for realistic battles).
func ParseGameMode(value string) (GameMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "arcade", "ab":
		return ModeArcade, nil
	case "realistic", "historical", "rb":
		return ModeRealistic, nil
	case "simulation", "sb":
		return ModeSimulation, nil
	default:
		return "", fmt.Errorf("unknown game mode %q", value)
	}
}

// VehicleClass is the broad domain a vehicle fights in.
type VehicleClass string

const (
	ClassAir        VehicleClass = "air"
	ClassHelicopter VehicleClass = "helicopter"
	ClassGround     VehicleClass = "ground"
	ClassNaval      VehicleClass = "naval"
)

// BattleRatings holds one rating per game mode.
type BattleRatings struct {
	Arcade     float64 `json:"arcade"`
	Realistic  float64 `json:"realistic"`
	Simulation float64 `json:"simulation"`
}

// For returns the rating used in the given mode.
func (b BattleRatings) For(mode GameMode) float64 {
	switch mode {
	case ModeArcade:
		return b.Arcade
	case ModeSimulation:
		return b.Simulation
	default:
		return b.Realistic
	}
}

// BattleRatingFromEconomicRank converts a datamine economic rank to the
// displayed battle rating.
func BattleRatingFromEconomicRank(rank int) float64 {
	return math.Round((float64(rank)/3+1)*10) / 10
}

// Entry is one vehicle's metadata as of a single release.
type Entry struct {
	Code          string        `json:"code"`
	Name          string        `json:"name"`
	Country       string        `json:"country,omitempty"`
	Class         VehicleClass  `json:"class"`
	Type          string        `json:"type,omitempty"`
	Rank          int           `json:"rank,omitempty"`
	BattleRatings BattleRatings `json:"battle_rating"`
	Premium       bool          `json:"is_premium"`
}

// BattleRating returns the entry's rating for the given mode.
func (e Entry) BattleRating(mode GameMode) float64 {
	return e.BattleRatings.For(mode)
}

var (
	errEmptyRelease  = errors.New("snapshot release must not be empty")
	errZeroEffective = errors.New("snapshot effective-from must be set")
)

// Snapshot is the immutable set of catalog entries valid for one release.
type Snapshot struct {
	release       string
	effectiveFrom time.Time
	entries       map[string]Entry
}

// NewSnapshot validates and indexes entries. Vehicle codes must be unique.
func NewSnapshot(release string, effectiveFrom time.Time, entries []Entry) (*Snapshot, error) {
	release = strings.TrimSpace(release)
	if release == "" {
		return nil, errEmptyRelease
	}
	if effectiveFrom.IsZero() {
		return nil, errZeroEffective
	}
	index := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		code := strings.TrimSpace(entry.Code)
		if code == "" {
			return nil, fmt.Errorf("snapshot %s: entry with empty vehicle code", release)
		}
		if _, dup := index[code]; dup {
			return nil, fmt.Errorf("snapshot %s: duplicate vehicle code %q", release, code)
		}
		entry.Code = code
		index[code] = entry
	}
	return &Snapshot{
		release:       release,
		effectiveFrom: effectiveFrom.UTC(),
		entries:       index,
	}, nil
}

// Release returns the release identifier the snapshot was built from.
func (s *Snapshot) Release() string { return s.release }

// EffectiveFrom returns the instant from which the snapshot applies.
func (s *Snapshot) EffectiveFrom() time.Time { return s.effectiveFrom }

// Len reports the number of vehicles in the snapshot.
func (s *Snapshot) Len() int { return len(s.entries) }

// Lookup returns the entry for a vehicle code.
func (s *Snapshot) Lookup(code string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	entry, ok := s.entries[strings.TrimSpace(code)]
	return entry, ok
}

// Entries returns all entries ordered by vehicle code.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

type snapshotJSON struct {
	Release       string    `json:"release"`
	EffectiveFrom time.Time `json:"effective_from"`
	Vehicles      []Entry   `json:"vehicles"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Release:       s.release,
		EffectiveFrom: s.effectiveFrom,
		Vehicles:      s.Entries(),
	})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var payload snapshotJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	decoded, err := NewSnapshot(payload.Release, payload.EffectiveFrom, payload.Vehicles)
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}
