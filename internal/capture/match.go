package capture

import (
	"strings"
	"time"

	"warthog/internal/catalog"
)

// Source identifies the capture kind a RawMatch came from.
type Source string

const (
	SourceBinary Source = "binary"
	SourceScrape Source = "scrape"
)

// Platform is the normalized client platform of a player.
type Platform string

const (
	PlatformPC       Platform = "pc"
	PlatformXboxLive Platform = "xboxlive"
	PlatformPSN      Platform = "psn"
	PlatformUnknown  Platform = "unknown"
)

// Outcome holds the raw per-player scoreboard counters.
type Outcome struct {
	Kills         int `json:"kills"`
	GroundKills   int `json:"ground_kills"`
	NavalKills    int `json:"naval_kills"`
	TeamKills     int `json:"team_kills"`
	AIKills       int `json:"ai_kills"`
	AIGroundKills int `json:"ai_ground_kills"`
	AINavalKills  int `json:"ai_naval_kills"`
	Assists       int `json:"assists"`
	Deaths        int `json:"deaths"`
	CaptureZone   int `json:"capture_zone"`
	DamageZone    int `json:"damage_zone"`
	AwardDamage   int `json:"award_damage"`
	MissileEvades int `json:"missile_evades"`
}

// RawPlayerEntry is one participant as recorded by the capture. Squad is
// the in-battle platoon number and AutoSquad whether the matchmaker formed
// it; SquadronID and SquadronTag name the player's clan.
type RawPlayerEntry struct {
	PlayerID    string
	Username    string
	Platform    Platform
	SquadronID  string
	SquadronTag string
	Squad       int
	AutoSquad   bool
	Team        int
	Country     string
	Vehicles    []string
	Score       int
	Outcome     Outcome
}

// RawMatch is the source-independent form of a single match.
type RawMatch struct {
	Source       Source
	Path         string
	Timestamp    time.Time
	BattleRating float64
	Map          string
	GameMode     catalog.GameMode
	SessionID    string
	Status       string
	Duration     time.Duration
	AuthorID     string
	Players      []RawPlayerEntry
	// OrphanIDs are participants listed on the scoreboard without player
	// details. They still take part in match identity.
	OrphanIDs []string
}

// Clone returns a deep copy so callers can hand a RawMatch across goroutines
// without sharing player slices.
func (m RawMatch) Clone() RawMatch {
	out := m
	out.Players = make([]RawPlayerEntry, len(m.Players))
	for i, player := range m.Players {
		player.Vehicles = append([]string(nil), player.Vehicles...)
		out.Players[i] = player
	}
	out.OrphanIDs = append([]string(nil), m.OrphanIDs...)
	return out
}

// PlatformFromClient maps the client's platform label onto a Platform.
func PlatformFromClient(label string) Platform {
	lower := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.Contains(lower, "xbox"):
		return PlatformXboxLive
	case strings.Contains(lower, "ps"):
		return PlatformPSN
	case strings.Contains(lower, "win"), strings.Contains(lower, "mac"),
		strings.Contains(lower, "linux"), strings.Contains(lower, "pc"):
		return PlatformPC
	default:
		return PlatformUnknown
	}
}
