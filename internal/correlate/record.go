package correlate

import (
	"time"

	"warthog/internal/capture"
	"warthog/internal/catalog"
	"warthog/internal/tier"
)

// PlayerResult is one surviving participant of a correlated match.
type PlayerResult struct {
	PlayerID         string           `json:"player_id"`
	Username         string           `json:"username,omitempty"`
	Platform         capture.Platform `json:"platform,omitempty"`
	SquadronID       string           `json:"squadron_id,omitempty"`
	SquadronTag      string           `json:"squadron_tag,omitempty"`
	Squad            int              `json:"squad"`
	AutoSquad        bool             `json:"auto_squad"`
	Team             int              `json:"team"`
	Country          string           `json:"country,omitempty"`
	VehicleCode      string           `json:"vehicle_code"`
	Vehicle          catalog.Entry    `json:"vehicle"`
	Lineup           []catalog.Entry  `json:"lineup"`
	BattleRating     float64          `json:"battle_rating"`
	MinBattleRating  float64          `json:"min_battle_rating"`
	MeanBattleRating float64          `json:"mean_battle_rating"`
	Tier             tier.Tier        `json:"tier"`
	Premium          bool             `json:"is_premium"`
	Score            int              `json:"score"`
	Stats            capture.Outcome  `json:"stats"`
}

// MatchRecord is the canonical, enriched form of a match. Timestamp is epoch
// milliseconds in UTC.
type MatchRecord struct {
	ID              string           `json:"match_id"`
	Timestamp       int64            `json:"timestamp"`
	BattleRating    float64          `json:"battle_rating"`
	Map             string           `json:"map"`
	GameMode        catalog.GameMode `json:"game_mode"`
	CatalogRelease  string           `json:"catalog_release"`
	Source          capture.Source   `json:"source"`
	SessionID       string           `json:"session_id,omitempty"`
	Status          string           `json:"status,omitempty"`
	DurationSeconds float64          `json:"duration_seconds,omitempty"`
	AuthorID        string           `json:"author_id,omitempty"`
	Players         []PlayerResult   `json:"players"`
}

// Time returns the record timestamp as a UTC time.
func (r MatchRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}
