package testsupport

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"warthog/internal/capture"
	"warthog/internal/catalog"
)

// DefaultReplayVersion is a header version the parser accepts.
const DefaultReplayVersion uint32 = 101004

// ReplayPlayer describes one participant in a synthesized replay.
type ReplayPlayer struct {
	ID       string
	Name     string
	Platform string
	ClanID   string
	ClanTag  string
	Country  string
	Team     int
	// Squad is the in-battle platoon. ManualSquad marks a platoon the
	// players formed themselves rather than the matchmaker.
	Squad       int
	ManualSquad bool
	Score       int
	Kills       int
	Deaths      int
	Assists     int
	Vehicles    []string
}

// ReplaySpec describes a synthesized replay file.
type ReplaySpec struct {
	Version    uint32
	Level      string
	Mode       catalog.GameMode
	SessionID  uint64
	StartTime  time.Time
	Status     string
	TimePlayed float64
	AuthorID   string
	Players    []ReplayPlayer
	// Results replaces the generated results JSON when set.
	Results []byte
	// Trailing is appended after the results blob.
	Trailing []byte
	// OrphanIDs add scoreboard rows that have no playersInfo entry.
	OrphanIDs []string
}

// BuildReplay encodes a replay the way the client writes it, with the
// results blob stored as JSON directly after the header.
func BuildReplay(t testing.TB, r ReplaySpec) []byte {
	t.Helper()

	if r.Version == 0 {
		r.Version = DefaultReplayVersion
	}
	if r.Level == "" {
		r.Level = "levels/avg_stalingrad_factory.bin"
	}
	if r.Mode == "" {
		r.Mode = catalog.ModeRealistic
	}
	results := r.Results
	if results == nil {
		results = ReplayResults(t, r)
	}

	header := capture.Header{
		Version:       r.Version,
		Level:         r.Level,
		BattleType:    "domination",
		Environment:   "day",
		Visibility:    "good",
		ResultsOffset: capture.HeaderSize,
		Difficulty:    capture.DifficultyFor(r.Mode),
		SessionID:     r.SessionID,
		LocationName:  "stalingrad",
		StartTime:     r.StartTime,
		TimeLimit:     25,
		ScoreLimit:    12000,
		BattleClass:   "base",
	}
	data, err := header.MarshalBinary()
	if err != nil {
		t.Fatalf("encode replay header: %v", err)
	}
	data = append(data, results...)
	return append(data, r.Trailing...)
}

// ReplayResults renders the results JSON that wt_ext_cli would produce for r.
func ReplayResults(t testing.TB, r ReplaySpec) []byte {
	t.Helper()

	status := r.Status
	if status == "" {
		status = "success"
	}
	rows := make([]map[string]any, 0, len(r.Players))
	info := make(map[string]any, len(r.Players))
	for i, player := range r.Players {
		rows = append(rows, map[string]any{
			"userId":    player.ID,
			"team":      player.Team,
			"squadId":   player.Squad,
			"autoSquad": autoSquadFlag(player),
			"kills":     player.Kills,
			"deaths":    player.Deaths,
			"assists":   player.Assists,
			"score":     player.Score,
		})
		crafts := make(map[string]string, len(player.Vehicles))
		for slot, code := range player.Vehicles {
			crafts[strconv.Itoa(slot)] = code
		}
		clanID := player.ClanID
		if clanID == "" {
			clanID = "-1"
		}
		platform := player.Platform
		if platform == "" {
			platform = "win64"
		}
		name := player.Name
		if name == "" {
			name = "player" + player.ID
		}
		var id any = player.ID
		if n, err := strconv.Atoi(player.ID); err == nil {
			id = n
		}
		info["player"+strconv.Itoa(i)] = map[string]any{
			"id":       id,
			"clanId":   clanID,
			"clanTag":  player.ClanTag,
			"name":     name,
			"platform": platform,
			"country":  player.Country,
			"crafts":   crafts,
		}
	}
	for _, id := range r.OrphanIDs {
		rows = append(rows, map[string]any{"userId": id, "team": 1})
	}
	payload := map[string]any{
		"status":        status,
		"timePlayed":    r.TimePlayed,
		"authorUserId":  r.AuthorID,
		"player":        rows,
		"uiScriptsData": map[string]any{"playersInfo": info},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encode replay results: %v", err)
	}
	return data
}

// ScrapeRecord renders the JSON scrape record matching r, so tests can
// feed the same match through both capture kinds.
func ScrapeRecord(t testing.TB, r ReplaySpec, battleRating float64) []byte {
	t.Helper()

	players := make([]map[string]any, 0, len(r.Players))
	for _, player := range r.Players {
		players = append(players, map[string]any{
			"id":           player.ID,
			"name":         player.Name,
			"platform":     player.Platform,
			"squadron_id":  player.ClanID,
			"squadron_tag": player.ClanTag,
			"squad":        player.Squad,
			"auto_squad":   !player.ManualSquad,
			"team":         player.Team,
			"vehicles":     player.Vehicles,
			"score":        player.Score,
			"kills":        player.Kills,
			"deaths":       player.Deaths,
			"assists":      player.Assists,
		})
	}
	level := r.Level
	if level == "" {
		level = "levels/avg_stalingrad_factory.bin"
	}
	mode := r.Mode
	if mode == "" {
		mode = catalog.ModeRealistic
	}
	payload := map[string]any{
		"timestamp":     r.StartTime.UTC().Format(time.RFC3339),
		"battle_rating": battleRating,
		"map":           level,
		"game_mode":     string(mode),
		"players":       players,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encode scrape record: %v", err)
	}
	return data
}

func autoSquadFlag(player ReplayPlayer) int {
	if player.ManualSquad {
		return 0
	}
	return 1
}
