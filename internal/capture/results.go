package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"warthog/internal/services"
	"warthog/internal/textutil"
)

// ResultsUnpacker converts the raw results blob embedded in a replay into
// JSON.
type ResultsUnpacker interface {
	Unpack(ctx context.Context, blob []byte) ([]byte, error)
}

// JSONUnpacker accepts blobs that are already JSON, as written by replay
// tooling that pre-unpacks results. Bytes after the first JSON value are
// ignored.
type JSONUnpacker struct{}

func (JSONUnpacker) Unpack(_ context.Context, blob []byte) ([]byte, error) {
	var value json.RawMessage
	if err := json.NewDecoder(bytes.NewReader(blob)).Decode(&value); err != nil {
		return nil, fmt.Errorf("results blob is not json: %w", err)
	}
	return value, nil
}

// DefaultUnpackerBinary is the external BLK unpacker looked up on PATH.
const DefaultUnpackerBinary = "wt_ext_cli"

// ExternalUnpacker pipes the blob through wt_ext_cli.
type ExternalUnpacker struct {
	Binary  string
	Timeout time.Duration
}

func (u ExternalUnpacker) Unpack(ctx context.Context, blob []byte) ([]byte, error) {
	binary := strings.TrimSpace(u.Binary)
	if binary == "" {
		binary = DefaultUnpackerBinary
	}
	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binary, "--unpack_raw_blk", "--stdout", "--format", "Json", "--stdin")
	cmd.Stdin = bytes.NewReader(blob)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, "capture", "unpack results", binary+" timed out", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "unpacker failed"
		}
		return nil, services.Wrap(services.ErrExternalTool, "capture", "unpack results", detail, err)
	}
	out := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(out) {
		return nil, services.Wrap(services.ErrExternalTool, "capture", "unpack results", binary+" produced invalid json", nil)
	}
	return out, nil
}

// looseString decodes JSON strings and numbers alike; the client writes
// user ids both ways depending on the field.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = looseString(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = looseString(num.String())
	return nil
}

// looseBool decodes JSON booleans and numbers; the client writes flags as
// 0/1.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*b = true
	case "false", "null":
		*b = false
	default:
		var num float64
		if err := json.Unmarshal(data, &num); err != nil {
			return fmt.Errorf("flag %s: %w", data, err)
		}
		*b = num != 0
	}
	return nil
}

// flagOr returns the flag value, or fallback when the field was absent.
func flagOr(value *looseBool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return bool(*value)
}

type battleResults struct {
	Status        string          `json:"status"`
	TimePlayed    float64         `json:"timePlayed"`
	AuthorUserID  looseString     `json:"authorUserId"`
	Players       []resultsPlayer `json:"player"`
	UIScriptsData struct {
		PlayersInfo map[string]playerInfo `json:"playersInfo"`
	} `json:"uiScriptsData"`
}

type resultsPlayer struct {
	UserID        looseString `json:"userId"`
	Team          int         `json:"team"`
	Squad         int         `json:"squadId"`
	AutoSquad     *looseBool  `json:"autoSquad"`
	Kills         int         `json:"kills"`
	GroundKills   int         `json:"groundKills"`
	NavalKills    int         `json:"navalKills"`
	TeamKills     int         `json:"teamKills"`
	AIKills       int         `json:"aiKills"`
	AIGroundKills int         `json:"aiGroundKills"`
	AINavalKills  int         `json:"aiNavalKills"`
	Assists       int         `json:"assists"`
	Deaths        int         `json:"deaths"`
	CaptureZone   int         `json:"captureZone"`
	DamageZone    int         `json:"damageZone"`
	Score         int         `json:"score"`
	AwardDamage   int         `json:"awardDamage"`
	MissileEvades int         `json:"missileEvades"`
}

type playerInfo struct {
	ID       looseString       `json:"id"`
	ClanID   looseString       `json:"clanId"`
	ClanTag  string            `json:"clanTag"`
	Name     string            `json:"name"`
	Platform string            `json:"platform"`
	Country  string            `json:"country"`
	Crafts   map[string]string `json:"crafts"`
}

func decodeResults(data []byte) (battleResults, error) {
	var results battleResults
	if err := json.Unmarshal(data, &results); err != nil {
		return results, fmt.Errorf("decode results: %w", err)
	}
	if results.Status == "" {
		results.Status = "left"
	}
	return results, nil
}

// players joins scoreboard rows with their playersInfo block. Rows without
// info are returned as orphans so the caller can report them.
func (r battleResults) players() ([]RawPlayerEntry, []string) {
	infoByID := make(map[string]playerInfo, len(r.UIScriptsData.PlayersInfo))
	for _, info := range r.UIScriptsData.PlayersInfo {
		if id := string(info.ID); id != "" {
			infoByID[id] = info
		}
	}

	var (
		out     []RawPlayerEntry
		orphans []string
	)
	for _, row := range r.Players {
		id := string(row.UserID)
		info, ok := infoByID[id]
		if id == "" || !ok {
			orphans = append(orphans, id)
			continue
		}
		out = append(out, RawPlayerEntry{
			PlayerID:    id,
			Username:    cleanUsername(info.Name),
			Platform:    PlatformFromClient(info.Platform),
			SquadronID:  squadronID(string(info.ClanID)),
			SquadronTag: textutil.CleanDisplayName(info.ClanTag),
			Squad:       row.Squad,
			AutoSquad:   flagOr(row.AutoSquad, true),
			Team:        row.Team,
			Country:     strings.TrimPrefix(strings.TrimSpace(info.Country), "country_"),
			Vehicles:    lineup(info.Crafts),
			Score:       row.Score,
			Outcome: Outcome{
				Kills:         row.Kills,
				GroundKills:   row.GroundKills,
				NavalKills:    row.NavalKills,
				TeamKills:     row.TeamKills,
				AIKills:       row.AIKills,
				AIGroundKills: row.AIGroundKills,
				AINavalKills:  row.AINavalKills,
				Assists:       row.Assists,
				Deaths:        row.Deaths,
				CaptureZone:   row.CaptureZone,
				DamageZone:    row.DamageZone,
				AwardDamage:   row.AwardDamage,
				MissileEvades: row.MissileEvades,
			},
		})
	}
	return out, orphans
}

// squadronID clears the client's "-1" no-squadron marker.
func squadronID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "-1" {
		return ""
	}
	return raw
}

// lineup orders crafts by their slot key so the lineup is stable across runs.
func lineup(crafts map[string]string) []string {
	keys := make([]string, 0, len(crafts))
	for key := range crafts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if code := strings.TrimSpace(crafts[key]); code != "" {
			out = append(out, code)
		}
	}
	return out
}

func cleanUsername(name string) string {
	if idx := strings.Index(name, "@"); idx >= 0 {
		name = name[:idx]
	}
	return textutil.CleanDisplayName(name)
}
