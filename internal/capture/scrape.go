package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"warthog/internal/textutil"
)

// ScrapeFormat selects the decoder for a scrape capture.
type ScrapeFormat string

const (
	ScrapeJSON ScrapeFormat = "json"
	ScrapeHTML ScrapeFormat = "html"
)

// epoch values above this are taken as milliseconds
const epochMillisThreshold = 100_000_000_000

type scrapeRecord struct {
	Timestamp       json.RawMessage `json:"timestamp"`
	BattleRating    float64         `json:"battle_rating"`
	Map             string          `json:"map"`
	GameMode        string          `json:"game_mode"`
	SessionID       string          `json:"session_id"`
	Status          string          `json:"status"`
	DurationSeconds float64         `json:"duration_seconds"`
	AuthorID        looseString     `json:"author_id"`
	Players         []scrapePlayer  `json:"players"`
}

type scrapePlayer struct {
	ID          looseString `json:"id"`
	Name        string      `json:"name"`
	Platform    string      `json:"platform"`
	SquadronID  looseString `json:"squadron_id"`
	SquadronTag string      `json:"squadron_tag"`
	Squad       int         `json:"squad"`
	AutoSquad   *looseBool  `json:"auto_squad"`
	Team        int         `json:"team"`
	Country     string      `json:"country"`
	Vehicles    []string    `json:"vehicles"`
	Score       int         `json:"score"`
	Outcome
}

func decodeScrapeJSON(data []byte) (scrapeRecord, error) {
	var record scrapeRecord
	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&record); err != nil {
		return record, malformed("record", "invalid json", err)
	}
	return record, nil
}

// decodeScrapeHTML reads a saved scoreboard page. Match attributes live on
// the first element carrying data-battle-rating; each player is a row with a
// data-player-id attribute.
func decodeScrapeHTML(data []byte) (scrapeRecord, error) {
	var record scrapeRecord
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return record, malformed("record", "invalid html", err)
	}

	battle := doc.Find("[data-battle-rating]").First()
	if battle.Length() == 0 {
		return record, malformed("battle_rating", "scoreboard has no battle element", nil)
	}
	if ts := strings.TrimSpace(battle.AttrOr("data-timestamp", "")); ts != "" {
		record.Timestamp = json.RawMessage(strconv.Quote(ts))
	}
	if br, err := strconv.ParseFloat(strings.TrimSpace(battle.AttrOr("data-battle-rating", "")), 64); err == nil {
		record.BattleRating = br
	}
	record.Map = battle.AttrOr("data-map", "")
	record.GameMode = battle.AttrOr("data-mode", "")
	record.SessionID = battle.AttrOr("data-session", "")
	record.Status = battle.AttrOr("data-status", "")
	record.AuthorID = looseString(strings.TrimSpace(battle.AttrOr("data-author", "")))

	doc.Find("tr[data-player-id]").Each(func(_ int, row *goquery.Selection) {
		player := scrapePlayer{
			ID:          looseString(strings.TrimSpace(row.AttrOr("data-player-id", ""))),
			Platform:    row.AttrOr("data-platform", ""),
			SquadronID:  looseString(strings.TrimSpace(row.AttrOr("data-squadron-id", ""))),
			Squad:       atoiOrZero(row.AttrOr("data-squad", "")),
			Team:        atoiOrZero(row.AttrOr("data-team", "")),
			Country:     row.AttrOr("data-country", ""),
			Name:        strings.TrimSpace(row.Find(".name").First().Text()),
			SquadronTag: strings.TrimSpace(row.Find(".squadron").First().Text()),
			Score:       cellInt(row, ".score"),
		}
		if flag, ok := row.Attr("data-auto-squad"); ok {
			auto := looseBool(atoiOrZero(flag) != 0 || strings.EqualFold(strings.TrimSpace(flag), "true"))
			player.AutoSquad = &auto
		}
		row.Find("[data-code]").Each(func(_ int, vehicle *goquery.Selection) {
			if code := strings.TrimSpace(vehicle.AttrOr("data-code", "")); code != "" {
				player.Vehicles = append(player.Vehicles, code)
			}
		})
		player.Outcome = Outcome{
			Kills:       cellInt(row, ".kills"),
			GroundKills: cellInt(row, ".ground-kills"),
			NavalKills:  cellInt(row, ".naval-kills"),
			Assists:     cellInt(row, ".assists"),
			Deaths:      cellInt(row, ".deaths"),
			CaptureZone: cellInt(row, ".captures"),
		}
		record.Players = append(record.Players, player)
	})
	return record, nil
}

func cellInt(row *goquery.Selection, selector string) int {
	return atoiOrZero(row.Find(selector).First().Text())
}

func atoiOrZero(value string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(value), ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// parseScrapeTimestamp accepts RFC3339 strings and epoch seconds or
// milliseconds, as numbers or numeric strings.
func parseScrapeTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = json.RawMessage(bytes.TrimSpace(raw))
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return time.Time{}, nil
		}
		if at, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return at.UTC(), nil
		}
	} else {
		text = string(raw)
	}
	epoch, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(epoch) || epoch <= 0 {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %s", string(raw))
	}
	if epoch >= epochMillisThreshold {
		return time.UnixMilli(int64(epoch)).UTC(), nil
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

func (p scrapePlayer) entry() RawPlayerEntry {
	vehicles := make([]string, 0, len(p.Vehicles))
	for _, code := range p.Vehicles {
		if code = strings.TrimSpace(code); code != "" {
			vehicles = append(vehicles, code)
		}
	}
	return RawPlayerEntry{
		PlayerID:    string(p.ID),
		Username:    cleanUsername(p.Name),
		Platform:    PlatformFromClient(p.Platform),
		SquadronID:  squadronID(string(p.SquadronID)),
		SquadronTag: textutil.CleanDisplayName(p.SquadronTag),
		Squad:       p.Squad,
		AutoSquad:   flagOr(p.AutoSquad, true),
		Team:        p.Team,
		Country:     strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p.Country)), "country_"),
		Vehicles:    vehicles,
		Score:       p.Score,
		Outcome:     p.Outcome,
	}
}
