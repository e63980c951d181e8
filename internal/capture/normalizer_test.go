package capture_test

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"warthog/internal/capture"
	"warthog/internal/catalog"
	"warthog/internal/services"
	"warthog/internal/testsupport"
)

var matchStart = time.Date(2024, 5, 1, 18, 30, 12, 0, time.UTC)

func sampleSpec() testsupport.ReplaySpec {
	return testsupport.ReplaySpec{
		Level:      "levels/avg_stalingrad_factory.bin",
		Mode:       catalog.ModeRealistic,
		SessionID:  0x3f1a2b,
		StartTime:  matchStart,
		Status:     "success",
		TimePlayed: 912.5,
		AuthorID:   "1001",
		Players: []testsupport.ReplayPlayer{
			{ID: "1001", Name: "Tanker@psn", Platform: "ps4", ClanID: "77", ClanTag: "[WOLF]", Team: 1, Squad: 4, ManualSquad: true, Score: 1450, Kills: 3, Vehicles: []string{"germ_pzkpfw_iv_ausf_h", "germ_stug_iii_g"}},
			{ID: "2002", Name: "Rival", Platform: "win64", Team: 2, Score: 800, Deaths: 2, Vehicles: []string{"us_m4a1_sherman"}},
		},
	}
}

func sampleManager(t *testing.T) *catalog.Manager {
	return testsupport.NewManager(t, testsupport.NewSnapshot(t, "2.35", matchStart.Add(-24*time.Hour),
		testsupport.Vehicle("germ_pzkpfw_iv_ausf_h", 4.7, false),
		testsupport.Vehicle("germ_stug_iii_g", 4.3, false),
		testsupport.Vehicle("us_m4a1_sherman", 5.0, true),
	))
}

func TestNormalizeBinaryReplay(t *testing.T) {
	data := testsupport.BuildReplay(t, sampleSpec())
	normalizer := capture.NewNormalizer(capture.WithRatingSource(sampleManager(t)))

	match, err := normalizer.Normalize(context.Background(), capture.BinaryCapture{Path: "a.wrpl", Data: data})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Source != capture.SourceBinary {
		t.Fatalf("source = %s", match.Source)
	}
	if !match.Timestamp.Equal(matchStart) {
		t.Fatalf("timestamp = %s, want %s", match.Timestamp, matchStart)
	}
	if match.Map != "avg_stalingrad_factory" {
		t.Fatalf("map = %q", match.Map)
	}
	if match.GameMode != catalog.ModeRealistic {
		t.Fatalf("mode = %s", match.GameMode)
	}
	if match.SessionID != "3f1a2b" {
		t.Fatalf("session = %q", match.SessionID)
	}
	if match.BattleRating != 5.0 {
		t.Fatalf("derived battle rating = %v, want top lineup rating 5.0", match.BattleRating)
	}
	if match.Duration != 912500*time.Millisecond {
		t.Fatalf("duration = %s", match.Duration)
	}
	if len(match.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(match.Players))
	}

	first := match.Players[0]
	if first.PlayerID != "1001" || first.Username != "Tanker" || first.Platform != capture.PlatformPSN {
		t.Fatalf("unexpected identity: %+v", first)
	}
	if first.SquadronID != "77" || first.SquadronTag != "[WOLF]" || first.Team != 1 || first.Score != 1450 || first.Outcome.Kills != 3 {
		t.Fatalf("unexpected scoreboard fields: %+v", first)
	}
	if first.Squad != 4 || first.AutoSquad {
		t.Fatalf("platoon should come from squadId/autoSquad, not the squadron: %+v", first)
	}
	if strings.Join(first.Vehicles, ",") != "germ_pzkpfw_iv_ausf_h,germ_stug_iii_g" {
		t.Fatalf("lineup out of slot order: %v", first.Vehicles)
	}
	if second := match.Players[1]; second.SquadronID != "" || second.Platform != capture.PlatformPC || !second.AutoSquad {
		t.Fatalf("clan id -1 should mean no squadron: %+v", second)
	}
}

func TestNormalizeBinaryKeepsOrphanIDs(t *testing.T) {
	spec := sampleSpec()
	spec.OrphanIDs = []string{"3003", ""}
	normalizer := capture.NewNormalizer(capture.WithRatingSource(sampleManager(t)))

	match, err := normalizer.Normalize(context.Background(), capture.BinaryCapture{Data: testsupport.BuildReplay(t, spec)})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(match.Players) != 2 {
		t.Fatalf("rows without player info should not become players, got %d", len(match.Players))
	}
	if len(match.OrphanIDs) != 1 || match.OrphanIDs[0] != "3003" {
		t.Fatalf("orphan ids = %v, want [3003]", match.OrphanIDs)
	}
}

func TestNormalizeBinaryToleratesTrailingData(t *testing.T) {
	spec := sampleSpec()
	spec.Trailing = []byte("\x00\x01trailing-chunk-data")
	data := testsupport.BuildReplay(t, spec)
	normalizer := capture.NewNormalizer(capture.WithRatingSource(sampleManager(t)))

	if _, err := normalizer.Normalize(context.Background(), capture.BinaryCapture{Data: data}); err != nil {
		t.Fatalf("trailing data should be ignored: %v", err)
	}
}

func TestNormalizeBinaryFailsClosed(t *testing.T) {
	good := testsupport.BuildReplay(t, sampleSpec())

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 0x00

	badVersion := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(badVersion[4:], 7)

	cases := map[string][]byte{
		"magic":     badMagic,
		"version":   badVersion,
		"truncated": good[:capture.HeaderSize-10],
		"empty":     nil,
	}
	normalizer := capture.NewNormalizer(capture.WithRatingSource(sampleManager(t)))
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := normalizer.Normalize(context.Background(), capture.BinaryCapture{Path: "x.wrpl", Data: data})
			if !errors.Is(err, capture.ErrMalformedCapture) {
				t.Fatalf("expected ErrMalformedCapture, got %v", err)
			}
			var malformed *capture.MalformedCaptureError
			if !errors.As(err, &malformed) || malformed.Path != "x.wrpl" {
				t.Fatalf("expected path on error, got %v", err)
			}
		})
	}
}

func TestNormalizeBinaryNeedsResolvableRating(t *testing.T) {
	data := testsupport.BuildReplay(t, sampleSpec())

	_, err := capture.NewNormalizer().Normalize(context.Background(), capture.BinaryCapture{Data: data})
	var malformed *capture.MalformedCaptureError
	if !errors.As(err, &malformed) || malformed.Field != "battle_rating" {
		t.Fatalf("expected battle_rating failure without a rating source, got %v", err)
	}

	early := testsupport.NewManager(t, testsupport.NewSnapshot(t, "later", matchStart.Add(time.Hour),
		testsupport.Vehicle("us_m4a1_sherman", 5.0, false)))
	_, err = capture.NewNormalizer(capture.WithRatingSource(early)).Normalize(context.Background(), capture.BinaryCapture{Data: data})
	if !errors.Is(err, catalog.ErrNoCatalogAvailable) {
		t.Fatalf("ratings from a later release must not apply, got %v", err)
	}

	other := testsupport.NewManager(t, testsupport.NewSnapshot(t, "earlier", matchStart.Add(-time.Hour),
		testsupport.Vehicle("unrelated_code", 5.0, false)))
	_, err = capture.NewNormalizer(capture.WithRatingSource(other)).Normalize(context.Background(), capture.BinaryCapture{Data: data})
	if !errors.As(err, &malformed) || malformed.Field != "battle_rating" {
		t.Fatalf("expected battle_rating failure when no lineup resolves, got %v", err)
	}
}

func TestNormalizeBinaryEmptyScoreboard(t *testing.T) {
	spec := sampleSpec()
	spec.Players = nil
	data := testsupport.BuildReplay(t, spec)

	_, err := capture.NewNormalizer(capture.WithRatingSource(sampleManager(t))).Normalize(context.Background(), capture.BinaryCapture{Data: data})
	if !errors.Is(err, capture.ErrMalformedCapture) {
		t.Fatalf("expected malformed capture, got %v", err)
	}
}

func TestNormalizeBinaryExternalUnpacker(t *testing.T) {
	testsupport.NewConfig(t, testsupport.WithStubbedBinaries("wt_ext_cli"))
	data := testsupport.BuildReplay(t, sampleSpec())
	normalizer := capture.NewNormalizer(
		capture.WithUnpacker(capture.ExternalUnpacker{Binary: "wt_ext_cli", Timeout: 5 * time.Second}),
		capture.WithRatingSource(sampleManager(t)),
	)
	match, err := normalizer.Normalize(context.Background(), capture.BinaryCapture{Data: data})
	if err != nil {
		t.Fatalf("Normalize with external unpacker: %v", err)
	}
	if len(match.Players) != 2 {
		t.Fatalf("expected players from unpacked results, got %d", len(match.Players))
	}
}

func TestExternalUnpackerMissingBinary(t *testing.T) {
	unpacker := capture.ExternalUnpacker{Binary: filepath.Join(t.TempDir(), "missing-unpacker")}
	_, err := unpacker.Unpack(context.Background(), []byte("{}"))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}

func TestNormalizeScrapeTimestampForms(t *testing.T) {
	base := `"battle_rating": 5.0, "map": "avg_stalingrad_factory", "players": [{"id": "1001", "vehicles": ["us_m4a1_sherman"]}]`
	forms := map[string]string{
		"rfc3339":       `"2024-05-01T18:30:12Z"`,
		"rfc3339 nanos": `"2024-05-01T20:30:12.750+02:00"`,
		"epoch seconds": `1714588212`,
		"epoch millis":  `1714588212750`,
		"numeric text":  `"1714588212"`,
	}
	normalizer := capture.NewNormalizer()
	for name, ts := range forms {
		t.Run(name, func(t *testing.T) {
			record := []byte(`{"timestamp": ` + ts + `, ` + base + `}`)
			match, err := normalizer.Normalize(context.Background(), capture.ScrapeCapture{Data: record, Format: capture.ScrapeJSON})
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if !match.Timestamp.Equal(matchStart) {
				t.Fatalf("timestamp = %s, want %s", match.Timestamp, matchStart)
			}
			if match.Timestamp.Location() != time.UTC {
				t.Fatalf("timestamp not in UTC: %s", match.Timestamp.Location())
			}
		})
	}
}

func TestNormalizeScrapeValidation(t *testing.T) {
	cases := []struct {
		name   string
		record string
		field  string
	}{
		{"missing timestamp", `{"battle_rating": 4.3, "map": "m", "players": [{"id": "1"}]}`, "timestamp"},
		{"br below range", `{"timestamp": 1714588212, "battle_rating": 0.7, "map": "m", "players": [{"id": "1"}]}`, "battle_rating"},
		{"br above range", `{"timestamp": 1714588212, "battle_rating": 20.3, "map": "m", "players": [{"id": "1"}]}`, "battle_rating"},
		{"no players", `{"timestamp": 1714588212, "battle_rating": 4.3, "map": "m", "players": []}`, "players"},
		{"player without id", `{"timestamp": 1714588212, "battle_rating": 4.3, "map": "m", "players": [{"name": "x"}]}`, "players[0].id"},
		{"bad mode", `{"timestamp": 1714588212, "battle_rating": 4.3, "map": "m", "game_mode": "naval", "players": [{"id": "1"}]}`, "game_mode"},
		{"not json", `{"timestamp":`, "record"},
	}
	normalizer := capture.NewNormalizer()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := normalizer.Normalize(context.Background(), capture.ScrapeCapture{Data: []byte(tc.record)})
			var malformed *capture.MalformedCaptureError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedCaptureError, got %v", err)
			}
			if malformed.Field != tc.field {
				t.Fatalf("field = %q, want %q", malformed.Field, tc.field)
			}
		})
	}
}

func TestNormalizeScrapeBoundaryRatings(t *testing.T) {
	normalizer := capture.NewNormalizer()
	for _, br := range []string{"1.0", "20.0"} {
		record := []byte(`{"timestamp": 1714588212, "battle_rating": ` + br + `, "map": "m", "players": [{"id": "1"}]}`)
		if _, err := normalizer.Normalize(context.Background(), capture.ScrapeCapture{Data: record}); err != nil {
			t.Fatalf("br %s should be accepted: %v", br, err)
		}
	}
}

const scoreboardHTML = `<!doctype html>
<html><body>
<section class="battle" data-timestamp="2024-05-01T18:30:12Z" data-battle-rating="5.0"
  data-map="levels/avg_stalingrad_factory.bin" data-mode="rb" data-status="success">
<table class="scoreboard">
  <tr><th>Player</th><th>Vehicles</th><th>Score</th></tr>
  <tr data-player-id="1001" data-team="1" data-squadron-id="77" data-squad="4" data-auto-squad="0" data-platform="ps4">
    <td class="name">Tanker@psn</td><td class="squadron">[WOLF]</td>
    <td class="vehicles"><span data-code="germ_pzkpfw_iv_ausf_h"></span><span data-code="germ_stug_iii_g"></span></td>
    <td class="score">1,450</td><td class="kills">3</td><td class="deaths">0</td>
  </tr>
  <tr data-player-id="2002" data-team="2" data-squadron-id="-1" data-platform="win64">
    <td class="name">Rival</td><td class="squadron"></td>
    <td class="vehicles"><span data-code="us_m4a1_sherman"></span></td>
    <td class="score">800</td><td class="kills">0</td><td class="deaths">2</td>
  </tr>
</table>
</section>
</body></html>`

func TestNormalizeScrapeHTML(t *testing.T) {
	match, err := capture.NewNormalizer().Normalize(context.Background(), capture.ScrapeCapture{
		Path:   "board.html",
		Data:   []byte(scoreboardHTML),
		Format: capture.ScrapeHTML,
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Map != "avg_stalingrad_factory" || match.GameMode != catalog.ModeRealistic || match.BattleRating != 5.0 {
		t.Fatalf("unexpected match fields: %+v", match)
	}
	if len(match.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(match.Players))
	}
	first := match.Players[0]
	if first.Username != "Tanker" || first.SquadronTag != "[WOLF]" || first.Score != 1450 || first.Outcome.Kills != 3 {
		t.Fatalf("unexpected first player: %+v", first)
	}
	if len(first.Vehicles) != 2 || first.Vehicles[1] != "germ_stug_iii_g" {
		t.Fatalf("unexpected lineup: %v", first.Vehicles)
	}
	if first.Squad != 4 || first.AutoSquad {
		t.Fatalf("unexpected platoon fields: squad=%d auto=%v", first.Squad, first.AutoSquad)
	}
	if second := match.Players[1]; second.SquadronID != "" || !second.AutoSquad {
		t.Fatalf("squadron -1 should be cleared and a missing flag means auto squad: %+v", second)
	}
}

func TestBinaryAndScrapeAgreeOnIdentityFields(t *testing.T) {
	spec := sampleSpec()
	normalizer := capture.NewNormalizer(capture.WithRatingSource(sampleManager(t)))

	fromReplay, err := normalizer.Normalize(context.Background(), capture.BinaryCapture{Data: testsupport.BuildReplay(t, spec)})
	if err != nil {
		t.Fatal(err)
	}
	fromScrape, err := normalizer.Normalize(context.Background(), capture.ScrapeCapture{Data: testsupport.ScrapeRecord(t, spec, 5.0)})
	if err != nil {
		t.Fatal(err)
	}
	if !fromReplay.Timestamp.Equal(fromScrape.Timestamp) || fromReplay.Map != fromScrape.Map {
		t.Fatalf("identity fields differ: %s/%s vs %s/%s",
			fromReplay.Timestamp, fromReplay.Map, fromScrape.Timestamp, fromScrape.Map)
	}
	for i := range fromReplay.Players {
		a, b := fromReplay.Players[i], fromScrape.Players[i]
		if a.SquadronID != b.SquadronID || a.Squad != b.Squad || a.AutoSquad != b.AutoSquad {
			t.Fatalf("squad fields differ for %s: %+v vs %+v", a.PlayerID, a, b)
		}
	}
}

func TestLoadPicksKindByExtension(t *testing.T) {
	dir := t.TempDir()
	replay := filepath.Join(dir, "#2024.05.01 18.30.12.wrpl")
	testsupport.WriteFile(t, replay, testsupport.BuildReplay(t, sampleSpec()))
	page := filepath.Join(dir, "board.HTML")
	testsupport.WriteFile(t, page, []byte(scoreboardHTML))
	other := filepath.Join(dir, "notes.txt")
	testsupport.WriteFile(t, other, []byte("hi"))

	loaded, err := capture.Load(replay)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := loaded.(capture.BinaryCapture); !ok {
		t.Fatalf("expected BinaryCapture, got %T", loaded)
	}
	loaded, err = capture.Load(page)
	if err != nil {
		t.Fatal(err)
	}
	if scrape, ok := loaded.(capture.ScrapeCapture); !ok || scrape.Format != capture.ScrapeHTML {
		t.Fatalf("expected html ScrapeCapture, got %#v", loaded)
	}
	if _, err := capture.Load(other); !errors.Is(err, capture.ErrMalformedCapture) {
		t.Fatalf("expected malformed error for unknown extension, got %v", err)
	}
}
