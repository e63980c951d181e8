package correlate

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"warthog/internal/capture"
	"warthog/internal/catalog"
	"warthog/internal/logging"
	"warthog/internal/tier"
)

// SnapshotResolver finds the catalog snapshot in force at an instant.
type SnapshotResolver interface {
	SnapshotFor(t time.Time) (*catalog.Snapshot, error)
}

// Result is a correlated record plus the per-player problems met on the way.
type Result struct {
	Record  MatchRecord
	Skipped []PlayerDiagnostic
}

// Correlator builds MatchRecords. It holds no mutable state and is safe for
// concurrent use.
type Correlator struct {
	catalog SnapshotResolver
	logger  *slog.Logger
}

// NewCorrelator constructs a correlator backed by the given catalog.
func NewCorrelator(resolver SnapshotResolver, logger *slog.Logger) *Correlator {
	return &Correlator{
		catalog: resolver,
		logger:  logging.NewComponentLogger(logger, "correlate"),
	}
}

// Correlate resolves every player's lineup against the snapshot effective at
// the match time. Players with no resolvable vehicle are dropped and
// reported; the match fails only when no snapshot applies or nobody is left.
func (c *Correlator) Correlate(ctx context.Context, match capture.RawMatch) (Result, error) {
	ids := make([]string, 0, len(match.Players)+len(match.OrphanIDs))
	for _, player := range match.Players {
		ids = append(ids, player.PlayerID)
	}
	ids = append(ids, match.OrphanIDs...)
	matchID := MatchID(match.Timestamp, match.Map, ids)
	logger := logging.WithContext(ctx, c.logger).With(logging.String(logging.FieldMatchID, matchID))

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	snapshot, err := c.catalog.SnapshotFor(match.Timestamp)
	if err != nil {
		reason := "catalog lookup failed"
		if errors.Is(err, catalog.ErrNoCatalogAvailable) {
			reason = "no catalog snapshot covers match time"
		}
		return Result{}, &CorrelationError{MatchID: matchID, Reason: reason, Err: err}
	}

	mode := match.GameMode
	if mode == "" {
		mode = catalog.ModeRealistic
	}

	var (
		players []PlayerResult
		skipped []PlayerDiagnostic
	)
	for _, raw := range match.Players {
		result, diagnostics, ok := c.resolvePlayer(raw, snapshot, mode, match.BattleRating)
		skipped = append(skipped, diagnostics...)
		if ok {
			players = append(players, result)
		}
	}
	for _, diag := range skipped {
		if diag.Dropped {
			logging.WarnWithContext(logger, "player dropped from match", "correlate_player_dropped",
				logging.String("player_id", diag.PlayerID),
				logging.Error(diag.Err),
				logging.String(logging.FieldErrorHint, "sync a newer catalog release if the vehicle is new"),
				logging.String(logging.FieldImpact, "match is kept without this player"),
			)
		}
	}
	if len(players) == 0 {
		return Result{Skipped: skipped}, &CorrelationError{MatchID: matchID, Reason: "no player has a resolvable vehicle"}
	}

	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.Team != b.Team {
			return a.Team < b.Team
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.PlayerID < b.PlayerID
	})

	record := MatchRecord{
		ID:              matchID,
		Timestamp:       match.Timestamp.UTC().UnixMilli(),
		BattleRating:    match.BattleRating,
		Map:             match.Map,
		GameMode:        mode,
		CatalogRelease:  snapshot.Release(),
		Source:          match.Source,
		SessionID:       match.SessionID,
		Status:          match.Status,
		DurationSeconds: match.Duration.Seconds(),
		AuthorID:        match.AuthorID,
		Players:         players,
	}
	logger.Debug("match correlated",
		logging.String(logging.FieldRelease, snapshot.Release()),
		logging.Int("players", len(players)),
		logging.Int("diagnostics", len(skipped)),
	)
	return Result{Record: record, Skipped: skipped}, nil
}

func (c *Correlator) resolvePlayer(raw capture.RawPlayerEntry, snapshot *catalog.Snapshot, mode catalog.GameMode, matchBR float64) (PlayerResult, []PlayerDiagnostic, bool) {
	var (
		lineup      []catalog.Entry
		diagnostics []PlayerDiagnostic
	)
	seen := make(map[string]struct{}, len(raw.Vehicles))
	for _, code := range raw.Vehicles {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		entry, ok := snapshot.Lookup(code)
		reason := "not in catalog"
		if ok && entry.BattleRating(mode) <= 0 {
			ok = false
			reason = "no battle rating for " + string(mode)
		}
		if !ok {
			diagnostics = append(diagnostics, PlayerDiagnostic{
				PlayerID: raw.PlayerID,
				Code:     code,
				Err: &VehicleResolutionError{
					PlayerID: raw.PlayerID,
					Code:     code,
					Release:  snapshot.Release(),
					Reason:   reason,
				},
			})
			continue
		}
		lineup = append(lineup, entry)
	}

	if len(lineup) == 0 {
		dropped := PlayerDiagnostic{
			PlayerID: raw.PlayerID,
			Dropped:  true,
			Err:      &VehicleResolutionError{PlayerID: raw.PlayerID, Release: snapshot.Release(), Reason: "empty lineup"},
		}
		if n := len(diagnostics); n > 0 {
			dropped.Code = diagnostics[n-1].Code
			dropped.Err = diagnostics[n-1].Err
		}
		diagnostics = append(diagnostics, dropped)
		return PlayerResult{}, diagnostics, false
	}

	primary := lineup[0]
	minBR := primary.BattleRating(mode)
	var sum float64
	premium := false
	for _, entry := range lineup {
		br := entry.BattleRating(mode)
		if top := primary.BattleRating(mode); br > top || (br == top && entry.Code < primary.Code) {
			primary = entry
		}
		minBR = math.Min(minBR, br)
		sum += br
		premium = premium || entry.Premium
	}
	playerBR := primary.BattleRating(mode)

	classified, err := tier.Classify(playerBR, matchBR)
	if err != nil {
		diagnostics = append(diagnostics, PlayerDiagnostic{PlayerID: raw.PlayerID, Code: primary.Code, Dropped: true, Err: err})
		return PlayerResult{}, diagnostics, false
	}

	return PlayerResult{
		PlayerID:         raw.PlayerID,
		Username:         raw.Username,
		Platform:         raw.Platform,
		SquadronID:       raw.SquadronID,
		SquadronTag:      raw.SquadronTag,
		Squad:            raw.Squad,
		AutoSquad:        raw.AutoSquad,
		Team:             raw.Team,
		Country:          raw.Country,
		VehicleCode:      primary.Code,
		Vehicle:          primary,
		Lineup:           lineup,
		BattleRating:     playerBR,
		MinBattleRating:  minBR,
		MeanBattleRating: math.Round(sum/float64(len(lineup))*100) / 100,
		Tier:             classified,
		Premium:          premium,
		Score:            raw.Score,
		Stats:            raw.Outcome,
	}, diagnostics, true
}
