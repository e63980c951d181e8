package testsupport

import (
	"context"
	"testing"
	"time"

	"warthog/internal/capture"
	"warthog/internal/catalog"
	"warthog/internal/config"
	"warthog/internal/correlate"
	"warthog/internal/store"
	"warthog/internal/tier"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...store.Option) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// Record builds a minimal correlated match with one player per id.
func Record(id string, at time.Time, source capture.Source, playerIDs ...string) correlate.MatchRecord {
	rec := correlate.MatchRecord{
		ID:             id,
		Timestamp:      at.UTC().UnixMilli(),
		BattleRating:   5.7,
		Map:            "avg_stalingrad_factory",
		GameMode:       catalog.ModeRealistic,
		CatalogRelease: "2.35.0.1",
		Source:         source,
	}
	for i, playerID := range playerIDs {
		vehicle := Vehicle("germ_pzkpfw_IV_ausf_G", 5.7, false)
		rec.Players = append(rec.Players, correlate.PlayerResult{
			PlayerID:         playerID,
			Username:         "player_" + playerID,
			Team:             1 + i%2,
			VehicleCode:      vehicle.Code,
			Vehicle:          vehicle,
			Lineup:           []catalog.Entry{vehicle},
			BattleRating:     5.7,
			MinBattleRating:  5.7,
			MeanBattleRating: 5.7,
			Tier:             tier.Balanced,
		})
	}
	return rec
}
