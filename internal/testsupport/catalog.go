package testsupport

import (
	"testing"
	"time"

	"warthog/internal/catalog"
)

// Vehicle builds a catalog entry with the same rating in every mode.
func Vehicle(code string, br float64, premium bool) catalog.Entry {
	return catalog.Entry{
		Code:          code,
		Name:          code,
		Country:       "germany",
		Class:         catalog.ClassGround,
		Type:          "medium_tank",
		Rank:          3,
		BattleRatings: catalog.BattleRatings{Arcade: br, Realistic: br, Simulation: br},
		Premium:       premium,
	}
}

// NewSnapshot builds a snapshot or fails the test.
func NewSnapshot(t testing.TB, release string, effectiveFrom time.Time, entries ...catalog.Entry) *catalog.Snapshot {
	t.Helper()

	snapshot, err := catalog.NewSnapshot(release, effectiveFrom, entries)
	if err != nil {
		t.Fatalf("new snapshot %s: %v", release, err)
	}
	return snapshot
}

// NewManager registers the given snapshots on a fresh catalog manager.
func NewManager(t testing.TB, snapshots ...*catalog.Snapshot) *catalog.Manager {
	t.Helper()

	manager := catalog.NewManager()
	for _, snapshot := range snapshots {
		if _, err := manager.Register(snapshot); err != nil {
			t.Fatalf("register %s: %v", snapshot.Release(), err)
		}
	}
	return manager
}
