package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDiskCacheSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	cache := NewDiskCache(dir)
	snapshot, err := NewSnapshot("2.35.0.1", releaseA, []Entry{{Code: "tiger", Class: ClassGround, BattleRatings: BattleRatings{Realistic: 6.7}, Premium: true}})
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Save(snapshot); err != nil {
		t.Fatalf("Save: %v", err)
	}
	corrupt := filepath.Join(dir, "snapshot.broken.json")
	if err := os.WriteFile(corrupt, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "releases.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	snapshots, failures, err := cache.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snapshots))
	}
	if _, ok := failures[corrupt]; !ok || len(failures) != 1 {
		t.Fatalf("expected corrupt file failure, got %v", failures)
	}
	entry, ok := snapshots[0].Lookup("tiger")
	if !ok || !entry.Premium || entry.BattleRating(ModeRealistic) != 6.7 {
		t.Fatalf("round trip lost entry data: %+v", entry)
	}
}

func TestReleaseIndexLoadAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "releases.json")
	payload := `{"2.35.0.1": "2024-03-01T00:00:00+00:00", "2.37.0.10": "2024-06-01 12:30:00", "old": "2023-12-01"}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
	index, err := LoadReleaseIndex(path)
	if err != nil {
		t.Fatalf("LoadReleaseIndex: %v", err)
	}
	ids := index.IDs()
	if len(ids) != 3 || ids[0] != "old" || ids[2] != "2.37.0.10" {
		t.Fatalf("unexpected release order: %v", ids)
	}
	at, ok := index.Get("2.37.0.10")
	if !ok || !at.Equal(time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)) {
		t.Fatalf("naive timestamp not read as UTC: %v", at)
	}

	index.Set("2.39.0.1", time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC))
	if err := index.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := LoadReleaseIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Releases()) != 4 {
		t.Fatalf("expected 4 releases after save, got %d", len(reloaded.Releases()))
	}
}

func TestLoadReleaseIndexMissingFile(t *testing.T) {
	index, err := LoadReleaseIndex(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("missing index should be empty, got %v", err)
	}
	if len(index.IDs()) != 0 {
		t.Fatal("expected empty index")
	}
}

func TestReleaseIndexSyncTargets(t *testing.T) {
	index := NewReleaseIndex("")
	index.Set("2.37.0.10", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	index.Set("2.35.0.1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	got := index.SyncTargets("2.39.0.1", " 2.35.0.1 ", "", "2.39.0.1")
	want := []string{"2.35.0.1", "2.37.0.10", "2.39.0.1"}
	if len(got) != len(want) {
		t.Fatalf("targets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("targets = %v, want %v", got, want)
		}
	}

	if targets := NewReleaseIndex("").SyncTargets(); len(targets) != 0 {
		t.Fatalf("empty index and no extras should yield nothing, got %v", targets)
	}
}
