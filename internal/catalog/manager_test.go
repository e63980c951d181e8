package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	releaseA = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	releaseB = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

func mustSnapshot(t *testing.T, release string, at time.Time, entries ...Entry) *Snapshot {
	t.Helper()
	snapshot, err := NewSnapshot(release, at, entries)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return snapshot
}

func tank(code string, realistic float64) Entry {
	return Entry{
		Code:          code,
		Name:          code,
		Country:       "germany",
		Class:         ClassGround,
		BattleRatings: BattleRatings{Arcade: realistic, Realistic: realistic, Simulation: realistic},
	}
}

type countingSource struct {
	calls     atomic.Int32
	snapshots map[string]*Snapshot
	fail      map[string]error
	gate      chan struct{}
}

func (s *countingSource) Fetch(_ context.Context, release string) (*Snapshot, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if err, ok := s.fail[release]; ok {
		return nil, err
	}
	snapshot, ok := s.snapshots[release]
	if !ok {
		return nil, fmt.Errorf("unknown release %s", release)
	}
	return snapshot, nil
}

func TestSnapshotForVersionedResolution(t *testing.T) {
	manager := NewManager()
	if _, err := manager.Register(mustSnapshot(t, "b", releaseB, tank("tiger", 6.7))); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Register(mustSnapshot(t, "a", releaseA, tank("tiger", 6.3))); err != nil {
		t.Fatal(err)
	}

	between := releaseA.Add(48 * time.Hour)
	snapshot, err := manager.SnapshotFor(between)
	if err != nil {
		t.Fatalf("SnapshotFor: %v", err)
	}
	if snapshot.Release() != "a" {
		t.Fatalf("expected release a, got %s", snapshot.Release())
	}
	if rating, ok := manager.BattleRating(between, ModeRealistic, "tiger"); !ok || rating != 6.3 {
		t.Fatalf("expected 6.3 before release b, got %v %v", rating, ok)
	}

	snapshot, err = manager.SnapshotFor(releaseB)
	if err != nil {
		t.Fatalf("SnapshotFor at boundary: %v", err)
	}
	if snapshot.Release() != "b" {
		t.Fatalf("expected release b at its effective-from, got %s", snapshot.Release())
	}
	if rating, _ := manager.BattleRating(releaseB.Add(time.Hour), ModeRealistic, "tiger"); rating != 6.7 {
		t.Fatalf("expected 6.7 after release b, got %v", rating)
	}

	got := manager.Snapshots()
	if len(got) != 2 || got[0].Release() != "a" || got[1].Release() != "b" {
		t.Fatalf("snapshots not ordered by effective-from: %v", got)
	}
}

func TestSnapshotForBeforeEarliest(t *testing.T) {
	manager := NewManager()
	_, err := manager.SnapshotFor(releaseA)
	if !errors.Is(err, ErrNoCatalogAvailable) {
		t.Fatalf("expected ErrNoCatalogAvailable on empty manager, got %v", err)
	}

	if _, err := manager.Register(mustSnapshot(t, "a", releaseA)); err != nil {
		t.Fatal(err)
	}
	_, err = manager.SnapshotFor(releaseA.Add(-time.Second))
	var noCatalog *NoCatalogError
	if !errors.As(err, &noCatalog) {
		t.Fatalf("expected NoCatalogError, got %v", err)
	}
	if !noCatalog.Earliest.Equal(releaseA) {
		t.Fatalf("expected earliest %s, got %s", releaseA, noCatalog.Earliest)
	}
}

func TestRegisterRejectsSharedEffectiveFrom(t *testing.T) {
	manager := NewManager()
	first := mustSnapshot(t, "a", releaseA)
	if _, err := manager.Register(first); err != nil {
		t.Fatal(err)
	}
	again, err := manager.Register(mustSnapshot(t, "a", releaseB))
	if err != nil {
		t.Fatalf("re-registering a release should be a no-op: %v", err)
	}
	if again != first {
		t.Fatal("expected existing snapshot to be returned")
	}
	if _, err := manager.Register(mustSnapshot(t, "other", releaseA)); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestFetchAndRegisterIsIdempotent(t *testing.T) {
	source := &countingSource{snapshots: map[string]*Snapshot{
		"a": mustSnapshot(t, "a", releaseA, tank("tiger", 6.3)),
	}}
	manager := NewManager(WithSource(source))

	for i := 0; i < 3; i++ {
		snapshot, err := manager.FetchAndRegister(context.Background(), "a")
		if err != nil {
			t.Fatalf("FetchAndRegister: %v", err)
		}
		if snapshot.Release() != "a" {
			t.Fatalf("unexpected release %s", snapshot.Release())
		}
	}
	if calls := source.calls.Load(); calls != 1 {
		t.Fatalf("expected one feed call, got %d", calls)
	}
}

func TestFetchAndRegisterSharesConcurrentFetch(t *testing.T) {
	source := &countingSource{
		snapshots: map[string]*Snapshot{"a": mustSnapshot(t, "a", releaseA)},
		gate:      make(chan struct{}),
	}
	manager := NewManager(WithSource(source))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.FetchAndRegister(context.Background(), "a")
			errs <- err
		}()
	}
	for source.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(source.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("FetchAndRegister: %v", err)
		}
	}
	if calls := source.calls.Load(); calls != 1 {
		t.Fatalf("expected one feed call, got %d", calls)
	}
}

func TestFetchAndRegisterWrapsFeedErrors(t *testing.T) {
	boom := errors.New("feed offline")
	source := &countingSource{fail: map[string]error{"a": boom}}
	manager := NewManager(WithSource(source))

	_, err := manager.FetchAndRegister(context.Background(), "a")
	if !errors.Is(err, ErrCatalogFetch) {
		t.Fatalf("expected ErrCatalogFetch, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error to be preserved, got %v", err)
	}
	if _, ok := manager.Release("a"); ok {
		t.Fatal("failed release must not be registered")
	}
}

func TestFetchAndRegisterWithoutSource(t *testing.T) {
	manager := NewManager()
	if _, err := manager.FetchAndRegister(context.Background(), "a"); !errors.Is(err, ErrCatalogFetch) {
		t.Fatalf("expected ErrCatalogFetch, got %v", err)
	}
}

func TestSyncAllContinuesPastFailures(t *testing.T) {
	source := &countingSource{
		snapshots: map[string]*Snapshot{
			"a": mustSnapshot(t, "a", releaseA),
			"b": mustSnapshot(t, "b", releaseB),
		},
		fail: map[string]error{"broken": errors.New("404")},
	}
	manager := NewManager(WithSource(source))

	report := manager.SyncAll(context.Background(), []string{"a", "broken", "b"})
	if len(report.Registered) != 2 || report.Registered[0] != "a" || report.Registered[1] != "b" {
		t.Fatalf("unexpected registered releases: %v", report.Registered)
	}
	if _, ok := report.Failed["broken"]; !ok || len(report.Failed) != 1 {
		t.Fatalf("expected only broken to fail, got %v", report.Failed)
	}
}

func TestFetchAndRegisterPersistsToCache(t *testing.T) {
	dir := t.TempDir()
	source := &countingSource{snapshots: map[string]*Snapshot{
		"a": mustSnapshot(t, "a", releaseA, tank("tiger", 6.3)),
	}}
	manager := NewManager(WithSource(source), WithCache(NewDiskCache(dir)))
	if _, err := manager.FetchAndRegister(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}

	reloaded := NewManager(WithCache(NewDiskCache(dir)))
	loaded, err := reloaded.LoadCache()
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if loaded != 1 {
		t.Fatalf("expected 1 cached snapshot, got %d", loaded)
	}
	rating, ok := reloaded.BattleRating(releaseA, ModeRealistic, "tiger")
	if !ok || rating != 6.3 {
		t.Fatalf("cached snapshot lost data: %v %v", rating, ok)
	}
}
