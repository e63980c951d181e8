package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"warthog/internal/logging"
	"warthog/internal/services"
)

// Source produces a snapshot for one release. Feed is the production
// implementation.
type Source interface {
	Fetch(ctx context.Context, release string) (*Snapshot, error)
}

// Manager holds registered snapshots ordered by effective-from and answers
// point-in-time queries against them. It is safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	snapshots []*Snapshot
	byRelease map[string]*Snapshot

	source Source
	cache  *DiskCache
	logger *slog.Logger
	group  singleflight.Group
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithSource sets the feed used by FetchAndRegister.
func WithSource(source Source) ManagerOption {
	return func(m *Manager) {
		m.source = source
	}
}

// WithCache persists fetched snapshots to disk.
func WithCache(cache *DiskCache) ManagerOption {
	return func(m *Manager) {
		m.cache = cache
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager constructs an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{byRelease: make(map[string]*Snapshot)}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "catalog")
	return m
}

// Register inserts a snapshot in effective-from order. Registering a release
// that is already present returns the existing snapshot unchanged. A snapshot
// whose effective-from equals that of a different release is rejected.
func (m *Manager) Register(snapshot *Snapshot) (*Snapshot, error) {
	if snapshot == nil {
		return nil, errors.New("register: nil snapshot")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerLocked(snapshot)
}

func (m *Manager) registerLocked(snapshot *Snapshot) (*Snapshot, error) {
	if existing, ok := m.byRelease[snapshot.Release()]; ok {
		return existing, nil
	}
	at := snapshot.EffectiveFrom()
	idx := sort.Search(len(m.snapshots), func(i int) bool {
		return !m.snapshots[i].EffectiveFrom().Before(at)
	})
	if idx < len(m.snapshots) && m.snapshots[idx].EffectiveFrom().Equal(at) {
		return nil, fmt.Errorf("%w: release %s and %s share effective-from %s",
			ErrOutOfOrder, m.snapshots[idx].Release(), snapshot.Release(), at.Format(time.RFC3339))
	}
	m.snapshots = append(m.snapshots, nil)
	copy(m.snapshots[idx+1:], m.snapshots[idx:])
	m.snapshots[idx] = snapshot
	m.byRelease[snapshot.Release()] = snapshot
	return snapshot, nil
}

// SnapshotFor returns the latest snapshot whose effective-from is not after t.
func (m *Manager) SnapshotFor(t time.Time) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := sort.Search(len(m.snapshots), func(i int) bool {
		return m.snapshots[i].EffectiveFrom().After(t)
	})
	if idx == 0 {
		noCatalog := &NoCatalogError{At: t}
		if len(m.snapshots) > 0 {
			noCatalog.Earliest = m.snapshots[0].EffectiveFrom()
		}
		return nil, noCatalog
	}
	return m.snapshots[idx-1], nil
}

// Lookup resolves a vehicle code inside a snapshot.
func (m *Manager) Lookup(snapshot *Snapshot, code string) (Entry, bool) {
	return snapshot.Lookup(code)
}

// BattleRating reports the rating of a vehicle in the given mode using the
// snapshot effective at t.
func (m *Manager) BattleRating(t time.Time, mode GameMode, code string) (float64, bool) {
	snapshot, err := m.SnapshotFor(t)
	if err != nil {
		return 0, false
	}
	entry, ok := snapshot.Lookup(code)
	if !ok {
		return 0, false
	}
	rating := entry.BattleRating(mode)
	return rating, rating > 0
}

// Release returns the snapshot registered for a release, if any.
func (m *Manager) Release(release string) (*Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.byRelease[strings.TrimSpace(release)]
	return snapshot, ok
}

// Releases lists registered releases in effective-from order.
func (m *Manager) Releases() []Release {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Release, len(m.snapshots))
	for i, snapshot := range m.snapshots {
		out[i] = Release{ID: snapshot.Release(), EffectiveFrom: snapshot.EffectiveFrom()}
	}
	return out
}

// Snapshots returns registered snapshots in effective-from order.
func (m *Manager) Snapshots() []*Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// FetchAndRegister retrieves a release from the source and registers it.
// Already-registered releases are returned without touching the source, and
// concurrent calls for the same release share one fetch.
func (m *Manager) FetchAndRegister(ctx context.Context, release string) (*Snapshot, error) {
	release = strings.TrimSpace(release)
	if release == "" {
		return nil, errors.New("fetch: release must not be empty")
	}
	if snapshot, ok := m.Release(release); ok {
		return snapshot, nil
	}
	if m.source == nil {
		return nil, &FetchError{Release: release, Err: services.Wrap(services.ErrConfiguration, "catalog", "fetch", "no feed configured", nil)}
	}

	result, err, _ := m.group.Do(release, func() (any, error) {
		if snapshot, ok := m.Release(release); ok {
			return snapshot, nil
		}
		ctx := services.WithRelease(ctx, release)
		logger := logging.WithContext(ctx, m.logger)

		started := time.Now()
		fetched, err := m.source.Fetch(ctx, release)
		if err != nil {
			return nil, &FetchError{Release: release, Err: err}
		}
		if fetched.Release() != release {
			return nil, &FetchError{Release: release, Err: fmt.Errorf("feed returned release %q", fetched.Release())}
		}
		registered, err := m.Register(fetched)
		if err != nil {
			return nil, err
		}
		if m.cache != nil && registered == fetched {
			if err := m.cache.Save(registered); err != nil {
				logging.WarnWithContext(logger, "catalog snapshot not cached", "catalog_cache_write_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check catalog_dir permissions"),
					logging.String(logging.FieldImpact, "release will be fetched again next run"),
				)
			}
		}
		logger.Info("catalog release registered",
			logging.Int("vehicles", registered.Len()),
			logging.String("effective_from", registered.EffectiveFrom().Format(time.RFC3339)),
			logging.Duration("elapsed", time.Since(started)),
		)
		return registered, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Snapshot), nil
}

// LoadCache registers every snapshot found in the disk cache. Unreadable cache
// files are logged and skipped.
func (m *Manager) LoadCache() (int, error) {
	if m.cache == nil {
		return 0, nil
	}
	snapshots, failures, err := m.cache.Load()
	if err != nil {
		return 0, err
	}
	for path, loadErr := range failures {
		logging.WarnWithContext(m.logger, "catalog cache file ignored", "catalog_cache_read_failed",
			logging.String("path", path),
			logging.Error(loadErr),
			logging.String(logging.FieldErrorHint, "delete the file to force a refetch"),
		)
	}
	loaded := 0
	for _, snapshot := range snapshots {
		if _, err := m.Register(snapshot); err != nil {
			logging.WarnWithContext(m.logger, "cached snapshot rejected", "catalog_cache_conflict",
				logging.String(logging.FieldRelease, snapshot.Release()),
				logging.Error(err),
			)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// SyncReport summarizes a SyncAll run.
type SyncReport struct {
	Registered []string
	Failed     map[string]error
}

// SyncAll fetches every release in order. A failed release is recorded and
// the remaining releases are still attempted.
func (m *Manager) SyncAll(ctx context.Context, releases []string) SyncReport {
	report := SyncReport{Failed: make(map[string]error)}
	for _, release := range releases {
		if ctx.Err() != nil {
			report.Failed[release] = ctx.Err()
			continue
		}
		snapshot, err := m.FetchAndRegister(ctx, release)
		if err != nil {
			report.Failed[release] = err
			logging.WarnWithContext(logging.WithContext(services.WithRelease(ctx, release), m.logger),
				"catalog release skipped", "catalog_fetch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check feed_base_url and the release index"),
				logging.String(logging.FieldImpact, "matches played during this release resolve against the previous release"),
			)
			continue
		}
		report.Registered = append(report.Registered, snapshot.Release())
	}
	return report
}
