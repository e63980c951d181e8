package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"warthog/internal/fileutil"
)

// ReleaseIndex maps release identifiers to the instant they went live. It is
// stored as a flat JSON object of release -> ISO-8601 timestamp.
type ReleaseIndex struct {
	path    string
	mu      sync.RWMutex
	entries map[string]time.Time
}

// Release pairs a release identifier with its effective-from instant.
type Release struct {
	ID            string    `json:"id"`
	EffectiveFrom time.Time `json:"effective_from"`
}

// NewReleaseIndex returns an in-memory index. When path is empty, Save is a no-op.
func NewReleaseIndex(path string) *ReleaseIndex {
	return &ReleaseIndex{path: path, entries: make(map[string]time.Time)}
}

// LoadReleaseIndex reads the index at path. A missing file yields an empty index.
func LoadReleaseIndex(path string) (*ReleaseIndex, error) {
	index := NewReleaseIndex(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return index, nil
		}
		return nil, fmt.Errorf("read release index: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse release index: %w", err)
	}
	for release, value := range raw {
		at, err := parseReleaseTime(value)
		if err != nil {
			return nil, fmt.Errorf("release index %s: %w", release, err)
		}
		index.entries[strings.TrimSpace(release)] = at
	}
	return index, nil
}

var releaseTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseReleaseTime accepts RFC3339 and Python isoformat output. Values without
// a zone are taken as UTC.
func parseReleaseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range releaseTimeLayouts {
		if at, err := time.Parse(layout, value); err == nil {
			return at.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// Get returns the effective-from instant for a release.
func (r *ReleaseIndex) Get(release string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.entries[strings.TrimSpace(release)]
	return at, ok
}

// Set records the effective-from instant for a release.
func (r *ReleaseIndex) Set(release string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[strings.TrimSpace(release)] = at.UTC()
}

// Releases returns all known releases ordered by effective-from, then id.
func (r *ReleaseIndex) Releases() []Release {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Release, 0, len(r.entries))
	for id, at := range r.entries {
		out = append(out, Release{ID: id, EffectiveFrom: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveFrom.Equal(out[j].EffectiveFrom) {
			return out[i].EffectiveFrom.Before(out[j].EffectiveFrom)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IDs returns release identifiers in effective-from order.
func (r *ReleaseIndex) IDs() []string {
	releases := r.Releases()
	ids := make([]string, len(releases))
	for i, release := range releases {
		ids[i] = release.ID
	}
	return ids
}

// SyncTargets returns the indexed releases in effective-from order followed
// by any of extra the index does not list. Blank and repeated ids are dropped.
func (r *ReleaseIndex) SyncTargets(extra ...string) []string {
	targets := r.IDs()
	seen := make(map[string]struct{}, len(targets)+len(extra))
	for _, id := range targets {
		seen[id] = struct{}{}
	}
	for _, id := range extra {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}
	return targets
}

// Save writes the index back to its path.
func (r *ReleaseIndex) Save() error {
	if r.path == "" {
		return nil
	}
	r.mu.RLock()
	raw := make(map[string]string, len(r.entries))
	for release, at := range r.entries {
		raw[release] = at.UTC().Format(time.RFC3339)
	}
	r.mu.RUnlock()
	return fileutil.WriteJSONAtomic(r.path, raw)
}
