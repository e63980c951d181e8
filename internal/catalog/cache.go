package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"warthog/internal/fileutil"
	"warthog/internal/textutil"
)

const snapshotFilePrefix = "snapshot."

// DiskCache stores parsed snapshots as one JSON file per release.
type DiskCache struct {
	dir string
}

// NewDiskCache returns a cache rooted at dir.
func NewDiskCache(dir string) *DiskCache {
	return &DiskCache{dir: dir}
}

func (c *DiskCache) pathFor(release string) string {
	return filepath.Join(c.dir, snapshotFilePrefix+textutil.SanitizeFileName(release)+".json")
}

// Save writes a snapshot atomically.
func (c *DiskCache) Save(snapshot *Snapshot) error {
	if c == nil || c.dir == "" {
		return nil
	}
	return fileutil.WriteJSONAtomic(c.pathFor(snapshot.Release()), snapshot)
}

// Load reads every cached snapshot. Files that fail to parse are returned in
// failures keyed by path instead of aborting the load.
func (c *DiskCache) Load() ([]*Snapshot, map[string]error, error) {
	failures := make(map[string]error)
	if c == nil || c.dir == "" {
		return nil, failures, nil
	}
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failures, nil
		}
		return nil, nil, fmt.Errorf("read catalog cache: %w", err)
	}

	var snapshots []*Snapshot
	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		if dirEntry.IsDir() || !strings.HasPrefix(name, snapshotFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(c.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			failures[path] = err
			continue
		}
		var snapshot Snapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			failures[path] = err
			continue
		}
		snapshots = append(snapshots, &snapshot)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].EffectiveFrom().Before(snapshots[j].EffectiveFrom())
	})
	return snapshots, failures, nil
}
