package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"warthog/internal/config"
)

// Sources lists where captures are read from. Files are processed in
// addition to whatever the directories contain.
type Sources struct {
	ReplayDir string
	ScrapeDir string
	Files     []string
}

// SourcesFromConfig returns the configured replay and scrape directories.
func SourcesFromConfig(cfg *config.Config) Sources {
	if cfg == nil {
		return Sources{}
	}
	return Sources{ReplayDir: cfg.Paths.ReplayDir, ScrapeDir: cfg.Paths.ScrapeDir}
}

var (
	replayExts = []string{".wrpl"}
	scrapeExts = []string{".json", ".html", ".htm"}
)

// Discover walks the source directories and returns capture files in lexical
// order. Missing directories contribute nothing.
func Discover(src Sources) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(path string) {
		clean := filepath.Clean(path)
		if _, ok := seen[clean]; ok {
			return
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}

	for _, dir := range []struct {
		path string
		exts []string
	}{
		{src.ReplayDir, replayExts},
		{src.ScrapeDir, scrapeExts},
	} {
		if strings.TrimSpace(dir.path) == "" {
			continue
		}
		err := filepath.WalkDir(dir.path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != dir.path && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			if slices.Contains(dir.exts, strings.ToLower(filepath.Ext(path))) {
				add(path)
			}
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir.path, err)
		}
	}

	for _, file := range src.Files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		info, err := os.Stat(file)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", file, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", file)
		}
		add(file)
	}

	slices.Sort(out)
	return out, nil
}
