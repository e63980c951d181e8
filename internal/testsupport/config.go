package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"warthog/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Replay results are read as plain JSON and the feed points nowhere until a
// test sets it.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		ReplayDir:  filepath.Join(base, "replays"),
		ScrapeDir:  filepath.Join(base, "scrapes"),
		CorpusDir:  filepath.Join(base, "corpus"),
		DataDir:    filepath.Join(base, "data"),
		CatalogDir: filepath.Join(base, "catalog"),
		LogDir:     filepath.Join(base, "logs"),
	}
	cfgVal.Catalog.FeedBaseURL = "http://127.0.0.1:0"
	cfgVal.Catalog.APIBaseURL = ""
	cfgVal.Catalog.FetchAttempts = 1
	cfgVal.Ingest.Unpacker = config.UnpackerJSON
	cfgVal.Store.BloomCapacity = 1000
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{cfgVal.Paths.ReplayDir, cfgVal.Paths.ScrapeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithFeed points the catalog feed and API at a test server.
func WithFeed(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Catalog.FeedBaseURL = baseURL
		b.cfg.Catalog.APIBaseURL = baseURL
	}
}

// WithOverwrite sets ingest.overwrite_existing.
func WithOverwrite(overwrite bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.OverwriteExisting = overwrite
	}
}

// WithWorkers sets ingest.workers.
func WithWorkers(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.Workers = workers
	}
}

// WithCorpusLayout sets ingest.corpus_layout.
func WithCorpusLayout(layout string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.CorpusLayout = layout
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the results unpacker is stubbed.
// A stub echoes stdin to stdout, which is enough for JSON results blobs.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"wt_ext_cli"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\ncat\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
