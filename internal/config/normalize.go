package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeCatalog(); err != nil {
		return err
	}
	c.normalizeIngest()
	c.normalizeStore()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := lookupEnv("WARTHOG_REPLAY_DIR"); ok {
		c.Paths.ReplayDir = value
	}
	if value, ok := lookupEnv("WARTHOG_CORPUS_DIR"); ok {
		c.Paths.CorpusDir = value
	}
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.replay_dir", &c.Paths.ReplayDir},
		{"paths.scrape_dir", &c.Paths.ScrapeDir},
		{"paths.corpus_dir", &c.Paths.CorpusDir},
		{"paths.data_dir", &c.Paths.DataDir},
		{"paths.catalog_dir", &c.Paths.CatalogDir},
		{"paths.log_dir", &c.Paths.LogDir},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeCatalog() error {
	c.Catalog.FeedBaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.FeedBaseURL), "/")
	if value, ok := lookupEnv("WARTHOG_FEED_BASE_URL"); ok {
		c.Catalog.FeedBaseURL = strings.TrimRight(value, "/")
	}
	c.Catalog.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.APIBaseURL), "/")
	c.Catalog.APIToken = strings.TrimSpace(c.Catalog.APIToken)
	if c.Catalog.APIToken == "" {
		if value, ok := lookupEnv("GITHUB_TOKEN"); ok {
			c.Catalog.APIToken = value
		}
	}
	if strings.TrimSpace(c.Catalog.ReleaseIndex) != "" {
		expanded, err := expandPath(strings.TrimSpace(c.Catalog.ReleaseIndex))
		if err != nil {
			return fmt.Errorf("catalog.release_index: %w", err)
		}
		c.Catalog.ReleaseIndex = expanded
	}
	releases := make([]string, 0, len(c.Catalog.Releases))
	seen := make(map[string]struct{}, len(c.Catalog.Releases))
	for _, release := range c.Catalog.Releases {
		release = strings.TrimSpace(release)
		if release == "" {
			continue
		}
		if _, ok := seen[release]; ok {
			continue
		}
		seen[release] = struct{}{}
		releases = append(releases, release)
	}
	c.Catalog.Releases = releases
	return nil
}

func (c *Config) normalizeIngest() {
	c.Ingest.CorpusLayout = strings.ToLower(strings.TrimSpace(c.Ingest.CorpusLayout))
	if c.Ingest.CorpusLayout == "" {
		c.Ingest.CorpusLayout = defaultCorpusLayout
	}
	c.Ingest.Unpacker = strings.ToLower(strings.TrimSpace(c.Ingest.Unpacker))
	if c.Ingest.Unpacker == "" {
		c.Ingest.Unpacker = defaultUnpacker
	}
	c.Ingest.UnpackerBinary = strings.TrimSpace(c.Ingest.UnpackerBinary)
	if c.Ingest.UnpackerBinary == "" {
		c.Ingest.UnpackerBinary = defaultUnpackerBinary
	}
	if value, ok := lookupEnv("WARTHOG_UNPACKER_BINARY"); ok {
		c.Ingest.UnpackerBinary = value
	}
	c.Ingest.DefaultGameMode = strings.ToLower(strings.TrimSpace(c.Ingest.DefaultGameMode))
	if c.Ingest.DefaultGameMode == "" {
		c.Ingest.DefaultGameMode = defaultDefaultGameMode
	}
	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = defaultWorkers
	}
	if value, ok := lookupEnv("WARTHOG_OVERWRITE_EXISTING"); ok {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			c.Ingest.OverwriteExisting = true
		case "0", "false", "no", "off":
			c.Ingest.OverwriteExisting = false
		}
	}
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.DSN == "" {
		if value, ok := lookupEnv("WARTHOG_STORE_DSN"); ok {
			c.Store.DSN = value
		} else if value, ok := lookupEnv("DATABASE_URL"); ok && c.Store.Driver == StoreDriverPostgres {
			c.Store.DSN = value
		}
	}
	if c.Store.BloomCapacity == 0 {
		c.Store.BloomCapacity = defaultBloomCapacity
	}
	if c.Store.BloomFPRate == 0 {
		c.Store.BloomFPRate = defaultBloomFPRate
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if value, ok := lookupEnv("WARTHOG_LOG_LEVEL"); ok {
		c.Logging.Level = strings.ToLower(value)
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
