package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.CorpusDir == "" {
		return errors.New("paths.corpus_dir must be set")
	}
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.CatalogDir == "" {
		return errors.New("paths.catalog_dir must be set")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if c.Catalog.FeedBaseURL == "" {
		return errors.New("catalog.feed_base_url must be set")
	}
	if err := validateURL("catalog.feed_base_url", c.Catalog.FeedBaseURL); err != nil {
		return err
	}
	if c.Catalog.APIBaseURL != "" {
		if err := validateURL("catalog.api_base_url", c.Catalog.APIBaseURL); err != nil {
			return err
		}
	}
	if c.Catalog.FetchAttempts <= 0 {
		return errors.New("catalog.fetch_attempts must be positive")
	}
	if c.Catalog.FetchBackoffMS < 0 {
		return errors.New("catalog.fetch_backoff_ms must be non-negative")
	}
	if c.Catalog.FetchMaxBackoffMS < c.Catalog.FetchBackoffMS {
		return errors.New("catalog.fetch_max_backoff_ms must be at least catalog.fetch_backoff_ms")
	}
	if c.Catalog.RequestTimeoutSeconds <= 0 {
		return errors.New("catalog.request_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.Workers < 1 {
		return errors.New("ingest.workers must be positive")
	}
	switch c.Ingest.CorpusLayout {
	case CorpusLayoutFiles, CorpusLayoutJSONL:
	default:
		return fmt.Errorf("ingest.corpus_layout: unsupported value %q (use %q or %q)", c.Ingest.CorpusLayout, CorpusLayoutFiles, CorpusLayoutJSONL)
	}
	switch c.Ingest.Unpacker {
	case UnpackerExternal, UnpackerJSON:
	default:
		return fmt.Errorf("ingest.unpacker: unsupported value %q (use %q or %q)", c.Ingest.Unpacker, UnpackerExternal, UnpackerJSON)
	}
	if c.Ingest.UnpackTimeout <= 0 {
		return errors.New("ingest.unpack_timeout_seconds must be positive")
	}
	switch c.Ingest.DefaultGameMode {
	case "arcade", "realistic", "simulation":
	default:
		return fmt.Errorf("ingest.default_game_mode: unsupported value %q", c.Ingest.DefaultGameMode)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case StoreDriverSQLite:
	case StoreDriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required when store.driver is postgres (or set WARTHOG_STORE_DSN)")
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q", c.Store.Driver)
	}
	if c.Store.BloomFPRate <= 0 || c.Store.BloomFPRate >= 1 {
		return errors.New("store.bloom_fp_rate must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func validateURL(field, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", field)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}
