package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	ReplayDir  string `toml:"replay_dir"`
	ScrapeDir  string `toml:"scrape_dir"`
	CorpusDir  string `toml:"corpus_dir"`
	DataDir    string `toml:"data_dir"`
	CatalogDir string `toml:"catalog_dir"`
	LogDir     string `toml:"log_dir"`
}

// Catalog contains configuration for the vehicle datamine feed.
type Catalog struct {
	FeedBaseURL           string   `toml:"feed_base_url"`
	APIBaseURL            string   `toml:"api_base_url"`
	APIToken              string   `toml:"api_token"`
	ReleaseIndex          string   `toml:"release_index"`
	Releases              []string `toml:"releases"`
	FetchAttempts         int      `toml:"fetch_attempts"`
	FetchBackoffMS        int      `toml:"fetch_backoff_ms"`
	FetchMaxBackoffMS     int      `toml:"fetch_max_backoff_ms"`
	RequestTimeoutSeconds int      `toml:"request_timeout_seconds"`
}

// Ingest contains configuration for the batch pipeline.
type Ingest struct {
	OverwriteExisting bool   `toml:"overwrite_existing"`
	Workers           int    `toml:"workers"`
	CorpusLayout      string `toml:"corpus_layout"`
	Unpacker          string `toml:"unpacker"`
	UnpackerBinary    string `toml:"unpacker_binary"`
	UnpackTimeout     int    `toml:"unpack_timeout_seconds"`
	DefaultGameMode   string `toml:"default_game_mode"`
}

// Store contains configuration for the deduplicating record store.
type Store struct {
	Driver        string  `toml:"driver"`
	DSN           string  `toml:"dsn"`
	BloomCapacity uint    `toml:"bloom_capacity"`
	BloomFPRate   float64 `toml:"bloom_fp_rate"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for warthog.
//
// Configuration sections by subsystem:
//   - Paths: capture inputs, corpus output, and working directories
//   - Catalog: datamine feed location and fetch retry policy
//   - Ingest: overwrite policy, fan-out, and results unpacking
//   - Store: record store backend and dedup prefilter sizing
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Catalog Catalog `toml:"catalog"`
	Ingest  Ingest  `toml:"ingest"`
	Store   Store   `toml:"store"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadEnvFiles(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("warthog.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// loadEnvFiles populates the process environment from .env files next to the
// config file and in the working directory. Existing variables win.
func loadEnvFiles(configDir string) error {
	candidates := []string{filepath.Join(configDir, ".env")}
	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, ".env")
		if local != candidates[0] {
			candidates = append(candidates, local)
		}
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load env file %s: %w", candidate, err)
		}
	}
	return nil
}

// EnsureDirectories creates the directories the pipeline writes to. The
// replay and scrape directories are inputs and are left alone.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CorpusDir, c.Paths.DataDir, c.Paths.CatalogDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location used when no DSN is set.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "warthog.db")
}

// LockPath returns the file used to serialize ingest runs.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "ingest.lock")
}

// ReleaseIndexPath returns the release index file, defaulting to the catalog dir.
func (c *Config) ReleaseIndexPath() string {
	if strings.TrimSpace(c.Catalog.ReleaseIndex) != "" {
		return c.Catalog.ReleaseIndex
	}
	return filepath.Join(c.Paths.CatalogDir, "releases.json")
}

// FetchBackoff returns the initial and maximum catalog retry delays.
func (c *Config) FetchBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Catalog.FetchBackoffMS) * time.Millisecond,
		time.Duration(c.Catalog.FetchMaxBackoffMS) * time.Millisecond
}

// RequestTimeout returns the per-request timeout for feed downloads.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Catalog.RequestTimeoutSeconds) * time.Second
}

// UnpackTimeout returns the time budget for one external results unpack.
func (c *Config) UnpackTimeout() time.Duration {
	return time.Duration(c.Ingest.UnpackTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
