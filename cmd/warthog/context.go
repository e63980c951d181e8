package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"warthog/internal/capture"
	"warthog/internal/catalog"
	"warthog/internal/config"
	"warthog/internal/logging"
	"warthog/internal/services"
	"warthog/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "load", "", err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "ensure directories", "", err)
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) loggerValue() *slog.Logger {
	c.loggerOnce.Do(func() {
		logger, err := logging.NewFromConfig(c.configValue())
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

// openStore opens the configured record store. Callers close it.
func (c *commandContext) openStore(ctx context.Context, opts ...store.Option) (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	opts = append([]store.Option{store.WithLogger(c.loggerValue())}, opts...)
	st, err := store.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// catalogManager builds a manager backed by the datamine feed and primed
// from the on-disk snapshot cache.
func (c *commandContext) catalogManager() (*catalog.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.loggerValue()

	index, err := catalog.LoadReleaseIndex(cfg.ReleaseIndexPath())
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "load release index", "", err)
	}
	baseDelay, maxDelay := cfg.FetchBackoff()
	feed := catalog.NewFeed(catalog.FeedConfig{
		BaseURL:    cfg.Catalog.FeedBaseURL,
		APIBaseURL: cfg.Catalog.APIBaseURL,
		APIToken:   cfg.Catalog.APIToken,
		Timeout:    cfg.RequestTimeout(),
	},
		catalog.WithRetryMaxAttempts(cfg.Catalog.FetchAttempts),
		catalog.WithRetryBackoff(baseDelay, maxDelay),
		catalog.WithReleaseIndex(index),
		catalog.WithFeedLogger(logger),
	)
	manager := catalog.NewManager(
		catalog.WithSource(feed),
		catalog.WithCache(catalog.NewDiskCache(cfg.Paths.CatalogDir)),
		catalog.WithLogger(logger),
	)
	if _, err := manager.LoadCache(); err != nil {
		return nil, fmt.Errorf("load catalog cache: %w", err)
	}
	return manager, nil
}

// syncTargets lists the releases a sync should cover: everything in the
// release index plus catalog.releases.
func (c *commandContext) syncTargets() ([]string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	index, err := catalog.LoadReleaseIndex(cfg.ReleaseIndexPath())
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "load release index", "", err)
	}
	return index.SyncTargets(cfg.Catalog.Releases...), nil
}

func (c *commandContext) normalizer(ratings capture.RatingSource) (*capture.Normalizer, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	mode, err := catalog.ParseGameMode(cfg.Ingest.DefaultGameMode)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "ingest", "default game mode", "", err)
	}
	var unpacker capture.ResultsUnpacker = capture.JSONUnpacker{}
	if cfg.Ingest.Unpacker == config.UnpackerExternal {
		unpacker = capture.ExternalUnpacker{Binary: cfg.Ingest.UnpackerBinary, Timeout: cfg.UnpackTimeout()}
	}
	return capture.NewNormalizer(
		capture.WithUnpacker(unpacker),
		capture.WithRatingSource(ratings),
		capture.WithDefaultMode(mode),
		capture.WithLogger(c.loggerValue()),
	), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
