package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"imageserver/internal/config"
	"imageserver/internal/fetch"
	"imageserver/internal/images"
	"imageserver/internal/logging"
	"imageserver/internal/maintenance"
	"imageserver/internal/pipeline"
	"imageserver/internal/storage"
	"imageserver/internal/validate"
	"imageserver/internal/variants"
)

// commandContext lazily builds the service graph the CLI commands share. CLI
// commands run in-process against the same database and disks as the daemon;
// the guarded record transitions keep the two from conflicting.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	buildOnce sync.Once
	store     *images.Store
	disks     *storage.Set
	runner    *pipeline.Runner
	deleter   *maintenance.Deleter
	buildErr  error
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
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) services(ctx context.Context) (*images.Store, *storage.Set, *pipeline.Runner, *maintenance.Deleter, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	c.buildOnce.Do(func() {
		logger := c.logger()

		store, err := images.Open(cfg)
		if err != nil {
			c.buildErr = err
			return
		}
		disks, err := storage.FromConfig(ctx, cfg)
		if err != nil {
			store.Close()
			c.buildErr = err
			return
		}
		registry, err := variants.FromConfig(cfg)
		if err != nil {
			store.Close()
			c.buildErr = err
			return
		}

		fetcher := fetch.New(cfg, logger)
		checker := validate.NewChecker(cfg.Downloads.MaxFileSize, cfg.Downloads.AllowedExtensions)
		download := pipeline.NewDownloadStage(store, disks, fetcher, checker, logger)
		variantStage := pipeline.NewVariantStage(store, disks, registry, logger)

		c.store = store
		c.disks = disks
		c.runner = pipeline.NewRunner(download, variantStage, logger)
		c.deleter = maintenance.NewDeleter(store, disks, logger)
	})
	if c.buildErr != nil {
		return nil, nil, nil, nil, c.buildErr
	}
	return c.store, c.disks, c.runner, c.deleter, nil
}

// logger returns a quiet stderr logger for CLI runs.
func (c *commandContext) logger() *slog.Logger {
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
	}
}
