// Package daemon assembles the long-running service: record store, disks,
// pipeline, dispatcher, HTTP API, expiry sweeper, and the queued-mode
// consumer. A file lock enforces a single instance per data directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"imageserver/internal/api"
	"imageserver/internal/config"
	"imageserver/internal/dispatch"
	"imageserver/internal/fetch"
	"imageserver/internal/images"
	"imageserver/internal/logging"
	"imageserver/internal/maintenance"
	"imageserver/internal/pipeline"
	"imageserver/internal/storage"
	"imageserver/internal/validate"
	"imageserver/internal/variants"
)

// Daemon owns every background service and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *images.Store
	disks      *storage.Set
	dispatcher dispatch.Dispatcher
	consumer   *dispatch.Consumer
	sweeper    *maintenance.Sweeper
	apiServer  *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs the daemon and all its dependencies from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	store, err := images.Open(cfg)
	if err != nil {
		return nil, err
	}

	disks, err := storage.FromConfig(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	registry, err := variants.FromConfig(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	fetcher := fetch.New(cfg, logger)
	checker := validate.NewChecker(cfg.Downloads.MaxFileSize, cfg.Downloads.AllowedExtensions)
	download := pipeline.NewDownloadStage(store, disks, fetcher, checker, logger)
	variantStage := pipeline.NewVariantStage(store, disks, registry, logger)
	runner := pipeline.NewRunner(download, variantStage, logger)

	dispatcher, err := dispatch.New(cfg, runner, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	var consumer *dispatch.Consumer
	if cfg.Dispatch.Mode == config.DispatchQueued {
		consumer = dispatch.NewConsumer(cfg, runner, logger)
	}

	deleter := maintenance.NewDeleter(store, disks, logger)

	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		disks:      disks,
		dispatcher: dispatcher,
		consumer:   consumer,
		sweeper:    maintenance.NewSweeper(store, cfg, logger),
		apiServer:  api.NewServer(cfg, store, disks, dispatcher, deleter, logger),
		lockPath:   filepath.Join(cfg.Paths.DataDir, "imageserver.lock"),
		lock:       flock.New(filepath.Join(cfg.Paths.DataDir, "imageserver.lock")),
	}, nil
}

// Start acquires the instance lock and launches the API, the sweeper, and
// the queued-mode consumer.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another imageserver instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.apiServer.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	if d.cfg.Expiry.Auto {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sweeper.RunPeriodic(runCtx)
		}()
	}

	if d.consumer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.consumer.Run(runCtx); err != nil {
				d.logger.Error("task consumer stopped", logging.Error(err))
			}
		}()
	}

	d.running.Store(true)
	d.logger.Info("imageserver daemon started",
		logging.String("lock", d.lockPath),
		logging.String("dispatch_mode", d.cfg.Dispatch.Mode))
	return nil
}

// Stop halts background services and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.apiServer.Stop()
	if err := d.dispatcher.Close(); err != nil {
		d.logger.Warn("failed to close dispatcher", logging.Error(err))
	}
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("imageserver daemon stopped")
}

// Close stops the daemon and releases its resources.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Store exposes the record store for CLI actions running in-process.
func (d *Daemon) Store() *images.Store { return d.store }

// Disks exposes the storage set for CLI actions running in-process.
func (d *Daemon) Disks() *storage.Set { return d.disks }
