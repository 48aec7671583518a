// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"imageserver/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test:
// local disks under the temp root, sync dispatch, and an ephemeral API port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.TmpDir = filepath.Join(base, "tmp")
	cfg.API.Bind = "127.0.0.1:0"
	cfg.Dispatch.Mode = config.DispatchSync
	cfg.Disks.Definitions = map[string]config.DiskDefinition{
		cfg.Disks.Original: {Driver: "local", Root: filepath.Join(base, "disks", cfg.Disks.Original)},
		cfg.Disks.Variant:  {Driver: "local", Root: filepath.Join(base, "disks", cfg.Disks.Variant)},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithExpiry overrides the expiry window and batch size.
func WithExpiry(afterHours, batchSize int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Expiry.AfterHours = afterHours
		cfg.Expiry.BatchSize = batchSize
	}
}

// WithMaxFileSize overrides the download size cap.
func WithMaxFileSize(size int64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Downloads.MaxFileSize = size
	}
}

// WithRetries overrides the fetch retry policy.
func WithRetries(retries, baseBackoffMS int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Downloads.Retries = retries
		cfg.Downloads.BaseBackoffMS = baseBackoffMS
	}
}
