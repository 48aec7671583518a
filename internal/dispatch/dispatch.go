// Package dispatch hands submitted records to the pipeline.
//
// Three modes are supported. "sync" runs the pipeline inline before the
// submission call returns. "chained" runs it on a background goroutine owned
// by the dispatcher. "queued" publishes a task to Kafka and relies on a
// Consumer, possibly in another process, to pick it up.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"imageserver/internal/config"
	"imageserver/internal/pipeline"
)

// Dispatcher triggers pipeline processing for a newly submitted record.
type Dispatcher interface {
	// Dispatch schedules the full pipeline run for a record.
	Dispatch(ctx context.Context, id int64) error
	// Close releases dispatcher resources, waiting for in-flight work where
	// the mode owns it.
	Close() error
}

// New selects the dispatcher for the configured mode.
func New(cfg *config.Config, runner *pipeline.Runner, logger *slog.Logger) (Dispatcher, error) {
	switch cfg.Dispatch.Mode {
	case config.DispatchSync:
		return NewSync(runner), nil
	case config.DispatchChained:
		return NewChained(runner, logger), nil
	case config.DispatchQueued:
		return NewKafka(cfg, logger)
	}
	return nil, fmt.Errorf("unsupported dispatch mode %q", cfg.Dispatch.Mode)
}
