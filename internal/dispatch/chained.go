package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"imageserver/internal/logging"
	"imageserver/internal/pipeline"
)

// ChainedDispatcher runs the pipeline on background goroutines owned by the
// dispatcher. Submits return immediately; Close waits for in-flight runs.
type ChainedDispatcher struct {
	runner *pipeline.Runner
	logger *slog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	closed  bool
}

// NewChained builds the background dispatcher.
func NewChained(runner *pipeline.Runner, logger *slog.Logger) *ChainedDispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChainedDispatcher{
		runner:  runner,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Dispatch schedules a background run. The run outlives the caller's context;
// only Close cancels it.
func (d *ChainedDispatcher) Dispatch(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return context.Canceled
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Errors are already persisted on the record and logged by the runner.
		_, _ = d.runner.Run(d.baseCtx, id)
	}()
	return nil
}

// Close stops accepting work, cancels in-flight runs, and waits for them.
func (d *ChainedDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	return nil
}
