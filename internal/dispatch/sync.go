package dispatch

import (
	"context"

	"imageserver/internal/pipeline"
)

// SyncDispatcher runs the pipeline inline. The submit call does not return
// until the record reaches a terminal state.
type SyncDispatcher struct {
	runner *pipeline.Runner
}

// NewSync builds the inline dispatcher.
func NewSync(runner *pipeline.Runner) *SyncDispatcher {
	return &SyncDispatcher{runner: runner}
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, id int64) error {
	_, err := d.runner.Run(ctx, id)
	return err
}

func (d *SyncDispatcher) Close() error { return nil }
