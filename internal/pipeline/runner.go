package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"imageserver/internal/images"
	"imageserver/internal/logging"
)

// Stage is one unit of pipeline work for a single record.
type Stage interface {
	Name() string
	Execute(ctx context.Context, id int64) (*images.Record, error)
}

// Runner drives a record through the download and variant stages in order.
type Runner struct {
	download Stage
	variants Stage
	logger   *slog.Logger
}

// NewRunner wires the two stages into a sequential pipeline.
func NewRunner(download, variants Stage, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{download: download, variants: variants, logger: logger}
}

// Download runs only the download stage.
func (r *Runner) Download(ctx context.Context, id int64) (*images.Record, error) {
	return r.runStage(ctx, r.download, id)
}

// GenerateVariants runs only the variant stage.
func (r *Runner) GenerateVariants(ctx context.Context, id int64) (*images.Record, error) {
	return r.runStage(ctx, r.variants, id)
}

// Run processes one record end to end. A stage failure stops the run; the
// failing stage has already persisted the terminal status, so the error is
// for the caller's logs only.
func (r *Runner) Run(ctx context.Context, id int64) (*images.Record, error) {
	if _, err := r.runStage(ctx, r.download, id); err != nil {
		return nil, err
	}
	return r.runStage(ctx, r.variants, id)
}

func (r *Runner) runStage(ctx context.Context, stage Stage, id int64) (*images.Record, error) {
	ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, r.logger).With(
		logging.Int64(logging.FieldImageID, id),
		logging.String(logging.FieldStage, stage.Name()),
	)
	logger.Info("stage starting")

	rec, err := stage.Execute(ctx, id)
	switch {
	case err == nil:
		logger.Info("stage finished", logging.String("status", rec.Status.String()))
	case errors.Is(err, ErrInvalidState):
		// Another worker owns the record. High severity: it usually means a
		// double dispatch or a stale worker.
		logger.Error("stage refused by state guard", logging.Alert("state_conflict"), logging.Error(err))
	case errors.Is(err, ErrNotFound):
		logger.Warn("stage target vanished", logging.Error(err))
	default:
		logger.Error("stage failed", logging.Error(err))
	}
	return rec, err
}
