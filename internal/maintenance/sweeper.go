// Package maintenance contains the housekeeping jobs around the pipeline:
// expiring stuck records, deleting records with their files, and reconciling
// disks against the record store.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"imageserver/internal/config"
	"imageserver/internal/images"
	"imageserver/internal/logging"
)

// Sweeper expires records stuck in a processing status past the configured
// age.
type Sweeper struct {
	store      *images.Store
	afterHours int
	batchSize  int
	interval   time.Duration
	logger     *slog.Logger
}

// NewSweeper wires the sweeper from the expiry settings.
func NewSweeper(store *images.Store, cfg *config.Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		store:      store,
		afterHours: cfg.Expiry.AfterHours,
		batchSize:  cfg.Expiry.BatchSize,
		interval:   time.Duration(cfg.Expiry.IntervalMinutes) * time.Minute,
		logger:     logger.With(logging.String(logging.FieldComponent, "sweeper")),
	}
}

// SweepExpired marks every record that has sat in a processing status longer
// than the configured age. Work proceeds in bounded batches so one sweep
// never holds the database long; a short batch ends the sweep. Returns the
// number of records expired.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Duration(s.afterHours) * time.Hour)
	total := 0
	for {
		batch, err := s.store.MarkExpiredBatch(ctx, cutoff, s.batchSize)
		if err != nil {
			return total, err
		}
		for _, rec := range batch {
			s.logger.Info("record expired",
				logging.Int64(logging.FieldImageID, rec.ID),
				logging.String("stuck_in", rec.Status.String()),
				logging.Duration("age", time.Since(rec.UpdatedAt)))
		}
		total += len(batch)
		if len(batch) < s.batchSize {
			return total, nil
		}
	}
}

// RunPeriodic sweeps on the configured interval until ctx is canceled.
func (s *Sweeper) RunPeriodic(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepExpired(ctx); err != nil {
				s.logger.Error("expiry sweep failed", logging.Error(err))
			} else if n > 0 {
				s.logger.Info("expiry sweep finished", logging.Int("expired", n))
			}
		}
	}
}
