package pipeline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imageserver",
		Subsystem: "pipeline",
		Name:      "stage_runs_total",
		Help:      "Stage executions partitioned by stage name and outcome.",
	}, []string{"stage", "outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "imageserver",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock duration of stage executions.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	downloadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "imageserver",
		Subsystem: "pipeline",
		Name:      "downloaded_bytes_total",
		Help:      "Bytes of source images fetched and stored.",
	})

	variantFilesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "imageserver",
		Subsystem: "pipeline",
		Name:      "variant_files_written_total",
		Help:      "Variant files encoded and written to the variant disk.",
	})
)

const (
	outcomeOK            = "ok"
	outcomeFailed        = "failed"
	outcomeInvalidState  = "invalid_state"
	outcomeRecordMissing = "not_found"
)

func observeStage(stage string, seconds float64, err error) {
	stageDuration.WithLabelValues(stage).Observe(seconds)
	outcome := outcomeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidState):
		outcome = outcomeInvalidState
	case errors.Is(err, ErrNotFound):
		outcome = outcomeRecordMissing
	default:
		outcome = outcomeFailed
	}
	stageRuns.WithLabelValues(stage, outcome).Inc()
}
