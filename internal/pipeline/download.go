package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"imageserver/internal/fetch"
	"imageserver/internal/images"
	"imageserver/internal/logging"
	"imageserver/internal/naming"
	"imageserver/internal/storage"
	"imageserver/internal/validate"
)

const downloadStageName = "download"

// DownloadStage moves a record from queued to image_downloaded: fetch the
// source URL into a temp file, validate it, and commit it to the original
// disk.
type DownloadStage struct {
	store   *images.Store
	disks   *storage.Set
	fetcher *fetch.Fetcher
	checker *validate.Checker
	logger  *slog.Logger
}

// NewDownloadStage wires the download stage.
func NewDownloadStage(store *images.Store, disks *storage.Set, fetcher *fetch.Fetcher, checker *validate.Checker, logger *slog.Logger) *DownloadStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DownloadStage{
		store:   store,
		disks:   disks,
		fetcher: fetcher,
		checker: checker,
		logger:  logger.With(logging.String(logging.FieldStage, downloadStageName)),
	}
}

// Name identifies the stage in logs and metrics.
func (s *DownloadStage) Name() string { return downloadStageName }

// Execute runs the stage for one record. All slow work happens between the
// guarded transitions, never inside one.
func (s *DownloadStage) Execute(ctx context.Context, id int64) (rec *images.Record, err error) {
	start := time.Now()
	defer func() { observeStage(downloadStageName, time.Since(start).Seconds(), err) }()

	logger := s.logger.With(logging.Int64(logging.FieldImageID, id))

	rec, err = s.store.Transition(ctx, id, images.StatusQueued, images.StatusDownloading, func(r *images.Record) error {
		if r.OriginalFile != nil {
			return &images.InvalidValueError{ID: id, Message: "already has an original file assigned"}
		}
		return nil
	})
	if err != nil {
		return nil, Wrap(storeMarker(err), downloadStageName, "claim record", "", err)
	}

	result, err := s.fetcher.Fetch(ctx, rec.OriginalURL)
	if err != nil {
		message := fmt.Sprintf("Failed to download image from URL [%s]: %s", rec.OriginalURL, err.Error())
		s.fail(ctx, logger, id, message)
		return nil, Wrap(ErrFetch, downloadStageName, "fetch source", message, err)
	}
	defer s.removeTemp(logger, result.Path)

	report := s.checker.Check(result.Path)
	if !report.Valid {
		reason := report.FirstError
		if reason == "" {
			reason = "Unknown error"
		}
		message := fmt.Sprintf("Downloaded file is not a valid image for image [ID: %d]. Reason: %s", id, reason)
		s.removeTemp(logger, result.Path)
		s.fail(ctx, logger, id, message)
		return nil, Wrap(ErrValidation, downloadStageName, "validate download", message, nil)
	}

	keyBase, err := naming.NewKey()
	if err != nil {
		message := "Failed to generate a storage key: " + err.Error()
		s.fail(ctx, logger, id, message)
		return nil, Wrap(ErrStorage, downloadStageName, "generate key", "", err)
	}
	key := naming.WithExtension(keyBase+"_"+strconv.FormatInt(id, 10), report.Extension)

	disk, err := s.disks.Original()
	if err != nil {
		s.fail(ctx, logger, id, err.Error())
		return nil, Wrap(ErrConfiguration, downloadStageName, "resolve original disk", "", err)
	}

	// A fresh 160-bit key colliding means broken entropy, not bad luck.
	exists, err := disk.Exists(ctx, key)
	if err != nil {
		s.fail(ctx, logger, id, err.Error())
		return nil, Wrap(ErrStorage, downloadStageName, "check key collision", "", err)
	}
	if exists {
		message := fmt.Sprintf("File collision: Generated file name '%s' already exists on disk '%s'.", key, disk.Name())
		s.fail(ctx, logger, id, message)
		return nil, Wrap(ErrConfiguration, downloadStageName, "check key collision", message, nil)
	}

	ref := images.FileRef{
		Disk:     disk.Name(),
		Key:      key,
		MimeType: report.MimeType,
		Size:     report.Size,
		Width:    report.Width,
		Height:   report.Height,
	}

	// The reference lands in the record before the bytes land on disk, so a
	// crash between the two leaves a detectable dangling reference instead of
	// an unowned blob.
	if _, err := s.store.Transition(ctx, id, images.StatusDownloading, images.StatusDownloading, func(r *images.Record) error {
		if r.OriginalFile != nil {
			return &images.InvalidValueError{ID: id, Message: "already has an original file assigned"}
		}
		r.OriginalFile = &ref
		return nil
	}); err != nil {
		return nil, Wrap(storeMarker(err), downloadStageName, "record original file", "", err)
	}

	if err := s.writeOriginal(ctx, disk, key, result, report.MimeType); err != nil {
		s.dropRecordedFile(ctx, logger, id)
		message := fmt.Sprintf("Failed to store image file '%s' to disk '%s': %s", key, disk.Name(), err.Error())
		s.fail(ctx, logger, id, message)
		return nil, Wrap(ErrStorage, downloadStageName, "store original", message, err)
	}
	downloadedBytes.Add(float64(report.Size))

	rec, err = s.store.Transition(ctx, id, images.StatusDownloading, images.StatusDownloaded, nil)
	if err != nil {
		return nil, Wrap(storeMarker(err), downloadStageName, "finish download", "", err)
	}

	logger.Info("original stored",
		logging.String(logging.FieldDisk, ref.Disk),
		logging.String(logging.FieldKey, ref.Key),
		logging.Int64("size", ref.Size),
		logging.String("mime_type", ref.MimeType))
	return rec, nil
}

func (s *DownloadStage) writeOriginal(ctx context.Context, disk storage.Disk, key string, result *fetch.Result, contentType string) error {
	file, err := os.Open(result.Path)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer file.Close()
	return disk.Write(ctx, key, file, result.Size, contentType)
}

// dropRecordedFile undoes the pre-write reference after a failed disk write.
func (s *DownloadStage) dropRecordedFile(ctx context.Context, logger *slog.Logger, id int64) {
	if _, err := s.store.Transition(ctx, id, images.StatusDownloading, images.StatusDownloading, func(r *images.Record) error {
		r.OriginalFile = nil
		return nil
	}); err != nil {
		logger.Warn("could not clear recorded file reference", logging.Error(err))
	}
}

// fail moves the record from downloading_image to failed, recording message
// as the last error. An invalid-state refusal here means someone else already
// moved the record; that is logged loudly and otherwise left alone.
func (s *DownloadStage) fail(ctx context.Context, logger *slog.Logger, id int64, message string) {
	if _, err := s.store.Fail(ctx, id, images.StatusDownloading, message); err != nil {
		logger.Error("could not mark record failed",
			logging.Alert("state_conflict"),
			logging.String("failure", message),
			logging.Error(err))
	}
}

func (s *DownloadStage) removeTemp(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not remove temp file", logging.String("path", path), logging.Error(err))
	}
}
