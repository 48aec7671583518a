package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"

	"imageserver/internal/images"
	"imageserver/internal/logging"
	"imageserver/internal/storage"
	"imageserver/internal/variants"
)

const variantStageName = "variants"

// VariantStage moves a record from image_downloaded to done by rendering
// every registered variant from the stored original.
type VariantStage struct {
	store    *images.Store
	disks    *storage.Set
	registry *variants.Registry
	logger   *slog.Logger
}

// NewVariantStage wires the variant generation stage.
func NewVariantStage(store *images.Store, disks *storage.Set, registry *variants.Registry, logger *slog.Logger) *VariantStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &VariantStage{
		store:    store,
		disks:    disks,
		registry: registry,
		logger:   logger.With(logging.String(logging.FieldStage, variantStageName)),
	}
}

// Name identifies the stage in logs and metrics.
func (s *VariantStage) Name() string { return variantStageName }

// Execute renders all variants for one record. The planned output keys are
// persisted as pending before any encoding happens, so a crash mid-run
// leaves a reconcilable trail instead of anonymous orphan blobs.
func (s *VariantStage) Execute(ctx context.Context, id int64) (rec *images.Record, err error) {
	start := time.Now()
	defer func() { observeStage(variantStageName, time.Since(start).Seconds(), err) }()

	logger := s.logger.With(logging.Int64(logging.FieldImageID, id))

	rec, err = s.store.Transition(ctx, id, images.StatusDownloaded, images.StatusGeneratingVariants, func(r *images.Record) error {
		if r.OriginalFile == nil {
			return &images.InvalidValueError{ID: id, Message: "has no original file to derive variants from"}
		}
		if !r.VariantFiles.Empty() {
			return &images.InvalidValueError{ID: id, Message: "already has variant files assigned"}
		}
		return nil
	})
	if err != nil {
		return nil, Wrap(storeMarker(err), variantStageName, "claim record", "", err)
	}
	source := *rec.OriginalFile

	sourceDisk, err := s.disks.ByName(source.Disk)
	if err != nil {
		s.fail(ctx, logger, id, err.Error())
		return nil, Wrap(ErrConfiguration, variantStageName, "resolve source disk", "", err)
	}
	variantDisk, err := s.disks.Variant()
	if err != nil {
		s.fail(ctx, logger, id, err.Error())
		return nil, Wrap(ErrConfiguration, variantStageName, "resolve variant disk", "", err)
	}

	exists, err := sourceDisk.Exists(ctx, source.Key)
	if err != nil {
		s.fail(ctx, logger, id, err.Error())
		return nil, Wrap(ErrStorage, variantStageName, "check source file", "", err)
	}
	if !exists {
		message := fmt.Sprintf("Source image file not found on disk %q: %s", source.Disk, source.Key)
		s.fail(ctx, logger, id, message)
		return nil, Wrap(ErrStorage, variantStageName, "check source file", message, nil)
	}

	src, err := s.decodeSource(ctx, sourceDisk, source)
	if err != nil {
		message := fmt.Sprintf("Source image file cannot be read from disk %q: %s", source.Disk, source.Key)
		s.fail(ctx, logger, id, message)
		return nil, Wrap(ErrStorage, variantStageName, "decode source", message, err)
	}

	// Announce every planned output before the first byte is written.
	pending := make([]images.FileRef, 0)
	for _, key := range s.registry.SimulatedKeys(source.Key) {
		pending = append(pending, images.FileRef{Disk: variantDisk.Name(), Key: key})
	}
	if _, err := s.store.Transition(ctx, id, images.StatusGeneratingVariants, images.StatusGeneratingVariants, func(r *images.Record) error {
		r.VariantFiles.Pending = pending
		return nil
	}); err != nil {
		return nil, Wrap(storeMarker(err), variantStageName, "record pending outputs", "", err)
	}

	generated, written, err := s.renderAll(ctx, variantDisk, source.Key, src)
	if err != nil {
		s.deleteWritten(ctx, logger, variantDisk, written)
		s.fail(ctx, logger, id, err.Error())
		return nil, Wrap(ErrStorage, variantStageName, "render variants", "", err)
	}

	rec, err = s.store.Transition(ctx, id, images.StatusGeneratingVariants, images.StatusDone, func(r *images.Record) error {
		r.VariantFiles = generated
		return nil
	})
	if err != nil {
		s.deleteWritten(ctx, logger, variantDisk, written)
		return nil, Wrap(storeMarker(err), variantStageName, "finish variants", "", err)
	}

	logger.Info("variants generated",
		logging.Int("files", len(written)),
		logging.Duration("elapsed", time.Since(start)))
	return rec, nil
}

func (s *VariantStage) decodeSource(ctx context.Context, disk storage.Disk, source images.FileRef) (image.Image, error) {
	reader, err := disk.Open(ctx, source.Key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return imaging.Decode(reader, imaging.AutoOrientation(true))
}

// renderAll runs every definition against its own copy of the decoded source
// and writes each encoding. It returns both the final mapping and the keys
// physically written so the caller can roll back on failure.
func (s *VariantStage) renderAll(ctx context.Context, disk storage.Disk, sourceKey string, src image.Image) (images.VariantFiles, []string, error) {
	var generated images.VariantFiles
	var written []string

	for _, def := range s.registry.All() {
		rendered, err := def.Process(imaging.Clone(src))
		if err != nil {
			return generated, written, fmt.Errorf("transform variant %s: %w", def.Name, err)
		}
		for _, ext := range def.SortedExtensions() {
			var buf bytes.Buffer
			if err := variants.Encode(&buf, rendered, ext, def.Encoders[ext]); err != nil {
				return generated, written, fmt.Errorf("encode variant %s as %s: %w", def.Name, ext, err)
			}
			key := variants.Key(sourceKey, def.Name, ext)
			size := int64(buf.Len())
			if err := disk.Write(ctx, key, &buf, size, variants.MimeType(ext)); err != nil {
				return generated, written, fmt.Errorf("write variant %s as %s: %w", def.Name, ext, err)
			}
			written = append(written, key)
			variantFilesWritten.Inc()

			bounds := rendered.Bounds()
			generated.Set(def.Name, ext, images.FileRef{
				Disk:     disk.Name(),
				Key:      key,
				MimeType: variants.MimeType(ext),
				Size:     size,
				Width:    bounds.Dx(),
				Height:   bounds.Dy(),
			})
		}
	}
	return generated, written, nil
}

// deleteWritten rolls back this run's outputs best-effort.
func (s *VariantStage) deleteWritten(ctx context.Context, logger *slog.Logger, disk storage.Disk, keys []string) {
	for _, key := range keys {
		if err := disk.Delete(ctx, key); err != nil {
			logger.Warn("could not delete partial variant",
				logging.String(logging.FieldKey, key),
				logging.Error(err))
		}
	}
}

func (s *VariantStage) fail(ctx context.Context, logger *slog.Logger, id int64, message string) {
	if _, err := s.store.Fail(ctx, id, images.StatusGeneratingVariants, message); err != nil {
		logger.Error("could not mark record failed",
			logging.Alert("state_conflict"),
			logging.String("failure", message),
			logging.Error(err))
	}
}
