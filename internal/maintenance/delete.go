package maintenance

import (
	"context"
	"log/slog"

	"imageserver/internal/images"
	"imageserver/internal/logging"
	"imageserver/internal/storage"
)

// Deleter tears down a record: marks it deleting, removes every stored blob
// it references, then drops the row.
type Deleter struct {
	store  *images.Store
	disks  *storage.Set
	logger *slog.Logger
}

// NewDeleter wires record teardown.
func NewDeleter(store *images.Store, disks *storage.Set, logger *slog.Logger) *Deleter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Deleter{
		store:  store,
		disks:  disks,
		logger: logger.With(logging.String(logging.FieldComponent, "deleter")),
	}
}

// Delete removes a record and its files. The deleting marker goes in first so
// concurrent pipeline workers are fenced out; file deletion failures are
// logged but do not block removing the row, since leftover blobs are swept by
// reconciliation.
func (d *Deleter) Delete(ctx context.Context, id int64) error {
	rec, err := d.store.MarkDeleting(ctx, id)
	if err != nil {
		return err
	}

	for _, ref := range rec.Files() {
		d.deleteFile(ctx, ref)
	}

	return d.store.Remove(ctx, id)
}

func (d *Deleter) deleteFile(ctx context.Context, ref images.FileRef) {
	disk, err := d.disks.ByName(ref.Disk)
	if err != nil {
		d.logger.Warn("skipping file on unknown disk",
			logging.String(logging.FieldDisk, ref.Disk),
			logging.String(logging.FieldKey, ref.Key),
			logging.Error(err))
		return
	}
	if err := disk.Delete(ctx, ref.Key); err != nil {
		d.logger.Warn("could not delete stored file",
			logging.String(logging.FieldDisk, ref.Disk),
			logging.String(logging.FieldKey, ref.Key),
			logging.Error(err))
	}
}
