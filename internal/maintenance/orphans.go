package maintenance

import (
	"context"
	"log/slog"
	"sort"

	"imageserver/internal/images"
	"imageserver/internal/logging"
	"imageserver/internal/storage"
)

// OrphanReport summarizes one reconciliation pass.
type OrphanReport struct {
	// Orphans maps disk name to the keys found on the disk with no record
	// referencing them, pending references included.
	Orphans map[string][]string
	// Deleted counts keys actually removed; zero on a dry run.
	Deleted int
	// Scanned counts keys inspected across all disks.
	Scanned int
}

// Reconciler compares disk contents against record references and removes
// blobs nothing points at. Pending references count as live, so a crashed
// variant run's half-written outputs survive until their record is resolved.
type Reconciler struct {
	store  *images.Store
	disks  *storage.Set
	logger *slog.Logger
}

// NewReconciler wires orphan reconciliation.
func NewReconciler(store *images.Store, disks *storage.Set, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{
		store:  store,
		disks:  disks,
		logger: logger.With(logging.String(logging.FieldComponent, "reconciler")),
	}
}

// Reconcile scans every configured disk. With dryRun set it only reports;
// otherwise orphaned keys are deleted. Referenced keys are snapshotted before
// the disks are listed, so a blob written by a record that appears later is
// never old enough to be both listed and unreferenced within one pass.
func (r *Reconciler) Reconcile(ctx context.Context, dryRun bool) (*OrphanReport, error) {
	referenced, err := r.store.ReferencedKeys(ctx)
	if err != nil {
		return nil, err
	}

	report := &OrphanReport{Orphans: make(map[string][]string)}
	for _, name := range r.disks.Names() {
		disk, err := r.disks.ByName(name)
		if err != nil {
			return nil, err
		}
		keys, err := disk.List(ctx)
		if err != nil {
			return nil, err
		}
		report.Scanned += len(keys)

		live := referenced[name]
		var orphans []string
		for _, key := range keys {
			if _, ok := live[key]; ok {
				continue
			}
			orphans = append(orphans, key)
		}
		sort.Strings(orphans)
		if len(orphans) == 0 {
			continue
		}
		report.Orphans[name] = orphans

		if dryRun {
			continue
		}
		for _, key := range orphans {
			if err := disk.Delete(ctx, key); err != nil {
				r.logger.Warn("could not delete orphan",
					logging.String(logging.FieldDisk, name),
					logging.String(logging.FieldKey, key),
					logging.Error(err))
				continue
			}
			report.Deleted++
			r.logger.Info("orphan deleted",
				logging.String(logging.FieldDisk, name),
				logging.String(logging.FieldKey, key))
		}
	}
	return report, nil
}
