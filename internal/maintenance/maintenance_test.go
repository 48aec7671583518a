package maintenance_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"imageserver/internal/images"
	"imageserver/internal/maintenance"
	"imageserver/internal/storage"
	"imageserver/internal/testsupport"
)

func ageRecord(t *testing.T, store *images.Store, id int64, age time.Duration) {
	t.Helper()
	db, err := sql.Open("sqlite", store.Path())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	stale := time.Now().UTC().Add(-age).Format(time.RFC3339Nano)
	if _, err := db.Exec("UPDATE images SET updated_at = ? WHERE id = ?", stale, id); err != nil {
		t.Fatalf("age record: %v", err)
	}
}

func writeBlob(t *testing.T, disk storage.Disk, key string) {
	t.Helper()
	content := []byte("blob-" + key)
	if err := disk.Write(context.Background(), key, bytes.NewReader(content), int64(len(content)), "application/octet-stream"); err != nil {
		t.Fatalf("write blob %s: %v", key, err)
	}
}

func TestSweepExpiredDrainsAllBatches(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithExpiry(24, 2))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var stale []int64
	for i := 0; i < 5; i++ {
		rec := testsupport.NewImage(t, store, fmt.Sprintf("https://example.org/stale-%d.png", i))
		ageRecord(t, store, rec.ID, 25*time.Hour)
		stale = append(stale, rec.ID)
	}
	fresh := testsupport.NewImage(t, store, "https://example.org/fresh.png")
	ageRecord(t, store, fresh.ID, 23*time.Hour)

	swept, err := maintenance.NewSweeper(store, cfg, nil).SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 5 {
		t.Fatalf("swept = %d, want 5", swept)
	}

	for _, id := range stale {
		rec, err := store.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if rec.Status != images.StatusExpired {
			t.Fatalf("record %d status = %s, want %s", id, rec.Status, images.StatusExpired)
		}
	}
	freshRec, _ := store.GetByID(ctx, fresh.ID)
	if freshRec.Status != images.StatusQueued {
		t.Fatalf("fresh record swept: %s", freshRec.Status)
	}
}

func TestReconcileDeletesOnlyUnreferencedBlobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	disks := testsupport.MustDisks(t, cfg)
	ctx := context.Background()

	originalDisk, err := disks.Original()
	if err != nil {
		t.Fatalf("resolve original disk: %v", err)
	}
	variantDisk, err := disks.Variant()
	if err != nil {
		t.Fatalf("resolve variant disk: %v", err)
	}

	rec := testsupport.NewImage(t, store, "https://example.org/tracked.png")
	if _, err := store.Transition(ctx, rec.ID, images.StatusQueued, images.StatusDownloading, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := store.Transition(ctx, rec.ID, images.StatusDownloading, images.StatusDownloaded, func(r *images.Record) error {
		r.OriginalFile = &images.FileRef{Disk: originalDisk.Name(), Key: "aa/bb/cc/kept.png"}
		r.VariantFiles.Pending = []images.FileRef{{Disk: variantDisk.Name(), Key: "aa/bb/cc/kept_600x600wh.jpg"}}
		return nil
	}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	writeBlob(t, originalDisk, "aa/bb/cc/kept.png")
	writeBlob(t, originalDisk, "dd/ee/ff/orphan.png")
	writeBlob(t, variantDisk, "aa/bb/cc/kept_600x600wh.jpg")
	writeBlob(t, variantDisk, "dd/ee/ff/orphan_150x150wh.png")

	reconciler := maintenance.NewReconciler(store, disks, nil)

	// Dry run reports without deleting.
	report, err := reconciler.Reconcile(ctx, true)
	if err != nil {
		t.Fatalf("Reconcile dry run: %v", err)
	}
	if report.Deleted != 0 {
		t.Fatalf("dry run deleted %d blobs", report.Deleted)
	}
	if got := len(report.Orphans[originalDisk.Name()]); got != 1 {
		t.Fatalf("dry run found %d orphans on original disk, want 1", got)
	}
	if exists, _ := originalDisk.Exists(ctx, "dd/ee/ff/orphan.png"); !exists {
		t.Fatal("dry run removed a blob")
	}

	report, err = reconciler.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Deleted != 2 {
		t.Fatalf("deleted = %d, want 2", report.Deleted)
	}

	if exists, _ := originalDisk.Exists(ctx, "aa/bb/cc/kept.png"); !exists {
		t.Fatal("referenced original deleted")
	}
	if exists, _ := variantDisk.Exists(ctx, "aa/bb/cc/kept_600x600wh.jpg"); !exists {
		t.Fatal("pending-referenced variant deleted")
	}
	if exists, _ := originalDisk.Exists(ctx, "dd/ee/ff/orphan.png"); exists {
		t.Fatal("orphan original survived")
	}
	if exists, _ := variantDisk.Exists(ctx, "dd/ee/ff/orphan_150x150wh.png"); exists {
		t.Fatal("orphan variant survived")
	}
}

func TestDeleteRemovesRecordAndFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	disks := testsupport.MustDisks(t, cfg)
	ctx := context.Background()

	originalDisk, _ := disks.Original()
	variantDisk, _ := disks.Variant()

	rec := testsupport.NewImage(t, store, "https://example.org/doomed.png")
	if _, err := store.Transition(ctx, rec.ID, images.StatusQueued, images.StatusDownloading, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := store.Transition(ctx, rec.ID, images.StatusDownloading, images.StatusDownloaded, func(r *images.Record) error {
		r.OriginalFile = &images.FileRef{Disk: originalDisk.Name(), Key: "aa/bb/cc/doomed.png"}
		r.VariantFiles.Set("600x600wh", "jpg", images.FileRef{Disk: variantDisk.Name(), Key: "aa/bb/cc/doomed_600x600wh.jpg"})
		return nil
	}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	writeBlob(t, originalDisk, "aa/bb/cc/doomed.png")
	writeBlob(t, variantDisk, "aa/bb/cc/doomed_600x600wh.jpg")

	if err := maintenance.NewDeleter(store, disks, nil).Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := store.GetByID(ctx, rec.ID); !errors.Is(err, images.ErrNotFound) {
		t.Fatalf("record still readable after delete: %v", err)
	}
	if exists, _ := originalDisk.Exists(ctx, "aa/bb/cc/doomed.png"); exists {
		t.Fatal("original blob survived delete")
	}
	if exists, _ := variantDisk.Exists(ctx, "aa/bb/cc/doomed_600x600wh.jpg"); exists {
		t.Fatal("variant blob survived delete")
	}
}

func TestDeleteMissingRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	disks := testsupport.MustDisks(t, cfg)

	err := maintenance.NewDeleter(store, disks, nil).Delete(context.Background(), 777)
	if !errors.Is(err, images.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
