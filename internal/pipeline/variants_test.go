package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"imageserver/internal/images"
	"imageserver/internal/pipeline"
	"imageserver/internal/storage"
	"imageserver/internal/testsupport"
	"imageserver/internal/variants"
)

func (e *stageEnv) variantStage(t *testing.T) *pipeline.VariantStage {
	t.Helper()
	registry, err := variants.FromConfig(e.cfg)
	if err != nil {
		t.Fatalf("variants.FromConfig: %v", err)
	}
	return pipeline.NewVariantStage(e.store, e.disks, registry, nil)
}

// downloadOriginal runs the download stage against a local image server so the
// record sits at image_downloaded with a real blob on the original disk.
func (e *stageEnv) downloadOriginal(t *testing.T, width, height int) *images.Record {
	t.Helper()
	server := pngServer(t, width, height)
	rec := testsupport.NewImage(t, e.store, server.URL+"/source.png")
	got, err := e.downloadStage(t).Execute(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("download stage: %v", err)
	}
	return got
}

func TestVariantStageRendersEveryOutput(t *testing.T) {
	env := newStageEnv(t)
	rec := env.downloadOriginal(t, 300, 200)

	got, err := env.variantStage(t).Execute(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != images.StatusDone {
		t.Fatalf("status = %s, want %s", got.Status, images.StatusDone)
	}
	if len(got.VariantFiles.Pending) != 0 {
		t.Fatalf("pending entries survived completion: %v", got.VariantFiles.Pending)
	}

	base := strings.TrimSuffix(rec.OriginalFile.Key, ".png")
	wantKeys := []string{
		base + "_150x150wh.jpg",
		base + "_150x150wh.png",
		base + "_600x600wh.jpg",
		base + "_600x600wh.png",
	}

	diskKeys := env.mustDiskKeys(t, (*storage.Set).Variant)
	sort.Strings(diskKeys)
	if len(diskKeys) != len(wantKeys) {
		t.Fatalf("variant disk holds %d blobs, want %d: %v", len(diskKeys), len(wantKeys), diskKeys)
	}
	for i, want := range wantKeys {
		if diskKeys[i] != want {
			t.Fatalf("disk key[%d] = %q, want %q", i, diskKeys[i], want)
		}
	}

	for _, name := range []string{"600x600wh", "150x150wh"} {
		byExt, ok := got.VariantFiles.Variants[name]
		if !ok {
			t.Fatalf("variant %s missing from record", name)
		}
		for _, ext := range []string{"jpg", "png"} {
			ref, ok := byExt[ext]
			if !ok {
				t.Fatalf("variant %s lacks %s encoding", name, ext)
			}
			if ref.Size <= 0 {
				t.Fatalf("variant %s.%s has size %d", name, ext, ref.Size)
			}
		}
	}
	if ref := got.VariantFiles.Variants["600x600wh"]["jpg"]; ref.Width != 600 || ref.Height != 600 {
		t.Fatalf("600x600wh dims = %dx%d", ref.Width, ref.Height)
	}
	if ref := got.VariantFiles.Variants["150x150wh"]["png"]; ref.Width != 150 || ref.Height != 150 {
		t.Fatalf("150x150wh dims = %dx%d", ref.Width, ref.Height)
	}
}

func TestVariantStageRefusesQueuedRecord(t *testing.T) {
	env := newStageEnv(t)
	rec := testsupport.NewImage(t, env.store, "https://example.org/untouched.png")

	_, err := env.variantStage(t).Execute(context.Background(), rec.ID)
	if !errors.Is(err, pipeline.ErrInvalidState) {
		t.Fatalf("err = %v, want invalid-state refusal", err)
	}
	after, _ := env.store.GetByID(context.Background(), rec.ID)
	if after.Status != images.StatusQueued {
		t.Fatalf("record disturbed by refused stage: %s", after.Status)
	}
}

func TestVariantStageFailsWhenSourceMissing(t *testing.T) {
	env := newStageEnv(t)
	rec := testsupport.NewImage(t, env.store, "https://example.org/ghost.png")
	ctx := context.Background()

	// Hand-build a record whose reference points at a blob that was never
	// written, simulating a crash between reference and bytes.
	if _, err := env.store.Transition(ctx, rec.ID, images.StatusQueued, images.StatusDownloading, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := env.store.Transition(ctx, rec.ID, images.StatusDownloading, images.StatusDownloaded, func(r *images.Record) error {
		r.OriginalFile = &images.FileRef{Disk: env.cfg.Disks.Original, Key: "aa/bb/cc/ghost_1.png"}
		return nil
	}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	_, err := env.variantStage(t).Execute(ctx, rec.ID)
	if !errors.Is(err, pipeline.ErrStorage) {
		t.Fatalf("err = %v, want storage failure", err)
	}
	after, _ := env.store.GetByID(ctx, rec.ID)
	if after.Status != images.StatusFailed {
		t.Fatalf("status = %s, want %s", after.Status, images.StatusFailed)
	}
	wantPrefix := fmt.Sprintf("Source image file not found on disk %q: ", env.cfg.Disks.Original)
	if !strings.HasPrefix(after.LastError, wantPrefix) {
		t.Fatalf("lastError = %q, want prefix %q", after.LastError, wantPrefix)
	}
}

// faultDisk fails every Write after the first allowed few, simulating a disk
// that dies mid-generation.
type faultDisk struct {
	storage.Disk
	allowed int
	writes  int
}

func (d *faultDisk) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	d.writes++
	if d.writes > d.allowed {
		return errors.New("disk full")
	}
	return d.Disk.Write(ctx, key, r, size, contentType)
}

func TestVariantStageRollsBackPartialOutputs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetries(1, 1))
	store := testsupport.MustOpenStore(t, cfg)
	real := testsupport.MustDisks(t, cfg)

	originalDisk, err := real.ByName(cfg.Disks.Original)
	if err != nil {
		t.Fatalf("resolve original disk: %v", err)
	}
	variantDisk, err := real.ByName(cfg.Disks.Variant)
	if err != nil {
		t.Fatalf("resolve variant disk: %v", err)
	}
	fault := &faultDisk{Disk: variantDisk, allowed: 2}
	disks := storage.NewSet(cfg.Disks.Original, cfg.Disks.Variant, originalDisk, fault)

	env := &stageEnv{cfg: cfg, store: store, disks: disks}
	rec := env.downloadOriginal(t, 120, 80)

	_, err = env.variantStage(t).Execute(context.Background(), rec.ID)
	if !errors.Is(err, pipeline.ErrStorage) {
		t.Fatalf("err = %v, want storage failure", err)
	}

	after, _ := store.GetByID(context.Background(), rec.ID)
	if after.Status != images.StatusFailed {
		t.Fatalf("status = %s, want %s", after.Status, images.StatusFailed)
	}

	// The two blobs written before the fault must have been rolled back.
	keys, err := variantDisk.List(context.Background())
	if err != nil {
		t.Fatalf("list variant disk: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("partial outputs left on disk: %v", keys)
	}

	// Pending references survive the failure so reconciliation can retrace.
	if len(after.VariantFiles.Pending) == 0 {
		t.Fatal("pending references dropped on failure")
	}
}
