package testsupport

import (
	"context"
	"testing"

	"imageserver/internal/config"
	"imageserver/internal/images"
	"imageserver/internal/storage"
)

// MustOpenStore opens an images.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *images.Store {
	t.Helper()

	store, err := images.Open(cfg)
	if err != nil {
		t.Fatalf("images.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewImage registers a URL and returns the fresh record.
func NewImage(t testing.TB, store *images.Store, url string) *images.Record {
	t.Helper()

	rec, created, err := store.Create(context.Background(), url)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	if !created {
		t.Fatalf("url %q already tracked", url)
	}
	return rec
}

// MustDisks builds the storage set from a test config.
func MustDisks(t testing.TB, cfg *config.Config) *storage.Set {
	t.Helper()

	disks, err := storage.FromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("storage.FromConfig: %v", err)
	}
	return disks
}
