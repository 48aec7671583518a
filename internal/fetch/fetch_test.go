package fetch_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"imageserver/internal/fetch"
	"imageserver/internal/testsupport"
)

func tmpDirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read tmp dir: %v", err)
	}
	return len(entries)
}

func TestFetchDownloadsToTempFile(t *testing.T) {
	payload := testsupport.PNGBytes(t, 32, 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua == "" {
			t.Error("request sent without User-Agent")
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	fetcher := fetch.New(cfg, nil)

	result, err := fetcher.Fetch(context.Background(), server.URL+"/img.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer os.Remove(result.Path)

	if result.Size != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", result.Size, len(payload))
	}
	if result.ContentType != "image/png" {
		t.Fatalf("content type = %q", result.ContentType)
	}
	got, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("read temp file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("downloaded bytes differ from payload")
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithRetries(3, 1))
	fetcher := fetch.New(cfg, nil)

	_, err := fetcher.Fetch(context.Background(), server.URL)
	var statusErr *fetch.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusInternalServerError {
		t.Fatalf("err = %v, want 500 StatusError", err)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("server hit %d times, want 3", got)
	}
	if n := tmpDirEntries(t, cfg.TempDir()); n != 0 {
		t.Fatalf("%d temp files left behind", n)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithRetries(3, 1))
	fetcher := fetch.New(cfg, nil)

	_, err := fetcher.Fetch(context.Background(), server.URL)
	var statusErr *fetch.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 StatusError", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("server hit %d times, want 1", got)
	}
}

func TestFetchRejectsDeclaredOversize(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", "2048")
		w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithRetries(3, 1), testsupport.WithMaxFileSize(1024))
	fetcher := fetch.New(cfg, nil)

	_, err := fetcher.Fetch(context.Background(), server.URL)
	if !errors.Is(err, fetch.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("size violations must not be retried, got %d hits", got)
	}
	if n := tmpDirEntries(t, cfg.TempDir()); n != 0 {
		t.Fatalf("%d temp files left behind", n)
	}
}

func TestFetchCapsUndeclaredStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked response with no Content-Length header.
		flusher := w.(http.Flusher)
		chunk := make([]byte, 64*1024)
		for i := 0; i < 64; i++ {
			w.Write(chunk)
			flusher.Flush()
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithRetries(1, 1), testsupport.WithMaxFileSize(1<<20))
	fetcher := fetch.New(cfg, nil)

	_, err := fetcher.Fetch(context.Background(), server.URL)
	if !errors.Is(err, fetch.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if n := tmpDirEntries(t, cfg.TempDir()); n != 0 {
		t.Fatalf("%d temp files left behind", n)
	}
}

func TestFetchRejectsMalformedURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fetcher := fetch.New(cfg, nil)
	if _, err := fetcher.Fetch(context.Background(), "not a url"); err == nil {
		t.Fatal("malformed url accepted")
	}
}
