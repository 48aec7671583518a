// Package fetch downloads source images over HTTP into temp files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"imageserver/internal/config"
	"imageserver/internal/logging"
)

// copyChunkSize bounds how many bytes are copied between size-cap checks.
const copyChunkSize = 1 << 20

// jitterCeiling is the upper bound of the random extra delay added to each
// retry backoff.
const jitterCeiling = 100 * time.Millisecond

// ErrTooLarge indicates the remote payload exceeds the configured size cap.
var ErrTooLarge = errors.New("download exceeds maximum file size")

// StatusError reports a non-success HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}

// Temporary reports whether the response status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Result describes a completed download sitting in a temp file. The caller
// owns the file and must remove it.
type Result struct {
	Path        string
	Size        int64
	ContentType string
}

// Fetcher downloads URLs with bounded retries and a hard size cap.
type Fetcher struct {
	client *http.Client
	cfg    config.Downloads
	tmpDir string
	logger *slog.Logger
}

// New builds a Fetcher from the download settings.
func New(cfg *config.Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	dialer := &net.Dialer{Timeout: time.Duration(cfg.Downloads.ConnectTimeoutSeconds) * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          16,
	}
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Downloads.TimeoutSeconds) * time.Second,
		},
		cfg:    cfg.Downloads,
		tmpDir: cfg.TempDir(),
		logger: logger,
	}
}

// Fetch downloads rawURL into a temp file. Transport failures and retryable
// HTTP statuses are retried with exponential backoff and jitter; the temp
// file never survives a failed attempt.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	attempts := f.cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(f.cfg.BaseBackoffMS) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) || attempt == attempts {
			break
		}
		delay := backoff<<(attempt-1) + time.Duration(rand.Int63n(int64(jitterCeiling)))
		f.logger.Warn("download attempt failed, retrying",
			logging.String("url", rawURL),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	if resp.ContentLength > 0 && resp.ContentLength > f.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrTooLarge, resp.ContentLength, f.cfg.MaxFileSize)
	}

	tmp, err := os.CreateTemp(f.tmpDir, f.cfg.TmpPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	size, err := copyCapped(tmp, resp.Body, f.cfg.MaxFileSize)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	return &Result{
		Path:        tmp.Name(),
		Size:        size,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// copyCapped streams body into dst in bounded chunks, failing as soon as the
// running total passes max.
func copyCapped(dst io.Writer, body io.Reader, max int64) (int64, error) {
	var total int64
	for {
		n, err := io.CopyN(dst, body, copyChunkSize)
		total += n
		if total > max {
			return total, fmt.Errorf("%w: read %d bytes, limit %d", ErrTooLarge, total, max)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("read response body: %w", err)
		}
	}
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	if errors.Is(err, ErrTooLarge) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
