package images

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"imageserver/internal/config"
)

// Store manages image record persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the image database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "images.db"))
}

// OpenPath connects to the image database at an explicit filesystem path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

const recordColumns = "id, uid, original_url, status, original_file, variant_files, last_error, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec          Record
		status       string
		originalFile sql.NullString
		variantFiles sql.NullString
		created      string
		updated      string
	)
	if err := row.Scan(&rec.ID, &rec.UID, &rec.OriginalURL, &status, &originalFile, &variantFiles, &rec.LastError, &created, &updated); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if originalFile.Valid && originalFile.String != "" {
		var ref FileRef
		if err := json.Unmarshal([]byte(originalFile.String), &ref); err != nil {
			return nil, fmt.Errorf("decode original file for image %d: %w", rec.ID, err)
		}
		rec.OriginalFile = &ref
	}
	if variantFiles.Valid && variantFiles.String != "" {
		if err := json.Unmarshal([]byte(variantFiles.String), &rec.VariantFiles); err != nil {
			return nil, fmt.Errorf("decode variant files for image %d: %w", rec.ID, err)
		}
	}
	var err error
	if rec.CreatedAt, err = parseTimestamp(created); err != nil {
		return nil, fmt.Errorf("parse created_at for image %d: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at for image %d: %w", rec.ID, err)
	}
	return &rec, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeOriginalFile(ref *FileRef) (any, error) {
	if ref == nil {
		return nil, nil
	}
	payload, err := json.Marshal(ref)
	if err != nil {
		return nil, fmt.Errorf("encode original file: %w", err)
	}
	return string(payload), nil
}

func encodeVariantFiles(files VariantFiles) (any, error) {
	if files.Empty() {
		return nil, nil
	}
	payload, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("encode variant files: %w", err)
	}
	return string(payload), nil
}

// Create registers a URL for processing. When the URL's fingerprint is
// already tracked the existing record is returned and created is false; the
// existing record is never mutated.
func (s *Store) Create(ctx context.Context, rawURL string) (rec *Record, created bool, err error) {
	ctx = ensureContext(ctx)
	uid := FingerprintURL(rawURL)
	now := formatTimestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO images (uid, original_url, status, last_error, created_at, updated_at)
         VALUES (?, ?, ?, '', ?, ?)
         ON CONFLICT(uid) DO NOTHING`,
		uid, rawURL, string(StatusQueued), now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create image record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("create image record: %w", err)
	}
	rec, err = s.GetByUID(ctx, uid)
	if err != nil {
		return nil, false, err
	}
	return rec, affected > 0, nil
}

// GetByID fetches a record by primary key.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM images WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load image %d: %w", id, err)
	}
	return rec, nil
}

// GetByUID fetches a record by URL fingerprint.
func (s *Store) GetByUID(ctx context.Context, uid string) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM images WHERE uid = ?", uid)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image uid %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load image uid %s: %w", uid, err)
	}
	return rec, nil
}

// List returns records filtered by status. An empty status list returns
// everything, newest first.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Record, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + recordColumns + " FROM images"
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image rows: %w", err)
	}
	return records, nil
}

// Counts aggregates record totals per status.
func (s *Store) Counts(ctx context.Context) (StatusCounts, error) {
	ctx = ensureContext(ctx)
	counts := StatusCounts{ByStatus: make(map[Status]int, len(allStatuses))}
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM images GROUP BY status")
	if err != nil {
		return counts, fmt.Errorf("count images: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan status count: %w", err)
		}
		counts.ByStatus[Status(status)] = n
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// Remove deletes a record row. Removing an absent id is not an error.
func (s *Store) Remove(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ensureContext(ctx), "DELETE FROM images WHERE id = ?", id); err != nil {
		return fmt.Errorf("remove image %d: %w", id, err)
	}
	return nil
}
