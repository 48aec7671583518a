package images

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Transition moves a record from one status to another under guard. The row
// is read inside a transaction, the expected status is verified, mutate (when
// non-nil) adjusts the record's fields, and the UPDATE repeats the status
// check in its WHERE clause so a concurrent writer surfaces as
// InvalidStateError instead of a silent overwrite. On any error the record is
// untouched.
//
// from == to is allowed and persists a field change without moving status.
func (s *Store) Transition(ctx context.Context, id int64, from, to Status, mutate func(*Record) error) (*Record, error) {
	ctx = ensureContext(ctx)
	var out *Record
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM images WHERE id = ?", id)
		rec, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("image %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load image %d: %w", id, err)
		}
		if rec.Status != from {
			return &InvalidStateError{ID: id, Current: rec.Status, Expected: from}
		}
		if mutate != nil {
			if err := mutate(rec); err != nil {
				return err
			}
		}
		rec.Status = to
		rec.UpdatedAt = time.Now().UTC()

		originalFile, err := encodeOriginalFile(rec.OriginalFile)
		if err != nil {
			return err
		}
		variantFiles, err := encodeVariantFiles(rec.VariantFiles)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(
			ctx,
			`UPDATE images
             SET status = ?, original_file = ?, variant_files = ?, last_error = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			string(rec.Status), originalFile, variantFiles, rec.LastError,
			formatTimestamp(rec.UpdatedAt), id, string(from),
		)
		if err != nil {
			return fmt.Errorf("persist transition for image %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("persist transition for image %d: %w", id, err)
		}
		if affected == 0 {
			return &InvalidStateError{ID: id, Current: rec.Status, Expected: from}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transition for image %d: %w", id, err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Fail moves a record from its current processing status to failed and
// records the failure message.
func (s *Store) Fail(ctx context.Context, id int64, from Status, message string) (*Record, error) {
	return s.Transition(ctx, id, from, StatusFailed, func(rec *Record) error {
		rec.LastError = message
		return nil
	})
}

// MarkDeleting flags a record for teardown from whatever status it is in.
// A record already being torn down by another caller is refused.
func (s *Store) MarkDeleting(ctx context.Context, id int64) (*Record, error) {
	ctx = ensureContext(ctx)
	var out *Record
	err := retryOnBusy(ctx, func() error {
		rec, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if rec.Status == StatusDeleting {
			return &InvalidValueError{ID: id, Message: "is already being deleted"}
		}
		marked, err := s.Transition(ctx, id, rec.Status, StatusDeleting, nil)
		if err != nil {
			return err
		}
		out = marked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
