package images

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func processingPlaceholders() (string, []any) {
	statuses := make([]any, 0, len(processingStatuses))
	for status := range processingStatuses {
		statuses = append(statuses, string(status))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	return placeholders, statuses
}

// MarkExpiredBatch flips at most limit records that have sat in a processing
// status since before cutoff to expired. It returns the records as they were
// before the flip so the caller can release their stored files. A short batch
// tells the caller the sweep is done.
func (s *Store) MarkExpiredBatch(ctx context.Context, cutoff time.Time, limit int) ([]*Record, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		return nil, nil
	}

	var batch []*Record
	err := retryOnBusy(ctx, func() error {
		batch = batch[:0]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin expiry tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		placeholders, args := processingPlaceholders()
		args = append(args, formatTimestamp(cutoff), limit)
		rows, err := tx.QueryContext(
			ctx,
			"SELECT "+recordColumns+" FROM images WHERE status IN ("+placeholders+") AND updated_at < ? ORDER BY updated_at ASC LIMIT ?",
			args...,
		)
		if err != nil {
			return fmt.Errorf("select expirable images: %w", err)
		}
		for rows.Next() {
			rec, scanErr := scanRecord(rows)
			if scanErr != nil {
				rows.Close()
				return fmt.Errorf("scan expirable image: %w", scanErr)
			}
			batch = append(batch, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate expirable images: %w", err)
		}
		rows.Close()

		if len(batch) == 0 {
			return tx.Commit()
		}

		now := formatTimestamp(time.Now())
		var missed map[int64]struct{}
		for _, rec := range batch {
			res, err := tx.ExecContext(
				ctx,
				"UPDATE images SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
				string(StatusExpired), now, rec.ID, string(rec.Status),
			)
			if err != nil {
				return fmt.Errorf("expire image %d: %w", rec.ID, err)
			}
			// A record that moved on concurrently keeps its new status; the
			// caller must not release files it still owns.
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("expire image %d: %w", rec.ID, err)
			}
			if affected == 0 {
				if missed == nil {
					missed = make(map[int64]struct{})
				}
				missed[rec.ID] = struct{}{}
			}
		}
		batch = pruneRecords(batch, missed)
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// pruneRecords returns records minus the missed ids, preserving order. The
// input slice is left untouched.
func pruneRecords(records []*Record, missed map[int64]struct{}) []*Record {
	if len(missed) == 0 {
		return records
	}
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		if _, skip := missed[rec.ID]; !skip {
			out = append(out, rec)
		}
	}
	return out
}

// ReferencedKeys collects every (disk, key) pair any record points at,
// pending entries included. Reconciliation treats stored blobs outside this
// set as orphans.
func (s *Store) ReferencedKeys(ctx context.Context) (map[string]map[string]struct{}, error) {
	records, err := s.List(ensureContext(ctx), 0)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]map[string]struct{})
	for _, rec := range records {
		for _, ref := range rec.Files() {
			if keys[ref.Disk] == nil {
				keys[ref.Disk] = make(map[string]struct{})
			}
			keys[ref.Disk][ref.Key] = struct{}{}
		}
	}
	return keys, nil
}
