package repository

import (
	"context"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Increment adds one to a velocity bucket with an atomic upsert.
func (r *SQLRepository) Increment(ctx context.Context, subject string, action domain.Action, bucket time.Time, _ time.Duration) error {
	if err := requireID("subject", subject); err != nil {
		return err
	}
	query := `
		INSERT INTO velocity_counters (subject, action, bucket_start, hits)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(subject, action, bucket_start) DO UPDATE SET
			hits = velocity_counters.hits + 1
	`
	_, err := r.exec(ctx, query, subject, action.String(), bucket.Unix())
	return err
}

// Sum totals buckets whose start lies in [from, to].
func (r *SQLRepository) Sum(ctx context.Context, subject string, action domain.Action, from, to time.Time, _ time.Duration) (int64, error) {
	query := `
		SELECT COALESCE(SUM(hits), 0) FROM velocity_counters
		WHERE subject = ? AND action = ? AND bucket_start >= ? AND bucket_start <= ?
	`
	var n int64
	if err := r.queryRow(ctx, query, subject, action.String(), from.Unix(), to.Unix()).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Purge drops buckets that started before the cutoff.
func (r *SQLRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM velocity_counters WHERE bucket_start < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
