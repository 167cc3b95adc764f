package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// AppendLedger stores a ledger entry pushed by the marketplace.
func (r *SQLRepository) AppendLedger(ctx context.Context, e *domain.LedgerEntry) error {
	if err := requireID("userID", e.UserID); err != nil {
		return err
	}
	if e.EntryType == "" {
		return fmt.Errorf("%w: entryType is required", ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	_, err := r.exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, entry_type, reason_code, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.EntryType, e.ReasonCode, e.ReferenceID, e.CreatedAt.UTC())
	return err
}

// CountLedger counts a user's entries since the cutoff.
func (r *SQLRepository) CountLedger(ctx context.Context, userID, entryType string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM ledger_entries WHERE user_id = ? AND created_at >= ?`
	args := []any{userID, since.UTC()}
	if entryType != "" {
		query += ` AND entry_type = ?`
		args = append(args, entryType)
	}
	return r.count(ctx, query, args...)
}

// CountDistinctReferences counts distinct reference ids for a reason since the cutoff.
func (r *SQLRepository) CountDistinctReferences(ctx context.Context, userID, entryType, reasonCode string, since time.Time) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(DISTINCT reference_id) FROM ledger_entries
		WHERE user_id = ? AND entry_type = ? AND reason_code = ? AND created_at >= ? AND reference_id <> ''
	`, userID, entryType, reasonCode, since.UTC())
}

// LedgerTimes returns entry timestamps in [from, to], oldest first.
func (r *SQLRepository) LedgerTimes(ctx context.Context, userID string, from, to time.Time, limit int) ([]time.Time, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.query(ctx, `
		SELECT created_at FROM ledger_entries
		WHERE user_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at LIMIT ?
	`, userID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t.UTC())
	}
	return times, rows.Err()
}

// SaveObservation keeps the latest value per user and signal.
func (r *SQLRepository) SaveObservation(ctx context.Context, o *domain.Observation) error {
	if err := requireID("userID", o.UserID); err != nil {
		return err
	}
	if err := requireID("signalID", o.SignalID); err != nil {
		return err
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = r.now().UTC()
	}

	_, err := r.exec(ctx, `
		INSERT INTO signal_observations (user_id, signal_id, value, observed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, signal_id) DO UPDATE SET
			value = excluded.value,
			observed_at = excluded.observed_at
	`, o.UserID, o.SignalID, o.Value, o.ObservedAt.UTC())
	return err
}

// ListObservations returns a user's observations made since the cutoff.
func (r *SQLRepository) ListObservations(ctx context.Context, userID string, since time.Time) ([]*domain.Observation, error) {
	rows, err := r.query(ctx, `
		SELECT user_id, signal_id, value, observed_at FROM signal_observations
		WHERE user_id = ? AND observed_at >= ?
		ORDER BY signal_id
	`, userID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []*domain.Observation
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(&o.UserID, &o.SignalID, &o.Value, &o.ObservedAt); err != nil {
			return nil, err
		}
		o.ObservedAt = o.ObservedAt.UTC()
		obs = append(obs, &o)
	}
	return obs, rows.Err()
}
