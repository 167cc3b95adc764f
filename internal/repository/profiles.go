package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var _ domain.Repository = (*SQLRepository)(nil)

const profileColumns = `
	user_id, urs, tier, behavior_score, transaction_score, network_score, history_score,
	signals, whitelisted_until, probation_until, probation_baseline, escalation_count,
	computed_at, updated_at`

// GetProfile retrieves a user's risk profile.
func (r *SQLRepository) GetProfile(ctx context.Context, userID string) (*domain.RiskProfile, error) {
	if err := requireID("userID", userID); err != nil {
		return nil, err
	}

	row := r.queryRow(ctx, `SELECT `+profileColumns+` FROM risk_profiles WHERE user_id = ?`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SaveScore upserts the computed columns only.
func (r *SQLRepository) SaveScore(ctx context.Context, p *domain.RiskProfile) error {
	if err := requireID("userID", p.UserID); err != nil {
		return err
	}

	signals, err := encodeJSON(p.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}

	now := r.now().UTC()
	query := `
		INSERT INTO risk_profiles (
			user_id, urs, tier, behavior_score, transaction_score, network_score, history_score,
			signals, escalation_count, computed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			urs = excluded.urs,
			tier = excluded.tier,
			behavior_score = excluded.behavior_score,
			transaction_score = excluded.transaction_score,
			network_score = excluded.network_score,
			history_score = excluded.history_score,
			signals = excluded.signals,
			computed_at = excluded.computed_at,
			updated_at = excluded.updated_at
	`

	_, err = r.exec(ctx, query,
		p.UserID, p.URS, p.Tier.String(),
		p.BehaviorScore, p.TransactionScore, p.NetworkScore, p.HistoryScore,
		signals, p.ComputedAt.UTC(), now,
	)
	return err
}

// SaveProfile upserts every column of a profile.
func (r *SQLRepository) SaveProfile(ctx context.Context, p *domain.RiskProfile) error {
	if err := requireID("userID", p.UserID); err != nil {
		return err
	}

	signals, err := encodeJSON(p.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	baseline, err := encodeJSON(p.ProbationBaseline)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}

	now := r.now().UTC()
	computedAt := p.ComputedAt
	if computedAt.IsZero() {
		computedAt = now
	}

	query := `
		INSERT INTO risk_profiles (` + profileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			urs = excluded.urs,
			tier = excluded.tier,
			behavior_score = excluded.behavior_score,
			transaction_score = excluded.transaction_score,
			network_score = excluded.network_score,
			history_score = excluded.history_score,
			signals = excluded.signals,
			whitelisted_until = excluded.whitelisted_until,
			probation_until = excluded.probation_until,
			probation_baseline = excluded.probation_baseline,
			escalation_count = excluded.escalation_count,
			computed_at = excluded.computed_at,
			updated_at = excluded.updated_at
	`

	_, err = r.exec(ctx, query,
		p.UserID, p.URS, p.Tier.String(),
		p.BehaviorScore, p.TransactionScore, p.NetworkScore, p.HistoryScore,
		signals, nullTime(p.WhitelistedUntil), nullTime(p.ProbationUntil), baseline,
		p.EscalationCount, computedAt.UTC(), now,
	)
	if err == nil {
		p.UpdatedAt = now
	}
	return err
}

// ListUsersForRescoring returns accounts that were never scored or whose
// profile is older than staleBefore.
func (r *SQLRepository) ListUsersForRescoring(ctx context.Context, staleBefore time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT a.user_id
		FROM accounts a
		LEFT JOIN risk_profiles p ON p.user_id = a.user_id
		WHERE p.user_id IS NULL OR p.computed_at < ?
		ORDER BY a.user_id
		LIMIT ?
	`

	rows, err := r.query(ctx, query, staleBefore.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.RiskProfile, error) {
	var p domain.RiskProfile
	var tierName string
	var signals, baseline sql.NullString
	var whitelisted, probation sql.NullTime

	if err := row.Scan(
		&p.UserID, &p.URS, &tierName,
		&p.BehaviorScore, &p.TransactionScore, &p.NetworkScore, &p.HistoryScore,
		&signals, &whitelisted, &probation, &baseline, &p.EscalationCount,
		&p.ComputedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t, err := domain.ParseTier(tierName)
	if err != nil {
		return nil, err
	}
	p.Tier = t
	p.Signals = decodeSnapshot(signals)
	p.ProbationBaseline = decodeSnapshot(baseline)
	p.WhitelistedUntil = timePtr(whitelisted)
	p.ProbationUntil = timePtr(probation)
	p.ComputedAt = p.ComputedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
