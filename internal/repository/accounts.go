package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/opensource-finance/harrier/internal/domain"
)

// GetAccount retrieves an account.
func (r *SQLRepository) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	if err := requireID("userID", userID); err != nil {
		return nil, err
	}

	query := `
		SELECT user_id, email, phone, phone_verified, role, previous_role, identity_verified,
			   completed_trips, avg_rating, reviews_given, reviews_removed, created_at, updated_at
		FROM accounts WHERE user_id = ?
	`

	var a domain.Account
	var phoneVerified, identityVerified int
	err := r.queryRow(ctx, query, userID).Scan(
		&a.UserID, &a.Email, &a.Phone, &phoneVerified, &a.Role, &a.PreviousRole, &identityVerified,
		&a.CompletedTrips, &a.AvgRating, &a.ReviewsGiven, &a.ReviewsRemoved, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.PhoneVerified = phoneVerified == 1
	a.IdentityVerified = identityVerified == 1
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// UpsertAccount writes marketplace-owned fields. A suspended role set by the
// engine survives until RestoreAccount.
func (r *SQLRepository) UpsertAccount(ctx context.Context, a *domain.Account) error {
	if err := requireID("userID", a.UserID); err != nil {
		return err
	}

	now := r.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := `
		INSERT INTO accounts (
			user_id, email, phone, phone_verified, role, previous_role, identity_verified,
			completed_trips, avg_rating, reviews_given, reviews_removed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			phone = excluded.phone,
			phone_verified = excluded.phone_verified,
			role = CASE WHEN accounts.role = ? THEN accounts.role ELSE excluded.role END,
			identity_verified = excluded.identity_verified,
			completed_trips = excluded.completed_trips,
			avg_rating = excluded.avg_rating,
			reviews_given = excluded.reviews_given,
			reviews_removed = excluded.reviews_removed,
			updated_at = excluded.updated_at
	`
	_, err := r.exec(ctx, query,
		a.UserID, a.Email, a.Phone, boolInt(a.PhoneVerified), a.Role, boolInt(a.IdentityVerified),
		a.CompletedTrips, a.AvgRating, a.ReviewsGiven, a.ReviewsRemoved, a.CreatedAt.UTC(), now,
		domain.RoleSuspended,
	)
	return err
}

// SuspendAccount stashes the current role and sets the suspended role.
func (r *SQLRepository) SuspendAccount(ctx context.Context, userID string) (bool, error) {
	if err := requireID("userID", userID); err != nil {
		return false, err
	}

	res, err := r.exec(ctx, `
		UPDATE accounts SET previous_role = role, role = ?, updated_at = ?
		WHERE user_id = ? AND role <> ?
	`, domain.RoleSuspended, r.now().UTC(), userID, domain.RoleSuspended)
	if err != nil {
		return false, err
	}
	return r.changedOrMissing(ctx, res, userID)
}

// RestoreAccount puts back the stashed role of a suspended account.
func (r *SQLRepository) RestoreAccount(ctx context.Context, userID string) (bool, error) {
	if err := requireID("userID", userID); err != nil {
		return false, err
	}

	res, err := r.exec(ctx, `
		UPDATE accounts SET role = previous_role, previous_role = '', updated_at = ?
		WHERE user_id = ? AND role = ? AND previous_role <> ''
	`, r.now().UTC(), userID, domain.RoleSuspended)
	if err != nil {
		return false, err
	}
	return r.changedOrMissing(ctx, res, userID)
}

// PhoneOnSuspendedAccount reports whether a suspended account uses phone.
func (r *SQLRepository) PhoneOnSuspendedAccount(ctx context.Context, phone string) (bool, error) {
	if phone == "" {
		return false, nil
	}
	n, err := r.count(ctx, `SELECT COUNT(*) FROM accounts WHERE phone = ? AND role = ?`, phone, domain.RoleSuspended)
	return n > 0, err
}

// changedOrMissing distinguishes a no-op update from a missing account.
func (r *SQLRepository) changedOrMissing(ctx context.Context, res sql.Result, userID string) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}
	n, err := r.count(ctx, `SELECT COUNT(*) FROM accounts WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}
