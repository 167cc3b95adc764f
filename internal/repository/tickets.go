package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

const ticketColumns = `
	id, user_id, risk_tier, urs_score, trigger_reason, signals, status, resolution,
	reviewer_id, override_admin_id, created_at, updated_at, resolved_at`

// CreateTicket inserts a new ticket. A second unresolved ticket for the same
// user violates the partial unique index and returns ErrStateConflict.
func (r *SQLRepository) CreateTicket(ctx context.Context, t *domain.Ticket) error {
	if err := requireID("userID", t.UserID); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := r.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = domain.TicketOpen
	}

	signals, err := encodeJSON(t.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}

	query := `INSERT INTO fraud_tickets (` + ticketColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.exec(ctx, query,
		t.ID, t.UserID, t.RiskTier.String(), t.URS, t.TriggerReason, signals,
		string(t.Status), string(t.Resolution), t.ReviewerID, t.OverrideAdminID,
		t.CreatedAt.UTC(), t.UpdatedAt, nullTime(t.ResolvedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: user %s already has an open ticket", domain.ErrStateConflict, t.UserID)
	}
	return err
}

// GetTicket retrieves a ticket by id.
func (r *SQLRepository) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	if err := requireID("ticketID", ticketID); err != nil {
		return nil, err
	}
	t, err := scanTicket(r.queryRow(ctx, `SELECT `+ticketColumns+` FROM fraud_tickets WHERE id = ?`, ticketID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// GetActiveTicket retrieves a user's OPEN or IN_REVIEW ticket.
func (r *SQLRepository) GetActiveTicket(ctx context.Context, userID string) (*domain.Ticket, error) {
	if err := requireID("userID", userID); err != nil {
		return nil, err
	}
	t, err := scanTicket(r.queryRow(ctx,
		`SELECT `+ticketColumns+` FROM fraud_tickets WHERE user_id = ? AND status <> ?`,
		userID, string(domain.TicketResolved),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// UpdateTicket writes every mutable column of a ticket.
func (r *SQLRepository) UpdateTicket(ctx context.Context, t *domain.Ticket) error {
	signals, err := encodeJSON(t.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	t.UpdatedAt = r.now().UTC()

	query := `
		UPDATE fraud_tickets SET
			risk_tier = ?, urs_score = ?, trigger_reason = ?, signals = ?, status = ?,
			resolution = ?, reviewer_id = ?, override_admin_id = ?, updated_at = ?, resolved_at = ?
		WHERE id = ?
	`
	res, err := r.exec(ctx, query,
		t.RiskTier.String(), t.URS, t.TriggerReason, signals, string(t.Status),
		string(t.Resolution), t.ReviewerID, t.OverrideAdminID, t.UpdatedAt, nullTime(t.ResolvedAt),
		t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTickets returns tickets in a status (all when empty), oldest first.
func (r *SQLRepository) ListTickets(ctx context.Context, status domain.TicketStatus, limit int) ([]*domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + ticketColumns + ` FROM fraud_tickets`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at LIMIT ?`
	args = append(args, limit)

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var t domain.Ticket
	var tierName, status, resolution string
	var signals sql.NullString
	var resolved sql.NullTime

	if err := row.Scan(
		&t.ID, &t.UserID, &tierName, &t.URS, &t.TriggerReason, &signals, &status, &resolution,
		&t.ReviewerID, &t.OverrideAdminID, &t.CreatedAt, &t.UpdatedAt, &resolved,
	); err != nil {
		return nil, err
	}

	tier, err := domain.ParseTier(tierName)
	if err != nil {
		return nil, err
	}
	t.RiskTier = tier
	t.Status = domain.TicketStatus(status)
	t.Resolution = domain.Resolution(resolution)
	t.Signals = decodeSnapshot(signals)
	t.ResolvedAt = timePtr(resolved)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// isUniqueViolation matches both SQLite and PostgreSQL unique errors.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
