package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// AppendEvent adds a risk event. Missing ids and timestamps are filled in.
func (r *SQLRepository) AppendEvent(ctx context.Context, e *domain.RiskEvent) error {
	if err := requireID("userID", e.UserID); err != nil {
		return err
	}
	if e.Type == "" {
		return fmt.Errorf("%w: eventType is required", ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if e.Severity == "" {
		e.Severity = domain.SeverityLow
	}

	metadata, err := encodeJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query := `
		INSERT INTO risk_events (id, user_id, event_type, severity, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.exec(ctx, query, e.ID, e.UserID, e.Type, string(e.Severity), metadata, e.CreatedAt.UTC())
	return err
}

// ListEvents returns a user's events, newest first.
func (r *SQLRepository) ListEvents(ctx context.Context, userID, eventType string, since time.Time) ([]*domain.RiskEvent, error) {
	if err := requireID("userID", userID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, event_type, severity, metadata, created_at
		FROM risk_events
		WHERE user_id = ? AND created_at >= ?
	`
	args := []any{userID, since.UTC()}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.RiskEvent
	for rows.Next() {
		var e domain.RiskEvent
		var severity string
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &severity, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Severity = domain.Severity(severity)
		e.CreatedAt = e.CreatedAt.UTC()
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// CountEvents counts a user's events of a type (all when empty) since the cutoff.
func (r *SQLRepository) CountEvents(ctx context.Context, userID, eventType string, since time.Time) (int, error) {
	if err := requireID("userID", userID); err != nil {
		return 0, err
	}
	query := `SELECT COUNT(*) FROM risk_events WHERE user_id = ? AND created_at >= ?`
	args := []any{userID, since.UTC()}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	return r.count(ctx, query, args...)
}

// PurgeEvents deletes one batch of expired events of a severity.
func (r *SQLRepository) PurgeEvents(ctx context.Context, severity domain.Severity, before time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 5000
	}
	query := `
		DELETE FROM risk_events WHERE id IN (
			SELECT id FROM risk_events WHERE severity = ? AND created_at < ? LIMIT ?
		)
	`
	res, err := r.exec(ctx, query, string(severity), before.UTC(), batch)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendAudit records an admin action.
func (r *SQLRepository) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	if err := requireID("adminID", e.AdminID); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	query := `
		INSERT INTO admin_audit_log (id, admin_id, action, target_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query, e.ID, e.AdminID, e.Action, e.TargetID, e.Reason, e.CreatedAt.UTC())
	return err
}

// ListAudit returns admin actions against a target, oldest first.
func (r *SQLRepository) ListAudit(ctx context.Context, targetID string) ([]*domain.AuditEntry, error) {
	rows, err := r.query(ctx, `
		SELECT id, admin_id, action, target_id, reason, created_at
		FROM admin_audit_log WHERE target_id = ? ORDER BY created_at
	`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.AdminID, &e.Action, &e.TargetID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
