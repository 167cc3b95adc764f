// Package escalation opens review tickets for high-risk users, suspends
// accounts past the auto-suspend threshold and applies admin resolutions.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/tier"
)

// FalsePositiveURS is the floor score a cleared user restarts from.
const FalsePositiveURS = 15

// Audit actions.
const (
	AuditFraudConfirmed   = "fraud_confirmed"
	AuditTicketClaimed    = "ticket_claimed"
	AuditOverrideRecorded = "dual_admin_override"
	AuditWhitelistGranted = "whitelist_granted"
)

const day = 24 * time.Hour

var errRecyclingBlocked = errors.New("recycling blocked")

// Input is one scored user handed to Escalate.
type Input struct {
	UserID        string
	Tier          domain.Tier
	URS           int
	TriggerReason string
	Signals       domain.Snapshot
}

// ResolveRequest closes a ticket.
type ResolveRequest struct {
	TicketID          string            `json:"-"`
	Resolution        domain.Resolution `json:"resolution" validate:"required,oneof=FALSE_POSITIVE CONFIRMED MONITORING"`
	AdminID           string            `json:"-"`
	DualAdminOverride bool              `json:"dualAdminOverride"`
}

// Options tune a Service. Zero values use the defaults.
type Options struct {
	Thresholds             tier.Thresholds
	RecyclingLimit         int
	FalsePositiveProbation time.Duration
	MonitoringProbation    time.Duration
	WhitelistDuration      time.Duration
}

// Service runs the ticket state machine.
type Service struct {
	repo domain.Repository
	opts Options
	now  func() time.Time
}

// NewService creates an escalation service.
func NewService(repo domain.Repository, opts Options) (*Service, error) {
	if opts.Thresholds == (tier.Thresholds{}) {
		opts.Thresholds = tier.DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.RecyclingLimit <= 0 {
		opts.RecyclingLimit = 3
	}
	if opts.FalsePositiveProbation <= 0 {
		opts.FalsePositiveProbation = 30 * day
	}
	if opts.MonitoringProbation <= 0 {
		opts.MonitoringProbation = 7 * day
	}
	if opts.WhitelistDuration <= 0 {
		opts.WhitelistDuration = 30 * day
	}
	return &Service{repo: repo, opts: opts, now: time.Now}, nil
}

// Escalate opens or bumps the user's ticket when urs reaches the escalation
// threshold and suspends the account at the auto-suspend threshold.
func (s *Service) Escalate(ctx context.Context, in Input) (*domain.EscalationOutcome, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	out := &domain.EscalationOutcome{UserID: in.UserID}
	if in.URS < s.opts.Thresholds.Escalation {
		return out, nil
	}

	err := s.repo.WithTx(ctx, func(tx domain.Repository) error {
		now := s.now().UTC()
		ticket, err := tx.GetActiveTicket(ctx, in.UserID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			ticket = &domain.Ticket{
				UserID:        in.UserID,
				RiskTier:      in.Tier,
				URS:           in.URS,
				TriggerReason: in.TriggerReason,
				Signals:       in.Signals,
				Status:        domain.TicketOpen,
			}
			if err := tx.CreateTicket(ctx, ticket); err != nil {
				return fmt.Errorf("create ticket: %w", err)
			}
			out.Created = true
			if err := tx.AppendEvent(ctx, &domain.RiskEvent{
				UserID:   in.UserID,
				Type:     domain.EventEscalationCreated,
				Severity: s.createdSeverity(in.URS),
				Metadata: map[string]any{
					"ticketId": ticket.ID,
					"tier":     in.Tier.String(),
					"urs":      in.URS,
					"reason":   in.TriggerReason,
				},
			}); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("get active ticket: %w", err)
		case in.URS > ticket.URS:
			ticket.URS = in.URS
			ticket.RiskTier = in.Tier
			ticket.Signals = in.Signals
			ticket.TriggerReason = fmt.Sprintf("%s\n[UPDATE] %s: %s", ticket.TriggerReason, now.Format(time.RFC3339), in.TriggerReason)
			if err := tx.UpdateTicket(ctx, ticket); err != nil {
				return fmt.Errorf("update ticket: %w", err)
			}
			out.Updated = true
		}
		out.TicketID = ticket.ID

		if in.URS < s.opts.Thresholds.AutoSuspend {
			return nil
		}
		suspended, err := s.suspend(ctx, tx, in.UserID)
		if err != nil || !suspended {
			return err
		}
		out.Suspended = true
		return tx.AppendEvent(ctx, &domain.RiskEvent{
			UserID:   in.UserID,
			Type:     domain.EventAutoSuspended,
			Severity: domain.SeverityCritical,
			Metadata: map[string]any{"urs": in.URS, "tier": in.Tier.String(), "ticketId": ticket.ID},
		})
	})
	if err != nil {
		metrics.Escalations.WithLabelValues("error").Inc()
		return nil, err
	}

	switch {
	case out.Created:
		metrics.Escalations.WithLabelValues("created").Inc()
	case out.Updated:
		metrics.Escalations.WithLabelValues("updated").Inc()
	}
	if out.Suspended {
		metrics.Escalations.WithLabelValues("suspended").Inc()
		slog.Warn("account auto-suspended",
			"user_id", in.UserID,
			"urs", in.URS,
			"ticket_id", out.TicketID,
		)
	}
	return out, nil
}

func (s *Service) createdSeverity(urs int) domain.Severity {
	if urs >= s.opts.Thresholds.AutoSuspend {
		return domain.SeverityCritical
	}
	return domain.SeverityHigh
}

// suspend tolerates users the marketplace has not pushed an account for.
func (s *Service) suspend(ctx context.Context, tx domain.Repository, userID string) (bool, error) {
	changed, err := tx.SuspendAccount(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Warn("cannot suspend unknown account", "user_id", userID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("suspend account: %w", err)
	}
	return changed, nil
}

// Resolve applies an admin verdict and closes the ticket.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*domain.Ticket, error) {
	if req.TicketID == "" || req.AdminID == "" {
		return nil, fmt.Errorf("%w: ticketId and adminId are required", domain.ErrValidation)
	}
	if !req.Resolution.Valid() {
		return nil, fmt.Errorf("%w: unknown resolution %q", domain.ErrValidation, req.Resolution)
	}

	var resolved *domain.Ticket
	var blocked *domain.RiskEvent
	err := s.repo.WithTx(ctx, func(tx domain.Repository) error {
		now := s.now().UTC()
		ticket, err := s.activeTicket(ctx, tx, req.TicketID)
		if err != nil {
			return err
		}

		switch req.Resolution {
		case domain.ResolutionConfirmed:
			if _, err := s.suspend(ctx, tx, ticket.UserID); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, &domain.AuditEntry{
				AdminID:  req.AdminID,
				Action:   AuditFraudConfirmed,
				TargetID: ticket.UserID,
				Reason:   fmt.Sprintf("Fraud confirmed. Ticket %s. URS: %d", ticket.ID, ticket.URS),
			}); err != nil {
				return err
			}

		case domain.ResolutionMonitoring:
			p, err := s.profileOrNew(ctx, tx, ticket.UserID, ticket)
			if err != nil {
				return err
			}
			until := now.Add(s.opts.MonitoringProbation)
			p.ProbationUntil = &until
			p.ProbationBaseline = ticket.Signals
			if err := tx.SaveProfile(ctx, p); err != nil {
				return fmt.Errorf("save profile: %w", err)
			}

		case domain.ResolutionFalsePositive:
			p, err := s.profileOrNew(ctx, tx, ticket.UserID, ticket)
			if err != nil {
				return err
			}
			if p.EscalationCount >= s.opts.RecyclingLimit && !overrideApproved(ticket, req) {
				blocked = &domain.RiskEvent{
					UserID:   ticket.UserID,
					Type:     domain.EventEscalationRecyclingBlocked,
					Severity: domain.SeverityHigh,
					Metadata: map[string]any{
						"ticketId":        ticket.ID,
						"adminId":         req.AdminID,
						"escalationCount": p.EscalationCount,
					},
				}
				return errRecyclingBlocked
			}
			until := now.Add(s.opts.FalsePositiveProbation)
			p.Tier = domain.TierGreen
			p.URS = FalsePositiveURS
			p.WhitelistedUntil = nil
			p.ProbationUntil = &until
			p.ProbationBaseline = p.Signals
			p.EscalationCount++
			if err := tx.SaveProfile(ctx, p); err != nil {
				return fmt.Errorf("save profile: %w", err)
			}
			if _, err := tx.RestoreAccount(ctx, ticket.UserID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("restore account: %w", err)
			}
		}

		ticket.Status = domain.TicketResolved
		ticket.Resolution = req.Resolution
		ticket.ReviewerID = req.AdminID
		ticket.ResolvedAt = &now
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		resolved = ticket

		return tx.AppendEvent(ctx, &domain.RiskEvent{
			UserID:   ticket.UserID,
			Type:     domain.EventTicketResolved,
			Severity: domain.SeverityMedium,
			Metadata: map[string]any{
				"ticketId":   ticket.ID,
				"resolution": string(req.Resolution),
				"adminId":    req.AdminID,
			},
		})
	})

	if errors.Is(err, errRecyclingBlocked) {
		metrics.Escalations.WithLabelValues("recycling_blocked").Inc()
		if err := s.repo.AppendEvent(ctx, blocked); err != nil {
			slog.Error("failed to record recycling block",
				"user_id", blocked.UserID,
				"error", err,
			)
		}
		return nil, fmt.Errorf("%w: user has %v previous escalations, a second admin override is required",
			domain.ErrStateConflict, blocked.Metadata["escalationCount"])
	}
	if err != nil {
		return nil, err
	}

	metrics.Escalations.WithLabelValues("resolved_" + string(req.Resolution)).Inc()
	slog.Info("ticket resolved",
		"ticket_id", resolved.ID,
		"user_id", resolved.UserID,
		"resolution", string(req.Resolution),
		"admin_id", req.AdminID,
	)
	return resolved, nil
}

// overrideApproved requires both the request flag and a recorded approval
// from an admin other than the resolver.
func overrideApproved(t *domain.Ticket, req ResolveRequest) bool {
	return req.DualAdminOverride && t.OverrideAdminID != "" && t.OverrideAdminID != req.AdminID
}

// Claim moves an OPEN ticket into review by adminID.
func (s *Service) Claim(ctx context.Context, ticketID, adminID string) (*domain.Ticket, error) {
	if ticketID == "" || adminID == "" {
		return nil, fmt.Errorf("%w: ticketId and adminId are required", domain.ErrValidation)
	}

	var claimed *domain.Ticket
	err := s.repo.WithTx(ctx, func(tx domain.Repository) error {
		ticket, err := s.activeTicket(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if ticket.Status != domain.TicketOpen {
			return fmt.Errorf("%w: ticket %s is already %s by %s", domain.ErrStateConflict, ticket.ID, ticket.Status, ticket.ReviewerID)
		}
		ticket.Status = domain.TicketInReview
		ticket.ReviewerID = adminID
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		claimed = ticket
		return tx.AppendAudit(ctx, &domain.AuditEntry{
			AdminID:  adminID,
			Action:   AuditTicketClaimed,
			TargetID: ticket.UserID,
			Reason:   "Ticket " + ticket.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RecordOverride stores adminID as the second approval for a false positive
// resolution.
func (s *Service) RecordOverride(ctx context.Context, ticketID, adminID string) (*domain.Ticket, error) {
	if ticketID == "" || adminID == "" {
		return nil, fmt.Errorf("%w: ticketId and adminId are required", domain.ErrValidation)
	}

	var updated *domain.Ticket
	err := s.repo.WithTx(ctx, func(tx domain.Repository) error {
		ticket, err := s.activeTicket(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		ticket.OverrideAdminID = adminID
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		updated = ticket
		return tx.AppendAudit(ctx, &domain.AuditEntry{
			AdminID:  adminID,
			Action:   AuditOverrideRecorded,
			TargetID: ticket.UserID,
			Reason:   "Ticket " + ticket.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Whitelist grants userID a temporary GREEN override. A zero duration uses
// the configured default.
func (s *Service) Whitelist(ctx context.Context, userID, adminID string, duration time.Duration, reason string) (*domain.RiskProfile, error) {
	if userID == "" || adminID == "" {
		return nil, fmt.Errorf("%w: userId and adminId are required", domain.ErrValidation)
	}
	if duration < 0 {
		return nil, fmt.Errorf("%w: negative whitelist duration", domain.ErrValidation)
	}
	if duration == 0 {
		duration = s.opts.WhitelistDuration
	}

	var profile *domain.RiskProfile
	err := s.repo.WithTx(ctx, func(tx domain.Repository) error {
		p, err := s.profileOrNew(ctx, tx, userID, nil)
		if err != nil {
			return err
		}
		until := s.now().UTC().Add(duration)
		p.WhitelistedUntil = &until
		if err := tx.SaveProfile(ctx, p); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		profile = p

		if err := tx.AppendEvent(ctx, &domain.RiskEvent{
			UserID:   userID,
			Type:     domain.EventWhitelistGranted,
			Severity: domain.SeverityMedium,
			Metadata: map[string]any{
				"adminId":          adminID,
				"whitelistedUntil": until.Format(time.RFC3339),
			},
		}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &domain.AuditEntry{
			AdminID:  adminID,
			Action:   AuditWhitelistGranted,
			TargetID: userID,
			Reason:   reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *Service) activeTicket(ctx context.Context, tx domain.Repository, ticketID string) (*domain.Ticket, error) {
	ticket, err := tx.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.Active() {
		return nil, fmt.Errorf("%w: ticket %s is already resolved", domain.ErrStateConflict, ticket.ID)
	}
	return ticket, nil
}

// profileOrNew loads a user's profile, seeding a missing one from the ticket.
func (s *Service) profileOrNew(ctx context.Context, tx domain.Repository, userID string, from *domain.Ticket) (*domain.RiskProfile, error) {
	p, err := tx.GetProfile(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p = &domain.RiskProfile{UserID: userID, Tier: domain.TierGreen, ComputedAt: s.now().UTC()}
	if from != nil {
		p.URS = from.URS
		p.Tier = from.RiskTier
		p.Signals = from.Signals
	}
	return p, nil
}
