package domain

import "time"

// TicketStatus is the lifecycle state of a fraud review ticket.
type TicketStatus string

const (
	TicketOpen     TicketStatus = "OPEN"
	TicketInReview TicketStatus = "IN_REVIEW"
	TicketResolved TicketStatus = "RESOLVED"
)

// Resolution is the human verdict that closes a ticket.
type Resolution string

const (
	ResolutionFalsePositive Resolution = "FALSE_POSITIVE"
	ResolutionConfirmed     Resolution = "CONFIRMED"
	ResolutionMonitoring    Resolution = "MONITORING"
)

// Valid reports whether r is one of the three verdicts.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionFalsePositive, ResolutionConfirmed, ResolutionMonitoring:
		return true
	}
	return false
}

// Ticket queues a high-risk user for human review.
type Ticket struct {
	ID              string       `json:"id"`
	UserID          string       `json:"userId"`
	RiskTier        Tier         `json:"riskTier"`
	URS             int          `json:"ursScore"`
	TriggerReason   string       `json:"triggerReason"`
	Signals         Snapshot     `json:"signals"`
	Status          TicketStatus `json:"status"`
	Resolution      Resolution   `json:"resolution,omitempty"`
	ReviewerID      string       `json:"reviewerId,omitempty"`
	OverrideAdminID string       `json:"overrideAdminId,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	ResolvedAt      *time.Time   `json:"resolvedAt,omitempty"`
}

// Active reports whether the ticket still blocks a new one for the user.
func (t *Ticket) Active() bool { return t.Status != TicketResolved }

// AuditEntry is an immutable record of an admin action.
type AuditEntry struct {
	ID        string    `json:"id"`
	AdminID   string    `json:"adminId"`
	Action    string    `json:"action"`
	TargetID  string    `json:"targetId"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}
