package domain

import (
	"context"
)

// EventBus moves pipeline messages between the API, the worker and the
// scheduler. In-process channels back the Community edition, NATS the Pro one.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers every message on topic to handler until the
	// subscription or the bus is closed.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler handles one delivery. A returned error is logged and counted;
// it is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus implementation carries.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live handler registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// Standard topic names for the risk pipeline.
const (
	TopicScoreRequested    = "harrier.score.requested"
	TopicScoreComputed     = "harrier.score.computed"
	TopicVelocityExceeded  = "harrier.velocity.exceeded"
	TopicEscalationOutcome = "harrier.escalation.outcome"
)

// ScoreRequest asks the worker to rescore a user.
type ScoreRequest struct {
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

// ScoreComputed announces a freshly persisted profile.
type ScoreComputed struct {
	Profile      *RiskProfile `json:"profile"`
	PreviousTier *Tier        `json:"previousTier,omitempty"`
	TierChanged  bool         `json:"tierChanged"`
	Whitelisted  bool         `json:"whitelisted"`
}

// VelocityExceeded reports a non-passing velocity check.
type VelocityExceeded struct {
	UserID        string `json:"userId"`
	Action        Action `json:"action"`
	Response      VelocityResponse `json:"response"`
	Count         int64  `json:"count"`
	Limit         int64  `json:"limit"`
	WindowSeconds int64  `json:"windowSeconds"`
}

// EscalationOutcome is published after the escalation step runs.
type EscalationOutcome struct {
	UserID    string `json:"userId"`
	TicketID  string `json:"ticketId,omitempty"`
	Created   bool   `json:"created"`
	Updated   bool   `json:"updated"`
	Suspended bool   `json:"suspended"`
}
