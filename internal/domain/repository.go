// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// ProfileStore persists risk profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*RiskProfile, error)

	// SaveScore upserts only the computed score columns, leaving whitelist,
	// probation and escalation history untouched.
	SaveScore(ctx context.Context, p *RiskProfile) error

	// SaveProfile upserts every column.
	SaveProfile(ctx context.Context, p *RiskProfile) error

	// ListUsersForRescoring returns accounts with no profile or one computed before staleBefore.
	ListUsersForRescoring(ctx context.Context, staleBefore time.Time, limit int) ([]string, error)
}

// EventStore is the append-only risk event log.
type EventStore interface {
	AppendEvent(ctx context.Context, e *RiskEvent) error

	// ListEvents returns a user's events of eventType (all types when empty) since the given time, newest first.
	ListEvents(ctx context.Context, userID, eventType string, since time.Time) ([]*RiskEvent, error)
	CountEvents(ctx context.Context, userID, eventType string, since time.Time) (int, error)

	// PurgeEvents deletes up to batch events of the given severity created before the cutoff.
	PurgeEvents(ctx context.Context, severity Severity, before time.Time, batch int) (int64, error)
}

// TicketStore persists fraud review tickets.
type TicketStore interface {
	CreateTicket(ctx context.Context, t *Ticket) error
	GetTicket(ctx context.Context, ticketID string) (*Ticket, error)
	GetActiveTicket(ctx context.Context, userID string) (*Ticket, error)
	UpdateTicket(ctx context.Context, t *Ticket) error
	ListTickets(ctx context.Context, status TicketStatus, limit int) ([]*Ticket, error)
}

// CounterStore is the durable velocity bucket store.
type CounterStore interface {
	// Increment adds one to the bucket starting at bucket. Buckets may be
	// discarded once older than retention.
	Increment(ctx context.Context, subject string, action Action, bucket time.Time, retention time.Duration) error

	// Sum totals buckets whose start lies in [from, to]; width is the bucket width.
	Sum(ctx context.Context, subject string, action Action, from, to time.Time, width time.Duration) (int64, error)

	// Purge drops buckets older than before.
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// AccountStore reads and updates marketplace accounts.
type AccountStore interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	UpsertAccount(ctx context.Context, a *Account) error

	// SuspendAccount stashes the current role once and sets the suspended role.
	// It reports whether the account was not already suspended.
	SuspendAccount(ctx context.Context, userID string) (bool, error)

	// RestoreAccount puts back the stashed role of a suspended account.
	RestoreAccount(ctx context.Context, userID string) (bool, error)

	// PhoneOnSuspendedAccount reports whether phone belongs to a suspended account.
	PhoneOnSuspendedAccount(ctx context.Context, phone string) (bool, error)
}

// FingerprintStore records and queries device sightings.
type FingerprintStore interface {
	// RecordFingerprint stores a sighting unless the same user, fingerprint and
	// IP were seen within dedupe. It reports whether a row was written.
	RecordFingerprint(ctx context.Context, fp *Fingerprint, dedupe time.Duration) (bool, error)

	CountDistinctFingerprints(ctx context.Context, userID string, since time.Time) (int, error)
	LatestUserAgent(ctx context.Context, userID string) (string, error)
	CountUsersOnIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountUsersOnFingerprint(ctx context.Context, fingerprint string, since time.Time) (int, error)

	// CountSharedIPUsers counts other users seen on any of userID's IPs.
	CountSharedIPUsers(ctx context.Context, userID string, since time.Time) (int, error)

	// CountSharedDeviceUsers counts other users seen with any of userID's fingerprints.
	CountSharedDeviceUsers(ctx context.Context, userID string) (int, error)

	// DeviceGroups maps each fingerprint seen since the cutoff to its distinct users.
	DeviceGroups(ctx context.Context, since time.Time) (map[string][]string, error)

	// IPGroups maps each IP seen since the cutoff to its distinct users.
	IPGroups(ctx context.Context, since time.Time) (map[string][]string, error)
}

// LedgerStore holds token ledger entries pushed by the marketplace.
type LedgerStore interface {
	AppendLedger(ctx context.Context, e *LedgerEntry) error

	// CountLedger counts entries of entryType (all types when empty) since the cutoff.
	CountLedger(ctx context.Context, userID, entryType string, since time.Time) (int, error)
	CountDistinctReferences(ctx context.Context, userID, entryType, reasonCode string, since time.Time) (int, error)

	// LedgerTimes returns up to limit entry timestamps in [from, to], oldest first.
	LedgerTimes(ctx context.Context, userID string, from, to time.Time, limit int) ([]time.Time, error)
}

// ObservationStore keeps the latest client-side signal measurements.
type ObservationStore interface {
	SaveObservation(ctx context.Context, o *Observation) error
	ListObservations(ctx context.Context, userID string, since time.Time) ([]*Observation, error)
}

// AuditStore is the immutable admin action log.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, targetID string) ([]*AuditEntry, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	ProfileStore
	EventStore
	TicketStore
	CounterStore
	AccountStore
	FingerprintStore
	LedgerStore
	ObservationStore
	AuditStore

	// WithTx runs fn against a repository bound to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}
