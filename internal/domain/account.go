package domain

import "time"

// RoleSuspended is the role an auto-suspended or confirmed-fraud account holds.
const RoleSuspended = "SUSPENDED"

// Account is the slice of the marketplace account the engine reads and writes.
type Account struct {
	UserID           string    `json:"userId"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone,omitempty"`
	PhoneVerified    bool      `json:"phoneVerified"`
	Role             string    `json:"role"`
	PreviousRole     string    `json:"previousRole,omitempty"`
	IdentityVerified bool      `json:"identityVerified"`
	CompletedTrips   int       `json:"completedTrips"`
	AvgRating        float64   `json:"avgRating"`
	ReviewsGiven     int       `json:"reviewsGiven"`
	ReviewsRemoved   int       `json:"reviewsRemoved"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Suspended reports whether the account currently holds the suspended role.
func (a *Account) Suspended() bool { return a.Role == RoleSuspended }

// Fingerprint is one device sighting for a user.
type Fingerprint struct {
	UserID      string    `json:"userId"`
	Fingerprint string    `json:"fingerprint"`
	IPAddress   string    `json:"ipAddress"`
	UserAgent   string    `json:"userAgent"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Ledger entry types.
const (
	LedgerConsume  = "CONSUME"
	LedgerRefund   = "REFUND"
	LedgerPurchase = "PURCHASE"
)

// LedgerEntry is a token ledger movement pushed by the marketplace.
type LedgerEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	EntryType   string    `json:"entryType"`
	ReasonCode  string    `json:"reasonCode,omitempty"`
	ReferenceID string    `json:"referenceId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Observation is the latest client-measured value for one signal.
type Observation struct {
	UserID     string    `json:"userId"`
	SignalID   string    `json:"signalId"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observedAt"`
}
