package domain

import (
	"fmt"
	"time"
)

// Tier is the enforcement bucket derived from a user's risk score.
type Tier uint8

const (
	TierGreen Tier = iota
	TierYellow
	TierOrange
	TierRed
	TierBlack

	// TierCount is the number of tiers; it sizes the feature matrix.
	TierCount
)

var tierNames = [TierCount]string{"GREEN", "YELLOW", "ORANGE", "RED", "BLACK"}

func (t Tier) String() string {
	if t >= TierCount {
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
	return tierNames[t]
}

// Valid reports whether t is one of the five tiers.
func (t Tier) Valid() bool { return t < TierCount }

// ParseTier converts a stored or wire name back into a Tier.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if name == s {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown tier %q", ErrValidation, s)
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: invalid tier %d", ErrValidation, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Category groups signals for the weighted composite.
type Category string

const (
	CategoryBehavior    Category = "BEHAVIOR"
	CategoryTransaction Category = "TRANSACTION"
	CategoryNetwork     Category = "NETWORK"
	CategoryHistory     Category = "HISTORY"
)

// Categories lists every category in scoring order.
var Categories = []Category{CategoryBehavior, CategoryTransaction, CategoryNetwork, CategoryHistory}

// Severity of a risk event.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Risk event types written by the engine or accepted from the marketplace.
const (
	EventTierChange                 = "TIER_CHANGE"
	EventEscalationCreated          = "ESCALATION_CREATED"
	EventAutoSuspended              = "AUTO_SUSPENDED"
	EventTicketResolved             = "TICKET_RESOLVED"
	EventEscalationRecyclingBlocked = "ESCALATION_RECYCLING_BLOCKED"
	EventWhitelistGranted           = "WHITELIST_GRANTED"
	EventProbationBreach            = "PROBATION_BREACH"
	EventSybilRegistrationCheck     = "SYBIL_REGISTRATION_CHECK"
	EventSybilDetected              = "SYBIL_DETECTED"
	EventBehavioralAnomaly          = "BEHAVIORAL_ANOMALY"
	EventVelocityWarn               = "VELOCITY_WARN"
	EventVelocityThrottle           = "VELOCITY_THROTTLE"
	EventVelocityBlock              = "VELOCITY_BLOCK"
	EventUserReported               = "USER_REPORTED"
	EventInsufficientTokens         = "INSUFFICIENT_TOKENS"
)

// SignalValue is one signal's state inside a profile snapshot.
type SignalValue struct {
	Value        float64 `json:"value"`
	Fired        bool    `json:"fired"`
	Contribution float64 `json:"contribution"`
}

// Snapshot maps signal id to its evaluated state.
type Snapshot map[string]SignalValue

// Fired returns the ids of fired signals.
func (s Snapshot) Fired() []string {
	var ids []string
	for id, v := range s {
		if v.Fired {
			ids = append(ids, id)
		}
	}
	return ids
}

// RiskProfile is the persisted per-user risk state.
type RiskProfile struct {
	UserID            string     `json:"userId"`
	URS               int        `json:"urs"`
	Tier              Tier       `json:"tier"`
	BehaviorScore     float64    `json:"behaviorScore"`
	TransactionScore  float64    `json:"transactionScore"`
	NetworkScore      float64    `json:"networkScore"`
	HistoryScore      float64    `json:"historyScore"`
	Signals           Snapshot   `json:"signals"`
	WhitelistedUntil  *time.Time `json:"whitelistedUntil,omitempty"`
	ProbationUntil    *time.Time `json:"probationUntil,omitempty"`
	ProbationBaseline Snapshot   `json:"probationBaseline,omitempty"`
	EscalationCount   int        `json:"escalationCount"`
	ComputedAt        time.Time  `json:"computedAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Whitelisted reports whether an admin whitelist is still in force at now.
func (p *RiskProfile) Whitelisted(now time.Time) bool {
	return p.WhitelistedUntil != nil && p.WhitelistedUntil.After(now)
}

// OnProbation reports whether a probation window is still open at now.
func (p *RiskProfile) OnProbation(now time.Time) bool {
	return p.ProbationUntil != nil && p.ProbationUntil.After(now)
}

// EffectiveTier is the tier enforcement should apply at now.
func (p *RiskProfile) EffectiveTier(now time.Time) Tier {
	if p.Whitelisted(now) {
		return TierGreen
	}
	return p.Tier
}

// RiskEvent is an append-only audit record.
type RiskEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Type      string         `json:"eventType"`
	Severity  Severity       `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
