package detect

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/signals"
)

// Decision is the outcome of a registration check.
type Decision string

const (
	DecisionPass      Decision = "PASS"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionBlock     Decision = "BLOCK"
)

// Registration scoring constants.
const (
	sharedIPScore        = 25
	sharedDeviceScore    = 35
	disposableEmailScore = 15
	phoneMismatchScore   = 10
	phoneReuseScore      = 50

	behaviorFactor = 0.7

	BlockScore     = 50
	ChallengeScore = 25

	// RegistrationSubject is the userId recorded on pre-account events.
	RegistrationSubject = "REGISTRATION_ATTEMPT"

	// FingerprintDedupe suppresses repeated sightings of the same device and IP.
	FingerprintDedupe = time.Hour

	// DefaultHomePhonePrefix is the country prefix treated as local.
	DefaultHomePhonePrefix = "+90"
)

// RegistrationRequest is one registration attempt.
type RegistrationRequest struct {
	Fingerprint string                `json:"fingerprint"`
	IPAddress   string                `json:"ipAddress" validate:"required,ip"`
	Phone       string                `json:"phone,omitempty"`
	Email       string                `json:"email" validate:"required,email"`
	Behavior    *RegistrationBehavior `json:"behavior,omitempty" validate:"-"`
}

// RegistrationSignals records which infrastructure signals fired.
type RegistrationSignals struct {
	SharedIP        bool `json:"sharedIP"`
	SharedDevice    bool `json:"sharedDevice"`
	DisposableEmail bool `json:"disposableEmail"`
	PhoneMismatch   bool `json:"phoneMismatch"`
	PhoneReuse      bool `json:"phoneReuse"`
}

// RegistrationResult is returned to the registration flow.
type RegistrationResult struct {
	Decision        Decision            `json:"decision"`
	Score           int                 `json:"score"`
	Signals         RegistrationSignals `json:"signals"`
	BehaviorPenalty int                 `json:"behaviorPenalty"`
}

// RegistrationStore is what the registration checker reads and writes.
type RegistrationStore interface {
	CountUsersOnIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountUsersOnFingerprint(ctx context.Context, fingerprint string, since time.Time) (int, error)
	PhoneOnSuspendedAccount(ctx context.Context, phone string) (bool, error)
	AppendEvent(ctx context.Context, e *domain.RiskEvent) error
}

// RegistrationChecker runs the fast, indexed sybil checks at sign-up.
type RegistrationChecker struct {
	store      RegistrationStore
	homePrefix string
	now        func() time.Time
}

// NewRegistrationChecker creates a checker. An empty homePrefix uses +90.
func NewRegistrationChecker(store RegistrationStore, homePrefix string) *RegistrationChecker {
	if homePrefix == "" {
		homePrefix = DefaultHomePhonePrefix
	}
	return &RegistrationChecker{store: store, homePrefix: homePrefix, now: time.Now}
}

// Check scores a registration attempt. Invalid behavior telemetry is ignored.
func (c *RegistrationChecker) Check(ctx context.Context, req *RegistrationRequest) (*RegistrationResult, error) {
	now := c.now()

	ipUsers, err := c.store.CountUsersOnIP(ctx, req.IPAddress, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count users on ip: %w", err)
	}

	var deviceUsers int
	if req.Fingerprint != "" {
		deviceUsers, err = c.store.CountUsersOnFingerprint(ctx, req.Fingerprint, now.Add(-24*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("count users on fingerprint: %w", err)
		}
	}

	var phoneReuse bool
	if req.Phone != "" {
		phoneReuse, err = c.store.PhoneOnSuspendedAccount(ctx, req.Phone)
		if err != nil {
			return nil, fmt.Errorf("check phone reuse: %w", err)
		}
	}

	res := &RegistrationResult{
		Signals: RegistrationSignals{
			SharedIP:        ipUsers > 2,
			SharedDevice:    deviceUsers > 0,
			DisposableEmail: signals.IsDisposableEmail(req.Email),
			PhoneMismatch:   req.Phone != "" && !strings.HasPrefix(req.Phone, c.homePrefix),
			PhoneReuse:      phoneReuse,
		},
	}

	score := 0
	if res.Signals.SharedIP {
		score += sharedIPScore
	}
	if res.Signals.SharedDevice {
		score += sharedDeviceScore
	}
	if res.Signals.DisposableEmail {
		score += disposableEmailScore
	}
	if res.Signals.PhoneMismatch {
		score += phoneMismatchScore
	}
	if res.Signals.PhoneReuse {
		score += phoneReuseScore
	}

	if req.Behavior != nil && req.Behavior.Validate() == nil {
		res.BehaviorPenalty = int(math.Round(float64(EntropyScore(req.Behavior)) * behaviorFactor))
		score += res.BehaviorPenalty
	}

	res.Score = score
	switch {
	case score >= BlockScore:
		res.Decision = DecisionBlock
	case score >= ChallengeScore:
		res.Decision = DecisionChallenge
	default:
		res.Decision = DecisionPass
	}

	if score >= ChallengeScore {
		c.record(ctx, req, res)
	}
	return res, nil
}

// record logs a risky attempt. Failures never affect the decision.
func (c *RegistrationChecker) record(ctx context.Context, req *RegistrationRequest, res *RegistrationResult) {
	severity := domain.SeverityMedium
	if res.Score >= BlockScore {
		severity = domain.SeverityHigh
	}

	err := c.store.AppendEvent(ctx, &domain.RiskEvent{
		UserID:   RegistrationSubject,
		Type:     domain.EventSybilRegistrationCheck,
		Severity: severity,
		Metadata: map[string]any{
			"signals":   res.Signals,
			"score":     res.Score,
			"decision":  res.Decision,
			"email":     MaskEmail(req.Email),
			"ipAddress": req.IPAddress,
		},
	})
	if err != nil {
		slog.Warn("failed to record registration check",
			"error", err,
			"decision", res.Decision,
		)
	}
}

// MaskEmail keeps the first three characters of an address.
func MaskEmail(email string) string {
	r := []rune(email)
	if len(r) > 3 {
		r = r[:3]
	}
	return string(r) + "***"
}
