// Package enforcement answers, on the request path, whether a user may use a
// gated feature right now.
package enforcement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/tier"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// failOpen lists the features that stay usable under the RED gate when the
// profile store cannot be read.
var failOpen = [domain.FeatureCount]bool{
	domain.FeatureSendMessage:   true,
	domain.FeatureIdentityApply: true,
}

// degradedTier is the tier applied to fail-open features.
const degradedTier = domain.TierRed

// Decision is the result of an enforcement check.
type Decision struct {
	Allowed           bool             `json:"allowed"`
	Feature           domain.Feature   `json:"feature"`
	Tier              *domain.Tier     `json:"tier,omitempty"` // nil when the profile could not be read
	DailyLimit        int              `json:"dailyLimit,omitempty"`
	RequiresApproval  bool             `json:"requiresApproval,omitempty"`
	DenyCode          tier.Reason      `json:"denyCode,omitempty"`
	DenyReason        string           `json:"denyReason,omitempty"`
	RetryAfterSeconds int64            `json:"retryAfterSeconds,omitempty"`
	Velocity          *velocity.Result `json:"velocity,omitempty"`
	Degraded          bool             `json:"degraded,omitempty"`
}

// Err maps a denial to its sentinel error. Allowed decisions return nil.
func (d *Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.DenyCode {
	case tier.ReasonVelocityLimit:
		return domain.ErrVelocityExceeded
	case tier.ReasonServiceUnavailable:
		return domain.ErrUnavailable
	default:
		return domain.ErrInsufficientTrust
	}
}

// Localize fills DenyReason in lang.
func (d *Decision) Localize(lang string) {
	if d.DenyCode != "" {
		d.DenyReason = tier.Localize(d.DenyCode, lang)
	}
}

// ProfileReader is the single indexed read the gate performs.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*domain.RiskProfile, error)
}

// VelocityChecker records and evaluates one action.
type VelocityChecker interface {
	Check(ctx context.Context, subject string, action domain.Action) (velocity.Result, error)
}

// Publisher is the bus side the gate uses for velocity events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Config tunes the profile read breaker.
type Config struct {
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Gate is the enforcement gate.
type Gate struct {
	profiles ProfileReader
	velocity VelocityChecker
	bus      Publisher
	breaker  *gobreaker.CircuitBreaker[*domain.RiskProfile]
	now      func() time.Time
}

// NewGate creates a gate. velocity and bus may be nil.
func NewGate(profiles ProfileReader, v VelocityChecker, bus Publisher, cfg Config) *Gate {
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	g := &Gate{profiles: profiles, velocity: v, bus: bus, now: time.Now}
	g.breaker = gobreaker.NewCircuitBreaker[*domain.RiskProfile](gobreaker.Settings{
		Name:    "profile-store",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return g
}

// Check decides whether userID may use feature. A non-zero action is also
// recorded and evaluated against its velocity rules.
func (g *Gate) Check(ctx context.Context, userID string, feature domain.Feature, action domain.Action) (*Decision, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if feature >= domain.FeatureCount {
		return nil, fmt.Errorf("%w: unknown feature %d", domain.ErrValidation, feature)
	}

	d := g.check(ctx, userID, feature, action)
	metrics.GateDecisions.WithLabelValues(feature.String(), outcome(d)).Inc()
	return d, nil
}

func (g *Gate) check(ctx context.Context, userID string, feature domain.Feature, action domain.Action) *Decision {
	t, err := g.effectiveTier(ctx, userID)
	degraded := false
	if err != nil {
		slog.Error("profile read failed",
			"user_id", userID,
			"feature", feature.String(),
			"error", err,
		)
		if !failOpen[feature] {
			return unavailable(feature, nil)
		}
		t, degraded = degradedTier, true
	}

	gate := tier.For(t, feature)
	d := &Decision{
		Allowed:          gate.Allowed,
		Feature:          feature,
		Tier:             &t,
		DailyLimit:       gate.DailyLimit,
		RequiresApproval: gate.RequiresApproval,
		Degraded:         degraded,
	}
	if !gate.Allowed {
		d.DenyCode = gate.Reason
		return d
	}

	if action == domain.ActionNone || g.velocity == nil {
		return d
	}

	res, err := g.velocity.Check(ctx, userID, action)
	if err != nil {
		slog.Error("velocity check failed",
			"user_id", userID,
			"action", action.String(),
			"error", err,
		)
		if !failOpen[feature] {
			return unavailable(feature, d.Tier)
		}
		d.Degraded = true
		return d
	}

	d.Velocity = &res
	metrics.VelocityResponses.WithLabelValues(action.String(), res.Response.String()).Inc()
	if res.Response != velocity.ResponsePass {
		g.publishExceeded(ctx, userID, res)
	}

	switch res.Response {
	case velocity.ResponseBlock:
		d.Allowed = false
		d.DenyCode = tier.ReasonVelocityLimit
		d.RetryAfterSeconds = res.RetryAfterSeconds
	case velocity.ResponseThrottle:
		slog.Warn("velocity throttle",
			"user_id", userID,
			"action", action.String(),
			"count", res.Count,
			"limit", res.Limit,
		)
	}
	return d
}

// Tier returns the effective tier for display. Missing profiles are GREEN.
func (g *Gate) Tier(ctx context.Context, userID string) (domain.Tier, error) {
	if userID == "" {
		return domain.TierGreen, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	t, err := g.effectiveTier(ctx, userID)
	if err != nil {
		return domain.TierGreen, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return t, nil
}

func (g *Gate) effectiveTier(ctx context.Context, userID string) (domain.Tier, error) {
	p, err := g.breaker.Execute(func() (*domain.RiskProfile, error) {
		return g.profiles.GetProfile(ctx, userID)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TierGreen, nil
	}
	if err != nil {
		return domain.TierGreen, err
	}
	return p.EffectiveTier(g.now()), nil
}

func (g *Gate) publishExceeded(ctx context.Context, userID string, res velocity.Result) {
	if g.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.VelocityExceeded{
		UserID:        userID,
		Action:        res.Action,
		Response:      res.Response,
		Count:         res.Count,
		Limit:         res.Limit,
		WindowSeconds: res.WindowSeconds,
	})
	if err != nil {
		return
	}
	if err := g.bus.Publish(ctx, domain.TopicVelocityExceeded, payload); err != nil {
		slog.Warn("failed to publish velocity event",
			"user_id", userID,
			"error", err,
		)
	}
}

// unavailable fails closed. t is nil when the tier itself is unknown.
func unavailable(feature domain.Feature, t *domain.Tier) *Decision {
	return &Decision{
		Allowed:  false,
		Feature:  feature,
		Tier:     t,
		DenyCode: tier.ReasonServiceUnavailable,
	}
}

func outcome(d *Decision) string {
	switch {
	case d.Allowed && d.Degraded:
		return "degraded"
	case d.Allowed:
		return "allowed"
	case d.DenyCode == tier.ReasonVelocityLimit:
		return "velocity_limit"
	case d.DenyCode == tier.ReasonServiceUnavailable:
		return "unavailable"
	default:
		return "risk_blocked"
	}
}
