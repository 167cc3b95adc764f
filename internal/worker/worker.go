// Package worker runs the asynchronous risk pipeline: bus handlers that score,
// escalate and audit, and the periodic maintenance jobs.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/escalation"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// Scorer recomputes one user's profile.
type Scorer interface {
	Score(ctx context.Context, userID string) (*scoring.Result, error)
}

// Escalator runs the escalation step for a scored user.
type Escalator interface {
	Escalate(ctx context.Context, in escalation.Input) (*domain.EscalationOutcome, error)
}

// CadenceChecker looks for scripted first-day activity before scoring.
type CadenceChecker interface {
	Check(ctx context.Context, userID string) (detect.Cadence, error)
}

// EventAppender writes risk events.
type EventAppender interface {
	AppendEvent(ctx context.Context, e *domain.RiskEvent) error
}

// Worker subscribes the pipeline handlers to the bus.
type Worker struct {
	bus       domain.EventBus
	scorer    Scorer
	escalator Escalator
	cadence   CadenceChecker
	events    EventAppender

	mu            sync.Mutex
	subscriptions []domain.Subscription
}

// NewWorker creates a worker. cadence may be nil.
func NewWorker(bus domain.EventBus, scorer Scorer, escalator Escalator, cadence CadenceChecker, events EventAppender) *Worker {
	return &Worker{
		bus:       bus,
		scorer:    scorer,
		escalator: escalator,
		cadence:   cadence,
		events:    events,
	}
}

// Start subscribes every handler on its own subscription.
func (w *Worker) Start(ctx context.Context) error {
	handlers := []struct {
		topic   string
		handler domain.MessageHandler
	}{
		{domain.TopicScoreRequested, w.handleScoreRequested},
		{domain.TopicScoreComputed, w.handleScoreComputed},
		{domain.TopicVelocityExceeded, w.handleVelocityExceeded},
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		sub, err := w.bus.Subscribe(ctx, h.topic, h.handler)
		if err != nil {
			w.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", h.topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("workers started", "subscription_count", len(w.subscriptions))
	return nil
}

// Stop unsubscribes every handler.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unsubscribeLocked()
	slog.Info("workers stopped")
	return nil
}

func (w *Worker) unsubscribeLocked() {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
}

// Serve implements suture.Service.
func (w *Worker) Serve(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	if err := w.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

func (w *Worker) String() string { return "risk-worker" }

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{SubscriptionCount: len(w.subscriptions), Topics: topics}
}

func (w *Worker) handleScoreRequested(ctx context.Context, msg *domain.Message) error {
	var req domain.ScoreRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("decode score request: %w", err)
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: score request without userId", domain.ErrValidation)
	}
	start := time.Now()

	if w.cadence != nil {
		if _, err := w.cadence.Check(ctx, req.UserID); err != nil {
			slog.Warn("cadence check failed",
				"user_id", req.UserID,
				"error", err,
			)
		}
	}

	res, err := w.scorer.Score(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("score %s: %w", req.UserID, err)
	}
	if err := PublishScore(ctx, w.bus, res); err != nil {
		return err
	}

	slog.Info("user scored",
		"user_id", req.UserID,
		"reason", req.Reason,
		"urs", res.Profile.URS,
		"tier", res.Profile.Tier.String(),
		"tier_changed", res.TierChanged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) handleScoreComputed(ctx context.Context, msg *domain.Message) error {
	var sc domain.ScoreComputed
	if err := json.Unmarshal(msg.Payload, &sc); err != nil {
		return fmt.Errorf("decode score computed: %w", err)
	}
	if sc.Profile == nil || sc.Whitelisted {
		return nil
	}

	p := sc.Profile
	out, err := w.escalator.Escalate(ctx, escalation.Input{
		UserID:        p.UserID,
		Tier:          p.Tier,
		URS:           p.URS,
		TriggerReason: fmt.Sprintf("urs=%d tier=%s", p.URS, p.Tier),
		Signals:       p.Signals,
	})
	if err != nil {
		return fmt.Errorf("escalate %s: %w", p.UserID, err)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return w.bus.Publish(ctx, domain.TopicEscalationOutcome, payload)
}

// velocityEvents maps each response to its audit event. PASS has none.
var velocityEvents = [domain.VelocityResponseCount]struct {
	eventType string
	severity  domain.Severity
}{
	domain.VelocityWarn:     {domain.EventVelocityWarn, domain.SeverityLow},
	domain.VelocityThrottle: {domain.EventVelocityThrottle, domain.SeverityLow},
	domain.VelocityBlock:    {domain.EventVelocityBlock, domain.SeverityMedium},
}

func (w *Worker) handleVelocityExceeded(ctx context.Context, msg *domain.Message) error {
	var v domain.VelocityExceeded
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return fmt.Errorf("decode velocity event: %w", err)
	}
	if v.Response >= domain.VelocityResponseCount {
		return fmt.Errorf("%w: unknown velocity response %s", domain.ErrValidation, v.Response)
	}
	kind := velocityEvents[v.Response]
	if kind.eventType == "" {
		return nil
	}

	return w.events.AppendEvent(ctx, &domain.RiskEvent{
		UserID:   v.UserID,
		Type:     kind.eventType,
		Severity: kind.severity,
		Metadata: map[string]any{
			"action":        v.Action.String(),
			"count":         v.Count,
			"limit":         v.Limit,
			"windowSeconds": v.WindowSeconds,
		},
	})
}

// PublishScore announces a scoring result on the score.computed topic.
func PublishScore(ctx context.Context, bus domain.EventBus, res *scoring.Result) error {
	payload, err := json.Marshal(domain.ScoreComputed{
		Profile:      res.Profile,
		PreviousTier: res.PreviousTier,
		TierChanged:  res.TierChanged,
		Whitelisted:  res.Whitelisted,
	})
	if err != nil {
		return fmt.Errorf("encode score computed: %w", err)
	}
	return bus.Publish(ctx, domain.TopicScoreComputed, payload)
}
