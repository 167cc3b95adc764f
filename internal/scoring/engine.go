// Package scoring computes the Unified Risk Score and persists risk profiles.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/signals"
	"github.com/opensource-finance/harrier/internal/tier"
)

var tracer = otel.Tracer("harrier-scoring")

// Score adjustments applied after the weighted composite.
const (
	identityBonus   = -15.0
	reputationBonus = -10.0

	reputationMinTrips  = 10
	reputationMinRating = 4.0
)

// Result is the outcome of scoring one user.
type Result struct {
	Profile      *domain.RiskProfile
	PreviousTier *domain.Tier
	TierChanged  bool

	// Whitelisted is set when scoring was skipped and Profile is the stored one.
	Whitelisted bool
}

// Options tune an Engine. Zero values use the defaults.
type Options struct {
	UserTimeout      time.Duration
	BatchConcurrency int
	ObservationTTL   time.Duration
	Thresholds       tier.Thresholds
}

// Engine scores users from stored facts and observations.
type Engine struct {
	repo       domain.Repository
	catalog    *signals.Catalog
	rules      *rules.Engine
	thresholds tier.Thresholds
	timeout    time.Duration
	workers    int
	obsTTL     time.Duration
	now        func() time.Time
}

// NewEngine builds an engine, compiling every catalog expression. A nil
// catalog uses signals.DefaultCatalog.
func NewEngine(repo domain.Repository, catalog *signals.Catalog, opts Options) (*Engine, error) {
	if catalog == nil {
		catalog = signals.DefaultCatalog()
	}
	if opts.UserTimeout <= 0 {
		opts.UserTimeout = 5 * time.Second
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 8
	}
	if opts.ObservationTTL <= 0 {
		opts.ObservationTTL = 7 * 24 * time.Hour
	}
	if opts.Thresholds == (tier.Thresholds{}) {
		opts.Thresholds = tier.DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}

	re, err := rules.NewEngine(signals.DisposableEmailDomains, 0)
	if err != nil {
		return nil, err
	}
	var exprs []rules.Expression
	for _, d := range catalog.Definitions() {
		if d.Expr != "" {
			exprs = append(exprs, rules.Expression{ID: d.ID, Source: d.Expr})
		}
	}
	if err := re.Reload(exprs); err != nil {
		return nil, fmt.Errorf("compile signal expressions: %w", err)
	}

	return &Engine{
		repo:       repo,
		catalog:    catalog,
		rules:      re,
		thresholds: opts.Thresholds,
		timeout:    opts.UserTimeout,
		workers:    opts.BatchConcurrency,
		obsTTL:     opts.ObservationTTL,
		now:        time.Now,
	}, nil
}

// Catalog returns the signal catalog in use.
func (e *Engine) Catalog() *signals.Catalog { return e.catalog }

// Score recomputes one user's profile within the per-user timeout.
func (e *Engine) Score(ctx context.Context, userID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "scoring.Score",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	start := time.Now()
	res, err := e.score(ctx, userID)
	metrics.ScoringDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.ScoringRuns.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Whitelisted:
		metrics.ScoringRuns.WithLabelValues("whitelisted").Inc()
	default:
		metrics.ScoringRuns.WithLabelValues("scored").Inc()
		span.SetAttributes(
			attribute.Int("risk.urs", res.Profile.URS),
			attribute.String("risk.tier", res.Profile.Tier.String()),
		)
	}
	return res, err
}

func (e *Engine) score(ctx context.Context, userID string) (*Result, error) {
	now := e.now().UTC()

	acct, err := e.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	prev, err := e.repo.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if prev != nil && prev.Whitelisted(now) {
		return &Result{Profile: prev, Whitelisted: true}, nil
	}

	values, err := e.observe(ctx, acct, now)
	if err != nil {
		return nil, err
	}

	scores, snap := e.catalog.Score(values)
	urs := e.catalog.Composite(scores)
	if acct.IdentityVerified {
		urs += identityBonus
	}
	if acct.CompletedTrips > reputationMinTrips && acct.AvgRating > reputationMinRating {
		urs += reputationBonus
	}
	final := clamp(int(math.Round(urs)))

	p := &domain.RiskProfile{
		UserID:           userID,
		URS:              final,
		Tier:             tier.Of(final),
		BehaviorScore:    scores[domain.CategoryBehavior],
		TransactionScore: scores[domain.CategoryTransaction],
		NetworkScore:     scores[domain.CategoryNetwork],
		HistoryScore:     scores[domain.CategoryHistory],
		Signals:          snap,
		ComputedAt:       now,
		UpdatedAt:        now,
	}

	res := &Result{Profile: p}
	if prev != nil {
		p.WhitelistedUntil = prev.WhitelistedUntil
		p.ProbationUntil = prev.ProbationUntil
		p.ProbationBaseline = prev.ProbationBaseline
		p.EscalationCount = prev.EscalationCount

		prevTier := prev.Tier
		res.PreviousTier = &prevTier
		res.TierChanged = prevTier != p.Tier
	}

	err = e.repo.WithTx(ctx, func(tx domain.Repository) error {
		if err := tx.SaveScore(ctx, p); err != nil {
			return fmt.Errorf("save score: %w", err)
		}
		if res.TierChanged {
			if err := tx.AppendEvent(ctx, &domain.RiskEvent{
				UserID:   userID,
				Type:     domain.EventTierChange,
				Severity: e.thresholds.Severity(final),
				Metadata: map[string]any{
					"previousTier": prev.Tier.String(),
					"newTier":      p.Tier.String(),
					"urs":          final,
				},
				CreatedAt: now,
			}); err != nil {
				return fmt.Errorf("append tier change: %w", err)
			}
		}
		if prev != nil && prev.OnProbation(now) {
			if breached := newlyFired(snap, prev.ProbationBaseline); len(breached) > 0 {
				if err := tx.AppendEvent(ctx, &domain.RiskEvent{
					UserID:   userID,
					Type:     domain.EventProbationBreach,
					Severity: domain.SeverityHigh,
					Metadata: map[string]any{
						"signals":        breached,
						"urs":            final,
						"probationUntil": prev.ProbationUntil.Format(time.RFC3339),
					},
					CreatedAt: now,
				}); err != nil {
					return fmt.Errorf("append probation breach: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.TierChanged {
		metrics.TierChanges.WithLabelValues(p.Tier.String()).Inc()
		slog.Info("risk tier changed",
			"user_id", userID,
			"previous_tier", prev.Tier.String(),
			"tier", p.Tier.String(),
			"urs", final,
		)
	}
	return res, nil
}

// observe produces every signal's observed value: expression signals from
// collected facts, the rest from recent client observations.
func (e *Engine) observe(ctx context.Context, acct *domain.Account, now time.Time) (map[string]float64, error) {
	facts, err := CollectFacts(ctx, e.repo, acct, now)
	if err != nil {
		return nil, err
	}

	values, evalErrs := e.rules.Evaluate(ctx, facts)
	for _, err := range evalErrs {
		slog.Warn("signal expression failed",
			"user_id", acct.UserID,
			"error", err,
		)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	obs, err := e.repo.ListObservations(ctx, acct.UserID, now.Add(-e.obsTTL))
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	for _, o := range obs {
		d, ok := e.catalog.Lookup(o.SignalID)
		if !ok || d.Expr != "" {
			continue
		}
		values[o.SignalID] = o.Value
	}
	return values, nil
}

// BatchResult reports one user of a batch.
type BatchResult struct {
	UserID string
	Result *Result
	Err    error
}

// ScoreBatch scores users with bounded concurrency, each under its own timeout.
func (e *Engine) ScoreBatch(ctx context.Context, userIDs []string) []BatchResult {
	out := make([]BatchResult, len(userIDs))
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for i, id := range userIDs {
		wg.Add(1)
		go func(idx int, userID string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			out[idx].UserID = userID
			if err := ctx.Err(); err != nil {
				out[idx].Err = err
				return
			}
			out[idx].Result, out[idx].Err = e.Score(ctx, userID)
		}(i, id)
	}

	wg.Wait()
	return out
}

// Close releases the observation engine.
func (e *Engine) Close() error {
	return e.rules.Close()
}

func newlyFired(now, baseline domain.Snapshot) []string {
	var ids []string
	for id, v := range now {
		if v.Fired && !baseline[id].Fired {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func clamp(urs int) int {
	return min(max(urs, 0), 100)
}
