// Package velocity counts user actions in sliding windows and answers
// whether an action exceeds its limits.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Result is the outcome of a velocity check.
type Result struct {
	Allowed           bool          `json:"allowed"`
	Action            domain.Action `json:"action"`
	Response          Response      `json:"response"`
	Count             int64         `json:"currentCount"`
	Limit             int64         `json:"limit"`
	WindowSeconds     int64         `json:"windowSeconds"`
	RetryAfterSeconds int64         `json:"retryAfterSeconds,omitempty"`
}

// Service checks actions against velocity rules over a durable counter store.
type Service struct {
	store    domain.CounterStore
	cache    domain.Cache
	cacheTTL time.Duration
	rules    RuleSet
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the advisory windowed-count cache.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithRules overrides the default rule table.
func WithRules(rs RuleSet) Option {
	return func(s *Service) { s.rules = rs }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger used for non-fatal store failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new velocity service.
func NewService(store domain.CounterStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cacheTTL: time.Minute,
		rules:    DefaultRules(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rules returns the rule table in use.
func (s *Service) Rules() *RuleSet { return &s.rules }

// Check records one occurrence of action for subject, then evaluates every
// window. A failed increment is logged and the check continues on the counts
// that are readable.
func (s *Service) Check(ctx context.Context, subject string, action domain.Action) (Result, error) {
	rules := s.rules.For(action)
	if len(rules) == 0 {
		return Result{Allowed: true, Action: action, Response: ResponsePass}, nil
	}

	now := s.now().UTC()
	width := s.rules.BucketWidth(action)
	retention := s.rules.MaxWindow(action) + width

	if err := s.store.Increment(ctx, subject, action, bucketStart(now, width), retention); err != nil {
		s.logger.Warn("velocity increment failed",
			"subject", subject,
			"action", action.String(),
			"error", err,
		)
	}

	for _, r := range rules {
		s.invalidate(ctx, subject, action, r.Window)
	}

	counts := make([]int64, len(rules))
	for i, r := range rules {
		n, err := s.count(ctx, subject, action, r.Window, width, now, false)
		if err != nil {
			return Result{}, err
		}
		counts[i] = n
	}

	return evaluate(action, rules, counts, func(n, max int64) bool { return n > max }), nil
}

// Peek evaluates action for subject without recording it. It answers whether
// one more occurrence would violate a rule.
func (s *Service) Peek(ctx context.Context, subject string, action domain.Action) (Result, error) {
	rules := s.rules.For(action)
	if len(rules) == 0 {
		return Result{Allowed: true, Action: action, Response: ResponsePass}, nil
	}

	now := s.now().UTC()
	width := s.rules.BucketWidth(action)

	counts := make([]int64, len(rules))
	for i, r := range rules {
		n, err := s.count(ctx, subject, action, r.Window, width, now, true)
		if err != nil {
			return Result{}, err
		}
		counts[i] = n
	}

	return evaluate(action, rules, counts, func(n, max int64) bool { return n >= max }), nil
}

// Count returns the occurrences of action for subject within window.
func (s *Service) Count(ctx context.Context, subject string, action domain.Action, window time.Duration) (int64, error) {
	return s.count(ctx, subject, action, window, s.rules.BucketWidth(action), s.now().UTC(), true)
}

// Sweep evicts expired cache entries when the cache holds them until swept.
func (s *Service) Sweep() int {
	if sw, ok := s.cache.(domain.Sweeper); ok {
		return sw.Sweep()
	}
	return 0
}

func evaluate(action domain.Action, rules []Rule, counts []int64, violated func(n, max int64) bool) Result {
	worst := -1
	for i, r := range rules {
		if !violated(counts[i], r.MaxCount) {
			continue
		}
		if worst < 0 || r.Response > rules[worst].Response {
			worst = i
		}
	}

	if worst < 0 {
		// Report the tightest window.
		return Result{
			Allowed:       true,
			Action:        action,
			Response:      ResponsePass,
			Count:         counts[0],
			Limit:         rules[0].MaxCount,
			WindowSeconds: int64(rules[0].Window / time.Second),
		}
	}

	r := rules[worst]
	window := int64(r.Window / time.Second)
	return Result{
		Allowed:           r.Response != ResponseBlock,
		Action:            action,
		Response:          r.Response,
		Count:             counts[worst],
		Limit:             r.MaxCount,
		WindowSeconds:     window,
		RetryAfterSeconds: window,
	}
}

func (s *Service) count(ctx context.Context, subject string, action domain.Action, window, width time.Duration, now time.Time, useCache bool) (int64, error) {
	key := cacheKey(subject, action, window)
	if useCache && s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil && raw != nil {
			if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
				return n, nil
			}
		}
	}

	from := bucketStart(now.Add(-window), width)
	n, err := s.store.Sum(ctx, subject, action, from, now, width)
	if err != nil {
		return 0, fmt.Errorf("velocity count %s/%s: %w", subject, action, err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), s.cacheTTL)
	}
	return n, nil
}

func (s *Service) invalidate(ctx context.Context, subject string, action domain.Action, window time.Duration) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, cacheKey(subject, action, window))
}

func cacheKey(subject string, action domain.Action, window time.Duration) string {
	return "velocity:" + subject + ":" + action.String() + ":" + strconv.FormatInt(int64(window/time.Second), 10)
}

// bucketStart aligns t down to a multiple of width since the Unix epoch.
func bucketStart(t time.Time, width time.Duration) time.Time {
	w := int64(width / time.Second)
	if w <= 0 {
		w = 1
	}
	sec := t.Unix()
	return time.Unix(sec-sec%w, 0).UTC()
}
