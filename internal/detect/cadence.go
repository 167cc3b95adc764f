package detect

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	cadenceWindow     = 24 * time.Hour
	cadenceMaxActions = 30
	cadenceMinActions = 5

	// AutomatedThreshold is the cadence score at which a user counts as automated.
	AutomatedThreshold = 30
)

// Cadence is the outcome of a first-24h action cadence analysis.
type Cadence struct {
	Score          int     `json:"score"`
	Automated      bool    `json:"automated"`
	IntervalStdDev float64 `json:"intervalStdDev"`
	IntervalMean   float64 `json:"intervalMean"`
	CV             float64 `json:"cv"`
	Actions        int     `json:"actions"`
}

// CadenceScore analyzes ascending action timestamps. Fewer than five actions
// score zero.
func CadenceScore(times []time.Time) Cadence {
	if len(times) > cadenceMaxActions {
		times = times[:cadenceMaxActions]
	}
	c := Cadence{Actions: len(times), IntervalStdDev: math.Inf(1)}
	if len(times) < cadenceMinActions {
		return c
	}

	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, float64(times[i].Sub(times[i-1]).Milliseconds()))
	}

	sd := stdDev(intervals)
	m := mean(intervals)
	c.IntervalStdDev = sd
	c.IntervalMean = m

	switch {
	case sd < 2000:
		c.Score += 25
	case sd < 5000:
		c.Score += 10
	}

	switch {
	case len(times) > 20:
		c.Score += 10
	case len(times) > 15:
		c.Score += 5
	}

	if m > 0 {
		c.CV = sd / m
	}
	switch {
	case c.CV < 0.2:
		c.Score += 15
	case c.CV < 0.3:
		c.Score += 5
	}

	c.Automated = c.Score >= AutomatedThreshold
	return c
}

// CadenceStore is what the cadence checker reads and writes.
type CadenceStore interface {
	GetAccount(ctx context.Context, userID string) (*domain.Account, error)
	LedgerTimes(ctx context.Context, userID string, from, to time.Time, limit int) ([]time.Time, error)
	CountEvents(ctx context.Context, userID, eventType string, since time.Time) (int, error)
	AppendEvent(ctx context.Context, e *domain.RiskEvent) error
}

// CadenceChecker flags users whose first day of activity looks scripted.
type CadenceChecker struct {
	store CadenceStore
}

// NewCadenceChecker creates a checker over store.
func NewCadenceChecker(store CadenceStore) *CadenceChecker {
	return &CadenceChecker{store: store}
}

// Check analyzes userID's first 24h of ledger activity and appends at most one
// BEHAVIORAL_ANOMALY event per user.
func (c *CadenceChecker) Check(ctx context.Context, userID string) (Cadence, error) {
	acct, err := c.store.GetAccount(ctx, userID)
	if err != nil {
		return Cadence{}, err
	}

	from := acct.CreatedAt
	times, err := c.store.LedgerTimes(ctx, userID, from, from.Add(cadenceWindow), cadenceMaxActions)
	if err != nil {
		return Cadence{}, fmt.Errorf("load action times: %w", err)
	}

	result := CadenceScore(times)
	if !result.Automated {
		return result, nil
	}

	seen, err := c.store.CountEvents(ctx, userID, domain.EventBehavioralAnomaly, time.Time{})
	if err != nil {
		return result, err
	}
	if seen > 0 {
		return result, nil
	}

	err = c.store.AppendEvent(ctx, &domain.RiskEvent{
		UserID:   userID,
		Type:     domain.EventBehavioralAnomaly,
		Severity: domain.SeverityMedium,
		Metadata: map[string]any{
			"type":           "FIRST_24H_CADENCE",
			"intervalStdDev": math.Round(result.IntervalStdDev),
			"intervalMean":   math.Round(result.IntervalMean),
			"cv":             math.Round(result.CV*100) / 100,
			"actionCount":    result.Actions,
			"score":          result.Score,
		},
	})
	if err != nil {
		return result, fmt.Errorf("append anomaly: %w", err)
	}

	slog.Info("automated cadence detected",
		"user_id", userID,
		"score", result.Score,
		"actions", result.Actions,
	)
	return result, nil
}
