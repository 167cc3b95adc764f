package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// Job runs Run every Interval until its context ends. A failing or panicking
// run is logged and counted; the next tick runs again.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	// RunOnStart runs once immediately instead of waiting a full interval.
	RunOnStart bool
}

// Serve implements suture.Service.
func (j *Job) Serve(ctx context.Context) error {
	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", j.Name)
	}
	if j.RunOnStart {
		j.RunOnce(ctx)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce executes the job a single time and reports the result label.
func (j *Job) RunOnce(ctx context.Context) (result string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panic", "job", j.Name, "panic", r)
			result = "panic"
		}
		metrics.JobRuns.WithLabelValues(j.Name, result).Inc()
	}()

	if err := j.Run(ctx); err != nil {
		slog.Error("job failed",
			"job", j.Name,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return "error"
	}
	slog.Debug("job finished", "job", j.Name, "duration_ms", time.Since(start).Milliseconds())
	return "ok"
}

func (j *Job) String() string { return j.Name }

// RescoreLister finds accounts due for scoring.
type RescoreLister interface {
	ListUsersForRescoring(ctx context.Context, staleBefore time.Time, limit int) ([]string, error)
}

// BatchScorer scores users concurrently.
type BatchScorer interface {
	ScoreBatch(ctx context.Context, userIDs []string) []scoring.BatchResult
}

// RescoreJob rescores unscored accounts and profiles older than interval,
// publishing each result so escalation runs.
func RescoreJob(lister RescoreLister, scorer BatchScorer, bus domain.EventBus, interval time.Duration, batch int) *Job {
	return &Job{
		Name:     "rescore",
		Interval: interval,
		Run: func(ctx context.Context) error {
			ids, err := lister.ListUsersForRescoring(ctx, time.Now().Add(-interval), batch)
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			if len(ids) == 0 {
				return nil
			}

			failed := 0
			for _, r := range scorer.ScoreBatch(ctx, ids) {
				if r.Err != nil {
					failed++
					slog.Warn("rescore failed", "user_id", r.UserID, "error", r.Err)
					continue
				}
				if err := PublishScore(ctx, bus, r.Result); err != nil {
					slog.Warn("failed to publish score", "user_id", r.UserID, "error", err)
				}
			}
			slog.Info("rescore batch finished", "users", len(ids), "failed", failed)
			return nil
		},
	}
}

// Sweeper evicts expired cache entries.
type Sweeper interface {
	Sweep() int
}

// SweepJob evicts expired velocity cache entries.
func SweepJob(s Sweeper, interval time.Duration) *Job {
	return &Job{
		Name:     "velocity-cache-sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			if n := s.Sweep(); n > 0 {
				slog.Debug("velocity cache swept", "evicted", n)
			}
			return nil
		},
	}
}

// EventPurger deletes aged risk events in batches.
type EventPurger interface {
	PurgeEvents(ctx context.Context, severity domain.Severity, before time.Time, batch int) (int64, error)
}

// CounterPurger drops aged velocity buckets.
type CounterPurger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Retention deletes events by severity age and old velocity buckets.
// CRITICAL events are never deleted.
type Retention struct {
	Events           EventPurger
	Counters         CounterPurger
	Config           domain.RetentionConfig
	CounterRetention time.Duration
	now              func() time.Time
}

// Run performs one cleanup pass.
func (r *Retention) Run(ctx context.Context) error {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	batch, maxBatches := r.Config.BatchSize, r.Config.MaxBatches
	if batch <= 0 {
		batch = 5000
	}
	if maxBatches <= 0 {
		maxBatches = 20
	}

	ages := []struct {
		severity domain.Severity
		age      time.Duration
	}{
		{domain.SeverityLow, r.Config.Low},
		{domain.SeverityMedium, r.Config.Medium},
		{domain.SeverityHigh, r.Config.High},
	}

	var total int64
	for _, a := range ages {
		if a.age <= 0 {
			continue
		}
		cutoff := now().Add(-a.age)
		for i := 0; i < maxBatches; i++ {
			n, err := r.Events.PurgeEvents(ctx, a.severity, cutoff, batch)
			if err != nil {
				return fmt.Errorf("purge %s events: %w", a.severity, err)
			}
			total += n
			if n < int64(batch) {
				break
			}
		}
	}

	var buckets int64
	if r.Counters != nil && r.CounterRetention > 0 {
		n, err := r.Counters.Purge(ctx, now().Add(-r.CounterRetention))
		if err != nil {
			return fmt.Errorf("purge velocity counters: %w", err)
		}
		buckets = n
	}

	slog.Info("retention cleanup finished", "events_deleted", total, "buckets_deleted", buckets)
	return nil
}

// RetentionJob runs r every interval.
func RetentionJob(r *Retention, interval time.Duration) *Job {
	return &Job{Name: "retention", Interval: interval, Run: r.Run}
}

// ClusterDetector finds sybil clusters across all users.
type ClusterDetector interface {
	Detect(ctx context.Context) ([]*detect.Cluster, error)
}

// ClusterJob runs sybil cluster detection.
func ClusterJob(d ClusterDetector, interval time.Duration) *Job {
	return &Job{
		Name:     "sybil-clusters",
		Interval: interval,
		Run: func(ctx context.Context) error {
			clusters, err := d.Detect(ctx)
			if err != nil {
				return err
			}
			slog.Info("sybil clustering finished", "clusters", len(clusters))
			return nil
		},
	}
}
