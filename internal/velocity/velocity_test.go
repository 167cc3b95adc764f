package velocity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
)

// memStore is an in-memory CounterStore.
type memStore struct {
	mu        sync.Mutex
	buckets   map[string]map[int64]int64
	incrErr   error
	sumErr    error
	incrCalls int
}

func newMemStore() *memStore {
	return &memStore{buckets: make(map[string]map[int64]int64)}
}

func (m *memStore) Increment(_ context.Context, subject string, action domain.Action, bucket time.Time, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incrCalls++
	if m.incrErr != nil {
		return m.incrErr
	}
	k := subject + "|" + action.String()
	if m.buckets[k] == nil {
		m.buckets[k] = make(map[int64]int64)
	}
	m.buckets[k][bucket.Unix()]++
	return nil
}

func (m *memStore) Sum(_ context.Context, subject string, action domain.Action, from, to time.Time, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sumErr != nil {
		return 0, m.sumErr
	}
	var total int64
	for start, n := range m.buckets[subject+"|"+action.String()] {
		if start >= from.Unix() && start <= to.Unix() {
			total += n
		}
	}
	return total, nil
}

func (m *memStore) Purge(context.Context, time.Time) (int64, error) { return 0, nil }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock() *clock { return &clock{t: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)} }

func TestBucketWidth(t *testing.T) {
	rs := DefaultRules()
	tests := []struct {
		action domain.Action
		want   time.Duration
	}{
		{domain.ActionOfferSend, time.Minute},
		{domain.ActionLoginAttempt, 5 * time.Second},
		{domain.ActionMessageSend, time.Second},
		{domain.ActionBoost, 24 * time.Minute},
		{domain.ActionRefundRequest, time.Hour},
	}
	for _, tt := range tests {
		if got := rs.BucketWidth(tt.action); got != tt.want {
			t.Errorf("BucketWidth(%s) = %v, want %v", tt.action, got, tt.want)
		}
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()

	for _, withCache := range []bool{false, true} {
		name := "NoCache"
		if withCache {
			name = "WithCache"
		}
		t.Run(name, func(t *testing.T) {
			clk := newClock()
			opts := []Option{WithClock(clk.now)}
			if withCache {
				lru := cache.NewLRUCache(100)
				defer lru.Close()
				opts = append(opts, WithCache(lru, time.Minute))
			}
			svc := NewService(newMemStore(), opts...)

			for i := 1; i <= 15; i++ {
				res, err := svc.Check(ctx, "user-1", domain.ActionOfferSend)
				if err != nil {
					t.Fatalf("check %d: %v", i, err)
				}
				if res.Response != ResponsePass || !res.Allowed {
					t.Fatalf("check %d: expected PASS, got %s", i, res.Response)
				}
			}

			res, _ := svc.Check(ctx, "user-1", domain.ActionOfferSend)
			if res.Response != ResponseThrottle || !res.Allowed {
				t.Fatalf("16th: expected allowed THROTTLE, got %+v", res)
			}
			if res.RetryAfterSeconds != 3600 || res.Count != 16 || res.Limit != 15 {
				t.Errorf("16th: unexpected result %+v", res)
			}

			for i := 17; i <= 40; i++ {
				svc.Check(ctx, "user-1", domain.ActionOfferSend)
			}

			res, _ = svc.Check(ctx, "user-1", domain.ActionOfferSend)
			if res.Response != ResponseBlock || res.Allowed {
				t.Fatalf("41st: expected BLOCK, got %+v", res)
			}
			if res.RetryAfterSeconds != 86400 || res.WindowSeconds != 86400 {
				t.Errorf("41st: unexpected result %+v", res)
			}

			other, _ := svc.Check(ctx, "user-2", domain.ActionOfferSend)
			if other.Response != ResponsePass || other.Count != 1 {
				t.Errorf("subjects should be independent, got %+v", other)
			}
		})
	}
}

func TestCheckWindowSlides(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	svc := NewService(newMemStore(), WithClock(clk.now))

	for i := 0; i < 20; i++ {
		svc.Check(ctx, "user-1", domain.ActionMessageSend)
		clk.advance(time.Millisecond)
	}
	res, _ := svc.Check(ctx, "user-1", domain.ActionMessageSend)
	if res.Response != ResponseThrottle {
		t.Fatalf("expected THROTTLE, got %s", res.Response)
	}

	clk.advance(2 * time.Minute)
	res, _ = svc.Check(ctx, "user-1", domain.ActionMessageSend)
	if res.Response != ResponsePass || res.Count != 1 {
		t.Errorf("expected fresh window, got %+v", res)
	}
}

func TestPeek(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := newMemStore()
	svc := NewService(store, WithClock(clk.now))

	res, err := svc.Peek(ctx, "user-1", domain.ActionRegister)
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if res.Response != ResponsePass {
		t.Errorf("expected PASS, got %s", res.Response)
	}
	if store.incrCalls != 0 {
		t.Error("peek must not record")
	}

	for i := 0; i < 3; i++ {
		svc.Check(ctx, "user-1", domain.ActionRegister)
	}

	// 3 recorded, limit 3: the next one would exceed it.
	res, _ = svc.Peek(ctx, "user-1", domain.ActionRegister)
	if res.Response != ResponseBlock || res.Allowed {
		t.Errorf("expected BLOCK on peek at limit, got %+v", res)
	}
}

func TestCheckStoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("IncrementFailureIsNonFatal", func(t *testing.T) {
		store := newMemStore()
		store.incrErr = errors.New("disk full")
		svc := NewService(store)

		res, err := svc.Check(ctx, "user-1", domain.ActionBoost)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Allowed || res.Count != 0 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("ReadFailureIsReturned", func(t *testing.T) {
		store := newMemStore()
		store.sumErr = errors.New("connection refused")
		svc := NewService(store)

		if _, err := svc.Check(ctx, "user-1", domain.ActionBoost); err == nil {
			t.Error("expected read error")
		}
	})
}

func TestUnratedAction(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)

	res, err := svc.Check(context.Background(), "user-1", domain.ActionNone)
	if err != nil || !res.Allowed || res.Response != ResponsePass {
		t.Errorf("unexpected result %+v err=%v", res, err)
	}
	if store.incrCalls != 0 {
		t.Error("actions without rules must not be counted")
	}
}
