package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// fakeStore implements every store interface in this package.
type fakeStore struct {
	ipUsers     int
	deviceUsers int
	suspended   map[string]bool
	account     *domain.Account
	times       []time.Time
	devices     map[string][]string
	ips         map[string][]string
	events      []*domain.RiskEvent
	appendErr   error
	readErr     error
}

func (f *fakeStore) CountUsersOnIP(context.Context, string, time.Time) (int, error) {
	return f.ipUsers, f.readErr
}

func (f *fakeStore) CountUsersOnFingerprint(context.Context, string, time.Time) (int, error) {
	return f.deviceUsers, f.readErr
}

func (f *fakeStore) PhoneOnSuspendedAccount(_ context.Context, phone string) (bool, error) {
	return f.suspended[phone], f.readErr
}

func (f *fakeStore) GetAccount(context.Context, string) (*domain.Account, error) {
	if f.account == nil {
		return nil, domain.ErrNotFound
	}
	return f.account, nil
}

func (f *fakeStore) LedgerTimes(context.Context, string, time.Time, time.Time, int) ([]time.Time, error) {
	return f.times, nil
}

func (f *fakeStore) DeviceGroups(context.Context, time.Time) (map[string][]string, error) {
	return f.devices, nil
}

func (f *fakeStore) IPGroups(context.Context, time.Time) (map[string][]string, error) {
	return f.ips, nil
}

func (f *fakeStore) CountEvents(_ context.Context, userID, eventType string, _ time.Time) (int, error) {
	n := 0
	for _, e := range f.events {
		if e.UserID == userID && e.Type == eventType {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AppendEvent(_ context.Context, e *domain.RiskEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, e)
	return nil
}

func humanBehavior() *RegistrationBehavior {
	return &RegistrationBehavior{
		PageLoadToFirstKeystrokeMs: 1500,
		TotalFormTimeMs:            45000,
		FieldTabCount:              5,
		PasteEvents:                1,
		MouseMovements:             40,
		ScrollEvents:               3,
		KeystrokeDeltasMs:          []float64{120, 80, 210, 95, 160, 300},
	}
}

func botBehavior() *RegistrationBehavior {
	return &RegistrationBehavior{
		PageLoadToFirstKeystrokeMs: 50,
		TotalFormTimeMs:            1200,
		PasteEvents:                4,
		MouseMovements:             0,
		KeystrokeDeltasMs:          []float64{10, 10, 11, 10, 10},
	}
}

func TestEntropyScore(t *testing.T) {
	tests := []struct {
		name     string
		behavior *RegistrationBehavior
		want     int
	}{
		{"human", humanBehavior(), 0},
		{"bot", botBehavior(), 70},
		{"slow typist no tabs", &RegistrationBehavior{
			PageLoadToFirstKeystrokeMs: 300,
			TotalFormTimeMs:            6000,
			PasteEvents:                2,
			MouseMovements:             5,
		}, 8 + 10 + 5 + 5 + 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EntropyScore(tt.behavior); got != tt.want {
				t.Errorf("EntropyScore() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBehaviorValidate(t *testing.T) {
	if err := humanBehavior().Validate(); err != nil {
		t.Fatalf("expected valid telemetry, got %v", err)
	}

	invalid := []*RegistrationBehavior{
		{PageLoadToFirstKeystrokeMs: -1},
		{TotalFormTimeMs: 700000},
		{FieldTabCount: 101},
		{MouseMovements: 20000},
		{PasteEvents: 21},
		{PasteEvents: -1},
		{ScrollEvents: -3},
		{ScrollEvents: 20000},
		{KeystrokeDeltasMs: []float64{100, -5}},
		{KeystrokeDeltasMs: []float64{40000}},
	}
	for i, b := range invalid {
		if err := b.Validate(); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestCadenceScore(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	every := func(n int, gap time.Duration) []time.Time {
		out := make([]time.Time, n)
		for i := range out {
			out[i] = base.Add(time.Duration(i) * gap)
		}
		return out
	}

	t.Run("TooFew", func(t *testing.T) {
		c := CadenceScore(every(4, time.Second))
		if c.Score != 0 || c.Automated {
			t.Errorf("expected zero score, got %+v", c)
		}
	})

	t.Run("Metronome", func(t *testing.T) {
		c := CadenceScore(every(25, 10*time.Second))
		// sd 0 (+25), >20 actions (+10), cv 0 (+15)
		if c.Score != 50 || !c.Automated {
			t.Errorf("expected automated score 50, got %+v", c)
		}
	})

	t.Run("Human", func(t *testing.T) {
		gaps := []time.Duration{time.Minute, 20 * time.Minute, 3 * time.Minute, time.Hour, 45 * time.Second, 2 * time.Hour}
		times := []time.Time{base}
		for _, g := range gaps {
			times = append(times, times[len(times)-1].Add(g))
		}
		c := CadenceScore(times)
		if c.Automated {
			t.Errorf("expected human cadence, got %+v", c)
		}
	})

	t.Run("CapsAtThirty", func(t *testing.T) {
		c := CadenceScore(every(50, time.Second))
		if c.Actions != 30 {
			t.Errorf("expected 30 actions analyzed, got %d", c.Actions)
		}
	})
}

func TestCadenceChecker(t *testing.T) {
	base := time.Now().Add(-2 * time.Hour)
	times := make([]time.Time, 21)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * 5 * time.Second)
	}
	store := &fakeStore{account: &domain.Account{UserID: "u1", CreatedAt: base}, times: times}
	checker := NewCadenceChecker(store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		c, err := checker.Check(ctx, "u1")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !c.Automated {
			t.Fatalf("expected automated, got %+v", c)
		}
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one anomaly event, got %d", len(store.events))
	}
	if store.events[0].Type != domain.EventBehavioralAnomaly {
		t.Errorf("unexpected event type %s", store.events[0].Type)
	}

	if _, err := NewCadenceChecker(&fakeStore{}).Check(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistrationCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("Clean", func(t *testing.T) {
		store := &fakeStore{}
		res, err := NewRegistrationChecker(store, "").Check(ctx, &RegistrationRequest{
			Fingerprint: "fp1", IPAddress: "10.0.0.1", Phone: "+905551112233", Email: "ayse@example.com",
			Behavior: humanBehavior(),
		})
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if res.Decision != DecisionPass || res.Score != 0 {
			t.Errorf("expected PASS 0, got %s %d", res.Decision, res.Score)
		}
		if len(store.events) != 0 {
			t.Errorf("expected no event, got %d", len(store.events))
		}
	})

	t.Run("ChallengeLogsMaskedEmail", func(t *testing.T) {
		store := &fakeStore{ipUsers: 3}
		res, err := NewRegistrationChecker(store, "+90").Check(ctx, &RegistrationRequest{
			IPAddress: "10.0.0.1", Email: "mehmet@example.com",
		})
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if res.Decision != DecisionChallenge || res.Score != 25 {
			t.Errorf("expected CHALLENGE 25, got %s %d", res.Decision, res.Score)
		}
		if len(store.events) != 1 {
			t.Fatalf("expected one event, got %d", len(store.events))
		}
		e := store.events[0]
		if e.UserID != RegistrationSubject || e.Severity != domain.SeverityMedium {
			t.Errorf("unexpected event %+v", e)
		}
		if e.Metadata["email"] != "meh***" {
			t.Errorf("expected masked email, got %v", e.Metadata["email"])
		}
	})

	t.Run("Block", func(t *testing.T) {
		store := &fakeStore{deviceUsers: 1, suspended: map[string]bool{"+15550001111": true}}
		res, err := NewRegistrationChecker(store, "").Check(ctx, &RegistrationRequest{
			Fingerprint: "fp1", IPAddress: "10.0.0.1", Phone: "+15550001111", Email: "x@mailinator.com",
		})
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		// device 35 + disposable 15 + mismatch 10 + reuse 50
		if res.Score != 110 || res.Decision != DecisionBlock {
			t.Errorf("expected BLOCK 110, got %s %d", res.Decision, res.Score)
		}
		if store.events[0].Severity != domain.SeverityHigh {
			t.Errorf("expected HIGH severity, got %s", store.events[0].Severity)
		}
	})

	t.Run("BehaviorPenalty", func(t *testing.T) {
		res, err := NewRegistrationChecker(&fakeStore{}, "").Check(ctx, &RegistrationRequest{
			IPAddress: "10.0.0.1", Email: "bot@example.com", Behavior: botBehavior(),
		})
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		// round(70 * 0.7)
		if res.BehaviorPenalty != 49 || res.Decision != DecisionChallenge {
			t.Errorf("expected penalty 49 CHALLENGE, got %d %s", res.BehaviorPenalty, res.Decision)
		}
	})

	t.Run("SharedIPWithBotTelemetryBlocks", func(t *testing.T) {
		store := &fakeStore{ipUsers: 3}
		res, err := NewRegistrationChecker(store, "+90").Check(ctx, &RegistrationRequest{
			IPAddress: "10.0.0.9", Email: "runner@example.com", Behavior: botBehavior(),
		})
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		// shared IP 25 + round(70 * 0.7)
		if res.Decision != DecisionBlock || res.Score != 74 {
			t.Errorf("expected BLOCK 74, got %s %d", res.Decision, res.Score)
		}
		if len(store.events) != 1 || store.events[0].Severity != domain.SeverityHigh {
			t.Errorf("expected one HIGH event, got %+v", store.events)
		}
	})

	t.Run("InvalidBehaviorIgnored", func(t *testing.T) {
		b := botBehavior()
		b.TotalFormTimeMs = -1
		res, _ := NewRegistrationChecker(&fakeStore{}, "").Check(ctx, &RegistrationRequest{
			IPAddress: "10.0.0.1", Email: "bot@example.com", Behavior: b,
		})
		if res.BehaviorPenalty != 0 || res.Decision != DecisionPass {
			t.Errorf("expected telemetry ignored, got %+v", res)
		}
	})

	t.Run("EventWriteFailureIgnored", func(t *testing.T) {
		store := &fakeStore{ipUsers: 5, appendErr: errors.New("disk full")}
		res, err := NewRegistrationChecker(store, "").Check(ctx, &RegistrationRequest{
			IPAddress: "10.0.0.1", Email: "a@example.com",
		})
		if err != nil {
			t.Fatalf("expected write failure to be swallowed, got %v", err)
		}
		if res.Decision != DecisionChallenge {
			t.Errorf("expected CHALLENGE, got %s", res.Decision)
		}
	})

	t.Run("StoreFailure", func(t *testing.T) {
		store := &fakeStore{readErr: errors.New("db down")}
		if _, err := NewRegistrationChecker(store, "").Check(ctx, &RegistrationRequest{
			IPAddress: "10.0.0.1", Email: "a@example.com",
		}); err == nil {
			t.Error("expected read error")
		}
	})
}

func TestMaskEmail(t *testing.T) {
	if got := MaskEmail("ab"); got != "ab***" {
		t.Errorf("MaskEmail(ab) = %q", got)
	}
	if got := MaskEmail("ayse@example.com"); got != "ays***" {
		t.Errorf("MaskEmail = %q", got)
	}
}

func TestClusterDetector(t *testing.T) {
	store := &fakeStore{
		devices: map[string][]string{
			"fp-shared": {"u1", "u2"},
			"fp-solo":   {"u9"},
		},
		ips: map[string][]string{
			"10.0.0.1": {"u2", "u3", "u4"},
			"10.0.0.2": {"u5", "u6", "u7"},
			"10.0.0.3": {"u8", "u9"},
		},
	}
	d := NewClusterDetector(store)
	ctx := context.Background()

	clusters, err := d.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}

	both := clusters[0]
	if both.LinkType != LinkBoth || both.Confidence != 0.95 {
		t.Errorf("expected merged BOTH cluster, got %+v", both)
	}
	if len(both.UserIDs) != 4 {
		t.Errorf("expected 4 merged users, got %v", both.UserIDs)
	}

	ip := clusters[1]
	if ip.LinkType != LinkIP || ip.Key != "ip:10.0.0.2" {
		t.Errorf("expected IP cluster, got %+v", ip)
	}

	if len(store.events) != 7 {
		t.Fatalf("expected 7 events, got %d", len(store.events))
	}
	for _, e := range store.events {
		want := domain.SeverityHigh
		if e.UserID == "u5" || e.UserID == "u6" || e.UserID == "u7" {
			want = domain.SeverityMedium
		}
		if e.Severity != want {
			t.Errorf("user %s: severity %s, want %s", e.UserID, e.Severity, want)
		}
	}

	// A second run within 24h does not duplicate events.
	if _, err := d.Detect(ctx); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(store.events) != 7 {
		t.Errorf("expected deduplicated events, got %d", len(store.events))
	}
}
