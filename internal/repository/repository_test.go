package repository

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("ProfileNotFound", func(t *testing.T) {
		_, err := repo.GetProfile(ctx, "nobody")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("SaveScorePreservesAdminColumns", func(t *testing.T) {
		until := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
		p := &domain.RiskProfile{
			UserID:           "user-1",
			URS:              15,
			Tier:             domain.TierGreen,
			WhitelistedUntil: &until,
			ProbationUntil:   &until,
			ProbationBaseline: domain.Snapshot{
				"B01": {Value: 3, Fired: true, Contribution: 20},
			},
			EscalationCount: 2,
			ComputedAt:      time.Now().UTC(),
		}
		if err := repo.SaveProfile(ctx, p); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}

		rescored := &domain.RiskProfile{
			UserID:        "user-1",
			URS:           72,
			Tier:          domain.TierRed,
			BehaviorScore: 60,
			Signals:       domain.Snapshot{"N01": {Value: 4, Fired: true, Contribution: 40}},
			ComputedAt:    time.Now().UTC(),
		}
		if err := repo.SaveScore(ctx, rescored); err != nil {
			t.Fatalf("SaveScore failed: %v", err)
		}

		got, err := repo.GetProfile(ctx, "user-1")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if got.URS != 72 || got.Tier != domain.TierRed {
			t.Errorf("expected URS 72 RED, got %d %s", got.URS, got.Tier)
		}
		if got.EscalationCount != 2 {
			t.Errorf("expected escalation count 2, got %d", got.EscalationCount)
		}
		if got.WhitelistedUntil == nil || !got.WhitelistedUntil.Equal(until) {
			t.Errorf("whitelist lost: %v", got.WhitelistedUntil)
		}
		if !got.ProbationBaseline["B01"].Fired {
			t.Error("probation baseline lost")
		}
		if !got.Signals["N01"].Fired {
			t.Error("signals not saved")
		}
	})

	t.Run("ListUsersForRescoring", func(t *testing.T) {
		for _, id := range []string{"user-1", "user-2"} {
			if err := repo.UpsertAccount(ctx, &domain.Account{UserID: id, Email: id + "@example.com", Role: "USER"}); err != nil {
				t.Fatalf("UpsertAccount failed: %v", err)
			}
		}

		ids, err := repo.ListUsersForRescoring(ctx, time.Now().Add(-time.Hour), 10)
		if err != nil {
			t.Fatalf("ListUsersForRescoring failed: %v", err)
		}
		if len(ids) != 1 || ids[0] != "user-2" {
			t.Errorf("expected [user-2], got %v", ids)
		}

		ids, err = repo.ListUsersForRescoring(ctx, time.Now().Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("ListUsersForRescoring failed: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("expected 2 stale users, got %v", ids)
		}
	})

	t.Run("Events", func(t *testing.T) {
		e := &domain.RiskEvent{
			UserID:   "user-1",
			Type:     domain.EventTierChange,
			Severity: domain.SeverityHigh,
			Metadata: map[string]any{"newTier": "RED"},
		}
		if err := repo.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
		if e.ID == "" {
			t.Error("expected generated ID")
		}
		if err := repo.AppendEvent(ctx, &domain.RiskEvent{UserID: "user-1", Type: domain.EventUserReported}); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}

		events, err := repo.ListEvents(ctx, "user-1", domain.EventTierChange, time.Time{})
		if err != nil {
			t.Fatalf("ListEvents failed: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if events[0].Metadata["newTier"] != "RED" {
			t.Errorf("unexpected metadata: %v", events[0].Metadata)
		}

		n, err := repo.CountEvents(ctx, "user-1", "", time.Time{})
		if err != nil {
			t.Fatalf("CountEvents failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 events, got %d", n)
		}

		if err := repo.AppendEvent(ctx, &domain.RiskEvent{UserID: "user-1"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("PurgeEvents", func(t *testing.T) {
		old := time.Now().Add(-40 * 24 * time.Hour).UTC()
		for i := 0; i < 3; i++ {
			if err := repo.AppendEvent(ctx, &domain.RiskEvent{
				UserID: "user-purge", Type: domain.EventVelocityWarn, Severity: domain.SeverityLow, CreatedAt: old,
			}); err != nil {
				t.Fatalf("AppendEvent failed: %v", err)
			}
		}

		cutoff := time.Now().Add(-30 * 24 * time.Hour)
		deleted, err := repo.PurgeEvents(ctx, domain.SeverityLow, cutoff, 2)
		if err != nil {
			t.Fatalf("PurgeEvents failed: %v", err)
		}
		if deleted != 2 {
			t.Errorf("expected batch of 2, got %d", deleted)
		}
		deleted, _ = repo.PurgeEvents(ctx, domain.SeverityLow, cutoff, 2)
		if deleted != 1 {
			t.Errorf("expected 1 remaining, got %d", deleted)
		}

		// Recent events survive.
		n, _ := repo.CountEvents(ctx, "user-1", "", time.Time{})
		if n != 2 {
			t.Errorf("expected recent events kept, got %d", n)
		}
	})

	t.Run("Tickets", func(t *testing.T) {
		ticket := &domain.Ticket{
			UserID:        "user-1",
			RiskTier:      domain.TierRed,
			URS:           72,
			TriggerReason: "URS 72 crossed threshold",
			Signals:       domain.Snapshot{"N01": {Value: 4, Fired: true}},
		}
		if err := repo.CreateTicket(ctx, ticket); err != nil {
			t.Fatalf("CreateTicket failed: %v", err)
		}
		if ticket.Status != domain.TicketOpen {
			t.Errorf("expected OPEN, got %s", ticket.Status)
		}

		dup := &domain.Ticket{UserID: "user-1", RiskTier: domain.TierRed, URS: 75, TriggerReason: "again"}
		if err := repo.CreateTicket(ctx, dup); !errors.Is(err, domain.ErrStateConflict) {
			t.Errorf("expected ErrStateConflict, got: %v", err)
		}

		active, err := repo.GetActiveTicket(ctx, "user-1")
		if err != nil {
			t.Fatalf("GetActiveTicket failed: %v", err)
		}
		if active.ID != ticket.ID {
			t.Errorf("expected %s, got %s", ticket.ID, active.ID)
		}

		now := time.Now().UTC()
		active.Status = domain.TicketResolved
		active.Resolution = domain.ResolutionMonitoring
		active.ReviewerID = "admin-1"
		active.ResolvedAt = &now
		if err := repo.UpdateTicket(ctx, active); err != nil {
			t.Fatalf("UpdateTicket failed: %v", err)
		}

		if _, err := repo.GetActiveTicket(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected no active ticket, got: %v", err)
		}

		// Resolved tickets free the slot.
		if err := repo.CreateTicket(ctx, dup); err != nil {
			t.Errorf("CreateTicket after resolve failed: %v", err)
		}

		resolved, err := repo.ListTickets(ctx, domain.TicketResolved, 10)
		if err != nil {
			t.Fatalf("ListTickets failed: %v", err)
		}
		if len(resolved) != 1 || resolved[0].Resolution != domain.ResolutionMonitoring {
			t.Errorf("unexpected resolved tickets: %+v", resolved)
		}

		if _, err := repo.GetTicket(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Audit", func(t *testing.T) {
		if err := repo.AppendAudit(ctx, &domain.AuditEntry{
			AdminID: "admin-1", Action: "whitelist", TargetID: "user-1", Reason: "verified",
		}); err != nil {
			t.Fatalf("AppendAudit failed: %v", err)
		}
		entries, err := repo.ListAudit(ctx, "user-1")
		if err != nil {
			t.Fatalf("ListAudit failed: %v", err)
		}
		if len(entries) != 1 || entries[0].AdminID != "admin-1" {
			t.Errorf("unexpected audit entries: %+v", entries)
		}
	})
}

func TestAccounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acct := &domain.Account{UserID: "user-1", Email: "a@example.com", Phone: "+905551112233", Role: "USER"}
	if err := repo.UpsertAccount(ctx, acct); err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}

	t.Run("Suspend", func(t *testing.T) {
		changed, err := repo.SuspendAccount(ctx, "user-1")
		if err != nil {
			t.Fatalf("SuspendAccount failed: %v", err)
		}
		if !changed {
			t.Error("expected first suspend to change the account")
		}

		changed, err = repo.SuspendAccount(ctx, "user-1")
		if err != nil {
			t.Fatalf("SuspendAccount failed: %v", err)
		}
		if changed {
			t.Error("expected second suspend to be a no-op")
		}

		got, _ := repo.GetAccount(ctx, "user-1")
		if !got.Suspended() || got.PreviousRole != "USER" {
			t.Errorf("expected suspended with previous role USER, got %s/%s", got.Role, got.PreviousRole)
		}

		onSuspended, err := repo.PhoneOnSuspendedAccount(ctx, "+905551112233")
		if err != nil {
			t.Fatalf("PhoneOnSuspendedAccount failed: %v", err)
		}
		if !onSuspended {
			t.Error("expected phone to match suspended account")
		}
	})

	t.Run("UpsertKeepsSuspension", func(t *testing.T) {
		acct.Role = "HOST"
		acct.CompletedTrips = 12
		if err := repo.UpsertAccount(ctx, acct); err != nil {
			t.Fatalf("UpsertAccount failed: %v", err)
		}
		got, _ := repo.GetAccount(ctx, "user-1")
		if !got.Suspended() {
			t.Errorf("expected suspension to survive upsert, got %s", got.Role)
		}
		if got.CompletedTrips != 12 {
			t.Errorf("expected trips updated, got %d", got.CompletedTrips)
		}
	})

	t.Run("Restore", func(t *testing.T) {
		changed, err := repo.RestoreAccount(ctx, "user-1")
		if err != nil {
			t.Fatalf("RestoreAccount failed: %v", err)
		}
		if !changed {
			t.Error("expected restore to change the account")
		}
		got, _ := repo.GetAccount(ctx, "user-1")
		if got.Role != "USER" || got.PreviousRole != "" {
			t.Errorf("expected role USER restored, got %s/%s", got.Role, got.PreviousRole)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := repo.SuspendAccount(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAccount(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestFingerprints(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	record := func(user, fp, ip string) bool {
		t.Helper()
		wrote, err := repo.RecordFingerprint(ctx, &domain.Fingerprint{
			UserID: user, Fingerprint: fp, IPAddress: ip, UserAgent: "Mozilla/5.0 " + user,
		}, time.Hour)
		if err != nil {
			t.Fatalf("RecordFingerprint failed: %v", err)
		}
		return wrote
	}

	if !record("u1", "fp-a", "10.0.0.1") {
		t.Error("expected first sighting written")
	}
	if record("u1", "fp-a", "10.0.0.1") {
		t.Error("expected duplicate sighting skipped")
	}
	record("u1", "fp-b", "10.0.0.1")
	record("u2", "fp-a", "10.0.0.2")
	record("u3", "fp-c", "10.0.0.1")

	since := time.Now().Add(-24 * time.Hour)

	t.Run("Counts", func(t *testing.T) {
		n, _ := repo.CountDistinctFingerprints(ctx, "u1", since)
		if n != 2 {
			t.Errorf("expected 2 devices for u1, got %d", n)
		}
		n, _ = repo.CountUsersOnIP(ctx, "10.0.0.1", since)
		if n != 2 {
			t.Errorf("expected 2 users on IP, got %d", n)
		}
		n, _ = repo.CountUsersOnFingerprint(ctx, "fp-a", since)
		if n != 2 {
			t.Errorf("expected 2 users on fp-a, got %d", n)
		}
		n, _ = repo.CountSharedIPUsers(ctx, "u1", since)
		if n != 1 {
			t.Errorf("expected 1 user sharing u1's IP, got %d", n)
		}
		n, _ = repo.CountSharedDeviceUsers(ctx, "u1")
		if n != 1 {
			t.Errorf("expected 1 user sharing u1's device, got %d", n)
		}
	})

	t.Run("LatestUserAgent", func(t *testing.T) {
		ua, err := repo.LatestUserAgent(ctx, "u2")
		if err != nil {
			t.Fatalf("LatestUserAgent failed: %v", err)
		}
		if ua != "Mozilla/5.0 u2" {
			t.Errorf("unexpected user agent %q", ua)
		}
		ua, _ = repo.LatestUserAgent(ctx, "nobody")
		if ua != "" {
			t.Errorf("expected empty user agent, got %q", ua)
		}
	})

	t.Run("Groups", func(t *testing.T) {
		devices, err := repo.DeviceGroups(ctx, since)
		if err != nil {
			t.Fatalf("DeviceGroups failed: %v", err)
		}
		if got := devices["fp-a"]; len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
			t.Errorf("unexpected fp-a group: %v", got)
		}
		ips, err := repo.IPGroups(ctx, since)
		if err != nil {
			t.Fatalf("IPGroups failed: %v", err)
		}
		if got := ips["10.0.0.1"]; len(got) != 2 {
			t.Errorf("unexpected IP group: %v", got)
		}
	})
}

func TestCountersAndLedger(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Counters", func(t *testing.T) {
		base := time.Unix(1_700_000_000, 0)
		for i := 0; i < 3; i++ {
			if err := repo.Increment(ctx, "u1", domain.ActionOfferSend, base, 0); err != nil {
				t.Fatalf("Increment failed: %v", err)
			}
		}
		if err := repo.Increment(ctx, "u1", domain.ActionOfferSend, base.Add(time.Minute), 0); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}

		sum, err := repo.Sum(ctx, "u1", domain.ActionOfferSend, base, base.Add(time.Minute), time.Minute)
		if err != nil {
			t.Fatalf("Sum failed: %v", err)
		}
		if sum != 4 {
			t.Errorf("expected 4, got %d", sum)
		}

		sum, _ = repo.Sum(ctx, "u1", domain.ActionBoost, base, base.Add(time.Minute), time.Minute)
		if sum != 0 {
			t.Errorf("expected 0 for other action, got %d", sum)
		}

		purged, err := repo.Purge(ctx, base.Add(time.Second))
		if err != nil {
			t.Fatalf("Purge failed: %v", err)
		}
		if purged != 1 {
			t.Errorf("expected 1 bucket purged, got %d", purged)
		}
	})

	t.Run("Ledger", func(t *testing.T) {
		for _, ref := range []string{"r1", "r2", "r1"} {
			if err := repo.AppendLedger(ctx, &domain.LedgerEntry{
				UserID: "u1", EntryType: domain.LedgerConsume, ReasonCode: "OFFER_SEND", ReferenceID: ref,
			}); err != nil {
				t.Fatalf("AppendLedger failed: %v", err)
			}
		}
		if err := repo.AppendLedger(ctx, &domain.LedgerEntry{UserID: "u1", EntryType: domain.LedgerRefund}); err != nil {
			t.Fatalf("AppendLedger failed: %v", err)
		}

		since := time.Now().Add(-time.Hour)
		n, _ := repo.CountLedger(ctx, "u1", "", since)
		if n != 4 {
			t.Errorf("expected 4 entries, got %d", n)
		}
		n, _ = repo.CountLedger(ctx, "u1", domain.LedgerRefund, since)
		if n != 1 {
			t.Errorf("expected 1 refund, got %d", n)
		}
		n, _ = repo.CountDistinctReferences(ctx, "u1", domain.LedgerConsume, "OFFER_SEND", since)
		if n != 2 {
			t.Errorf("expected 2 distinct targets, got %d", n)
		}

		times, err := repo.LedgerTimes(ctx, "u1", since, time.Now().Add(time.Minute), 10)
		if err != nil {
			t.Fatalf("LedgerTimes failed: %v", err)
		}
		if len(times) != 4 {
			t.Errorf("expected 4 timestamps, got %d", len(times))
		}
	})

	t.Run("Observations", func(t *testing.T) {
		if err := repo.SaveObservation(ctx, &domain.Observation{UserID: "u1", SignalID: "B03", Value: 2}); err != nil {
			t.Fatalf("SaveObservation failed: %v", err)
		}
		if err := repo.SaveObservation(ctx, &domain.Observation{UserID: "u1", SignalID: "B03", Value: 5}); err != nil {
			t.Fatalf("SaveObservation failed: %v", err)
		}
		obs, err := repo.ListObservations(ctx, "u1", time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("ListObservations failed: %v", err)
		}
		if len(obs) != 1 || obs[0].Value != 5 {
			t.Errorf("expected latest value 5, got %+v", obs)
		}
	})
}

func TestWithTx(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx domain.Repository) error {
		if err := tx.AppendEvent(ctx, &domain.RiskEvent{UserID: "u1", Type: domain.EventUserReported}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got: %v", err)
	}
	n, _ := repo.CountEvents(ctx, "u1", "", time.Time{})
	if n != 0 {
		t.Errorf("expected rollback, found %d events", n)
	}

	err = repo.WithTx(ctx, func(tx domain.Repository) error {
		return tx.WithTx(ctx, func(inner domain.Repository) error {
			return inner.AppendEvent(ctx, &domain.RiskEvent{UserID: "u1", Type: domain.EventUserReported})
		})
	})
	if err != nil {
		t.Fatalf("nested WithTx failed: %v", err)
	}
	n, _ = repo.CountEvents(ctx, "u1", "", time.Time{})
	if n != 1 {
		t.Errorf("expected commit, found %d events", n)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unsupported driver, got %v", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{
		PostgresHost:     "db.internal",
		PostgresUser:     "harrier",
		PostgresPassword: "p@ss/w:rd",
	})

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("dsn does not parse: %v", err)
	}
	if u.Host != "db.internal:5432" || u.Path != "/harrier" {
		t.Errorf("unexpected host/path in %s", dsn)
	}
	if pass, _ := u.User.Password(); pass != "p@ss/w:rd" {
		t.Errorf("password not round-tripped, got %q", pass)
	}
	if q := u.Query(); q.Get("sslmode") != "disable" || q.Get("application_name") != "harrier" {
		t.Errorf("unexpected query %v", q)
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/h.db")
	if !strings.HasPrefix(dsn, "file:/tmp/h.db?") {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	q, err := url.ParseQuery(strings.SplitN(dsn, "?", 2)[1])
	if err != nil {
		t.Fatalf("query does not parse: %v", err)
	}
	if len(q["_pragma"]) != len(sqlitePragmas) || q.Get("_txlock") != "immediate" {
		t.Errorf("unexpected pragmas %v", q)
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
