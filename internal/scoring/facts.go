package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/signals"
)

// Fact keys exposed to observation expressions as f.<key>.
const (
	FactDistinctDevices24h    = "distinct_devices_24h"
	FactBehavioralAnomalies7d = "behavioral_anomalies_7d"
	FactRefunds30d            = "refunds_30d"
	FactFailedSpends1h        = "failed_spends_1h"
	FactOfferTargetsToday     = "offer_targets_today"
	FactSharedIPAccounts7d    = "shared_ip_accounts_7d"
	FactSharedDeviceAccounts  = "shared_device_accounts"
	FactPastRedOrBlack        = "past_red_or_black"
	FactReviewsGiven          = "reviews_given"
	FactReviewsRemoved        = "reviews_removed"
	FactDistinctReporters     = "distinct_reporters"
	FactAccountAgeDays        = "account_age_days"
	FactLedgerEntries         = "ledger_entries"
)

// offerReason is the ledger reason code of a consumed offer.
const offerReason = "OFFER_SEND"

// FactStore is the read side the collector needs.
type FactStore interface {
	CountDistinctFingerprints(ctx context.Context, userID string, since time.Time) (int, error)
	LatestUserAgent(ctx context.Context, userID string) (string, error)
	CountSharedIPUsers(ctx context.Context, userID string, since time.Time) (int, error)
	CountSharedDeviceUsers(ctx context.Context, userID string) (int, error)
	ListEvents(ctx context.Context, userID, eventType string, since time.Time) ([]*domain.RiskEvent, error)
	CountEvents(ctx context.Context, userID, eventType string, since time.Time) (int, error)
	CountLedger(ctx context.Context, userID, entryType string, since time.Time) (int, error)
	CountDistinctReferences(ctx context.Context, userID, entryType, reasonCode string, since time.Time) (int, error)
}

// CollectFacts gathers every fact for acct as of now. All keys are always set.
func CollectFacts(ctx context.Context, store FactStore, acct *domain.Account, now time.Time) (*rules.Facts, error) {
	userID := acct.UserID
	f := make(map[string]float64, 13)

	counts := []struct {
		key string
		fn  func() (int, error)
	}{
		{FactDistinctDevices24h, func() (int, error) {
			return store.CountDistinctFingerprints(ctx, userID, now.Add(-24*time.Hour))
		}},
		{FactBehavioralAnomalies7d, func() (int, error) {
			return store.CountEvents(ctx, userID, domain.EventBehavioralAnomaly, now.Add(-7*24*time.Hour))
		}},
		{FactRefunds30d, func() (int, error) {
			return store.CountLedger(ctx, userID, domain.LedgerRefund, now.Add(-30*24*time.Hour))
		}},
		{FactFailedSpends1h, func() (int, error) {
			return store.CountEvents(ctx, userID, domain.EventInsufficientTokens, now.Add(-time.Hour))
		}},
		{FactOfferTargetsToday, func() (int, error) {
			return store.CountDistinctReferences(ctx, userID, domain.LedgerConsume, offerReason, startOfDay(now))
		}},
		{FactSharedIPAccounts7d, func() (int, error) {
			return store.CountSharedIPUsers(ctx, userID, now.Add(-7*24*time.Hour))
		}},
		{FactSharedDeviceAccounts, func() (int, error) {
			return store.CountSharedDeviceUsers(ctx, userID)
		}},
		{FactLedgerEntries, func() (int, error) {
			return store.CountLedger(ctx, userID, "", time.Time{})
		}},
	}
	for _, c := range counts {
		n, err := c.fn()
		if err != nil {
			return nil, fmt.Errorf("collect %s: %w", c.key, err)
		}
		f[c.key] = float64(n)
	}

	changes, err := store.ListEvents(ctx, userID, domain.EventTierChange, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", FactPastRedOrBlack, err)
	}
	f[FactPastRedOrBlack] = 0
	for _, e := range changes {
		if t, _ := e.Metadata["newTier"].(string); t == domain.TierRed.String() || t == domain.TierBlack.String() {
			f[FactPastRedOrBlack] = 1
			break
		}
	}

	reports, err := store.ListEvents(ctx, userID, domain.EventUserReported, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", FactDistinctReporters, err)
	}
	reporters := make(map[string]struct{})
	for _, e := range reports {
		if id, _ := e.Metadata["reporterId"].(string); id != "" {
			reporters[id] = struct{}{}
		}
	}
	f[FactDistinctReporters] = float64(len(reporters))

	f[FactReviewsGiven] = float64(acct.ReviewsGiven)
	f[FactReviewsRemoved] = float64(acct.ReviewsRemoved)
	f[FactAccountAgeDays] = math.Max(0, math.Floor(now.Sub(acct.CreatedAt).Hours()/24))

	ua, err := store.LatestUserAgent(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("collect user agent: %w", err)
	}

	return &rules.Facts{
		Numbers:     f,
		UserAgent:   ua,
		EmailDomain: signals.EmailDomain(acct.Email),
	}, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
