package tier

import "github.com/opensource-finance/harrier/internal/domain"

// Gate is the access rule for one feature at one tier.
type Gate struct {
	Allowed          bool   `json:"allowed"`
	DailyLimit       int    `json:"dailyLimit,omitempty"`
	RequiresApproval bool   `json:"requiresApproval,omitempty"`
	Reason           Reason `json:"reason,omitempty"`
}

var (
	full       = Gate{Allowed: true}
	blocked    = Gate{Allowed: false, Reason: ReasonAccountRestricted}
	restricted = Gate{Allowed: false, Reason: ReasonFeatureRestricted}
	review     = Gate{Allowed: true, RequiresApproval: true}
)

func limit(n int) Gate { return Gate{Allowed: true, DailyLimit: n} }

func row(g Gate) [domain.FeatureCount]Gate {
	var r [domain.FeatureCount]Gate
	for i := range r {
		r[i] = g
	}
	return r
}

// matrix is indexed by tier then feature; every cell is populated.
var matrix = func() [domain.TierCount][domain.FeatureCount]Gate {
	var m [domain.TierCount][domain.FeatureCount]Gate

	m[domain.TierGreen] = row(full)

	m[domain.TierYellow] = row(full)
	m[domain.TierYellow][domain.FeatureSendOffer] = limit(20)
	m[domain.TierYellow][domain.FeatureUnlockDemand] = limit(15)
	m[domain.TierYellow][domain.FeatureSendMessage] = limit(100)

	m[domain.TierOrange] = [domain.FeatureCount]Gate{
		domain.FeatureSendOffer:      limit(3),
		domain.FeatureUnlockDemand:   limit(2),
		domain.FeatureBoostListing:   restricted,
		domain.FeatureCreateListing:  review,
		domain.FeatureSubmitReview:   review,
		domain.FeatureSendMessage:    limit(30),
		domain.FeaturePurchaseTokens: full,
		domain.FeatureRequestRefund:  review,
		domain.FeatureIdentityApply:  full,
	}

	m[domain.TierRed] = [domain.FeatureCount]Gate{
		domain.FeatureSendOffer:      restricted,
		domain.FeatureUnlockDemand:   restricted,
		domain.FeatureBoostListing:   restricted,
		domain.FeatureCreateListing:  restricted,
		domain.FeatureSubmitReview:   restricted,
		domain.FeatureSendMessage:    limit(10),
		domain.FeaturePurchaseTokens: limit(1),
		domain.FeatureRequestRefund:  review,
		domain.FeatureIdentityApply:  full,
	}

	m[domain.TierBlack] = row(blocked)
	return m
}()

// For returns the gate for a feature at a tier. Anything outside the closed
// enums is blocked.
func For(t domain.Tier, f domain.Feature) Gate {
	if !t.Valid() || f >= domain.FeatureCount {
		return blocked
	}
	return matrix[t][f]
}
