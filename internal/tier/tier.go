// Package tier maps risk scores to enforcement tiers and tiers to feature access.
package tier

import "github.com/opensource-finance/harrier/internal/domain"

// Band is the inclusive score range of one tier.
type Band struct {
	Tier domain.Tier
	Min  int
	Max  int
}

// Bands lists the fixed score bands in ascending order.
var Bands = [domain.TierCount]Band{
	{domain.TierGreen, 0, 20},
	{domain.TierYellow, 21, 40},
	{domain.TierOrange, 41, 60},
	{domain.TierRed, 61, 80},
	{domain.TierBlack, 81, 100},
}

// Of returns the tier for a risk score. Scores outside [0,100] are clamped.
func Of(urs int) domain.Tier {
	switch {
	case urs <= 20:
		return domain.TierGreen
	case urs <= 40:
		return domain.TierYellow
	case urs <= 60:
		return domain.TierOrange
	case urs <= 80:
		return domain.TierRed
	default:
		return domain.TierBlack
	}
}

// LowerBound returns the minimum score of t.
func LowerBound(t domain.Tier) int {
	if !t.Valid() {
		return 0
	}
	return Bands[t].Min
}
