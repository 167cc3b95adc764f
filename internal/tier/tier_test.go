package tier

import (
	"errors"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestOf(t *testing.T) {
	tests := []struct {
		urs  int
		want domain.Tier
	}{
		{0, domain.TierGreen},
		{20, domain.TierGreen},
		{21, domain.TierYellow},
		{40, domain.TierYellow},
		{41, domain.TierOrange},
		{60, domain.TierOrange},
		{61, domain.TierRed},
		{80, domain.TierRed},
		{81, domain.TierBlack},
		{100, domain.TierBlack},
	}

	for _, tt := range tests {
		if got := Of(tt.urs); got != tt.want {
			t.Errorf("Of(%d) = %s, want %s", tt.urs, got, tt.want)
		}
	}
}

func TestBandsCoverRange(t *testing.T) {
	next := 0
	for i, b := range Bands {
		if b.Tier != domain.Tier(i) {
			t.Fatalf("band %d holds tier %s", i, b.Tier)
		}
		if b.Min != next {
			t.Fatalf("band %s starts at %d, want %d", b.Tier, b.Min, next)
		}
		for urs := b.Min; urs <= b.Max; urs++ {
			if Of(urs) != b.Tier {
				t.Fatalf("Of(%d) = %s, band says %s", urs, Of(urs), b.Tier)
			}
		}
		next = b.Max + 1
	}
	if next != 101 {
		t.Fatalf("bands end at %d, want 100", next-1)
	}
}

func TestFor(t *testing.T) {
	t.Run("GreenIsFull", func(t *testing.T) {
		for f := domain.Feature(0); f < domain.FeatureCount; f++ {
			g := For(domain.TierGreen, f)
			if !g.Allowed || g.DailyLimit != 0 || g.RequiresApproval {
				t.Errorf("GREEN %s = %+v, want full access", f, g)
			}
		}
	})

	t.Run("BlackIsBlocked", func(t *testing.T) {
		for f := domain.Feature(0); f < domain.FeatureCount; f++ {
			g := For(domain.TierBlack, f)
			if g.Allowed {
				t.Errorf("BLACK %s allowed", f)
			}
			if g.Reason != ReasonAccountRestricted {
				t.Errorf("BLACK %s reason = %s", f, g.Reason)
			}
		}
	})

	t.Run("Limits", func(t *testing.T) {
		tests := []struct {
			tier    domain.Tier
			feature domain.Feature
			limit   int
		}{
			{domain.TierYellow, domain.FeatureSendOffer, 20},
			{domain.TierYellow, domain.FeatureUnlockDemand, 15},
			{domain.TierYellow, domain.FeatureSendMessage, 100},
			{domain.TierOrange, domain.FeatureSendOffer, 3},
			{domain.TierOrange, domain.FeatureUnlockDemand, 2},
			{domain.TierOrange, domain.FeatureSendMessage, 30},
			{domain.TierRed, domain.FeatureSendMessage, 10},
			{domain.TierRed, domain.FeaturePurchaseTokens, 1},
		}
		for _, tt := range tests {
			g := For(tt.tier, tt.feature)
			if !g.Allowed || g.DailyLimit != tt.limit {
				t.Errorf("%s %s = %+v, want limit %d", tt.tier, tt.feature, g, tt.limit)
			}
		}
	})

	t.Run("Orange", func(t *testing.T) {
		if For(domain.TierOrange, domain.FeatureBoostListing).Allowed {
			t.Error("ORANGE BOOST_LISTING should be blocked")
		}
		for _, f := range []domain.Feature{domain.FeatureCreateListing, domain.FeatureSubmitReview, domain.FeatureRequestRefund} {
			g := For(domain.TierOrange, f)
			if !g.Allowed || !g.RequiresApproval {
				t.Errorf("ORANGE %s = %+v, want approval", f, g)
			}
		}
	})

	t.Run("Red", func(t *testing.T) {
		for _, f := range []domain.Feature{
			domain.FeatureSendOffer, domain.FeatureUnlockDemand, domain.FeatureBoostListing,
			domain.FeatureCreateListing, domain.FeatureSubmitReview,
		} {
			if For(domain.TierRed, f).Allowed {
				t.Errorf("RED %s should be blocked", f)
			}
		}
		if g := For(domain.TierRed, domain.FeatureIdentityApply); !g.Allowed || g.DailyLimit != 0 {
			t.Errorf("RED IDENTITY_APPLY = %+v", g)
		}
		if g := For(domain.TierRed, domain.FeatureRequestRefund); !g.RequiresApproval {
			t.Errorf("RED REQUEST_REFUND = %+v", g)
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		if For(domain.TierCount, domain.FeatureSendOffer).Allowed {
			t.Error("invalid tier allowed")
		}
		if For(domain.TierGreen, domain.FeatureCount).Allowed {
			t.Error("invalid feature allowed")
		}
	})
}

func TestThresholds(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds invalid: %v", err)
	}

	bad := []Thresholds{
		{Escalation: 60, AutoSuspend: 80},
		{Escalation: 70, AutoSuspend: 65},
		{Escalation: 61, AutoSuspend: 90},
	}
	for _, th := range bad {
		if err := th.Validate(); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("Validate(%+v) = %v, want validation error", th, err)
		}
	}

	th := DefaultThresholds()
	if th.Severity(85) != domain.SeverityCritical || th.Severity(65) != domain.SeverityHigh || th.Severity(30) != domain.SeverityMedium {
		t.Error("unexpected severity classification")
	}
}

func TestLocalize(t *testing.T) {
	if got := Localize(ReasonAccountRestricted, ""); got != "Hesabınız kısıtlandı" {
		t.Errorf("default language = %q", got)
	}
	if got := Localize(ReasonFeatureRestricted, "en-US,en;q=0.9"); got != "This feature is restricted for your account" {
		t.Errorf("en = %q", got)
	}
	if got := Localize(ReasonVelocityLimit, "de"); got != Localize(ReasonVelocityLimit, "tr") {
		t.Errorf("unknown language should fall back to tr, got %q", got)
	}
}
