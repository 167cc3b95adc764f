package signals

import (
	"errors"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	if n := len(c.Definitions()); n != 29 {
		t.Errorf("expected 29 signals, got %d", n)
	}

	perCategory := map[domain.Category]int{}
	for _, d := range c.Definitions() {
		perCategory[d.Category]++
	}
	want := map[domain.Category]int{
		domain.CategoryBehavior:    10,
		domain.CategoryTransaction: 7,
		domain.CategoryNetwork:     6,
		domain.CategoryHistory:     6,
	}
	for cat, n := range want {
		if perCategory[cat] != n {
			t.Errorf("%s: expected %d signals, got %d", cat, n, perCategory[cat])
		}
	}

	d, ok := c.Lookup("SHARED_IP")
	if !ok {
		t.Fatal("SHARED_IP missing")
	}
	if d.MaxScore != 25 || d.Confidence != 0.6 || d.Threshold != 3 {
		t.Errorf("SHARED_IP = %+v", d)
	}
}

func TestEvaluate(t *testing.T) {
	d := Definition{ID: "X", Threshold: 3, MaxScore: 25, Confidence: 0.6}

	t.Run("BelowThreshold", func(t *testing.T) {
		v := d.Evaluate(2)
		if v.Fired || v.Contribution != 0 || v.Value != 2 {
			t.Errorf("got %+v", v)
		}
	})

	t.Run("AtThreshold", func(t *testing.T) {
		v := d.Evaluate(3)
		if !v.Fired {
			t.Fatal("expected fire at threshold")
		}
		if v.Contribution != 15 {
			t.Errorf("contribution = %v, want 15", v.Contribution)
		}
	})
}

func TestScore(t *testing.T) {
	c := DefaultCatalog()

	t.Run("NoSignals", func(t *testing.T) {
		scores, snap := c.Score(nil)
		if c.Composite(scores) != 0 {
			t.Errorf("composite = %v", c.Composite(scores))
		}
		if len(snap) != 29 || len(snap.Fired()) != 0 {
			t.Errorf("snapshot = %v", snap)
		}
	})

	t.Run("SharedIPAndDevice", func(t *testing.T) {
		scores, snap := c.Score(map[string]float64{"SHARED_IP": 4, "SHARED_DEVICE": 2})
		// 25*0.6 + 25*0.8 = 35
		if scores[domain.CategoryNetwork] != 35 {
			t.Errorf("network = %v, want 35", scores[domain.CategoryNetwork])
		}
		if got := c.Composite(scores); got != 8.75 {
			t.Errorf("composite = %v, want 8.75", got)
		}
		if len(snap.Fired()) != 2 {
			t.Errorf("fired = %v", snap.Fired())
		}
	})

	t.Run("CategoryCapped", func(t *testing.T) {
		defs := []Definition{
			{ID: "A", Category: domain.CategoryBehavior, Confidence: 1, Threshold: 1, MaxScore: 80},
			{ID: "B", Category: domain.CategoryBehavior, Confidence: 1, Threshold: 1, MaxScore: 80},
		}
		capped, err := New(defs, map[domain.Category]float64{domain.CategoryBehavior: 1})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		scores, _ := capped.Score(map[string]float64{"A": 1, "B": 1})
		if scores[domain.CategoryBehavior] != CategoryCap {
			t.Errorf("behavior = %v, want cap", scores[domain.CategoryBehavior])
		}
	})
}

func TestNewValidation(t *testing.T) {
	_, err := New([]Definition{{ID: "A", Category: domain.CategoryBehavior, Confidence: 0.5}},
		map[domain.Category]float64{domain.CategoryBehavior: 0.5})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("weights not summing to 1: got %v", err)
	}

	_, err = New([]Definition{
		{ID: "A", Category: domain.CategoryBehavior},
		{ID: "A", Category: domain.CategoryBehavior},
	}, map[domain.Category]float64{domain.CategoryBehavior: 1})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("duplicate id: got %v", err)
	}
}

func TestDisposableEmail(t *testing.T) {
	tests := map[string]bool{
		"bot@mailinator.com":  true,
		"Bot@YopMail.com":     true,
		"guide@example.com":   false,
		"not-an-email":        false,
		"x@10minutemail.com":  true,
		"x@sub.mailinator.co": false,
	}
	for email, want := range tests {
		if got := IsDisposableEmail(email); got != want {
			t.Errorf("IsDisposableEmail(%q) = %v, want %v", email, got, want)
		}
	}
}
