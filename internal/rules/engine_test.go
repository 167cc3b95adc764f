package rules

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/opensource-finance/harrier/internal/signals"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(nil, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.Count() != 0 {
		t.Errorf("expected 0 expressions, got %d", engine.Count())
	}
}

func TestLoad(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	t.Run("Valid", func(t *testing.T) {
		if err := engine.Load(Expression{ID: "DEVICE_CHANGES", Source: "f.distinct_devices_24h"}); err != nil {
			t.Fatalf("failed to load: %v", err)
		}
		if engine.Count() != 1 {
			t.Errorf("expected 1 expression, got %d", engine.Count())
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		if err := engine.Load(Expression{ID: "BAD", Source: "this is not valid CEL !!!"}); err == nil {
			t.Error("expected error for invalid CEL expression")
		}
	})

	t.Run("WrongOutputType", func(t *testing.T) {
		if err := engine.Validate(Expression{ID: "STR", Source: "user_agent"}); err == nil {
			t.Error("expected error for string output")
		}
	})
}

func TestReloadKeepsOldSetOnError(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	engine.Load(Expression{ID: "A", Source: "1.0"})
	err := engine.Reload([]Expression{{ID: "B", Source: "2.0"}, {ID: "C", Source: "!!!"}})
	if err == nil {
		t.Fatal("expected reload error")
	}
	if ids := engine.IDs(); len(ids) != 1 || ids[0] != "A" {
		t.Errorf("expected original set, got %v", ids)
	}
}

func TestEvaluate(t *testing.T) {
	engine, _ := NewEngine([]string{"mailinator.com"}, 3)
	defer engine.Close()

	exprs := []Expression{
		{ID: "NUM", Source: "f.shared_ip_accounts_7d"},
		{ID: "BOOL", Source: `user_agent.contains("HeadlessChrome")`},
		{ID: "LIST", Source: "email_domain in disposable_domains"},
		{ID: "RATIO", Source: "f.given > 0.0 ? f.removed / f.given : 0.0"},
		{ID: "INT", Source: "3"},
	}
	if err := engine.Reload(exprs); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	got, errs := engine.Evaluate(context.Background(), &Facts{
		Numbers:     map[string]float64{"shared_ip_accounts_7d": 4, "given": 10, "removed": 4},
		UserAgent:   "Mozilla/5.0 HeadlessChrome/120",
		EmailDomain: "mailinator.com",
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	want := map[string]float64{"NUM": 4, "BOOL": 1, "LIST": 1, "RATIO": 0.4, "INT": 3}
	for id, v := range want {
		if got[id] != v {
			t.Errorf("%s = %v, want %v", id, got[id], v)
		}
	}
}

func TestEvaluateMissingFact(t *testing.T) {
	engine, _ := NewEngine(nil, 2)
	defer engine.Close()

	engine.Load(Expression{ID: "OK", Source: "f.present"})
	engine.Load(Expression{ID: "MISSING", Source: "f.absent"})

	got, errs := engine.Evaluate(context.Background(), &Facts{Numbers: map[string]float64{"present": 2}})
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	var evalErr *EvalError
	if !errors.As(errs[0], &evalErr) || evalErr.ID != "MISSING" {
		t.Errorf("unexpected error: %v", errs[0])
	}
	if _, ok := got["MISSING"]; ok {
		t.Error("failed expression should be absent from results")
	}
	if got["OK"] != 2 {
		t.Errorf("OK = %v", got["OK"])
	}
}

func TestEvaluateCancelled(t *testing.T) {
	engine, _ := NewEngine(nil, 2)
	defer engine.Close()

	for i := 0; i < 4; i++ {
		engine.Load(Expression{ID: fmt.Sprintf("S%d", i), Source: "1.0"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, errs := engine.Evaluate(ctx, &Facts{})
	if len(errs) != 4 || len(got) != 0 {
		t.Errorf("expected all expressions cancelled, got %v / %v", got, errs)
	}
}

func TestDefaultCatalogExpressionsCompile(t *testing.T) {
	engine, _ := NewEngine(signals.DisposableEmailDomains, 4)
	defer engine.Close()

	for _, d := range signals.DefaultDefinitions {
		if d.Expr == "" {
			continue
		}
		if err := engine.Validate(Expression{ID: d.ID, Source: d.Expr}); err != nil {
			t.Errorf("%s: %v", d.ID, err)
		}
	}
}
