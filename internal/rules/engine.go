// Package rules provides the CEL-Go based signal observation engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Expression is a named CEL source that yields a signal's observed value.
type Expression struct {
	ID     string
	Source string
}

// Facts is the activation for observation expressions.
type Facts struct {
	// Numbers holds every numeric fact, exposed to CEL as the map f.
	Numbers     map[string]float64
	UserAgent   string
	EmailDomain string
}

// EvalError reports a single expression that failed at evaluation time.
type EvalError struct {
	ID  string
	Err error
}

func (e *EvalError) Error() string { return fmt.Sprintf("signal %s: %v", e.ID, e.Err) }
func (e *EvalError) Unwrap() error { return e.Err }

// Engine is the CEL-based observation engine.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	programs   map[string]cel.Program
	disposable []string
	maxWorkers int
}

// NewEngine creates a new observation engine. disposable is exposed to
// expressions as disposable_domains.
func NewEngine(disposable []string, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("f", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("user_agent", cel.StringType),
		cel.Variable("email_domain", cel.StringType),
		cel.Variable("disposable_domains", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		programs:   make(map[string]cel.Program),
		disposable: append([]string(nil), disposable...),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles an expression without loading it.
func (e *Engine) Validate(expr Expression) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(expr)
	return err
}

// Load compiles and loads an expression, replacing any with the same id.
func (e *Engine) Load(expr Expression) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prg, err := e.compile(expr)
	if err != nil {
		return err
	}
	e.programs[expr.ID] = prg
	return nil
}

// Reload swaps in a new expression set atomically. On error nothing changes.
func (e *Engine) Reload(exprs []Expression) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]cel.Program, len(exprs))
	for _, expr := range exprs {
		prg, err := e.compile(expr)
		if err != nil {
			return err
		}
		next[expr.ID] = prg
	}
	e.programs = next
	return nil
}

// Count returns the number of loaded expressions.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// IDs returns the loaded expression ids, sorted.
func (e *Engine) IDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.programs))
	for id := range e.programs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate runs every loaded expression in parallel. Failed expressions are
// reported in the error slice and left out of the result map.
func (e *Engine) Evaluate(ctx context.Context, facts *Facts) (map[string]float64, []error) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.programs))
	progs := make([]cel.Program, 0, len(e.programs))
	for id, prg := range e.programs {
		ids = append(ids, id)
		progs = append(progs, prg)
	}
	e.mu.RUnlock()

	if len(progs) == 0 {
		return map[string]float64{}, nil
	}

	numbers := facts.Numbers
	if numbers == nil {
		numbers = map[string]float64{}
	}
	activation := map[string]any{
		"f":                  numbers,
		"user_agent":         facts.UserAgent,
		"email_domain":       facts.EmailDomain,
		"disposable_domains": e.disposable,
	}

	values := make([]float64, len(progs))
	errs := make([]error, len(progs))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, prg := range progs {
		wg.Add(1)
		go func(idx int, p cel.Program) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if err := ctx.Err(); err != nil {
				errs[idx] = &EvalError{ID: ids[idx], Err: err}
				return
			}
			out, _, err := p.Eval(activation)
			if err != nil {
				errs[idx] = &EvalError{ID: ids[idx], Err: err}
				return
			}
			values[idx] = toValue(out)
		}(i, prg)
	}

	wg.Wait()

	result := make(map[string]float64, len(progs))
	var failed []error
	for i, id := range ids {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		result[id] = values[i]
	}
	return result, failed
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]cel.Program)
	return nil
}

// toValue converts a CEL value to an observed signal value.
func toValue(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

func (e *Engine) compile(expr Expression) (cel.Program, error) {
	ast, issues := e.env.Compile(expr.Source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile signal %s: %w", expr.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("signal %s: expression must return bool, int, or double, got %s", expr.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for signal %s: %w", expr.ID, err)
	}
	return program, nil
}
