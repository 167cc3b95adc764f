// Package signals holds the versioned risk signal catalog and the category
// scoring that turns observed values into a weighted composite.
package signals

import (
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Version identifies the catalog contents. Bump it when a definition changes.
const Version = "2026.1"

// CategoryCap bounds every category sub-score.
const CategoryCap = 100.0

// Definition is an immutable catalog entry.
type Definition struct {
	ID       string
	Category domain.Category

	// Weight is informational only; the composite uses category weights.
	Weight float64

	Confidence float64
	Threshold  float64
	MaxScore   float64

	// Expr is a CEL expression computing the observed value from collected
	// facts. Empty means the value comes from the latest client observation.
	Expr string
}

// Evaluate applies the threshold to an observed value.
func (d Definition) Evaluate(value float64) domain.SignalValue {
	if value >= d.Threshold {
		return domain.SignalValue{Value: value, Fired: true, Contribution: d.MaxScore * d.Confidence}
	}
	return domain.SignalValue{Value: value}
}

// Catalog is the set of signals and category weights used by scoring.
type Catalog struct {
	defs    []Definition
	byID    map[string]int
	weights map[domain.Category]float64
}

// New builds a catalog, rejecting duplicate ids.
func New(defs []Definition, weights map[domain.Category]float64) (*Catalog, error) {
	c := &Catalog{
		defs:    make([]Definition, len(defs)),
		byID:    make(map[string]int, len(defs)),
		weights: make(map[domain.Category]float64, len(weights)),
	}
	copy(c.defs, defs)
	for i, d := range c.defs {
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate signal %s", domain.ErrValidation, d.ID)
		}
		c.byID[d.ID] = i
	}
	for k, v := range weights {
		c.weights[k] = v
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks confidences and that category weights sum to one.
func (c *Catalog) Validate() error {
	for _, d := range c.defs {
		if d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("%w: signal %s confidence %v outside [0,1]", domain.ErrValidation, d.ID, d.Confidence)
		}
		if _, ok := c.weights[d.Category]; !ok {
			return fmt.Errorf("%w: signal %s has unweighted category %s", domain.ErrValidation, d.ID, d.Category)
		}
	}
	var sum float64
	for _, w := range c.weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("%w: category weights sum to %v", domain.ErrValidation, sum)
	}
	return nil
}

// Definitions returns the catalog entries in declaration order.
func (c *Catalog) Definitions() []Definition { return c.defs }

// Lookup finds a definition by id.
func (c *Catalog) Lookup(id string) (Definition, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Weight returns the composite weight of a category.
func (c *Catalog) Weight(cat domain.Category) float64 { return c.weights[cat] }

// Score evaluates every signal against values (missing ids read as 0) and
// returns the capped category sub-scores with the full snapshot.
func (c *Catalog) Score(values map[string]float64) (map[domain.Category]float64, domain.Snapshot) {
	scores := make(map[domain.Category]float64, len(c.weights))
	snap := make(domain.Snapshot, len(c.defs))
	for _, d := range c.defs {
		v := d.Evaluate(values[d.ID])
		snap[d.ID] = v
		scores[d.Category] += v.Contribution
	}
	for cat, s := range scores {
		scores[cat] = math.Min(s, CategoryCap)
	}
	return scores, snap
}

// Composite is the weighted sum of category scores, before bonuses.
func (c *Catalog) Composite(scores map[domain.Category]float64) float64 {
	var urs float64
	for cat, w := range c.weights {
		urs += w * scores[cat]
	}
	return urs
}
