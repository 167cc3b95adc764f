// Package detect holds the registration-time and batch sybil detectors.
package detect

import (
	"math"

	"github.com/opensource-finance/harrier/internal/validation"
)

// RegistrationBehavior is client-collected interaction telemetry for one
// registration form. It carries timing only, never PII.
type RegistrationBehavior struct {
	PageLoadToFirstKeystrokeMs float64   `json:"pageLoadToFirstKeystrokeMs" validate:"gte=0"`
	TotalFormTimeMs            float64   `json:"totalFormTimeMs" validate:"gte=0,lte=600000"`
	FieldTabCount              int       `json:"fieldTabCount" validate:"gte=0,lte=100"`
	PasteEvents                int       `json:"pasteEvents" validate:"gte=0,lte=20"`
	MouseMovements             int       `json:"mouseMovements" validate:"gte=0,lte=10000"`
	ScrollEvents               int       `json:"scrollEvents" validate:"gte=0,lte=10000"`
	KeystrokeDeltasMs          []float64 `json:"keystrokeDeltasMs" validate:"dive,gte=0,lte=30000"`
}

// Validate rejects implausible telemetry with domain.ErrValidation.
func (b *RegistrationBehavior) Validate() error {
	return validation.Struct(b)
}

// EntropyScore rates how machine-like the telemetry looks, 0 to 75.
func EntropyScore(b *RegistrationBehavior) int {
	score := 0

	switch {
	case b.PageLoadToFirstKeystrokeMs < 200:
		score += 15
	case b.PageLoadToFirstKeystrokeMs < 400:
		score += 8
	}

	switch {
	case b.TotalFormTimeMs < 3000:
		score += 20
	case b.TotalFormTimeMs < 8000:
		score += 10
	}

	if b.FieldTabCount == 0 && b.TotalFormTimeMs > 5000 {
		score += 5
	}

	switch {
	case b.PasteEvents >= 3:
		score += 10
	case b.PasteEvents == 2:
		score += 5
	}

	switch {
	case b.MouseMovements < 3:
		score += 15
	case b.MouseMovements < 8:
		score += 5
	}

	if len(b.KeystrokeDeltasMs) >= 5 && stdDev(b.KeystrokeDeltasMs) < 15 {
		score += 10
	}

	return score
}

// stdDev is the population standard deviation; fewer than two values give +Inf.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return math.Inf(1)
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
