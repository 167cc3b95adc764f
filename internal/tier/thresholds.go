package tier

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Thresholds are the score cut-offs for review and automatic suspension.
type Thresholds struct {
	Escalation  int
	AutoSuspend int
}

// DefaultThresholds starts review at the RED band and suspends at BLACK.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Escalation:  LowerBound(domain.TierRed),
		AutoSuspend: LowerBound(domain.TierBlack),
	}
}

// Validate enforces autoSuspend >= escalation >= RED lower bound, and keeps
// autoSuspend at or below the BLACK lower bound so every BLACK account is suspended.
func (t Thresholds) Validate() error {
	red, black := LowerBound(domain.TierRed), LowerBound(domain.TierBlack)
	if t.Escalation < red {
		return fmt.Errorf("%w: escalation threshold %d below RED lower bound %d", domain.ErrValidation, t.Escalation, red)
	}
	if t.AutoSuspend < t.Escalation {
		return fmt.Errorf("%w: auto-suspend threshold %d below escalation threshold %d", domain.ErrValidation, t.AutoSuspend, t.Escalation)
	}
	if t.AutoSuspend > black {
		return fmt.Errorf("%w: auto-suspend threshold %d above BLACK lower bound %d", domain.ErrValidation, t.AutoSuspend, black)
	}
	return nil
}

// Severity classifies a score for tier-change events.
func (t Thresholds) Severity(urs int) domain.Severity {
	switch {
	case urs >= t.AutoSuspend:
		return domain.SeverityCritical
	case urs >= t.Escalation:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}
