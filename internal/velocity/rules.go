package velocity

import (
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Response is the escalation a violated rule asks for.
type Response = domain.VelocityResponse

const (
	ResponsePass     = domain.VelocityPass
	ResponseWarn     = domain.VelocityWarn
	ResponseThrottle = domain.VelocityThrottle
	ResponseBlock    = domain.VelocityBlock
)

// Rule caps an action to MaxCount occurrences per Window.
type Rule struct {
	Window   time.Duration
	MaxCount int64
	Response Response
}

// RuleSet is indexed by action. Rules for one action are ordered by window.
type RuleSet [domain.ActionCount][]Rule

const (
	minBucket = time.Second
	maxBucket = time.Hour
)

// DefaultRules returns the shipped velocity limits.
func DefaultRules() RuleSet {
	var rs RuleSet
	rs.Set(domain.ActionOfferSend,
		Rule{Window: time.Hour, MaxCount: 15, Response: ResponseThrottle},
		Rule{Window: 24 * time.Hour, MaxCount: 40, Response: ResponseBlock},
	)
	rs.Set(domain.ActionDemandUnlock, Rule{Window: time.Hour, MaxCount: 10, Response: ResponseThrottle})
	rs.Set(domain.ActionBoost, Rule{Window: 24 * time.Hour, MaxCount: 9, Response: ResponseBlock})
	rs.Set(domain.ActionBoostPortfolio, Rule{Window: 24 * time.Hour, MaxCount: 9, Response: ResponseBlock})
	rs.Set(domain.ActionLoginAttempt, Rule{Window: 5 * time.Minute, MaxCount: 10, Response: ResponseBlock})
	rs.Set(domain.ActionRegister, Rule{Window: time.Hour, MaxCount: 3, Response: ResponseBlock})
	rs.Set(domain.ActionReviewSubmit, Rule{Window: 24 * time.Hour, MaxCount: 5, Response: ResponseThrottle})
	rs.Set(domain.ActionMessageSend, Rule{Window: time.Minute, MaxCount: 20, Response: ResponseThrottle})
	rs.Set(domain.ActionListingCreate, Rule{Window: 24 * time.Hour, MaxCount: 5, Response: ResponseBlock})
	rs.Set(domain.ActionRefundRequest, Rule{Window: 7 * 24 * time.Hour, MaxCount: 3, Response: ResponseBlock})
	return rs
}

// Set replaces the rules for an action.
func (rs *RuleSet) Set(a domain.Action, rules ...Rule) {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Window < sorted[j].Window })
	rs[a] = sorted
}

// For returns the rules of an action, tightest window first.
func (rs *RuleSet) For(a domain.Action) []Rule {
	if a >= domain.ActionCount {
		return nil
	}
	return rs[a]
}

// BucketWidth is the smallest window of the action divided into 60 buckets,
// clamped to [1s, 1h].
func (rs *RuleSet) BucketWidth(a domain.Action) time.Duration {
	rules := rs.For(a)
	if len(rules) == 0 {
		return minBucket
	}
	w := (rules[0].Window / 60).Truncate(time.Second)
	if w < minBucket {
		return minBucket
	}
	if w > maxBucket {
		return maxBucket
	}
	return w
}

// MaxWindow is the longest window configured for the action.
func (rs *RuleSet) MaxWindow(a domain.Action) time.Duration {
	rules := rs.For(a)
	if len(rules) == 0 {
		return 0
	}
	return rules[len(rules)-1].Window
}
