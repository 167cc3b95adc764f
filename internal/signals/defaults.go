package signals

import (
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Category weights for the composite score.
var DefaultWeights = map[domain.Category]float64{
	domain.CategoryBehavior:    0.25,
	domain.CategoryTransaction: 0.30,
	domain.CategoryNetwork:     0.25,
	domain.CategoryHistory:     0.20,
}

// DisposableEmailDomains are throwaway mailbox providers.
var DisposableEmailDomains = []string{
	"tempmail.com", "guerrillamail.com", "mailnesia.com", "throwaway.email",
	"yopmail.com", "getnada.com", "maildrop.cc", "dispostable.com",
	"mailinator.com", "sharklasers.com", "guerrillamailblock.com",
	"temp-mail.org", "fakeinbox.com", "trashmail.com", "10minutemail.com",
	"tempail.com", "discard.email", "tempmailaddress.com",
}

var disposable = func() map[string]struct{} {
	m := make(map[string]struct{}, len(DisposableEmailDomains))
	for _, d := range DisposableEmailDomains {
		m[d] = struct{}{}
	}
	return m
}()

// EmailDomain returns the lowercased part after the last '@'.
func EmailDomain(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[i+1:]))
}

// IsDisposableEmail reports whether email uses a throwaway provider.
func IsDisposableEmail(email string) bool {
	_, ok := disposable[EmailDomain(email)]
	return ok
}

func def(id string, cat domain.Category, weight, confidence, threshold, maxScore float64, expr string) Definition {
	return Definition{ID: id, Category: cat, Weight: weight, Confidence: confidence, Threshold: threshold, MaxScore: maxScore, Expr: expr}
}

// DefaultDefinitions is the shipped signal set.
var DefaultDefinitions = []Definition{
	// Behavior
	def("SESSION_VELOCITY", domain.CategoryBehavior, 15, 0.7, 30, 15, ""),
	def("TIME_TO_ACTION", domain.CategoryBehavior, 10, 0.6, 2, 10, ""),
	def("PAGE_SKIP", domain.CategoryBehavior, 10, 0.5, 0.7, 10, ""),
	def("ODD_HOURS", domain.CategoryBehavior, 5, 0.3, 10, 5, ""),
	def("DEVICE_CHANGES", domain.CategoryBehavior, 10, 0.7, 3, 10, `f.distinct_devices_24h`),
	def("IP_MISMATCH", domain.CategoryBehavior, 10, 0.5, 1, 10, ""),
	def("AUTOMATION_MARKERS", domain.CategoryBehavior, 15, 0.9, 1, 15,
		`user_agent.contains("HeadlessChrome") || user_agent.contains("webdriver") || f.behavioral_anomalies_7d > 0.0`),
	def("FORM_FILL_SPEED", domain.CategoryBehavior, 5, 0.5, 500, 5, ""),
	def("REVIEW_WRITE_SPEED", domain.CategoryBehavior, 10, 0.6, 10, 10, ""),
	def("LOW_INTERACTION_DEPTH", domain.CategoryBehavior, 10, 0.4, 3, 10, ""),

	// Transaction
	def("SPEND_VELOCITY", domain.CategoryTransaction, 20, 0.8, 3, 20, ""),
	def("REFUND_RATE", domain.CategoryTransaction, 15, 0.7, 2, 15, `f.refunds_30d`),
	def("PURCHASE_SPEND_GAP", domain.CategoryTransaction, 15, 0.6, 60, 15, ""),
	def("FAILED_SPEND_PROBING", domain.CategoryTransaction, 10, 0.8, 5, 10, `f.failed_spends_1h`),
	def("BOOST_SPAM", domain.CategoryTransaction, 15, 0.7, 2, 15, ""),
	def("OFFER_SCATTER", domain.CategoryTransaction, 10, 0.5, 20, 10, `f.offer_targets_today`),
	def("IDEMPOTENCY_ANOMALY", domain.CategoryTransaction, 15, 0.9, 5, 15, ""),

	// Network
	def("SHARED_IP", domain.CategoryNetwork, 25, 0.6, 3, 25, `f.shared_ip_accounts_7d`),
	def("SHARED_DEVICE", domain.CategoryNetwork, 25, 0.8, 2, 25, `f.shared_device_accounts`),
	def("PHONE_RECYCLING", domain.CategoryNetwork, 15, 0.7, 1, 15, ""),
	def("DISPOSABLE_EMAIL", domain.CategoryNetwork, 10, 0.9, 1, 10, `email_domain in disposable_domains`),
	def("REGISTRATION_BURST", domain.CategoryNetwork, 15, 0.7, 2, 15, ""),
	def("REFERRAL_CHAIN", domain.CategoryNetwork, 10, 0.5, 3, 10, ""),

	// History
	def("PAST_ENFORCEMENT", domain.CategoryHistory, 30, 0.9, 1, 30, `f.past_red_or_black > 0.0`),
	def("REVIEW_REMOVAL_RATE", domain.CategoryHistory, 15, 0.6, 0.3, 15,
		`f.reviews_given > 0.0 ? f.reviews_removed / f.reviews_given : 0.0`),
	def("LISTING_REJECTION_RATE", domain.CategoryHistory, 15, 0.6, 0.5, 15, ""),
	def("REPORT_COUNT", domain.CategoryHistory, 20, 0.5, 3, 20, `f.distinct_reporters`),
	def("NEW_ACCOUNT_HIGH_ACTIVITY", domain.CategoryHistory, 10, 0.4, 50, 10,
		`f.account_age_days < 7.0 ? f.ledger_entries : 0.0`),
	def("TRUST_DECLINE", domain.CategoryHistory, 10, 0.5, 0.15, 10, ""),
}

// DefaultCatalog returns the shipped catalog.
func DefaultCatalog() *Catalog {
	c, err := New(DefaultDefinitions, DefaultWeights)
	if err != nil {
		panic(err)
	}
	return c
}
