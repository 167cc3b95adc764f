package domain

import "fmt"

// Feature is a gated marketplace capability.
type Feature uint8

const (
	FeatureSendOffer Feature = iota
	FeatureUnlockDemand
	FeatureBoostListing
	FeatureCreateListing
	FeatureSubmitReview
	FeatureSendMessage
	FeaturePurchaseTokens
	FeatureRequestRefund
	FeatureIdentityApply

	// FeatureCount is the number of features; it sizes the feature matrix.
	FeatureCount
)

var featureNames = [FeatureCount]string{
	"SEND_OFFER",
	"UNLOCK_DEMAND",
	"BOOST_LISTING",
	"CREATE_LISTING",
	"SUBMIT_REVIEW",
	"SEND_MESSAGE",
	"PURCHASE_TOKENS",
	"REQUEST_REFUND",
	"IDENTITY_APPLY",
}

func (f Feature) String() string {
	if f >= FeatureCount {
		return fmt.Sprintf("Feature(%d)", uint8(f))
	}
	return featureNames[f]
}

// ParseFeature rejects anything outside the closed feature set.
func ParseFeature(s string) (Feature, error) {
	for i, name := range featureNames {
		if name == s {
			return Feature(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown feature %q", ErrValidation, s)
}

func (f Feature) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Feature) UnmarshalText(b []byte) error {
	parsed, err := ParseFeature(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Action is a velocity-counted user action. ActionNone means no velocity check.
type Action uint8

const (
	ActionNone Action = iota
	ActionOfferSend
	ActionDemandUnlock
	ActionBoost
	ActionBoostPortfolio
	ActionLoginAttempt
	ActionRegister
	ActionReviewSubmit
	ActionMessageSend
	ActionListingCreate
	ActionRefundRequest

	// ActionCount sizes the velocity rule table.
	ActionCount
)

var actionNames = [ActionCount]string{
	"",
	"OFFER_SEND",
	"DEMAND_UNLOCK",
	"BOOST",
	"BOOST_PORTFOLIO",
	"LOGIN_ATTEMPT",
	"REGISTER",
	"REVIEW_SUBMIT",
	"MESSAGE_SEND",
	"LISTING_CREATE",
	"REFUND_REQUEST",
}

func (a Action) String() string {
	if a >= ActionCount {
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
	return actionNames[a]
}

// ParseAction maps an empty string to ActionNone.
func ParseAction(s string) (Action, error) {
	for i, name := range actionNames {
		if name == s {
			return Action(i), nil
		}
	}
	return ActionNone, fmt.Errorf("%w: unknown action %q", ErrValidation, s)
}

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// VelocityResponse is what a violated velocity rule asks for. Higher values
// are more severe.
type VelocityResponse uint8

const (
	VelocityPass VelocityResponse = iota
	VelocityWarn
	VelocityThrottle
	VelocityBlock

	// VelocityResponseCount sizes tables indexed by response.
	VelocityResponseCount
)

var velocityResponseNames = [VelocityResponseCount]string{"PASS", "WARN", "THROTTLE", "BLOCK"}

func (r VelocityResponse) String() string {
	if r >= VelocityResponseCount {
		return fmt.Sprintf("VelocityResponse(%d)", uint8(r))
	}
	return velocityResponseNames[r]
}

func (r VelocityResponse) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *VelocityResponse) UnmarshalText(b []byte) error {
	for i, name := range velocityResponseNames {
		if name == string(b) {
			*r = VelocityResponse(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown velocity response %q", ErrValidation, b)
}
