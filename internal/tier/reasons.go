package tier

import "strings"

// Reason is a stable deny code; Localize renders it for users.
type Reason string

const (
	ReasonAccountRestricted  Reason = "ACCOUNT_RESTRICTED"
	ReasonFeatureRestricted  Reason = "FEATURE_RESTRICTED"
	ReasonVelocityLimit      Reason = "VELOCITY_LIMIT"
	ReasonServiceUnavailable Reason = "SERVICE_UNAVAILABLE"
)

// DefaultLanguage is used when the caller does not ask for one we know.
const DefaultLanguage = "tr"

var messages = map[string]map[Reason]string{
	"tr": {
		ReasonAccountRestricted:  "Hesabınız kısıtlandı",
		ReasonFeatureRestricted:  "Bu özellik hesabınız için kısıtlandı",
		ReasonVelocityLimit:      "Çok fazla istek gönderdiniz, lütfen daha sonra tekrar deneyin",
		ReasonServiceUnavailable: "Hizmet geçici olarak kullanılamıyor",
	},
	"en": {
		ReasonAccountRestricted:  "Your account is restricted",
		ReasonFeatureRestricted:  "This feature is restricted for your account",
		ReasonVelocityLimit:      "Too many requests, please try again later",
		ReasonServiceUnavailable: "Service temporarily unavailable",
	},
}

// Localize returns r's message in lang, which may be an Accept-Language value.
func Localize(r Reason, lang string) string {
	table, ok := messages[primaryLanguage(lang)]
	if !ok {
		table = messages[DefaultLanguage]
	}
	if msg, ok := table[r]; ok {
		return msg
	}
	return string(r)
}

func primaryLanguage(header string) string {
	tag := header
	if i := strings.IndexAny(tag, ",;"); i >= 0 {
		tag = tag[:i]
	}
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(strings.TrimSpace(tag))
}
