package risk

import "strings"

var (
	DistressKeywords = []string{
		"help", "emergency", "danger", "scam", "fraud", "police",
		"threat", "hurt", "afraid", "trapped", "urgent",
	}
	OTPKeywords = []string{
		"otp", "one time password", "verification code", "confirm",
		"verify", "security code", "authentication",
	}

	distressMatchers = compile(DistressKeywords)
	otpMatchers      = compile(OTPKeywords)
)

// DetectDistress returns the distress keywords present in text.
func DetectDistress(text string) []string {
	return matches(distressMatchers, text)
}

// DetectOTPRequest returns the OTP/verification keywords present in text.
func DetectOTPRequest(text string) []string {
	return matches(otpMatchers, text)
}

type pattern struct {
	name     string
	matchers []matcher
}

var patterns = []pattern{
	{"Authority impersonation", compile([]string{"irs", "fbi", "police", "government", "court", "legal", "social security"})},
	{"Urgency pressure", compile([]string{"urgent", "immediately", "right now"})},
	{"Threats", compile(ThreatPhrases)},
	{"Payment request", compile([]string{"pay", "owe", "debt", "gift card", "wire transfer", "bitcoin"})},
	{"Prize or reward bait", compile([]string{"prize", "winner", "lottery", "free", "bonus"})},
	{"Credential request", compile([]string{"otp", "password", "verify", "confirm", "verification code"})},
	{"Account suspension claim", compile([]string{"account", "suspend"})},
}

// Patterns names the scam tactics present in text, in a fixed order.
func Patterns(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, p := range patterns {
		if anyMatch(p.matchers, lower) {
			out = append(out, p.name)
		}
	}
	return out
}
