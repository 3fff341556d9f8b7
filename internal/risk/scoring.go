// Package risk scores transcript text and keeps the rolling, call-scoped
// risk state.
package risk

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

const (
	KeywordIncrement = 0.1
	UrgencyBonus     = 0.2
	ThreatBonus      = 0.3
)

// Vocabulary of authority, urgency, threat and payment-request terms. Each
// term counts at most once per scored text.
var Vocabulary = []string{
	// autoridade
	"irs", "fbi", "police", "government", "court", "legal", "social security",
	// urgência / conta
	"urgent", "immediately", "account", "suspend", "security",
	// ameaça / dívida
	"arrest", "owe", "debt",
	// isca
	"prize", "winner", "lottery", "free", "bonus",
	// pagamento / credenciais
	"pay", "gift card", "wire transfer", "bitcoin", "otp", "password", "verify", "confirm",
}

var (
	UrgencyPhrases = []string{"right now", "immediately"}
	ThreatPhrases  = []string{"arrest", "jail", "sued"}
)

type matcher struct {
	term string
	re   *regexp.Regexp
}

var (
	vocabMatchers   = compile(Vocabulary)
	urgencyMatchers = compile(UrgencyPhrases)
	threatMatchers  = compile(ThreatPhrases)
)

// compile matches each term at a word start, allowing the usual English
// inflections ("arrested", "suspended", "payment").
func compile(terms []string) []matcher {
	out := make([]matcher, 0, len(terms))
	for _, term := range terms {
		out = append(out, matcher{
			term: term,
			re:   regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `(s|es|ed|ing|ment|ments)?\b`),
		})
	}
	return out
}

// Explanation lists what contributed to a score.
type Explanation struct {
	Score    float64  `json:"score"`
	Keywords []string `json:"keywords,omitempty"`
	Urgency  bool     `json:"urgency"`
	Threat   bool     `json:"threat"`
}

// Score is pure: the same text always yields the same value in [0,1].
func Score(text string) float64 {
	return Explain(text).Score
}

func Explain(text string) Explanation {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return Explanation{}
	}

	var exp Explanation
	total := 0.0
	for _, m := range vocabMatchers {
		if m.re.MatchString(lower) {
			exp.Keywords = append(exp.Keywords, m.term)
			total += KeywordIncrement
		}
	}
	if anyMatch(urgencyMatchers, lower) {
		exp.Urgency = true
		total += UrgencyBonus
	}
	if anyMatch(threatMatchers, lower) {
		exp.Threat = true
		total += ThreatBonus
	}

	exp.Score = round2(clamp(total, 0, 1))
	return exp
}

// Sample wraps a keyword score as a RiskSample.
func Sample(text string, at time.Time) models.RiskSample {
	return models.RiskSample{T: at.UTC(), Score: Score(text), Source: models.SourceKeyword}
}

func anyMatch(ms []matcher, text string) bool {
	for _, m := range ms {
		if m.re.MatchString(text) {
			return true
		}
	}
	return false
}

func matches(ms []matcher, text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, m := range ms {
		if m.re.MatchString(lower) {
			found = append(found, m.term)
		}
	}
	return found
}

func clamp(value, min, max float64) float64 {
	if math.IsNaN(value) || value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
