package risk

import (
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// DefaultDecayWeight discounts how much one sample can raise the sticky peak.
const DefaultDecayWeight = 0.7

// Level thresholds.
const (
	MediumThreshold   = 0.3
	HighThreshold     = 0.6
	CriticalThreshold = 0.8
)

// Classify maps a score to a level: <0.3 low, <0.6 medium, <0.8 high, else critical.
func Classify(score float64) models.RiskLevel {
	switch {
	case score < MediumThreshold:
		return models.RiskLow
	case score < HighThreshold:
		return models.RiskMedium
	case score < CriticalThreshold:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// Aggregator keeps the rolling risk state of one call. PeakScore only ever
// ratchets up, so once elevated the level cannot drop back without the call
// ending. Not safe for concurrent use: the owning session serializes access.
type Aggregator struct {
	decayWeight float64
	state       models.RollingRiskState
}

func NewAggregator(decayWeight float64) *Aggregator {
	if decayWeight <= 0 || decayWeight > 1 {
		decayWeight = DefaultDecayWeight
	}
	return &Aggregator{
		decayWeight: decayWeight,
		state:       models.RollingRiskState{Level: models.RiskLow},
	}
}

// Observe folds one sample into the state and returns the new state.
func (a *Aggregator) Observe(sample models.RiskSample) models.RollingRiskState {
	score := clamp(sample.Score, 0, 1)

	a.state.RealTimeScore = score
	if weighted := score * a.decayWeight; weighted > a.state.PeakScore {
		a.state.PeakScore = weighted
	}
	a.state.Samples++
	a.state.Level = Classify(a.current())
	return a.state
}

// Seed raises the peak directly, bypassing the decay weight. Used for the
// reputation fast path and for merging an analysis verdict.
func (a *Aggregator) Seed(score float64) models.RollingRiskState {
	score = clamp(score, 0, 1)
	if score > a.state.PeakScore {
		a.state.PeakScore = score
	}
	a.state.Level = Classify(a.current())
	return a.state
}

func (a *Aggregator) State() models.RollingRiskState {
	return a.state
}

func (a *Aggregator) current() float64 {
	if a.state.RealTimeScore > a.state.PeakScore {
		return a.state.RealTimeScore
	}
	return a.state.PeakScore
}

// ScoreFloor returns the lowest score that classifies as level.
func ScoreFloor(level models.RiskLevel) float64 {
	switch level {
	case models.RiskMedium:
		return MediumThreshold
	case models.RiskHigh:
		return HighThreshold
	case models.RiskCritical:
		return CriticalThreshold
	default:
		return 0
	}
}

// Recommendation is the user guidance shown for a level.
func Recommendation(level models.RiskLevel) string {
	switch level {
	case models.RiskCritical:
		return "High-risk scam detected. Do not share any personal information. Consider ending the call and blocking the number."
	case models.RiskHigh:
		return "Suspicious activity detected. Be cautious and verify the caller's identity."
	case models.RiskMedium:
		return "Ask for official verification and call back on a known number."
	default:
		return "Call appears normal. Monitoring continues."
	}
}
