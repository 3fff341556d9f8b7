package analysis

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// response accepts both shapes the service answers with: the flat
// {fraud_score, is_fraud, confidence, explanation} form and the nested
// {result: {overall_fraud_score, risk_level, explanations}} form.
type response struct {
	Error        string          `json:"error"`
	FraudScore   *float64        `json:"fraud_score"`
	IsFraud      *bool           `json:"is_fraud"`
	Confidence   json.RawMessage `json:"confidence"`
	Explanation  string          `json:"explanation"`
	Explanations []string        `json:"explanations"`
	RiskLevel    string          `json:"risk_level"`
	Result       *struct {
		OverallFraudScore *float64        `json:"overall_fraud_score"`
		FraudScore        *float64        `json:"fraud_score"`
		IsFraud           *bool           `json:"is_fraud"`
		Confidence        json.RawMessage `json:"confidence"`
		RiskLevel         string          `json:"risk_level"`
		Explanations      []string        `json:"explanations"`
		Recommendations   []string        `json:"recommendations"`
	} `json:"result"`
}

func (r response) verdict() (models.Verdict, error) {
	score := r.FraudScore
	isFraud := r.IsFraud
	confidence := r.Confidence
	level := r.RiskLevel
	explanations := r.Explanations
	if r.Explanation != "" {
		explanations = append([]string{r.Explanation}, explanations...)
	}
	var recommendations []string

	if res := r.Result; res != nil {
		if res.OverallFraudScore != nil {
			score = res.OverallFraudScore
		} else if res.FraudScore != nil {
			score = res.FraudScore
		}
		if res.IsFraud != nil {
			isFraud = res.IsFraud
		}
		if len(res.Confidence) > 0 {
			confidence = res.Confidence
		}
		if res.RiskLevel != "" {
			level = res.RiskLevel
		}
		explanations = append(explanations, res.Explanations...)
		recommendations = res.Recommendations
	}

	if score == nil {
		return models.Verdict{}, fmt.Errorf("%w: response has no fraud score", ErrUnreachable)
	}

	v := models.Verdict{
		Score:           math.Max(0, math.Min(1, *score)),
		Explanations:    explanations,
		Recommendations: recommendations,
	}
	switch {
	case isFraud != nil:
		v.IsFraud = *isFraud
	default:
		v.IsFraud = models.RiskLevel(level) == models.RiskCritical
	}
	v.Confidence = parseConfidence(confidence, v.Score)
	return v, nil
}

// parseConfidence accepts a band name or a number in [0,1]. Without one,
// the band reflects how far the score is from the undecided middle.
func parseConfidence(raw json.RawMessage, score float64) models.ConfidenceBand {
	if len(raw) > 0 {
		var band string
		if json.Unmarshal(raw, &band) == nil {
			switch models.ConfidenceBand(band) {
			case models.ConfidenceLow, models.ConfidenceMedium, models.ConfidenceHigh:
				return models.ConfidenceBand(band)
			}
		}
		var num float64
		if json.Unmarshal(raw, &num) == nil {
			return models.BandFor(num)
		}
	}
	return models.BandFor(math.Abs(score-0.5) * 2)
}
