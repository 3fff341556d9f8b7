package session

import (
	"github.com/Ant0nioSouza/callguard/internal/risk"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// buildSummary monta o registro final da chamada encerrada
func buildSummary(rec models.CallRecord, live models.RollingRiskState, verdict *models.Verdict,
	analysisErr error, rep *models.Reputation, segments []models.TranscriptSegment, explanations []string) models.CallSummary {

	sum := models.CallSummary{
		Call:       rec,
		Risk:       live,
		Verdict:    verdict,
		Reputation: rep,
		Transcript: segments,
	}
	if analysisErr != nil {
		sum.AnalysisError = analysisErr.Error()
	}

	sum.Patterns = append(sum.Patterns, explanations...)
	var text string
	for _, seg := range segments {
		if seg.Speaker == models.SpeakerSelf {
			continue
		}
		text += seg.Text + " "
	}
	for _, p := range risk.Patterns(text) {
		sum.Patterns = appendUnique(sum.Patterns, p)
	}
	if verdict != nil {
		for _, e := range verdict.Explanations {
			sum.Patterns = appendUnique(sum.Patterns, e)
		}
	}

	sum.Recommendation = risk.Recommendation(rec.FinalRiskLevel)
	if verdict != nil && len(verdict.Recommendations) > 0 {
		sum.Recommendation = verdict.Recommendations[0]
	}

	sum.SuggestBlock = rec.FinalRiskLevel == models.RiskCritical ||
		(verdict != nil && verdict.IsFraud) ||
		(rep != nil && rep.KnownScam())
	return sum
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
