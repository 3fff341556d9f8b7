package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ant0nioSouza/callguard/internal/risk"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

var scoreCmd = &cobra.Command{
	Use:   "score <text>",
	Short: "Score a transcript snippet",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScore(cmd.OutOrStdout(), strings.Join(args, " "))
	},
}

type scoreResult struct {
	Score          float64          `json:"score"`
	Level          models.RiskLevel `json:"level"`
	Keywords       []string         `json:"keywords,omitempty"`
	Urgency        bool             `json:"urgency"`
	Threat         bool             `json:"threat"`
	Patterns       []string         `json:"patterns,omitempty"`
	Distress       []string         `json:"distress,omitempty"`
	OTPRequest     []string         `json:"otp_request,omitempty"`
	Recommendation string           `json:"recommendation"`
}

func scoreText(text string) scoreResult {
	exp := risk.Explain(text)
	level := risk.Classify(exp.Score)
	return scoreResult{
		Score:          exp.Score,
		Level:          level,
		Keywords:       exp.Keywords,
		Urgency:        exp.Urgency,
		Threat:         exp.Threat,
		Patterns:       risk.Patterns(text),
		Distress:       risk.DetectDistress(text),
		OTPRequest:     risk.DetectOTPRequest(text),
		Recommendation: risk.Recommendation(level),
	}
}

func runScore(w io.Writer, text string) error {
	res := scoreText(text)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "%s %.2f (%s)\n", levelIcon(res.Level), res.Score, res.Level)
	if len(res.Keywords) > 0 {
		fmt.Fprintf(w, "  keywords: %s\n", strings.Join(res.Keywords, ", "))
	}
	if len(res.Patterns) > 0 {
		fmt.Fprintf(w, "  patterns: %s\n", strings.Join(res.Patterns, ", "))
	}
	if len(res.Distress) > 0 {
		fmt.Fprintf(w, "  distress: %s\n", strings.Join(res.Distress, ", "))
	}
	if len(res.OTPRequest) > 0 {
		fmt.Fprintf(w, "  otp request: %s\n", strings.Join(res.OTPRequest, ", "))
	}
	fmt.Fprintf(w, "  %s\n", res.Recommendation)
	return nil
}

func levelIcon(level models.RiskLevel) string {
	switch level {
	case models.RiskCritical:
		return "🚨"
	case models.RiskHigh:
		return "⚠️ "
	case models.RiskMedium:
		return "🟡"
	default:
		return "✅"
	}
}
