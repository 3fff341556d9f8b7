package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ant0nioSouza/callguard/internal/risk"
	"github.com/Ant0nioSouza/callguard/internal/transcript"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

var (
	replayDecay  float64
	replayWindow int
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Replay a transcript through the scorer and aggregator",
	Long: `Each non-empty line is one transcript segment. A "self:" or "remote:"
prefix sets the speaker (remote by default). Use "-" to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open transcript: %w", err)
			}
			defer f.Close()
			in = f
		}
		_, err := replay(in, cmd.OutOrStdout(), replayDecay, replayWindow)
		return err
	},
}

func init() {
	replayCmd.Flags().Float64Var(&replayDecay, "decay", risk.DefaultDecayWeight, "Peak decay weight")
	replayCmd.Flags().IntVar(&replayWindow, "window", 3, "Segments scored per sample")
}

type replayStep struct {
	Line    int                     `json:"line"`
	Speaker models.Speaker          `json:"speaker"`
	Text    string                  `json:"text"`
	Sample  float64                 `json:"sample"`
	State   models.RollingRiskState `json:"state"`
	Alerts  []models.AlertKind      `json:"alerts,omitempty"`
}

// replay scores the recent window after every segment, the way a live call
// samples after new speech.
func replay(r io.Reader, w io.Writer, decay float64, window int) (models.RollingRiskState, error) {
	feed := transcript.NewFeed()
	agg := risk.NewAggregator(decay)
	enc := json.NewEncoder(w)

	var escalated models.RiskLevel = models.RiskLow
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		seg := parseSegment(scanner.Text())
		if feed.Append(seg) < 0 {
			continue
		}

		text := feed.RecentText(window)
		sample := risk.Sample(text, time.Now())
		st := agg.Observe(sample)

		step := replayStep{Line: line, Speaker: seg.Speaker, Text: strings.TrimSpace(seg.Text), Sample: sample.Score, State: st}
		if len(risk.DetectDistress(seg.Text)) > 0 {
			step.Alerts = append(step.Alerts, models.AlertDistress)
		}
		if seg.Speaker != models.SpeakerSelf && len(risk.DetectOTPRequest(seg.Text)) > 0 {
			step.Alerts = append(step.Alerts, models.AlertOTPRequest)
		}
		if st.Level.Rank() > escalated.Rank() {
			switch st.Level {
			case models.RiskHigh:
				step.Alerts = append(step.Alerts, models.AlertHighRisk)
			case models.RiskCritical:
				step.Alerts = append(step.Alerts, models.AlertScamDetected)
			}
			escalated = st.Level
		}

		if jsonOutput {
			if err := enc.Encode(step); err != nil {
				return st, err
			}
			continue
		}
		fmt.Fprintf(w, "%3d %s %.2f peak=%.2f %-8s %s", line, levelIcon(st.Level), sample.Score, st.PeakScore, st.Level, step.Text)
		for _, a := range step.Alerts {
			fmt.Fprintf(w, " [%s]", a)
		}
		fmt.Fprintln(w)
	}
	if err := scanner.Err(); err != nil {
		return agg.State(), fmt.Errorf("read transcript: %w", err)
	}

	final := agg.State()
	if !jsonOutput {
		fmt.Fprintf(w, "\nFinal: %s (peak %.2f over %d samples)\n", final.Level, final.PeakScore, final.Samples)
		if patterns := risk.Patterns(feed.RecentText(feed.Len())); len(patterns) > 0 {
			fmt.Fprintf(w, "Patterns: %s\n", strings.Join(patterns, ", "))
		}
		fmt.Fprintln(w, risk.Recommendation(final.Level))
	}
	return final, nil
}

func parseSegment(raw string) models.TranscriptSegment {
	seg := models.TranscriptSegment{Text: raw, Speaker: models.SpeakerRemote, Confidence: 1}
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "self:"):
		seg.Speaker, seg.Text = models.SpeakerSelf, raw[len("self:"):]
	case strings.HasPrefix(lower, "remote:"):
		seg.Text = raw[len("remote:"):]
	}
	return seg
}
