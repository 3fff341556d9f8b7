package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ant0nioSouza/callguard/internal/evidence"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

func withJSON(t *testing.T, on bool) {
	old := jsonOutput
	jsonOutput = on
	t.Cleanup(func() { jsonOutput = old })
}

func TestScoreJSON(t *testing.T) {
	withJSON(t, true)
	var buf bytes.Buffer
	if err := runScore(&buf, "this is your bank, share the verification code immediately or your account will be suspended"); err != nil {
		t.Fatal(err)
	}
	var res scoreResult
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if res.Score <= 0 || res.Level == models.RiskLow {
		t.Errorf("score = %+v", res)
	}
	if len(res.OTPRequest) == 0 {
		t.Error("otp request not detected")
	}
	if res.Recommendation == "" {
		t.Error("missing recommendation")
	}
}

func TestScoreBenignText(t *testing.T) {
	withJSON(t, false)
	var buf bytes.Buffer
	if err := runScore(&buf, "see you at dinner tonight"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "(low)") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestReplayRatchetsLevel(t *testing.T) {
	withJSON(t, false)
	in := strings.NewReader(strings.Join([]string{
		"self: hello?",
		"",
		"remote: this is the fraud department of your bank",
		"remote: your account will be suspended, act immediately",
		"remote: read me the verification code we sent",
		"remote: ok thank you",
	}, "\n"))

	var buf bytes.Buffer
	final, err := replay(in, &buf, 0.7, 3)
	if err != nil {
		t.Fatal(err)
	}
	if final.Samples != 5 {
		t.Errorf("samples = %d, want 5 (empty line skipped)", final.Samples)
	}
	if final.Level.Rank() < models.RiskMedium.Rank() {
		t.Errorf("final level = %s", final.Level)
	}
	if !strings.Contains(buf.String(), "[otp_request]") {
		t.Errorf("otp alert missing:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "Final: ") {
		t.Errorf("summary missing:\n%s", buf.String())
	}
}

func TestReplaySelfNeverRaisesOTP(t *testing.T) {
	withJSON(t, true)
	var buf bytes.Buffer
	if _, err := replay(strings.NewReader("self: what verification code did you send?\n"), &buf, 0.7, 3); err != nil {
		t.Fatal(err)
	}
	var step replayStep
	if err := json.Unmarshal(buf.Bytes(), &step); err != nil {
		t.Fatal(err)
	}
	if step.Speaker != models.SpeakerSelf {
		t.Errorf("speaker = %s", step.Speaker)
	}
	for _, k := range step.Alerts {
		if k == models.AlertOTPRequest {
			t.Error("otp alert raised for own speech")
		}
	}
}

func TestParseSegment(t *testing.T) {
	cases := []struct {
		raw     string
		speaker models.Speaker
		text    string
	}{
		{"self: hi", models.SpeakerSelf, " hi"},
		{"Remote:hello", models.SpeakerRemote, "hello"},
		{"no prefix", models.SpeakerRemote, "no prefix"},
	}
	for _, c := range cases {
		seg := parseSegment(c.raw)
		if seg.Speaker != c.speaker || seg.Text != c.text {
			t.Errorf("parseSegment(%q) = %+v", c.raw, seg)
		}
	}
}

func TestPrintEvidence(t *testing.T) {
	withJSON(t, false)
	var buf bytes.Buffer
	printEvidence(&buf, nil)
	if !strings.Contains(buf.String(), "No evidence") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	id := uuid.New()
	printEvidence(&buf, []evidence.Event{
		{Time: time.Now(), Event: "contact_notified", SessionID: id, Contact: "Mom"},
		{Time: time.Now(), Event: "call_ended", SessionID: id, RiskLevel: "critical"},
	})
	out := buf.String()
	if !strings.Contains(out, "contact=Mom") || !strings.Contains(out, "risk=critical") {
		t.Errorf("output = %q", out)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"score": false, "replay": false, "serve": false, "alerts": false, "evidence": false, "search": false, "report": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %s not registered", name)
		}
	}
}

func TestReputationEntry(t *testing.T) {
	cases := []struct {
		kind  string
		score float64
		want  models.RiskLevel
	}{
		{"scam", 0.1, models.RiskCritical},
		{"telemarketer", 0.65, models.RiskHigh},
		{"business", 0.35, models.RiskMedium},
		{"individual", -1, models.RiskLow},
		{"unknown", 3, models.RiskCritical},
	}
	for _, c := range cases {
		r := reputationEntry("+1 555 0100", c.kind, c.score, "")
		if r.RiskLevel != c.want {
			t.Errorf("%s/%v: level = %s, want %s", c.kind, c.score, r.RiskLevel, c.want)
		}
		if r.RiskScore < 0 || r.RiskScore > 1 {
			t.Errorf("score not clamped: %v", r.RiskScore)
		}
	}
}
