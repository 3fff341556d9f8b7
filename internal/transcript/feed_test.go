package transcript

import (
	"testing"
	"time"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

func TestAppendKeepsOrder(t *testing.T) {
	f := NewFeed()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	f.Append(models.TranscriptSegment{Text: "one", Timestamp: base})
	f.Append(models.TranscriptSegment{Text: "two", Timestamp: base.Add(-time.Second)})
	f.Append(models.TranscriptSegment{Text: "three", Timestamp: base.Add(time.Second)})

	all := f.All()
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Errorf("segment %d is older than segment %d", i, i-1)
		}
	}
	if all[1].Text != "two" {
		t.Errorf("append order changed: %q", all[1].Text)
	}
}

func TestAppendDefaults(t *testing.T) {
	f := NewFeed()
	if idx := f.Append(models.TranscriptSegment{Text: "   "}); idx != -1 {
		t.Errorf("blank segment index = %d, want -1", idx)
	}
	f.Append(models.TranscriptSegment{Text: " hello "})

	seg := f.All()[0]
	if seg.Text != "hello" {
		t.Errorf("text = %q", seg.Text)
	}
	if seg.Speaker != models.SpeakerRemote {
		t.Errorf("speaker = %q, want remote", seg.Speaker)
	}
	if seg.Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
}

func TestRecentText(t *testing.T) {
	f := NewFeed()
	for _, s := range []string{"a", "b", "c", "d"} {
		f.Append(models.TranscriptSegment{Text: s})
	}
	if got := f.RecentText(3); got != "b c d" {
		t.Errorf("RecentText(3) = %q", got)
	}
	if got := f.RecentText(10); got != "a b c d" {
		t.Errorf("RecentText(10) = %q", got)
	}
	if got := f.RecentText(0); got != "" {
		t.Errorf("RecentText(0) = %q", got)
	}
}

func TestRecentReturnsCopy(t *testing.T) {
	f := NewFeed()
	f.Append(models.TranscriptSegment{Text: "original"})
	segs := f.Recent(1)
	segs[0].Text = "mutated"
	if f.All()[0].Text != "original" {
		t.Error("Recent must not expose internal storage")
	}
}
