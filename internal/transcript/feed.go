// Package transcript keeps the ordered, append-only log of caller speech
// segments for one call.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// Feed is safe for concurrent use. Segments are never mutated after Append;
// timestamp order equals append order.
type Feed struct {
	mu       sync.RWMutex
	segments []models.TranscriptSegment
}

func NewFeed() *Feed {
	return &Feed{}
}

// Append stores seg and returns its index. Empty text is ignored and
// reported as -1. A timestamp older than the previous segment is raised to
// it so ordering by timestamp stays identical to append order.
func (f *Feed) Append(seg models.TranscriptSegment) int {
	seg.Text = strings.TrimSpace(seg.Text)
	if seg.Text == "" {
		return -1
	}
	if seg.Speaker == "" {
		seg.Speaker = models.SpeakerRemote
	}
	if seg.Timestamp.IsZero() {
		seg.Timestamp = time.Now().UTC()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if n := len(f.segments); n > 0 && seg.Timestamp.Before(f.segments[n-1].Timestamp) {
		seg.Timestamp = f.segments[n-1].Timestamp
	}
	f.segments = append(f.segments, seg)
	return len(f.segments) - 1
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.segments)
}

// Recent returns a copy of the last n segments.
func (f *Feed) Recent(n int) []models.TranscriptSegment {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n <= 0 || len(f.segments) == 0 {
		return nil
	}
	if n > len(f.segments) {
		n = len(f.segments)
	}
	out := make([]models.TranscriptSegment, n)
	copy(out, f.segments[len(f.segments)-n:])
	return out
}

// RecentText joins the text of the last n segments with single spaces.
func (f *Feed) RecentText(n int) string {
	segs := f.Recent(n)
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// All returns a copy of every segment.
func (f *Feed) All() []models.TranscriptSegment {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.TranscriptSegment, len(f.segments))
	copy(out, f.segments)
	return out
}
