package transcriber

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Ant0nioSouza/callguard/internal/converter"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// Live batches recorder chunks into windows and transcribes each window in
// the background. Segments are reported as remote speech.
type Live struct {
	t         Transcriber
	window    int
	onSegment func(models.TranscriptSegment)

	queue chan []models.AudioChunk

	mu      sync.Mutex
	pending []models.AudioChunk
	closed  bool
	done    chan struct{}
}

// NewLive transcribes every window chunks (minimum 1).
func NewLive(t Transcriber, window int, onSegment func(models.TranscriptSegment)) *Live {
	if window < 1 {
		window = 1
	}
	return &Live{
		t:         t,
		window:    window,
		onSegment: onSegment,
		queue:     make(chan []models.AudioChunk, 8),
		done:      make(chan struct{}),
	}
}

// Feed is a recorder subscriber. It never blocks: when transcription
// falls behind, the oldest window is dropped.
func (l *Live) Feed(chunk models.AudioChunk) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if len(chunk.Payload) > 0 {
		l.pending = append(l.pending, chunk)
	}
	if len(l.pending) < l.window && !(chunk.IsFinal && len(l.pending) > 0) {
		return
	}
	batch := l.pending
	l.pending = nil

	for {
		select {
		case l.queue <- batch:
			return
		default:
		}
		select {
		case old := <-l.queue:
			log.Printf("transcriber: falling behind, dropped window starting at chunk %d", old[0].SequenceNumber)
		default:
		}
	}
}

// Run transcribes queued windows until Close is called and the queue is
// drained, or ctx ends.
func (l *Live) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-l.queue:
			if !ok {
				return
			}
			l.transcribe(ctx, batch)
		}
	}
}

// Close stops accepting chunks. Windows already queued are still
// transcribed by Run.
func (l *Live) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.queue)
}

// Done is closed when Run returns.
func (l *Live) Done() <-chan struct{} {
	return l.done
}

func (l *Live) transcribe(ctx context.Context, batch []models.AudioChunk) {
	audio, _ := converter.Assemble(batch)
	res, err := l.t.Transcribe(ctx, audio, batch[0].Format)
	if err != nil {
		log.Printf("transcriber: window at chunk %d: %v", batch[0].SequenceNumber, err)
		return
	}

	base := batch[0].CapturedAt
	if len(res.Segments) == 0 && res.Text != "" {
		l.onSegment(models.TranscriptSegment{Text: res.Text, Speaker: models.SpeakerRemote, Confidence: res.Confidence, Timestamp: base})
		return
	}
	for _, s := range res.Segments {
		if s.Text == "" {
			continue
		}
		l.onSegment(models.TranscriptSegment{
			Text:       s.Text,
			Speaker:    models.SpeakerRemote,
			Confidence: s.Confidence,
			Timestamp:  base.Add(s.StartTime).Truncate(time.Millisecond),
		})
	}
}
