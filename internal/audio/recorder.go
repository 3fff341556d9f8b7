// Package audio owns the capture device and turns it into a sequence of
// AudioChunks emitted at a fixed cadence.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Ant0nioSouza/callguard/internal/converter"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// ErrDeviceUnavailable is returned when permission is denied or no capture
// device exists.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Device opens a capture stream.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open capture handle. Close must unblock a pending Read.
type Stream interface {
	io.ReadCloser
	Format() models.AudioFormat
}

// Source is the contract CallSession relies on.
type Source interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Subscribe(fn func(models.AudioChunk)) (unsubscribe func())
	Level() float64
}

// Recorder emits one chunk per interval while started. Stop stops reading,
// then emits exactly one final chunk holding every byte not yet emitted and
// returns once it was delivered to every subscriber.
type Recorder struct {
	device   Device
	interval time.Duration

	mu       sync.Mutex
	started  bool
	stopping bool
	stopCh   chan struct{}
	done     chan struct{}
	handlers map[int]func(models.AudioChunk)
	nextID   int
	seq      int
	level    float64
	last     []byte

	bufMu sync.Mutex
	buf   []byte
}

func NewRecorder(device Device, interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = time.Second
	}
	return &Recorder{
		device:   device,
		interval: interval,
		handlers: make(map[int]func(models.AudioChunk)),
	}
}

// Start acquires the device. Calling Start while already started is a no-op.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	if r.device == nil {
		return ErrDeviceUnavailable
	}

	stream, err := r.device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	r.started = true
	r.stopping = false
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})

	readerDone := make(chan struct{})
	go r.readLoop(stream, readerDone)
	go r.emitLoop(stream, r.stopCh, r.done, readerDone)

	log.Printf("audio: capture started (%s %dHz, chunk every %s)",
		stream.Format().Encoding, stream.Format().SampleRate, r.interval)
	return nil
}

// Stop requests device release and returns once the final chunk has been
// delivered to all subscribers. Stopping a recorder that never started
// returns immediately.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	done := r.done
	if !r.stopping {
		r.stopping = true
		close(r.stopCh)
	}
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for final chunk: %w", ctx.Err())
	}
}

// Subscribe registers fn for every emitted chunk. Handlers run on the
// recorder goroutine and must not call Stop.
func (r *Recorder) Subscribe(fn func(models.AudioChunk)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.handlers[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	}
}

// Level is the RMS amplitude of the most recent chunk.
func (r *Recorder) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Bands splits the most recent chunk into n amplitude bars.
func (r *Recorder) Bands(n int) []float64 {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	return converter.Bands(last, n)
}

func (r *Recorder) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Recorder) readLoop(stream Stream, done chan<- struct{}) {
	defer close(done)

	p := make([]byte, 4096)
	for {
		n, err := stream.Read(p)
		if n > 0 {
			r.bufMu.Lock()
			r.buf = append(r.buf, p[:n]...)
			r.bufMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (r *Recorder) emitLoop(stream Stream, stopCh <-chan struct{}, done chan struct{}, readerDone <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	format := stream.Format()
	for {
		select {
		case <-ticker.C:
			if payload := r.drain(); len(payload) > 0 {
				r.emit(payload, format, false)
			}
		case <-stopCh:
			// o leitor precisa parar antes do último drain, senão os bytes
			// lidos entre o drain e o Close se perdem
			if err := stream.Close(); err != nil {
				log.Printf("audio: closing stream: %v", err)
			}
			<-readerDone
			r.emit(r.drain(), format, true)

			r.mu.Lock()
			r.started = false
			r.stopping = false
			r.mu.Unlock()
			close(done)
			log.Printf("audio: capture stopped after %d chunks", r.seq)
			return
		}
	}
}

func (r *Recorder) drain() []byte {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	payload := r.buf
	r.buf = nil
	return payload
}

func (r *Recorder) emit(payload []byte, format models.AudioFormat, final bool) {
	r.mu.Lock()
	r.seq++
	chunk := models.AudioChunk{
		SequenceNumber: r.seq,
		Payload:        payload,
		Format:         format,
		CapturedAt:     time.Now().UTC(),
		IsFinal:        final,
	}
	if len(payload) > 0 && format.Encoding == "pcm_s16le" {
		r.level = converter.RMS(payload)
		r.last = payload
	}
	handlers := make([]func(models.AudioChunk), 0, len(r.handlers))
	for i := 0; i < r.nextID; i++ {
		if h, ok := r.handlers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	r.mu.Unlock()

	for _, h := range handlers {
		deliver(h, chunk)
	}
}

func deliver(h func(models.AudioChunk), chunk models.AudioChunk) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("audio: chunk handler panicked on #%d: %v", chunk.SequenceNumber, rec)
		}
	}()
	h(chunk)
}
