package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/Ant0nioSouza/callguard/internal/converter"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

const frameDuration = 20 * time.Millisecond

// UnavailableDevice always fails, for hosts without a microphone or when
// permission was denied.
type UnavailableDevice struct {
	Reason string
}

func (d UnavailableDevice) Open(context.Context) (Stream, error) {
	if d.Reason == "" {
		return nil, ErrDeviceUnavailable
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, d.Reason)
}

// SimulatedDevice generates a sine tone in real time.
type SimulatedDevice struct {
	Frequency float64
	Amplitude float64
}

func (d SimulatedDevice) Open(context.Context) (Stream, error) {
	freq := d.Frequency
	if freq <= 0 {
		freq = 440
	}
	amp := d.Amplitude
	if amp <= 0 || amp > 1 {
		amp = 0.2
	}
	return &toneStream{freq: freq, amp: amp, closed: make(chan struct{})}, nil
}

type toneStream struct {
	freq   float64
	amp    float64
	n      int
	once   sync.Once
	closed chan struct{}
}

func (s *toneStream) Format() models.AudioFormat { return models.PCM16kMono }

func (s *toneStream) Read(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	case <-time.After(frameDuration):
	}

	rate := models.PCM16kMono.SampleRate
	samples := int(frameDuration.Seconds() * float64(rate))
	if samples*2 > len(p) {
		samples = len(p) / 2
	}
	for i := 0; i < samples; i++ {
		v := s.amp * math.Sin(2*math.Pi*s.freq*float64(s.n)/float64(rate))
		binary.LittleEndian.PutUint16(p[i*2:], uint16(int16(v*32767)))
		s.n++
	}
	return samples * 2, nil
}

func (s *toneStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// FileDevice replays a WAV (16-bit PCM) or raw 16kHz mono PCM file at real
// time pace. Used for demos and replaying recorded calls.
type FileDevice struct {
	Path string
}

func (d FileDevice) Open(context.Context) (Stream, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	format, pcm, err := converter.ParseWAV(data)
	if err != nil {
		format, pcm = models.PCM16kMono, data
	}

	bytesPerFrame := int(frameDuration.Seconds()*float64(format.SampleRate)) * format.Channels * 2
	if bytesPerFrame <= 0 {
		bytesPerFrame = 640
	}
	return &fileStream{format: format, pcm: pcm, frame: bytesPerFrame, closed: make(chan struct{})}, nil
}

type fileStream struct {
	format models.AudioFormat
	pcm    []byte
	off    int
	frame  int
	once   sync.Once
	closed chan struct{}
}

func (s *fileStream) Format() models.AudioFormat { return s.format }

func (s *fileStream) Read(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	case <-time.After(frameDuration):
	}

	if s.off >= len(s.pcm) {
		// fim do arquivo: segura até o Close, como um microfone em silêncio
		<-s.closed
		return 0, io.EOF
	}
	n := s.frame
	if n > len(p) {
		n = len(p)
	}
	if s.off+n > len(s.pcm) {
		n = len(s.pcm) - s.off
	}
	copy(p, s.pcm[s.off:s.off+n])
	s.off += n
	return n, nil
}

func (s *fileStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
