// Package evidence keeps the local record of emergency events: an
// append-only JSONL log plus the audio of calls flagged for preservation.
package evidence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	EventEmergencyTriggered = "emergency_triggered"
	EventContactNotified    = "contact_notified"
	EventContactFailed      = "contact_failed"
	EventOTPBlocked         = "otp_blocked"
	EventAudioPreserved     = "audio_preserved"
	EventCallEnded          = "call_ended"
)

// Event is one line of the evidence log.
type Event struct {
	Time      time.Time         `json:"time"`
	Event     string            `json:"event"`
	SessionID uuid.UUID         `json:"session_id"`
	AlertID   uuid.UUID         `json:"alert_id,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Contact   string            `json:"contact,omitempty"`
	Latitude  float64           `json:"latitude,omitempty"`
	Longitude float64           `json:"longitude,omitempty"`
	Path      string            `json:"path,omitempty"`
	RiskLevel string            `json:"risk_level,omitempty"`
	Error     string            `json:"error,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// Log writes events to <dir>/evidence.jsonl and audio to <dir>/audio/.
type Log struct {
	dir  string
	path string
	mu   sync.Mutex
}

// NewLog creates dir (and dir/audio) if needed. An existing log is never
// truncated.
func NewLog(dir string) (*Log, error) {
	if err := os.MkdirAll(filepath.Join(dir, "audio"), 0o755); err != nil {
		return nil, fmt.Errorf("create evidence directory: %w", err)
	}
	return &Log{
		dir:  dir,
		path: filepath.Join(dir, "evidence.jsonl"),
	}, nil
}

// Append writes one event as a JSON line. A zero Time is set to now.
func (l *Log) Append(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal evidence event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open evidence log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write evidence event: %w", err)
	}
	return nil
}

// ReadAll parses every event. A missing file yields an empty slice.
func (l *Log) ReadAll() ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("open evidence log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parse evidence line %d: %w", lineNum, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read evidence log: %w", err)
	}
	return events, nil
}

// ForSession filters ReadAll by session.
func (l *Log) ForSession(session uuid.UUID) ([]Event, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(all))
	for _, ev := range all {
		if ev.SessionID == session {
			out = append(out, ev)
		}
	}
	return out, nil
}

// SaveAudio stores a finalized recording and logs EventAudioPreserved.
// ext includes the leading dot.
func (l *Log) SaveAudio(session uuid.UUID, ext string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("save audio for %s: empty recording", session)
	}
	path := filepath.Join(l.dir, "audio", session.String()+ext)
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return "", fmt.Errorf("save audio for %s: %w", session, err)
	}
	if err := l.Append(Event{Event: EventAudioPreserved, SessionID: session, Path: path}); err != nil {
		return path, err
	}
	return path, nil
}
