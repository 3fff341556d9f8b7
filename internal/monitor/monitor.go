// Package monitor keeps the registry of live calls and wires every new
// session to the shared bus, stores and collaborators.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ant0nioSouza/callguard/internal/audio"
	"github.com/Ant0nioSouza/callguard/internal/evidence"
	"github.com/Ant0nioSouza/callguard/internal/reputation"
	"github.com/Ant0nioSouza/callguard/internal/session"
	"github.com/Ant0nioSouza/callguard/internal/transcriber"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

var ErrCallNotFound = errors.New("call not found")

// Archiver persists ended calls.
type Archiver interface {
	SaveCall(ctx context.Context, s models.CallSummary) error
}

// ArchiveReader is implemented by archives that can also serve past calls.
type ArchiveReader interface {
	GetCall(ctx context.Context, id uuid.UUID) (*models.CallSummary, error)
	ListCalls(ctx context.Context, limit, offset int) ([]models.CallRecord, error)
}

type Config struct {
	Session        session.Config // template; PhoneNumber is set per call
	RingTimeout    time.Duration  // default 2m
	ArchiveTimeout time.Duration  // default 10s
	MaxSummaries   int            // ended calls kept in memory, default 256
}

type Deps struct {
	// NewSource opens the audio source of one call; nil runs calls without recording.
	NewSource    func() audio.Source
	Analyzer     session.Analyzer
	TextAnalyzer session.TextAnalyzer
	Transcriber  transcriber.Transcriber
	Alerts       session.Publisher
	Reputation   reputation.Store
	Evidence     *evidence.Log
	Archive      Archiver
}

// callEntry é o contexto de uma chamada ativa
type callEntry struct {
	session      *session.Session
	lastActivity time.Time
}

type Monitor struct {
	cfg  Config
	deps Deps

	mu        sync.RWMutex
	active    map[uuid.UUID]*callEntry
	summaries map[uuid.UUID]models.CallSummary
	order     []uuid.UUID

	wg sync.WaitGroup
}

func New(cfg Config, deps Deps) *Monitor {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 2 * time.Minute
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 10 * time.Second
	}
	if cfg.MaxSummaries <= 0 {
		cfg.MaxSummaries = 256
	}
	return &Monitor{
		cfg:       cfg,
		deps:      deps,
		active:    make(map[uuid.UUID]*callEntry),
		summaries: make(map[uuid.UUID]models.CallSummary),
	}
}

// StartCall creates a session for an incoming call and rings it.
func (m *Monitor) StartCall(ctx context.Context, phoneNumber string) (*session.Session, error) {
	cfg := m.cfg.Session
	cfg.PhoneNumber = phoneNumber

	deps := session.Deps{
		Analyzer:     m.deps.Analyzer,
		TextAnalyzer: m.deps.TextAnalyzer,
		Transcriber:  m.deps.Transcriber,
		Alerts:       m.deps.Alerts,
		Reputation:   m.deps.Reputation,
		Evidence:     m.deps.Evidence,
	}
	if m.deps.NewSource != nil {
		deps.Source = m.deps.NewSource()
	}
	s := session.New(cfg, deps)

	now := time.Now()
	m.mu.Lock()
	m.active[s.ID()] = &callEntry{session: s, lastActivity: now}
	m.mu.Unlock()

	if err := s.Ring(ctx); err != nil {
		m.remove(s.ID())
		return nil, fmt.Errorf("ring call: %w", err)
	}

	m.wg.Add(1)
	go m.watch(s)

	log.Printf("monitor: call %s from %s ringing", s.ID(), phoneNumber)
	return s, nil
}

// Connect answers a ringing call.
func (m *Monitor) Connect(ctx context.Context, id uuid.UUID) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrCallNotFound
	}
	m.touch(id)
	return s.Connect(ctx)
}

// AddTranscript forwards a segment to a live call.
func (m *Monitor) AddTranscript(id uuid.UUID, seg models.TranscriptSegment) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrCallNotFound
	}
	m.touch(id)
	return s.AddTranscript(seg)
}

func (m *Monitor) Get(id uuid.UUID) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.active[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// EndCall ends a live call. Ending a call that already ended returns its
// summary together with session.ErrDuplicateAnalysis.
func (m *Monitor) EndCall(ctx context.Context, id uuid.UUID) (models.CallSummary, error) {
	s, ok := m.Get(id)
	if !ok {
		if sum, found := m.Summary(ctx, id); found {
			return sum, session.ErrDuplicateAnalysis
		}
		return models.CallSummary{}, ErrCallNotFound
	}
	sum, err := s.End(ctx)
	if err == nil {
		m.finish(sum)
	}
	return sum, err
}

// Active lists live calls, oldest first.
func (m *Monitor) Active() []models.CallRecord {
	m.mu.RLock()
	sessions := make([]*session.Session, 0, len(m.active))
	for _, e := range m.active {
		sessions = append(sessions, e.session)
	}
	m.mu.RUnlock()

	out := make([]models.CallRecord, 0, len(sessions))
	for _, s := range sessions {
		rec := s.Snapshot()
		if rec.State != models.CallEnded {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Summary returns the summary of an ended call from memory, then from the
// archive when it can be read back.
func (m *Monitor) Summary(ctx context.Context, id uuid.UUID) (models.CallSummary, bool) {
	m.mu.RLock()
	sum, ok := m.summaries[id]
	m.mu.RUnlock()
	if ok {
		return sum, true
	}
	if r, ok := m.deps.Archive.(ArchiveReader); ok {
		archived, err := r.GetCall(ctx, id)
		if err == nil && archived != nil {
			return *archived, true
		}
	}
	return models.CallSummary{}, false
}

// Recent lists ended calls, newest first. Archived calls are used when an
// archive reader is configured.
func (m *Monitor) Recent(ctx context.Context, limit int) ([]models.CallRecord, error) {
	if r, ok := m.deps.Archive.(ArchiveReader); ok {
		return r.ListCalls(ctx, limit, 0)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CallRecord, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.summaries[m.order[i]].Call)
	}
	return out, nil
}

// PreserveEvidence implements emergency.EvidenceTrigger.
func (m *Monitor) PreserveEvidence(_ context.Context, a models.Alert) error {
	s, ok := m.Get(a.SessionID)
	if !ok {
		return ErrCallNotFound
	}
	return s.PreserveEvidence()
}

// watch archives a call once it ends, whoever ended it.
func (m *Monitor) watch(s *session.Session) {
	defer m.wg.Done()
	<-s.Ended()
	sum, ok := s.Summary()
	if !ok {
		return
	}
	m.finish(sum)
}

// finish runs twice per call (EndCall and watch); only the first archives.
func (m *Monitor) finish(sum models.CallSummary) {
	id := sum.Call.ID
	m.mu.Lock()
	_, done := m.summaries[id]
	if !done {
		m.summaries[id] = sum
		m.order = append(m.order, id)
		if len(m.order) > m.cfg.MaxSummaries {
			delete(m.summaries, m.order[0])
			m.order = m.order[1:]
		}
	}
	delete(m.active, id)
	m.mu.Unlock()
	if done {
		return
	}

	log.Printf("monitor: call %s ended (%s, %ds)", id, sum.Call.FinalRiskLevel, sum.Call.DurationSeconds)
	if m.deps.Archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ArchiveTimeout)
	defer cancel()
	if err := m.deps.Archive.SaveCall(ctx, sum); err != nil {
		log.Printf("monitor: archive call %s: %v", id, err)
	}
}

func (m *Monitor) touch(id uuid.UUID) {
	m.mu.Lock()
	if e, ok := m.active[id]; ok {
		e.lastActivity = time.Now()
	}
	m.mu.Unlock()
}

func (m *Monitor) remove(id uuid.UUID) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// StartReaper ends calls that kept ringing longer than RingTimeout.
func (m *Monitor) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapUnanswered(ctx)
			}
		}
	}()
}

func (m *Monitor) reapUnanswered(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.RingTimeout)

	m.mu.RLock()
	var stale []*session.Session
	for _, e := range m.active {
		if e.lastActivity.Before(cutoff) {
			stale = append(stale, e.session)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		if s.Snapshot().State != models.CallRinging {
			continue
		}
		log.Printf("monitor: call %s unanswered, ending", s.ID())
		if _, err := s.End(ctx); err != nil && !errors.Is(err, session.ErrDuplicateAnalysis) {
			log.Printf("monitor: end unanswered call %s: %v", s.ID(), err)
		}
	}
}

// Close ends every live call and waits for the archive writes.
func (m *Monitor) Close(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*session.Session, 0, len(m.active))
	for _, e := range m.active {
		sessions = append(sessions, e.session)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if _, err := s.End(ctx); err != nil && !errors.Is(err, session.ErrDuplicateAnalysis) {
			log.Printf("monitor: end call %s: %v", s.ID(), err)
		}
	}
	m.wg.Wait()
}
