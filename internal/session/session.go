// Package session owns the lifecycle of one monitored call: the state
// machine, the serialized event loop that feeds the risk aggregator, and
// the post-call handoff to the analysis service.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ant0nioSouza/callguard/internal/audio"
	"github.com/Ant0nioSouza/callguard/internal/converter"
	"github.com/Ant0nioSouza/callguard/internal/evidence"
	"github.com/Ant0nioSouza/callguard/internal/reputation"
	"github.com/Ant0nioSouza/callguard/internal/risk"
	"github.com/Ant0nioSouza/callguard/internal/transcriber"
	"github.com/Ant0nioSouza/callguard/internal/transcript"
	"github.com/Ant0nioSouza/callguard/pkg/models"
	"github.com/Ant0nioSouza/callguard/pkg/utils"
)

// Analyzer receives the finalized recording once the call has ended.
type Analyzer interface {
	Analyze(ctx context.Context, audio []byte, format models.AudioFormat, transcript string) (models.Verdict, error)
}

// TextAnalyzer scores transcript snippets while the call is live.
type TextAnalyzer interface {
	AnalyzeText(ctx context.Context, text string) (models.Verdict, error)
}

// Publisher is the alert bus as seen by a session.
type Publisher interface {
	Publish(a models.Alert) (models.Alert, bool, error)
}

type Config struct {
	PhoneNumber       string
	SampleInterval    time.Duration // default 3s
	DurationTick      time.Duration // default 1s
	FinalChunkTimeout time.Duration // default 5s
	AnalysisTimeout   time.Duration // default 30s
	LookupTimeout     time.Duration // default 2s
	DecayWeight       float64       // default 0.7
	RecentSegments    int           // default 3
	TranscribeWindow  int           // chunks per live transcription window, default 3
	StreamingAnalysis bool
}

func (c *Config) defaults() {
	if c.SampleInterval <= 0 {
		c.SampleInterval = 3 * time.Second
	}
	if c.DurationTick <= 0 {
		c.DurationTick = time.Second
	}
	if c.FinalChunkTimeout <= 0 {
		c.FinalChunkTimeout = 5 * time.Second
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 30 * time.Second
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 2 * time.Second
	}
	if c.RecentSegments <= 0 {
		c.RecentSegments = 3
	}
	if c.TranscribeWindow <= 0 {
		c.TranscribeWindow = 3
	}
}

// Deps are the collaborators of a session. Every field is optional: a
// missing Source means the call runs without recording, a missing Analyzer
// skips post-call analysis.
type Deps struct {
	Source       audio.Source
	Analyzer     Analyzer
	TextAnalyzer TextAnalyzer
	Transcriber  transcriber.Transcriber
	Alerts       Publisher
	Reputation   reputation.Store
	Evidence     *evidence.Log
}

type Session struct {
	id   uuid.UUID
	cfg  Config
	deps Deps
	feed *transcript.Feed

	events   chan func()
	stop     chan struct{}
	loopDone chan struct{}
	ended    chan struct{}

	// serializa Connect e End
	lifeMu sync.Mutex

	// estado abaixo pertence à goroutine do loop
	record          models.CallRecord
	agg             *risk.Aggregator
	rep             *models.Reputation
	chunks          []models.AudioChunk
	sourceStarted   bool
	finalSeen       bool
	finalCh         chan struct{}
	ending          bool
	handedOff       bool
	dirty           bool
	preserve        bool
	alerted         models.RiskLevel
	explanations    []string
	durationTicker  *time.Ticker
	sampleTicker    *time.Ticker
	streamingFailed bool

	// escritos uma vez antes de fechar loopDone
	final   models.CallRecord
	summary *models.CallSummary

	unsubscribe []func()
	live        *transcriber.Live
	liveCancel  context.CancelFunc
}

// New creates an Idle session and starts its event loop.
func New(cfg Config, deps Deps) *Session {
	cfg.defaults()
	s := &Session{
		id:       utils.NewID(),
		cfg:      cfg,
		deps:     deps,
		feed:     transcript.NewFeed(),
		events:   make(chan func(), 256),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
		ended:    make(chan struct{}),
		finalCh:  make(chan struct{}),
		agg:      risk.NewAggregator(cfg.DecayWeight),
		alerted:  models.RiskLow,
	}
	s.record = models.CallRecord{
		ID:          s.id,
		PhoneNumber: cfg.PhoneNumber,
		State:       models.CallIdle,
		RiskLevel:   models.RiskLow,
	}
	go s.run()
	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

// Ended is closed once the call reached Ended and its summary is final.
func (s *Session) Ended() <-chan struct{} { return s.ended }

func (s *Session) run() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-tick(s.durationTicker):
			s.onDurationTick()
		case <-tick(s.sampleTicker):
			s.onSampleTick()
		case <-s.stop:
			s.final = s.record
			return
		}
	}
}

func tick(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// post enqueues fn on the loop. After the loop exits it is dropped.
func (s *Session) post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.loopDone:
		return false
	}
}

// call runs fn on the loop and waits for it.
func call[T any](s *Session, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	if !s.post(func() {
		v, err := fn()
		ch <- result{v, err}
	}) {
		var zero T
		return zero, ErrSessionClosed
	}
	select {
	case r := <-ch:
		return r.v, r.err
	case <-s.loopDone:
		// o loop pode ter executado fn e saído logo depois
		select {
		case r := <-ch:
			return r.v, r.err
		default:
		}
		var zero T
		return zero, ErrSessionClosed
	}
}

// Ring moves Idle to Ringing and seeds the risk level from the caller's
// reputation. A known scam number goes straight to critical.
func (s *Session) Ring(ctx context.Context) error {
	_, err := call(s, func() (struct{}, error) {
		if s.record.State != models.CallIdle {
			return struct{}{}, fmt.Errorf("%w: ring from %s", ErrInvalidTransition, s.record.State)
		}
		s.record.State = models.CallRinging
		s.record.StartedAt = time.Now().UTC()
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	if s.deps.Reputation == nil || s.cfg.PhoneNumber == "" {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()
	rep, lerr := s.deps.Reputation.Lookup(lctx, s.cfg.PhoneNumber)

	_, err = call(s, func() (struct{}, error) {
		if lerr != nil {
			log.Printf("session %s: reputation lookup failed: %v", s.id, lerr)
			s.degrade("reputation", lerr)
			return struct{}{}, nil
		}
		s.applyReputation(rep)
		return struct{}{}, nil
	})
	return err
}

func (s *Session) applyReputation(rep *models.Reputation) {
	if rep == nil {
		return
	}
	s.rep = rep
	if rep.KnownScam() {
		score := rep.RiskScore
		if score < risk.CriticalThreshold {
			score = risk.CriticalThreshold
		}
		reason := "Known scam number"
		if rep.ScamType != "" {
			reason += ": " + rep.ScamType
		}
		s.explanations = append(s.explanations, reason)
		s.publish(models.NewAlert(s.id, models.SeverityCritical, reason,
			models.ScamDetectedDetail{Score: score, Reason: "reputation"}))
		s.alerted = models.RiskCritical
		s.setState(s.agg.Seed(score))
		return
	}
	if floor := risk.ScoreFloor(rep.RiskLevel); floor > 0 {
		s.setState(s.agg.Seed(floor))
	}
}

// Connect moves Ringing to Connected, starts the duration and sampling
// timers and the audio source. A source that cannot start leaves the call
// connected without recording.
func (s *Session) Connect(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	_, err := call(s, func() (struct{}, error) {
		if s.record.State != models.CallRinging {
			return struct{}{}, fmt.Errorf("%w: connect from %s", ErrInvalidTransition, s.record.State)
		}
		s.record.State = models.CallConnected
		s.record.ConnectedAt = time.Now().UTC()
		s.durationTicker = time.NewTicker(s.cfg.DurationTick)
		s.sampleTicker = time.NewTicker(s.cfg.SampleInterval)
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	src := s.deps.Source
	if src == nil {
		s.post(func() { s.deviceUnavailable(audio.ErrDeviceUnavailable) })
		return nil
	}

	s.unsubscribe = append(s.unsubscribe, src.Subscribe(s.onChunk))
	if s.deps.Transcriber != nil {
		lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.liveCancel = cancel
		s.live = transcriber.NewLive(s.deps.Transcriber, s.cfg.TranscribeWindow, func(seg models.TranscriptSegment) {
			s.AddTranscript(seg)
		})
		s.unsubscribe = append(s.unsubscribe, src.Subscribe(s.live.Feed))
		go s.live.Run(lctx)
	}

	if err := src.Start(ctx); err != nil {
		log.Printf("session %s: %v", s.id, err)
		s.post(func() { s.deviceUnavailable(err) })
		return nil
	}
	s.post(func() {
		s.sourceStarted = true
		// uma falha reportada durante o Start vence
		s.record.Recording = !slices.Contains(s.record.Degraded, "audio")
	})
	return nil
}

// DeviceUnavailable may be reported at any time; the call goes on without
// recording and post-call analysis is skipped.
func (s *Session) DeviceUnavailable(err error) {
	s.post(func() { s.deviceUnavailable(err) })
}

func (s *Session) deviceUnavailable(err error) {
	if err == nil {
		err = audio.ErrDeviceUnavailable
	}
	s.record.Recording = false
	s.degrade("audio", err)
}

func (s *Session) degrade(component string, err error) {
	for _, d := range s.record.Degraded {
		if d == component {
			return
		}
	}
	s.record.Degraded = append(s.record.Degraded, component)
	a := models.NewAlert(s.id, models.SeverityWarning,
		fmt.Sprintf("Protection degraded: %s unavailable", component),
		models.DegradedDetail{Component: component, Error: err.Error()})
	a.AllowDuplicate = true
	s.publish(a)
}

// onChunk runs on the recorder goroutine.
func (s *Session) onChunk(chunk models.AudioChunk) {
	s.post(func() {
		if s.finalSeen {
			return
		}
		if len(chunk.Payload) > 0 {
			s.chunks = append(s.chunks, chunk)
		}
		if chunk.IsFinal {
			s.finalSeen = true
			close(s.finalCh)
		}
	})
}

// AddTranscript appends caller speech. Distress and OTP-request phrases
// raise alerts immediately; the risk score picks the text up on the next
// sampling tick.
func (s *Session) AddTranscript(seg models.TranscriptSegment) error {
	_, err := call(s, func() (struct{}, error) {
		if s.record.State != models.CallConnected || s.ending {
			return struct{}{}, ErrNotConnected
		}
		if s.feed.Append(seg) < 0 {
			return struct{}{}, nil
		}
		s.dirty = true

		if kws := risk.DetectDistress(seg.Text); len(kws) > 0 {
			s.publish(models.NewAlert(s.id, models.SeverityCritical,
				"Distress detected on the call", models.DistressDetail{Keywords: kws}))
		}
		if seg.Speaker != models.SpeakerSelf {
			if kws := risk.DetectOTPRequest(seg.Text); len(kws) > 0 {
				s.publish(models.NewAlert(s.id, models.SeverityCritical,
					"Caller is asking for a one-time code. Never share it.", models.OTPRequestDetail{Keywords: kws}))
			}
		}
		return struct{}{}, nil
	})
	return err
}

// AddModelSample folds an external model score into the rolling state.
func (s *Session) AddModelSample(sample models.RiskSample) error {
	_, err := call(s, func() (struct{}, error) {
		if s.record.State != models.CallConnected || s.ending {
			return struct{}{}, ErrNotConnected
		}
		sample.Source = models.SourceModel
		if sample.T.IsZero() {
			sample.T = time.Now().UTC()
		}
		s.observe(sample)
		return struct{}{}, nil
	})
	return err
}

// PreserveEvidence keeps the recording of this call on disk when it ends.
func (s *Session) PreserveEvidence() error {
	_, err := call(s, func() (struct{}, error) {
		if s.deps.Evidence == nil {
			return struct{}{}, errors.New("no evidence log configured")
		}
		s.preserve = true
		return struct{}{}, nil
	})
	return err
}

func (s *Session) onDurationTick() {
	if s.record.State != models.CallConnected {
		return
	}
	s.record.DurationSeconds = int(time.Since(s.record.ConnectedAt).Seconds())
}

// onSampleTick produces at most one sample per tick, and none when no
// transcript arrived since the previous tick.
func (s *Session) onSampleTick() {
	if !s.dirty || s.record.State != models.CallConnected {
		return
	}
	s.dirty = false

	text := s.feed.RecentText(s.cfg.RecentSegments)
	s.observe(risk.Sample(text, time.Now()))

	if s.cfg.StreamingAnalysis && s.deps.TextAnalyzer != nil && !s.streamingFailed {
		go s.streamText(text)
	}
}

func (s *Session) streamText(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SampleInterval)
	defer cancel()
	v, err := s.deps.TextAnalyzer.AnalyzeText(ctx, text)
	if err != nil {
		s.post(func() {
			if !s.streamingFailed {
				log.Printf("session %s: streaming analysis disabled: %v", s.id, err)
				s.streamingFailed = true
				s.degrade("streaming analysis", err)
			}
		})
		return
	}
	s.AddModelSample(models.RiskSample{T: time.Now().UTC(), Score: v.Score})
}

func (s *Session) observe(sample models.RiskSample) {
	s.setState(s.agg.Observe(sample))
}

func (s *Session) setState(st models.RollingRiskState) {
	s.record.RiskLevel = st.Level
	s.escalate(st)
}

// escalate publishes one alert per newly reached level.
func (s *Session) escalate(st models.RollingRiskState) {
	if st.Level.Rank() <= s.alerted.Rank() {
		return
	}
	switch st.Level {
	case models.RiskHigh:
		s.publish(models.NewAlert(s.id, models.SeverityWarning, risk.Recommendation(st.Level),
			models.HighRiskDetail{Score: st.PeakScore, Level: st.Level}))
	case models.RiskCritical:
		score := st.RealTimeScore
		if st.PeakScore > score {
			score = st.PeakScore
		}
		s.publish(models.NewAlert(s.id, models.SeverityCritical, risk.Recommendation(st.Level),
			models.ScamDetectedDetail{Score: score, Reason: "live", Explanations: risk.Patterns(s.feed.RecentText(s.cfg.RecentSegments))}))
	}
	s.alerted = st.Level
}

func (s *Session) publish(a models.Alert) {
	if s.deps.Alerts == nil {
		return
	}
	if _, _, err := s.deps.Alerts.Publish(a); err != nil {
		log.Printf("session %s: publish %s: %v", s.id, a.Kind, err)
	}
}

// Snapshot returns the current call record.
func (s *Session) Snapshot() models.CallRecord {
	rec, err := call(s, func() (models.CallRecord, error) {
		rec := s.record
		rec.Degraded = append([]string(nil), s.record.Degraded...)
		return rec, nil
	})
	if err != nil {
		<-s.loopDone
		return s.final
	}
	return rec
}

// Risk returns the rolling risk state.
func (s *Session) Risk() models.RollingRiskState {
	st, err := call(s, func() (models.RollingRiskState, error) { return s.agg.State(), nil })
	if err != nil {
		<-s.loopDone
		if s.summary != nil {
			return s.summary.Risk
		}
	}
	return st
}

// Transcript returns every segment received so far.
func (s *Session) Transcript() []models.TranscriptSegment {
	return s.feed.All()
}

// Summary returns the archived summary once the call has ended.
func (s *Session) Summary() (models.CallSummary, bool) {
	select {
	case <-s.loopDone:
		if s.summary != nil {
			return *s.summary, true
		}
	default:
	}
	return models.CallSummary{}, false
}

// End stops the call. When recording, it stops the source and waits for
// the final chunk before the recording is handed to the analyzer; the
// analysis itself is not cancelled by ctx, only bounded by its timeout.
func (s *Session) End(ctx context.Context) (models.CallSummary, error) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	type plan struct{ recording, release, skip bool }
	p, err := call(s, func() (plan, error) {
		if s.ending || s.record.State == models.CallEnded {
			return plan{}, ErrDuplicateAnalysis
		}
		s.ending = true
		s.stopTimers()
		switch s.record.State {
		case models.CallIdle, models.CallRinging:
			// chamada não atendida: nada foi gravado
			return plan{skip: true}, nil
		}
		s.record.DurationSeconds = int(time.Since(s.record.ConnectedAt).Seconds())
		return plan{
			recording: s.record.Recording,
			release:   s.sourceStarted && !s.record.Recording,
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateAnalysis) || errors.Is(err, ErrSessionClosed) {
			err = ErrDuplicateAnalysis
			if sum, ok := s.waitSummary(ctx); ok {
				return sum, err
			}
		}
		return models.CallSummary{}, err
	}

	var waitErr error
	switch {
	case p.recording:
		waitErr = s.awaitFinalChunk(ctx)
	case p.release:
		// gravação desativada no meio da chamada: o dispositivo ainda está aberto
		s.releaseSource(ctx)
	}
	s.detach()

	type handoff struct {
		audio      []byte
		format     models.AudioFormat
		transcript string
	}
	h, err := call(s, func() (*handoff, error) {
		if s.handedOff {
			return nil, ErrDuplicateAnalysis
		}
		if p.skip || !s.finalSeen || !s.record.Recording || s.deps.Analyzer == nil || len(s.chunks) == 0 {
			return nil, nil
		}
		s.handedOff = true
		s.record.Analyzing = true
		data, _ := converter.Assemble(s.chunks)
		return &handoff{audio: data, format: s.chunks[0].Format, transcript: s.feed.RecentText(s.feed.Len())}, nil
	})
	if err != nil {
		return models.CallSummary{}, err
	}

	var verdict *models.Verdict
	var analysisErr error
	if h != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AnalysisTimeout)
		v, err := s.deps.Analyzer.Analyze(actx, h.audio, h.format, h.transcript)
		cancel()
		if err != nil {
			analysisErr = fmt.Errorf("%w: %v", ErrAnalysisUnreachable, err)
		} else {
			verdict = &v
		}
	}

	sum, err := call(s, func() (models.CallSummary, error) {
		return s.finish(verdict, analysisErr, waitErr), nil
	})
	if err != nil {
		return models.CallSummary{}, err
	}
	return sum, nil
}

func (s *Session) awaitFinalChunk(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.FinalChunkTimeout)
	defer timer.Stop()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalChunkTimeout)
	defer cancel()
	if err := s.deps.Source.Stop(stopCtx); err != nil {
		log.Printf("session %s: stop source: %v", s.id, err)
	}

	select {
	case <-s.finalCh:
		return nil
	case <-timer.C:
		log.Printf("session %s: %v", s.id, ErrFinalChunkTimeout)
		return ErrFinalChunkTimeout
	}
}

func (s *Session) releaseSource(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalChunkTimeout)
	defer cancel()
	if err := s.deps.Source.Stop(stopCtx); err != nil {
		log.Printf("session %s: release source: %v", s.id, err)
	}
}

func (s *Session) detach() {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil
	if s.live != nil {
		s.live.Close()
		// a transcrição já enfileirada pode terminar, mas não bloqueia o fim
		go func(l *transcriber.Live, cancel context.CancelFunc) {
			select {
			case <-l.Done():
			case <-time.After(s.cfg.FinalChunkTimeout):
			}
			cancel()
		}(s.live, s.liveCancel)
	}
}

func (s *Session) stopTimers() {
	if s.durationTicker != nil {
		s.durationTicker.Stop()
		s.durationTicker = nil
	}
	if s.sampleTicker != nil {
		s.sampleTicker.Stop()
		s.sampleTicker = nil
	}
}

// finish merges the verdict, moves to Ended and stops the loop.
func (s *Session) finish(verdict *models.Verdict, analysisErr, waitErr error) models.CallSummary {
	live := s.agg.State()
	final := live.Level

	if waitErr != nil {
		s.degrade("final audio", waitErr)
	}
	if analysisErr != nil {
		log.Printf("session %s: %v", s.id, analysisErr)
		s.degrade("analysis", analysisErr)
	}
	if verdict != nil {
		vl := risk.Classify(verdict.Score)
		if verdict.IsFraud {
			vl = models.RiskCritical
		}
		final = models.MaxLevel(final, vl)
		if vl.Rank() > live.Level.Rank() && vl == models.RiskCritical {
			s.publish(models.NewAlert(s.id, models.SeverityCritical, "Post-call analysis flagged this call as fraud",
				models.ScamDetectedDetail{Score: verdict.Score, Reason: "verdict", Explanations: verdict.Explanations}))
		}
	}

	s.record.Analyzing = false
	s.record.Recording = false
	s.record.State = models.CallEnded
	s.record.EndedAt = time.Now().UTC()
	s.record.FinalRiskLevel = final

	sum := buildSummary(s.record, live, verdict, analysisErr, s.rep, s.feed.All(), s.explanations)

	if s.preserve && len(s.chunks) > 0 && s.deps.Evidence != nil {
		data, _ := converter.Assemble(s.chunks)
		path, err := s.deps.Evidence.SaveAudio(s.id, "."+converter.FileExtension(s.chunks[0].Format), data)
		if err != nil {
			log.Printf("session %s: preserve evidence: %v", s.id, err)
		}
		sum.EvidencePath = path
	}
	if s.deps.Evidence != nil && (s.preserve || final.Rank() >= models.RiskHigh.Rank()) {
		s.deps.Evidence.Append(evidence.Event{Event: evidence.EventCallEnded, SessionID: s.id, RiskLevel: string(final)})
	}

	s.summary = &sum
	s.final = s.record
	close(s.ended)
	close(s.stop)
	return sum
}

func (s *Session) waitSummary(ctx context.Context) (models.CallSummary, bool) {
	select {
	case <-s.ended:
		<-s.loopDone
		return *s.summary, true
	case <-ctx.Done():
		return models.CallSummary{}, false
	}
}
