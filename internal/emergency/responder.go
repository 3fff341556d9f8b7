// Package emergency reacts to distress and OTP-request alerts: it attaches
// a location, fans out to primary contacts and counts blocked OTP attempts.
package emergency

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ant0nioSouza/callguard/internal/contacts"
	"github.com/Ant0nioSouza/callguard/internal/evidence"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// LocationProvider returns the best-effort current location; nil, nil when
// unknown.
type LocationProvider interface {
	Locate(ctx context.Context) (*models.Location, error)
}

// AlertLocator amends a published alert with the captured location.
type AlertLocator interface {
	AttachLocation(id uuid.UUID, loc *models.Location) (models.Alert, bool)
}

// EvidenceTrigger asks the owner of a call to preserve its recording.
type EvidenceTrigger interface {
	PreserveEvidence(ctx context.Context, alert models.Alert) error
}

type Config struct {
	OTPProtection  bool
	AlertLevel     string        // "low", "medium", "high"
	LocateTimeout  time.Duration // default 2s
	NotifyTimeout  time.Duration // default 10s, per contact
	MaxConcurrency int           // default 8
}

// Report describes one fan-out.
type Report struct {
	Alert    models.Alert
	Notified []string
	Failed   map[string]string
}

type Responder struct {
	cfg      Config
	contacts contacts.Store
	notifier Notifier
	location LocationProvider
	evidence *evidence.Log
	trigger  EvidenceTrigger
	alerts   AlertLocator

	mu  sync.Mutex
	otp models.OTPProtection

	wg sync.WaitGroup
}

type Option func(*Responder)

func WithLocation(p LocationProvider) Option     { return func(r *Responder) { r.location = p } }
func WithEvidenceLog(l *evidence.Log) Option      { return func(r *Responder) { r.evidence = l } }
func WithEvidenceTrigger(t EvidenceTrigger) Option { return func(r *Responder) { r.trigger = t } }
func WithAlertLocator(l AlertLocator) Option       { return func(r *Responder) { r.alerts = l } }

func NewResponder(cfg Config, store contacts.Store, notifier Notifier, opts ...Option) *Responder {
	if cfg.LocateTimeout <= 0 {
		cfg.LocateTimeout = 2 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.AlertLevel == "" {
		cfg.AlertLevel = "high"
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	r := &Responder{
		cfg:      cfg,
		contacts: store,
		notifier: notifier,
		otp: models.OTPProtection{
			Enabled:    cfg.OTPProtection,
			AlertLevel: cfg.AlertLevel,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle is an alert.Handler. The counter update happens inline, the
// fan-out runs on its own goroutine so the bus keeps delivering.
func (r *Responder) Handle(ev models.AlertEvent) {
	if ev.Type != models.AlertCreated {
		return
	}
	a := ev.Alert
	if a.Kind != models.AlertDistress && a.Kind != models.AlertOTPRequest {
		return
	}
	if a.Kind == models.AlertOTPRequest {
		r.recordOTP(a)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Respond(context.Background(), a); err != nil {
			log.Printf("emergency: alert %s: %v", a.ID, err)
		}
	}()
}

// Wait blocks until every fan-out started by Handle has returned.
func (r *Responder) Wait() {
	r.wg.Wait()
}

// Respond attaches a location, triggers evidence preservation and notifies
// every primary contact in parallel. Individual delivery failures are
// logged and reported, never returned: Respond only fails when the contact
// list itself is unavailable.
func (r *Responder) Respond(ctx context.Context, a models.Alert) (Report, error) {
	loc := r.locate(ctx)
	a = a.WithLocation(loc)
	if loc != nil && r.alerts != nil {
		r.alerts.AttachLocation(a.ID, loc)
	}
	report := Report{Alert: a, Failed: map[string]string{}}

	ev := evidence.Event{Event: evidence.EventEmergencyTriggered, SessionID: a.SessionID, AlertID: a.ID, Kind: string(a.Kind)}
	if loc := a.Location(); loc != nil {
		ev.Latitude, ev.Longitude = loc.Latitude, loc.Longitude
	}
	r.appendEvidence(ev)

	if r.trigger != nil {
		if err := r.trigger.PreserveEvidence(ctx, a); err != nil {
			log.Printf("emergency: preserve evidence for %s: %v", a.SessionID, err)
		}
	}

	all, err := r.contacts.List(ctx)
	if err != nil {
		return report, err
	}
	primary := contacts.Primary(all)
	if len(primary) == 0 {
		return report, contacts.ErrNoContacts
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)
	for _, c := range primary {
		c := c
		g.Go(func() error {
			nctx, cancel := context.WithTimeout(gctx, r.cfg.NotifyTimeout)
			defer cancel()

			err := r.notifier.Notify(nctx, c, a)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("emergency: notify %s (%s) failed: %v", c.Name, c.ID, err)
				report.Failed[c.ID] = err.Error()
				r.appendEvidence(evidence.Event{Event: evidence.EventContactFailed, SessionID: a.SessionID, AlertID: a.ID, Contact: c.ID, Error: err.Error()})
				return nil
			}
			report.Notified = append(report.Notified, c.ID)
			r.appendEvidence(evidence.Event{Event: evidence.EventContactNotified, SessionID: a.SessionID, AlertID: a.ID, Contact: c.ID})
			return nil
		})
	}
	_ = g.Wait()

	return report, nil
}

func (r *Responder) locate(ctx context.Context) *models.Location {
	if r.location == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LocateTimeout)
	defer cancel()
	loc, err := r.location.Locate(ctx)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			log.Printf("emergency: location unavailable: %v", err)
		}
		return nil
	}
	return loc
}

func (r *Responder) recordOTP(a models.Alert) {
	r.mu.Lock()
	if !r.otp.Enabled {
		r.mu.Unlock()
		return
	}
	r.otp.BlockedAttempts++
	r.otp.LastBlocked = time.Now().UTC()
	count := r.otp.BlockedAttempts
	r.mu.Unlock()

	r.appendEvidence(evidence.Event{
		Event:     evidence.EventOTPBlocked,
		SessionID: a.SessionID,
		AlertID:   a.ID,
		Data:      map[string]string{"blocked_attempts": strconv.Itoa(count)},
	})
}

// OTPProtection returns a snapshot of the process-wide counter.
func (r *Responder) OTPProtection() models.OTPProtection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.otp
}

// SetOTPProtection toggles protection. The counter is kept.
func (r *Responder) SetOTPProtection(enabled bool) models.OTPProtection {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otp.Enabled = enabled
	return r.otp
}

func (r *Responder) appendEvidence(ev evidence.Event) {
	if r.evidence == nil {
		return
	}
	if err := r.evidence.Append(ev); err != nil {
		log.Printf("emergency: evidence log: %v", err)
	}
}
