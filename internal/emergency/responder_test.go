package emergency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ant0nioSouza/callguard/internal/alert"
	"github.com/Ant0nioSouza/callguard/internal/contacts"
	"github.com/Ant0nioSouza/callguard/internal/evidence"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

type fakeNotifier struct {
	mu    sync.Mutex
	sent  map[string]models.Alert
	fail  map[string]bool
	delay time.Duration
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: map[string]models.Alert{}, fail: map[string]bool{}}
}

func (f *fakeNotifier) Notify(ctx context.Context, c models.EmergencyContact, a models.Alert) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[c.ID] {
		return errors.New("sms gateway rejected")
	}
	f.sent[c.ID] = a
	return nil
}

type fixedLocation struct{ loc *models.Location }

func (f fixedLocation) Locate(context.Context) (*models.Location, error) { return f.loc, nil }

type triggerFunc func(context.Context, models.Alert) error

func (f triggerFunc) PreserveEvidence(ctx context.Context, a models.Alert) error { return f(ctx, a) }

var family = contacts.Static{
	{ID: "mom", Name: "Mom", PhoneNumber: "+1", IsPrimary: true},
	{ID: "dad", Name: "Dad", PhoneNumber: "+2", IsPrimary: true},
	{ID: "work", Name: "Work", PhoneNumber: "+3"},
}

func distress(session uuid.UUID) models.Alert {
	a := models.NewAlert(session, models.SeverityCritical, "Caller said: help", models.DistressDetail{Keywords: []string{"help"}})
	a.ID = uuid.New()
	return a
}

func TestRespondNotifiesPrimaryOnly(t *testing.T) {
	n := newFakeNotifier()
	loc := &models.Location{Latitude: 1, Longitude: 2}
	r := NewResponder(Config{OTPProtection: true}, family, n, WithLocation(fixedLocation{loc}))

	report, err := r.Respond(context.Background(), distress(uuid.New()))
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Notified) != 2 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if _, ok := n.sent["work"]; ok {
		t.Error("non-primary contact notified")
	}
	if got := n.sent["mom"].Location(); got == nil || got.Latitude != 1 {
		t.Errorf("notification location = %+v", got)
	}
	if report.Alert.Location() == nil {
		t.Error("report alert has no location")
	}
}

func TestRespondPartialDelivery(t *testing.T) {
	n := newFakeNotifier()
	n.fail["dad"] = true
	dir := t.TempDir()
	ev, _ := evidence.NewLog(dir)
	r := NewResponder(Config{}, family, n, WithEvidenceLog(ev))

	session := uuid.New()
	report, err := r.Respond(context.Background(), distress(session))
	if err != nil {
		t.Fatalf("partial failure must not be an error: %v", err)
	}
	if len(report.Notified) != 1 || report.Notified[0] != "mom" {
		t.Errorf("notified = %v", report.Notified)
	}
	if _, ok := report.Failed["dad"]; !ok {
		t.Errorf("failed = %v", report.Failed)
	}

	events, _ := ev.ForSession(session)
	kinds := map[string]int{}
	for _, e := range events {
		kinds[e.Event]++
	}
	if kinds[evidence.EventEmergencyTriggered] != 1 || kinds[evidence.EventContactNotified] != 1 || kinds[evidence.EventContactFailed] != 1 {
		t.Errorf("evidence events = %v", kinds)
	}
}

func TestRespondFiresAllInParallel(t *testing.T) {
	n := newFakeNotifier()
	n.delay = 100 * time.Millisecond
	var many contacts.Static
	for i := 0; i < 6; i++ {
		many = append(many, models.EmergencyContact{ID: uuid.NewString(), PhoneNumber: "+1", IsPrimary: true})
	}
	r := NewResponder(Config{}, many, n)

	start := time.Now()
	report, _ := r.Respond(context.Background(), distress(uuid.New()))
	if len(report.Notified) != 6 {
		t.Fatalf("notified %d/6", len(report.Notified))
	}
	if elapsed := time.Since(start); elapsed > 450*time.Millisecond {
		t.Errorf("fan-out took %v, contacts not notified in parallel", elapsed)
	}
}

func TestRespondWithoutPrimary(t *testing.T) {
	r := NewResponder(Config{}, contacts.Static{{ID: "x", PhoneNumber: "+1"}}, newFakeNotifier())
	if _, err := r.Respond(context.Background(), distress(uuid.New())); !errors.Is(err, contacts.ErrNoContacts) {
		t.Errorf("err = %v, want ErrNoContacts", err)
	}
}

func TestRespondTriggersEvidence(t *testing.T) {
	var got models.Alert
	trigger := triggerFunc(func(_ context.Context, a models.Alert) error {
		got = a
		return errors.New("not recording")
	})
	r := NewResponder(Config{}, family, newFakeNotifier(), WithEvidenceTrigger(trigger))

	a := distress(uuid.New())
	if _, err := r.Respond(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID {
		t.Error("evidence trigger not called")
	}
}

func TestOTPCounterCountsDeliveredAlertsOnly(t *testing.T) {
	bus := alert.NewBus(time.Minute, 30*time.Second)
	defer bus.Close()

	r := NewResponder(Config{OTPProtection: true}, family, newFakeNotifier())
	bus.Subscribe(r.Handle)

	session := uuid.New()
	otp := func() models.Alert {
		return models.NewAlert(session, models.SeverityCritical, "Caller asked for your OTP",
			models.OTPRequestDetail{Keywords: []string{"otp"}})
	}

	if _, ok, _ := bus.Publish(otp()); !ok {
		t.Fatal("first otp alert suppressed")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := bus.Publish(otp()); ok {
		t.Fatal("second otp alert should be deduplicated")
	}

	// o Close drena a fila antes de retornar
	bus.Close()
	r.Wait()

	p := r.OTPProtection()
	if p.BlockedAttempts != 1 {
		t.Errorf("BlockedAttempts = %d, want 1", p.BlockedAttempts)
	}
	if p.LastBlocked.IsZero() {
		t.Error("LastBlocked not set")
	}
}

func TestOTPCounterIsProcessWide(t *testing.T) {
	r := NewResponder(Config{OTPProtection: true}, family, newFakeNotifier())
	for i := 0; i < 3; i++ {
		a := models.NewAlert(uuid.New(), models.SeverityCritical, "otp", models.OTPRequestDetail{})
		r.Handle(models.AlertEvent{Type: models.AlertCreated, Alert: a})
	}
	// resolução e outros kinds não contam
	r.Handle(models.AlertEvent{Type: models.AlertResolved, Alert: models.NewAlert(uuid.New(), models.SeverityCritical, "otp", models.OTPRequestDetail{})})
	r.Handle(models.AlertEvent{Type: models.AlertCreated, Alert: models.NewAlert(uuid.New(), models.SeverityWarning, "risk", models.HighRiskDetail{})})
	r.Wait()

	if got := r.OTPProtection().BlockedAttempts; got != 3 {
		t.Errorf("BlockedAttempts = %d, want 3", got)
	}

	r.SetOTPProtection(false)
	r.Handle(models.AlertEvent{Type: models.AlertCreated, Alert: models.NewAlert(uuid.New(), models.SeverityCritical, "otp", models.OTPRequestDetail{})})
	r.Wait()
	if got := r.OTPProtection(); got.Enabled || got.BlockedAttempts != 3 {
		t.Errorf("after disable = %+v", got)
	}
}

func TestRespondPublishesLocationToBus(t *testing.T) {
	bus := alert.NewBus(time.Minute, time.Minute)
	defer bus.Close()

	updates := make(chan models.AlertEvent, 4)
	bus.Subscribe(func(ev models.AlertEvent) {
		if ev.Type == models.AlertUpdated {
			updates <- ev
		}
	})

	loc := &models.Location{Latitude: 1, Longitude: 2}
	r := NewResponder(Config{}, family, newFakeNotifier(), WithLocation(fixedLocation{loc}), WithAlertLocator(bus))
	bus.Subscribe(r.Handle)

	session := uuid.New()
	if _, _, err := bus.Publish(distress(session)); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-updates:
		if got := ev.Alert.Location(); got == nil || got.Longitude != 2 {
			t.Errorf("update location = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no location update reached subscribers")
	}
	r.Wait()
	if got := bus.Active(session)[0].Location(); got == nil {
		t.Error("active alert has no location")
	}
}
