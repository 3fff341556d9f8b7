package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
	got  chan struct{}
}

func newMemWriter() *memWriter {
	return &memWriter{got: make(chan struct{}, 100)}
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		w.got <- struct{}{}
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	for range msgs {
		w.got <- struct{}{}
	}
	return nil
}

func (w *memWriter) Close() error { return nil }

func (w *memWriter) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-w.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d/%d messages written", i, n)
		}
	}
}

func TestForwarderPublishesInOrder(t *testing.T) {
	w := newMemWriter()
	f := NewForwarder(w, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { f.Run(ctx); close(done) }()

	session := uuid.New()
	a := models.NewAlert(session, models.SeverityCritical, "scam", models.ScamDetectedDetail{Score: 0.95, Reason: "reputation"})
	a.ID = uuid.New()
	f.Handle(models.AlertEvent{Type: models.AlertCreated, Alert: a})
	a.Resolved = true
	f.Handle(models.AlertEvent{Type: models.AlertResolved, Alert: a, Expired: true})
	w.wait(t, 2)
	cancel()
	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	if string(w.msgs[0].Key) != session.String() {
		t.Errorf("key = %s", w.msgs[0].Key)
	}
	first, err := ParseMessageJSON[AlertRecord](w.msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	if first.Type != models.AlertCreated || first.Alert.Kind != models.AlertScamDetected || first.Alert.ID != a.ID {
		t.Errorf("first = %+v", first)
	}
	if len(first.Alert.Detail) == 0 {
		t.Error("detail missing")
	}
	second, _ := ParseMessageJSON[AlertRecord](w.msgs[1])
	if second.Type != models.AlertResolved || !second.Expired {
		t.Errorf("second = %+v", second)
	}
}

func TestForwarderDropsWhenFull(t *testing.T) {
	f := NewForwarder(newMemWriter(), 1)
	ev := models.AlertEvent{Type: models.AlertCreated}
	f.Handle(ev)
	f.Handle(ev)
	f.Handle(ev)
	if got := f.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
}

func TestForwarderSurvivesWriteErrors(t *testing.T) {
	w := newMemWriter()
	w.err = errors.New("broker down")
	f := NewForwarder(w, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Handle(models.AlertEvent{Type: models.AlertCreated})
	f.Handle(models.AlertEvent{Type: models.AlertCreated})
	w.wait(t, 2)
}
