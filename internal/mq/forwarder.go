package mq

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// AlertRecord is the decoded form of a message on the alerts topic. Detail
// stays raw because its shape depends on Kind.
type AlertRecord struct {
	Type    models.AlertEventType `json:"type"`
	Expired bool                  `json:"expired,omitempty"`
	Alert   struct {
		ID        uuid.UUID        `json:"id"`
		SessionID uuid.UUID        `json:"session_id"`
		Kind      models.AlertKind `json:"kind"`
		Severity  models.Severity  `json:"severity"`
		Message   string           `json:"message"`
		CreatedAt time.Time        `json:"created_at"`
		ExpiresAt time.Time        `json:"expires_at"`
		Resolved  bool             `json:"resolved"`
		Detail    json.RawMessage  `json:"detail,omitempty"`
	} `json:"alert"`
}

// Forwarder copies alert bus events to Kafka. Handle never blocks the bus
// dispatcher: events go through a bounded queue and are dropped, with a
// log line, when the broker falls behind.
type Forwarder struct {
	writer  MessageWriter
	timeout time.Duration
	queue   chan models.AlertEvent

	mu      sync.Mutex
	dropped int
}

func NewForwarder(writer MessageWriter, buffer int) *Forwarder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Forwarder{
		writer:  writer,
		timeout: 5 * time.Second,
		queue:   make(chan models.AlertEvent, buffer),
	}
}

// Handle is an alert.Handler.
func (f *Forwarder) Handle(ev models.AlertEvent) {
	select {
	case f.queue <- ev:
	default:
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		log.Printf("mq: queue full, dropping %s for alert %s", ev.Type, ev.Alert.ID)
	}
}

// Dropped reports how many events were discarded.
func (f *Forwarder) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Run publishes queued events until ctx is done, then flushes what is
// left with a short deadline.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-f.queue:
			f.publish(ctx, ev)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
			defer cancel()
			for {
				select {
				case ev := <-f.queue:
					f.publish(flushCtx, ev)
				default:
					return nil
				}
			}
		}
	}
}

func (f *Forwarder) publish(ctx context.Context, ev models.AlertEvent) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := PublishJSON(ctx, f.writer, ev.Alert.SessionID.String(), ev); err != nil {
		log.Printf("mq: publish %s %s: %v", ev.Type, ev.Alert.ID, err)
	}
}
