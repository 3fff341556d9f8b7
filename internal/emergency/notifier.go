package emergency

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Ant0nioSouza/callguard/internal/mq"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// Notifier delivers one emergency notification to one contact.
type Notifier interface {
	Notify(ctx context.Context, contact models.EmergencyContact, alert models.Alert) error
}

// Notification is the payload handed to the delivery channel.
type Notification struct {
	ContactID   string           `json:"contact_id"`
	ContactName string           `json:"contact_name"`
	PhoneNumber string           `json:"phone_number"`
	SessionID   string           `json:"session_id"`
	AlertID     string           `json:"alert_id"`
	Kind        models.AlertKind `json:"kind"`
	Message     string           `json:"message"`
	Location    *models.Location `json:"location,omitempty"`
	SentAt      time.Time        `json:"sent_at"`
}

func newNotification(contact models.EmergencyContact, alert models.Alert) Notification {
	return Notification{
		ContactID:   contact.ID,
		ContactName: contact.Name,
		PhoneNumber: contact.PhoneNumber,
		SessionID:   alert.SessionID.String(),
		AlertID:     alert.ID.String(),
		Kind:        alert.Kind,
		Message:     messageFor(contact, alert),
		Location:    alert.Location(),
		SentAt:      time.Now().UTC(),
	}
}

func messageFor(contact models.EmergencyContact, alert models.Alert) string {
	msg := fmt.Sprintf("CallGuard emergency for %s: %s", contact.Name, alert.Message)
	if loc := alert.Location(); loc != nil {
		msg += fmt.Sprintf(" (location %.5f,%.5f)", loc.Latitude, loc.Longitude)
	}
	return msg
}

// LogNotifier only writes the notification to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, contact models.EmergencyContact, alert models.Alert) error {
	n := newNotification(contact, alert)
	log.Printf("📣 emergency notify %s (%s): %s", n.ContactName, n.PhoneNumber, n.Message)
	return nil
}

// KafkaNotifier publishes notifications for an external SMS/push gateway.
type KafkaNotifier struct {
	Writer mq.MessageWriter
}

func (k KafkaNotifier) Notify(ctx context.Context, contact models.EmergencyContact, alert models.Alert) error {
	n := newNotification(contact, alert)
	if err := mq.PublishJSON(ctx, k.Writer, n.ContactID, n); err != nil {
		return fmt.Errorf("publish notification for %s: %w", contact.ID, err)
	}
	return nil
}
