// Package contacts provides read-only access to the user's emergency
// contact list.
package contacts

import (
	"context"
	"errors"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

var ErrNoContacts = errors.New("no emergency contacts configured")

// Store lists the configured emergency contacts.
type Store interface {
	List(ctx context.Context) ([]models.EmergencyContact, error)
}

// Primary filters contacts flagged IsPrimary, keeping their order.
func Primary(all []models.EmergencyContact) []models.EmergencyContact {
	var out []models.EmergencyContact
	for _, c := range all {
		if c.IsPrimary {
			out = append(out, c)
		}
	}
	return out
}

// Static is a fixed in-memory list, mostly for tests and the CLI.
type Static []models.EmergencyContact

func (s Static) List(context.Context) ([]models.EmergencyContact, error) {
	out := make([]models.EmergencyContact, len(s))
	copy(out, s)
	return out, nil
}
