// Package reputation looks up what is known about a calling number.
package reputation

import (
	"context"
	"strings"
	"sync"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// Store returns nil, nil for numbers it knows nothing about.
type Store interface {
	Lookup(ctx context.Context, phoneNumber string) (*models.Reputation, error)
}

// Normalize keeps digits and a leading plus sign, so "+1-555-0789" and
// "+1 (555) 0789" hit the same record.
func Normalize(phoneNumber string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phoneNumber) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Memory is an in-process reputation table.
type Memory struct {
	mu      sync.RWMutex
	records map[string]models.Reputation
}

func NewMemory(records ...models.Reputation) *Memory {
	m := &Memory{records: make(map[string]models.Reputation, len(records))}
	for _, r := range records {
		m.Put(r)
	}
	return m
}

func (m *Memory) Put(r models.Reputation) {
	key := Normalize(r.PhoneNumber)
	m.mu.Lock()
	m.records[key] = r
	m.mu.Unlock()
}

func (m *Memory) Lookup(_ context.Context, phoneNumber string) (*models.Reputation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[Normalize(phoneNumber)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Known returns the bundled list of reported numbers.
func Known() []models.Reputation {
	return []models.Reputation{
		{PhoneNumber: "+1-555-0123", Type: "individual", RiskLevel: models.RiskLow, RiskScore: 0.15},
		{PhoneNumber: "+1-555-0456", Type: "business", RiskLevel: models.RiskLow, RiskScore: 0.05, Reports: 2},
		{PhoneNumber: "+1-555-0789", Type: "scam", RiskLevel: models.RiskCritical, RiskScore: 0.95, ScamType: "Tax Authority Impersonation", Reports: 342},
		{PhoneNumber: "+1-555-0999", Type: "scam", RiskLevel: models.RiskHigh, RiskScore: 0.85, ScamType: "Tech Support Scam", Reports: 156},
		{PhoneNumber: "+1-800-123-4567", Type: "business", RiskLevel: models.RiskMedium, RiskScore: 0.45, Reports: 23},
		{PhoneNumber: "+1-555-8888", Type: "telemarketer", RiskLevel: models.RiskMedium, RiskScore: 0.6, Reports: 45},
		{PhoneNumber: "+1-555-9999", Type: "unknown", RiskLevel: models.RiskMedium, RiskScore: 0.5, Reports: 12},
		{PhoneNumber: "+1-800-555-0199", Type: "scam", RiskLevel: models.RiskCritical, RiskScore: 0.92, ScamType: "Government Impersonation", Reports: 289},
	}
}

// Chain asks each store in turn and returns the first hit.
type Chain []Store

func (c Chain) Lookup(ctx context.Context, phoneNumber string) (*models.Reputation, error) {
	for _, s := range c {
		r, err := s.Lookup(ctx, phoneNumber)
		if err != nil {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
	}
	return nil, nil
}
