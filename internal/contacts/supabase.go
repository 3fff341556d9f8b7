package contacts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// SupabaseConfig configura o acesso à tabela emergency_contacts
type SupabaseConfig struct {
	URL      string
	APIKey   string
	Table    string        // Default: emergency_contacts
	CacheTTL time.Duration // Default: 5 minutes
}

// SupabaseStore lê os contatos do Supabase com cache em memória
type SupabaseStore struct {
	client   *supabase.Client
	table    string
	cacheTTL time.Duration

	mu        sync.RWMutex
	cached    []models.EmergencyContact
	expiresAt time.Time
}

func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.Table == "" {
		cfg.Table = "emergency_contacts"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &SupabaseStore{
		client:   client,
		table:    cfg.Table,
		cacheTTL: cfg.CacheTTL,
	}, nil
}

func (s *SupabaseStore) List(ctx context.Context) ([]models.EmergencyContact, error) {
	if cached := s.fromCache(); cached != nil {
		return cached, nil
	}

	var rows []models.EmergencyContact
	_, err := s.client.From(s.table).
		Select("id,name,phone_number,relationship,is_primary", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list emergency contacts: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoContacts
	}

	s.mu.Lock()
	s.cached = rows
	s.expiresAt = time.Now().Add(s.cacheTTL)
	s.mu.Unlock()

	return s.fromCache(), nil
}

func (s *SupabaseStore) fromCache() []models.EmergencyContact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cached == nil || !time.Now().Before(s.expiresAt) {
		return nil
	}
	out := make([]models.EmergencyContact, len(s.cached))
	copy(out, s.cached)
	return out
}

var _ Store = (*SupabaseStore)(nil)
