package contacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// File is the layout of contacts.yaml.
type File struct {
	Version  int                       `yaml:"version"`
	Contacts []models.EmergencyContact `yaml:"contacts"`
	Location *FileLocation             `yaml:"location,omitempty"`
}

// FileLocation is the fallback location reported with emergency alerts
// when no live position is available.
type FileLocation struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Address   string  `yaml:"address,omitempty"`
}

// FileStore reads contacts from a YAML file and reloads it when the
// modification time changes.
type FileStore struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	cached  *File
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// ReadFile parses a contacts file.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading contacts: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing contacts: %w", err)
	}
	for i, c := range f.Contacts {
		if c.PhoneNumber == "" {
			return nil, fmt.Errorf("parsing contacts: entry %d (%q) has no phone_number", i, c.Name)
		}
		if c.ID == "" {
			f.Contacts[i].ID = fmt.Sprintf("contact-%d", i+1)
		}
	}
	return &f, nil
}

// WriteFile writes f to path, creating the parent directory.
func WriteFile(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating contacts directory: %w", err)
	}
	if f.Version == 0 {
		f.Version = 1
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshalling contacts: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing contacts: %w", err)
	}
	return nil
}

func (s *FileStore) load() (*File, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading contacts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && info.ModTime().Equal(s.modTime) {
		return s.cached, nil
	}
	f, err := ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	s.cached = f
	s.modTime = info.ModTime()
	return f, nil
}

func (s *FileStore) List(context.Context) ([]models.EmergencyContact, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	if len(f.Contacts) == 0 {
		return nil, ErrNoContacts
	}
	out := make([]models.EmergencyContact, len(f.Contacts))
	copy(out, f.Contacts)
	return out, nil
}

// Locate implements the emergency location provider using the configured
// fallback location.
func (s *FileStore) Locate(context.Context) (*models.Location, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	if f.Location == nil {
		return nil, nil
	}
	return &models.Location{
		Latitude:  f.Location.Latitude,
		Longitude: f.Location.Longitude,
		Address:   f.Location.Address,
	}, nil
}
