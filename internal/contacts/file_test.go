package contacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

const sample = `version: 1
contacts:
  - name: Mom
    phone_number: "+15550001"
    relationship: family
    is_primary: true
  - id: c2
    name: Neighbor
    phone_number: "+15550002"
  - id: c3
    name: Brother
    phone_number: "+15550003"
    is_primary: true
location:
  latitude: 40.7
  longitude: -74.0
  address: Home
`

func writeSample(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileStoreList(t *testing.T) {
	store := NewFileStore(writeSample(t, sample))

	all, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d contacts", len(all))
	}
	if all[0].ID != "contact-1" {
		t.Errorf("missing id not defaulted: %q", all[0].ID)
	}

	primary := Primary(all)
	if len(primary) != 2 || primary[0].Name != "Mom" || primary[1].Name != "Brother" {
		t.Errorf("Primary = %+v", primary)
	}

	loc, err := store.Locate(context.Background())
	if err != nil || loc == nil || loc.Address != "Home" {
		t.Errorf("Locate = %+v, %v", loc, err)
	}
}

func TestFileStoreReloadsOnChange(t *testing.T) {
	path := writeSample(t, sample)
	store := NewFileStore(path)
	if _, err := store.List(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := WriteFile(path, &File{Contacts: []models.EmergencyContact{{ID: "x", Name: "Only", PhoneNumber: "+1", IsPrimary: true}}})
	if err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	os.Chtimes(path, later, later)

	all, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Name != "Only" {
		t.Errorf("after reload = %+v", all)
	}
}

func TestFileStoreErrors(t *testing.T) {
	if _, err := NewFileStore(filepath.Join(t.TempDir(), "missing.yaml")).List(context.Background()); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := NewFileStore(writeSample(t, "contacts: [")).List(context.Background()); err == nil {
		t.Error("malformed yaml should fail")
	}
	if _, err := NewFileStore(writeSample(t, "contacts:\n  - name: nobody\n")).List(context.Background()); err == nil {
		t.Error("contact without phone should fail")
	}
	_, err := NewFileStore(writeSample(t, "version: 1\n")).List(context.Background())
	if !errors.Is(err, ErrNoContacts) {
		t.Errorf("empty list err = %v, want ErrNoContacts", err)
	}
}

func TestStaticCopies(t *testing.T) {
	s := Static{{ID: "a", PhoneNumber: "1", IsPrimary: true}}
	got, _ := s.List(context.Background())
	got[0].Name = "changed"
	if s[0].Name != "" {
		t.Error("List leaked the backing slice")
	}
}

func TestNewSupabaseStoreValidates(t *testing.T) {
	if _, err := NewSupabaseStore(SupabaseConfig{APIKey: "k"}); err == nil {
		t.Error("missing URL should fail")
	}
	if _, err := NewSupabaseStore(SupabaseConfig{URL: "http://localhost"}); err == nil {
		t.Error("missing key should fail")
	}
}
