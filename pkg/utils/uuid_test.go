package utils

import (
	"testing"
	"time"
)

func TestNewIDIsTimeOrdered(t *testing.T) {
	id1 := NewID()
	time.Sleep(2 * time.Millisecond)
	id2 := NewID()

	if id1.Version() != 7 || id2.Version() != 7 {
		t.Fatalf("IDs should be UUIDv7, got v%d and v%d", id1.Version(), id2.Version())
	}
	if id1 == id2 {
		t.Fatal("IDs should be unique")
	}
	if id1.String() >= id2.String() {
		t.Errorf("IDs not in chronological order: %s >= %s", id1, id2)
	}
}

func TestIDCarriesCreationTime(t *testing.T) {
	before := time.Now().UnixMilli()
	id := NewID()
	after := time.Now().UnixMilli()

	sec, nsec := id.Time().UnixTime()
	ms := time.Unix(sec, nsec).UnixMilli()
	if ms < before || ms > after {
		t.Fatalf("timestamp %d outside [%d, %d]", ms, before, after)
	}
}

func TestParseID(t *testing.T) {
	id := NewID()
	got, ok := ParseID(id.String())
	if !ok || got != id {
		t.Fatalf("ParseID(%q) = %v, %v", id, got, ok)
	}
	if _, ok := ParseID("00000000-0000-0000-0000-000000000000"); ok {
		t.Error("nil UUID should be rejected")
	}
	if _, ok := ParseID("not-a-uuid"); ok {
		t.Error("garbage should be rejected")
	}
}

func BenchmarkNewID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewID()
	}
}
