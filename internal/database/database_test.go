package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := New(ctx, Config{URL: url, MaxConns: 4})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// idempotente
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	return db
}

func TestSaveAndGetCall(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	id := uuid.New()
	summary := models.CallSummary{
		Call: models.CallRecord{
			ID: id, PhoneNumber: "+1-555-0789", StartedAt: now, ConnectedAt: now.Add(2 * time.Second),
			EndedAt: now.Add(30 * time.Second), State: models.CallEnded, DurationSeconds: 28,
			RiskLevel: models.RiskHigh, FinalRiskLevel: models.RiskCritical,
		},
		Risk:         models.RollingRiskState{PeakScore: 0.63, Level: models.RiskHigh},
		Verdict:      &models.Verdict{Score: 0.9, IsFraud: true, Confidence: models.ConfidenceHigh},
		Patterns:     []string{"Authority impersonation"},
		SuggestBlock: true,
		Transcript: []models.TranscriptSegment{
			{Text: "this is the irs calling", Speaker: models.SpeakerRemote, Timestamp: now.Add(3 * time.Second)},
			{Text: "who is this", Speaker: models.SpeakerSelf, Timestamp: now.Add(5 * time.Second)},
		},
	}

	if err := db.SaveCall(ctx, summary); err != nil {
		t.Fatal(err)
	}
	// arquivar de novo não duplica
	if err := db.SaveCall(ctx, summary); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetCall(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Call.FinalRiskLevel != models.RiskCritical || !got.SuggestBlock || len(got.Transcript) != 2 {
		t.Errorf("got %+v", got)
	}

	hits, err := db.SearchTranscripts(ctx, "irs", 10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, h := range hits {
		if h.CallID == id {
			found = true
		}
	}
	if !found {
		t.Error("search did not find archived transcript")
	}

	if _, err := db.GetCall(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing call err = %v", err)
	}
}

func TestReputationRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	number := "+1-555-" + uuid.NewString()[:4]
	if r, err := db.Lookup(ctx, number); err != nil || r != nil {
		t.Fatalf("unknown number = %+v, %v", r, err)
	}

	err := db.SaveReputation(ctx, models.Reputation{PhoneNumber: number, Type: "scam", RiskLevel: models.RiskCritical, RiskScore: 0.9, Reports: 3})
	if err != nil {
		t.Fatal(err)
	}
	r, err := db.Lookup(ctx, number)
	if err != nil || r == nil || !r.KnownScam() || r.Reports != 3 {
		t.Errorf("lookup = %+v, %v", r, err)
	}
}

func TestNullHelpers(t *testing.T) {
	if nullTime(time.Time{}) != nil {
		t.Error("zero time should be NULL")
	}
	if p := nullTime(time.Unix(1, 0)); p == nil || p.Unix() != 1 {
		t.Error("non-zero time lost")
	}
	if nullString("") != nil || *nullString("x") != "x" {
		t.Error("nullString")
	}
	if got := nonNil(nil); got == nil || len(got) != 0 {
		t.Error("nonNil(nil)")
	}
}
