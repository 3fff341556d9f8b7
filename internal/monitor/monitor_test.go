package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ant0nioSouza/callguard/internal/alert"
	"github.com/Ant0nioSouza/callguard/internal/evidence"
	"github.com/Ant0nioSouza/callguard/internal/session"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

type memArchive struct {
	mu    sync.Mutex
	calls []models.CallSummary
}

func (a *memArchive) SaveCall(_ context.Context, s models.CallSummary) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, s)
	return nil
}

func (a *memArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func testMonitor(archive Archiver) *Monitor {
	return New(Config{
		Session: session.Config{
			SampleInterval:    20 * time.Millisecond,
			DurationTick:      10 * time.Millisecond,
			FinalChunkTimeout: 100 * time.Millisecond,
		},
		RingTimeout: 30 * time.Millisecond,
	}, Deps{Archive: archive})
}

func TestCallLifecycle(t *testing.T) {
	archive := &memArchive{}
	m := testMonitor(archive)
	ctx := context.Background()

	s, err := m.StartCall(ctx, "+15551234567")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Connect(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if err := m.AddTranscript(s.ID(), models.TranscriptSegment{Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	active := m.Active()
	if len(active) != 1 || active[0].State != models.CallConnected {
		t.Fatalf("active = %+v", active)
	}

	sum, err := m.EndCall(ctx, s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Call.State != models.CallEnded {
		t.Errorf("state = %s", sum.Call.State)
	}
	if len(m.Active()) != 0 {
		t.Error("ended call still active")
	}

	m.Close(ctx)
	if archive.count() != 1 {
		t.Errorf("archived %d times, want 1", archive.count())
	}

	again, err := m.EndCall(ctx, s.ID())
	if !errors.Is(err, session.ErrDuplicateAnalysis) || again.Call.ID != s.ID() {
		t.Errorf("second EndCall = %v", err)
	}
	if got, ok := m.Summary(ctx, s.ID()); !ok || len(got.Transcript) != 1 {
		t.Errorf("summary = %+v, %v", got, ok)
	}
}

func TestUnknownCall(t *testing.T) {
	m := testMonitor(nil)
	id := uuid.New()
	if err := m.Connect(context.Background(), id); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Connect = %v", err)
	}
	if _, err := m.EndCall(context.Background(), id); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("EndCall = %v", err)
	}
	if err := m.PreserveEvidence(context.Background(), models.Alert{SessionID: id}); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("PreserveEvidence = %v", err)
	}
}

func TestReaperEndsUnansweredCalls(t *testing.T) {
	archive := &memArchive{}
	m := testMonitor(archive)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ringing, _ := m.StartCall(ctx, "+15550000001")
	answered, _ := m.StartCall(ctx, "+15550000002")
	m.Connect(ctx, answered.ID())

	m.StartReaper(ctx, 10*time.Millisecond)

	select {
	case <-ringing.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("unanswered call not reaped")
	}
	time.Sleep(50 * time.Millisecond)
	if answered.Snapshot().State != models.CallConnected {
		t.Error("connected call was reaped")
	}
	m.Close(ctx)
	if archive.count() != 2 {
		t.Errorf("archived %d", archive.count())
	}
}

func TestRecentWithoutArchiveReader(t *testing.T) {
	m := testMonitor(nil)
	ctx := context.Background()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		s, _ := m.StartCall(ctx, "+1555000000"+string(rune('0'+i)))
		m.EndCall(ctx, s.ID())
		ids = append(ids, s.ID())
	}

	recent, err := m.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != ids[2] || recent[1].ID != ids[1] {
		t.Errorf("recent = %+v", recent)
	}
}

func TestDistressPreservesEvidence(t *testing.T) {
	ev, err := evidence.NewLog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bus := alert.NewBus(time.Second, time.Second)
	defer bus.Close()

	m := New(Config{Session: session.Config{SampleInterval: 20 * time.Millisecond, FinalChunkTimeout: 100 * time.Millisecond}},
		Deps{Alerts: bus, Evidence: ev})
	ctx := context.Background()

	got := make(chan error, 1)
	bus.Subscribe(func(e models.AlertEvent) {
		if e.Type == models.AlertCreated && e.Alert.Kind == models.AlertDistress {
			got <- m.PreserveEvidence(ctx, e.Alert)
		}
	})

	s, _ := m.StartCall(ctx, "+15550000003")
	m.Connect(ctx, s.ID())
	m.AddTranscript(s.ID(), models.TranscriptSegment{Text: "help me please"})

	select {
	case err := <-got:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no distress alert")
	}

	m.EndCall(ctx, s.ID())
	events, _ := ev.ForSession(s.ID())
	if len(events) == 0 || events[len(events)-1].Event != evidence.EventCallEnded {
		t.Errorf("evidence = %+v", events)
	}
}
