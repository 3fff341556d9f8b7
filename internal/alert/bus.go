// Package alert implements the publish/subscribe channel that carries
// ephemeral call alerts to the UI and the emergency subsystem.
package alert

import (
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Ant0nioSouza/callguard/pkg/models"
	"github.com/Ant0nioSouza/callguard/pkg/utils"
)

const (
	DefaultTTL         = 30 * time.Second
	DefaultDedupWindow = 30 * time.Second
)

var ErrBusClosed = errors.New("alert bus closed")

// Handler receives alert events in publish order.
type Handler func(models.AlertEvent)

type dedupKey struct {
	session uuid.UUID
	kind    models.AlertKind
	message string
}

type entry struct {
	alert models.Alert
	key   dedupKey
	timer *time.Timer
}

type subscriber struct {
	id int
	fn Handler
}

// Bus delivers events on a single dispatcher goroutine, so a slow or
// failing subscriber never reorders events for the others. Resolution and
// expiry race through one state transition per alert: the first writer
// wins, the loser sees it already resolved.
type Bus struct {
	ttl    time.Duration
	window time.Duration

	mu      sync.Mutex
	alerts  map[uuid.UUID]*entry
	active  map[dedupKey]uuid.UUID
	subs    []subscriber
	nextSub int
	queue   []models.AlertEvent
	closed  bool

	failures atomic.Int64
	wake     chan struct{}
	done     chan struct{}
}

func NewBus(ttl, dedupWindow time.Duration) *Bus {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	b := &Bus{
		ttl:    ttl,
		window: dedupWindow,
		alerts: make(map[uuid.UUID]*entry),
		active: make(map[dedupKey]uuid.UUID),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish stores a and schedules its expiry. When an unresolved alert with
// the same dedup key was created within the window, nothing is published
// and the existing alert is returned with published=false.
func (b *Bus) Publish(a models.Alert) (models.Alert, bool, error) {
	now := time.Now().UTC()
	key := keyFor(a)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return models.Alert{}, false, ErrBusClosed
	}

	if id, ok := b.active[key]; ok {
		if existing, ok := b.alerts[id]; ok && !existing.alert.Resolved {
			if now.Sub(existing.alert.CreatedAt) < b.window {
				b.mu.Unlock()
				return existing.alert, false, nil
			}
			// fora da janela: o novo substitui o antigo
			b.resolveLocked(id, false)
		}
	}

	a.ID = utils.NewID()
	a.CreatedAt = now
	a.ExpiresAt = now.Add(b.ttl)
	a.Resolved = false

	id := a.ID
	e := &entry{alert: a, key: key}
	e.timer = time.AfterFunc(b.ttl, func() { b.expire(id) })
	b.alerts[id] = e
	b.active[key] = id
	b.queue = append(b.queue, models.AlertEvent{Type: models.AlertCreated, Alert: a})
	b.mu.Unlock()

	b.signal()
	return a, true, nil
}

// Resolve marks an alert resolved. Unknown or already resolved ids are a
// no-op and return false.
func (b *Bus) Resolve(id uuid.UUID) bool {
	b.mu.Lock()
	ok := b.resolveLocked(id, false)
	b.mu.Unlock()
	if ok {
		b.signal()
	}
	return ok
}

func (b *Bus) expire(id uuid.UUID) {
	b.mu.Lock()
	ok := b.resolveLocked(id, true)
	b.mu.Unlock()
	if ok {
		b.signal()
	}
}

func (b *Bus) resolveLocked(id uuid.UUID, expired bool) bool {
	e, ok := b.alerts[id]
	if !ok || e.alert.Resolved {
		return false
	}
	e.alert.Resolved = true
	if !expired {
		e.timer.Stop()
	}
	if b.active[e.key] == id {
		delete(b.active, e.key)
	}
	delete(b.alerts, id)

	if !b.closed {
		b.queue = append(b.queue, models.AlertEvent{Type: models.AlertResolved, Alert: e.alert, Expired: expired})
	}
	return true
}

// AttachLocation stores loc on an active distress or OTP alert and emits an
// update event carrying the amended alert.
func (b *Bus) AttachLocation(id uuid.UUID, loc *models.Location) (models.Alert, bool) {
	if loc == nil {
		return models.Alert{}, false
	}

	b.mu.Lock()
	e, ok := b.alerts[id]
	if !ok || e.alert.Resolved || b.closed {
		b.mu.Unlock()
		return models.Alert{}, false
	}
	updated := e.alert.WithLocation(loc)
	if updated.Location() == nil {
		b.mu.Unlock()
		return models.Alert{}, false
	}
	e.alert = updated
	b.queue = append(b.queue, models.AlertEvent{Type: models.AlertUpdated, Alert: updated})
	b.mu.Unlock()

	b.signal()
	return updated, true
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.subs = append(b.subs, subscriber{id: id, fn: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Active returns the unresolved alerts of a session, oldest first. A nil
// session id returns every active alert.
func (b *Bus) Active(session uuid.UUID) []models.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Alert, 0, len(b.alerts))
	for _, e := range b.alerts {
		if session == uuid.Nil || e.alert.SessionID == session {
			out = append(out, e.alert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DeliveryFailures counts subscriber panics since the bus was created.
func (b *Bus) DeliveryFailures() int64 {
	return b.failures.Load()
}

// Close stops all expiry timers, delivers what is already queued and stops
// the dispatcher.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	for _, e := range b.alerts {
		e.timer.Stop()
	}
	b.mu.Unlock()

	b.signal()
	<-b.done
}

func (b *Bus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			<-b.wake
			continue
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		subs := make([]subscriber, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, s := range subs {
			b.deliver(s, ev)
		}
	}
}

func (b *Bus) deliver(s subscriber, ev models.AlertEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			b.failures.Add(1)
			log.Printf("alert-bus: subscriber %d failed on %s %s: %v", s.id, ev.Type, ev.Alert.ID, rec)
		}
	}()
	s.fn(ev)
}

func keyFor(a models.Alert) dedupKey {
	k := dedupKey{session: a.SessionID, kind: a.Kind}
	if a.AllowDuplicate {
		k.message = a.Message
	}
	return k
}
