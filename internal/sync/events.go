package sync

import (
	"log"
	"os"
	"sync"
	"time"
)

// EventType identifies what happened in the engine.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventSyncing      EventType = "syncing"
	EventSynced       EventType = "synced"
	EventError        EventType = "error"
)

// Event is a status change broadcast to subscribers, typically a UI
// status bar or the daemon log.
type Event struct {
	Type     EventType
	Provider string
	Message  string
	Stats    *Stats // set on EventSynced
	Time     time.Time
}

// Notifier fans events out to subscribers. A panicking subscriber is
// caught and logged so it cannot take down the engine or its siblings.
type Notifier struct {
	logger *log.Logger

	mu          sync.Mutex
	subscribers []func(Event)
}

// NewNotifier creates an empty notifier logging to stderr. A notifier
// built by the engine shares the engine's logger instead.
func NewNotifier() *Notifier {
	return &Notifier{logger: log.New(os.Stderr, "[sync] ", log.LstdFlags)}
}

// Subscribe registers fn for all future events. Subscribers are
// invoked synchronously in registration order.
func (n *Notifier) Subscribe(fn func(Event)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribers = append(n.subscribers, fn)
}

// Publish delivers ev to every subscriber.
func (n *Notifier) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	n.mu.Lock()
	subs := make([]func(Event), len(n.subscribers))
	copy(subs, n.subscribers)
	n.mu.Unlock()

	for _, fn := range subs {
		n.deliver(fn, ev)
	}
}

func (n *Notifier) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Printf("event subscriber panicked on %s: %v", ev.Type, r)
		}
	}()
	fn(ev)
}
