// Package events carries lifecycle notifications from the supervisor and the
// sync pipeline to whoever consumes them (CLI output, status API, tests).
package events

import (
	"sync"
	"time"

	"github.com/loykin/specsync/internal/contract"
)

// Type names a lifecycle event.
type Type string

const (
	ServiceStarted      Type = "service-started"
	ServiceError        Type = "service-error"
	SpecChanged         Type = "spec-changed"
	GenerationStarted   Type = "generation-started"
	GenerationCompleted Type = "generation-completed"
	GenerationFailed    Type = "generation-failed"
)

// ErrorKind qualifies a ServiceError event.
type ErrorKind string

const (
	ErrorStartFailed ErrorKind = "start-failed"
	ErrorCrashed     ErrorKind = "crashed"
)

// Event is an immutable lifecycle notification. Only the fields relevant to
// Type are set.
type Event struct {
	Type    Type
	Time    time.Time
	Service string
	Port    int
	Kind    ErrorKind
	Err     error
	RunID   string
	Changes []contract.Change
	// Final is set on a GenerationFailed event after which no retry is
	// scheduled.
	Final bool
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

func NewBus() *Bus { return &Bus{subs: make(map[int]chan Event)} }

// Subscribe registers a listener with the given buffer size. The returned
// cancel function unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber. A zero Time is set to now.
// Publishing on a nil Bus is a no-op.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes all subscriber channels. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
