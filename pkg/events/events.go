package events

import (
	"sync"
	"time"

	"github.com/aisu-os/core/pkg/types"
	"github.com/google/uuid"
)

// Event is a container lifecycle event as seen by observers. The durable
// audit trail is written to the store by the manager; the broker carries the
// same events to in-process subscribers on a best-effort basis.
type Event struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      types.ContainerEventType
	Timestamp time.Time
	Details   map[string]interface{}
}

// subscriberBuffer is how many undelivered events a subscriber may lag
// behind before further events are dropped for it.
const subscriberBuffer = 64

// Subscription is one observer's view of the event stream. Events arrive on
// C until Cancel (or Broker.Close) closes it.
type Subscription struct {
	C <-chan *Event

	id     uint64
	broker *Broker
}

// Cancel detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.broker.drop(s.id)
}

// Broker fans container lifecycle events out to subscribers. Delivery is
// synchronous with Publish: a subscriber that has fallen subscriberBuffer
// events behind misses events rather than stalling the publisher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]chan *Event
	nextID uint64
	closed bool
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]chan *Event)}
}

// Subscribe registers a new observer.
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return &Subscription{C: ch, broker: b}
	}

	b.nextID++
	b.subs[b.nextID] = ch
	return &Subscription{C: ch, id: b.nextID, broker: b}
}

func (b *Broker) drop(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers event to every live subscriber, stamping id and
// timestamp if the caller left them zero. Never blocks.
func (b *Broker) Publish(event *Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// lagging subscriber, drop for it
		}
	}
}

// Close detaches all subscribers and rejects further publishes.
func (b *Broker) Close() {
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

// SubscriberCount reports how many subscriptions are live.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
