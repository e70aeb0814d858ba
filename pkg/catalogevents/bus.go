package catalogevents

import (
	"sync"

	"github.com/cuemby/chronicle/pkg/catalog"
)

// subscriberBuffer is the per-subscriber channel depth before a
// subscriber is considered lagging.
const subscriberBuffer = 256

// intakeBuffer is the depth of the single intake channel Publish feeds;
// sized generously since the permit holder calls Publish synchronously
// and must never block on a slow subscriber.
const intakeBuffer = 1024

// Event is one applied catalog batch, or a lag marker for a subscriber
// that could not keep up.
type Event struct {
	Seq    catalog.CatalogSequenceNumber
	Batch  catalog.CatalogBatch
	Lagged int
}

// Subscription is a handle returned by Bus.Subscribe. Events arrives on
// C; call Close when done to release the subscriber slot.
type Subscription struct {
	C      <-chan Event
	bus    *Bus
	ch     chan Event
	missed int
}

// Close unsubscribes. Safe to call once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.ch)
}

// Bus implements catalog.Publisher, broadcasting every applied batch to
// all current subscribers.
type Bus struct {
	mu          sync.Mutex
	subscribers map[chan Event]*Subscription
	intake      chan Event
	stopCh      chan struct{}
	stopped     bool
}

// NewBus creates a Bus. Call Start before constructing the Catalog that
// will publish into it, and Stop on shutdown.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[chan Event]*Subscription),
		intake:      make(chan Event, intakeBuffer),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broadcast loop.
func (b *Bus) Start() {
	go b.run()
}

// Stop stops the broadcast loop and closes every subscriber channel.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	close(b.stopCh)
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, bus: b, ch: ch}
	b.mu.Lock()
	b.subscribers[ch] = sub
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish satisfies catalog.Publisher. It never blocks: if the intake
// buffer itself is full (only possible if the broadcast loop has wedged
// or Stop was never called before GC), the event is dropped and every
// subscriber's next delivery will report it via Lagged.
func (b *Bus) Publish(seq catalog.CatalogSequenceNumber, batch catalog.CatalogBatch) {
	select {
	case b.intake <- Event{Seq: seq, Batch: batch}:
	case <-b.stopCh:
	default:
		b.mu.Lock()
		for _, sub := range b.subscribers {
			sub.missed++
		}
		b.mu.Unlock()
	}
}

func (b *Bus) run() {
	for {
		select {
		case ev := <-b.intake:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, sub := range b.subscribers {
		out := ev
		out.Lagged = sub.missed
		select {
		case ch <- out:
			sub.missed = 0
		default:
			// Buffer full: drop the oldest queued event so this one can
			// carry the lag count to the subscriber.
			select {
			case <-ch:
				sub.missed++
			default:
			}
			out.Lagged = sub.missed
			select {
			case ch <- out:
				sub.missed = 0
			default:
				sub.missed++
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

var _ catalog.Publisher = (*Bus)(nil)
