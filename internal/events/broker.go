package events

import (
	"sync"
	"time"
)

// Phase names a step of a render request.
type Phase string

const (
	PhaseValidating Phase = "validating"
	PhaseCacheCheck Phase = "cache_check"
	PhaseGenerating Phase = "generating"
	PhaseRefining   Phase = "refining"
	PhasePersisting Phase = "persisting"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
	PhaseInProgress Phase = "in_progress"
)

// Event describes a progress update for one render job.
type Event struct {
	ClientID string    `json:"client_id"`
	JobID    string    `json:"job_id,omitempty"`
	Phase    Phase     `json:"phase"`
	Strategy string    `json:"strategy,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

type subscription struct {
	clientID string
}

// Broker manages SSE subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Event]subscription
}

// NewBroker constructs a broker instance.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan Event]subscription),
	}
}

// Subscribe returns a channel that receives events for clientID. An empty
// clientID receives everything.
func (b *Broker) Subscribe(clientID string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	b.subscribers[ch] = subscription{clientID: clientID}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel from the broker.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.subscribers[ch]
	delete(b.subscribers, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish fans the event out to matching subscribers. A nil broker
// discards it.
func (b *Broker) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.RLock()
	for ch, sub := range b.subscribers {
		if sub.clientID != "" && sub.clientID != evt.ClientID {
			continue
		}
		select {
		case ch <- evt:
		default:
			// drop if subscriber is slow
		}
	}
	b.mu.RUnlock()
}

// Subscribers reports the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
