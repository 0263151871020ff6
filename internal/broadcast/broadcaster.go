package broadcast

import (
	"sync"

	"alchemistral/internal/logging"
)

const (
	// subscriberBuffer is the per-client channel depth. A client that cannot
	// keep up has events dropped rather than stalling the mission.
	subscriberBuffer = 256
	// maxHistory bounds the replay buffer handed to late-joining clients.
	maxHistory = 1000
)

// Broadcaster is the single fan-out sink for all lifecycle events. Any
// component may push; only transport code subscribes.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}

	historyMu sync.RWMutex
	history   []Event

	logger  logging.Logger
	metrics *Metrics
}

// NewBroadcaster creates an empty broadcaster using the shared metrics.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
		logger:      logging.NewComponentLogger("Broadcaster"),
		metrics:     defaultMetrics(),
	}
}

// Subscribe registers a new client and returns its event channel together
// with an unsubscribe function. The channel is closed on unsubscribe.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.metrics.SetSubscribers(count)
	b.logger.Debug("client subscribed, %d active", count)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			count := len(b.subscribers)
			b.mu.Unlock()
			close(ch)
			b.metrics.SetSubscribers(count)
			b.logger.Debug("client unsubscribed, %d active", count)
		})
	}
	return ch, unsubscribe
}

// Publish fans an event out to every subscriber. Slow subscribers have the
// event dropped; publishing never blocks mission progress.
func (b *Broadcaster) Publish(event Event) {
	b.storeHistory(event)
	b.metrics.IncPublished(event.Type)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.metrics.IncDropped()
			b.logger.Warn("subscriber buffer full, dropping %s event for %s", event.Type, event.AgentID)
		}
	}
}

// History returns a copy of the retained event tail for session replay.
func (b *Broadcaster) History() []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// SubscriberCount reports the number of connected clients.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) storeHistory(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	b.history = append(b.history, event)
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
}
