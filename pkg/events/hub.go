package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// subscriberBuffer is how many events a subscriber may fall behind before
// events are dropped for it.
const subscriberBuffer = 16

// EventHub fans battery events out to SSE subscribers. Publishing never
// blocks the monitor loop: a subscriber with a full buffer misses the event.
type EventHub struct {
	mu      sync.RWMutex
	subs    map[chan Event]map[string]struct{}
	dropped atomic.Uint64
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan Event]map[string]struct{})}
}

// Subscribe returns a channel receiving the named events, or every event
// when no name is given.
func (h *EventHub) Subscribe(names ...string) chan Event {
	var filter map[string]struct{}
	if len(names) > 0 {
		filter = make(map[string]struct{}, len(names))
		for _, n := range names {
			filter[n] = struct{}{}
		}
	}

	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = filter
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *EventHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Publish marshals payload and delivers it to every interested subscriber.
// A nil hub discards the event.
func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Warn("failed to marshal event payload")
		return
	}
	msg := Event{Name: name, Data: b}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, filter := range h.subs {
		if filter != nil {
			if _, ok := filter[name]; !ok {
				continue
			}
		}
		select {
		case ch <- msg:
		default:
			h.dropped.Add(1)
			logrus.WithField("event", name).Debug("subscriber is slow, dropping event")
		}
	}
}
