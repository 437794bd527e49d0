package events

import (
	"log/slog"
	"sync"
)

// Broadcaster fans event payloads out to in-process subscribers by channel
// name. Slow subscribers drop events rather than block the dispatcher.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a buffered channel for a NOTIFY channel name. The
// returned cancel function removes the subscription and closes the channel.
func (b *Broadcaster) Subscribe(channel string, buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan []byte, buffer)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[channel]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
				if len(set) == 0 {
					delete(b.subs, channel)
				}
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast delivers a payload to every subscriber of the channel.
func (b *Broadcaster) Broadcast(channel string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
			slog.Warn("Dropping event for slow subscriber", "channel", channel)
		}
	}
}

// SubscriberCount returns the number of subscribers on a channel.
func (b *Broadcaster) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
