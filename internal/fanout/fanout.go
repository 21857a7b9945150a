// Package fanout delivers message lines from one producer to any number of
// subscribers without ever blocking the producer.
package fanout

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts losing lines.
const DefaultBuffer = 64

// Hub fans lines out to subscribers. The zero value is not usable; call
// New.
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool

	lines   atomic.Uint64
	dropped atomic.Uint64
}

// Stats are cumulative fan-out counters.
type Stats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// New returns a Hub whose subscriber channels hold buffer lines.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[string]chan string)}
}

// randomID returns 8 random bytes, hex encoded.
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new channel. After Close it returns a closed one.
func (h *Hub) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe closes and forgets the channel registered under id.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Publish delivers line to every subscriber that has room for it.
func (h *Hub) Publish(line string) {
	h.lines.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
			h.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel and reports whether this call did
// it. Later Publish calls are counted but go nowhere.
func (h *Hub) Close() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	return true
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()
	return Stats{Lines: h.lines.Load(), Dropped: h.dropped.Load(), Subscribers: n}
}
