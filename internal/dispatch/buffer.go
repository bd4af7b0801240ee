package dispatch

import (
	"sync"

	"github.com/brlapi/bapserver/internal/keycode"
)

// EventBufferSize is the capacity of a connection's pending-key buffer
// (spec.md §4.G's bounded per-client queue). Once it is full, Push drops
// the oldest unread key to make room and reports the drop to its caller;
// internal/core counts drops in a metric and does not log them.
const EventBufferSize = 256

// EventBuffer is the per-connection holding area for keys admitted by a
// Filter while no read_key call is blocked waiting for one. Its methods
// are safe for concurrent use: each one takes the buffer's own mutex.
type EventBuffer struct {
	mu      sync.Mutex
	entries []keycode.Code
	dropped uint64
}

// NewEventBuffer returns an empty buffer.
func NewEventBuffer() *EventBuffer {
	return &EventBuffer{}
}

// Push appends c, dropping the oldest entry first if the buffer is full.
// It reports whether an entry had to be dropped to make room.
func (b *EventBuffer) Push(c keycode.Code) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= EventBufferSize {
		b.entries = b.entries[1:]
		b.dropped++
		dropped = true
	}
	b.entries = append(b.entries, c)
	return dropped
}

// Pop removes and returns the oldest entry, if any.
func (b *EventBuffer) Pop() (keycode.Code, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return 0, false
	}
	c := b.entries[0]
	b.entries = b.entries[1:]
	return c, true
}

// Len reports the number of buffered, unread entries.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped reports the lifetime count of entries evicted to make room.
func (b *EventBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
