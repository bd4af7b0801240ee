package dispatch

import (
	"sync"
	"time"

	"github.com/brlapi/bapserver/internal/keycode"
)

// AutoRepeater implements spec.md §4.G/§5's auto-repeat behavior: once a
// "down" code has been held for Delay, Deliver is called with it every
// Interval until an "up" transition for the same code, or any other key,
// cancels the repeat. Per spec.md §5, synthesized repeats are strictly
// ordered after the original down and before the next real event, which
// callers get for free here because Deliver is invoked with the
// repeater's mutex held, serialized against Down/Up/Other.
type AutoRepeater struct {
	Delay    time.Duration
	Interval time.Duration
	Deliver  func(keycode.Code)

	mu      sync.Mutex
	timer   *time.Timer
	current keycode.Code
	active  bool
	gen     uint64 // invalidates a stale timer firing after Up/Other/Stop
}

// NewAutoRepeater constructs a repeater. deliver is invoked with the
// repeated code with the repeater's mutex held; it must not block and
// must not call back into the repeater.
func NewAutoRepeater(delay, interval time.Duration, deliver func(keycode.Code)) *AutoRepeater {
	return &AutoRepeater{Delay: delay, Interval: interval, Deliver: deliver}
}

// Down arms the repeater for c, replacing any in-flight repeat for a
// different code.
func (r *AutoRepeater) Down(c keycode.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()
	r.current = c
	r.active = true
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(r.Delay, func() { r.fire(gen) })
}

// Up cancels the repeat if it is currently armed for c.
func (r *AutoRepeater) Up(c keycode.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active && r.current == c {
		r.stopLocked()
	}
}

// Other cancels any in-flight repeat: "the arrival of any other key
// cancels the repeat" (spec.md §4.G).
func (r *AutoRepeater) Other(c keycode.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active && r.current != c {
		r.stopLocked()
	}
}

// Stop unconditionally cancels any in-flight repeat, for connection
// teardown.
func (r *AutoRepeater) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *AutoRepeater) stopLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.active = false
	r.gen++
}

func (r *AutoRepeater) fire(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || !r.active {
		return
	}
	c := r.current
	r.timer = time.AfterFunc(r.Interval, func() { r.fire(gen) })
	r.Deliver(c)
}
