package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brlapi/bapserver/internal/keycode"
)

func TestAutoRepeaterFiresAfterDelay(t *testing.T) {
	var mu sync.Mutex
	var got []keycode.Code

	r := NewAutoRepeater(10*time.Millisecond, 10*time.Millisecond, func(c keycode.Code) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})
	defer r.Stop()

	r.Down(keycode.Code(7))
	time.Sleep(55 * time.Millisecond)
	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(got), 2, "expected at least two repeats in 55ms at a 10ms cadence")
	for _, c := range got {
		require.EqualValues(t, 7, c)
	}
}

func TestAutoRepeaterUpCancels(t *testing.T) {
	var mu sync.Mutex
	fired := 0

	r := NewAutoRepeater(10*time.Millisecond, 10*time.Millisecond, func(c keycode.Code) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer r.Stop()

	r.Down(keycode.Code(3))
	r.Up(keycode.Code(3))
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, fired)
}

func TestAutoRepeaterOtherKeyCancels(t *testing.T) {
	var mu sync.Mutex
	fired := 0

	r := NewAutoRepeater(10*time.Millisecond, 10*time.Millisecond, func(c keycode.Code) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer r.Stop()

	r.Down(keycode.Code(3))
	r.Other(keycode.Code(9))
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, fired)
}
