package presence

import (
	"time"
)

// DefaultTypingDecay is how long a typing indicator stays on without a
// refreshing event.
const DefaultTypingDecay = 2 * time.Second

type typingState int

const (
	idle typingState = iota
	typing
)

// TypingTracker is the idle/typing state machine of the selected
// conversation. It is not safe for concurrent use: the owner serializes
// Observe, Expire and Reset, and routes the expiry callback back through
// the same serialization point.
type TypingTracker struct {
	decay  time.Duration
	expire func(gen uint64)

	state typingState
	gen   uint64
	timer *time.Timer
}

// NewTypingTracker returns an idle tracker. expire is called from a timer
// goroutine with the generation that armed the timer; pass it to Expire.
func NewTypingTracker(decay time.Duration, expire func(gen uint64)) *TypingTracker {
	if decay <= 0 {
		decay = DefaultTypingDecay
	}
	return &TypingTracker{
		decay:  decay,
		expire: expire,
	}
}

// Observe handles an inbound typing event from fromID. Only events from the
// selected counterpart count; they move idle to typing or restart the decay
// timer. Reports whether the visible state changed.
func (t *TypingTracker) Observe(fromID, selectedID string) bool {
	if selectedID == "" || fromID != selectedID {
		return false
	}

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.decay, func() {
		if t.expire != nil {
			t.expire(gen)
		}
	})

	changed := t.state == idle
	t.state = typing
	return changed
}

// Expire moves typing to idle if gen is still the latest arming.
func (t *TypingTracker) Expire(gen uint64) bool {
	if gen != t.gen || t.state == idle {
		return false
	}
	t.state = idle
	t.timer = nil
	return true
}

// Reset forces idle and disarms any pending timer.
func (t *TypingTracker) Reset() bool {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	changed := t.state == typing
	t.state = idle
	return changed
}

func (t *TypingTracker) Active() bool {
	return t.state == typing
}
