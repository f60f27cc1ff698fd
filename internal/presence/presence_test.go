package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingTracker_Decay(t *testing.T) {
	expired := make(chan uint64, 4)
	tr := NewTypingTracker(20*time.Millisecond, func(gen uint64) { expired <- gen })

	require.True(t, tr.Observe("vendor123", "vendor123"))
	require.True(t, tr.Active())

	select {
	case gen := <-expired:
		require.True(t, tr.Expire(gen))
	case <-time.After(time.Second):
		t.Fatal("typing timer did not fire")
	}
	assert.False(t, tr.Active())
}

func TestTypingTracker_RefreshIgnoresStaleTimer(t *testing.T) {
	expired := make(chan uint64, 4)
	tr := NewTypingTracker(30*time.Millisecond, func(gen uint64) { expired <- gen })

	require.True(t, tr.Observe("v1", "v1"))
	first := tr.gen

	// A refresh before expiry keeps the state and re-arms the timer.
	require.False(t, tr.Observe("v1", "v1"))

	// The first timer was stopped, but even if it had fired its
	// generation is stale.
	assert.False(t, tr.Expire(first))
	assert.True(t, tr.Active())

	deadline := time.After(time.Second)
	for tr.Active() {
		select {
		case gen := <-expired:
			tr.Expire(gen)
		case <-deadline:
			t.Fatal("typing timer did not fire")
		}
	}
}

func TestTypingTracker_Scoping(t *testing.T) {
	tests := []struct {
		name     string
		fromID   string
		selected string
	}{
		{"Other counterpart", "vendor456", "vendor123"},
		{"Nothing selected", "vendor123", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTypingTracker(time.Second, nil)
			if tr.Observe(tt.fromID, tt.selected) {
				t.Error("Observe reported a change")
			}
			if tr.Active() {
				t.Error("tracker should stay idle")
			}
		})
	}
}

func TestTypingTracker_Reset(t *testing.T) {
	expired := make(chan uint64, 1)
	tr := NewTypingTracker(20*time.Millisecond, func(gen uint64) { expired <- gen })

	tr.Observe("v1", "v1")
	require.True(t, tr.Reset())
	require.False(t, tr.Reset())

	select {
	case gen := <-expired:
		assert.False(t, tr.Expire(gen))
	case <-time.After(60 * time.Millisecond):
	}
	assert.False(t, tr.Active())
}

func TestUnread(t *testing.T) {
	u := NewUnread()
	for i := 0; i < 3; i++ {
		u.Inc("vendor456")
	}
	u.Inc("user1")

	assert.Equal(t, 3, u.Get("vendor456"))
	assert.Equal(t, 1, u.Get("user1"))

	snap := u.Snapshot()
	u.Clear("vendor456")
	assert.Equal(t, 0, u.Get("vendor456"))
	assert.Equal(t, 3, snap["vendor456"], "snapshot must not alias live counters")
	assert.Equal(t, map[string]int{"user1": 1}, u.Snapshot())
}
