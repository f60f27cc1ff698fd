// Package debounce delays a value until it has stopped changing for a while.
package debounce

import (
	"sync"
	"time"
)

const DefaultDelay = 400 * time.Millisecond

// Value delivers the last value passed to Set once delay has passed without
// another Set. Only the latest value is ever delivered.
type Value[T any] struct {
	delay   time.Duration
	deliver func(T)

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

func New[T any](delay time.Duration, deliver func(T)) *Value[T] {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Value[T]{delay: delay, deliver: deliver}
}

func (d *Value[T]) Set(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := gen == d.gen && !d.stopped
		d.mu.Unlock()
		if current {
			d.deliver(v)
		}
	})
}

// Stop drops any pending value. Later calls to Set are ignored.
func (d *Value[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
