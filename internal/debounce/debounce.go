// Package debounce coalesces rapid-fire values into at most one callback
// per interval. Only the latest published value is delivered.
package debounce

import (
	"sync"
	"time"
)

// Debouncer retains the most recent value handed to Publish and invokes fn
// with it once the interval has elapsed without another Publish. Stop
// cancels any pending fire; it is safe to call concurrently with Publish.
type Debouncer[T any] struct {
	interval time.Duration
	fn       func(T)

	mu      sync.Mutex
	timer   *time.Timer
	latest  T
	stopped bool
}

func New[T any](interval time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{interval: interval, fn: fn}
}

// Publish records v as the latest value and (re)arms the timer.
func (d *Debouncer[T]) Publish(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.latest = v
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer[T]) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	v := d.latest
	d.timer = nil
	d.mu.Unlock()

	d.fn(v)
}

// Flush fires immediately with the latest value if a publish is pending.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if d.stopped || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer.Stop()
	d.timer = nil
	v := d.latest
	d.mu.Unlock()

	d.fn(v)
}

// Stop cancels any pending fire and ignores further publishes.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
