package utils

import (
	"sync"
	"time"
)

// Debouncer collapses bursts of Trigger calls into a single invocation of fn
// that runs once delay has elapsed without a further Trigger.
type Debouncer struct {
	delay   time.Duration
	fn      func()
	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewDebouncer creates a debouncer for fn
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{
		delay: delay,
		fn:    fn,
	}
}

// Trigger (re)starts the debounce window. Calls after Stop are ignored.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}

	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// a newer Trigger or a Cancel superseded this timer
		if d.gen != gen || d.timer == nil || d.stopped {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()

		d.fn()
	})
}

// Cancel drops a pending invocation. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	return true
}

// Stop cancels any pending invocation and disables further triggers
func (d *Debouncer) Stop() {
	d.Cancel()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

// Pending reports whether an invocation is scheduled
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
