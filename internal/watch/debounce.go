package watch

import (
	"sync"
	"time"
)

// Debouncer groups rapid successive calls into a single callback after a
// quiet period.
//
// The callback never runs concurrently with itself from one debouncer.
type Debouncer struct {
	mu       sync.Mutex
	delay    time.Duration
	timer    *time.Timer
	pending  bool
	seq      uint64 // detects stale timer callbacks
	running  sync.Mutex
	callback func()
}

// NewDebouncer creates a debouncer that calls callback once no Call has
// happened for delay.
func NewDebouncer(delay time.Duration, callback func()) *Debouncer {
	return &Debouncer{
		delay:    delay,
		callback: callback,
	}
}

// Call schedules the callback, pushing back any call already scheduled.
func (d *Debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = true
	d.seq++
	seq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq) })
}

// fire runs the callback if seq is still the latest scheduled call.
// running is taken first so Stop can wait for it.
func (d *Debouncer) fire(seq uint64) {
	d.running.Lock()
	defer d.running.Unlock()

	d.mu.Lock()
	if !d.pending || d.seq != seq {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.callback()
}

// Cancel drops any pending call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
}

// Stop drops any pending call and waits for a running callback to return.
func (d *Debouncer) Stop() {
	d.Cancel()
	d.running.Lock()
	defer d.running.Unlock()
}
