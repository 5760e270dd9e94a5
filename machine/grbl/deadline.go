package grbl

import (
	"sync"
	"time"
)

// Deadline calls fn once when it expires. Arming it again before
// expiry pushes the deadline back.
type Deadline struct {
	mx    sync.Mutex
	d     time.Duration
	fn    func()
	t     *time.Timer
	gen   uint64
	armed bool
}

func NewDeadline(d time.Duration, fn func()) *Deadline {
	return &Deadline{d: d, fn: fn}
}

// Arm (re)starts the deadline.
func (dl *Deadline) Arm() {
	dl.mx.Lock()
	defer dl.mx.Unlock()

	if dl.t != nil {
		dl.t.Stop()
	}
	dl.gen++
	dl.armed = true
	gen := dl.gen
	dl.t = time.AfterFunc(dl.d, func() { dl.fire(gen) })
}

func (dl *Deadline) fire(gen uint64) {
	dl.mx.Lock()
	// a timer that lost the race with Arm or Cancel must not fire
	if !dl.armed || gen != dl.gen {
		dl.mx.Unlock()
		return
	}
	dl.armed = false
	dl.mx.Unlock()

	dl.fn()
}

// Cancel disarms the deadline, returning true if it was armed.
func (dl *Deadline) Cancel() bool {
	dl.mx.Lock()
	defer dl.mx.Unlock()

	if dl.t != nil {
		dl.t.Stop()
	}
	dl.gen++
	wasArmed := dl.armed
	dl.armed = false
	return wasArmed
}

func (dl *Deadline) Armed() bool {
	dl.mx.Lock()
	defer dl.mx.Unlock()
	return dl.armed
}
