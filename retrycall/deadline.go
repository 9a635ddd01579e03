package retrycall

import (
	"sync"
	"time"
)

// deadlineTimer tracks the single wall-clock deadline of a call. There is one
// timer per call no matter how many attempts run; attempt transitions never
// re-arm it.
type deadlineTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	armed bool
}

// arm schedules onFire for when the deadline elapses. Arming twice is a
// programming error and panics.
func (d *deadlineTimer) arm(deadline time.Time, onFire func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed {
		panic("retrycall: call deadline timer armed twice")
	}
	d.armed = true
	d.timer = time.AfterFunc(time.Until(deadline), onFire)
}

// disarm stops the timer. Firing after disarm is prevented; disarming an
// unarmed timer is a no-op.
func (d *deadlineTimer) disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
