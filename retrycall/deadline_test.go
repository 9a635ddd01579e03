package retrycall

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeadlineTimerFiresOnce(t *testing.T) {
	var fired atomic.Int32
	d := &deadlineTimer{}
	d.arm(time.Now().Add(20*time.Millisecond), func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, fired.Load())
}

func TestDeadlineTimerDisarmPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	d := &deadlineTimer{}
	d.arm(time.Now().Add(50*time.Millisecond), func() { fired.Add(1) })
	d.disarm()

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, fired.Load())

	// disarming again is a no-op
	d.disarm()
}

func TestDeadlineTimerRejectsRearming(t *testing.T) {
	d := &deadlineTimer{}
	d.arm(time.Now().Add(time.Hour), func() {})
	defer d.disarm()

	require.Panics(t, func() {
		d.arm(time.Now().Add(time.Hour), func() {})
	})
}
