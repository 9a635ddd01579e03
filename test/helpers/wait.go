package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// EventuallyTrue polls cond every 10ms until it holds, failing the test after
// one second.
func EventuallyTrue(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	const (
		maxIterations         = 100
		sleepTimePerIteration = time.Millisecond * 10
	)
	for i := 0; i < maxIterations; i++ {
		if cond() {
			return
		}
		time.Sleep(sleepTimePerIteration)
	}
	require.Fail(t, "condition not met in time", msgAndArgs...)
}

// AwaitDone waits for a done channel, failing the test on timeout.
func AwaitDone(t *testing.T, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		require.Fail(t, "channel not closed within %s", timeout)
	}
}
