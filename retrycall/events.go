package retrycall

import (
	"google.golang.org/grpc/status"
)

// Events receives observability callbacks from the orchestrator. Callbacks
// are invoked synchronously outside the call's locks, so implementations may
// log or update metrics but should not block.
type Events interface {
	// AttemptStarted fires when an attempt is handed to the transport.
	AttemptStarted(method string, ordinal int)
	// AttemptFinished fires when an attempt reaches a terminal outcome.
	AttemptFinished(method string, ordinal int, st *status.Status)
	// RetryEvaluated fires after a failed attempt was classified.
	RetryEvaluated(method string, ordinal int, willRetry bool)
	// CallCommitted fires exactly once per call.
	CallCommitted(method string, reason CommitReason)
	// ThrottlingStateChanged fires when channel-wide throttling activates or
	// deactivates.
	ThrottlingStateChanged(active bool)
	// MaxAttemptsClamped fires once per call whose configured attempt limit
	// exceeds the implementation ceiling.
	MaxAttemptsClamped(method string, configured, effective int)
}

// NoopEvents discards every event.
type NoopEvents struct{}

func (NoopEvents) AttemptStarted(string, int)                  {}
func (NoopEvents) AttemptFinished(string, int, *status.Status) {}
func (NoopEvents) RetryEvaluated(string, int, bool)            {}
func (NoopEvents) CallCommitted(string, CommitReason)          {}
func (NoopEvents) ThrottlingStateChanged(bool)                 {}
func (NoopEvents) MaxAttemptsClamped(string, int, int)         {}

var _ Events = (*NoopEvents)(nil)
