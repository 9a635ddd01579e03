package retrycall

// CommitReason records why a call stopped creating attempts and settled on a
// result. Exactly one reason is recorded per call, at the moment of commit.
type CommitReason int

const (
	// CommitResponseHeadersReceived an attempt produced response headers and
	// became the call's stream.
	CommitResponseHeadersReceived CommitReason = iota
	// CommitFatalStatusCode an attempt failed with a status code the policy
	// does not retry or hedge.
	CommitFatalStatusCode
	// CommitExceededAttemptCount the attempt limit was reached without a
	// usable response, or the server pushed back with -1.
	CommitExceededAttemptCount
	// CommitThrottled channel-wide retry throttling suppressed further attempts.
	CommitThrottled
	// CommitDeadlineExceeded the call deadline elapsed.
	CommitDeadlineExceeded
	// CommitCanceled the call was canceled by the client.
	CommitCanceled
	// CommitBufferExceeded a request message did not fit in the replay buffer,
	// so the call stuck with the attempt in flight.
	CommitBufferExceeded
)

func (r CommitReason) String() string {
	switch r {
	case CommitResponseHeadersReceived:
		return "response_headers_received"
	case CommitFatalStatusCode:
		return "fatal_status_code"
	case CommitExceededAttemptCount:
		return "exceeded_attempt_count"
	case CommitThrottled:
		return "throttled"
	case CommitDeadlineExceeded:
		return "deadline_exceeded"
	case CommitCanceled:
		return "canceled"
	case CommitBufferExceeded:
		return "buffer_exceeded"
	default:
		return "unknown"
	}
}
