package retrycall

import (
	"context"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// attemptScript describes how the fake transport behaves for one attempt.
type attemptScript struct {
	// headers non-nil means the attempt produces response headers (success).
	headers metadata.MD
	// responses are returned by ReceiveNext after headers, followed by io.EOF.
	responses [][]byte
	// failure is the terminal status for attempts without headers.
	failure *status.Status
	// trailers returned together with the terminal status.
	trailers metadata.MD
	// delay before the attempt resolves either way.
	delay time.Duration
	// block means the attempt never resolves until it is canceled.
	block bool
}

// fakeTransport hands out scripted attempts in order. Attempts beyond the
// script reuse the last entry.
type fakeTransport struct {
	mu       sync.Mutex
	script   []attemptScript
	attempts []*fakeAttempt
}

func newFakeTransport(script ...attemptScript) *fakeTransport {
	return &fakeTransport{script: script}
}

func (t *fakeTransport) OpenAttempt(ctx context.Context, method string, headers metadata.MD) (AttemptHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := len(t.attempts)
	if idx >= len(t.script) {
		idx = len(t.script) - 1
	}
	a := newFakeAttempt(t.script[idx])
	t.attempts = append(t.attempts, a)
	return a, nil
}

func (t *fakeTransport) opened() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}

func (t *fakeTransport) attempt(i int) *fakeAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[i]
}

// fakeAttempt is one scripted in-flight attempt.
type fakeAttempt struct {
	script attemptScript

	resolved chan struct{} // closed when the scripted outcome is due
	canceled chan struct{}

	mu         sync.Mutex
	sent       [][]byte
	sendClosed bool
	nextResp   int
	cancelOnce sync.Once
}

func newFakeAttempt(script attemptScript) *fakeAttempt {
	a := &fakeAttempt{
		script:   script,
		resolved: make(chan struct{}),
		canceled: make(chan struct{}),
	}
	if !script.block {
		if script.delay == 0 {
			close(a.resolved)
		} else {
			time.AfterFunc(script.delay, func() { close(a.resolved) })
		}
	}
	return a
}

func (a *fakeAttempt) Send(msg []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, msg)
	return nil
}

func (a *fakeAttempt) CloseSend() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendClosed = true
	return nil
}

func (a *fakeAttempt) ReceiveHeaders() (metadata.MD, error) {
	select {
	case <-a.resolved:
	case <-a.canceled:
		return nil, status.Error(codes.Canceled, "attempt canceled")
	}
	if a.script.headers != nil {
		return a.script.headers, nil
	}
	return nil, a.script.failure.Err()
}

func (a *fakeAttempt) ReceiveNext() ([]byte, error) {
	if _, err := a.ReceiveHeaders(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nextResp >= len(a.script.responses) {
		return nil, io.EOF
	}
	msg := a.script.responses[a.nextResp]
	a.nextResp++
	return msg, nil
}

func (a *fakeAttempt) ReceiveStatus() (*status.Status, metadata.MD) {
	select {
	case <-a.resolved:
	case <-a.canceled:
		return status.New(codes.Canceled, "attempt canceled"), nil
	}
	if a.script.headers != nil {
		return status.New(codes.OK, ""), a.script.trailers
	}
	return a.script.failure, a.script.trailers
}

func (a *fakeAttempt) Cancel() {
	a.cancelOnce.Do(func() { close(a.canceled) })
}

func (a *fakeAttempt) isCanceled() bool {
	select {
	case <-a.canceled:
		return true
	default:
		return false
	}
}

func (a *fakeAttempt) sentMessages() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.sent))
	copy(out, a.sent)
	return out
}

func (a *fakeAttempt) isSendClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sendClosed
}

// failWith builds a failure script entry.
func failWith(code codes.Code, trailers metadata.MD) attemptScript {
	return attemptScript{
		failure:  status.New(code, code.String()),
		trailers: trailers,
	}
}

// respondWith builds a success script entry.
func respondWith(responses ...[]byte) attemptScript {
	return attemptScript{
		headers:   metadata.Pairs("server", "fake"),
		responses: responses,
	}
}

// recordingEvents captures orchestration events for assertions.
type recordingEvents struct {
	mu             sync.Mutex
	attemptsStart  int
	attemptsEnd    int
	retriesAllowed int
	retriesDenied  int
	commits        []CommitReason
	clamped        [][2]int
	throttleStates []bool
}

func (e *recordingEvents) AttemptStarted(string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attemptsStart++
}

func (e *recordingEvents) AttemptFinished(string, int, *status.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attemptsEnd++
}

func (e *recordingEvents) RetryEvaluated(_ string, _ int, willRetry bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if willRetry {
		e.retriesAllowed++
	} else {
		e.retriesDenied++
	}
}

func (e *recordingEvents) CallCommitted(_ string, reason CommitReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commits = append(e.commits, reason)
}

func (e *recordingEvents) ThrottlingStateChanged(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.throttleStates = append(e.throttleStates, active)
}

func (e *recordingEvents) MaxAttemptsClamped(_ string, configured, effective int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clamped = append(e.clamped, [2]int{configured, effective})
}

func (e *recordingEvents) committedReasons() []CommitReason {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]CommitReason, len(e.commits))
	copy(out, e.commits)
	return out
}
