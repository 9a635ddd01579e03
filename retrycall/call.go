package retrycall

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/agglayer/callkit/log"
	"github.com/agglayer/callkit/serviceconfig"
)

// retryPushbackHeader carries the server-provided retry delay in milliseconds,
// or -1 to forbid further attempts.
const retryPushbackHeader = "grpc-retry-pushback-ms"

// Call is one logical RPC invocation. It owns every attempt made on its
// behalf, the replay buffer, and the single deadline timer, and it commits to
// exactly one result.
//
// A Call is also the handle application code interacts with: Send, CloseSend,
// Recv, Headers and AwaitStatus.
type Call struct {
	channel      *Channel
	method       string
	headers      metadata.MD
	ctx          context.Context
	policy       serviceconfig.MethodPolicy
	effectiveMax int
	buffer       *callBuffer
	deadline     *deadlineTimer
	logger       *log.Logger
	events       Events

	committedCh chan struct{}
	hedgeKick   chan time.Duration

	mu               sync.Mutex
	committed        bool
	commitReason     CommitReason
	committedAttempt *attempt
	commitStatus     *status.Status
	commitTrailers   metadata.MD
	finalStatus      *status.Status
	finalTrailers    metadata.MD
	active           []*attempt
	started          int
	fanoutDone       bool
	throttledStop    bool
	lastFailure      *status.Status
	lastTrailers     metadata.MD
}

func newCall(ch *Channel, ctx context.Context, method string, headers metadata.MD) *Call {
	policy := ch.policies.Lookup(method)

	c := &Call{
		channel:     ch,
		method:      method,
		headers:     headers,
		ctx:         ctx,
		policy:      policy,
		buffer:      newCallBuffer(ch.cfg.PerCallBufferLimit, ch.budget),
		deadline:    &deadlineTimer{},
		logger:      ch.logger.WithFields("method", method),
		events:      ch.events,
		committedCh: make(chan struct{}),
		hedgeKick:   make(chan time.Duration, 1),
	}

	configured := policy.MaxAttempts()
	c.effectiveMax = configured
	if configured > serviceconfig.MaxAttemptsCeiling {
		c.effectiveMax = serviceconfig.MaxAttemptsCeiling
		c.logger.Warnf("%s policy requests %d attempts, limited to the implementation maximum of %d",
			policy.Kind, configured, c.effectiveMax)
		c.events.MaxAttemptsClamped(method, configured, c.effectiveMax)
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.deadline.arm(deadline, c.onDeadline)
	}
	go c.watchCancellation()

	// a cancellation signaled before the first attempt reaches the transport
	// means zero attempts are ever made
	if err := ctx.Err(); err != nil {
		c.commit(c.reasonFromContext(err), nil, statusFromContext(err), nil)
		return c
	}

	c.startAttempt()
	if policy.Kind == serviceconfig.PolicyHedging {
		go c.hedgingLoop()
	}
	return c
}

// Method returns the full method name of the call.
func (c *Call) Method() string {
	return c.method
}

// Send submits one request message. Before commit the message is mirrored
// into the replay buffer and fanned out to every live attempt; after commit
// it goes directly to the committed attempt. A Send after commit with a
// non-OK final status fails with that status.
func (c *Call) Send(msg []byte) error {
	c.mu.Lock()
	if c.committed {
		if c.finalStatus != nil && c.finalStatus.Code() != codes.OK {
			st := c.finalStatus
			c.mu.Unlock()
			return st.Err()
		}
		a := c.committedAttempt
		c.mu.Unlock()
		if a == nil {
			return status.Error(codes.Internal, "committed call has no attempt")
		}
		a.enqueue(msg)
		return nil
	}

	if err := c.buffer.append(msg); err != nil {
		// the buffer cannot hold the message, so the call sticks with the
		// attempt currently in flight and stops retrying
		var inflight *attempt
		if len(c.active) > 0 {
			inflight = c.active[len(c.active)-1]
		}
		var st *status.Status
		if inflight == nil {
			st = status.New(codes.ResourceExhausted, "message exceeds the retry buffer with no attempt in flight")
		}
		losers, won := c.commitLocked(CommitBufferExceeded, inflight, st, nil)
		c.mu.Unlock()
		if won {
			c.finishCommit(CommitBufferExceeded, losers)
		}
		if inflight != nil {
			inflight.enqueue(msg)
			return nil
		}
		return st.Err()
	}

	for _, a := range c.active {
		a.enqueue(msg)
	}
	c.mu.Unlock()
	return nil
}

// CloseSend signals the end of the request stream to every live attempt, and
// to any attempt started later.
func (c *Call) CloseSend() error {
	c.mu.Lock()
	if c.committed {
		a := c.committedAttempt
		c.mu.Unlock()
		if a != nil {
			a.enqueueCloseSend()
		}
		return nil
	}
	c.buffer.markSendClosed()
	for _, a := range c.active {
		a.enqueueCloseSend()
	}
	c.mu.Unlock()
	return nil
}

// Recv returns the next response message from the committed attempt, blocking
// until the call has committed. It returns io.EOF at the end of the response
// stream and a status error when the call terminated without a usable stream.
func (c *Call) Recv() ([]byte, error) {
	<-c.committedCh
	a, st := c.committedWinner()
	if a == nil {
		return nil, st.Err()
	}
	h, termSt := a.awaitHandleOrTerminal()
	if h == nil {
		return nil, termSt.Err()
	}
	return h.ReceiveNext()
}

// Headers returns the response headers of the committed attempt, blocking
// until the call has committed and headers are available.
func (c *Call) Headers() (metadata.MD, error) {
	<-c.committedCh
	a, st := c.committedWinner()
	if a == nil {
		return nil, st.Err()
	}
	if md := a.responseHeaders(); md != nil {
		return md, nil
	}
	h, termSt := a.awaitHandleOrTerminal()
	if h == nil {
		return nil, termSt.Err()
	}
	return h.ReceiveHeaders()
}

// AwaitStatus blocks until the call is terminal and returns the final status
// and trailers. Expected RPC failures are returned as a status, never as a
// panic or a Go error.
func (c *Call) AwaitStatus() (*status.Status, metadata.MD) {
	<-c.committedCh

	c.mu.Lock()
	if c.finalStatus != nil {
		st, md := c.finalStatus, c.finalTrailers
		c.mu.Unlock()
		return st, md
	}
	a, st, md := c.committedAttempt, c.commitStatus, c.commitTrailers
	c.mu.Unlock()

	if a == nil {
		return st, md
	}
	h, termSt := a.awaitHandleOrTerminal()
	if h == nil {
		c.setFinalStatus(termSt, nil)
		return termSt, nil
	}
	finalSt, trailers := h.ReceiveStatus()
	c.setFinalStatus(finalSt, trailers)
	return finalSt, trailers
}

// CommittedReason reports whether the call has committed and why.
func (c *Call) CommittedReason() (CommitReason, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitReason, c.committed
}

// Done returns a channel closed when the call commits.
func (c *Call) Done() <-chan struct{} {
	return c.committedCh
}

func (c *Call) committedWinner() (*attempt, *status.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committedAttempt, c.commitStatus
}

func (c *Call) setFinalStatus(st *status.Status, trailers metadata.MD) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalStatus == nil {
		c.finalStatus = st
		c.finalTrailers = trailers
	}
}

// commitLocked is the single exactly-once exchange every racing transition
// funnels through. The first caller wins; it returns the attempts to abandon.
// Callers must hold c.mu and run finishCommit after unlocking when they won.
func (c *Call) commitLocked(reason CommitReason, winner *attempt,
	st *status.Status, trailers metadata.MD) (losers []*attempt, won bool) {
	if c.committed {
		return nil, false
	}
	c.committed = true
	c.commitReason = reason
	c.committedAttempt = winner
	c.commitStatus = st
	c.commitTrailers = trailers
	if st != nil {
		c.finalStatus = st
		c.finalTrailers = trailers
	}
	c.buffer.clear()
	for _, a := range c.active {
		if a != winner {
			losers = append(losers, a)
		}
	}
	if winner != nil {
		c.active = []*attempt{winner}
	} else {
		c.active = nil
	}
	close(c.committedCh)
	return losers, true
}

// commit is commitLocked plus lock handling and post-commit work.
func (c *Call) commit(reason CommitReason, winner *attempt,
	st *status.Status, trailers metadata.MD) bool {
	c.mu.Lock()
	losers, won := c.commitLocked(reason, winner, st, trailers)
	c.mu.Unlock()
	if won {
		c.finishCommit(reason, losers)
	}
	return won
}

// finishCommit runs outside the call lock: it silences the deadline timer,
// abandons the losing attempts (propagating cancellation to the peer), and
// emits the commit event.
func (c *Call) finishCommit(reason CommitReason, losers []*attempt) {
	c.deadline.disarm()
	for _, a := range losers {
		a.stop()
	}
	c.logger.Debugf("call committed: %s", reason)
	c.events.CallCommitted(c.method, reason)
}

func (c *Call) onDeadline() {
	c.commit(CommitDeadlineExceeded, nil,
		status.New(codes.DeadlineExceeded, "call deadline exceeded"), nil)
}

func (c *Call) watchCancellation() {
	select {
	case <-c.committedCh:
	case <-c.ctx.Done():
		err := c.ctx.Err()
		c.commit(c.reasonFromContext(err), nil, statusFromContext(err), nil)
	}
}

func (c *Call) reasonFromContext(err error) CommitReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return CommitDeadlineExceeded
	}
	return CommitCanceled
}

func statusFromContext(err error) *status.Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return status.New(codes.DeadlineExceeded, "call deadline exceeded")
	}
	return status.New(codes.Canceled, "call canceled by the client")
}

// startAttempt starts the next attempt unless the call already committed.
func (c *Call) startAttempt() {
	c.mu.Lock()
	if c.committed {
		c.mu.Unlock()
		return
	}
	a := c.newAttemptLocked()
	c.mu.Unlock()

	c.events.AttemptStarted(c.method, a.ordinal)
	go a.run()
}

// newAttemptLocked creates the next attempt and replays the buffered request
// messages into it before it can observe any newer write.
func (c *Call) newAttemptLocked() *attempt {
	c.started++
	a := newAttempt(c, c.started)
	msgs, sendClosed := c.buffer.snapshot()
	a.queue = append(a.queue, msgs...)
	a.sendClosed = sendClosed
	c.active = append(c.active, a)
	return a
}

func (c *Call) removeAttemptLocked(a *attempt) {
	for i, other := range c.active {
		if other == a {
			c.active = append(c.active[:i], c.active[i+1:]...)
			return
		}
	}
}

// onAttemptHeaders commits the call to the attempt that produced response
// headers. Losing a concurrent commit race abandons the attempt instead.
func (c *Call) onAttemptHeaders(a *attempt) {
	if c.commit(CommitResponseHeadersReceived, a, nil, nil) {
		c.channel.throttle.RegisterSuccess()
		return
	}
	a.stop()
}

// onAttemptFailure is the terminal-failure entry point for every attempt.
func (c *Call) onAttemptFailure(a *attempt, st *status.Status, trailers metadata.MD) {
	a.setTerminal(st, trailers)
	c.events.AttemptFinished(c.method, a.ordinal, st)

	switch c.policy.Kind {
	case serviceconfig.PolicyRetry:
		c.onRetryFailure(a, st, trailers)
	case serviceconfig.PolicyHedging:
		c.onHedgedFailure(a, st, trailers)
	default:
		c.commit(CommitFatalStatusCode, nil, st, trailers)
		a.stop()
	}
}

func (c *Call) onRetryFailure(a *attempt, st *status.Status, trailers metadata.MD) {
	retryable := c.policy.Retry.IsRetryable(st.Code())
	if retryable {
		c.channel.throttle.RegisterFailure()
	}
	pushback, hasPushback := pushbackFromTrailers(trailers)

	c.mu.Lock()
	c.removeAttemptLocked(a)
	c.lastFailure, c.lastTrailers = st, trailers
	if c.committed {
		c.mu.Unlock()
		a.stop()
		return
	}

	var reason CommitReason
	mustCommit := true
	switch {
	case !retryable:
		reason = CommitFatalStatusCode
	case hasPushback && pushback < 0:
		reason = CommitExceededAttemptCount
	case a.ordinal >= c.effectiveMax:
		reason = CommitExceededAttemptCount
	case c.channel.throttle.IsThrottlingActive():
		reason = CommitThrottled
	default:
		mustCommit = false
	}
	if mustCommit {
		losers, won := c.commitLocked(reason, nil, st, trailers)
		c.mu.Unlock()
		c.events.RetryEvaluated(c.method, a.ordinal, false)
		if won {
			c.finishCommit(reason, losers)
		}
		a.stop()
		return
	}
	c.mu.Unlock()

	delay := c.backoffForOrdinal(a.ordinal)
	if hasPushback {
		delay = pushback
	}
	c.events.RetryEvaluated(c.method, a.ordinal, true)
	c.logger.Debugf("attempt %d failed with %s, next attempt in %s", a.ordinal, st.Code(), delay)
	a.stop()
	go c.scheduleRetry(delay)
}

// backoffForOrdinal returns the exponential delay before the attempt that
// follows failedOrdinal: initialBackoff grows by backoffMultiplier per prior
// attempt, capped by maxBackoff.
func (c *Call) backoffForOrdinal(failedOrdinal int) time.Duration {
	plan := c.policy.Retry
	backoff := float64(plan.InitialBackoff) * math.Pow(plan.BackoffMultiplier, float64(failedOrdinal-1))
	if capped := float64(plan.MaxBackoff); backoff > capped {
		backoff = capped
	}
	return time.Duration(backoff)
}

func (c *Call) scheduleRetry(delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.committedCh:
		return
	}

	// throttling gates every attempt after the first
	if c.channel.throttle.IsThrottlingActive() {
		c.mu.Lock()
		st, trailers := c.lastFailure, c.lastTrailers
		losers, won := c.commitLocked(CommitThrottled, nil, st, trailers)
		c.mu.Unlock()
		if won {
			c.finishCommit(CommitThrottled, losers)
		}
		return
	}
	c.startAttempt()
}

// hedgingLoop starts hedged attempts on the policy's cadence. A non-fatal
// failure kicks the next attempt through hedgeKick, either immediately or
// after a server push-back delay.
func (c *Call) hedgingLoop() {
	delay := c.policy.Hedging.HedgingDelay
	for {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case pushback := <-c.hedgeKick:
			timer.Stop()
			if pushback > 0 && !c.waitPushback(pushback) {
				return
			}
		case <-c.committedCh:
			timer.Stop()
			return
		}
		if !c.startHedgedAttempt() {
			return
		}
	}
}

// waitPushback holds the next hedged attempt until the server-requested delay
// elapses. It reports false when the call commits while waiting.
func (c *Call) waitPushback(d time.Duration) bool {
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
		return true
	case <-c.committedCh:
		timer.Stop()
		return false
	}
}

// startHedgedAttempt starts one more hedged attempt if the fan-out is still
// open. It returns false once no further attempts will ever start.
func (c *Call) startHedgedAttempt() bool {
	c.mu.Lock()
	if c.committed || c.fanoutDone {
		c.mu.Unlock()
		return false
	}
	if c.started >= c.effectiveMax {
		c.fanoutDone = true
		c.mu.Unlock()
		return false
	}
	if c.channel.throttle.IsThrottlingActive() {
		c.fanoutDone = true
		c.throttledStop = true
		if len(c.active) == 0 {
			st, trailers := c.lastFailureLocked()
			losers, won := c.commitLocked(CommitThrottled, nil, st, trailers)
			c.mu.Unlock()
			if won {
				c.finishCommit(CommitThrottled, losers)
			}
			return false
		}
		c.mu.Unlock()
		return false
	}
	a := c.newAttemptLocked()
	c.mu.Unlock()

	c.events.AttemptStarted(c.method, a.ordinal)
	go a.run()
	return true
}

func (c *Call) onHedgedFailure(a *attempt, st *status.Status, trailers metadata.MD) {
	nonFatal := c.policy.Hedging.IsNonFatal(st.Code())
	if nonFatal {
		c.channel.throttle.RegisterFailure()
	}
	pushback, hasPushback := pushbackFromTrailers(trailers)

	c.mu.Lock()
	c.removeAttemptLocked(a)
	c.lastFailure, c.lastTrailers = st, trailers
	if c.committed {
		c.mu.Unlock()
		a.stop()
		return
	}
	if !nonFatal {
		losers, won := c.commitLocked(CommitFatalStatusCode, nil, st, trailers)
		c.mu.Unlock()
		c.events.RetryEvaluated(c.method, a.ordinal, false)
		if won {
			c.finishCommit(CommitFatalStatusCode, losers)
		}
		a.stop()
		return
	}
	if hasPushback && pushback < 0 {
		c.fanoutDone = true
	}
	canStartMore := !c.fanoutDone && c.started < c.effectiveMax
	if !canStartMore && len(c.active) == 0 {
		reason := CommitExceededAttemptCount
		if c.throttledStop {
			reason = CommitThrottled
		}
		losers, won := c.commitLocked(reason, nil, st, trailers)
		c.mu.Unlock()
		c.events.RetryEvaluated(c.method, a.ordinal, false)
		if won {
			c.finishCommit(reason, losers)
		}
		a.stop()
		return
	}
	c.mu.Unlock()

	c.events.RetryEvaluated(c.method, a.ordinal, canStartMore)
	if canStartMore {
		kick := time.Duration(0)
		if hasPushback && pushback > 0 {
			kick = pushback
		}
		select {
		case c.hedgeKick <- kick:
		default:
		}
	}
	a.stop()
}

func (c *Call) lastFailureLocked() (*status.Status, metadata.MD) {
	if c.lastFailure != nil {
		return c.lastFailure, c.lastTrailers
	}
	return status.New(codes.Unavailable, "attempts suppressed by retry throttling"), nil
}

// pushbackFromTrailers extracts the server push-back delay. A malformed value
// is treated as a stop signal, matching the server's intent to halt retries.
func pushbackFromTrailers(trailers metadata.MD) (time.Duration, bool) {
	values := trailers.Get(retryPushbackHeader)
	if len(values) == 0 {
		return 0, false
	}
	ms, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil || ms < 0 {
		return -1, true
	}
	return time.Duration(ms) * time.Millisecond, true
}
