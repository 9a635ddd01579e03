package retrycall

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// attempt drives one execution try of a call against the transport. It owns a
// private outbound queue fed by the call (replayed buffer first, newer writes
// after) and a writer goroutine draining the queue in order.
type attempt struct {
	call    *Call
	ordinal int
	ctx     context.Context
	cancel  context.CancelFunc

	mu             sync.Mutex
	cond           *sync.Cond
	queue          [][]byte
	sendClosed     bool
	stopped        bool
	handle         AttemptHandle
	headers        metadata.MD
	terminalStatus *status.Status
	terminalMD     metadata.MD
}

func newAttempt(c *Call, ordinal int) *attempt {
	actx, acancel := context.WithCancel(c.ctx)
	a := &attempt{
		call:    c,
		ordinal: ordinal,
		ctx:     actx,
		cancel:  acancel,
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// enqueue appends one outbound message to the attempt's queue.
func (a *attempt) enqueue(msg []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || a.sendClosed {
		return
	}
	a.queue = append(a.queue, msg)
	a.cond.Signal()
}

// enqueueCloseSend marks the end of the outbound stream. The writer issues
// CloseSend after draining everything queued before it.
func (a *attempt) enqueueCloseSend() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || a.sendClosed {
		return
	}
	a.sendClosed = true
	a.cond.Signal()
}

// stop abandons the attempt: it cancels the attempt scope, wakes the writer,
// and propagates cancellation to the remote peer. Safe to call repeatedly.
func (a *attempt) stop() {
	a.mu.Lock()
	alreadyStopped := a.stopped
	a.stopped = true
	handle := a.handle
	a.cond.Broadcast()
	a.mu.Unlock()

	a.cancel()
	if !alreadyStopped && handle != nil {
		handle.Cancel()
	}
}

// setHandle publishes the transport handle once OpenAttempt returns. If the
// attempt was stopped while the transport was still opening, the handle is
// canceled right away.
func (a *attempt) setHandle(h AttemptHandle) bool {
	a.mu.Lock()
	stopped := a.stopped
	if !stopped {
		a.handle = h
	}
	a.cond.Broadcast()
	a.mu.Unlock()

	if stopped {
		h.Cancel()
		return false
	}
	return true
}

// setTerminal records the attempt's own terminal outcome.
func (a *attempt) setTerminal(st *status.Status, trailers metadata.MD) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.terminalStatus == nil {
		a.terminalStatus = st
		a.terminalMD = trailers
	}
	a.cond.Broadcast()
}

// awaitHandleOrTerminal blocks until the attempt either reached the transport
// (non-nil handle) or terminated before it could (nil handle plus the status
// that killed it).
func (a *attempt) awaitHandleOrTerminal() (AttemptHandle, *status.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.handle == nil && a.terminalStatus == nil && !a.stopped {
		a.cond.Wait()
	}
	if a.handle != nil {
		return a.handle, nil
	}
	if a.terminalStatus != nil {
		return nil, a.terminalStatus
	}
	return nil, status.New(codes.Canceled, "attempt abandoned")
}

// run opens the attempt on the transport, starts the writer, and waits for
// either response headers or a terminal status, reporting the outcome to the
// call. It runs on its own goroutine.
func (a *attempt) run() {
	h, err := a.call.channel.transport.OpenAttempt(a.ctx, a.call.method, a.call.headers)
	if err != nil {
		a.call.onAttemptFailure(a, statusFromTransportError(err), nil)
		return
	}
	if !a.setHandle(h) {
		return
	}

	go a.writeLoop(h)

	md, err := h.ReceiveHeaders()
	if err == nil {
		a.mu.Lock()
		a.headers = md
		a.mu.Unlock()
		a.call.onAttemptHeaders(a)
		return
	}

	st, trailers := h.ReceiveStatus()
	a.call.onAttemptFailure(a, st, trailers)
}

// writeLoop drains the outbound queue in submission order.
func (a *attempt) writeLoop(h AttemptHandle) {
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.sendClosed && !a.stopped {
			a.cond.Wait()
		}
		if a.stopped {
			a.mu.Unlock()
			return
		}
		if len(a.queue) > 0 {
			msg := a.queue[0]
			a.queue = a.queue[1:]
			a.mu.Unlock()
			if err := h.Send(msg); err != nil {
				// the receive side surfaces the terminal status
				return
			}
			continue
		}
		// queue drained and send side closed
		a.mu.Unlock()
		_ = h.CloseSend()
		return
	}
}

func (a *attempt) responseHeaders() metadata.MD {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.headers
}

// statusFromTransportError maps an OpenAttempt error to a status. Connection
// establishment failures without a status are treated as Unavailable, which
// keeps them retryable under the usual policies.
func statusFromTransportError(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	return status.New(codes.Unavailable, err.Error())
}
