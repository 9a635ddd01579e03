package retrycall

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrBufferOverflow is returned by the replay buffer when appending a message
// would exceed the per-call or channel-wide ceiling.
var ErrBufferOverflow = errors.New("retry buffer overflow")

// byteBudget is the channel-wide cap on retained replay bytes, shared by all
// calls on the channel.
type byteBudget struct {
	limit int64
	used  atomic.Int64
}

func newByteBudget(limit int64) *byteBudget {
	return &byteBudget{limit: limit}
}

// reserve claims n bytes from the budget. It fails without side effects when
// the claim would exceed the limit.
func (b *byteBudget) reserve(n int64) bool {
	for {
		used := b.used.Load()
		if used+n > b.limit {
			return false
		}
		if b.used.CompareAndSwap(used, used+n) {
			return true
		}
	}
}

func (b *byteBudget) release(n int64) {
	b.used.Add(-n)
}

func (b *byteBudget) usedBytes() int64 {
	return b.used.Load()
}

// callBuffer retains the request messages sent before commit so that they can
// be replayed, in original order, into every new attempt. It enforces the
// per-call ceiling itself and the channel ceiling through the shared budget.
type callBuffer struct {
	perCallLimit int64
	budget       *byteBudget

	mu      sync.Mutex
	msgs    [][]byte
	size    int64
	closed  bool
	cleared bool
}

func newCallBuffer(perCallLimit int64, budget *byteBudget) *callBuffer {
	return &callBuffer{
		perCallLimit: perCallLimit,
		budget:       budget,
	}
}

// append retains one outbound message. ErrBufferOverflow means the message
// must not be buffered; the caller commits the call and forwards the message
// directly to the committed attempt.
func (b *callBuffer) append(msg []byte) error {
	size := int64(len(msg))

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cleared {
		return ErrBufferOverflow
	}
	if b.size+size > b.perCallLimit {
		return ErrBufferOverflow
	}
	if !b.budget.reserve(size) {
		return ErrBufferOverflow
	}
	b.msgs = append(b.msgs, msg)
	b.size += size
	return nil
}

// snapshot returns the retained messages in original order, plus whether the
// send side was already closed. New attempts replay exactly this sequence
// before any newer writes reach them.
func (b *callBuffer) snapshot() (msgs [][]byte, sendClosed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.msgs))
	copy(out, b.msgs)
	return out, b.closed
}

// markSendClosed records that the application finished writing.
func (b *callBuffer) markSendClosed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// clear drops every retained message and refunds the channel budget. Invoked
// exactly once, at commit; later calls are no-ops.
func (b *callBuffer) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cleared {
		return
	}
	b.cleared = true
	b.budget.release(b.size)
	b.msgs = nil
	b.size = 0
}

// bytes returns the currently retained byte count.
func (b *callBuffer) bytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
