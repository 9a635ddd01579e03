package retrycall

import (
	"fmt"
	"sync"

	"github.com/agglayer/callkit/serviceconfig"
)

// Throttle is the channel-wide retry throttling token bucket. Every call on
// the channel shares one instance: failures drain it, successes refill it,
// and retries are suppressed while it sits at or below half capacity.
//
// It is the only cross-call shared mutable state in the package, so all
// mutations happen under its mutex.
type Throttle struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	tokenRatio float64
	onChange   func(active bool)
}

// NewThrottle builds a throttle from the channel's throttling plan. A nil
// plan returns a nil throttle, which never suppresses attempts.
func NewThrottle(plan *serviceconfig.ThrottlingPlan) *Throttle {
	if plan == nil {
		return nil
	}
	return &Throttle{
		tokens:     plan.MaxTokens,
		maxTokens:  plan.MaxTokens,
		tokenRatio: plan.TokenRatio,
	}
}

func (t *Throttle) String() string {
	if t == nil {
		return "Throttle{disabled}"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("Throttle{tokens: %.2f, maxTokens: %.2f, tokenRatio: %.2f}",
		t.tokens, t.maxTokens, t.tokenRatio)
}

// RegisterFailure drains one token, clamped at zero.
func (t *Throttle) RegisterFailure() {
	if t == nil {
		return
	}
	t.mu.Lock()
	wasActive := t.activeLocked()
	t.tokens--
	if t.tokens < 0 {
		t.tokens = 0
	}
	isActive := t.activeLocked()
	onChange := t.onChange
	t.mu.Unlock()

	if onChange != nil && wasActive != isActive {
		onChange(isActive)
	}
}

// RegisterSuccess refunds tokenRatio tokens, clamped at maxTokens.
func (t *Throttle) RegisterSuccess() {
	if t == nil {
		return
	}
	t.mu.Lock()
	wasActive := t.activeLocked()
	t.tokens += t.tokenRatio
	if t.tokens > t.maxTokens {
		t.tokens = t.maxTokens
	}
	isActive := t.activeLocked()
	onChange := t.onChange
	t.mu.Unlock()

	if onChange != nil && wasActive != isActive {
		onChange(isActive)
	}
}

// IsThrottlingActive reports whether retries are currently suppressed.
func (t *Throttle) IsThrottlingActive() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked()
}

// Tokens returns the current token count.
func (t *Throttle) Tokens() float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens
}

func (t *Throttle) activeLocked() bool {
	return t.tokens <= t.maxTokens/2
}

// notifyStateChange registers a callback fired on every activation or
// deactivation of throttling.
func (t *Throttle) notifyStateChange(fn func(active bool)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}
