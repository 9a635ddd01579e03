package retrycall

import (
	"context"
	"fmt"

	"google.golang.org/grpc/metadata"

	"github.com/agglayer/callkit/log"
	"github.com/agglayer/callkit/serviceconfig"
)

// Channel ties together the pieces shared by every call issued through it:
// the transport, the parsed per-method policies, the retry throttle and the
// channel-wide replay-buffer budget.
type Channel struct {
	transport Transport
	policies  *serviceconfig.Config
	cfg       Config
	throttle  *Throttle
	budget    *byteBudget
	events    Events
	logger    *log.Logger
}

// ChannelOption customizes a Channel at construction time.
type ChannelOption func(*Channel)

// WithEvents installs an observability sink for orchestration events.
func WithEvents(events Events) ChannelOption {
	return func(ch *Channel) {
		ch.events = events
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *log.Logger) ChannelOption {
	return func(ch *Channel) {
		ch.logger = logger
	}
}

// NewChannel creates a channel over the given transport. policies may be nil,
// in which case every call runs a single attempt.
func NewChannel(transport Transport, policies *serviceconfig.Config,
	cfg Config, opts ...ChannelOption) (*Channel, error) {
	if transport == nil {
		return nil, fmt.Errorf("channel transport cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ch := &Channel{
		transport: transport,
		policies:  policies,
		cfg:       cfg,
		throttle:  NewThrottle(policies.Throttling()),
		budget:    newByteBudget(cfg.ChannelBufferLimit),
		events:    NoopEvents{},
		logger:    log.WithFields("module", "retrycall"),
	}
	for _, opt := range opts {
		opt(ch)
	}
	ch.throttle.notifyStateChange(ch.events.ThrottlingStateChanged)
	return ch, nil
}

// NewCall starts one logical RPC. The context carries the call deadline and
// the external cancellation signal; both govern the call as a whole, never a
// single attempt.
func (ch *Channel) NewCall(ctx context.Context, method string, headers metadata.MD) *Call {
	return newCall(ch, ctx, method, headers)
}

// Throttle exposes the channel's shared retry throttle.
func (ch *Channel) Throttle() *Throttle {
	return ch.throttle
}

// BufferedBytes returns the replay bytes currently retained across all calls
// on the channel.
func (ch *Channel) BufferedBytes() int64 {
	return ch.budget.usedBytes()
}
