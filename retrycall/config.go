package retrycall

import (
	"fmt"
)

const (
	// DefaultPerCallBufferLimit is the default replay-buffer ceiling per call.
	DefaultPerCallBufferLimit = 1 << 20 // 1 MiB
	// DefaultChannelBufferLimit is the default replay-buffer ceiling shared by
	// all calls on a channel.
	DefaultChannelBufferLimit = 16 << 20 // 16 MiB
)

// Config holds the channel-level orchestration knobs.
type Config struct {
	// PerCallBufferLimit is the maximum number of request bytes retained for
	// replay by a single call.
	PerCallBufferLimit int64 `mapstructure:"PerCallBufferLimit"`

	// ChannelBufferLimit is the maximum number of request bytes retained for
	// replay across all calls on the channel.
	ChannelBufferLimit int64 `mapstructure:"ChannelBufferLimit"`
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig() Config {
	return Config{
		PerCallBufferLimit: DefaultPerCallBufferLimit,
		ChannelBufferLimit: DefaultChannelBufferLimit,
	}
}

// String returns a string representation of the channel configuration.
func (c Config) String() string {
	return fmt.Sprintf("PerCallBufferLimit=%d, ChannelBufferLimit=%d",
		c.PerCallBufferLimit, c.ChannelBufferLimit)
}

// Validate checks if the channel configuration is valid.
// It returns an error if any of the required fields are missing or invalid.
func (c Config) Validate() error {
	if c.PerCallBufferLimit <= 0 {
		return fmt.Errorf("PerCallBufferLimit must be greater than zero")
	}
	if c.ChannelBufferLimit <= 0 {
		return fmt.Errorf("ChannelBufferLimit must be greater than zero")
	}
	if c.PerCallBufferLimit > c.ChannelBufferLimit {
		return fmt.Errorf("PerCallBufferLimit must not exceed ChannelBufferLimit")
	}
	return nil
}
