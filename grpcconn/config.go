package grpcconn

import (
	"fmt"
	"math"
	"time"

	"github.com/agglayer/callkit/config/types"
)

const (
	defaultTimeout           = 5 * time.Second
	defaultInitialBackoff    = 100 * time.Millisecond
	defaultMaxAttempts       = 3
	defaultMaxBackoff        = 10 * time.Second
	defaultBackoffMultiplier = 2.0

	noneStr = "none"
)

// ClientConfig is the configuration for the gRPC client
type ClientConfig struct {
	// URL is the URL of the gRPC server
	URL string `mapstructure:"URL"`

	// MinConnectTimeout is the minimum time to wait for a connection to be established
	// This is used to prevent the client from hanging indefinitely if the server is unreachable.
	MinConnectTimeout types.Duration `mapstructure:"MinConnectTimeout"`

	// RequestTimeout is the timeout for individual requests
	RequestTimeout types.Duration `mapstructure:"RequestTimeout"`

	// UseTLS indicates whether to use TLS for the gRPC connection
	UseTLS bool `mapstructure:"UseTLS"`

	// LocalOrchestration keeps the retry/hedging policies client-side: they are
	// parsed for the in-process call orchestrator instead of being handed to
	// grpc-go as a service config, so attempts are never retried twice.
	LocalOrchestration bool `mapstructure:"LocalOrchestration"`

	// Retry represents the retry configuration. Mutually exclusive with Hedging.
	Retry *RetryConfig `mapstructure:"Retry"`

	// Hedging represents the hedging configuration. Mutually exclusive with Retry.
	Hedging *HedgingConfig `mapstructure:"Hedging"`

	// Throttling represents the channel-wide retry throttling configuration
	Throttling *ThrottlingConfig `mapstructure:"Throttling"`
}

// DefaultConfig returns a default configuration for the gRPC client
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		URL:               "localhost:50051",
		MinConnectTimeout: types.NewDuration(defaultTimeout),
		Retry: &RetryConfig{
			MaxAttempts:       defaultMaxAttempts,
			InitialBackoff:    types.NewDuration(defaultInitialBackoff),
			MaxBackoff:        types.NewDuration(defaultMaxBackoff),
			BackoffMultiplier: defaultBackoffMultiplier,
		},
		RequestTimeout: types.NewDuration(defaultTimeout),
		UseTLS:         false,
	}
}

// String returns a string representation of the gRPC client configuration
func (c *ClientConfig) String() string {
	if c == nil {
		return noneStr
	}

	return fmt.Sprintf("GRPC Client Config: "+
		"URL=%s, MinConnectTimeout=%s, "+
		"RequestTimeout=%s, UseTLS=%t, Retry=%s, Hedging=%s, Throttling=%s",
		c.URL, c.MinConnectTimeout.String(),
		c.RequestTimeout.Duration, c.UseTLS,
		c.Retry.String(), c.Hedging.String(), c.Throttling.String())
}

// Validate checks if the gRPC client configuration is valid.
// It returns an error if any of the required fields are missing or invalid.
func (c *ClientConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("gRPC client configuration cannot be nil")
	}

	if c.URL == "" {
		return fmt.Errorf("gRPC client URL cannot be empty")
	}

	if c.MinConnectTimeout.Duration <= 0 {
		return fmt.Errorf("MinConnectTimeout must be greater than zero")
	}

	if c.Retry != nil && c.Hedging != nil {
		return fmt.Errorf("Retry and Hedging are mutually exclusive")
	}

	if c.Hedging != nil {
		if err := c.Hedging.Validate(); err != nil {
			return err
		}
	}

	if c.Throttling != nil {
		if err := c.Throttling.Validate(); err != nil {
			return err
		}
	}

	if c.Retry != nil {
		if err := c.Retry.Validate(); err != nil {
			return err
		}

		initialBackoffMillis := float64(c.Retry.InitialBackoff.Milliseconds())
		attempts := float64(c.Retry.MaxAttempts)

		// minTimeout = initialBackoff - (1 - backoffMultiplier ^ maxAttempts) / (1 - backoffMultiplier)
		minTimeoutMillis := initialBackoffMillis *
			(1 - math.Pow(c.Retry.BackoffMultiplier, attempts)) / (1 - c.Retry.BackoffMultiplier)

		minRequestTimeout := time.Duration(minTimeoutMillis * float64(time.Millisecond))
		if c.RequestTimeout.Duration < minRequestTimeout {
			return fmt.Errorf("RequestTimeout (%s) is too short; expected at least %s to accommodate retries",
				c.RequestTimeout, minRequestTimeout)
		}
	}

	return nil
}

// RetryConfig denotes the gRPC retry policy
type RetryConfig struct {
	// InitialBackoff is the initial delay before retrying a request
	InitialBackoff types.Duration `mapstructure:"InitialBackoff"`

	// MaxBackoff is the maximum backoff duration for retries
	MaxBackoff types.Duration `mapstructure:"MaxBackoff"`

	// BackoffMultiplier is the multiplier for the backoff duration
	BackoffMultiplier float64 `mapstructure:"BackoffMultiplier"`

	// MaxAttempts is the maximum number of attempts for a request,
	// including the first one
	MaxAttempts int `mapstructure:"MaxAttempts"`

	// RetryableStatusCodes lists the canonical status code names considered
	// retryable. Defaults to UNAVAILABLE, ABORTED and RESOURCE_EXHAUSTED.
	RetryableStatusCodes []string `mapstructure:"RetryableStatusCodes"`

	// Excluded captures functions which are excluded from retry policies
	Excluded []Method `mapstructure:"Excluded"`
}

func (r *RetryConfig) String() string {
	if r == nil {
		return noneStr
	}

	return fmt.Sprintf("InitialBackoff=%s, MaxBackoff=%s, "+
		"BackoffMultiplier=%f, MaxAttempts=%d",
		r.InitialBackoff.String(), r.MaxBackoff.String(),
		r.BackoffMultiplier, r.MaxAttempts,
	)
}

// Validate checks if the gRPC retry configuration is valid.
// It returns an error if any of the required fields are missing or invalid.
func (r *RetryConfig) Validate() error {
	if r.InitialBackoff.Duration <= 0 {
		return fmt.Errorf("InitialBackoff must be greater than zero")
	}

	if r.MaxBackoff.Duration <= 0 {
		return fmt.Errorf("MaxBackoff must be greater than zero")
	}

	if r.InitialBackoff.Duration >= r.MaxBackoff.Duration {
		return fmt.Errorf("InitialBackoff must be less than MaxBackoff")
	}

	if r.BackoffMultiplier < 1.0 {
		return fmt.Errorf("BackoffMultiplier must be greater than 1.0")
	}

	if r.MaxAttempts < 2 {
		return fmt.Errorf("MaxAttempts must be at least 2")
	}

	return nil
}

// HedgingConfig denotes the gRPC hedging policy
type HedgingConfig struct {
	// MaxAttempts is the maximum number of hedged attempts for a request,
	// including the first one
	MaxAttempts int `mapstructure:"MaxAttempts"`

	// HedgingDelay is the wait before each additional attempt is sent
	// without waiting for the previous one to fail
	HedgingDelay types.Duration `mapstructure:"HedgingDelay"`

	// NonFatalStatusCodes lists the canonical status code names that do not
	// stop the hedged fan-out. Defaults to UNAVAILABLE.
	NonFatalStatusCodes []string `mapstructure:"NonFatalStatusCodes"`
}

func (h *HedgingConfig) String() string {
	if h == nil {
		return noneStr
	}

	return fmt.Sprintf("MaxAttempts=%d, HedgingDelay=%s",
		h.MaxAttempts, h.HedgingDelay.String())
}

// Validate checks if the gRPC hedging configuration is valid.
func (h *HedgingConfig) Validate() error {
	if h.MaxAttempts < 2 {
		return fmt.Errorf("MaxAttempts must be at least 2")
	}

	if h.HedgingDelay.Duration < 0 {
		return fmt.Errorf("HedgingDelay must not be negative")
	}

	return nil
}

// ThrottlingConfig denotes the channel-wide retry throttling policy
type ThrottlingConfig struct {
	// MaxTokens is the token bucket capacity, in (0, 1000]
	MaxTokens float64 `mapstructure:"MaxTokens"`

	// TokenRatio is the refund per successful attempt
	TokenRatio float64 `mapstructure:"TokenRatio"`
}

func (t *ThrottlingConfig) String() string {
	if t == nil {
		return noneStr
	}

	return fmt.Sprintf("MaxTokens=%f, TokenRatio=%f", t.MaxTokens, t.TokenRatio)
}

// Validate checks if the throttling configuration is valid.
func (t *ThrottlingConfig) Validate() error {
	if t.MaxTokens <= 0 || t.MaxTokens > 1000 {
		return fmt.Errorf("MaxTokens must be in (0, 1000]")
	}

	if t.TokenRatio <= 0 {
		return fmt.Errorf("TokenRatio must be greater than zero")
	}

	return nil
}

// Method describes the gRPC service name and method name
type Method struct {
	// ServiceName identifies gRPC service name (alongside package)
	ServiceName string `mapstructure:"Service"`

	// MethodName denotes gRPC function name
	MethodName string `mapstructure:"Method"` // optional
}
