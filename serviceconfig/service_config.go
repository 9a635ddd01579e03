package serviceconfig

// ServiceConfig represents the top-level configuration for service method behaviors,
// including retry, hedging and throttling policies. It mirrors the gRPC service
// configuration format.
type ServiceConfig struct {
	// List of method-specific configurations.
	MethodConfig []MethodConfig `json:"methodConfig"`
	// Optional channel-wide retry throttling policy.
	RetryThrottling *RetryThrottlingPolicy `json:"retryThrottling,omitempty"`
}

// MethodConfig defines behavior overrides (e.g., retry policy) for specific RPC methods or services.
type MethodConfig struct {
	// List of service/method pairs this config applies to.
	Name []MethodName `json:"name"`
	// Optional retry policy to apply to the specified methods.
	RetryPolicy *RetryPolicy `json:"retryPolicy,omitempty"`
	// Optional hedging policy to apply to the specified methods.
	// At most one of RetryPolicy and HedgingPolicy may be set.
	HedgingPolicy *HedgingPolicy `json:"hedgingPolicy,omitempty"`
}

// MethodName identifies a gRPC method or service that the policy should apply to.
// Either Service or Method may be empty for wildcard matching.
type MethodName struct {
	// Optional: Match all methods of a specific service if Method is empty.
	Service string `json:"service,omitempty"`
	// Optional: Match a specific method of the given service.
	Method string `json:"method,omitempty"`
}

// RetryPolicy specifies how failed RPCs should be retried, including delays and allowed status codes.
type RetryPolicy struct {
	// Maximum number of attempts (initial + retries).
	MaxAttempts int `json:"maxAttempts"`
	// Delay before first retry (e.g., "0.1s").
	InitialBackoff string `json:"initialBackoff"`
	// Maximum delay between retries (e.g., "2s").
	MaxBackoff string `json:"maxBackoff"`
	// Multiplier for exponential backoff (e.g., 2.0).
	BackoffMultiplier float64 `json:"backoffMultiplier"`
	// gRPC status codes that are considered retryable (e.g., "UNAVAILABLE").
	RetryableStatusCodes []string `json:"retryableStatusCodes"`
}

// HedgingPolicy specifies how RPCs should be hedged: multiple attempts are
// issued on a fixed delay cadence, independent of prior attempt outcomes.
type HedgingPolicy struct {
	// Maximum number of concurrent attempts.
	MaxAttempts int `json:"maxAttempts"`
	// Delay between consecutive hedged attempts (e.g., "0.5s").
	HedgingDelay string `json:"hedgingDelay"`
	// gRPC status codes after which hedging may continue (e.g., "UNAVAILABLE").
	// Any other status commits the call.
	NonFatalStatusCodes []string `json:"nonFatalStatusCodes,omitempty"`
}

// RetryThrottlingPolicy limits retries and hedges channel-wide via a token bucket.
// Every attempt failure costs one token, every success refunds TokenRatio tokens.
// Retries are suppressed while the bucket is at or below half capacity.
type RetryThrottlingPolicy struct {
	// Capacity of the token bucket; the bucket starts full.
	MaxTokens float64 `json:"maxTokens"`
	// Tokens refunded per successful attempt.
	TokenRatio float64 `json:"tokenRatio"`
}
