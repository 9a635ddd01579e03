package serviceconfig

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
)

// MaxAttemptsCeiling is the implementation limit on attempts per call.
// Configurations may request more, but the orchestrator never runs more than
// this many attempts and logs a diagnostic when it clamps.
const MaxAttemptsCeiling = 5

// PolicyKind selects the variant carried by a MethodPolicy.
type PolicyKind int

const (
	// PolicyNone means a single attempt, no retries and no hedging.
	PolicyNone PolicyKind = iota
	// PolicyRetry means sequential attempts gated by backoff and throttling.
	PolicyRetry
	// PolicyHedging means concurrent attempts on a fixed delay cadence.
	PolicyHedging
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyRetry:
		return "retry"
	case PolicyHedging:
		return "hedging"
	default:
		return "none"
	}
}

// RetryPlan is the parsed, validated form of a RetryPolicy.
type RetryPlan struct {
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
	RetryableStatusCodes map[codes.Code]struct{}
}

// IsRetryable reports whether the given status code is retryable under this plan.
func (p RetryPlan) IsRetryable(c codes.Code) bool {
	_, ok := p.RetryableStatusCodes[c]
	return ok
}

// HedgingPlan is the parsed, validated form of a HedgingPolicy.
type HedgingPlan struct {
	MaxAttempts         int
	HedgingDelay        time.Duration
	NonFatalStatusCodes map[codes.Code]struct{}
}

// IsNonFatal reports whether a failed hedged attempt with the given status
// code still allows further hedged attempts.
func (p HedgingPlan) IsNonFatal(c codes.Code) bool {
	_, ok := p.NonFatalStatusCodes[c]
	return ok
}

// ThrottlingPlan is the parsed, validated form of a RetryThrottlingPolicy.
type ThrottlingPlan struct {
	MaxTokens  float64
	TokenRatio float64
}

// MethodPolicy is the tagged policy variant consumed by the call orchestrator.
// Exactly one of Retry/Hedging is meaningful, selected by Kind.
type MethodPolicy struct {
	Kind    PolicyKind
	Retry   RetryPlan
	Hedging HedgingPlan
}

// MaxAttempts returns the configured attempt limit of the active variant,
// before clamping. A policy-less method allows a single attempt.
func (p MethodPolicy) MaxAttempts() int {
	switch p.Kind {
	case PolicyRetry:
		return p.Retry.MaxAttempts
	case PolicyHedging:
		return p.Hedging.MaxAttempts
	default:
		return 1
	}
}

// Config is an immutable set of parsed per-method policies plus the optional
// channel-wide throttling policy. It is shared read-only by every call.
type Config struct {
	exact      map[string]MethodPolicy // "service/method"
	perService map[string]MethodPolicy // "service"
	wildcard   *MethodPolicy           // empty name entry
	throttling *ThrottlingPlan
}

// Throttling returns the channel-wide throttling policy, or nil if none was
// configured.
func (c *Config) Throttling() *ThrottlingPlan {
	if c == nil {
		return nil
	}
	return c.throttling
}

// Lookup resolves the policy for a full method name ("/pkg.Service/Method" or
// "pkg.Service/Method"). Precedence follows the gRPC service config rules:
// exact service/method entry, then service entry, then the wildcard entry.
// Methods with no matching entry run with a single attempt.
func (c *Config) Lookup(fullMethod string) MethodPolicy {
	if c == nil {
		return MethodPolicy{}
	}
	name := strings.TrimPrefix(fullMethod, "/")
	if p, ok := c.exact[name]; ok {
		return p
	}
	if idx := strings.LastIndex(name, "/"); idx > 0 {
		if p, ok := c.perService[name[:idx]]; ok {
			return p
		}
	}
	if c.wildcard != nil {
		return *c.wildcard
	}
	return MethodPolicy{}
}

// Parse parses and validates raw gRPC service config JSON into an immutable
// Config. Malformed policies fail here, before any call starts.
func Parse(data []byte) (*Config, error) {
	var sc ServiceConfig
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("malformed service config JSON: %w", err)
	}
	return FromServiceConfig(&sc)
}

// FromServiceConfig validates an already-unmarshalled ServiceConfig.
func FromServiceConfig(sc *ServiceConfig) (*Config, error) {
	cfg := &Config{
		exact:      make(map[string]MethodPolicy),
		perService: make(map[string]MethodPolicy),
	}

	if sc.RetryThrottling != nil {
		t, err := parseThrottling(sc.RetryThrottling)
		if err != nil {
			return nil, err
		}
		cfg.throttling = &t
	}

	for i, mc := range sc.MethodConfig {
		policy, err := parseMethodPolicy(mc)
		if err != nil {
			return nil, fmt.Errorf("methodConfig[%d]: %w", i, err)
		}
		for _, name := range mc.Name {
			switch {
			case name.Service == "" && name.Method == "":
				if cfg.wildcard != nil {
					return nil, fmt.Errorf("methodConfig[%d]: duplicate wildcard entry", i)
				}
				p := policy
				cfg.wildcard = &p
			case name.Service == "":
				return nil, fmt.Errorf("methodConfig[%d]: method %q set without a service", i, name.Method)
			case name.Method == "":
				if _, ok := cfg.perService[name.Service]; ok {
					return nil, fmt.Errorf("methodConfig[%d]: duplicate entry for service %q", i, name.Service)
				}
				cfg.perService[name.Service] = policy
			default:
				key := name.Service + "/" + name.Method
				if _, ok := cfg.exact[key]; ok {
					return nil, fmt.Errorf("methodConfig[%d]: duplicate entry for method %q", i, key)
				}
				cfg.exact[key] = policy
			}
		}
	}

	return cfg, nil
}

func parseMethodPolicy(mc MethodConfig) (MethodPolicy, error) {
	if mc.RetryPolicy != nil && mc.HedgingPolicy != nil {
		return MethodPolicy{}, fmt.Errorf("retryPolicy and hedgingPolicy are mutually exclusive")
	}

	switch {
	case mc.RetryPolicy != nil:
		plan, err := parseRetryPlan(mc.RetryPolicy)
		if err != nil {
			return MethodPolicy{}, err
		}
		return MethodPolicy{Kind: PolicyRetry, Retry: plan}, nil
	case mc.HedgingPolicy != nil:
		plan, err := parseHedgingPlan(mc.HedgingPolicy)
		if err != nil {
			return MethodPolicy{}, err
		}
		return MethodPolicy{Kind: PolicyHedging, Hedging: plan}, nil
	default:
		return MethodPolicy{}, nil
	}
}

func parseRetryPlan(rp *RetryPolicy) (RetryPlan, error) {
	if rp.MaxAttempts < 2 {
		return RetryPlan{}, fmt.Errorf("retryPolicy.maxAttempts must be at least 2, got %d", rp.MaxAttempts)
	}
	initialBackoff, err := parsePolicyDuration("retryPolicy.initialBackoff", rp.InitialBackoff)
	if err != nil {
		return RetryPlan{}, err
	}
	maxBackoff, err := parsePolicyDuration("retryPolicy.maxBackoff", rp.MaxBackoff)
	if err != nil {
		return RetryPlan{}, err
	}
	if rp.BackoffMultiplier <= 0 {
		return RetryPlan{}, fmt.Errorf("retryPolicy.backoffMultiplier must be greater than zero")
	}
	if len(rp.RetryableStatusCodes) == 0 {
		return RetryPlan{}, fmt.Errorf("retryPolicy.retryableStatusCodes must not be empty")
	}
	statusCodes, err := parseCodeSet(rp.RetryableStatusCodes)
	if err != nil {
		return RetryPlan{}, fmt.Errorf("retryPolicy.retryableStatusCodes: %w", err)
	}

	return RetryPlan{
		MaxAttempts:          rp.MaxAttempts,
		InitialBackoff:       initialBackoff,
		MaxBackoff:           maxBackoff,
		BackoffMultiplier:    rp.BackoffMultiplier,
		RetryableStatusCodes: statusCodes,
	}, nil
}

func parseHedgingPlan(hp *HedgingPolicy) (HedgingPlan, error) {
	if hp.MaxAttempts < 2 {
		return HedgingPlan{}, fmt.Errorf("hedgingPolicy.maxAttempts must be at least 2, got %d", hp.MaxAttempts)
	}
	// a zero hedging delay is valid: all attempts start at once
	var hedgingDelay time.Duration
	if hp.HedgingDelay != "" {
		var err error
		hedgingDelay, err = parsePolicyDuration("hedgingPolicy.hedgingDelay", hp.HedgingDelay)
		if err != nil {
			return HedgingPlan{}, err
		}
	}
	statusCodes, err := parseCodeSet(hp.NonFatalStatusCodes)
	if err != nil {
		return HedgingPlan{}, fmt.Errorf("hedgingPolicy.nonFatalStatusCodes: %w", err)
	}

	return HedgingPlan{
		MaxAttempts:         hp.MaxAttempts,
		HedgingDelay:        hedgingDelay,
		NonFatalStatusCodes: statusCodes,
	}, nil
}

func parseThrottling(tp *RetryThrottlingPolicy) (ThrottlingPlan, error) {
	if tp.MaxTokens <= 0 || tp.MaxTokens > 1000 {
		return ThrottlingPlan{}, fmt.Errorf("retryThrottling.maxTokens must be in (0, 1000], got %v", tp.MaxTokens)
	}
	if tp.TokenRatio <= 0 {
		return ThrottlingPlan{}, fmt.Errorf("retryThrottling.tokenRatio must be greater than zero")
	}
	return ThrottlingPlan{MaxTokens: tp.MaxTokens, TokenRatio: tp.TokenRatio}, nil
}

// parsePolicyDuration parses proto JSON duration strings like "0.1s". Only a
// plain decimal number of seconds is accepted, so unit-suffixed forms such as
// "100ms" are rejected rather than silently misread.
func parsePolicyDuration(field, value string) (time.Duration, error) {
	num, ok := strings.CutSuffix(value, "s")
	if !ok || !isDecimalSeconds(num) {
		return 0, fmt.Errorf("%s: duration %q must be a decimal number of seconds", field, value)
	}
	secs, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	d := time.Duration(secs * float64(time.Second))
	if d == 0 && field != "hedgingPolicy.hedgingDelay" {
		return 0, fmt.Errorf("%s: duration must be greater than zero", field)
	}
	return d, nil
}

// isDecimalSeconds reports whether s is digits with at most one decimal point,
// ruling out signs, exponents and embedded duration units.
func isDecimalSeconds(s string) bool {
	if s == "" || s == "." {
		return false
	}
	sawDot := false
	for _, r := range s {
		switch {
		case r == '.':
			if sawDot {
				return false
			}
			sawDot = true
		case r < '0' || r > '9':
			return false
		}
	}
	return true
}

func parseCodeSet(names []string) (map[codes.Code]struct{}, error) {
	set := make(map[codes.Code]struct{}, len(names))
	for _, name := range names {
		c, err := CodeFromCanonicalString(name)
		if err != nil {
			return nil, err
		}
		set[c] = struct{}{}
	}
	return set, nil
}
