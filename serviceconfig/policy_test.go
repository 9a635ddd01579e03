package serviceconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

const sampleConfig = `{
	"methodConfig": [
		{
			"name": [{}],
			"retryPolicy": {
				"maxAttempts": 4,
				"initialBackoff": "0.1s",
				"maxBackoff": "10s",
				"backoffMultiplier": 2.0,
				"retryableStatusCodes": ["UNAVAILABLE", "ABORTED"]
			}
		},
		{
			"name": [{"service": "pkg.Search", "method": "Query"}],
			"hedgingPolicy": {
				"maxAttempts": 3,
				"hedgingDelay": "0.5s",
				"nonFatalStatusCodes": ["UNAVAILABLE"]
			}
		},
		{
			"name": [{"service": "pkg.Admin"}]
		}
	],
	"retryThrottling": {
		"maxTokens": 10,
		"tokenRatio": 0.1
	}
}`

func TestParseSampleConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	throttling := cfg.Throttling()
	require.NotNil(t, throttling)
	require.Equal(t, 10.0, throttling.MaxTokens)
	require.Equal(t, 0.1, throttling.TokenRatio)

	t.Run("exact match wins over wildcard", func(t *testing.T) {
		p := cfg.Lookup("/pkg.Search/Query")
		require.Equal(t, PolicyHedging, p.Kind)
		require.Equal(t, 3, p.Hedging.MaxAttempts)
		require.Equal(t, 500*time.Millisecond, p.Hedging.HedgingDelay)
		require.True(t, p.Hedging.IsNonFatal(codes.Unavailable))
		require.False(t, p.Hedging.IsNonFatal(codes.Internal))
	})

	t.Run("service match disables retries for its methods", func(t *testing.T) {
		p := cfg.Lookup("/pkg.Admin/Nuke")
		require.Equal(t, PolicyNone, p.Kind)
		require.Equal(t, 1, p.MaxAttempts())
	})

	t.Run("wildcard applies to everything else", func(t *testing.T) {
		p := cfg.Lookup("/pkg.Other/Do")
		require.Equal(t, PolicyRetry, p.Kind)
		require.Equal(t, 4, p.Retry.MaxAttempts)
		require.Equal(t, 100*time.Millisecond, p.Retry.InitialBackoff)
		require.Equal(t, 10*time.Second, p.Retry.MaxBackoff)
		require.True(t, p.Retry.IsRetryable(codes.Unavailable))
		require.True(t, p.Retry.IsRetryable(codes.Aborted))
		require.False(t, p.Retry.IsRetryable(codes.Internal))
	})

	t.Run("nil config means single attempt", func(t *testing.T) {
		var nilCfg *Config
		p := nilCfg.Lookup("/pkg.Other/Do")
		require.Equal(t, PolicyNone, p.Kind)
		require.Equal(t, 1, p.MaxAttempts())
	})
}

func TestParseRejectsInvalidPolicies(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{
			name:    "malformed JSON",
			json:    `{"methodConfig": [`,
			wantErr: "malformed service config JSON",
		},
		{
			name: "retry and hedging together",
			json: `{"methodConfig": [{"name": [{}],
				"retryPolicy": {"maxAttempts": 2, "initialBackoff": "0.1s", "maxBackoff": "1s",
					"backoffMultiplier": 2, "retryableStatusCodes": ["UNAVAILABLE"]},
				"hedgingPolicy": {"maxAttempts": 2, "hedgingDelay": "0.1s"}}]}`,
			wantErr: "mutually exclusive",
		},
		{
			name: "maxAttempts below two",
			json: `{"methodConfig": [{"name": [{}],
				"retryPolicy": {"maxAttempts": 1, "initialBackoff": "0.1s", "maxBackoff": "1s",
					"backoffMultiplier": 2, "retryableStatusCodes": ["UNAVAILABLE"]}}]}`,
			wantErr: "maxAttempts must be at least 2",
		},
		{
			name: "empty retryable codes",
			json: `{"methodConfig": [{"name": [{}],
				"retryPolicy": {"maxAttempts": 2, "initialBackoff": "0.1s", "maxBackoff": "1s",
					"backoffMultiplier": 2, "retryableStatusCodes": []}}]}`,
			wantErr: "retryableStatusCodes must not be empty",
		},
		{
			name: "unknown status code",
			json: `{"methodConfig": [{"name": [{}],
				"retryPolicy": {"maxAttempts": 2, "initialBackoff": "0.1s", "maxBackoff": "1s",
					"backoffMultiplier": 2, "retryableStatusCodes": ["NOT_A_CODE"]}}]}`,
			wantErr: "unknown status code",
		},
		{
			name: "backoff not in seconds",
			json: `{"methodConfig": [{"name": [{}],
				"retryPolicy": {"maxAttempts": 2, "initialBackoff": "100ms", "maxBackoff": "1s",
					"backoffMultiplier": 2, "retryableStatusCodes": ["UNAVAILABLE"]}}]}`,
			wantErr: "decimal number of seconds",
		},
		{
			name: "backoff in microseconds",
			json: `{"methodConfig": [{"name": [{}],
				"retryPolicy": {"maxAttempts": 2, "initialBackoff": "5us", "maxBackoff": "1s",
					"backoffMultiplier": 2, "retryableStatusCodes": ["UNAVAILABLE"]}}]}`,
			wantErr: "decimal number of seconds",
		},
		{
			name: "negative backoff",
			json: `{"methodConfig": [{"name": [{}],
				"retryPolicy": {"maxAttempts": 2, "initialBackoff": "-1s", "maxBackoff": "1s",
					"backoffMultiplier": 2, "retryableStatusCodes": ["UNAVAILABLE"]}}]}`,
			wantErr: "decimal number of seconds",
		},
		{
			name: "exponent backoff",
			json: `{"methodConfig": [{"name": [{}],
				"retryPolicy": {"maxAttempts": 2, "initialBackoff": "1e-1s", "maxBackoff": "1s",
					"backoffMultiplier": 2, "retryableStatusCodes": ["UNAVAILABLE"]}}]}`,
			wantErr: "decimal number of seconds",
		},
		{
			name: "zero backoff",
			json: `{"methodConfig": [{"name": [{}],
				"retryPolicy": {"maxAttempts": 2, "initialBackoff": "0s", "maxBackoff": "1s",
					"backoffMultiplier": 2, "retryableStatusCodes": ["UNAVAILABLE"]}}]}`,
			wantErr: "must be greater than zero",
		},
		{
			name: "method without service",
			json: `{"methodConfig": [{"name": [{"method": "Orphan"}]}]}`,
			wantErr: "set without a service",
		},
		{
			name:    "throttling maxTokens out of range",
			json:    `{"methodConfig": [], "retryThrottling": {"maxTokens": 0, "tokenRatio": 0.1}}`,
			wantErr: "maxTokens must be in",
		},
		{
			name:    "throttling tokenRatio out of range",
			json:    `{"methodConfig": [], "retryThrottling": {"maxTokens": 10, "tokenRatio": 0}}`,
			wantErr: "tokenRatio must be greater than zero",
		},
		{
			name: "duplicate wildcard",
			json: `{"methodConfig": [{"name": [{}]}, {"name": [{}]}]}`,
			wantErr: "duplicate wildcard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.json))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHedgingDelayMayBeZero(t *testing.T) {
	cfg, err := Parse([]byte(`{"methodConfig": [{"name": [{}],
		"hedgingPolicy": {"maxAttempts": 2, "hedgingDelay": "0s"}}]}`))
	require.NoError(t, err)
	p := cfg.Lookup("/svc/m")
	require.Equal(t, PolicyHedging, p.Kind)
	require.Equal(t, time.Duration(0), p.Hedging.HedgingDelay)
}
