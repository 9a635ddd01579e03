package grpcconn

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/agglayer/callkit/config/types"
	"github.com/agglayer/callkit/serviceconfig"
)

// Client holds the gRPC connection and the per-method policies derived from
// its configuration.
type Client struct {
	conn     *grpc.ClientConn
	policies *serviceconfig.Config
}

// NewClient initializes and returns a new gRPC client
func NewClient(cfg *ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialBackoff := backoff.DefaultConfig
	if retryCfg := cfg.Retry; retryCfg != nil {
		dialBackoff.BaseDelay = retryCfg.InitialBackoff.Duration
		dialBackoff.MaxDelay = retryCfg.MaxBackoff.Duration
		dialBackoff.Multiplier = retryCfg.BackoffMultiplier
	}
	connectParams := grpc.ConnectParams{
		Backoff:           dialBackoff,
		MinConnectTimeout: cfg.MinConnectTimeout.Duration,
	}
	opts := []grpc.DialOption{
		grpc.WithConnectParams(connectParams),
	}

	serviceCfgJSON, err := CreateServiceConfig(cfg)
	if err != nil {
		return nil, err
	}

	var policies *serviceconfig.Config
	if serviceCfgJSON != "" {
		policies, err = serviceconfig.Parse([]byte(serviceCfgJSON))
		if err != nil {
			return nil, fmt.Errorf("generated service config does not parse back: %w", err)
		}
		if !cfg.LocalOrchestration {
			opts = append(opts, grpc.WithDefaultServiceConfig(serviceCfgJSON))
		}
	}

	if cfg.UseTLS {
		creds := credentials.NewTLS(&tls.Config{InsecureSkipVerify: false, MinVersion: tls.VersionTLS12})
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// trim the http:// and https:// prefixes from the URL because the go-grpc client expects it without it
	serverAddr := strings.TrimPrefix(cfg.URL, "http://")
	serverAddr = strings.TrimPrefix(serverAddr, "https://")
	conn, err := grpc.NewClient(serverAddr, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn, policies: policies}, nil
}

// CreateServiceConfig renders the gRPC service config JSON for the given
// client configuration. The result is empty when no policy is configured.
func CreateServiceConfig(cfg *ClientConfig) (string, error) {
	if cfg == nil || (cfg.Retry == nil && cfg.Hedging == nil && cfg.Throttling == nil) {
		return "", nil
	}

	var methodCfg []serviceconfig.MethodConfig
	switch {
	case cfg.Retry != nil:
		retryableCodes, err := canonicalCodes(cfg.Retry.RetryableStatusCodes,
			codes.Unavailable, codes.Aborted, codes.ResourceExhausted)
		if err != nil {
			return "", fmt.Errorf("Retry.RetryableStatusCodes: %w", err)
		}
		methodCfg = append(methodCfg, serviceconfig.MethodConfig{
			Name: []serviceconfig.MethodName{{}}, // Empty name matches all methods
			RetryPolicy: &serviceconfig.RetryPolicy{
				MaxAttempts:          cfg.Retry.MaxAttempts,
				InitialBackoff:       secondsString(cfg.Retry.InitialBackoff),
				MaxBackoff:           secondsString(cfg.Retry.MaxBackoff),
				BackoffMultiplier:    cfg.Retry.BackoffMultiplier,
				RetryableStatusCodes: retryableCodes,
			},
		})

		for _, excluded := range cfg.Retry.Excluded {
			methodCfg = append(methodCfg, serviceconfig.MethodConfig{
				Name: []serviceconfig.MethodName{
					{
						Service: excluded.ServiceName,
						Method:  excluded.MethodName,
					},
				},
			})
		}
	case cfg.Hedging != nil:
		nonFatalCodes, err := canonicalCodes(cfg.Hedging.NonFatalStatusCodes, codes.Unavailable)
		if err != nil {
			return "", fmt.Errorf("Hedging.NonFatalStatusCodes: %w", err)
		}
		methodCfg = append(methodCfg, serviceconfig.MethodConfig{
			Name: []serviceconfig.MethodName{{}},
			HedgingPolicy: &serviceconfig.HedgingPolicy{
				MaxAttempts:         cfg.Hedging.MaxAttempts,
				HedgingDelay:        secondsString(cfg.Hedging.HedgingDelay),
				NonFatalStatusCodes: nonFatalCodes,
			},
		})
	}

	serviceCfg := serviceconfig.ServiceConfig{MethodConfig: methodCfg}
	if cfg.Throttling != nil {
		serviceCfg.RetryThrottling = &serviceconfig.RetryThrottlingPolicy{
			MaxTokens:  cfg.Throttling.MaxTokens,
			TokenRatio: cfg.Throttling.TokenRatio,
		}
	}

	serviceCfgJSON, err := json.Marshal(serviceCfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal gRPC service config: %w", err)
	}

	return string(serviceCfgJSON), nil
}

// secondsString renders a duration in the decimal-seconds form the service
// config JSON requires ("0.1s", never "100ms").
func secondsString(d types.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// canonicalCodes validates the configured canonical code names, falling back
// to the given defaults when none are configured.
func canonicalCodes(names []string, defaults ...codes.Code) ([]string, error) {
	if len(names) == 0 {
		out := make([]string, 0, len(defaults))
		for _, c := range defaults {
			out = append(out, serviceconfig.CanonicalCodeString(c))
		}
		return out, nil
	}
	for _, name := range names {
		if _, err := serviceconfig.CodeFromCanonicalString(name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// Conn returns the gRPC connection
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// Policies returns the per-method policy set backing the connection's service
// config. It is nil when no policy is configured.
func (c *Client) Policies() *serviceconfig.Config {
	return c.policies
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// GRPCError represents an error structure used in gRPC communication.
// It contains the error code, a descriptive message, and optional details
// providing additional context about the error.
type GRPCError struct {
	Code    codes.Code
	Message string
	Details []string
}

// Error returns a formatted string representation of the GRPCError,
// including the error code, message, and details. The details are
// joined into a single string for readability.
func (e GRPCError) Error() string {
	return fmt.Sprintf("Code: %s, Message: %s, Details: %s", e.Code.String(), e.Message, joinDetails(e.Details))
}

// RepackGRPCErrorWithDetails extracts *status.Status and formats ErrorInfo details into a single error
func RepackGRPCErrorWithDetails(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err // Not a gRPC status error
	}

	var detailStrs []string
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			var detail string
			if len(info.Metadata) > 0 {
				detail += ", Metadata: {"
				for k, v := range info.Metadata {
					detail += fmt.Sprintf("%s: %s, ", k, v)
				}
				detail = strings.TrimSuffix(detail, ", ") + "}"
			}

			detailStr := fmt.Sprintf("Reason: %s, Domain: %s. %s", info.Reason, info.Domain, detail)
			detailStrs = append(detailStrs, detailStr)
		} else {
			detailStrs = append(detailStrs, fmt.Sprintf("%+v", d))
		}
	}

	return GRPCError{
		Code:    st.Code(),
		Message: st.Message(),
		Details: detailStrs,
	}
}

// joinDetails joins detail strings with a separator
func joinDetails(details []string) string {
	if len(details) == 0 {
		return noneStr
	}
	return fmt.Sprintf("[%s]", strings.Join(details, ";"))
}
