package main

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc/codes"

	"github.com/agglayer/callkit/config"
	"github.com/agglayer/callkit/grpcconn"
	"github.com/agglayer/callkit/serviceconfig"
)

// checkConfigCmd loads the configuration, validates every section and prints
// the effective per-method policy the orchestrator would run with, including
// the attempt ceiling clamp, without opening any network connection.
func checkConfigCmd(cliCtx *cli.Context) error {
	cfg, err := config.Load(cliCtx)
	if err != nil {
		return err
	}

	if err := cfg.Client.Validate(); err != nil {
		return fmt.Errorf("invalid [Client] section: %w", err)
	}
	if err := cfg.Channel.Validate(); err != nil {
		return fmt.Errorf("invalid [Channel] section: %w", err)
	}

	scJSON, err := grpcconn.CreateServiceConfig(&cfg.Client)
	if err != nil {
		return fmt.Errorf("cannot build service config: %w", err)
	}
	if scJSON == "" {
		fmt.Println("config OK: no retry or hedging policy, calls run with a single attempt")
		return nil
	}

	policies, err := serviceconfig.Parse([]byte(scJSON))
	if err != nil {
		return fmt.Errorf("generated service config does not parse: %w", err)
	}

	fmt.Println("config OK")
	fmt.Printf("target: %s\n", cfg.Client.URL)
	fmt.Printf("buffer limits: per-call %d bytes, channel %d bytes\n",
		cfg.Channel.PerCallBufferLimit, cfg.Channel.ChannelBufferLimit)
	printPolicy("default", policies.Lookup("/any.Service/AnyMethod"))
	if cfg.Client.Retry != nil {
		for _, m := range cfg.Client.Retry.Excluded {
			method := fmt.Sprintf("/%s/%s", m.ServiceName, m.MethodName)
			printPolicy(method, policies.Lookup(method))
		}
	}
	if tp := policies.Throttling(); tp != nil {
		fmt.Printf("throttling: maxTokens=%.1f tokenRatio=%.2f (retries pause below %.1f tokens)\n",
			tp.MaxTokens, tp.TokenRatio, tp.MaxTokens/2)
	}
	return nil
}

func printPolicy(method string, p serviceconfig.MethodPolicy) {
	switch p.Kind {
	case serviceconfig.PolicyRetry:
		fmt.Printf("%s: retry maxAttempts=%d%s backoff=%s..%s x%.1f codes=%s\n",
			method, p.Retry.MaxAttempts, clampNote(p.Retry.MaxAttempts),
			p.Retry.InitialBackoff, p.Retry.MaxBackoff,
			p.Retry.BackoffMultiplier, codeSetString(p.Retry.RetryableStatusCodes))
	case serviceconfig.PolicyHedging:
		fmt.Printf("%s: hedging maxAttempts=%d%s delay=%s nonFatalCodes=%s\n",
			method, p.Hedging.MaxAttempts, clampNote(p.Hedging.MaxAttempts),
			p.Hedging.HedgingDelay, codeSetString(p.Hedging.NonFatalStatusCodes))
	default:
		fmt.Printf("%s: no policy, single attempt\n", method)
	}
}

func clampNote(maxAttempts int) string {
	if maxAttempts > serviceconfig.MaxAttemptsCeiling {
		return fmt.Sprintf(" (clamped to %d)", serviceconfig.MaxAttemptsCeiling)
	}
	return ""
}

func codeSetString(set map[codes.Code]struct{}) string {
	names := make([]string, 0, len(set))
	for c := range set {
		names = append(names, serviceconfig.CanonicalCodeString(c))
	}
	sort.Strings(names)
	return fmt.Sprintf("%v", names)
}
