package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"

	"github.com/agglayer/callkit"
	"github.com/agglayer/callkit/config"
	"github.com/agglayer/callkit/grpcconn"
	"github.com/agglayer/callkit/healthcheck"
	"github.com/agglayer/callkit/log"
	"github.com/agglayer/callkit/pprof"
	"github.com/agglayer/callkit/prometheus"
	"github.com/agglayer/callkit/retrycall"
	retrycallmetrics "github.com/agglayer/callkit/retrycall/metrics"
)

const (
	healthEndpoint   = "/health"
	healthMethod     = "/grpc.health.v1.Health/Check"
	probeInterval    = 10 * time.Second
	shutdownGraceful = "terminating application gracefully..."
)

func start(cliCtx *cli.Context) error {
	cfg, err := config.Load(cliCtx)
	if err != nil {
		return err
	}

	log.Init(cfg.Log)

	if cfg.Log.Environment == log.EnvironmentDevelopment {
		callkit.PrintVersion(os.Stdout)
		log.Info("Starting application")
	} else if cfg.Log.Environment == log.EnvironmentProduction {
		logVersion()
	}

	if cfg.Prometheus.Enabled {
		prometheus.Init()
		retrycallmetrics.Register()
	}

	client, err := grpcconn.NewClient(&cfg.Client)
	if err != nil {
		return fmt.Errorf("error creating gRPC client: %w", err)
	}
	defer client.Close()

	transport := grpcconn.NewStreamTransport(client.Conn())
	opts := []retrycall.ChannelOption{
		retrycall.WithLogger(log.WithFields("module", PROBE)),
	}
	if cfg.Prometheus.Enabled {
		opts = append(opts, retrycall.WithEvents(retrycallmetrics.Events{}))
	}
	channel, err := retrycall.NewChannel(transport, client.Policies(), cfg.Channel, opts...)
	if err != nil {
		return fmt.Errorf("error creating call channel: %w", err)
	}

	if cfg.Prometheus.Enabled {
		go startPrometheusHTTPServer(cfg.Prometheus, channel)
	} else {
		log.Info("Prometheus metrics server is disabled")
	}

	if cfg.Profiling.ProfilingEnabled {
		go pprof.StartProfilingHTTPServer(cliCtx.Context, cfg.Profiling)
	}

	go runProbeLoop(cliCtx.Context, cfg, channel)

	waitSignal(nil)

	return nil
}

// runProbeLoop issues one health check per interval through the call
// orchestrator, so every probe exercises the configured retry or hedging
// policy end to end.
func runProbeLoop(ctx context.Context, cfg *config.Config, channel *retrycall.Channel) {
	logger := log.WithFields("module", PROBE, "target", cfg.Client.URL)
	logger.Infof("starting health probe loop, interval %s", probeInterval)

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		probeOnce(ctx, cfg, channel, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func probeOnce(ctx context.Context, cfg *config.Config,
	channel *retrycall.Channel, logger *log.Logger) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.Client.RequestTimeout.Duration)
	defer cancel()

	payload, err := proto.Marshal(&healthpb.HealthCheckRequest{})
	if err != nil {
		logger.Errorf("failed to marshal health check request: %v", err)
		return
	}

	call := channel.NewCall(callCtx, healthMethod, metadata.MD{})
	if err := call.Send(payload); err != nil {
		logger.Warnf("health probe write failed: %v", err)
		return
	}
	if err := call.CloseSend(); err != nil {
		logger.Warnf("health probe close-send failed: %v", err)
		return
	}

	msg, err := call.Recv()
	if err != nil {
		st, _ := call.AwaitStatus()
		reason, _ := call.CommittedReason()
		logger.Warnf("health probe failed: status=%s reason=%s err=%v",
			st.Code(), reason, grpcconn.RepackGRPCErrorWithDetails(st.Err()))
		return
	}

	var resp healthpb.HealthCheckResponse
	if err := proto.Unmarshal(msg, &resp); err != nil {
		logger.Errorf("failed to unmarshal health check response: %v", err)
		return
	}
	st, _ := call.AwaitStatus()
	reason, _ := call.CommittedReason()
	logger.Infof("health probe done: serving=%s status=%s reason=%s throttle=%s",
		resp.GetStatus(), st.Code(), reason, channel.Throttle())
}

func logVersion() {
	log.Infow("Starting application",
		// version is already logged by default
		"gitRevision", callkit.GitRev,
		"gitBranch", callkit.GitBranch,
		"goVersion", runtime.Version(),
		"built", callkit.BuildDate,
		"os/arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	)
}

func waitSignal(cancelFuncs []context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)

	for sig := range signals {
		switch sig {
		case os.Interrupt, os.Kill:
			log.Info(shutdownGraceful)

			exitStatus := 0
			for _, cancel := range cancelFuncs {
				cancel()
			}
			os.Exit(exitStatus)
		}
	}
}

func startPrometheusHTTPServer(c prometheus.Config, channel *retrycall.Channel) {
	const ten = 10
	mux := http.NewServeMux()
	lis, err := net.Listen("tcp", c.Address())
	if err != nil {
		log.Errorf("failed to create tcp listener for metrics: %v", err)
		return
	}
	mux.Handle(prometheus.Endpoint, promhttp.Handler())
	mux.Handle(healthEndpoint, healthcheck.NewHealthCheckHandler(
		log.WithFields("module", "healthcheck"), channel.Throttle()))

	metricsServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: ten * time.Second,
		ReadTimeout:       ten * time.Second,
	}
	log.Infof("prometheus server listening on port %d", c.Port)
	if err := metricsServer.Serve(lis); err != nil {
		if err == http.ErrServerClosed {
			log.Warnf("prometheus http server stopped")
			return
		}
		log.Errorf("closed http connection for prometheus server: %v", err)
		return
	}
}
