package pprof

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/agglayer/callkit/log"
	"github.com/agglayer/callkit/prometheus"
)

// StartProfilingHTTPServer starts an HTTP server for profiling using the provided configuration.
// It sets up endpoints for pprof profiling and listens on the specified host and port.
// The server includes handlers for various pprof endpoints such as index, profile, cmdline,
// symbol, and trace. The server's read and header timeouts are set to two minutes.
// The server shuts down when the given context is canceled.
func StartProfilingHTTPServer(ctx context.Context, c Config) {
	const two = 2
	mux := http.NewServeMux()
	lis, err := net.Listen("tcp", c.Address())
	if err != nil {
		log.Errorf("failed to create tcp listener for profiling: %v", err)
		return
	}
	mux.HandleFunc(prometheus.ProfilingIndexEndpoint, pprof.Index)
	mux.HandleFunc(prometheus.ProfileEndpoint, pprof.Profile)
	mux.HandleFunc(prometheus.ProfilingCmdEndpoint, pprof.Cmdline)
	mux.HandleFunc(prometheus.ProfilingSymbolEndpoint, pprof.Symbol)
	mux.HandleFunc(prometheus.ProfilingTraceEndpoint, pprof.Trace)
	profilingServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: two * time.Minute,
		ReadTimeout:       two * time.Minute,
	}
	go func() {
		<-ctx.Done()
		profilingServer.Close()
	}()
	log.Infof("profiling server listening on port %d", c.ProfilingPort)
	if err := profilingServer.Serve(lis); err != nil {
		if err == http.ErrServerClosed {
			log.Warnf("http server for profiling stopped")
			return
		}
		log.Errorf("closed http connection for profiling server: %v", err)
		return
	}
}
