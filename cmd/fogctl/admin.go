package main

import (
	"net"
	"net/http"

	"github.com/cuemby/fogdispatch/pkg/config"
	"github.com/cuemby/fogdispatch/pkg/log"
	"github.com/cuemby/fogdispatch/pkg/metrics"
)

// startAdminServer mounts the dispatcher's admin HTTP surface on
// cfg.MetricsAddr and serves it in the background, matching the teacher's
// cmd/warren/main.go pattern of a goroutine wrapping http.ListenAndServe.
// The listener is bound synchronously so a failure (e.g. the address is
// already in use by another fogctl invocation) is reported before this
// function returns, instead of racing an optimistic "listening" log line.
func startAdminServer(cfg *config.Config) error {
	logger := log.WithComponent("admin")

	ln, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("admin server failed to bind")
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	go func() {
		if err := http.Serve(ln, mux); err != nil {
			logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("admin server stopped")
		}
	}()
	logger.Info().Str("addr", cfg.MetricsAddr).Msg("admin server listening (/metrics, /healthz, /ready, /live)")
	return nil
}
