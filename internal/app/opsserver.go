package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vk/seqnet/internal/ctxlog"
)

// healthHandler answers liveness probes and logs each hit.
func (a *App) healthHandler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.FromContext(ctx)
		logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	}
}

// startOpsServer initializes and runs the operational HTTP server exposing
// /health and the Prometheus /metrics endpoint.
func (a *App) startOpsServer(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Configuring ops server.")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler(ctx))
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", a.config.OpsPort)
	a.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Run the server in a goroutine so it doesn't block.
	go func() {
		logger.Info("🩺 Ops server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		// ListenAndServe returns ErrServerClosed on graceful shutdown; that is
		// not a failure.
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ops server failed unexpectedly", "error", err)
		}
	}()
}

func (a *App) closeOpsServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Closing ops server...")

	if a.httpServer == nil {
		logger.Debug("Ops server was not running.")
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down ops server...")
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ops server shutdown failed", "error", err)
		return err
	}

	logger.Debug("Ops server shut down gracefully.")
	return nil
}
