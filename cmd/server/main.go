// Command server starts the multi-provider orchestration demo service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/provider-cascade/internal/adapter/extract"
	httpserver "github.com/fairyhunter13/provider-cascade/internal/adapter/httpserver"
	"github.com/fairyhunter13/provider-cascade/internal/adapter/observability"
	"github.com/fairyhunter13/provider-cascade/internal/adapter/textgen"
	"github.com/fairyhunter13/provider-cascade/internal/adapter/websearch"
	"github.com/fairyhunter13/provider-cascade/internal/app"
	"github.com/fairyhunter13/provider-cascade/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP and cascade instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	providers, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		slog.Error("provider catalog load failed", slog.String("path", cfg.CatalogPath), slog.Any("error", err))
		os.Exit(1)
	}

	eng, err := app.BuildEngine(cfg, providers)
	if err != nil {
		slog.Error("engine build failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Invoke adapters for the three call sites
	tg := textgen.New(cfg)
	ws := websearch.New(cfg)
	ex := extract.New(cfg)

	srv := httpserver.NewServer(cfg, eng.Registry, eng.Health, eng.TextGen, eng.Search, eng.Extract, tg, ws, ex)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
