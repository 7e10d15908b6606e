package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qrtrail/scanhistory/pkg/api"
	"github.com/qrtrail/scanhistory/pkg/config"
	"github.com/qrtrail/scanhistory/pkg/history"
	"github.com/qrtrail/scanhistory/pkg/metrics"
	"github.com/qrtrail/scanhistory/pkg/storage/backend"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.FromEnv()
	logger := cfg.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	slot, closeSlot, err := backend.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open (%s): %w", cfg.Backend, err)
	}
	defer closeSlot()

	store := history.New(slot,
		history.WithKey(cfg.Key),
		history.WithLogger(logger),
		history.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
	)

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := &http.Server{
		Handler:           api.NewRouter(store, logger, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("server started", "addr", ln.Addr().String(), "backend", cfg.Backend)
	return serve(ctx, srv, ln, shutdownTimeout)
}

// serve runs srv until ctx is cancelled, then returns only once in-flight
// requests have drained or timeout expires.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
