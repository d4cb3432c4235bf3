package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/satpass/internal/api"
	"github.com/star/satpass/internal/health"
	"github.com/star/satpass/internal/stream"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	cmd.Flags().Bool("trust-proxy", false, "identify clients by X-Forwarded-For / X-Real-IP")
	a.bind("http.addr", cmd.Flags().Lookup("addr"))
	a.bind("http.trust_proxy", cmd.Flags().Lookup("trust-proxy"))
	return cmd
}

// pinger is implemented by archives that can report their health.
type pinger interface {
	Ping(ctx context.Context) error
}

func (a *app) serve(ctx context.Context) error {
	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			a.logger.Warn("closing archive", "error", err)
		}
	}()

	ready := health.NewReadiness()
	if p, ok := st.archive.(pinger); ok {
		ready.Add("archive", p.Ping)
	}

	streamHandler := stream.NewHandler(st.tracker, a.cfg.Stream, a.cfg.HTTP.TrustProxy, a.logger)
	srv := api.NewServer(a.cfg.APIConfig(), api.Deps{
		Service:  st.tracker,
		Geocoder: st.geocoder,
		Stream:   streamHandler,
		Ready:    ready,
	}, a.logger)

	// Background workers: cache janitors, the element age gauge and the
	// per-client limiter pruning.
	interval := a.cfg.Cache.JanitorInterval
	var wg sync.WaitGroup
	run := func(fn func(context.Context, time.Duration)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx, interval)
		}()
	}
	if st.catalog != nil {
		run(st.catalog.Start)
	}
	run(st.tracker.Start)
	run(srv.Start)

	listenErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting server",
			"addr", a.cfg.HTTP.Addr,
			"auth_enabled", a.cfg.Auth.Enabled,
			"archive", a.cfg.Archive.Driver,
			"geocoding", st.geocoder.Configured(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		stop()
		wg.Wait()
		return fmt.Errorf("server listen: %w", err)
	}

	a.logger.Info("shutting down server...")
	ready.Drain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	wg.Wait()
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	a.logger.Info("server stopped")
	return nil
}
