package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"asset-sync/internal/agent"
	"asset-sync/internal/host"
)

func serveCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Front the origin, serving manifest resources through the agent",
		Long: `Deploy the configured manifest and serve it through a caching front proxy.

Requests for manifest resources are answered by the active agent; everything
else is proxied to the origin. POST /_agent/deploy reloads the manifest
files and deploys a new version.

Examples:
  asset-sync serve --listen :8080
  ASSET_SYNC_ORIGIN=https://app.example asset-sync serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Listen = listen
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	if err := a.requireValid(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, release, err := a.openStorage()
	if err != nil {
		return err
	}
	defer release()

	ctl := host.NewController(a.log, a.agentOptions()...)
	defer ctl.Close()

	load := func(context.Context) (agent.Config, error) { return a.agentConfig(storage) }
	if cfg, err := load(ctx); err != nil {
		return err
	} else if _, _, err := ctl.Deploy(ctx, cfg); err != nil {
		// The proxy still serves; a later deploy can succeed.
		a.log.Warn("initial deploy failed", slog.Any("error", err))
	}

	srv, err := host.NewServer(ctl, a.cfg.Origin, load, a.log)
	if err != nil {
		return err
	}
	hs := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", slog.String("addr", a.cfg.Listen), slog.String("origin", a.cfg.Origin))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.log.Info("shutting down")
	return hs.Shutdown(shutdownCtx)
}
