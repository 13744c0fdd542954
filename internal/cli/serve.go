package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"inferbench/internal/transport/rest"
)

func newServeCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Long: `Start the REST API server.

The server exposes test control, results, dataset evaluation, and monitoring
endpoints under /api, plus /health and (when enabled) Prometheus /metrics.
It shuts down gracefully on SIGINT/SIGTERM, waiting for a running test to
finish up to the configured shutdown timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}

			if app.mon != nil {
				app.mon.Start()
			}

			srv, err := rest.NewServer(app.cfg, app.registry, app.source, app.client, app.store, app.mon, app.logger)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()
			app.logger.Info("server starting",
				zap.String("addr", app.cfg.Server.Addr()),
				zap.String("version", version))

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-quit:
				app.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
			}

			ctx, cancel := context.WithTimeout(context.Background(), app.cfg.Server.ShutdownTimeout())
			defer cancel()

			if err := srv.Stop(ctx); err != nil {
				app.logger.Error("REST server shutdown failed", zap.Error(err))
			}
			app.close(ctx)
			app.logger.Info("server stopped")
			return nil
		},
	}
}