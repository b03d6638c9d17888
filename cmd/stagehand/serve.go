package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only ops API for a task",
	Long: `Serve health, status, summary, and Prometheus metrics over HTTP for
one task. Useful beside a long-running pipeline:

  stagehand run --task fix-login --brief-file brief.md &
  stagehand serve --task fix-login`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, cleanup, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := server.NewServer(a.store, a.logger, a.cfg.Server)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error(shutdownCtx, "ops server shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
