package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"orgbridge/internal/api"
	"orgbridge/pkg/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect every organization and serve the HTTP API (default)",
	RunE:  serveF,
}

func serveF(cmd *cobra.Command, _ []string) error {
	a := bootstrap(context.Background(), loadConfig(cmd))
	defer a.close()

	a.connect()
	for _, svc := range a.reg.List() {
		a.log.Infow("organization", "organization_id", svc.OrganizationID(), "slug", svc.Slug(), "state", svc.State())
	}

	srv := api.New(a.cfg, a.log, a.reg, a.route, version)
	httpServer := &http.Server{Addr: a.cfg.HTTPAddr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.log.Infow("orgbridge listening", "addr", a.cfg.HTTPAddr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for termination signal (SIGINT/SIGTERM) to begin graceful shutdown.
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stopCh:
	case err := <-errCh:
		a.log.Errorw("ListenAndServe", "err", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	_ = middleware.ShutdownTracing(ctx)
	a.log.Infow("orgbridge stopped")
	return nil
}
