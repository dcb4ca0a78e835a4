package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/receptionist/internal/app"
	"github.com/ent0n29/receptionist/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control API and event stream",
	Long: `Start the HTTP control surface.

Endpoints:
  POST /v1/agent/connect      toggle the call
  POST /v1/agent/disconnect   end the call
  GET  /v1/agent/status       current status
  GET  /v1/reservations       appointments taken so far
  GET  /v1/events             websocket stream of status, volume and reservations`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.BindAddr = addr
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := app.Build(ctx, cfg, app.Options{})
		if err != nil {
			return err
		}
		logger := res.Logger
		defer func() {
			if err := res.Cleanup(); err != nil {
				logger.Warn("cleanup failed", zap.Error(err))
			}
		}()

		res.Controller.StartJanitor(ctx, 0)

		httpServer := &http.Server{
			Addr:              cfg.BindAddr,
			Handler:           res.API.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errc := make(chan error, 1)
		go func() {
			logger.Info("server listening", zap.String("addr", cfg.BindAddr), zap.String("voice_provider", res.Voice.Provider))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides APP_BIND_ADDR)")
}
