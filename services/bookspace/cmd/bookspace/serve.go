package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bookspace/services/bookspace/internal/server"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			appCore, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer appCore.Close()

			httpServer, err := server.New(server.Config{
				App:                      appCore,
				RedisAddr:                cfg.RedisAddr,
				RedisPassword:            cfg.RedisPassword,
				SearchRateLimitPerMinute: cfg.SearchRateLimitPerMinute,
				TrustedProxyCIDRs:        cfg.TrustedProxyCIDRs,
				CORSAllowOrigin:          cfg.CORSAllowOrigin,
			})
			if err != nil {
				return err
			}
			defer httpServer.Close()

			addr := ":" + cfg.Port
			srv := &http.Server{
				Addr:         addr,
				Handler:      httpServer.Router(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("bookspace server listening", "addr", addr, "storage", cfg.StorageDriver)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			slog.Info("bookspace server shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown error", "err", err)
				return err
			}
			return nil
		},
	}
}
