package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/api"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

func newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				cfg.API.Addr = v
			}
			if cfg.Log.Environment == "prod" {
				gin.SetMode(gin.ReleaseMode)
			}
			log := logger.L()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()

			p, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			p.startHealthChecks(ctx)
			defer p.stopHealthChecks()

			store := api.NewJobStore()
			runner := api.NewRunner(ctx, store, p.orch, cfg.API.MaxJobs)
			if cfg.API.JWTSecret == "" {
				log.Warn("api.jwt_secret is empty, bearer auth disabled")
			}

			srv := &http.Server{
				Addr: cfg.API.Addr,
				Handler: api.NewRouter(api.RouterDeps{
					Runner:    runner,
					Store:     store,
					Decoder:   p.decoder,
					Checkers:  p.checkers,
					JWTSecret: cfg.API.JWTSecret,
					Paths: api.Paths{
						InputDir:  cfg.API.InputDir,
						UploadDir: cfg.API.UploadDir,
						OutputDir: cfg.OutputDir,
					},
					MaxUploadBytes: cfg.API.MaxUploadMiB << 20,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("server listening", "addr", cfg.API.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
				log.Info("shutdown signal received, shutting down server...")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("server forced to shutdown", "error", err)
			}
			// running jobs observe ctx cancellation and clean their workspaces
			runner.Wait()
			log.Info("server shutdown complete")
			return nil
		},
	}
	c.Flags().String("addr", "", "listen address (default :8090)")
	return c
}
