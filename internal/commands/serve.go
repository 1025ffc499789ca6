package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tally/internal/backend"
	"tally/internal/cli"
	"tally/internal/config"
	apphttp "tally/internal/http"
	"tally/internal/identity"
	"tally/internal/log"
)

func newServeCommand() *cobra.Command {
	var port, backendType string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli.LoadEnvFile()
			cfg := config.Load()
			if port != "" {
				cfg.Port = port
			}
			if backendType != "" {
				cfg.DataBackend = backendType
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger := cli.SetupLogger(cfg.LogLevel)
			return runServe(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port, overrides PORT")
	cmd.Flags().StringVar(&backendType, "backend", "", "data backend (sqlite, local, memory), overrides DATA_BACKEND")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	be, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return fmt.Errorf("create %s backend: %w", bcfg.Type, err)
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error("Failed to close backend", "error", err)
		}
	}()

	srv := apphttp.NewServer(apphttp.Config{
		Addr:          ":" + cfg.Port,
		IdleTimeout:   cfg.SessionIdleTimeout,
		MaxSessions:   cfg.MaxSessions,
		AuthRateLimit: cfg.AuthRateLimit,
	}, apphttp.Deps{
		Data:      be.Data,
		Profiles:  be.Profiles,
		Directory: identity.NewDirectory(be.Users),
		Logger:    log.New(log.Config{Handler: logger.Handler(), Component: log.ComponentHTTP}),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting tally server", "port", cfg.Port, "backend", bcfg.Type.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if be.Run != nil {
		g.Go(func() error { return be.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		cli.RunCleanup(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("Server shutdown error", "error", err)
			}
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
