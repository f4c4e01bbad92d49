package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/qaflow/pkg/api"
	"github.com/odvcencio/qaflow/pkg/auth"
	"github.com/odvcencio/qaflow/pkg/bus"
	"github.com/odvcencio/qaflow/pkg/executor"
	"github.com/odvcencio/qaflow/pkg/logging"
	"github.com/odvcencio/qaflow/pkg/storage"
	"github.com/odvcencio/qaflow/pkg/uploads"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(a *app) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the qaflow API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if bind != "" {
				a.cfg.Server.Bind = bind
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Address to listen on (overrides config)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	cfg := a.cfg
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	for _, warning := range cfg.ValidationWarnings() {
		a.logger.Warn(warning)
	}

	store, err := storage.New(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	messageBus, err := bus.Open(cfg.Bus)
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}
	defer messageBus.Close()
	store.AddObserver(bus.NewStorageBridge(messageBus, cfg.Bus.SubjectPrefix, logging.Component(a.logger, "bus")))

	serverCfg := api.ServerConfig{
		Server:        cfg.Server,
		Store:         store,
		Files:         uploads.New(cfg.Storage.UploadsDir),
		Tokens:        auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		EventBus:      messageBus,
		SubjectPrefix: cfg.Bus.SubjectPrefix,
		Logger:        logging.Component(a.logger, "api"),
	}
	if cfg.Executor.URL != "" {
		serverCfg.Executor = executor.NewClient(cfg.Executor.URL, executor.Options{
			RateLimit: cfg.Executor.RateLimit,
			Burst:     cfg.Executor.Burst,
			Timeout:   cfg.Executor.Timeout,
		})
	}
	server := api.NewServer(serverCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("qaflow server listening", "addr", server.Addr(), "bus", cfg.Bus.Driver)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
