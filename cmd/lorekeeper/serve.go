package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lorekeeper/internal/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the lorekeeper HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
}

// run starts the service and blocks until ctx is cancelled.
//
//  1. Loads configuration, logger and telemetry
//  2. Connects the vector index and embedding endpoint
//  3. Opens the tenant store and builds the chat pipeline
//  4. Serves HTTP until a signal arrives, then drains
func run(ctx context.Context) error {
	c, err := loadCore(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() {
		if err := c.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	cfg := c.cfg
	c.logger.Info(ctx, "starting lorekeeper",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("tenants", cfg.Tenants.Source),
		zap.String("generation", cfg.Generation.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()),
	)

	stack, err := c.buildChat(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize chat: %w", err)
	}

	server, err := http.NewServer(http.Deps{
		Chat:        stack.orchestrator,
		Knowledge:   c.retriever,
		Records:     c.records,
		Collections: c.collections,
		Checks:      c.healthChecks(stack),
	}, c.logger, &http.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		c.logger.Error(shutdownCtx, "http server shutdown failed", zap.Error(err))
		return err
	}
	c.logger.Info(shutdownCtx, "lorekeeper stopped")
	return nil
}

func (c *core) healthChecks(stack *chatStack) map[string]http.HealthCheck {
	checks := map[string]http.HealthCheck{
		"telemetry": func(context.Context) error {
			if h := c.telemetry.Health(); h.Degraded {
				return fmt.Errorf("degraded: %v", h.Reasons)
			}
			return nil
		},
	}
	if c.qdrant != nil {
		checks["qdrant"] = c.qdrant.Health
	}
	if stack != nil && stack.pinger != nil {
		checks["tenants"] = stack.pinger
	}
	return checks
}

// commandTimeout bounds one-shot admin commands.
const commandTimeout = 30 * time.Second
