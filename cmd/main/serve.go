package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve starts the haikoo JSON API. The server can be restarted through the API,
which reloads the configuration file and the models.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Override the configured listen address")
}

func runServe(cmd *cobra.Command, _ []string) error {
	baseLogger := slog.New(slog.NewTextHandler(cmd.OutOrStdout(), &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(cmd, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}

		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Haikoo has shut down.")
	return nil
}

// run hosts the API server and returns whenever the server is shut down or restarted.
func run(cmd *cobra.Command, actionChan chan string) (string, error) {
	cm, logger, closer, err := loadRuntime(cmd, cmd.OutOrStdout())
	if err != nil {
		return "", err
	}
	defer func() {
		_ = closer.Close()
	}()
	logger.Info("Starting server cycle...")

	cfg := cm.Get()
	addr := cfg.Server.ApiAddr
	if override, _ := cmd.Flags().GetString("addr"); override != "" {
		addr = override
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx := context.Background()
	h, err := NewHaikoo(ctx, cfg, logger, reg, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create haikoo: %w", err)
	}
	defer h.Close()

	// Models may be trained after startup, so a failed warm-up is not fatal.
	if _, err = h.Generator().Model(ctx); err != nil {
		logger.Warn("Model not loaded at startup", "model", cfg.Generator.Model, "error", err)
	}

	server := NewServer(cm, h, logger, reg, actionChan)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting api server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	action := actionShutdown
	g.Go(func() error {
		select {
		case action = <-actionChan: // Block here until API or OS signal sends an action.
		case <-gctx.Done():
		}

		logger.Info("Stopping server for " + action + "...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown failed: %w", err)
		}
		logger.Info("HTTP server stopped.")
		return nil
	})

	if err = g.Wait(); err != nil {
		return "", err
	}
	return action, nil
}
