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

	"tenant_gateway/internal/config"
	"tenant_gateway/internal/httpapi"
	"tenant_gateway/internal/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if _, err := utils.InitLogger(utils.LoggerConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "tenant-gateway",
		PodName:     cfg.Log.PodName,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.SyncLogger()
	logger := utils.NewLogger("main")

	ctx := context.Background()
	gw, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	gw.start(ctx)

	// Create HTTP server
	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      httpapi.NewRouter(gw.deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Gateway listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down", "signal", sig.String())
	case err = <-serverErr:
		logger.Error("Server error", "error", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	gw.shutdown(shutdownCtx)

	logger.Info("Gateway exited")
	return err
}
