package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/splitledger/internal/app"
	"github.com/dvloznov/splitledger/internal/config"
	"github.com/dvloznov/splitledger/internal/logger"
	"github.com/spf13/viper"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(viper.New(), *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewWithOptions(os.Stdout, logger.Options{
		Level:   cfg.LogLevel,
		Format:  logger.Format(cfg.LogFormat),
		Service: "api",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	// With the in-memory queue, events never leave this process, so it also runs the worker.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	embeddedWorker := cfg.Queue.Driver == config.DriverMemory
	if embeddedWorker {
		log.Info().Msg("Starting embedded worker")
		if err := application.StartWorker(workerCtx, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to start embedded worker")
		}
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      application.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Int("port", cfg.HTTP.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if embeddedWorker {
		cancelWorker()
		if err := application.StopWorker(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping embedded worker")
		}
	}

	log.Info().Msg("Server exited")
}
