package main

import (
	"context"
	"flag"
	"fmt"
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
	configFile := flag.String("config", "", "Path to a YAML config file")
	noSweep := flag.Bool("no-sweep", false, "Do not run the stale job sweeper in this instance")
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
		Service: "worker",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.Queue.Driver == config.DriverMemory {
		log.Warn().Msg("Worker is using the in-memory queue and will only see events published by itself; use the api binary for single-process mode")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	log.Info().Msg("Starting worker service")

	if err := application.StartWorker(ctx, !*noSweep); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker")
	}

	log.Info().
		Interface("topics", application.Events.Topics()).
		Msg("Worker service started, waiting for events...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop consuming and wait for in-flight messages
	if err := application.StopWorker(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
}
