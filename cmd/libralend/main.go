// cmd/libralend/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"libralend/internal/app"
	"libralend/internal/config"
	"libralend/internal/console"
	"libralend/internal/telemetry"
)

func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func main() {
	var headless bool
	flag.BoolVar(&headless, "headless", false, "run only the overdue sweeper and ops server, without the console")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	setupLogger(cfg.LogLevel)

	if err := run(cfg, headless); err != nil {
		log.WithError(err).Error("lending engine failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, headless bool) error {
	logger := log.WithField("service", cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, app.Version, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	a := app.New(cfg, app.WithLogger(logger))
	if cfg.Seed {
		if err := a.Seed(ctx); err != nil {
			return fmt.Errorf("load sample data: %w", err)
		}
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.WithField("version", app.Version).Info("lending engine started")

	var consoleErr error
	if headless {
		<-ctx.Done()
	} else {
		done := make(chan error, 1)
		go func() {
			c := console.New(a.Service, os.Stdin, os.Stdout, console.WithLogger(logger.WithField("component", "console")))
			done <- c.Run(ctx)
		}()
		select {
		case <-ctx.Done():
		case consoleErr = <-done:
		}
	}

	stop()
	a.Wait()
	logger.Info("lending engine stopped")
	if consoleErr != nil {
		return fmt.Errorf("console: %w", consoleErr)
	}
	return nil
}
