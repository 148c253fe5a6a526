// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"libralend/internal/app"
	"libralend/internal/chaos"
	"libralend/internal/config"
	"libralend/internal/telemetry"
)

type options struct {
	window     time.Duration
	pause      time.Duration
	outputPath string
}

func main() {
	var opts options
	flag.DurationVar(&opts.window, "window", 2*time.Second, "how long each experiment is observed")
	flag.DurationVar(&opts.pause, "pause", time.Second, "wait between experiments")
	flag.StringVar(&opts.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.WarnLevel)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := run(cfg, opts); err != nil {
		log.WithError(err).Error("Chaos Game Day failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, opts options) error {
	// Experiments register many members back to back.
	cfg.RegistrationRate = 0

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName+"-chaos", app.Version, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WithError(err).Warn("failed to flush traces")
		}
	}()

	a := app.New(cfg)
	if cfg.Seed {
		if err := a.Seed(ctx); err != nil {
			return fmt.Errorf("load sample data: %w", err)
		}
	}

	engine := chaos.NewChaosEngine(a.Service, a.Journal, chaos.WithPause(opts.pause))
	engine.RegisterExperiments()

	scenarios := engine.GetExperiments()
	for i := range scenarios {
		scenarios[i].Duration = opts.window
	}

	gameDayErr := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Lending Invariants Game Day",
		Date:      time.Now(),
		Scenarios: scenarios,
	})

	if opts.outputPath != "" {
		report, err := jsoniter.ConfigFastest.MarshalIndent(engine.Results(), "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if err := os.WriteFile(opts.outputPath, report, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return gameDayErr
}
