package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mescon/cadence/internal/api"
	"github.com/mescon/cadence/internal/clock"
	"github.com/mescon/cadence/internal/config"
	"github.com/mescon/cadence/internal/eventbus"
	"github.com/mescon/cadence/internal/interrupt"
	"github.com/mescon/cadence/internal/logger"
	"github.com/mescon/cadence/internal/metrics"
	"github.com/mescon/cadence/internal/sampler"
	"github.com/mescon/cadence/internal/services"
)

func main() {
	// Command line flags override environment variables
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")

	flagInterval := flag.String("interval", "", "Sampling interval, e.g. 500ms or '@every 5s' (env: CADENCE_INTERVAL, default: 1s)")
	flagRunFor := flag.String("run-for", "", "Stop after this long, 0 runs until interrupted (env: CADENCE_RUN_FOR, default: 0)")
	flagSummaryEvery := flag.String("summary-every", "", "Log a summary this often, 0 disables (env: CADENCE_SUMMARY_EVERY, default: 1m)")
	flagFormat := flag.String("format", "", "Report format: text or json (env: CADENCE_FORMAT, default: text)")
	flagLogLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (env: CADENCE_LOG_LEVEL, default: info)")
	flagLogDir := flag.String("log-dir", "", "Also write rotated logs to this directory (env: CADENCE_LOG_DIR)")
	flagListen := flag.String("listen", "", "Serve status and metrics on this address, e.g. :9310 (env: CADENCE_LISTEN)")
	flagProcPath := flag.String("proc", "", "procfs mount point (env: CADENCE_PROC_PATH, default: /proc)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("cadence %s\n", config.Version)
		os.Exit(0)
	}

	if _, err := config.Load(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}
	if err := config.ApplyFlags(config.FlagOverrides{
		Interval:     flagInterval,
		RunFor:       flagRunFor,
		SummaryEvery: flagSummaryEvery,
		Format:       flagFormat,
		LogLevel:     flagLogLevel,
		LogDir:       flagLogDir,
		Listen:       flagListen,
		ProcPath:     flagProcPath,
	}); err != nil {
		logger.Errorf("Invalid flag: %v", err)
		os.Exit(1)
	}
	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogDir); err != nil {
		logger.Errorf("Failed to initialize log file: %v", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.SetLevel(cfg.LogLevel)

	logger.Infof("Starting cadence %s", config.Version)
	logger.Debugf("Configuration:")
	logger.Debugf("  Interval: %s", cfg.Interval)
	logger.Debugf("  Run For: %s", cfg.RunFor)
	logger.Debugf("  Summary Every: %s", cfg.SummaryEvery)
	logger.Debugf("  Format: %s", cfg.Format)
	logger.Debugf("  Proc Path: %s", cfg.ProcPath)
	logger.Debugf("  Log Directory: %s", cfg.LogDir)
	logger.Debugf("  Listen: %s", cfg.Listen)

	source := clock.NewSystem()

	probe, err := sampler.New(cfg.ProcPath, source)
	if err != nil {
		logger.Errorf("Failed to open procfs at %s: %v", cfg.ProcPath, err)
		os.Exit(1)
	}

	eb := eventbus.NewEventBus()

	metricsService := metrics.NewMetricsService(eb, metrics.NewRegistry())
	metricsService.Start()

	sampling, err := services.NewSamplingService(services.SamplingConfig{
		Interval:     cfg.Interval,
		RunFor:       cfg.RunFor,
		SummaryEvery: cfg.SummaryEvery,
		Format:       cfg.Format,
	}, probe, source, eb, os.Stdout)
	if err != nil {
		logger.Errorf("Failed to create sampling service: %v", err)
		os.Exit(1)
	}

	release, err := interrupt.Install(sampling.Stop)
	if err != nil {
		logger.Errorf("Failed to install interrupt handler: %v", err)
		os.Exit(1)
	}
	defer release()

	var apiServer *api.RESTServer
	if cfg.Listen != "" {
		apiServer = api.NewRESTServer(api.ServerDeps{
			Sampling: sampling,
			EventBus: eb,
			Metrics:  metricsService.Handler(),
			Clock:    source,
			Version:  config.Version,
		})
		go func() {
			if err := apiServer.Start(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Failed to start status server: %v", err)
				sampling.Stop()
			}
		}()
	}

	runErr := sampling.Run(context.Background())

	// Shutdown in reverse order of startup
	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Status server shutdown error: %v", err)
		}
		cancel()
	}
	eb.Shutdown()

	if runErr != nil {
		logger.Errorf("Sampling failed: %v", runErr)
		logger.Close()
		os.Exit(1)
	}
	logger.Infof("cadence shutdown complete")
}
