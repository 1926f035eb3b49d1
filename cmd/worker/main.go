// Command worker runs the task worker (C6): it consumes deliveries off one
// queue, drives the runner pipeline through to completion, and records
// results through the store-backed result backend (the SQL task_results
// table), not the broker. It also hosts the monitor's reconciliation
// loop and the shared /health, /ready, /metrics endpoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alasbuild/testforge/pkg/artifact"
	"github.com/alasbuild/testforge/pkg/broker"
	"github.com/alasbuild/testforge/pkg/config"
	"github.com/alasbuild/testforge/pkg/log"
	"github.com/alasbuild/testforge/pkg/metrics"
	"github.com/alasbuild/testforge/pkg/monitor"
	"github.com/alasbuild/testforge/pkg/runner"
	"github.com/alasbuild/testforge/pkg/storage"
	"github.com/alasbuild/testforge/pkg/worker"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "testforge worker: runner pipeline execution and task reconciliation",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", os.Getenv(config.EnvVar), "Path to the YAML config file")
	rootCmd.PersistentFlags().String("queue", "", "Queue name this worker consumes (e.g. docker-x86_64-0)")
	rootCmd.PersistentFlags().String("metrics-addr", ":9090", "HTTP listen address for /health, /ready, /live, /metrics")

	cobra.OnInitialize(initLogging)
	rootCmd.RunE = runWorker
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runWorker(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	queueName, _ := cmd.Flags().GetString("queue")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if queueName == "" {
		return fmt.Errorf("--queue is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registerDrivers(cfg)

	bk, err := storage.NewBoltStore(cfg.WorkingDirectory)
	if err != nil {
		return fmt.Errorf("opening runner bookkeeping store: %w", err)
	}
	defer bk.Close()
	runner.Bookkeeper = bk

	store, err := storage.NewSQLStore(cfg.WorkingDirectory + "/testforge.db")
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "")

	b, err := broker.Dial(cfg.Broker)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	defer b.Close()
	metrics.RegisterComponent("broker", true, "")

	results := broker.NewStoreResultBackend(store)

	uploader := artifact.NewS3Uploader(cfg.BlobStorage)

	w := worker.New(b, results, uploader, queueName, cfg.SSHPublicKeyPath, cfg.PrefetchMultiplier)
	mon := monitor.New(store, results)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mlog := log.WithComponent("cmd.worker")

	go func() {
		if err := w.Run(ctx); err != nil {
			mlog.Error().Err(err).Msg("worker run loop exited")
		}
	}()
	go mon.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())
	httpSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		mlog.Info().Str("addr", metricsAddr).Msg("worker metrics surface listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mlog.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)

	for {
		sig := <-sigCh
		if sig == syscall.SIGUSR1 {
			log.Info("SIGUSR1 received, requesting graceful monitor shutdown")
			mon.RequestGracefulTerminate()
			continue
		}
		log.Info("shutdown signal received, stopping worker")
		w.Stop()
		mon.RequestGracefulTerminate()
		mon.RequestHardTerminate()
		cancel()
		_ = httpSrv.Shutdown(context.Background())
		return nil
	}
}

// registerDrivers replaces the zero-value docker/opennebula defaults
// installed by their init() functions with ones bound to this deployment's
// configuration.
func registerDrivers(cfg *config.Config) {
	runner.Register(runner.NewDockerDriver("", "", "", ""))

	catalog := &runner.HTTPCatalog{Endpoint: cfg.VMProvider.Endpoint + "/images", Token: cfg.VMProvider.Password}
	runner.Register(runner.NewOpenNebulaDriver(
		catalog,
		cfg.VMProvider.Endpoint, cfg.VMProvider.User, cfg.VMProvider.Password,
		cfg.VMProvider.VMGroup, cfg.VMProvider.Network,
		cfg.AllowedChannels,
	))
}
