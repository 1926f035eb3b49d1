// Command scheduler runs the dispatcher's upstream polling loop (C7),
// publishing accepted tasks to the broker and persisting their initial
// record, the monitor's reconciliation loop (C8), plus the HTTP read
// surface (C14) clients use to poll results.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alasbuild/testforge/pkg/api"
	"github.com/alasbuild/testforge/pkg/broker"
	"github.com/alasbuild/testforge/pkg/config"
	"github.com/alasbuild/testforge/pkg/log"
	"github.com/alasbuild/testforge/pkg/metrics"
	"github.com/alasbuild/testforge/pkg/monitor"
	"github.com/alasbuild/testforge/pkg/scheduler"
	"github.com/alasbuild/testforge/pkg/storage"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "testforge scheduler: dispatcher, upstream poller, and HTTP result surface",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", os.Getenv(config.EnvVar), "Path to the YAML config file")
	rootCmd.PersistentFlags().String("listen-addr", ":8080", "HTTP listen address for /tasks/{task_id}/result and health endpoints")

	cobra.OnInitialize(initLogging)
	rootCmd.RunE = runScheduler
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runScheduler(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

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

	dispatcher := scheduler.New(b, store, cfg)
	poller := scheduler.NewPoller(dispatcher, cfg.UpstreamEndpoint, cfg.UpstreamToken)
	mon := monitor.New(store, results)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)
	go mon.Run(ctx)

	auth := api.NewAuthenticator(cfg.JWTSecret, cfg.HashingAlgorithm)
	srv := api.NewServer(store, results, auth)
	metrics.RegisterComponent("api", true, "")

	slog := log.WithComponent("cmd.scheduler")

	httpSrv := &http.Server{Addr: listenAddr, Handler: srv}
	go func() {
		slog.Info().Str("addr", listenAddr).Msg("scheduler HTTP surface listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)

	for {
		sig := <-sigCh
		if sig == syscall.SIGUSR1 {
			log.Info("SIGUSR1 received, requesting graceful poller and monitor shutdown")
			poller.RequestGracefulTerminate()
			mon.RequestGracefulTerminate()
			continue
		}
		log.Info("shutdown signal received, stopping scheduler")
		poller.RequestHardTerminate()
		poller.RequestGracefulTerminate()
		mon.RequestHardTerminate()
		mon.RequestGracefulTerminate()
		cancel()
		_ = httpSrv.Shutdown(context.Background())
		return nil
	}
}
