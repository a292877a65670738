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

	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmthttp "github.com/cometbft/cometbft/rpc/client/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ahmadzakiakmal/flightsurety/config"
	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/orchestrator"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

const (
	programName = "flightsurety-oracles"
)

var (
	globalFlags = struct {
		debug   bool
		network string
		oracles int
	}{}
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Run a simulated oracle pool against a FlightSurety ledger",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), true)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		StringVarP(&globalFlags.network, "network", "n", "", "network to connect to, overrides the config file")
	rootCmd.PersistentFlags().
		IntVar(&globalFlags.oracles, "oracles", 0, "number of simulated oracles, overrides the config file")

	rootCmd.AddCommand(registerCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func registerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register the oracle pool and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), false)
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if globalFlags.network != "" {
		cfg.Network = globalFlags.network
	}
	if globalFlags.oracles > 0 {
		cfg.Orchestrator.Oracles = globalFlags.oracles
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (cmtlog.Logger, error) {
	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	if globalFlags.debug {
		level = "debug"
	}
	return cmtflags.ParseLogLevel(level, logger, "info")
}

func setupTracing(enabled bool) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func run(ctx context.Context, serve bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	logger = logger.With("module", "oracles")

	shutdownTracing, err := setupTracing(cfg.Orchestrator.Trace)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Flushing traces", "err", err)
		}
	}()

	network, err := cfg.Active()
	if err != nil {
		return err
	}
	_, engine, err := cfg.Components()
	if err != nil {
		return err
	}

	logger.Info("Connecting to CometBFT RPC", "address", network.LedgerURL)
	rpcClient, err := cmthttp.NewWithClient(
		network.LedgerURL,
		&http.Client{
			Timeout: cfg.Orchestrator.RequestTimeout,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create CometBFT client: %w", err)
	}
	if err := rpcClient.Start(); err != nil {
		return fmt.Errorf("failed to start CometBFT client: %w", err)
	}
	defer func() {
		if err := rpcClient.Stop(); err != nil {
			logger.Error("Stopping CometBFT client", "err", err)
		}
	}()
	l := ledger.NewRPC(rpcClient)

	var params surety.Params
	if err := l.Query(ctx, surety.QueryParams, &params); err != nil {
		return fmt.Errorf("failed to read ledger parameters: %w", err)
	}
	fee, err := surety.ParseAmount(params.RegistrationFee)
	if err != nil {
		return fmt.Errorf("invalid registration fee %q: %w", params.RegistrationFee, err)
	}

	promRegistry := prometheus.NewRegistry()
	o, err := orchestrator.New(orchestrator.Config{
		Engine:              engine,
		Fee:                 fee,
		Seed:                cfg.Orchestrator.Seed,
		Oracles:             cfg.Orchestrator.Oracles,
		RegisterConcurrency: cfg.Orchestrator.RegisterConcurrency,
		Dispatcher: orchestrator.DispatcherConfig{
			Workers:    cfg.Orchestrator.Workers,
			RateLimit:  cfg.Orchestrator.RateLimit,
			Burst:      cfg.Orchestrator.Burst,
			DedupeSize: cfg.Orchestrator.DedupeSize,
			DedupeTTL:  cfg.Orchestrator.DedupeTTL,
		},
	}, l, orchestrator.NewRandomStatus(uint64(time.Now().UnixNano())), logger, promRegistry)
	if err != nil {
		return err
	}

	if cfg.Orchestrator.MetricsAddr != "" && serve {
		metricsServer := &http.Server{
			Addr:              cfg.Orchestrator.MetricsAddr,
			Handler:           promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Starting metrics listener", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener error", "err", err)
			}
		}()
		defer metricsServer.Close()
	}

	report, err := o.Register(ctx)
	if err != nil {
		return err
	}
	for addr, ferr := range report.Failed {
		logger.Error("Oracle registration failed", "oracle", addr, "err", ferr)
	}
	for _, oracle := range o.Pool().Ready() {
		logger.Debug("Oracle ready", "oracle", oracle.Name, "address", oracle.Address(), "indexes", oracle.Indexes.String())
	}
	if !serve {
		return nil
	}

	logger.Info("Serving oracle requests", "oracles", len(o.Pool().Ready()), "engine", engine)
	return o.Run(ctx)
}
