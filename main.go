package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"

	"github.com/ahmadzakiakmal/flightsurety/app"
	fsconfig "github.com/ahmadzakiakmal/flightsurety/config"
	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/repository"
	"github.com/ahmadzakiakmal/flightsurety/server"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

var (
	homeDir    string
	httpPort   string
	configFile string
	noIndexer  bool
)

func init() {
	flag.StringVar(&homeDir, "cmt-home", "", "Path to the CometBFT config directory")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port")
	flag.StringVar(&configFile, "config", "", "Path to the deployment config file")
	flag.BoolVar(&noIndexer, "no-indexer", false, "Serve without the database read model")
}

func main() {
	// Load Config
	flag.Parse()

	deployment, err := fsconfig.Load(configFile)
	if err != nil {
		log.Fatalf("Loading deployment config: %v", err)
	}
	if homeDir == "" {
		homeDir = deployment.Node.Home
	}
	if httpPort == "" {
		httpPort = deployment.Node.HTTPPort
	}

	config := cfg.DefaultConfig()
	config.SetRoot(homeDir)
	viper.SetConfigFile(fmt.Sprintf("%s/%s", homeDir, "config/config.toml"))
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Reading config: %v", err)
	}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("Decoding config: %v", err)
	}
	if err := config.ValidateBasic(); err != nil {
		log.Fatalf("Invalid configuration data: %v", err)
	}

	// Initialize Badger DB
	badgerPath := filepath.Join(homeDir, "badger")
	db, err := badger.Open(badger.DefaultOptions(badgerPath))
	if err != nil {
		log.Fatalf("Opening database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("Closing database: %v", err)
		}
	}()

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(config.LogLevel, logger, cfg.DefaultLogLevel)
	if err != nil {
		log.Fatalf("failed to parse log level: %v", err)
	}

	// Create ABCI Application
	appConfig := &app.AppConfig{
		NodeID:    filepath.Base(homeDir), // Use directory name as node ID
		LogAllTxs: true,
	}
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())

	contracts := surety.New()
	serviceRegistry := srvreg.NewServiceRegistry(contracts, logger.With("module", "srvreg"))
	serviceRegistry.RegisterDefaultServices()

	app := app.NewABCIApplication(db, serviceRegistry, contracts, appConfig, logger.With("module", "surety"), promRegistry)

	// Private Validator
	pv := privval.LoadFilePV(
		config.PrivValidatorKeyFile(),
		config.PrivValidatorStateFile(),
	)

	// P2P network identity
	nodeKey, err := p2p.LoadNodeKey(config.NodeKeyFile())
	if err != nil {
		log.Fatalf("failed to load node's key: %v", err)
	}

	// Initialize CometBFT node
	node, err := nm.NewNode(
		context.Background(),
		config,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(app),
		nm.DefaultGenesisDocProviderFunc(config),
		cfg.DefaultDBProvider,
		nm.DefaultMetricsProvider(config.Instrumentation),
		logger,
	)
	if err != nil {
		log.Fatalf("Creating node: %v", err)
	}

	// Pass Node ID to app
	app.SetNodeID(string(node.NodeInfo().ID()))

	// Start CometBFT node
	if err := node.Start(); err != nil {
		log.Fatalf("Starting node: %v", err)
	}
	defer func() {
		node.Stop()
		node.Wait()
	}()

	// Instantiate rpc client from node
	rpcClient := cmtrpc.New(node)
	l := ledger.NewRPC(rpcClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Read model
	var repo *repository.Repository
	if !noIndexer {
		repo = repository.NewRepository(logger.With("module", "repository"))
		if err := repo.ConnectDB(deployment.Database.Driver, deployment.Database.DSN); err != nil {
			log.Fatalf("Connecting read model database: %v", err)
		}
		defer repo.Close()
		if err := repo.Migrate(); err != nil {
			log.Fatalf("Migrating read model database: %v", err)
		}
		indexer := repository.NewIndexer(repo, l, logger.With("module", "indexer"))
		go func() {
			if err := indexer.Run(ctx); err != nil {
				logger.Error("Indexer stopped", "err", err)
			}
		}()
	}

	// Start Web Server
	webserver := server.NewWebServer(server.Options{
		HTTPPort:       httpPort,
		NodeID:         string(node.NodeInfo().ID()),
		Ledger:         l,
		Chain:          rpcClient,
		Repository:     repo,
		Gatherer:       promRegistry,
		RequestTimeout: deployment.Orchestrator.RequestTimeout,
	}, logger.With("module", "server"))

	err = webserver.Start()
	if err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	cancel()

	// Create deadline to wait for server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Shutdown the web server
	err = webserver.Shutdown(shutdownCtx)
	if err != nil {
		logger.Error("Shutting down HTTP web server", "err", err)
	}
	logger.Info("HTTP web server gracefully stopped")
}
