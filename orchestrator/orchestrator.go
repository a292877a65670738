// Package orchestrator simulates a pool of independent oracles: it registers
// them on the ledger, answers every oracle request addressed to their labels
// and reports the statuses the ledger settles on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// Config configures an Orchestrator.
type Config struct {
	Engine surety.Address
	// Fee is attached to each oracle registration.
	Fee *uint256.Int
	// Seed derives the oracle keys; the same seed yields the same identities.
	Seed    string
	Oracles int
	// RegisterConcurrency bounds parallel registrations.
	RegisterConcurrency int
	Dispatcher          DispatcherConfig
}

// Orchestrator owns an oracle pool and the loops driving it.
type Orchestrator struct {
	config  Config
	ledger  ledger.Ledger
	pool    *Pool
	source  StatusSource
	logger  cmtlog.Logger
	metrics orchestratorMetrics
}

// New builds an orchestrator. A nil source defaults to RandomStatus.
func New(config Config, l ledger.Ledger, source StatusSource, logger cmtlog.Logger, promRegistry prometheus.Registerer) (*Orchestrator, error) {
	if !config.Engine.Valid() {
		return nil, fmt.Errorf("invalid engine address %q", config.Engine)
	}
	if config.Oracles <= 0 {
		return nil, errors.New("oracle pool must not be empty")
	}
	if config.Fee == nil {
		config.Fee = surety.EtherAmount(1)
	}
	if config.Seed == "" {
		config.Seed = "oracle"
	}
	if source == nil {
		source = NewRandomStatus(uint64(config.Oracles))
	}
	o := &Orchestrator{
		config: config,
		ledger: l,
		pool:   NewPool(l, config.Seed, config.Oracles),
		source: source,
		logger: logger,
	}
	o.metrics.init(promRegistry)
	return o, nil
}

// Pool returns the oracle pool.
func (o *Orchestrator) Pool() *Pool {
	return o.pool
}

// Register enrolls the pool and fails only if no oracle ends up ready.
func (o *Orchestrator) Register(ctx context.Context) (*RegistrationReport, error) {
	report := o.pool.Register(ctx, o.config.Engine, o.config.Fee, o.config.RegisterConcurrency, o.logger)
	ready := len(o.pool.Ready())
	o.metrics.oraclesRegistered.Set(float64(ready))
	o.logger.Info("Oracle pool registered",
		"registered", report.Registered,
		"recovered", report.Recovered,
		"failed", len(report.Failed),
	)
	if ready == 0 {
		return report, errors.New("no oracle could be registered")
	}
	return report, nil
}

// Run subscribes to the ledger and serves oracle requests until ctx is done.
// Register must have been called first.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests, err := o.ledger.Subscribe(ctx, surety.EventRequestOpened)
	if err != nil {
		return err
	}
	outcomes, err := o.ledger.Subscribe(ctx, surety.EventOracleReported, surety.EventFlightStatusFinalized)
	if err != nil {
		return err
	}

	dispatcher := newDispatcher(o.pool, o.config.Engine, o.source, o.config.Dispatcher, o.logger, &o.metrics)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(ctx, requests)
	})
	g.Go(func() error {
		return observe(ctx, outcomes, o.logger, &o.metrics)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
