package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/ahmadzakiakmal/flightsurety/labels"
	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// Oracle is one simulated oracle identity.
type Oracle struct {
	Name    string
	Client  *ledger.Client
	Indexes labels.Set
	// Ready is set once the oracle holds labels on the ledger.
	Ready bool
}

func (o *Oracle) Address() surety.Address {
	return o.Client.Signer.Address()
}

// Pool is the set of oracle identities run by one orchestrator.
type Pool struct {
	mu      sync.RWMutex
	oracles []*Oracle
}

// NewPool derives size oracle keys from seed.
func NewPool(l ledger.Ledger, seed string, size int) *Pool {
	p := &Pool{oracles: make([]*Oracle, size)}
	for i := range p.oracles {
		name := fmt.Sprintf("%s-%d", seed, i)
		p.oracles[i] = &Oracle{
			Name:   name,
			Client: ledger.NewClient(l, ledger.SignerFromSecret(name)),
		}
	}
	return p
}

// Size returns the number of identities in the pool.
func (p *Pool) Size() int {
	return len(p.oracles)
}

// Ready returns the oracles holding labels.
func (p *Pool) Ready() []*Oracle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Oracle
	for _, o := range p.oracles {
		if o.Ready {
			out = append(out, o)
		}
	}
	return out
}

// Matching returns the ready oracles holding index.
func (p *Pool) Matching(index labels.Label) []*Oracle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Oracle
	for _, o := range p.oracles {
		if o.Ready && o.Indexes.Contains(index) {
			out = append(out, o)
		}
	}
	return out
}

// RegistrationReport summarises a Register run.
type RegistrationReport struct {
	Registered int
	Recovered  int
	Failed     map[surety.Address]error
}

// Register enrolls every oracle that is not ready yet, at most limit at a
// time. A failing oracle never aborts the others; an oracle that is already
// registered recovers its labels from the ledger.
func (p *Pool) Register(ctx context.Context, engine surety.Address, fee *uint256.Int, limit int, logger cmtlog.Logger) *RegistrationReport {
	report := &RegistrationReport{Failed: make(map[surety.Address]error)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, o := range p.oracles {
		p.mu.RLock()
		ready := o.Ready
		p.mu.RUnlock()
		if ready {
			continue
		}
		g.Go(func() error {
			indexes, recovered, err := register(ctx, o, engine, fee)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[o.Address()] = err
				logger.Error("Oracle registration failed", "oracle", o.Address(), "err", err)
				return nil
			}
			if recovered {
				report.Recovered++
			} else {
				report.Registered++
			}
			p.mu.Lock()
			o.Indexes = indexes
			o.Ready = true
			p.mu.Unlock()
			logger.Info("Oracle registered", "oracle", o.Address(), "indexes", indexes.String(), "recovered", recovered)
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func register(ctx context.Context, o *Oracle, engine surety.Address, fee *uint256.Int) (labels.Set, bool, error) {
	receipt, err := o.Client.Call(ctx, engine, srvreg.OpRegisterOracle, nil, fee)
	if err == nil {
		var res srvreg.RegisteredOracle
		if err := receipt.Decode(&res); err != nil {
			return labels.Set{}, false, err
		}
		return res.Indexes, false, nil
	}
	if !errors.Is(err, surety.ErrAlreadyRegistered) {
		return labels.Set{}, false, err
	}

	var existing surety.OracleIndexes
	if err := o.Client.Ledger.Query(ctx, surety.QueryOracle+string(o.Address()), &existing); err != nil {
		return labels.Set{}, false, fmt.Errorf("recovering labels: %w", err)
	}
	return existing.Indexes, true, nil
}
