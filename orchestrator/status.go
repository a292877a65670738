package orchestrator

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// StatusSource decides what an oracle reports for a request.
type StatusSource interface {
	Status(ctx context.Context, req surety.RequestOpened, oracle surety.Address) surety.StatusCode
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func(ctx context.Context, req surety.RequestOpened, oracle surety.Address) surety.StatusCode

func (f StatusFunc) Status(ctx context.Context, req surety.RequestOpened, oracle surety.Address) surety.StatusCode {
	return f(ctx, req, oracle)
}

// RandomStatus draws uniformly from every status code. It stands in for a
// real flight data feed.
type RandomStatus struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomStatus returns a generator seeded with seed.
func NewRandomStatus(seed uint64) *RandomStatus {
	return &RandomStatus{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *RandomStatus) Status(context.Context, surety.RequestOpened, surety.Address) surety.StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return surety.StatusCodes[r.rng.IntN(len(surety.StatusCodes))]
}
