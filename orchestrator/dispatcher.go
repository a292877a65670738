package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

const tracerName = "github.com/ahmadzakiakmal/flightsurety/orchestrator"

type job struct {
	request    surety.RequestOpened
	oracle     *Oracle
	dispatched time.Time
}

// Dispatcher turns oracle requests into oracle responses. Each request fans
// out to one job per matching oracle; a fixed set of workers drains the jobs.
type Dispatcher struct {
	pool    *Pool
	engine  surety.Address
	source  StatusSource
	workers int
	limiter *rate.Limiter
	seen    *lru.Cache[string, time.Time]
	ttl     time.Duration
	logger  cmtlog.Logger
	metrics *orchestratorMetrics
	tracer  trace.Tracer
}

// DispatcherConfig sizes a Dispatcher.
type DispatcherConfig struct {
	// Workers defaults to the pool size.
	Workers int
	// RateLimit caps submissions per second; zero disables the limit.
	RateLimit float64
	Burst     int
	// DedupeSize and DedupeTTL bound the memory of already handled requests.
	DedupeSize int
	DedupeTTL  time.Duration
}

func newDispatcher(pool *Pool, engine surety.Address, source StatusSource, cfg DispatcherConfig, logger cmtlog.Logger, metrics *orchestratorMetrics) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = pool.Size()
	}
	if workers <= 0 {
		workers = 1
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = workers
	}
	size := cfg.DedupeSize
	if size <= 0 {
		size = 4096
	}
	ttl := cfg.DedupeTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	// Entries age out on lookup.
	seen, _ := lru.New[string, time.Time](size)
	return &Dispatcher{
		pool:    pool,
		engine:  engine,
		source:  source,
		workers: workers,
		limiter: rate.NewLimiter(limit, burst),
		seen:    seen,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Run consumes requests until ctx is done or the channel closes, then waits
// for in-flight jobs.
func (d *Dispatcher) Run(ctx context.Context, requests <-chan ledger.Notification) error {
	jobs := make(chan job, d.workers)
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				d.submit(ctx, j)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-requests:
			if !ok {
				return nil
			}
			if !d.dispatch(ctx, n, jobs) {
				return ctx.Err()
			}
		}
	}
}

// dispatch queues the jobs of one request. It returns false when ctx ended
// while queueing.
func (d *Dispatcher) dispatch(ctx context.Context, n ledger.Notification, jobs chan<- job) bool {
	req, err := surety.ParseRequestOpened(n.Event)
	if err != nil {
		d.logger.Error("Malformed oracle request", "tx", n.TxHash, "err", err)
		return true
	}
	d.metrics.requestsSeen.Inc()

	// A redelivered event carries the same tx hash; a new fetch of the same
	// flight does not.
	dedupeKey := n.TxHash + "/" + req.Key()
	if d.redelivered(dedupeKey, time.Now()) {
		d.metrics.duplicateRequests.Inc()
		d.logger.Debug("Skipping redelivered oracle request", "key", req.Key(), "tx", n.TxHash)
		return true
	}

	matching := d.pool.Matching(req.Index)
	d.logger.Info("Oracle request",
		"index", req.Index,
		"airline", req.Airline,
		"flight", req.Flight,
		"timestamp", req.Timestamp,
		"oracles", len(matching),
	)
	now := time.Now()
	for _, o := range matching {
		select {
		case jobs <- job{request: req, oracle: o, dispatched: now}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// redelivered reports whether key was handled within the TTL, and marks it
// handled at now otherwise.
func (d *Dispatcher) redelivered(key string, now time.Time) bool {
	if at, ok := d.seen.Get(key); ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen.Add(key, now)
	return false
}

func (d *Dispatcher) submit(ctx context.Context, j job) {
	if err := d.limiter.Wait(ctx); err != nil {
		d.metrics.submissions.WithLabelValues("cancelled").Inc()
		return
	}

	oracle := j.oracle.Address()
	ctx, span := d.tracer.Start(ctx, "orchestrator.submit", trace.WithAttributes(
		attribute.String("oracle", string(oracle)),
		attribute.Int("index", int(j.request.Index)),
		attribute.String("flight", j.request.Flight),
	))
	defer span.End()

	code := d.source.Status(ctx, j.request, oracle)
	span.SetAttributes(attribute.Int("status_code", int(code)))
	_, err := j.oracle.Client.Call(ctx, d.engine, srvreg.OpSubmitOracleResponse, srvreg.SubmitOracleResponseArgs{
		Index:      j.request.Index,
		Airline:    j.request.Airline,
		Flight:     j.request.Flight,
		Timestamp:  j.request.Timestamp,
		StatusCode: code,
	}, nil)
	d.metrics.submitLatency.Observe(time.Since(j.dispatched).Seconds())

	switch {
	case err == nil:
		d.metrics.submissions.WithLabelValues("accepted").Inc()
		d.logger.Debug("Oracle response submitted", "oracle", oracle, "flight", j.request.Flight, "status", code)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.metrics.submissions.WithLabelValues("cancelled").Inc()
	case errors.Is(err, surety.ErrUnknownRequest):
		// The request was pruned before this oracle got to it.
		d.metrics.submissions.WithLabelValues("rejected").Inc()
		d.logger.Debug("Oracle response too late", "oracle", oracle, "flight", j.request.Flight)
	default:
		d.metrics.submissions.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		d.logger.Error("Oracle response failed", "oracle", oracle, "flight", j.request.Flight, "err", err, "retryable", surety.IsRetryable(err))
	}
}
