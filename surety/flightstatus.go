package surety

import (
	"errors"
	"strconv"
	"strings"

	"github.com/ahmadzakiakmal/flightsurety/labels"
	"github.com/ahmadzakiakmal/flightsurety/store"
)

// StatusEngine resolves flight status from independent oracle responses. The
// first status code reported by MinResponses distinct oracles wins.
type StatusEngine struct {
	registry *Registry
	oracles  *OracleRegistry
}

// NewStatusEngine wires the engine to the registry it finalizes into and the
// oracle registry it validates responders against.
func NewStatusEngine(registry *Registry, oracles *OracleRegistry) *StatusEngine {
	return &StatusEngine{registry: registry, oracles: oracles}
}

// RequestStatus opens a status request for a registered flight and signals
// the oracles holding the drawn index.
func (e *StatusEngine) RequestStatus(ctx *Context, airline Address, flight string, timestamp int64) (*OracleRequest, error) {
	if err := e.registry.requireOperational(ctx); err != nil {
		return nil, err
	}
	f, err := e.registry.Flight(ctx.Store, FlightKey(airline, flight, timestamp))
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrUnknownFlight
	}

	index := ctx.Drawer.Index()
	key := RequestKey(index, airline, flight, timestamp)
	req, err := e.Request(ctx.Store, key)
	if err != nil {
		return nil, err
	}
	if req == nil || req.State == RequestResolved {
		if req != nil {
			if err := ctx.Store.Delete(keyResolved(req.ResolvedHeight, key)); err != nil {
				return nil, err
			}
		}
		req = &OracleRequest{
			Key:          key,
			Index:        index,
			Airline:      airline,
			Flight:       flight,
			Timestamp:    timestamp,
			Requester:    ctx.Caller,
			State:        RequestOpen,
			OpenedHeight: ctx.Height,
			Responses:    map[StatusCode]map[Address]struct{}{},
		}
		if err := store.SetJSON(ctx.Store, keyRequest(key), req); err != nil {
			return nil, err
		}
	}

	ctx.Emit(RequestOpened{
		Index:     index,
		Airline:   airline,
		Flight:    flight,
		Timestamp: timestamp,
	}.Event())
	return req, nil
}

// SubmitResponse records ctx.Caller's report. Reports after resolution, and
// repeated reports from the same oracle, succeed without changing the outcome.
func (e *StatusEngine) SubmitResponse(ctx *Context, index labels.Label, airline Address, flight string, timestamp int64, code StatusCode) (*OracleRequest, error) {
	if err := e.registry.requireOperational(ctx); err != nil {
		return nil, err
	}
	oracle := ctx.Caller
	assigned, err := e.oracles.Indexes(ctx.Store, oracle)
	if err != nil && !errors.Is(err, ErrNotRegistered) {
		return nil, err
	}
	if err != nil || !assigned.Contains(index) {
		return nil, ErrIndexMismatch
	}
	if !code.Valid() {
		return nil, wrap(ErrInvalidStatusCode, "%d", code)
	}

	key := RequestKey(index, airline, flight, timestamp)
	req, err := e.Request(ctx.Store, key)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrUnknownRequest
	}

	fresh := !req.Reported(oracle)
	if fresh {
		if req.Responses == nil {
			req.Responses = map[StatusCode]map[Address]struct{}{}
		}
		if req.Responses[code] == nil {
			req.Responses[code] = map[Address]struct{}{}
		}
		req.Responses[code][oracle] = struct{}{}
	}

	// The report that decides a request precedes its finalized event.
	ctx.Emit(OracleReported{
		RequestKey: key,
		Oracle:     oracle,
		Airline:    airline,
		Flight:     flight,
		Timestamp:  timestamp,
		StatusCode: code,
	}.Event())

	if !fresh {
		return req, nil
	}
	if req.State == RequestOpen && req.Tally(code) >= ctx.Params.MinResponses {
		if err := e.finalize(ctx, req, code); err != nil {
			return nil, err
		}
	}
	if err := store.SetJSON(ctx.Store, keyRequest(key), req); err != nil {
		return nil, err
	}
	return req, nil
}

func (e *StatusEngine) finalize(ctx *Context, req *OracleRequest, code StatusCode) error {
	engineCtx := ctx.WithCaller(ctx.Params.EngineAddress)
	flightKey := FlightKey(req.Airline, req.Flight, req.Timestamp)
	if err := e.registry.SetFlightStatus(engineCtx, flightKey, code); err != nil {
		return err
	}
	req.State = RequestResolved
	req.ResolvedCode = code
	req.ResolvedHeight = ctx.Height
	if err := ctx.Store.Set(keyResolved(ctx.Height, req.Key), nil); err != nil {
		return err
	}
	ctx.Emit(FlightStatusFinalized{
		Airline:    req.Airline,
		Flight:     req.Flight,
		Timestamp:  req.Timestamp,
		StatusCode: code,
	}.Event())
	return nil
}

// Request returns the request stored under key, or nil.
func (e *StatusEngine) Request(kv store.KVStore, key string) (*OracleRequest, error) {
	var req OracleRequest
	found, err := store.GetJSON(kv, keyRequest(key), &req)
	if err != nil || !found {
		return nil, err
	}
	return &req, nil
}

// Prune evicts requests resolved at or before height-retention. It returns
// the number of evicted requests.
func (e *StatusEngine) Prune(kv store.KVStore, height, retention int64) (int, error) {
	cutoff := height - retention
	if cutoff <= 0 {
		return 0, nil
	}
	prefix := prefixResolved()
	var expired [][]byte
	var requests []string
	err := kv.Iterate(prefix, func(key, _ []byte) error {
		rest := strings.TrimPrefix(string(key), string(prefix))
		heightPart, reqKey, ok := strings.Cut(rest, "/")
		if !ok {
			return nil
		}
		resolvedAt, err := strconv.ParseInt(heightPart, 10, 64)
		if err != nil {
			return nil
		}
		if resolvedAt > cutoff {
			return errStopIteration
		}
		expired = append(expired, key)
		requests = append(requests, reqKey)
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return 0, err
	}
	for i, k := range expired {
		if err := kv.Delete(k); err != nil {
			return 0, err
		}
		if err := kv.Delete(keyRequest(requests[i])); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

var errStopIteration = errors.New("stop iteration")
