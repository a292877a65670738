package srvreg

import (
	"encoding/json"
	"fmt"

	"github.com/ahmadzakiakmal/flightsurety/labels"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// Registry operations.
const (
	OpSetOperatingStatus = "setOperatingStatus"
	OpAuthorizeCaller    = "authorizeCaller"
	OpDeauthorizeCaller  = "deauthorizeCaller"
	OpFund               = "fund"
	OpRegisterFlight     = "registerFlight"
	OpBuyInsurance       = "buy"
)

// Engine operations.
const (
	OpRegisterAirline      = "registerAirline"
	OpRegisterOracle       = "registerOracle"
	OpFetchFlightStatus    = "fetchFlightStatus"
	OpSubmitOracleResponse = "submitOracleResponse"
)

type SetOperatingStatusArgs struct {
	Operational bool `json:"operational"`
}

type AuthorizeCallerArgs struct {
	Address surety.Address `json:"address"`
}

type RegisterAirlineArgs struct {
	Candidate surety.Address `json:"candidate"`
	Name      string         `json:"name,omitempty"`
}

type RegisterFlightArgs struct {
	Flight    string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
}

// FlightArgs identifies a flight by its natural key.
type FlightArgs struct {
	Airline   surety.Address `json:"airline"`
	Flight    string         `json:"flight"`
	Timestamp int64          `json:"timestamp"`
}

type SubmitOracleResponseArgs struct {
	Index      labels.Label      `json:"index"`
	Airline    surety.Address    `json:"airline"`
	Flight     string            `json:"flight"`
	Timestamp  int64             `json:"timestamp"`
	StatusCode surety.StatusCode `json:"status_code"`
}

// RegisteredOracle is the result of OpRegisterOracle.
type RegisteredOracle struct {
	Indexes labels.Set `json:"indexes"`
}

// RegisterDefaultServices sets up
// the operations exposed by the registry and the engine
func (sr *ServiceRegistry) RegisterDefaultServices() {
	c := sr.contracts

	// Registry
	sr.RegisterHandler(ComponentRegistry, OpSetOperatingStatus, func(ctx *surety.Context, raw json.RawMessage) (any, error) {
		var args SetOperatingStatusArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, c.Registry.SetOperatingStatus(ctx, args.Operational)
	})
	sr.RegisterHandler(ComponentRegistry, OpAuthorizeCaller, func(ctx *surety.Context, raw json.RawMessage) (any, error) {
		var args AuthorizeCallerArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, c.Registry.AuthorizeCaller(ctx, surety.NormalizeAddress(string(args.Address)))
	})
	sr.RegisterHandler(ComponentRegistry, OpDeauthorizeCaller, func(ctx *surety.Context, raw json.RawMessage) (any, error) {
		var args AuthorizeCallerArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, c.Registry.DeauthorizeCaller(ctx, surety.NormalizeAddress(string(args.Address)))
	})
	sr.RegisterHandler(ComponentRegistry, OpFund, func(ctx *surety.Context, _ json.RawMessage) (any, error) {
		if err := c.Registry.Fund(ctx); err != nil {
			return nil, err
		}
		return c.Registry.Airline(ctx.Store, ctx.Caller)
	})
	sr.RegisterHandler(ComponentRegistry, OpRegisterFlight, func(ctx *surety.Context, raw json.RawMessage) (any, error) {
		var args RegisterFlightArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return c.Registry.RegisterFlight(ctx, args.Flight, args.Timestamp)
	})
	sr.RegisterHandler(ComponentRegistry, OpBuyInsurance, func(ctx *surety.Context, raw json.RawMessage) (any, error) {
		var args FlightArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		airline := surety.NormalizeAddress(string(args.Airline))
		return c.Registry.BuyInsurance(ctx, surety.FlightKey(airline, args.Flight, args.Timestamp))
	})

	// Engine
	sr.RegisterHandler(ComponentEngine, OpRegisterAirline, func(ctx *surety.Context, raw json.RawMessage) (any, error) {
		var args RegisterAirlineArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return c.Admission.RequestRegistration(ctx, surety.NormalizeAddress(string(args.Candidate)), args.Name)
	})
	sr.RegisterHandler(ComponentEngine, OpRegisterOracle, func(ctx *surety.Context, _ json.RawMessage) (any, error) {
		indexes, err := c.Oracles.Register(ctx)
		if err != nil {
			return nil, err
		}
		return RegisteredOracle{Indexes: indexes}, nil
	})
	sr.RegisterHandler(ComponentEngine, OpFetchFlightStatus, func(ctx *surety.Context, raw json.RawMessage) (any, error) {
		var args FlightArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return c.Status.RequestStatus(ctx, surety.NormalizeAddress(string(args.Airline)), args.Flight, args.Timestamp)
	})
	sr.RegisterHandler(ComponentEngine, OpSubmitOracleResponse, func(ctx *surety.Context, raw json.RawMessage) (any, error) {
		var args SubmitOracleResponseArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return c.Status.SubmitResponse(ctx,
			args.Index,
			surety.NormalizeAddress(string(args.Airline)),
			args.Flight,
			args.Timestamp,
			args.StatusCode,
		)
	})
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing arguments", surety.ErrInvalidTransaction)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", surety.ErrInvalidTransaction, err)
	}
	return nil
}
