package surety

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/ahmadzakiakmal/flightsurety/store"
)

// Registry holds the canonical facts: airlines, flights, policies and the
// operational flag. It enforces roles and invariants but performs no voting.
type Registry struct{}

// NewRegistry returns a Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// InitGenesis stores params, turns the registry on, authorizes the engine and
// registers the first airline.
func (r *Registry) InitGenesis(kv store.KVStore, params Params) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid genesis params: %w", err)
	}
	if err := store.SetJSON(kv, keyParams, params); err != nil {
		return err
	}
	if err := kv.Set(keyOperational, []byte("1")); err != nil {
		return err
	}
	if err := kv.Set(keyAuthorized(params.EngineAddress), []byte("1")); err != nil {
		return err
	}
	first := Airline{
		Address:      params.FirstAirline,
		Name:         params.FirstAirlineName,
		IsRegistered: true,
		FundedAmount: "0",
	}
	if err := store.SetJSON(kv, keyAirline(first.Address), first); err != nil {
		return err
	}
	return kv.Set(keyAirlineCount, []byte("1"))
}

// LoadParams reads the genesis params.
func LoadParams(kv store.KVStore) (*Params, error) {
	var p Params
	found, err := store.GetJSON(kv, keyParams, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("params not initialised")
	}
	return &p, nil
}

// IsOperational reports the global operational flag.
func (r *Registry) IsOperational(kv store.KVStore) (bool, error) {
	v, err := kv.Get(keyOperational)
	if err != nil {
		return false, err
	}
	return string(v) == "1", nil
}

func (r *Registry) requireOperational(ctx *Context) error {
	ok, err := r.IsOperational(ctx.Store)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOperational
	}
	return nil
}

func (r *Registry) requireOwner(ctx *Context) error {
	if ctx.Caller != ctx.Params.Owner {
		return wrap(ErrUnauthorized, "caller %s is not contract owner", ctx.Caller)
	}
	return nil
}

func (r *Registry) requireAuthorized(ctx *Context) error {
	ok, err := r.IsAuthorized(ctx.Store, ctx.Caller)
	if err != nil {
		return err
	}
	if !ok {
		return wrap(ErrUnauthorized, "caller %s is not authorized", ctx.Caller)
	}
	return nil
}

// SetOperatingStatus toggles the operational flag. Owner only, allowed while paused.
func (r *Registry) SetOperatingStatus(ctx *Context, operational bool) error {
	if err := r.requireOwner(ctx); err != nil {
		return err
	}
	v := "0"
	if operational {
		v = "1"
	}
	if err := ctx.Store.Set(keyOperational, []byte(v)); err != nil {
		return err
	}
	ctx.Emit(newEvent(EventOperatingStatus, "operational", strconv.FormatBool(operational)))
	return nil
}

// IsAuthorized reports whether a may call privileged registry operations.
func (r *Registry) IsAuthorized(kv store.KVStore, a Address) (bool, error) {
	v, err := kv.Get(keyAuthorized(a))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// AuthorizeCaller grants a the privileged caller role. Owner only.
func (r *Registry) AuthorizeCaller(ctx *Context, a Address) error {
	if err := r.requireOperational(ctx); err != nil {
		return err
	}
	if err := r.requireOwner(ctx); err != nil {
		return err
	}
	if !a.Valid() {
		return wrap(ErrInvalidTransaction, "invalid address %q", a)
	}
	return ctx.Store.Set(keyAuthorized(a), []byte("1"))
}

// DeauthorizeCaller revokes the privileged caller role. Owner only.
func (r *Registry) DeauthorizeCaller(ctx *Context, a Address) error {
	if err := r.requireOperational(ctx); err != nil {
		return err
	}
	if err := r.requireOwner(ctx); err != nil {
		return err
	}
	return ctx.Store.Delete(keyAuthorized(a))
}

// RegisterAirline adds candidate to the registry. It returns false when the
// candidate was already registered. Authorized callers only.
func (r *Registry) RegisterAirline(ctx *Context, candidate Address, name string) (bool, error) {
	if err := r.requireOperational(ctx); err != nil {
		return false, err
	}
	if err := r.requireAuthorized(ctx); err != nil {
		return false, err
	}
	existing, err := r.Airline(ctx.Store, candidate)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	count, err := r.AirlineCount(ctx.Store)
	if err != nil {
		return false, err
	}

	airline := Airline{
		Address:      candidate,
		Name:         name,
		IsRegistered: true,
		FundedAmount: "0",
	}
	if err := store.SetJSON(ctx.Store, keyAirline(candidate), airline); err != nil {
		return false, err
	}
	if err := ctx.Store.Set(keyAirlineCount, []byte(strconv.Itoa(count+1))); err != nil {
		return false, err
	}
	ctx.Emit(newEvent(EventAirlineRegistered,
		"airline", string(candidate),
		"name", name,
	))
	return true, nil
}

// Airline returns the airline at a, or nil.
func (r *Registry) Airline(kv store.KVStore, a Address) (*Airline, error) {
	var airline Airline
	found, err := store.GetJSON(kv, keyAirline(a), &airline)
	if err != nil || !found {
		return nil, err
	}
	return &airline, nil
}

// IsAirline reports whether a is a registered airline.
func (r *Registry) IsAirline(kv store.KVStore, a Address) (bool, error) {
	airline, err := r.Airline(kv, a)
	if err != nil {
		return false, err
	}
	return airline != nil && airline.IsRegistered, nil
}

// IsFunded reports whether a is a registered airline that met the funding threshold.
func (r *Registry) IsFunded(kv store.KVStore, params *Params, a Address) (bool, error) {
	airline, err := r.Airline(kv, a)
	if err != nil {
		return false, err
	}
	return airline.Funded(params.fundingThreshold()), nil
}

// AirlineCount returns the number of registered airlines.
func (r *Registry) AirlineCount(kv store.KVStore) (int, error) {
	v, err := kv.Get(keyAirlineCount)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return strconv.Atoi(string(v))
}

// Fund adds the attached value to the caller's funding. The airline becomes
// funded once the cumulative amount reaches the threshold and stays funded.
func (r *Registry) Fund(ctx *Context) error {
	if err := r.requireOperational(ctx); err != nil {
		return err
	}
	airline, err := r.Airline(ctx.Store, ctx.Caller)
	if err != nil {
		return err
	}
	if airline == nil || !airline.IsRegistered {
		return wrap(ErrUnauthorized, "caller %s is not a registered airline", ctx.Caller)
	}
	if ctx.Value.IsZero() {
		return wrap(ErrInvalidTransaction, "funding amount must be positive")
	}
	current, err := ParseAmount(airline.FundedAmount)
	if err != nil {
		return err
	}
	total, overflow := new(uint256.Int).AddOverflow(current, ctx.Value)
	if overflow {
		return wrap(ErrInvalidTransaction, "funding amount overflows")
	}
	airline.FundedAmount = total.Dec()
	if !total.Lt(ctx.Params.fundingThreshold()) {
		airline.IsFunded = true
	}
	if err := store.SetJSON(ctx.Store, keyAirline(airline.Address), airline); err != nil {
		return err
	}
	ctx.Emit(newEvent(EventAirlineFunded,
		"airline", string(airline.Address),
		"amount", ctx.Value.Dec(),
		"total", airline.FundedAmount,
		"funded", strconv.FormatBool(airline.IsFunded),
	))
	return nil
}

// RegisterFlight creates a flight for the calling airline, which must be funded.
func (r *Registry) RegisterFlight(ctx *Context, code string, timestamp int64) (*Flight, error) {
	if err := r.requireOperational(ctx); err != nil {
		return nil, err
	}
	funded, err := r.IsFunded(ctx.Store, ctx.Params, ctx.Caller)
	if err != nil {
		return nil, err
	}
	if !funded {
		return nil, ErrNotFunded
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, wrap(ErrInvalidTransaction, "flight code is required")
	}
	key := FlightKey(ctx.Caller, code, timestamp)
	existing, err := r.Flight(ctx.Store, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrFlightExists
	}
	flight := Flight{
		Key:           key,
		Airline:       ctx.Caller,
		Code:          code,
		Timestamp:     timestamp,
		StatusCode:    StatusUnknown,
		UpdatedHeight: ctx.Height,
	}
	if err := store.SetJSON(ctx.Store, keyFlight(key), flight); err != nil {
		return nil, err
	}
	ctx.Emit(newEvent(EventFlightRegistered,
		"flight_key", key,
		"airline", string(flight.Airline),
		"flight", flight.Code,
		"timestamp", itoa(timestamp),
	))
	return &flight, nil
}

// Flight returns the flight stored under key, or nil.
func (r *Registry) Flight(kv store.KVStore, key string) (*Flight, error) {
	var f Flight
	found, err := store.GetJSON(kv, keyFlight(key), &f)
	if err != nil || !found {
		return nil, err
	}
	return &f, nil
}

// SetFlightStatus records the agreed status of a flight. Authorized callers only.
func (r *Registry) SetFlightStatus(ctx *Context, key string, code StatusCode) error {
	if err := r.requireOperational(ctx); err != nil {
		return err
	}
	if err := r.requireAuthorized(ctx); err != nil {
		return err
	}
	if !code.Valid() {
		return wrap(ErrInvalidStatusCode, "%d", code)
	}
	flight, err := r.Flight(ctx.Store, key)
	if err != nil {
		return err
	}
	if flight == nil {
		return ErrUnknownFlight
	}
	flight.StatusCode = code
	flight.UpdatedHeight = ctx.Height
	return store.SetJSON(ctx.Store, keyFlight(key), flight)
}

// BuyInsurance insures the caller on a registered flight for the attached value.
func (r *Registry) BuyInsurance(ctx *Context, flightKey string) (*Policy, error) {
	if err := r.requireOperational(ctx); err != nil {
		return nil, err
	}
	flight, err := r.Flight(ctx.Store, flightKey)
	if err != nil {
		return nil, err
	}
	if flight == nil {
		return nil, ErrUnknownFlight
	}
	if ctx.Value.IsZero() || ctx.Value.Gt(ctx.Params.maxPremium()) {
		return nil, ErrInvalidPremium
	}
	existing, err := r.Policy(ctx.Store, flightKey, ctx.Caller)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPolicyExists
	}
	policy := Policy{
		Passenger:  ctx.Caller,
		FlightKey:  flightKey,
		AmountPaid: ctx.Value.Dec(),
	}
	if err := store.SetJSON(ctx.Store, keyPolicy(flightKey, ctx.Caller), policy); err != nil {
		return nil, err
	}
	ctx.Emit(newEvent(EventInsurancePurchased,
		"passenger", string(policy.Passenger),
		"flight_key", flightKey,
		"amount", policy.AmountPaid,
	))
	return &policy, nil
}

// Policy returns the passenger's policy on a flight, or nil.
func (r *Registry) Policy(kv store.KVStore, flightKey string, passenger Address) (*Policy, error) {
	var p Policy
	found, err := store.GetJSON(kv, keyPolicy(flightKey, passenger), &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// PayoutEligible reports whether the passenger holds a policy on a flight that
// was finalized as late through the airline's fault.
func (r *Registry) PayoutEligible(kv store.KVStore, flightKey string, passenger Address) (bool, error) {
	policy, err := r.Policy(kv, flightKey, passenger)
	if err != nil || policy == nil {
		return false, err
	}
	flight, err := r.Flight(kv, flightKey)
	if err != nil || flight == nil {
		return false, err
	}
	return flight.StatusCode == StatusLateAirline, nil
}
