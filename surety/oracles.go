package surety

import (
	"github.com/ahmadzakiakmal/flightsurety/labels"
	"github.com/ahmadzakiakmal/flightsurety/store"
)

// OracleRegistry assigns each oracle a lifetime set of labels.
type OracleRegistry struct {
	registry *Registry
}

// NewOracleRegistry returns an oracle registry gated by registry's operational flag.
func NewOracleRegistry(registry *Registry) *OracleRegistry {
	return &OracleRegistry{registry: registry}
}

// Register enrolls ctx.Caller, staking the attached value.
func (o *OracleRegistry) Register(ctx *Context) (labels.Set, error) {
	if err := o.registry.requireOperational(ctx); err != nil {
		return labels.Set{}, err
	}
	if ctx.Value.Lt(ctx.Params.registrationFee()) {
		return labels.Set{}, ErrInsufficientStake
	}
	existing, err := o.Oracle(ctx.Store, ctx.Caller)
	if err != nil {
		return labels.Set{}, err
	}
	if existing != nil {
		return labels.Set{}, wrap(ErrAlreadyRegistered, "oracle %s", ctx.Caller)
	}

	oracle := Oracle{
		Address:       ctx.Caller,
		Indexes:       ctx.Drawer.Indexes(),
		HasRegistered: true,
	}
	if err := store.SetJSON(ctx.Store, keyOracle(oracle.Address), oracle); err != nil {
		return labels.Set{}, err
	}
	ctx.Emit(newEvent(EventOracleRegistered,
		"oracle", string(oracle.Address),
		"indexes", oracle.Indexes.String(),
	))
	return oracle.Indexes, nil
}

// Oracle returns the oracle record for a, or nil.
func (o *OracleRegistry) Oracle(kv store.KVStore, a Address) (*Oracle, error) {
	var oracle Oracle
	found, err := store.GetJSON(kv, keyOracle(a), &oracle)
	if err != nil || !found {
		return nil, err
	}
	return &oracle, nil
}

// Indexes returns the labels assigned to a.
func (o *OracleRegistry) Indexes(kv store.KVStore, a Address) (labels.Set, error) {
	oracle, err := o.Oracle(kv, a)
	if err != nil {
		return labels.Set{}, err
	}
	if oracle == nil || !oracle.HasRegistered {
		return labels.Set{}, ErrNotRegistered
	}
	return oracle.Indexes, nil
}
