package surety

import (
	"strconv"
	"strings"

	"github.com/ahmadzakiakmal/flightsurety/store"
)

// Admission is the outcome of a registration request.
type Admission string

const (
	Admitted    Admission = "admitted"
	PendingVote Admission = "pending_vote"
)

// AdmissionResult reports the outcome together with the tally at the time.
type AdmissionResult struct {
	Outcome  Admission `json:"outcome"`
	Votes    int       `json:"votes"`
	Required int       `json:"required"`
}

// AdmissionEngine gates airline registration. While the registry is small a
// single funded sponsor admits a candidate; from ConsensusThreshold airlines
// on, a majority of the current registry must vote for it.
type AdmissionEngine struct {
	registry *Registry
}

// NewAdmissionEngine returns an engine mutating registry.
func NewAdmissionEngine(registry *Registry) *AdmissionEngine {
	return &AdmissionEngine{registry: registry}
}

// RequestRegistration is called by ctx.Caller, the sponsor, on behalf of candidate.
func (e *AdmissionEngine) RequestRegistration(ctx *Context, candidate Address, name string) (*AdmissionResult, error) {
	if err := e.registry.requireOperational(ctx); err != nil {
		return nil, err
	}
	sponsor := ctx.Caller
	if !candidate.Valid() {
		return nil, wrap(ErrInvalidTransaction, "invalid candidate address %q", candidate)
	}

	funded, err := e.registry.IsFunded(ctx.Store, ctx.Params, sponsor)
	if err != nil {
		return nil, err
	}
	if !funded {
		return nil, ErrNotFunded
	}

	voted, err := e.HasVoted(ctx.Store, candidate, sponsor)
	if err != nil {
		return nil, err
	}
	registered, err := e.registry.IsAirline(ctx.Store, candidate)
	if err != nil {
		return nil, err
	}
	if registered {
		if voted {
			return nil, ErrDuplicateVote
		}
		return nil, wrap(ErrAlreadyRegistered, "airline %s", candidate)
	}

	n, err := e.registry.AirlineCount(ctx.Store)
	if err != nil {
		return nil, err
	}
	engineCtx := ctx.WithCaller(ctx.Params.EngineAddress)

	if n < ctx.Params.ConsensusThreshold {
		if _, err := e.registry.RegisterAirline(engineCtx, candidate, name); err != nil {
			return nil, err
		}
		return &AdmissionResult{Outcome: Admitted, Votes: 1, Required: 1}, nil
	}

	if voted {
		return nil, ErrDuplicateVote
	}
	if err := ctx.Store.Set(keyVote(candidate, sponsor), []byte("1")); err != nil {
		return nil, err
	}
	votes, err := e.Votes(ctx.Store, candidate)
	if err != nil {
		return nil, err
	}
	required := (n + 1) / 2
	ctx.Emit(newEvent(EventAirlineVoted,
		"candidate", string(candidate),
		"voter", string(sponsor),
		"votes", strconv.Itoa(len(votes)),
		"required", strconv.Itoa(required),
	))

	result := &AdmissionResult{Outcome: PendingVote, Votes: len(votes), Required: required}
	if len(votes) >= required {
		if _, err := e.registry.RegisterAirline(engineCtx, candidate, name); err != nil {
			return nil, err
		}
		result.Outcome = Admitted
	}
	return result, nil
}

// HasVoted reports whether voter already voted for candidate.
func (e *AdmissionEngine) HasVoted(kv store.KVStore, candidate, voter Address) (bool, error) {
	v, err := kv.Get(keyVote(candidate, voter))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// Votes returns the distinct voters for candidate in address order.
func (e *AdmissionEngine) Votes(kv store.KVStore, candidate Address) ([]Address, error) {
	prefix := prefixVotes(candidate)
	var voters []Address
	err := kv.Iterate(prefix, func(key, _ []byte) error {
		voters = append(voters, Address(strings.TrimPrefix(string(key), string(prefix))))
		return nil
	})
	return voters, err
}
