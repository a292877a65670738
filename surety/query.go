package surety

import (
	"strings"

	"github.com/ahmadzakiakmal/flightsurety/labels"
	"github.com/ahmadzakiakmal/flightsurety/store"
)

// Query paths served by Contracts.Query.
const (
	QueryOperational = "/operational"
	QueryParams      = "/params"
	QueryAirline     = "/airline/"
	QueryVotes       = "/votes/"
	QueryFlight      = "/flight/"
	QueryOracle      = "/oracle/"
	QueryRequest     = "/request/"
	QueryPolicy      = "/policy/"
)

// OperationalStatus is the answer to QueryOperational.
type OperationalStatus struct {
	Operational bool `json:"operational"`
}

// OracleIndexes is the answer to QueryOracle.
type OracleIndexes struct {
	Oracle  Address    `json:"oracle"`
	Indexes labels.Set `json:"indexes"`
}

// VoteTally is the answer to QueryVotes.
type VoteTally struct {
	Candidate  Address   `json:"candidate"`
	Voters     []Address `json:"voters"`
	Registered bool      `json:"registered"`
}

// PolicyStatus is the answer to QueryPolicy.
type PolicyStatus struct {
	Policy         *Policy `json:"policy"`
	PayoutEligible bool    `json:"payout_eligible"`
}

// Query answers a read-only lookup against committed state.
func (c *Contracts) Query(kv store.KVStore, path string) (any, error) {
	switch {
	case path == QueryOperational:
		ok, err := c.Registry.IsOperational(kv)
		if err != nil {
			return nil, err
		}
		return OperationalStatus{Operational: ok}, nil

	case path == QueryParams:
		return LoadParams(kv)

	case strings.HasPrefix(path, QueryAirline):
		airline, err := c.Registry.Airline(kv, NormalizeAddress(strings.TrimPrefix(path, QueryAirline)))
		if err != nil {
			return nil, err
		}
		if airline == nil {
			return nil, ErrNotFound
		}
		return airline, nil

	case strings.HasPrefix(path, QueryVotes):
		candidate := NormalizeAddress(strings.TrimPrefix(path, QueryVotes))
		voters, err := c.Admission.Votes(kv, candidate)
		if err != nil {
			return nil, err
		}
		registered, err := c.Registry.IsAirline(kv, candidate)
		if err != nil {
			return nil, err
		}
		return VoteTally{Candidate: candidate, Voters: voters, Registered: registered}, nil

	case strings.HasPrefix(path, QueryFlight):
		flight, err := c.Registry.Flight(kv, strings.TrimPrefix(path, QueryFlight))
		if err != nil {
			return nil, err
		}
		if flight == nil {
			return nil, ErrNotFound
		}
		return flight, nil

	case strings.HasPrefix(path, QueryOracle):
		oracle := NormalizeAddress(strings.TrimPrefix(path, QueryOracle))
		indexes, err := c.Oracles.Indexes(kv, oracle)
		if err != nil {
			return nil, err
		}
		return OracleIndexes{Oracle: oracle, Indexes: indexes}, nil

	case strings.HasPrefix(path, QueryRequest):
		req, err := c.Status.Request(kv, strings.TrimPrefix(path, QueryRequest))
		if err != nil {
			return nil, err
		}
		if req == nil {
			return nil, ErrUnknownRequest
		}
		return req, nil

	case strings.HasPrefix(path, QueryPolicy):
		passenger, flightKey, ok := strings.Cut(strings.TrimPrefix(path, QueryPolicy), "/")
		if !ok {
			return nil, wrap(ErrNotFound, "expected %s<passenger>/<flight key>", QueryPolicy)
		}
		addr := NormalizeAddress(passenger)
		policy, err := c.Registry.Policy(kv, flightKey, addr)
		if err != nil {
			return nil, err
		}
		if policy == nil {
			return nil, ErrNotFound
		}
		eligible, err := c.Registry.PayoutEligible(kv, flightKey, addr)
		if err != nil {
			return nil, err
		}
		return PolicyStatus{Policy: policy, PayoutEligible: eligible}, nil
	}
	return nil, wrap(ErrNotFound, "unknown query path %q", path)
}
