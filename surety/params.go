package surety

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Params are fixed at genesis and carried in the CometBFT app_state.
type Params struct {
	Owner            Address `json:"owner"`
	FirstAirline     Address `json:"first_airline"`
	FirstAirlineName string  `json:"first_airline_name"`
	RegistryAddress  Address `json:"registry_address"`
	EngineAddress    Address `json:"engine_address"`

	FundingThreshold string `json:"funding_threshold"`
	RegistrationFee  string `json:"registration_fee"`
	MaxPremium       string `json:"max_premium"`

	// ConsensusThreshold is the registry size from which admission needs votes.
	ConsensusThreshold int `json:"consensus_threshold"`
	// MinResponses is the oracle quorum for a status code.
	MinResponses int `json:"min_responses"`
	// RequestRetentionBlocks is how long resolved requests are kept.
	RequestRetentionBlocks int64 `json:"request_retention_blocks"`
}

// DefaultParams mirrors the amounts of the original dapp: 10 ether funding,
// 1 ether oracle fee, 1 ether premium cap.
func DefaultParams(owner, firstAirline, registry, engine Address) Params {
	return Params{
		Owner:                  owner,
		FirstAirline:           firstAirline,
		FirstAirlineName:       "FlyRed",
		RegistryAddress:        registry,
		EngineAddress:          engine,
		FundingThreshold:       EtherAmount(10).Dec(),
		RegistrationFee:        EtherAmount(1).Dec(),
		MaxPremium:             EtherAmount(1).Dec(),
		ConsensusThreshold:     4,
		MinResponses:           3,
		RequestRetentionBlocks: 1000,
	}
}

// Validate checks addresses and amounts.
func (p *Params) Validate() error {
	for name, a := range map[string]Address{
		"owner":            p.Owner,
		"first_airline":    p.FirstAirline,
		"registry_address": p.RegistryAddress,
		"engine_address":   p.EngineAddress,
	} {
		if !a.Valid() {
			return fmt.Errorf("invalid %s %q", name, a)
		}
	}
	if p.RegistryAddress == p.EngineAddress {
		return errors.New("registry and engine addresses must differ")
	}
	for name, s := range map[string]string{
		"funding_threshold": p.FundingThreshold,
		"registration_fee":  p.RegistrationFee,
		"max_premium":       p.MaxPremium,
	} {
		if _, err := ParseAmount(s); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if p.ConsensusThreshold < 1 {
		return errors.New("consensus_threshold must be positive")
	}
	if p.MinResponses < 1 {
		return errors.New("min_responses must be positive")
	}
	if p.RequestRetentionBlocks < 0 {
		return errors.New("request_retention_blocks must not be negative")
	}
	return nil
}

func (p *Params) fundingThreshold() *uint256.Int {
	v, _ := ParseAmount(p.FundingThreshold)
	return v
}

func (p *Params) registrationFee() *uint256.Int {
	v, _ := ParseAmount(p.RegistrationFee)
	return v
}

func (p *Params) maxPremium() *uint256.Int {
	v, _ := ParseAmount(p.MaxPremium)
	return v
}
