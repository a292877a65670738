// Package surety implements the state machines of the flight insurance
// ledger: the registry store, airline admission by multiparty vote, the oracle
// registry and flight status consensus. Every operation runs against a
// Context whose store is an overlay, so a returned error means no effect.
package surety

// Contracts bundles the state machines with their wiring.
type Contracts struct {
	Registry  *Registry
	Admission *AdmissionEngine
	Oracles   *OracleRegistry
	Status    *StatusEngine
}

// New wires a fresh set of state machines.
func New() *Contracts {
	registry := NewRegistry()
	oracles := NewOracleRegistry(registry)
	return &Contracts{
		Registry:  registry,
		Admission: NewAdmissionEngine(registry),
		Oracles:   oracles,
		Status:    NewStatusEngine(registry, oracles),
	}
}
