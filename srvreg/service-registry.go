package srvreg

import (
	"encoding/json"
	"fmt"
	"sync"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/holiman/uint256"

	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// Component names a ledger component a transaction can target.
type Component string

const (
	ComponentRegistry Component = "registry"
	ComponentEngine   Component = "engine"
)

// ServiceHandler executes one operation. args holds the transaction's raw JSON arguments.
type ServiceHandler func(ctx *surety.Context, args json.RawMessage) (any, error)

// RouteKey is used to uniquely identify a route
type RouteKey struct {
	Component Component
	Op        string
}

// Response is the outcome of an executed transaction.
type Response struct {
	Result any            `json:"result,omitempty"`
	Events []surety.Event `json:"-"`
}

// ServiceRegistry manages all service handlers
type ServiceRegistry struct {
	handlers  map[RouteKey]ServiceHandler
	mu        sync.RWMutex
	contracts *surety.Contracts
	logger    cmtlog.Logger
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(contracts *surety.Contracts, logger cmtlog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:  make(map[RouteKey]ServiceHandler),
		contracts: contracts,
		logger:    logger,
	}
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(component Component, op string, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.handlers[RouteKey{Component: component, Op: op}] = handler
}

// GetHandler finds the handler for op on the component deployed at to.
func (sr *ServiceRegistry) GetHandler(params *surety.Params, to surety.Address, op string) (ServiceHandler, bool) {
	component, ok := ComponentAt(params, to)
	if !ok {
		return nil, false
	}

	sr.mu.RLock()
	defer sr.mu.RUnlock()
	handler, ok := sr.handlers[RouteKey{Component: component, Op: op}]
	return handler, ok
}

// ComponentAt resolves a component address from the genesis params.
func ComponentAt(params *surety.Params, to surety.Address) (Component, bool) {
	switch to {
	case params.RegistryAddress:
		return ComponentRegistry, true
	case params.EngineAddress:
		return ComponentEngine, true
	}
	return "", false
}

// Execute runs tx against ctx's store. The caller owns atomicity: on error
// every write made through ctx must be discarded.
func (sr *ServiceRegistry) Execute(ctx *surety.Context, tx *Transaction) (*Response, error) {
	handler, found := sr.GetHandler(ctx.Params, tx.To, tx.Op)
	if !found {
		sr.logger.Debug("service registry handler not found", "to", tx.To, "op", tx.Op)
		return nil, fmt.Errorf("%w: %s on %s", surety.ErrUnknownOperation, tx.Op, tx.To)
	}

	result, err := handler(ctx, tx.Args)
	if err != nil {
		return nil, err
	}
	return &Response{Result: result, Events: ctx.Events()}, nil
}

// ParseValue decodes the attached value of tx.
func ParseValue(tx *Transaction) (*uint256.Int, error) {
	v, err := surety.ParseAmount(tx.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: value %q", surety.ErrInvalidTransaction, tx.Value)
	}
	return v, nil
}
