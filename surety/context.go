package surety

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/ahmadzakiakmal/flightsurety/labels"
	"github.com/ahmadzakiakmal/flightsurety/store"
)

// Context carries one transaction through the state machines.
type Context struct {
	Store  store.KVStore
	Params *Params
	Caller Address
	Value  *uint256.Int
	Height int64
	Time   time.Time
	Drawer *labels.Drawer

	events *[]Event
}

// NewContext builds a context. A nil value is treated as zero.
func NewContext(kv store.KVStore, params *Params, caller Address, value *uint256.Int, height int64, blockTime time.Time, drawer *labels.Drawer) *Context {
	if value == nil {
		value = new(uint256.Int)
	}
	return &Context{
		Store:  kv,
		Params: params,
		Caller: caller,
		Value:  value,
		Height: height,
		Time:   blockTime,
		Drawer: drawer,
		events: &[]Event{},
	}
}

// WithCaller returns a context acting as caller with no attached value. It
// shares the store and the event log with c.
func (c *Context) WithCaller(caller Address) *Context {
	out := *c
	out.Caller = caller
	out.Value = new(uint256.Int)
	return &out
}

// Emit appends an event to the transaction's event log.
func (c *Context) Emit(e Event) {
	*c.events = append(*c.events, e)
}

// Events returns the events emitted so far.
func (c *Context) Events() []Event {
	return *c.events
}
