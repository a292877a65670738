package surety_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/flightsurety/labels"
	"github.com/ahmadzakiakmal/flightsurety/store"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

func addr(n int) surety.Address {
	return surety.Address(fmt.Sprintf("%040X", n))
}

var (
	owner    = addr(1)
	registry = addr(2)
	engine   = addr(3)
	first    = addr(10)
)

type env struct {
	t       *testing.T
	kv      store.KVStore
	params  surety.Params
	c       *surety.Contracts
	height  int64
	entropy labels.Entropy
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	txn := db.NewTransaction(true)
	t.Cleanup(func() {
		txn.Discard()
		db.Close()
	})

	e := &env{
		t:       t,
		kv:      store.NewBadgerTxn(txn),
		params:  surety.DefaultParams(owner, first, registry, engine),
		c:       surety.New(),
		height:  1,
		entropy: labels.NewHashEntropy([]byte("test"), "seed"),
	}
	require.NoError(t, e.c.Registry.InitGenesis(e.kv, e.params))
	return e
}

// exec runs fn as one atomic transaction: changes are kept only on success.
func (e *env) exec(caller surety.Address, value *uint256.Int, fn func(ctx *surety.Context) error) ([]surety.Event, error) {
	e.height++
	overlay := store.NewOverlay(e.kv)
	ctx := surety.NewContext(overlay, &e.params, caller, value, e.height, time.Unix(e.height, 0), labels.NewDrawer(e.entropy))
	if err := fn(ctx); err != nil {
		overlay.Discard()
		return nil, err
	}
	require.NoError(e.t, overlay.Write())
	return ctx.Events(), nil
}

func (e *env) fund(a surety.Address, ether uint64) {
	e.t.Helper()
	_, err := e.exec(a, surety.EtherAmount(ether), func(ctx *surety.Context) error {
		return e.c.Registry.Fund(ctx)
	})
	require.NoError(e.t, err)
}

func (e *env) sponsor(sponsor, candidate surety.Address) (*surety.AdmissionResult, error) {
	var res *surety.AdmissionResult
	_, err := e.exec(sponsor, nil, func(ctx *surety.Context) error {
		var err error
		res, err = e.c.Admission.RequestRegistration(ctx, candidate, "")
		return err
	})
	return res, err
}

func (e *env) isAirline(a surety.Address) bool {
	ok, err := e.c.Registry.IsAirline(e.kv, a)
	require.NoError(e.t, err)
	return ok
}

func (e *env) registerFlight(airline surety.Address, code string, ts int64) *surety.Flight {
	e.t.Helper()
	var f *surety.Flight
	_, err := e.exec(airline, nil, func(ctx *surety.Context) error {
		var err error
		f, err = e.c.Registry.RegisterFlight(ctx, code, ts)
		return err
	})
	require.NoError(e.t, err)
	return f
}

func eventsOfType(events []surety.Event, typ string) []surety.Event {
	var out []surety.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
