package ledger_test

import (
	"context"
	"testing"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ahmadzakiakmal/flightsurety/app"
	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

func newDirect(t *testing.T) (*ledger.Direct, surety.Params) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	contracts := surety.New()
	services := srvreg.NewServiceRegistry(contracts, cmtlog.NewNopLogger())
	services.RegisterDefaultServices()
	a := app.NewABCIApplication(db, services, contracts, &app.AppConfig{}, cmtlog.NewNopLogger(), prometheus.NewRegistry())

	params := surety.DefaultParams(
		ledger.SignerFromSecret("owner").Address(),
		ledger.SignerFromSecret("first").Address(),
		ledger.SignerFromSecret("registry").Address(),
		ledger.SignerFromSecret("engine").Address(),
	)
	d, err := ledger.InitDirect(context.Background(), a, params)
	require.NoError(t, err)
	return d, params
}

func TestCallAndQuery(t *testing.T) {
	d, params := newDirect(t)
	ctx := context.Background()
	first := ledger.NewClient(d, ledger.SignerFromSecret("first"))

	receipt, err := first.Call(ctx, params.RegistryAddress, srvreg.OpFund, nil, surety.EtherAmount(10))
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.Height)
	assert.Len(t, receipt.Hash, 64)
	var airline surety.Airline
	require.NoError(t, receipt.Decode(&airline))
	assert.True(t, airline.IsFunded)

	var status surety.OperationalStatus
	require.NoError(t, d.Query(ctx, surety.QueryOperational, &status))
	assert.True(t, status.Operational)

	var record app.TxRecord
	require.NoError(t, d.Query(ctx, app.QueryTx+receipt.Hash, &record))
	assert.Equal(t, srvreg.OpFund, record.Op)
}

func TestRevertedUnwrapsToSentinel(t *testing.T) {
	d, params := newDirect(t)
	ctx := context.Background()
	first := ledger.NewClient(d, ledger.SignerFromSecret("first"))

	_, err := first.Call(ctx, params.EngineAddress, srvreg.OpRegisterAirline,
		srvreg.RegisterAirlineArgs{Candidate: ledger.SignerFromSecret("second").Address()}, nil)
	require.ErrorIs(t, err, surety.ErrNotFunded)
	var reverted *ledger.Reverted
	require.ErrorAs(t, err, &reverted)
	assert.Equal(t, surety.Codespace, reverted.Codespace)

	err = d.Query(ctx, surety.QueryOracle+string(first.Signer.Address()), nil)
	require.ErrorIs(t, err, surety.ErrNotRegistered)

	foreign := &ledger.Reverted{Code: surety.ErrNotFunded.Code, Codespace: "sdk"}
	assert.NotErrorIs(t, foreign, surety.ErrNotFunded)
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	d, params := newDirect(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := d.Subscribe(ctx, surety.EventAirlineFunded)
	require.NoError(t, err)

	first := ledger.NewClient(d, ledger.SignerFromSecret("first"))
	for i := 0; i < 3; i++ {
		_, err := first.Call(ctx, params.RegistryAddress, srvreg.OpFund, nil, surety.EtherAmount(4))
		require.NoError(t, err)
	}
	// Reverted calls emit nothing.
	_, err = first.Call(ctx, params.RegistryAddress, srvreg.OpFund, nil, nil)
	require.Error(t, err)

	for i := 1; i <= 3; i++ {
		select {
		case n := <-events:
			assert.Equal(t, int64(i), n.Height)
			assert.Equal(t, surety.EventAirlineFunded, n.Event.Type)
			assert.Equal(t, surety.EtherAmount(uint64(4*i)).Dec(), n.Event.Attr("total"))
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	cancel()
	for range events {
	}
}
