package repository_test

import (
	"context"
	"strings"
	"testing"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/flightsurety/app"
	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/repository"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

const (
	airlineA = "00000000000000000000000000000000000000AA"
	airlineB = "00000000000000000000000000000000000000BB"
	oracleA  = "0000000000000000000000000000000000000A01"
	oracleB  = "0000000000000000000000000000000000000A02"
	departed = int64(1659693600)
)

func newRepository(t *testing.T) *repository.Repository {
	t.Helper()
	repo := repository.NewRepository(cmtlog.NewNopLogger())
	require.NoError(t, repo.ConnectDB("sqlite", "file::memory:"))
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { repo.Close() })
	return repo
}

func notify(height int64, hash, typ string, kv ...string) ledger.Notification {
	ev := surety.Event{Type: typ}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Attributes = append(ev.Attributes, surety.Attribute{Key: kv[i], Value: kv[i+1]})
	}
	return ledger.Notification{Height: height, TxHash: hash, Event: ev}
}

func mustApply(t *testing.T, repo *repository.Repository, n ledger.Notification) {
	t.Helper()
	if rerr := repo.Apply(n); rerr != nil {
		t.Fatalf("apply %s: %v", n.Event.Type, rerr)
	}
}

func TestConnectUnsupportedDriver(t *testing.T) {
	repo := repository.NewRepository(cmtlog.NewNopLogger())
	err := repo.ConnectDB("mysql", "")
	var rerr *repository.RepositoryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, repository.ErrCodeUnsupported, rerr.Code)
}

func TestProjectAirlines(t *testing.T) {
	repo := newRepository(t)

	// genesis airline appears when it funds
	mustApply(t, repo, notify(1, "t1", surety.EventAirlineFunded,
		"airline", airlineA, "amount", "10", "total", "10", "funded", "true"))
	mustApply(t, repo, notify(2, "t2", surety.EventAirlineVoted,
		"candidate", airlineB, "voter", airlineA, "votes", "1", "required", "1"))
	mustApply(t, repo, notify(2, "t2", surety.EventAirlineRegistered,
		"airline", airlineB, "name", "Bravo Air"))

	airlines, rerr := repo.ListAirlines(false)
	require.Nil(t, rerr)
	require.Len(t, airlines, 2)

	funded, rerr := repo.ListAirlines(true)
	require.Nil(t, rerr)
	require.Len(t, funded, 1)
	assert.Equal(t, airlineA, funded[0].Address)
	assert.Equal(t, "10", funded[0].FundedAmount)

	b, rerr := repo.GetAirline("0x" + airlineB)
	require.Nil(t, rerr)
	assert.Equal(t, "Bravo Air", b.Name)
	assert.True(t, b.IsRegistered)
	assert.False(t, b.IsFunded)
	assert.Equal(t, int64(2), b.RegisteredHeight)
	require.Len(t, b.Votes, 1)
	assert.Equal(t, airlineA, b.Votes[0].Voter)

	_, rerr = repo.GetAirline("00000000000000000000000000000000000000CC")
	require.NotNil(t, rerr)
	assert.Equal(t, repository.ErrCodeNotFound, rerr.Code)
}

func TestProjectFlightLifecycle(t *testing.T) {
	repo := newRepository(t)
	key := surety.FlightKey(airlineA, "FR100", departed)
	requestKey := "req-1"

	mustApply(t, repo, notify(3, "t3", surety.EventFlightRegistered,
		"flight_key", key, "airline", airlineA, "flight", "FR100", "timestamp", "1659693600"))
	mustApply(t, repo, notify(4, "t4", surety.EventInsurancePurchased,
		"passenger", oracleB, "flight_key", key, "amount", "1000"))
	for i, oracle := range []string{oracleA, oracleB} {
		mustApply(t, repo, notify(int64(5+i), "r"+oracle, surety.EventOracleReported,
			"request_key", requestKey, "oracle", oracle, "airline", airlineA,
			"flight", "FR100", "timestamp", "1659693600", "status_code", "20"))
	}
	mustApply(t, repo, notify(7, "t7", surety.EventFlightStatusFinalized,
		"airline", airlineA, "flight", "FR100", "timestamp", "1659693600",
		"status_code", "20", "flight_key", key))

	flight, rerr := repo.GetFlight(key)
	require.Nil(t, rerr)
	assert.Equal(t, "FR100", flight.Code)
	assert.Equal(t, departed, flight.Timestamp)
	assert.Equal(t, uint8(surety.StatusLateAirline), flight.StatusCode)
	assert.Equal(t, "LATE_AIRLINE", flight.Status)
	assert.Equal(t, int64(7), flight.UpdatedHeight)
	require.Len(t, flight.Policies, 1)
	assert.Equal(t, "1000", flight.Policies[0].AmountPaid)
	require.Len(t, flight.Reports, 2)
	assert.Equal(t, oracleA, flight.Reports[0].Oracle)
	assert.Equal(t, requestKey, flight.Reports[1].RequestKey)

	flights, rerr := repo.ListFlights(airlineA)
	require.Nil(t, rerr)
	require.Len(t, flights, 1)
	flights, rerr = repo.ListFlights(airlineB)
	require.Nil(t, rerr)
	assert.Empty(t, flights)
}

func TestApplyIsIdempotent(t *testing.T) {
	repo := newRepository(t)
	key := surety.FlightKey(airlineA, "FR200", departed)
	events := []ledger.Notification{
		notify(1, "t1", surety.EventAirlineRegistered, "airline", airlineB, "name", "Bravo"),
		notify(2, "t2", surety.EventFlightRegistered,
			"flight_key", key, "airline", airlineA, "flight", "FR200", "timestamp", "1659693600"),
		notify(3, "t3", surety.EventOracleReported,
			"request_key", "req", "oracle", oracleA, "airline", airlineA,
			"flight", "FR200", "timestamp", "1659693600", "status_code", "10"),
		notify(4, "t4", surety.EventOracleRegistered, "oracle", oracleA, "indexes", "1,4,7"),
	}
	for range 2 {
		for _, n := range events {
			mustApply(t, repo, n)
		}
	}
	flight, rerr := repo.GetFlight(key)
	require.Nil(t, rerr)
	assert.Len(t, flight.Reports, 1)

	airlines, rerr := repo.ListAirlines(false)
	require.Nil(t, rerr)
	assert.Len(t, airlines, 1)

	oracle, rerr := repo.GetOracle(oracleA)
	require.Nil(t, rerr)
	assert.Equal(t, "1,4,7", oracle.Indexes)
}

func TestProjectsUnboundedFlightCodeAndName(t *testing.T) {
	repo := newRepository(t)
	code := strings.Repeat("FR", 40)
	name := strings.Repeat("Long Haul ", 30)
	key := surety.FlightKey(airlineA, code, departed)

	mustApply(t, repo, notify(1, "t1", surety.EventAirlineRegistered, "airline", airlineB, "name", name))
	mustApply(t, repo, notify(2, "t2", surety.EventFlightRegistered,
		"flight_key", key, "airline", airlineA, "flight", code, "timestamp", "1659693600"))

	flight, rerr := repo.GetFlight(key)
	require.Nil(t, rerr)
	assert.Equal(t, code, flight.Code)

	b, rerr := repo.GetAirline(airlineB)
	require.Nil(t, rerr)
	assert.Equal(t, name, b.Name)
}

func TestApplyRejectsMalformedEvents(t *testing.T) {
	repo := newRepository(t)
	rerr := repo.Apply(notify(1, "t1", surety.EventAirlineFunded, "airline", airlineA, "funded", "maybe"))
	require.NotNil(t, rerr)
	assert.Equal(t, repository.ErrCodeBadEvent, rerr.Code)

	rerr = repo.Apply(notify(1, "t1", surety.EventFlightStatusFinalized, "status_code", "15"))
	require.NotNil(t, rerr)
	assert.Equal(t, repository.ErrCodeBadEvent, rerr.Code)

	// events outside the projection are ignored
	assert.Nil(t, repo.Apply(notify(1, "t1", surety.EventOperatingStatus, "operational", "false")))
}

func TestIndexerFollowsLedger(t *testing.T) {
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
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, err := ledger.InitDirect(ctx, a, params)
	require.NoError(t, err)

	repo := newRepository(t)
	indexer := repository.NewIndexer(repo, d, cmtlog.NewNopLogger())
	notifications, err := d.Subscribe(ctx, repository.ProjectedEvents...)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		indexer.Follow(notifications)
		close(done)
	}()

	first := ledger.NewClient(d, ledger.SignerFromSecret("first"))
	_, err = first.Call(ctx, params.RegistryAddress, srvreg.OpFund, nil, surety.EtherAmount(10))
	require.NoError(t, err)
	_, err = first.Call(ctx, params.RegistryAddress, srvreg.OpRegisterFlight,
		srvreg.RegisterFlightArgs{Flight: "FR300", Timestamp: departed}, nil)
	require.NoError(t, err)

	key := surety.FlightKey(first.Signer.Address(), "FR300", departed)
	require.Eventually(t, func() bool {
		flight, rerr := repo.GetFlight(key)
		return rerr == nil && flight.Code == "FR300"
	}, 5*time.Second, 20*time.Millisecond)

	airline, rerr := repo.GetAirline(string(first.Signer.Address()))
	require.Nil(t, rerr)
	assert.True(t, airline.IsFunded)
	require.Len(t, airline.Flights, 1)

	cancel()
	<-done
}
