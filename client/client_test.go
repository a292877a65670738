package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cometbft/cometbft/crypto/ed25519"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/flightsurety/app"
	"github.com/ahmadzakiakmal/flightsurety/client"
	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/server"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

func newNode(t *testing.T) (*client.HTTPClient, surety.Params) {
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

	ws := server.NewWebServer(server.Options{Ledger: d}, cmtlog.NewNopLogger())
	srv := httptest.NewServer(ws.Handler())
	t.Cleanup(srv.Close)
	return client.NewHTTPClient(srv.URL), params
}

func TestSubmitSignsAndPosts(t *testing.T) {
	c, params := newNode(t)
	key := ed25519.GenPrivKeyFromSecret([]byte("first"))

	out, resp, err := c.Submit(key, params.RegistryAddress, srvreg.OpFund, nil, surety.EtherAmount(10), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), out.Meta.BlockHeight)

	var airline surety.Airline
	require.NoError(t, client.UnmarshalBody(&client.Response{Body: out.Body}, &airline))
	assert.True(t, airline.IsFunded)
}

func TestRevertedCallUnwraps(t *testing.T) {
	c, params := newNode(t)
	key := ed25519.GenPrivKeyFromSecret([]byte("nobody"))

	_, resp, err := c.Submit(key, params.RegistryAddress, srvreg.OpRegisterFlight,
		srvreg.RegisterFlightArgs{Flight: "FR1", Timestamp: 1}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.ErrorIs(t, err, surety.ErrNotFunded)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, surety.Codespace, apiErr.Codespace)
}

func TestGetJSON(t *testing.T) {
	c, _ := newNode(t)

	var msg map[string]string
	_, err := c.GetJSON("/api", &msg, nil)
	require.NoError(t, err)
	assert.Equal(t, server.LivenessMessage, msg["message"])

	_, err = c.GetJSON("/airlines", &msg, nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.NotErrorIs(t, err, surety.ErrNotFound)
}
