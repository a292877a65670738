package surety_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/flightsurety/labels"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

const (
	flightCode = "FR100"
	departure  = int64(1659693600)
)

var (
	// Seven oracles holding label 5 and one that does not.
	oracleDraws = [][]uint64{
		{2, 5, 8},
		{5, 1, 3},
		{6, 5, 7},
		{5, 0, 9},
		{5, 4, 3},
		{5, 2, 6},
		{5, 7, 8},
	}
	outsider = addr(199)
)

func oracle(i int) surety.Address {
	return addr(100 + i)
}

// newStatusEnv funds the first airline, registers its flight and the oracles.
func newStatusEnv(t *testing.T) *env {
	e := newEnv(t)
	e.fund(first, 10)
	e.registerFlight(first, flightCode, departure)
	for i, draws := range oracleDraws {
		_, err := e.registerOracle(oracle(i), draws...)
		require.NoError(t, err)
	}
	_, err := e.registerOracle(outsider, 1, 2, 3)
	require.NoError(t, err)
	return e
}

func (e *env) requestStatus(index uint64, code string, ts int64) ([]surety.Event, *surety.OracleRequest, error) {
	e.entropy = labels.NewSequence(index)
	var req *surety.OracleRequest
	events, err := e.exec(addr(300), nil, func(ctx *surety.Context) error {
		var err error
		req, err = e.c.Status.RequestStatus(ctx, first, code, ts)
		return err
	})
	return events, req, err
}

func (e *env) respond(o surety.Address, index labels.Label, code surety.StatusCode) ([]surety.Event, error) {
	return e.respondTo(o, index, flightCode, departure, code)
}

func (e *env) respondTo(o surety.Address, index labels.Label, flight string, ts int64, code surety.StatusCode) ([]surety.Event, error) {
	return e.exec(o, nil, func(ctx *surety.Context) error {
		_, err := e.c.Status.SubmitResponse(ctx, index, first, flight, ts, code)
		return err
	})
}

func (e *env) flightStatus(code string, ts int64) surety.StatusCode {
	f, err := e.c.Registry.Flight(e.kv, surety.FlightKey(first, code, ts))
	require.NoError(e.t, err)
	require.NotNil(e.t, f)
	return f.StatusCode
}

func TestRequestStatusEmitsRequestOpened(t *testing.T) {
	e := newStatusEnv(t)
	events, req, err := e.requestStatus(15, flightCode, departure)
	require.NoError(t, err)
	assert.Equal(t, labels.Label(5), req.Index)
	assert.Equal(t, surety.RequestOpen, req.State)

	require.Len(t, events, 1)
	opened, err := surety.ParseRequestOpened(events[0])
	require.NoError(t, err)
	assert.Equal(t, labels.Label(5), opened.Index)
	assert.Equal(t, first, opened.Airline)
	assert.Equal(t, flightCode, opened.Flight)
	assert.Equal(t, departure, opened.Timestamp)
	assert.Equal(t, req.Key, opened.Key())
}

func TestRequestStatusUnknownFlight(t *testing.T) {
	e := newStatusEnv(t)
	_, _, err := e.requestStatus(5, "FR999", departure)
	require.ErrorIs(t, err, surety.ErrUnknownFlight)
}

func TestThirdMatchingResponseFinalizes(t *testing.T) {
	e := newStatusEnv(t)
	_, _, err := e.requestStatus(5, flightCode, departure)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		events, err := e.respond(oracle(i), 5, surety.StatusLateAirline)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, surety.EventOracleReported, events[0].Type)
	}
	assert.Equal(t, surety.StatusUnknown, e.flightStatus(flightCode, departure))

	events, err := e.respond(oracle(2), 5, surety.StatusLateAirline)
	require.NoError(t, err)
	require.Len(t, events, 2)
	decisive, err := surety.ParseOracleReported(events[0])
	require.NoError(t, err)
	assert.Equal(t, oracle(2), decisive.Oracle)
	assert.Equal(t, surety.EventFlightStatusFinalized, events[1].Type)
	finalized, err := surety.ParseFlightStatusFinalized(events[1])
	require.NoError(t, err)
	assert.Equal(t, surety.StatusLateAirline, finalized.StatusCode)
	assert.Equal(t, surety.FlightKey(first, flightCode, departure), events[1].Attr("flight_key"))
	assert.Equal(t, surety.StatusLateAirline, e.flightStatus(flightCode, departure))

	// Late responses are accepted but change nothing.
	events, err = e.respond(oracle(3), 5, surety.StatusOnTime)
	require.NoError(t, err)
	require.Len(t, events, 1)
	reported, err := surety.ParseOracleReported(events[0])
	require.NoError(t, err)
	assert.Equal(t, surety.StatusOnTime, reported.StatusCode)
	assert.Equal(t, surety.StatusLateAirline, e.flightStatus(flightCode, departure))

	req, err := e.c.Status.Request(e.kv, surety.RequestKey(5, first, flightCode, departure))
	require.NoError(t, err)
	assert.Equal(t, surety.RequestResolved, req.State)
	assert.Equal(t, surety.StatusLateAirline, req.ResolvedCode)
}

func TestSplitResponsesFinalizeOnFirstQuorum(t *testing.T) {
	e := newStatusEnv(t)
	_, _, err := e.requestStatus(5, flightCode, departure)
	require.NoError(t, err)

	sequence := []surety.StatusCode{
		surety.StatusOnTime,
		surety.StatusLateWeather,
		surety.StatusOnTime,
		surety.StatusLateWeather,
		surety.StatusLateWeather,
		surety.StatusOnTime,
	}
	for i, code := range sequence {
		_, err := e.respond(oracle(i), 5, code)
		require.NoError(t, err)
	}
	assert.Equal(t, surety.StatusLateWeather, e.flightStatus(flightCode, departure))
}

func TestRepeatedResponseCountsOnce(t *testing.T) {
	e := newStatusEnv(t)
	_, _, err := e.requestStatus(5, flightCode, departure)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.respond(oracle(0), 5, surety.StatusOnTime)
		require.NoError(t, err)
	}
	_, err = e.respond(oracle(1), 5, surety.StatusOnTime)
	require.NoError(t, err)

	req, err := e.c.Status.Request(e.kv, surety.RequestKey(5, first, flightCode, departure))
	require.NoError(t, err)
	assert.Equal(t, surety.RequestOpen, req.State)
	assert.Equal(t, 2, req.Tally(surety.StatusOnTime))

	// A second code from the same oracle is ignored as well.
	_, err = e.respond(oracle(0), 5, surety.StatusLateOther)
	require.NoError(t, err)
	req, err = e.c.Status.Request(e.kv, req.Key)
	require.NoError(t, err)
	assert.Equal(t, 0, req.Tally(surety.StatusLateOther))
}

func TestSubmitResponseRejections(t *testing.T) {
	e := newStatusEnv(t)
	_, _, err := e.requestStatus(5, flightCode, departure)
	require.NoError(t, err)

	_, err = e.respond(outsider, 5, surety.StatusOnTime)
	require.ErrorIs(t, err, surety.ErrIndexMismatch)

	_, err = e.respond(addr(198), 5, surety.StatusOnTime)
	require.ErrorIs(t, err, surety.ErrIndexMismatch)

	_, err = e.respond(oracle(0), 5, surety.StatusCode(15))
	require.ErrorIs(t, err, surety.ErrInvalidStatusCode)

	// oracle 0 holds label 2 but no request was opened under it.
	_, err = e.respond(oracle(0), 2, surety.StatusOnTime)
	require.ErrorIs(t, err, surety.ErrUnknownRequest)

	_, err = e.respondTo(oracle(0), 5, flightCode, departure+1, surety.StatusOnTime)
	require.ErrorIs(t, err, surety.ErrUnknownRequest)
}

func TestRequestAfterResolutionStartsFreshTally(t *testing.T) {
	e := newStatusEnv(t)
	_, _, err := e.requestStatus(5, flightCode, departure)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := e.respond(oracle(i), 5, surety.StatusLateTechnical)
		require.NoError(t, err)
	}
	require.Equal(t, surety.StatusLateTechnical, e.flightStatus(flightCode, departure))

	_, req, err := e.requestStatus(5, flightCode, departure)
	require.NoError(t, err)
	assert.Equal(t, surety.RequestOpen, req.State)
	assert.Equal(t, 0, req.Tally(surety.StatusLateTechnical))

	for i := 3; i < 6; i++ {
		_, err := e.respond(oracle(i), 5, surety.StatusOnTime)
		require.NoError(t, err)
	}
	assert.Equal(t, surety.StatusOnTime, e.flightStatus(flightCode, departure))
}

func TestRequestWhileOpenKeepsTally(t *testing.T) {
	e := newStatusEnv(t)
	_, _, err := e.requestStatus(5, flightCode, departure)
	require.NoError(t, err)
	_, err = e.respond(oracle(0), 5, surety.StatusOnTime)
	require.NoError(t, err)

	_, req, err := e.requestStatus(5, flightCode, departure)
	require.NoError(t, err)
	assert.Equal(t, 1, req.Tally(surety.StatusOnTime))
}

func TestPruneEvictsExpiredRequests(t *testing.T) {
	e := newStatusEnv(t)
	_, _, err := e.requestStatus(5, flightCode, departure)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := e.respond(oracle(i), 5, surety.StatusOnTime)
		require.NoError(t, err)
	}
	resolvedAt := e.height
	key := surety.RequestKey(5, first, flightCode, departure)

	n, err := e.c.Status.Prune(e.kv, resolvedAt+9, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.c.Status.Prune(e.kv, resolvedAt+10, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	req, err := e.c.Status.Request(e.kv, key)
	require.NoError(t, err)
	assert.Nil(t, req)

	// The flight keeps its finalized status.
	assert.Equal(t, surety.StatusOnTime, e.flightStatus(flightCode, departure))
	_, err = e.respond(oracle(3), 5, surety.StatusOnTime)
	require.ErrorIs(t, err, surety.ErrUnknownRequest)
}

func TestPausedEngineRejectsResponses(t *testing.T) {
	e := newStatusEnv(t)
	_, _, err := e.requestStatus(5, flightCode, departure)
	require.NoError(t, err)
	_, err = e.exec(owner, nil, func(ctx *surety.Context) error {
		return e.c.Registry.SetOperatingStatus(ctx, false)
	})
	require.NoError(t, err)

	_, err = e.respond(oracle(0), 5, surety.StatusOnTime)
	require.ErrorIs(t, err, surety.ErrNotOperational)
}

// firstToQuorum is the reference outcome: the first code whose tally reaches
// quorum in arrival order.
func firstToQuorum(codes []surety.StatusCode, quorum int) (surety.StatusCode, bool) {
	tally := map[surety.StatusCode]int{}
	for _, c := range codes {
		tally[c]++
		if tally[c] == quorum {
			return c, true
		}
	}
	return 0, false
}

func codes(picks []int) []surety.StatusCode {
	out := make([]surety.StatusCode, len(picks))
	for i, p := range picks {
		out[i] = surety.StatusCodes[p]
	}
	return out
}

func TestConsensusMatchesArrivalOrder(t *testing.T) {
	e := newStatusEnv(t)
	run := int64(0)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("first code to reach quorum is final and finalized once", prop.ForAll(
		func(picks []int) bool {
			run++
			ts := departure + run
			code := "P" + flightCode
			_, err := e.exec(first, nil, func(ctx *surety.Context) error {
				_, err := e.c.Registry.RegisterFlight(ctx, code, ts)
				return err
			})
			if err != nil {
				return false
			}
			if _, _, err := e.requestStatus(5, code, ts); err != nil {
				return false
			}

			want, ok := firstToQuorum(codes(picks), e.params.MinResponses)
			finalized := 0
			for i, p := range picks {
				events, err := e.respondTo(oracle(i), 5, code, ts, surety.StatusCodes[p])
				if err != nil {
					return false
				}
				if len(events) == 0 || events[0].Type != surety.EventOracleReported {
					return false
				}
				n := len(eventsOfType(events, surety.EventFlightStatusFinalized))
				if n > 0 && (finalized > 0 || events[len(events)-1].Type != surety.EventFlightStatusFinalized) {
					return false
				}
				finalized += n
			}
			if ok != (finalized == 1) || finalized > 1 {
				return false
			}

			f, err := e.c.Registry.Flight(e.kv, surety.FlightKey(first, code, ts))
			if err != nil || f == nil {
				return false
			}
			if !ok {
				want = surety.StatusUnknown
			}
			return f.StatusCode == want
		},
		gen.SliceOfN(len(oracleDraws), gen.IntRange(0, len(surety.StatusCodes)-1)),
	))

	properties.TestingRun(t)
}
