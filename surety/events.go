package surety

import (
	"fmt"
	"strconv"

	"github.com/ahmadzakiakmal/flightsurety/labels"
)

// Event types as they appear in ABCI results and subscription queries.
const (
	EventRequestOpened         = "oracle_request"
	EventOracleReported        = "oracle_report"
	EventFlightStatusFinalized = "flight_status_info"
	EventAirlineRegistered     = "airline_registered"
	EventAirlineVoted          = "airline_voted"
	EventAirlineFunded         = "airline_funded"
	EventFlightRegistered      = "flight_registered"
	EventInsurancePurchased    = "insurance_purchased"
	EventOracleRegistered      = "oracle_registered"
	EventOperatingStatus       = "operating_status"
)

// Attribute is a single key/value pair of an Event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is a named signal produced by a state transition.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attr returns the value of key, or "" when absent.
func (e Event) Attr(key string) string {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func newEvent(typ string, kv ...string) Event {
	e := Event{Type: typ, Attributes: make([]Attribute, 0, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		e.Attributes = append(e.Attributes, Attribute{Key: kv[i], Value: kv[i+1]})
	}
	return e
}

func expectType(e Event, typ string) error {
	if e.Type != typ {
		return fmt.Errorf("event type %q, expected %q", e.Type, typ)
	}
	return nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

// RequestOpened asks oracles holding Index to report on a flight.
type RequestOpened struct {
	Index     labels.Label
	Airline   Address
	Flight    string
	Timestamp int64
}

func (r RequestOpened) Event() Event {
	return newEvent(EventRequestOpened,
		"index", itoa(int64(r.Index)),
		"airline", string(r.Airline),
		"flight", r.Flight,
		"timestamp", itoa(r.Timestamp),
	)
}

// Key returns the request key the event refers to.
func (r RequestOpened) Key() string {
	return RequestKey(r.Index, r.Airline, r.Flight, r.Timestamp)
}

// ParseRequestOpened decodes an oracle_request event.
func ParseRequestOpened(e Event) (RequestOpened, error) {
	var r RequestOpened
	if err := expectType(e, EventRequestOpened); err != nil {
		return r, err
	}
	index, err := strconv.ParseUint(e.Attr("index"), 10, 8)
	if err != nil || !labels.Label(index).Valid() {
		return r, fmt.Errorf("invalid index %q", e.Attr("index"))
	}
	ts, err := strconv.ParseInt(e.Attr("timestamp"), 10, 64)
	if err != nil {
		return r, fmt.Errorf("invalid timestamp: %w", err)
	}
	r.Index = labels.Label(index)
	r.Airline = Address(e.Attr("airline"))
	r.Flight = e.Attr("flight")
	r.Timestamp = ts
	return r, nil
}

// OracleReported records one accepted oracle response.
type OracleReported struct {
	RequestKey string
	Oracle     Address
	Airline    Address
	Flight     string
	Timestamp  int64
	StatusCode StatusCode
}

func (r OracleReported) Event() Event {
	return newEvent(EventOracleReported,
		"request_key", r.RequestKey,
		"oracle", string(r.Oracle),
		"airline", string(r.Airline),
		"flight", r.Flight,
		"timestamp", itoa(r.Timestamp),
		"status_code", itoa(int64(r.StatusCode)),
	)
}

// ParseOracleReported decodes an oracle_report event.
func ParseOracleReported(e Event) (OracleReported, error) {
	var r OracleReported
	if err := expectType(e, EventOracleReported); err != nil {
		return r, err
	}
	code, err := ParseStatusCode(e.Attr("status_code"))
	if err != nil {
		return r, err
	}
	ts, err := strconv.ParseInt(e.Attr("timestamp"), 10, 64)
	if err != nil {
		return r, fmt.Errorf("invalid timestamp: %w", err)
	}
	r.RequestKey = e.Attr("request_key")
	r.Oracle = Address(e.Attr("oracle"))
	r.Airline = Address(e.Attr("airline"))
	r.Flight = e.Attr("flight")
	r.Timestamp = ts
	r.StatusCode = code
	return r, nil
}

// FlightStatusFinalized announces the consensus status of a flight.
type FlightStatusFinalized struct {
	Airline    Address
	Flight     string
	Timestamp  int64
	StatusCode StatusCode
}

func (f FlightStatusFinalized) Event() Event {
	return newEvent(EventFlightStatusFinalized,
		"airline", string(f.Airline),
		"flight", f.Flight,
		"timestamp", itoa(f.Timestamp),
		"status_code", itoa(int64(f.StatusCode)),
		"flight_key", FlightKey(f.Airline, f.Flight, f.Timestamp),
	)
}

// ParseFlightStatusFinalized decodes a flight_status_info event.
func ParseFlightStatusFinalized(e Event) (FlightStatusFinalized, error) {
	var f FlightStatusFinalized
	if err := expectType(e, EventFlightStatusFinalized); err != nil {
		return f, err
	}
	code, err := ParseStatusCode(e.Attr("status_code"))
	if err != nil {
		return f, err
	}
	ts, err := strconv.ParseInt(e.Attr("timestamp"), 10, 64)
	if err != nil {
		return f, fmt.Errorf("invalid timestamp: %w", err)
	}
	f.Airline = Address(e.Attr("airline"))
	f.Flight = e.Attr("flight")
	f.Timestamp = ts
	f.StatusCode = code
	return f, nil
}
