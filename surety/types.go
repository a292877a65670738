package surety

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/ahmadzakiakmal/flightsurety/labels"
)

// Address identifies an account: the upper-case hex address of its public key.
type Address string

// NormalizeAddress upper-cases a and strips an optional 0x prefix.
func NormalizeAddress(a string) Address {
	a = strings.TrimPrefix(strings.TrimPrefix(a, "0x"), "0X")
	return Address(strings.ToUpper(a))
}

// Valid reports whether a is a 20 byte hex address.
func (a Address) Valid() bool {
	if len(a) != 40 {
		return false
	}
	_, err := hex.DecodeString(string(a))
	return err == nil
}

// StatusCode is the real-world status of a flight.
type StatusCode uint8

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

// StatusCodes lists every supported code.
var StatusCodes = []StatusCode{
	StatusUnknown,
	StatusOnTime,
	StatusLateAirline,
	StatusLateWeather,
	StatusLateTechnical,
	StatusLateOther,
}

func (c StatusCode) Valid() bool {
	for _, v := range StatusCodes {
		if v == c {
			return true
		}
	}
	return false
}

func (c StatusCode) String() string {
	switch c {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusOnTime:
		return "ON_TIME"
	case StatusLateAirline:
		return "LATE_AIRLINE"
	case StatusLateWeather:
		return "LATE_WEATHER"
	case StatusLateTechnical:
		return "LATE_TECHNICAL"
	case StatusLateOther:
		return "LATE_OTHER"
	}
	return "STATUS_" + strconv.Itoa(int(c))
}

// ParseStatusCode accepts either the numeric or the symbolic form.
func ParseStatusCode(s string) (StatusCode, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		c := StatusCode(n)
		if !c.Valid() {
			return 0, wrap(ErrInvalidStatusCode, "%d", n)
		}
		return c, nil
	}
	for _, c := range StatusCodes {
		if strings.EqualFold(c.String(), s) {
			return c, nil
		}
	}
	return 0, wrap(ErrInvalidStatusCode, "%q", s)
}

// Airline is a registry participant.
type Airline struct {
	Address      Address `json:"address"`
	Name         string  `json:"name"`
	IsRegistered bool    `json:"is_registered"`
	IsFunded     bool    `json:"is_funded"`
	FundedAmount string  `json:"funded_amount"`
}

// Funded reports whether the airline may sponsor, vote and register flights.
func (a *Airline) Funded(threshold *uint256.Int) bool {
	if a == nil || !a.IsRegistered || !a.IsFunded {
		return false
	}
	amount, err := ParseAmount(a.FundedAmount)
	if err != nil {
		return false
	}
	return !amount.Lt(threshold)
}

// Flight is a scheduled flight of a registered airline.
type Flight struct {
	Key           string     `json:"key"`
	Airline       Address    `json:"airline"`
	Code          string     `json:"code"`
	Timestamp     int64      `json:"timestamp"`
	StatusCode    StatusCode `json:"status_code"`
	UpdatedHeight int64      `json:"updated_height"`
}

// FlightKey derives the identity of a flight.
func FlightKey(airline Address, code string, timestamp int64) string {
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(timestamp))
	hasher := sha256.New()
	hasher.Write([]byte(airline))
	hasher.Write([]byte{0})
	hasher.Write([]byte(code))
	hasher.Write(ts)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Policy is a passenger's insurance on one flight.
type Policy struct {
	Passenger  Address `json:"passenger"`
	FlightKey  string  `json:"flight_key"`
	AmountPaid string  `json:"amount_paid"`
}

// Oracle is a registered status reporter.
type Oracle struct {
	Address       Address    `json:"address"`
	Indexes       labels.Set `json:"indexes"`
	HasRegistered bool       `json:"has_registered"`
}

// RequestState is the lifecycle stage of an oracle request.
type RequestState string

const (
	RequestOpen     RequestState = "open"
	RequestResolved RequestState = "resolved"
)

// OracleRequest tracks responses for one status lookup. Responses holds, per
// status code, the set of oracles that reported it.
type OracleRequest struct {
	Key            string                              `json:"key"`
	Index          labels.Label                        `json:"index"`
	Airline        Address                             `json:"airline"`
	Flight         string                              `json:"flight"`
	Timestamp      int64                               `json:"timestamp"`
	Requester      Address                             `json:"requester"`
	State          RequestState                        `json:"state"`
	OpenedHeight   int64                               `json:"opened_height"`
	ResolvedHeight int64                               `json:"resolved_height,omitempty"`
	ResolvedCode   StatusCode                          `json:"resolved_code,omitempty"`
	Responses      map[StatusCode]map[Address]struct{} `json:"responses"`
}

// RequestKey derives the identity of an oracle request.
func RequestKey(index labels.Label, airline Address, flight string, timestamp int64) string {
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(timestamp))
	hasher := sha256.New()
	hasher.Write([]byte{byte(index)})
	hasher.Write([]byte(airline))
	hasher.Write([]byte{0})
	hasher.Write([]byte(flight))
	hasher.Write(ts)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Reported reports whether oracle already responded to r with any code.
func (r *OracleRequest) Reported(oracle Address) bool {
	for _, set := range r.Responses {
		if _, ok := set[oracle]; ok {
			return true
		}
	}
	return false
}

// Tally returns the number of distinct reporters for code.
func (r *OracleRequest) Tally(code StatusCode) int {
	return len(r.Responses[code])
}

// Ether is 10^18 wei.
var Ether = uint256.NewInt(1_000_000_000_000_000_000)

// EtherAmount returns n ether in wei.
func EtherAmount(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), Ether)
}

// ParseAmount parses a decimal wei amount. The empty string is zero.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}
