package surety

import (
	"fmt"

	"github.com/ahmadzakiakmal/flightsurety/store"
)

var (
	keyParams       = store.Key("params")
	keyOperational  = store.Key("meta", "operational")
	keyAirlineCount = store.Key("meta", "airline_count")
)

func keyAuthorized(a Address) []byte {
	return store.Key("auth", string(a))
}

func keyAirline(a Address) []byte {
	return store.Key("airline", string(a))
}

func keyVote(candidate, voter Address) []byte {
	return store.Key("vote", string(candidate), string(voter))
}

func prefixVotes(candidate Address) []byte {
	return store.Prefix("vote", string(candidate))
}

func keyFlight(key string) []byte {
	return store.Key("flight", key)
}

func keyPolicy(flightKey string, passenger Address) []byte {
	return store.Key("policy", flightKey, string(passenger))
}

func keyOracle(a Address) []byte {
	return store.Key("oracle", string(a))
}

func keyRequest(key string) []byte {
	return store.Key("request", key)
}

func prefixResolved() []byte {
	return store.Prefix("resolved")
}

func keyResolved(height int64, key string) []byte {
	return store.Key("resolved", fmt.Sprintf("%020d", height), key)
}
