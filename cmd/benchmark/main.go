package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/ahmadzakiakmal/flightsurety/client"
	"github.com/ahmadzakiakmal/flightsurety/repository/models"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

type debugResponse struct {
	RegistryAddress surety.Address `json:"registry_address"`
	EngineAddress   surety.Address `json:"engine_address"`
}

type RequestResult struct {
	Name        string
	Method      string
	Endpoint    string
	Latency     time.Duration
	BlockHeight int64
}

type workflow struct {
	client   *client.HTTPClient
	opts     *client.RequestOptions
	airline  crypto.PrivKey
	registry surety.Address
	engine   surety.Address
	wait     time.Duration
}

func main() {
	nodeURL := flag.String("node", "http://127.0.0.1:5000", "Base URL of the node HTTP API")
	iterations := flag.Int("n", 1, "Number of iterations to run")
	airlineSecret := flag.String("airline-secret", "first", "Secret of a registered airline key")
	wait := flag.Duration("wait", time.Minute, "How long to wait for a flight status to be agreed")
	flag.Parse()

	requestClient := client.NewHTTPClient(*nodeURL)
	opts := &client.RequestOptions{
		Headers: map[string]string{
			"Accept":        "*/*",
			"Cache-Control": "no-cache",
		},
		Timeout: 30 * time.Second,
	}

	var debug debugResponse
	if _, err := requestClient.GetJSON("/debug", &debug, opts); err != nil {
		fmt.Printf("Error reading node components: %v\n", err)
		return
	}

	filename := fmt.Sprintf("benchmark_n_%d_%d.csv", *iterations, time.Now().Unix())
	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating CSV file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Iteration", "Step", "Method", "Endpoint", "Latency_ms", "BlockHeight"}
	if err := writer.Write(header); err != nil {
		fmt.Printf("Error writing CSV header: %v\n", err)
		return
	}

	w := &workflow{
		client:   requestClient,
		opts:     opts,
		airline:  ed25519.GenPrivKeyFromSecret([]byte(*airlineSecret)),
		registry: debug.RegistryAddress,
		engine:   debug.EngineAddress,
		wait:     *wait,
	}

	for i := 0; i < *iterations; i++ {
		fmt.Printf("\n[Iteration %d/%d]\n", i+1, *iterations)
		results := w.run(i)

		for _, result := range results {
			record := []string{
				strconv.Itoa(i + 1),
				result.Name,
				result.Method,
				result.Endpoint,
				strconv.FormatInt(result.Latency.Milliseconds(), 10),
				strconv.FormatInt(result.BlockHeight, 10),
			}
			if err := writer.Write(record); err != nil {
				fmt.Printf("Error writing record to CSV: %v\n", err)
			}
		}

		time.Sleep(100 * time.Millisecond)
	}

	fmt.Printf("\nBenchmark complete. Results saved to %s\n", filename)
}

func (w *workflow) run(iteration int) []RequestResult {
	var results []RequestResult
	totalStart := time.Now()
	airline := srvreg.AddressOf(w.airline.PubKey())
	passenger := ed25519.GenPrivKeyFromSecret([]byte(fmt.Sprintf("passenger-%d-%d", iteration, totalStart.UnixNano())))
	code := fmt.Sprintf("BM%d", iteration)
	departure := totalStart.Add(24 * time.Hour).Unix()

	step := func(name string, key crypto.PrivKey, to surety.Address, op string, args any, value string) (int64, bool) {
		amount, err := surety.ParseAmount(value)
		if err != nil {
			fmt.Println(err)
			return 0, false
		}
		out, resp, err := w.client.Submit(key, to, op, args, amount, w.opts)
		if err != nil {
			fmt.Printf("%s failed: %v\n", name, err)
			return 0, false
		}
		fmt.Printf("%s : tx %s height %d [Delay: %v]\n", name, out.Meta.TxID, out.Meta.BlockHeight, resp.Latency)
		results = append(results, RequestResult{
			Name:        name,
			Method:      "POST",
			Endpoint:    "/tx " + op,
			Latency:     resp.Latency,
			BlockHeight: out.Meta.BlockHeight,
		})
		return out.Meta.BlockHeight, true
	}

	// 1. Fund airline
	if _, ok := step("Fund Airline", w.airline, w.registry, srvreg.OpFund, nil, surety.EtherAmount(10).Dec()); !ok {
		return results
	}

	// 2. Register flight
	time.Sleep(100 * time.Millisecond)
	if _, ok := step("Register Flight", w.airline, w.registry, srvreg.OpRegisterFlight,
		srvreg.RegisterFlightArgs{Flight: code, Timestamp: departure}, "0"); !ok {
		return results
	}
	key := surety.FlightKey(airline, code, departure)

	// 3. Buy insurance
	time.Sleep(100 * time.Millisecond)
	if _, ok := step("Buy Insurance", passenger, w.registry, srvreg.OpBuyInsurance,
		srvreg.FlightArgs{Airline: airline, Flight: code, Timestamp: departure}, surety.EtherAmount(1).Dec()); !ok {
		return results
	}

	// 4. Fetch flight status
	time.Sleep(100 * time.Millisecond)
	fetchHeight, ok := step("Fetch Flight Status", passenger, w.engine, srvreg.OpFetchFlightStatus,
		srvreg.FlightArgs{Airline: airline, Flight: code, Timestamp: departure}, "0")
	if !ok {
		return results
	}

	// 5. Wait for the oracles to agree
	start := time.Now()
	flight, err := w.awaitStatus(key, fetchHeight)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("Flight %s: %v\n", code, err)
		return results
	}
	fmt.Printf("Flight %s agreed on %s at height %d [Delay: %v]\n", code, flight.Status, flight.UpdatedHeight, elapsed)
	results = append(results, RequestResult{
		Name:        "Flight Status Consensus",
		Method:      "GET",
		Endpoint:    "/flights/:key",
		Latency:     elapsed,
		BlockHeight: flight.UpdatedHeight,
	})

	totalElapsed := time.Since(totalStart)
	fmt.Printf("\nTotal workflow execution time: %v\n", totalElapsed)
	results = append(results, RequestResult{
		Name:     "Complete Workflow",
		Method:   "WORKFLOW",
		Endpoint: "complete-workflow",
		Latency:  totalElapsed,
	})
	return results
}

// awaitStatus polls the read model until the flight is updated after height.
func (w *workflow) awaitStatus(key string, height int64) (*models.Flight, error) {
	deadline := time.Now().Add(w.wait)
	for time.Now().Before(deadline) {
		var flight models.Flight
		_, err := w.client.GetJSON("/flights/"+key, &flight, w.opts)
		var apiErr *client.APIError
		switch {
		case err == nil && flight.UpdatedHeight > height:
			return &flight, nil
		case err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == 404):
			return nil, err
		}
		time.Sleep(250 * time.Millisecond)
	}
	return nil, errors.New("timed out waiting for flight status")
}
