package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/rpc/client"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahmadzakiakmal/flightsurety/app"
	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/repository"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// LivenessMessage is returned by GET /api.
const LivenessMessage = "An API for use with your Dapp!"

const maxTxBodyBytes = 1 << 20

// WebServer handles HTTP requests
type WebServer struct {
	httpAddr   string
	server     *http.Server
	logger     cmtlog.Logger
	startTime  time.Time
	nodeID     string
	ledger     ledger.Ledger
	chain      client.Client // nil without a local node
	repository *repository.Repository
	requestTTL time.Duration
}

// Options configures a WebServer.
type Options struct {
	HTTPPort       string
	NodeID         string
	Ledger         ledger.Ledger
	Chain          client.Client
	Repository     *repository.Repository
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
}

// TransactionStatus represents the consensus status of a transaction
type TransactionStatus struct {
	TxID        string    `json:"tx_id"`
	RequestID   string    `json:"request_id"`
	Status      string    `json:"status"`
	BlockHeight int64     `json:"block_height"`
	ConfirmTime time.Time `json:"confirm_time"`
}

// ClientResponse is the response format sent to clients
type ClientResponse struct {
	Body   json.RawMessage   `json:"body,omitempty"`
	Events []surety.Event    `json:"events"`
	Meta   TransactionStatus `json:"meta"`
	NodeID string            `json:"node_id,omitempty"`
}

// RevertResponse describes a call the ledger rejected.
type RevertResponse struct {
	Error     string `json:"error"`
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace"`
	RequestID string `json:"request_id"`
}

// NewWebServer creates a new web server
func NewWebServer(opts Options, logger cmtlog.Logger) *WebServer {
	ws := &WebServer{
		httpAddr:   ":" + opts.HTTPPort,
		logger:     logger,
		startTime:  time.Now(),
		nodeID:     opts.NodeID,
		ledger:     opts.Ledger,
		chain:      opts.Chain,
		repository: opts.Repository,
		requestTTL: opts.RequestTimeout,
	}
	if ws.requestTTL <= 0 {
		ws.requestTTL = 30 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api", ws.handleAPI)
	mux.HandleFunc("/operational", ws.handleOperational)
	mux.HandleFunc("/tx", ws.handleSubmitTx)
	mux.HandleFunc("/status/", ws.handleTransactionStatus)
	mux.HandleFunc("/block/", ws.handleBlockInfo)
	mux.HandleFunc("/debug", ws.handleDebug)
	// Read model endpoints
	mux.HandleFunc("/airlines", ws.handleAirlines)
	mux.HandleFunc("/airlines/", ws.handleAirline)
	mux.HandleFunc("/flights", ws.handleFlights)
	mux.HandleFunc("/flights/", ws.handleFlight)
	mux.HandleFunc("/oracles/", ws.handleOracle)
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	ws.server = &http.Server{
		Addr:              ws.httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

// Handler exposes the routes, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": LivenessMessage})
}

func (ws *WebServer) handleOperational(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var status surety.OperationalStatus
	if err := ws.ledger.Query(r.Context(), surety.QueryOperational, &status); err != nil {
		ws.queryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSubmitTx broadcasts a signed envelope and waits for it to commit
func (ws *WebServer) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requestID := uuid.NewString()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBodyBytes))
	if err != nil {
		JSONError(w, "Failed to read request: "+err.Error(), http.StatusBadRequest)
		return
	}
	tx, err := srvreg.DecodeTransaction(body)
	if err != nil {
		JSONError(w, "Failed to convert request: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err := tx.Verify(); err != nil {
		JSONError(w, "Invalid transaction: "+err.Error(), http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ws.requestTTL)
	defer cancel()
	receipt, err := ws.ledger.Submit(ctx, tx)
	if err != nil {
		var reverted *ledger.Reverted
		if errors.As(err, &reverted) {
			ws.logger.Info("Transaction reverted", "request_id", requestID, "op", tx.Op, "code", reverted.Code, "log", reverted.Log)
			writeJSON(w, http.StatusUnprocessableEntity, RevertResponse{
				Error:     reverted.Log,
				Code:      reverted.Code,
				Codespace: reverted.Codespace,
				RequestID: requestID,
			})
			return
		}
		ws.logger.Error("Failed to submit transaction", "request_id", requestID, "err", err)
		JSONError(w, "Consensus error occurred: "+err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, ClientResponse{
		Body:   receipt.Result,
		Events: receipt.Events,
		Meta: TransactionStatus{
			TxID:        receipt.Hash,
			RequestID:   requestID,
			Status:      "confirmed",
			BlockHeight: receipt.Height,
			ConfirmTime: time.Now(),
		},
		NodeID: ws.nodeID,
	})
}

// handleTransactionStatus returns the stored outcome of a transaction
func (ws *WebServer) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	txID, ok := pathParam(r.URL.Path, "status")
	if !ok {
		JSONError(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}
	var record app.TxRecord
	if err := ws.ledger.Query(r.Context(), app.QueryTx+strings.ToLower(txID), &record); err != nil {
		ws.queryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleBlockInfo returns block information for a given height
func (ws *WebServer) handleBlockInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ws.chain == nil {
		JSONError(w, "Block data is not available on this node", http.StatusServiceUnavailable)
		return
	}
	heightStr, ok := pathParam(r.URL.Path, "block")
	if !ok {
		JSONError(w, "Invalid block height", http.StatusBadRequest)
		return
	}
	height, err := strconv.ParseInt(heightStr, 10, 64)
	if err != nil {
		JSONError(w, "Invalid block height format", http.StatusBadRequest)
		return
	}

	block, err := ws.chain.Block(r.Context(), &height)
	if err != nil {
		JSONError(w, "Error fetching block: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if block.Block == nil {
		JSONError(w, "Block not found", http.StatusNotFound)
		return
	}

	transactions := make([]*srvreg.Transaction, 0, len(block.Block.Txs))
	transactionsB64 := make([]string, 0, len(block.Block.Txs))
	for _, tx := range block.Block.Txs {
		transactionsB64 = append(transactionsB64, base64.StdEncoding.EncodeToString(tx))
		if parsed, err := srvreg.DecodeTransaction(tx); err == nil {
			transactions = append(transactions, parsed)
		} else {
			ws.logger.Error("Failed to parse transaction", "err", err)
		}
	}

	blockInfo := struct {
		Height          int64                 `json:"height"`
		Hash            string                `json:"hash"`
		Time            time.Time             `json:"time"`
		NumTxs          int                   `json:"num_txs"`
		Transactions    []*srvreg.Transaction `json:"transactions"`
		TransactionsB64 []string              `json:"transactions_b64"`
		ProposerAddress string                `json:"proposer_address"`
	}{
		Height:          block.Block.Height,
		Hash:            fmt.Sprintf("%X", block.BlockID.Hash),
		Time:            block.Block.Time,
		NumTxs:          len(block.Block.Txs),
		Transactions:    transactions,
		TransactionsB64: transactionsB64,
		ProposerAddress: fmt.Sprintf("%X", block.Block.ProposerAddress),
	}
	writeJSON(w, http.StatusOK, blockInfo)
}

// handleDebug provides debugging information
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	debugInfo := map[string]any{
		"node_id": ws.nodeID,
		"uptime":  time.Since(ws.startTime).String(),
	}
	var params surety.Params
	if err := ws.ledger.Query(r.Context(), surety.QueryParams, &params); err != nil {
		debugInfo["params_error"] = err.Error()
	} else {
		debugInfo["registry_address"] = params.RegistryAddress
		debugInfo["engine_address"] = params.EngineAddress
	}

	if ws.chain != nil {
		status, err := ws.chain.Status(r.Context())
		if err != nil {
			debugInfo["tendermint_error"] = err.Error()
		} else {
			debugInfo["node_status"] = "online"
			if status.SyncInfo.CatchingUp {
				debugInfo["node_status"] = "syncing"
			}
			debugInfo["latest_block_height"] = status.SyncInfo.LatestBlockHeight
			debugInfo["latest_block_time"] = status.SyncInfo.LatestBlockTime
			debugInfo["catching_up"] = status.SyncInfo.CatchingUp
		}

		abciInfo, err := ws.chain.ABCIInfo(r.Context())
		if err != nil {
			debugInfo["abci_error"] = err.Error()
		} else {
			debugInfo["abci_version"] = abciInfo.Response.Version
			debugInfo["app_version"] = abciInfo.Response.AppVersion
			debugInfo["last_block_height"] = abciInfo.Response.LastBlockHeight
			debugInfo["last_block_app_hash"] = fmt.Sprintf("%X", abciInfo.Response.LastBlockAppHash)
		}
	}
	writeJSON(w, http.StatusOK, debugInfo)
}

func (ws *WebServer) handleAirlines(w http.ResponseWriter, r *http.Request) {
	if !ws.readModel(w, r) {
		return
	}
	fundedOnly, _ := strconv.ParseBool(r.URL.Query().Get("funded"))
	airlines, rerr := ws.repository.ListAirlines(fundedOnly)
	if rerr != nil {
		repositoryError(w, rerr)
		return
	}
	writeJSON(w, http.StatusOK, airlines)
}

func (ws *WebServer) handleAirline(w http.ResponseWriter, r *http.Request) {
	if !ws.readModel(w, r) {
		return
	}
	address, ok := pathParam(r.URL.Path, "airlines")
	if !ok {
		JSONError(w, "Invalid airline address", http.StatusBadRequest)
		return
	}
	airline, rerr := ws.repository.GetAirline(address)
	if rerr != nil {
		repositoryError(w, rerr)
		return
	}
	writeJSON(w, http.StatusOK, airline)
}

func (ws *WebServer) handleFlights(w http.ResponseWriter, r *http.Request) {
	if !ws.readModel(w, r) {
		return
	}
	flights, rerr := ws.repository.ListFlights(r.URL.Query().Get("airline"))
	if rerr != nil {
		repositoryError(w, rerr)
		return
	}
	writeJSON(w, http.StatusOK, flights)
}

func (ws *WebServer) handleFlight(w http.ResponseWriter, r *http.Request) {
	if !ws.readModel(w, r) {
		return
	}
	key, ok := pathParam(r.URL.Path, "flights")
	if !ok {
		JSONError(w, "Invalid flight key", http.StatusBadRequest)
		return
	}
	flight, rerr := ws.repository.GetFlight(strings.ToLower(key))
	if rerr != nil {
		repositoryError(w, rerr)
		return
	}
	writeJSON(w, http.StatusOK, flight)
}

// handleOracle answers from the read model when present, else from the ledger
func (ws *WebServer) handleOracle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	address, ok := pathParam(r.URL.Path, "oracles")
	if !ok {
		JSONError(w, "Invalid oracle address", http.StatusBadRequest)
		return
	}
	if ws.repository != nil {
		oracle, rerr := ws.repository.GetOracle(address)
		if rerr == nil {
			writeJSON(w, http.StatusOK, oracle)
			return
		}
		if rerr.Code != repository.ErrCodeNotFound {
			repositoryError(w, rerr)
			return
		}
	}
	var indexes surety.OracleIndexes
	path := surety.QueryOracle + string(surety.NormalizeAddress(address))
	if err := ws.ledger.Query(r.Context(), path, &indexes); err != nil {
		ws.queryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indexes)
}

func (ws *WebServer) readModel(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if ws.repository == nil {
		JSONError(w, "Read model is not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (ws *WebServer) queryError(w http.ResponseWriter, err error) {
	var reverted *ledger.Reverted
	if errors.As(err, &reverted) {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, surety.ErrNotFound), errors.Is(err, surety.ErrNotRegistered), errors.Is(err, surety.ErrUnknownFlight):
			status = http.StatusNotFound
		}
		writeJSON(w, status, RevertResponse{Error: reverted.Log, Code: reverted.Code, Codespace: reverted.Codespace})
		return
	}
	ws.logger.Error("Ledger query failed", "err", err)
	JSONError(w, "Ledger query failed: "+err.Error(), http.StatusBadGateway)
}

func repositoryError(w http.ResponseWriter, rerr *repository.RepositoryError) {
	if rerr.Code == repository.ErrCodeNotFound {
		JSONError(w, rerr.Message, http.StatusNotFound)
		return
	}
	JSONError(w, "An error occured: "+rerr.Message, http.StatusInternalServerError)
}

// pathParam returns the single segment after /<prefix>/.
func pathParam(path, prefix string) (string, bool) {
	pathParts := strings.Split(path, "/")
	if len(pathParts) != 3 || pathParts[1] != prefix || pathParts[2] == "" {
		return "", false
	}
	return pathParts[2], true
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		JSONError(w, "Error encoding response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}

// JSONError sends a JSON formatted error response with the given status code and message
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBytes)
}

