package app

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahmadzakiakmal/flightsurety/labels"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/store"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// QueryTx prefixes a transaction record lookup: /tx/<hex hash>.
const QueryTx = "/tx/"

const (
	keyLastBlockHeight  = "last_block_height"
	keyLastBlockAppHash = "last_block_app_hash"
	eventTx             = "surety_tx"
)

// Application implements the ABCI interface for the nodes
type Application struct {
	badgerDB        *badger.DB
	onGoingBlock    *badger.Txn
	serviceRegistry *srvreg.ServiceRegistry
	contracts       *surety.Contracts
	nodeID          string
	mu              sync.Mutex
	config          *AppConfig
	logger          cmtlog.Logger
	metrics         appMetrics
}

// AppConfig contains configuration for the application
type AppConfig struct {
	NodeID    string
	LogAllTxs bool // Whether to log all transactions, even failed ones
}

// Genesis is the app_state carried in the CometBFT genesis document.
type Genesis struct {
	Params surety.Params `json:"params"`
}

// TxRecord is the stored outcome of an executed transaction.
type TxRecord struct {
	Hash      string          `json:"hash"`
	Height    int64           `json:"height"`
	Index     int             `json:"index"`
	Op        string          `json:"op"`
	Caller    surety.Address  `json:"caller"`
	Code      uint32          `json:"code"`
	Codespace string          `json:"codespace,omitempty"`
	Log       string          `json:"log,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// NewABCIApplication creates a new  application
func NewABCIApplication(
	badgerDB *badger.DB,
	serviceRegistry *srvreg.ServiceRegistry,
	contracts *surety.Contracts,
	config *AppConfig,
	logger cmtlog.Logger,
	promRegistry prometheus.Registerer,
) *Application {
	app := &Application{
		badgerDB:        badgerDB,
		serviceRegistry: serviceRegistry,
		contracts:       contracts,
		nodeID:          config.NodeID,
		config:          config,
		logger:          logger,
	}
	app.metrics.init(promRegistry)
	return app
}

func (app *Application) SetNodeID(id string) {
	app.mu.Lock()
	app.nodeID = id
	app.mu.Unlock()
}

// Info implements the ABCI Info method
func (app *Application) Info(_ context.Context, info *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	var lastBlockHeight int64
	var lastBlockAppHash []byte

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		kv := store.NewBadgerTxn(txn)
		height, err := kv.Get([]byte(keyLastBlockHeight))
		if err != nil {
			return err
		}
		lastBlockHeight = bytesToInt64(height)
		lastBlockAppHash, err = kv.Get([]byte(keyLastBlockAppHash))
		return err
	})
	if err != nil {
		app.logger.Error("Error getting last block info", "err", err)
	}

	app.mu.Lock()
	data := "flightsurety"
	if app.nodeID != "" {
		data += "@" + app.nodeID
	}
	app.mu.Unlock()

	return &abcitypes.InfoResponse{
		Data:             data,
		LastBlockHeight:  lastBlockHeight,
		LastBlockAppHash: lastBlockAppHash,
	}, nil
}

// Query implements the ABCI Query method. Results are JSON encoded; failures
// carry the surety error code.
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	path := req.Path
	if path == "" {
		path = string(req.Data)
	}
	if path == "" {
		return &abcitypes.QueryResponse{
			Code:      surety.ErrNotFound.Code,
			Codespace: surety.Codespace,
			Log:       "Empty query path",
		}, nil
	}

	var value []byte
	err := app.badgerDB.View(func(txn *badger.Txn) error {
		kv := store.NewBadgerTxn(txn)
		if strings.HasPrefix(path, QueryTx) {
			raw, err := kv.Get(keyTx(strings.ToLower(strings.TrimPrefix(path, QueryTx))))
			if err != nil {
				return err
			}
			if raw == nil {
				return fmt.Errorf("%w: transaction", surety.ErrNotFound)
			}
			value = raw
			return nil
		}

		result, err := app.contracts.Query(kv, path)
		if err != nil {
			return err
		}
		value, err = json.Marshal(result)
		return err
	})
	if err != nil {
		return &abcitypes.QueryResponse{
			Code:      surety.CodeOf(err),
			Codespace: surety.Codespace,
			Log:       err.Error(),
			Key:       []byte(path),
		}, nil
	}
	return &abcitypes.QueryResponse{
		Key:   []byte(path),
		Value: value,
		Log:   "exists",
	}, nil
}

// CheckTx implements the ABCI CheckTx method
func (app *Application) CheckTx(
	_ context.Context,
	check *abcitypes.CheckTxRequest,
) (*abcitypes.CheckTxResponse, error) {
	tx, err := app.validate(check.Tx)
	if err == nil {
		err = app.badgerDB.View(func(txn *badger.Txn) error {
			return checkNotSeen(store.NewBadgerTxn(txn), tx)
		})
	}
	if err != nil {
		return &abcitypes.CheckTxResponse{
			Code:      surety.CodeOf(err),
			Codespace: surety.Codespace,
			Log:       err.Error(),
		}, nil
	}
	return &abcitypes.CheckTxResponse{Code: abcitypes.CodeTypeOK}, nil
}

// InitChain implements the ABCI InitChain method
func (app *Application) InitChain(_ context.Context, chain *abcitypes.InitChainRequest) (*abcitypes.InitChainResponse, error) {
	var genesis Genesis
	if err := json.Unmarshal(chain.AppStateBytes, &genesis); err != nil {
		return nil, fmt.Errorf("decoding app_state: %w", err)
	}
	err := app.badgerDB.Update(func(txn *badger.Txn) error {
		return app.contracts.Registry.InitGenesis(store.NewBadgerTxn(txn), genesis.Params)
	})
	if err != nil {
		return nil, err
	}
	app.logger.Info("Initialised registry",
		"chain_id", chain.ChainId,
		"owner", genesis.Params.Owner,
		"first_airline", genesis.Params.FirstAirline,
	)
	return &abcitypes.InitChainResponse{}, nil
}

// PrepareProposal implements the ABCI PrepareProposal method
func (app *Application) PrepareProposal(_ context.Context, proposal *abcitypes.PrepareProposalRequest) (*abcitypes.PrepareProposalResponse, error) {
	txs := make([][]byte, 0, len(proposal.Txs))
	var size int64
	for _, txBytes := range proposal.Txs {
		if _, err := app.validate(txBytes); err != nil {
			continue
		}
		if proposal.MaxTxBytes > 0 && size+int64(len(txBytes)) > proposal.MaxTxBytes {
			break
		}
		size += int64(len(txBytes))
		txs = append(txs, txBytes)
	}
	return &abcitypes.PrepareProposalResponse{Txs: txs}, nil
}

// ProcessProposal implements the ABCI ProcessProposal method
func (app *Application) ProcessProposal(
	_ context.Context,
	proposal *abcitypes.ProcessProposalRequest,
) (*abcitypes.ProcessProposalResponse, error) {
	for _, txBytes := range proposal.Txs {
		if _, err := app.validate(txBytes); err != nil {
			app.logger.Info("Voted invalid", "height", proposal.Height, "err", err)
			return &abcitypes.ProcessProposalResponse{
				Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT,
			}, nil
		}
	}
	return &abcitypes.ProcessProposalResponse{
		Status: abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT,
	}, nil
}

// FinalizeBlock implements the ABCI FinalizeBlock method
func (app *Application) FinalizeBlock(
	_ context.Context,
	req *abcitypes.FinalizeBlockRequest,
) (*abcitypes.FinalizeBlockResponse, error) {
	start := time.Now()
	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))

	app.mu.Lock()
	defer app.mu.Unlock()

	if app.onGoingBlock != nil {
		app.onGoingBlock.Discard()
	}
	app.onGoingBlock = app.badgerDB.NewTransaction(true)
	kv := store.NewBadgerTxn(app.onGoingBlock)

	params, err := surety.LoadParams(kv)
	if err != nil {
		return nil, err
	}

	for i, txBytes := range req.Txs {
		txResults[i] = app.deliverTx(kv, params, req, i, txBytes)
	}

	pruned, err := app.contracts.Status.Prune(kv, req.Height, params.RequestRetentionBlocks)
	if err != nil {
		return nil, fmt.Errorf("pruning oracle requests: %w", err)
	}
	if pruned > 0 {
		app.metrics.requestsPruned.Add(float64(pruned))
		app.logger.Debug("Pruned oracle requests", "height", req.Height, "count", pruned)
	}

	prevHash, err := kv.Get([]byte(keyLastBlockAppHash))
	if err != nil {
		return nil, err
	}
	appHash := calculateAppHash(prevHash, txResults)

	if err := kv.Set([]byte(keyLastBlockHeight), int64ToBytes(req.Height)); err != nil {
		return nil, fmt.Errorf("storing block height: %w", err)
	}
	if err := kv.Set([]byte(keyLastBlockAppHash), appHash); err != nil {
		return nil, fmt.Errorf("storing app hash: %w", err)
	}

	app.metrics.blockHeight.Set(float64(req.Height))
	app.metrics.blockExecDuration.Observe(time.Since(start).Seconds())

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   appHash,
	}, nil
}

// deliverTx executes one transaction atomically: its writes reach the block
// only when it succeeds. The replay marker and the tx record are kept either way.
func (app *Application) deliverTx(kv store.KVStore, params *surety.Params, req *abcitypes.FinalizeBlockRequest, index int, txBytes []byte) *abcitypes.ExecTxResult {
	hash := sha256.Sum256(txBytes)
	record := TxRecord{
		Hash:   hex.EncodeToString(hash[:]),
		Height: req.Height,
		Index:  index,
	}

	result, events, err := app.execute(kv, params, req, index, txBytes, &record)
	if err != nil {
		record.Code = surety.CodeOf(err)
		record.Codespace = surety.Codespace
		record.Log = err.Error()
		if app.config.LogAllTxs {
			app.logger.Info("Transaction reverted", "hash", record.Hash, "op", record.Op, "code", record.Code, "err", err)
		}
	} else {
		record.Result = result
		app.logger.Debug("Transaction executed", "hash", record.Hash, "op", record.Op, "caller", record.Caller)
	}
	app.metrics.txsTotal.WithLabelValues(record.Op, strconv.FormatUint(uint64(record.Code), 10)).Inc()

	if err := store.SetJSON(kv, keyTx(record.Hash), record); err != nil {
		app.logger.Error("Error storing transaction", "hash", record.Hash, "err", err)
	}

	abciEvents := make([]abcitypes.Event, 0, len(events)+1)
	abciEvents = append(abciEvents, abcitypes.Event{
		Type: eventTx,
		Attributes: []abcitypes.EventAttribute{
			{Key: "hash", Value: record.Hash, Index: true},
			{Key: "op", Value: record.Op, Index: true},
			{Key: "caller", Value: string(record.Caller), Index: true},
			{Key: "code", Value: strconv.FormatUint(uint64(record.Code), 10), Index: true},
		},
	})
	for _, ev := range events {
		if ev.Type == surety.EventFlightStatusFinalized {
			app.metrics.flightsFinalized.Inc()
		}
		abciEvents = append(abciEvents, toABCIEvent(ev))
	}

	return &abcitypes.ExecTxResult{
		Code:      record.Code,
		Codespace: record.Codespace,
		Data:      record.Result,
		Log:       record.Log,
		Events:    abciEvents,
	}
}

func (app *Application) execute(kv store.KVStore, params *surety.Params, req *abcitypes.FinalizeBlockRequest, index int, txBytes []byte, record *TxRecord) (json.RawMessage, []surety.Event, error) {
	tx, err := app.validate(txBytes)
	if err != nil {
		return nil, nil, err
	}
	record.Op = tx.Op
	record.Caller = tx.Caller

	if err := checkNotSeen(kv, tx); err != nil {
		return nil, nil, err
	}
	if err := kv.Set(keySeen(tx), []byte{1}); err != nil {
		return nil, nil, err
	}
	value, err := srvreg.ParseValue(tx)
	if err != nil {
		return nil, nil, err
	}

	overlay := store.NewOverlay(kv)
	drawer := labels.NewDrawer(labels.NewHashEntropy(entropySeed(req.Hash, index), string(tx.Caller)))
	ctx := surety.NewContext(overlay, params, tx.Caller, value, req.Height, req.Time, drawer)

	resp, err := app.serviceRegistry.Execute(ctx, tx)
	if err != nil {
		overlay.Discard()
		return nil, nil, err
	}
	if err := overlay.Write(); err != nil {
		return nil, nil, err
	}

	var result json.RawMessage
	if resp.Result != nil {
		result, err = json.Marshal(resp.Result)
		if err != nil {
			return nil, nil, err
		}
	}
	return result, resp.Events, nil
}

// validate decodes txBytes and checks its signature.
func (app *Application) validate(txBytes []byte) (*srvreg.Transaction, error) {
	tx, err := srvreg.DecodeTransaction(txBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", surety.ErrInvalidTransaction, err)
	}
	if err := tx.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %v", surety.ErrInvalidTransaction, err)
	}
	return tx, nil
}

// Commit implements the ABCI Commit method
func (app *Application) Commit(_ context.Context, commit *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.onGoingBlock == nil {
		return &abcitypes.CommitResponse{}, nil
	}
	err := app.onGoingBlock.Commit()
	app.onGoingBlock = nil
	if err != nil {
		app.logger.Error("Error committing block", "err", err)
		return nil, err
	}
	return &abcitypes.CommitResponse{}, nil
}

// ListSnapshots implements the ABCI ListSnapshots method
func (app *Application) ListSnapshots(_ context.Context, snapshots *abcitypes.ListSnapshotsRequest) (*abcitypes.ListSnapshotsResponse, error) {
	return &abcitypes.ListSnapshotsResponse{}, nil
}

// OfferSnapshot implements the ABCI OfferSnapshot method
func (app *Application) OfferSnapshot(_ context.Context, snapshot *abcitypes.OfferSnapshotRequest) (*abcitypes.OfferSnapshotResponse, error) {
	return &abcitypes.OfferSnapshotResponse{}, nil
}

// LoadSnapshotChunk implements the ABCI LoadSnapshotChunk method
func (app *Application) LoadSnapshotChunk(_ context.Context, chunk *abcitypes.LoadSnapshotChunkRequest) (*abcitypes.LoadSnapshotChunkResponse, error) {
	return &abcitypes.LoadSnapshotChunkResponse{}, nil
}

// ApplySnapshotChunk implements the ABCI ApplySnapshotChunk method
func (app *Application) ApplySnapshotChunk(_ context.Context, chunk *abcitypes.ApplySnapshotChunkRequest) (*abcitypes.ApplySnapshotChunkResponse, error) {
	return &abcitypes.ApplySnapshotChunkResponse{
		Result: abcitypes.APPLY_SNAPSHOT_CHUNK_RESULT_ACCEPT,
	}, nil
}

// ExtendVote implements the ABCI ExtendVote method
func (app *Application) ExtendVote(_ context.Context, extend *abcitypes.ExtendVoteRequest) (*abcitypes.ExtendVoteResponse, error) {
	return &abcitypes.ExtendVoteResponse{}, nil
}

// VerifyVoteExtension implements the ABCI VerifyVoteExtension method
func (app *Application) VerifyVoteExtension(_ context.Context, verify *abcitypes.VerifyVoteExtensionRequest) (*abcitypes.VerifyVoteExtensionResponse, error) {
	return &abcitypes.VerifyVoteExtensionResponse{
		Status: abcitypes.VERIFY_VOTE_EXTENSION_STATUS_ACCEPT,
	}, nil
}

// Helper Functions

func keyTx(hash string) []byte {
	return store.Key("tx", hash)
}

func keySeen(tx *srvreg.Transaction) []byte {
	return store.Key("seen", string(tx.Caller), tx.Nonce)
}

func checkNotSeen(kv store.KVStore, tx *srvreg.Transaction) error {
	v, err := kv.Get(keySeen(tx))
	if err != nil {
		return err
	}
	if v != nil {
		return fmt.Errorf("%w: nonce %s already used", surety.ErrInvalidTransaction, tx.Nonce)
	}
	return nil
}

// entropySeed binds label draws to the block and the position of the tx in it.
func entropySeed(blockHash []byte, index int) []byte {
	seed := make([]byte, 0, len(blockHash)+8)
	seed = append(seed, blockHash...)
	return append(seed, int64ToBytes(int64(index))...)
}

func toABCIEvent(ev surety.Event) abcitypes.Event {
	attrs := make([]abcitypes.EventAttribute, len(ev.Attributes))
	for i, a := range ev.Attributes {
		attrs[i] = abcitypes.EventAttribute{Key: a.Key, Value: a.Value, Index: true}
	}
	return abcitypes.Event{Type: ev.Type, Attributes: attrs}
}

// FromABCIEvent converts a ledger event back into its surety form.
func FromABCIEvent(ev abcitypes.Event) surety.Event {
	attrs := make([]surety.Attribute, len(ev.Attributes))
	for i, a := range ev.Attributes {
		attrs[i] = surety.Attribute{Key: a.Key, Value: a.Value}
	}
	return surety.Event{Type: ev.Type, Attributes: attrs}
}

// calculateAppHash chains the previous app hash with the results of the block.
func calculateAppHash(prev []byte, txResults []*abcitypes.ExecTxResult) []byte {
	hasher := sha256.New()
	hasher.Write(prev)
	code := make([]byte, 4)
	for _, result := range txResults {
		binary.BigEndian.PutUint32(code, result.Code)
		hasher.Write(code)
		hasher.Write(result.Data)
	}
	return hasher.Sum(nil)
}

// int64ToBytes converts an int64 to bytes
func int64ToBytes(i int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(i))
	return buf
}

// bytesToInt64 converts bytes to an int64
func bytesToInt64(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(buf))
}

var _ abcitypes.Application = (*Application)(nil)
