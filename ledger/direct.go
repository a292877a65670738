package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"

	"github.com/ahmadzakiakmal/flightsurety/app"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// Direct is a single-node Ledger that drives an Application in process,
// committing one block per transaction. It is meant for tests and local
// simulation.
type Direct struct {
	app    *app.Application
	mu     sync.Mutex
	height int64
	now    func() time.Time

	subMu sync.Mutex
	subs  map[*subscription]struct{}
}

// NewDirect returns a ledger over a. The application must already be initialised.
func NewDirect(a *app.Application) *Direct {
	return &Direct{
		app:  a,
		now:  time.Now,
		subs: make(map[*subscription]struct{}),
	}
}

// InitDirect runs InitChain with params and returns the ledger.
func InitDirect(ctx context.Context, a *app.Application, params surety.Params) (*Direct, error) {
	appState, err := json.Marshal(app.Genesis{Params: params})
	if err != nil {
		return nil, err
	}
	if _, err := a.InitChain(ctx, &abcitypes.InitChainRequest{ChainId: "flightsurety-direct", AppStateBytes: appState}); err != nil {
		return nil, err
	}
	return NewDirect(a), nil
}

func (d *Direct) Submit(ctx context.Context, tx *srvreg.Transaction) (*Receipt, error) {
	raw, err := tx.SerializeToBytes()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	check, err := d.app.CheckTx(ctx, &abcitypes.CheckTxRequest{Tx: raw})
	if err != nil {
		return nil, err
	}
	if err := revertedOrNil(check.Code, check.Codespace, check.Log); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.height++
	height := d.height
	blockHash := make([]byte, 8)
	binary.BigEndian.PutUint64(blockHash, uint64(height))
	sum := sha256.Sum256(append(blockHash, raw...))
	res, err := d.app.FinalizeBlock(ctx, &abcitypes.FinalizeBlockRequest{
		Txs:    [][]byte{raw},
		Hash:   sum[:],
		Height: height,
		Time:   d.now(),
	})
	if err == nil {
		_, err = d.app.Commit(ctx, &abcitypes.CommitRequest{})
	}
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	result := res.TxResults[0]
	txHash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	hash := hex.EncodeToString(txHash)
	if err := revertedOrNil(result.Code, result.Codespace, result.Log); err != nil {
		return nil, err
	}

	events := make([]surety.Event, 0, len(result.Events))
	for _, ev := range result.Events {
		events = append(events, app.FromABCIEvent(ev))
	}
	d.publish(height, hash, events)
	return &Receipt{Hash: hash, Height: height, Result: result.Data, Events: events}, nil
}

func (d *Direct) Query(ctx context.Context, path string, out any) error {
	res, err := d.app.Query(ctx, &abcitypes.QueryRequest{Path: path})
	if err != nil {
		return err
	}
	if err := revertedOrNil(res.Code, res.Codespace, res.Log); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(res.Value, out)
}

func (d *Direct) Subscribe(ctx context.Context, types ...string) (<-chan Notification, error) {
	s := &subscription{
		wanted: wantedTypes(types),
		notify: make(chan struct{}, 1),
		out:    make(chan Notification),
	}
	d.subMu.Lock()
	d.subs[s] = struct{}{}
	d.subMu.Unlock()

	go func() {
		s.pump(ctx)
		d.subMu.Lock()
		delete(d.subs, s)
		d.subMu.Unlock()
	}()
	return s.out, nil
}

func (d *Direct) publish(height int64, hash string, events []surety.Event) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for s := range d.subs {
		s.push(height, hash, events)
	}
}

// subscription buffers without bound so that publishing never blocks a
// submitter on a slow consumer.
type subscription struct {
	wanted map[string]bool
	mu     sync.Mutex
	queue  []Notification
	notify chan struct{}
	out    chan Notification
}

func (s *subscription) push(height int64, hash string, events []surety.Event) {
	s.mu.Lock()
	for _, ev := range events {
		if s.wanted != nil && !s.wanted[ev.Type] {
			continue
		}
		s.queue = append(s.queue, Notification{Height: height, TxHash: hash, Event: ev})
	}
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next *Notification
		if len(s.queue) > 0 {
			n := s.queue[0]
			s.queue = s.queue[1:]
			next = &n
		}
		s.mu.Unlock()

		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case s.out <- *next:
		}
	}
}
