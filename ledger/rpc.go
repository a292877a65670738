package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	rpcclient "github.com/cometbft/cometbft/rpc/client"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahmadzakiakmal/flightsurety/app"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

const tracerName = "github.com/ahmadzakiakmal/flightsurety/ledger"

// subscriptionKeys names an attribute every event of a type carries, so the
// node can filter subscriptions.
var subscriptionKeys = map[string]string{
	surety.EventRequestOpened:         "index",
	surety.EventOracleReported:        "oracle",
	surety.EventFlightStatusFinalized: "status_code",
}

// RPC is a Ledger backed by a CometBFT RPC client, either local to a node or
// over HTTP.
type RPC struct {
	client rpcclient.Client
	tracer trace.Tracer
}

// NewRPC wraps client. The client must be started for Subscribe to work.
func NewRPC(client rpcclient.Client) *RPC {
	return &RPC{
		client: client,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *RPC) Submit(ctx context.Context, tx *srvreg.Transaction) (*Receipt, error) {
	ctx, span := r.tracer.Start(ctx, "ledger.Submit", trace.WithAttributes(
		attribute.String("op", tx.Op),
		attribute.String("to", string(tx.To)),
		attribute.String("caller", string(tx.Caller)),
	))
	defer span.End()

	raw, err := tx.SerializeToBytes()
	if err != nil {
		return nil, err
	}
	result, err := r.client.BroadcastTxCommit(ctx, cmttypes.Tx(raw))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "broadcast failed")
		return nil, fmt.Errorf("broadcasting %s: %w", tx.Op, err)
	}
	if err := revertedOrNil(result.CheckTx.Code, result.CheckTx.Codespace, result.CheckTx.Log); err != nil {
		span.SetStatus(codes.Error, "check tx rejected")
		return nil, err
	}
	if err := revertedOrNil(result.TxResult.Code, result.TxResult.Codespace, result.TxResult.Log); err != nil {
		span.SetAttributes(attribute.Int("code", int(result.TxResult.Code)))
		span.SetStatus(codes.Error, "reverted")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("height", result.Height))

	events := make([]surety.Event, 0, len(result.TxResult.Events))
	for _, ev := range result.TxResult.Events {
		events = append(events, app.FromABCIEvent(ev))
	}
	return &Receipt{
		Hash:   hex.EncodeToString(result.Hash),
		Height: result.Height,
		Result: result.TxResult.Data,
		Events: events,
	}, nil
}

func (r *RPC) Query(ctx context.Context, path string, out any) error {
	ctx, span := r.tracer.Start(ctx, "ledger.Query", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	result, err := r.client.ABCIQuery(ctx, path, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("querying %s: %w", path, err)
	}
	if err := revertedOrNil(result.Response.Code, result.Response.Codespace, result.Response.Log); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(result.Response.Value, out)
}

func (r *RPC) Subscribe(ctx context.Context, types ...string) (<-chan Notification, error) {
	subscriber := "flightsurety-" + uuid.NewString()
	query := subscriptionQuery(types)
	in, err := r.client.Subscribe(ctx, subscriber, query, 256)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %q: %w", query, err)
	}

	wanted := wantedTypes(types)
	out := make(chan Notification, 256)
	go func() {
		defer close(out)
		defer func() {
			_ = r.client.Unsubscribe(context.Background(), subscriber, query)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				data, ok := msg.Data.(cmttypes.EventDataTx)
				if !ok || data.Result.Code != 0 {
					continue
				}
				hash := hex.EncodeToString(cmttypes.Tx(data.Tx).Hash())
				for _, ev := range data.Result.Events {
					if wanted != nil && !wanted[ev.Type] {
						continue
					}
					n := Notification{Height: data.Height, TxHash: hash, Event: app.FromABCIEvent(ev)}
					select {
					case out <- n:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func subscriptionQuery(types []string) string {
	q := []string{"tm.event='Tx'"}
	if len(types) == 1 {
		if attr, ok := subscriptionKeys[types[0]]; ok {
			q = append(q, fmt.Sprintf("%s.%s EXISTS", types[0], attr))
		}
	}
	return strings.Join(q, " AND ")
}
