// Package ledger connects off-ledger components to the FlightSurety chain:
// submitting signed calls, reading state and following emitted events.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/holiman/uint256"

	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// Ledger is the chain as seen by a client.
type Ledger interface {
	// Submit broadcasts a signed transaction and waits until it is committed.
	// A rejected transaction returns a *Reverted error.
	Submit(ctx context.Context, tx *srvreg.Transaction) (*Receipt, error)
	// Query decodes the JSON answer for path into out.
	Query(ctx context.Context, path string, out any) error
	// Subscribe streams events of the given types from committed, successful
	// transactions. The channel closes when ctx is done.
	Subscribe(ctx context.Context, types ...string) (<-chan Notification, error)
}

// Receipt describes a committed transaction.
type Receipt struct {
	Hash   string
	Height int64
	Result json.RawMessage
	Events []surety.Event
}

// Decode unmarshals the receipt result into v.
func (r *Receipt) Decode(v any) error {
	if len(r.Result) == 0 {
		return errors.New("empty result")
	}
	return json.Unmarshal(r.Result, v)
}

// Notification is an event together with where it was emitted.
type Notification struct {
	Height int64
	TxHash string
	Event  surety.Event
}

// Reverted is a transaction or query rejected by the ledger.
type Reverted struct {
	Code      uint32
	Codespace string
	Log       string
}

func (r *Reverted) Error() string {
	return fmt.Sprintf("reverted (%s/%d): %s", r.Codespace, r.Code, r.Log)
}

// Unwrap exposes the surety sentinel so errors.Is works across the ledger.
func (r *Reverted) Unwrap() error {
	if r.Codespace != surety.Codespace {
		return nil
	}
	if e := surety.FromCode(r.Code); e != nil {
		return e
	}
	return nil
}

func revertedOrNil(code uint32, codespace, log string) error {
	if code == 0 {
		return nil
	}
	return &Reverted{Code: code, Codespace: codespace, Log: log}
}

// Signer holds an account key.
type Signer struct {
	key     crypto.PrivKey
	address surety.Address
}

// NewSigner wraps key.
func NewSigner(key crypto.PrivKey) *Signer {
	return &Signer{key: key, address: srvreg.AddressOf(key.PubKey())}
}

// SignerFromSecret derives a deterministic key from secret.
func SignerFromSecret(secret string) *Signer {
	return NewSigner(ed25519.GenPrivKeyFromSecret([]byte(secret)))
}

func (s *Signer) Address() surety.Address {
	return s.address
}

// Client signs calls as one account and submits them to a Ledger.
type Client struct {
	Ledger Ledger
	Signer *Signer
}

// NewClient returns a client acting as signer.
func NewClient(l Ledger, signer *Signer) *Client {
	return &Client{Ledger: l, Signer: signer}
}

// Call invokes op on the component at to, attaching value wei (nil for none).
func (c *Client) Call(ctx context.Context, to surety.Address, op string, args any, value *uint256.Int) (*Receipt, error) {
	tx, err := srvreg.NewTransaction(to, op, args)
	if err != nil {
		return nil, err
	}
	if value != nil && !value.IsZero() {
		tx.Value = value.Dec()
	}
	if err := tx.Sign(c.Signer.key); err != nil {
		return nil, err
	}
	return c.Ledger.Submit(ctx, tx)
}

func wantedTypes(types []string) map[string]bool {
	if len(types) == 0 {
		return nil
	}
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}
