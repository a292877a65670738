package srvreg

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/google/uuid"

	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// Transaction is a signed call from an account to one of the ledger components.
type Transaction struct {
	To        surety.Address  `json:"to"`
	Op        string          `json:"op"`
	Args      json.RawMessage `json:"args,omitempty"`
	Caller    surety.Address  `json:"caller"`
	PubKey    []byte          `json:"pub_key"`
	Value     string          `json:"value,omitempty"`
	Nonce     string          `json:"nonce"`
	Signature []byte          `json:"signature,omitempty"`
}

// NewTransaction builds an unsigned call with a fresh nonce. args is encoded as JSON.
func NewTransaction(to surety.Address, op string, args any) (*Transaction, error) {
	tx := &Transaction{
		To:    to,
		Op:    op,
		Nonce: uuid.NewString(),
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding %s args: %w", op, err)
		}
		tx.Args = raw
	}
	return tx, nil
}

// SignBytes is the canonical encoding covered by the signature.
func (t *Transaction) SignBytes() ([]byte, error) {
	unsigned := *t
	unsigned.Signature = nil
	if len(unsigned.Args) > 0 {
		unsigned.Args = compactJSON(unsigned.Args)
	}
	return json.Marshal(unsigned)
}

// Sign sets the caller, public key and signature from key.
func (t *Transaction) Sign(key crypto.PrivKey) error {
	pub := key.PubKey()
	t.PubKey = pub.Bytes()
	t.Caller = AddressOf(pub)
	msg, err := t.SignBytes()
	if err != nil {
		return err
	}
	sig, err := key.Sign(msg)
	if err != nil {
		return fmt.Errorf("signing transaction: %w", err)
	}
	t.Signature = sig
	return nil
}

// Verify checks that the signature was produced by the key behind Caller.
func (t *Transaction) Verify() error {
	if len(t.PubKey) != ed25519.PubKeySize {
		return errors.New("invalid public key size")
	}
	pub := ed25519.PubKey(t.PubKey)
	if AddressOf(pub) != t.Caller {
		return fmt.Errorf("caller %s does not match public key", t.Caller)
	}
	if t.Nonce == "" {
		return errors.New("missing nonce")
	}
	msg, err := t.SignBytes()
	if err != nil {
		return err
	}
	if !pub.VerifySignature(msg, t.Signature) {
		return errors.New("invalid signature")
	}
	return nil
}

// Hash identifies the transaction, signature included.
func (t *Transaction) Hash() ([]byte, error) {
	raw, err := t.SerializeToBytes()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// SerializeToBytes converts the transaction to a byte array for blockchain storage
func (t *Transaction) SerializeToBytes() ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTransaction parses raw transaction bytes.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("decoding transaction: %w", err)
	}
	tx.To = surety.NormalizeAddress(string(tx.To))
	tx.Caller = surety.NormalizeAddress(string(tx.Caller))
	return &tx, nil
}

// AddressOf derives the account address of a public key.
func AddressOf(pub crypto.PubKey) surety.Address {
	return surety.Address(strings.ToUpper(hex.EncodeToString(pub.Address())))
}

func compactJSON(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return bytes.TrimSpace(raw)
	}
	return buf.Bytes()
}
