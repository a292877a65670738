// Package store exposes the ledger state as a flat key-value space backed by
// badger. State transitions run against an Overlay so that a failed
// transaction never leaves a partial write behind.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// KVStore is the view of ledger state the state machines operate on.
// Get returns (nil, nil) for a missing key.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// BadgerTxn adapts a read-write badger transaction to KVStore.
type BadgerTxn struct {
	txn *badger.Txn
}

// NewBadgerTxn wraps txn.
func NewBadgerTxn(txn *badger.Txn) *BadgerTxn {
	return &BadgerTxn{txn: txn}
}

func (b *BadgerTxn) Get(key []byte) ([]byte, error) {
	item, err := b.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *BadgerTxn) Set(key, value []byte) error {
	return b.txn.Set(key, value)
}

func (b *BadgerTxn) Delete(key []byte) error {
	return b.txn.Delete(key)
}

func (b *BadgerTxn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := b.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}

// GetJSON decodes the value at key into v. It reports false when the key is absent.
func GetJSON(kv KVStore, key []byte, v any) (bool, error) {
	raw, err := kv.Get(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(kv KVStore, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return kv.Set(key, raw)
}

// Key joins parts with '/' into a store key.
func Key(parts ...string) []byte {
	size := 0
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, p...)
	}
	return buf
}

// Prefix is Key with a trailing separator, for iteration.
func Prefix(parts ...string) []byte {
	return append(Key(parts...), '/')
}
