package store

import (
	"bytes"
	"sort"
)

// Overlay buffers writes on top of a parent store until Write is called.
type Overlay struct {
	parent  KVStore
	writes  map[string][]byte
	deletes map[string]bool
}

// NewOverlay returns an empty overlay over parent.
func NewOverlay(parent KVStore) *Overlay {
	return &Overlay{
		parent:  parent,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if o.deletes[k] {
		return nil, nil
	}
	if v, ok := o.writes[k]; ok {
		return append([]byte{}, v...), nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Set(key, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte{}, value...)
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = true
	return nil
}

// Iterate visits the merged view in ascending key order.
func (o *Overlay) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	err := o.parent.Iterate(prefix, func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	})
	if err != nil {
		return err
	}
	for k, v := range o.writes {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}
	for k := range o.deletes {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// Write flushes buffered changes to the parent in key order and resets the overlay.
func (o *Overlay) Write() error {
	keys := make([]string, 0, len(o.writes)+len(o.deletes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	for k := range o.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if o.deletes[k] {
			if err := o.parent.Delete([]byte(k)); err != nil {
				return err
			}
			continue
		}
		if err := o.parent.Set([]byte(k), o.writes[k]); err != nil {
			return err
		}
	}
	o.Discard()
	return nil
}

// Discard drops every buffered change.
func (o *Overlay) Discard() {
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]bool)
}

// Dirty reports whether the overlay holds unwritten changes.
func (o *Overlay) Dirty() bool {
	return len(o.writes) > 0 || len(o.deletes) > 0
}
