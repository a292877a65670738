package store_test

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/flightsurety/store"
)

func openInMemory(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerTxnMissingKey(t *testing.T) {
	db := openInMemory(t)
	txn := db.NewTransaction(true)
	defer txn.Discard()

	kv := store.NewBadgerTxn(txn)
	v, err := kv.Get([]byte("nope"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOverlayDiscardLeavesParentUntouched(t *testing.T) {
	db := openInMemory(t)
	txn := db.NewTransaction(true)
	defer txn.Discard()
	parent := store.NewBadgerTxn(txn)
	require.NoError(t, parent.Set([]byte("a"), []byte("1")))

	o := store.NewOverlay(parent)
	require.NoError(t, o.Set([]byte("a"), []byte("2")))
	require.NoError(t, o.Set([]byte("b"), []byte("3")))

	v, err := o.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	o.Discard()
	v, err = parent.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	v, err = parent.Get([]byte("b"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOverlayWriteFlushes(t *testing.T) {
	db := openInMemory(t)
	txn := db.NewTransaction(true)
	defer txn.Discard()
	parent := store.NewBadgerTxn(txn)
	require.NoError(t, parent.Set([]byte("x/1"), []byte("old")))

	o := store.NewOverlay(parent)
	require.NoError(t, o.Delete([]byte("x/1")))
	require.NoError(t, o.Set([]byte("x/2"), []byte("new")))
	assert.True(t, o.Dirty())
	require.NoError(t, o.Write())
	assert.False(t, o.Dirty())

	v, err := parent.Get([]byte("x/1"))
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = parent.Get([]byte("x/2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}

func TestOverlayIterateMergesInOrder(t *testing.T) {
	db := openInMemory(t)
	txn := db.NewTransaction(true)
	defer txn.Discard()
	parent := store.NewBadgerTxn(txn)
	require.NoError(t, parent.Set(store.Key("p", "b"), []byte("pb")))
	require.NoError(t, parent.Set(store.Key("p", "c"), []byte("pc")))
	require.NoError(t, parent.Set(store.Key("q", "z"), []byte("qz")))

	o := store.NewOverlay(parent)
	require.NoError(t, o.Set(store.Key("p", "a"), []byte("oa")))
	require.NoError(t, o.Delete(store.Key("p", "c")))

	var keys, values []string
	err := o.Iterate(store.Prefix("p"), func(k, v []byte) error {
		keys = append(keys, string(k))
		values = append(values, string(v))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p/a", "p/b"}, keys)
	assert.Equal(t, []string{"oa", "pb"}, values)
}

func TestJSONHelpers(t *testing.T) {
	db := openInMemory(t)
	txn := db.NewTransaction(true)
	defer txn.Discard()
	kv := store.NewOverlay(store.NewBadgerTxn(txn))

	type record struct {
		Name string `json:"name"`
	}
	found, err := store.GetJSON(kv, []byte("r"), &record{})
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SetJSON(kv, []byte("r"), record{Name: "FlyRed"}))
	var got record
	found, err = store.GetJSON(kv, []byte("r"), &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "FlyRed", got.Name)
}
