package storage

import (
	"context"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(t *testing.T, s Storage, kvs ...string) {
	err := s.Update(context.Background(), func(txn Txn) error {
		for i := 0; i+1 < len(kvs); i += 2 {
			if err := txn.Set([]byte(kvs[i]), []byte(kvs[i+1])); err != nil {
				return err
			}
		}
		return nil
	})
	require.Nil(t, err)
}

func get(t *testing.T, s Storage, key string) []byte {
	var val []byte
	err := s.View(context.Background(), func(txn Txn) (err error) {
		val, err = txn.Get([]byte(key))
		return
	})
	require.Nil(t, err)
	return val
}

func TestMemStorageReadWrite(t *testing.T) {
	s := NewMemStorage()
	put(t, s, "a", "1", "b", "2")
	assert.Equal(t, []byte("1"), get(t, s, "a"))
	assert.Nil(t, get(t, s, "missing"))

	err := s.Update(context.Background(), func(txn Txn) error {
		require.Nil(t, txn.Set([]byte("c"), []byte("3")))
		// reads its own writes
		val, err := txn.Get([]byte("c"))
		require.Nil(t, err)
		assert.Equal(t, []byte("3"), val)
		return txn.Delete([]byte("a"))
	})
	require.Nil(t, err)
	assert.Nil(t, get(t, s, "a"))
	assert.Equal(t, 2, s.Len())
}

func TestMemStorageRollback(t *testing.T) {
	s := NewMemStorage()
	put(t, s, "a", "1", "b", "2")

	injected := errors.New("injected")
	err := s.Update(context.Background(), func(txn Txn) error {
		require.Nil(t, txn.Set([]byte("a"), []byte("changed")))
		require.Nil(t, txn.Delete([]byte("b")))
		require.Nil(t, txn.Set([]byte("c"), []byte("new")))
		require.Nil(t, txn.Set([]byte("c"), []byte("newer")))
		return injected
	})
	assert.Equal(t, injected, err)
	assert.Equal(t, []byte("1"), get(t, s, "a"))
	assert.Equal(t, []byte("2"), get(t, s, "b"))
	assert.Nil(t, get(t, s, "c"))
	assert.Equal(t, 2, s.Len())
}

func TestMemStorageReadOnly(t *testing.T) {
	s := NewMemStorage()
	err := s.View(context.Background(), func(txn Txn) error {
		return txn.Set([]byte("a"), []byte("1"))
	})
	assert.Equal(t, ErrReadOnly, err)
}

func TestMemStorageScan(t *testing.T) {
	s := NewMemStorage()
	put(t, s, "a", "1", "b1", "2", "b2", "3", "b3", "4", "c", "5")

	var keys []string
	err := s.View(context.Background(), func(txn Txn) error {
		return Scan(txn, []byte("b"), []byte("c"), func(key, value []byte) (bool, error) {
			keys = append(keys, string(key))
			return len(keys) < 2, nil
		})
	})
	require.Nil(t, err)
	assert.Equal(t, []string{"b1", "b2"}, keys)
}

func TestMemStorageIterateWhileDeleting(t *testing.T) {
	s := NewMemStorage()
	put(t, s, "a", "1", "b", "2", "c", "3")

	var keys []string
	err := s.Update(context.Background(), func(txn Txn) error {
		return Scan(txn, []byte("a"), nil, func(key, value []byte) (bool, error) {
			keys = append(keys, string(key))
			return true, txn.Delete(key)
		})
	})
	require.Nil(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	assert.Equal(t, 0, s.Len())
}

func TestMemStorageDeleteRange(t *testing.T) {
	s := NewMemStorage()
	put(t, s, "a", "1", "b1", "2", "b2", "3", "c", "4")
	require.Nil(t, s.DeleteRange(context.Background(), []byte("b"), []byte("c")))
	assert.Equal(t, 2, s.Len())
	assert.NotNil(t, get(t, s, "c"))
}

func TestMemStorageCancelled(t *testing.T) {
	s := NewMemStorage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Update(ctx, func(txn Txn) error { return nil })
	assert.Equal(t, context.Canceled, err)
}
