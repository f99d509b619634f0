package badger_storage

import (
	"context"
	"encoding/binary"
	"io/ioutil"
	"os"
	"sync"
	"testing"

	"github.com/pingcap-incubator/tinydoc/kv/config"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) (*BadgerStorage, func()) {
	dir, err := ioutil.TempDir("", "badger_storage")
	require.Nil(t, err)
	conf := config.NewTestConfig()
	conf.Engine.DBPath = dir
	conf.Engine.SyncWrites = false
	conf.Engine.MaxRetries = 1000
	s := NewBadgerStorage(&conf.Engine)
	require.Nil(t, s.Start())
	return s, func() {
		s.Stop()
		os.RemoveAll(dir)
	}
}

func TestReadWrite(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	err := s.Update(ctx, func(txn storage.Txn) error {
		require.Nil(t, txn.Set([]byte("a"), []byte("x")))
		require.Nil(t, txn.Set([]byte("b"), []byte("y")))
		val, err := txn.Get([]byte("a"))
		require.Nil(t, err)
		assert.Equal(t, []byte("x"), val)
		return nil
	})
	require.Nil(t, err)

	err = s.View(ctx, func(txn storage.Txn) error {
		val, err := txn.Get([]byte("missing"))
		require.Nil(t, err)
		assert.Nil(t, val)

		var keys []string
		err = storage.Scan(txn, []byte("a"), nil, func(key, value []byte) (bool, error) {
			keys = append(keys, string(key)+"="+string(value))
			return true, nil
		})
		require.Nil(t, err)
		assert.Equal(t, []string{"a=x", "b=y"}, keys)
		assert.Equal(t, storage.ErrReadOnly, txn.Set([]byte("c"), []byte("z")))
		return nil
	})
	require.Nil(t, err)
}

func TestAbortedUpdateLeavesNoTrace(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	injected := errors.New("injected")
	err := s.Update(ctx, func(txn storage.Txn) error {
		require.Nil(t, txn.Set([]byte("a"), []byte("x")))
		return injected
	})
	assert.Equal(t, injected, err)

	err = s.View(ctx, func(txn storage.Txn) error {
		val, err := txn.Get([]byte("a"))
		assert.Nil(t, val)
		return err
	})
	require.Nil(t, err)
}

func TestConflictRetry(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	key := []byte("counter")

	const workers, rounds = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				err := s.Update(ctx, func(txn storage.Txn) error {
					val, err := txn.Get(key)
					if err != nil {
						return err
					}
					var n uint64
					if val != nil {
						n = binary.BigEndian.Uint64(val)
					}
					buf := make([]byte, 8)
					binary.BigEndian.PutUint64(buf, n+1)
					return txn.Set(key, buf)
				})
				assert.Nil(t, err)
			}
		}()
	}
	wg.Wait()

	err := s.View(ctx, func(txn storage.Txn) error {
		val, err := txn.Get(key)
		require.Nil(t, err)
		assert.Equal(t, uint64(workers*rounds), binary.BigEndian.Uint64(val))
		return nil
	})
	require.Nil(t, err)
}

func TestDeleteRange(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	err := s.Update(ctx, func(txn storage.Txn) error {
		for _, k := range []string{"a", "b1", "b2", "c"} {
			if err := txn.Set([]byte(k), []byte("v")); err != nil {
				return err
			}
		}
		return nil
	})
	require.Nil(t, err)
	require.Nil(t, s.DeleteRange(ctx, []byte("b"), []byte("c")))

	err = s.View(ctx, func(txn storage.Txn) error {
		n := 0
		err := storage.Scan(txn, nil, nil, func(key, value []byte) (bool, error) {
			n++
			return true, nil
		})
		assert.Equal(t, 2, n)
		return err
	})
	require.Nil(t, err)
}
