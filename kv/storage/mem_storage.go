package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/Connor1996/badger/y"
	"github.com/petar/GoLLRB/llrb"
	"github.com/pingcap-incubator/tinydoc/kv/util/engine_util"
)

// MemStorage is a Storage backed by memory for testing. Data is not written to disk. Writers are serialized, so
// transactions never conflict; a transaction whose fn fails is rolled back with an undo log.
type MemStorage struct {
	mu   sync.RWMutex
	data *llrb.LLRB
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		data: llrb.New(),
	}
}

func (s *MemStorage) Start() error {
	return nil
}

func (s *MemStorage) Stop() error {
	return nil
}

func (s *MemStorage) Update(ctx context.Context, fn func(txn Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &memTxn{data: s.data, writable: true}
	if err := fn(txn); err != nil {
		txn.rollback()
		return err
	}
	return nil
}

func (s *MemStorage) View(ctx context.Context, fn func(txn Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memTxn{data: s.data})
}

func (s *MemStorage) DeleteRange(ctx context.Context, start, end []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []memItem
	s.data.AscendGreaterOrEqual(memItem{key: start}, func(item llrb.Item) bool {
		it := item.(memItem)
		if engine_util.ExceedEndKey(it.key, end) {
			return false
		}
		keys = append(keys, it)
		return true
	})
	for _, it := range keys {
		s.data.Delete(it)
	}
	return nil
}

// Len returns the number of keys stored.
func (s *MemStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Len()
}

type undoEntry struct {
	key     []byte
	prev    memItem
	existed bool
}

type memTxn struct {
	data     *llrb.LLRB
	writable bool
	undo     []undoEntry
}

func (txn *memTxn) Get(key []byte) ([]byte, error) {
	result := txn.data.Get(memItem{key: key})
	if result == nil {
		return nil, nil
	}
	return result.(memItem).value, nil
}

func (txn *memTxn) Set(key, value []byte) error {
	if !txn.writable {
		return ErrReadOnly
	}
	item := memItem{y.SafeCopy(nil, key), y.SafeCopy(nil, value)}
	if item.value == nil {
		item.value = []byte{}
	}
	txn.record(item.key)
	txn.data.ReplaceOrInsert(item)
	return nil
}

func (txn *memTxn) Delete(key []byte) error {
	if !txn.writable {
		return ErrReadOnly
	}
	txn.record(key)
	txn.data.Delete(memItem{key: key})
	return nil
}

func (txn *memTxn) record(key []byte) {
	prev := txn.data.Get(memItem{key: key})
	entry := undoEntry{key: y.SafeCopy(nil, key)}
	if prev != nil {
		entry.prev = prev.(memItem)
		entry.existed = true
	}
	txn.undo = append(txn.undo, entry)
}

func (txn *memTxn) rollback() {
	for i := len(txn.undo) - 1; i >= 0; i-- {
		entry := txn.undo[i]
		if entry.existed {
			txn.data.ReplaceOrInsert(entry.prev)
		} else {
			txn.data.Delete(memItem{key: entry.key})
		}
	}
	txn.undo = nil
}

func (txn *memTxn) NewIterator() engine_util.DBIterator {
	min := txn.data.Min()
	if min == nil {
		return &memIter{txn.data, memItem{}}
	}
	return &memIter{txn.data, min.(memItem)}
}

type memIter struct {
	data *llrb.LLRB
	item memItem
}

func (it *memIter) Item() engine_util.DBItem {
	return it.item
}
func (it *memIter) Valid() bool {
	return it.item.key != nil
}
func (it *memIter) Next() {
	oldItem := it.item
	it.item = memItem{}
	it.data.AscendGreaterOrEqual(oldItem, func(item llrb.Item) bool {
		// the current key may have been deleted by the txn, so skip by comparison rather than position
		next := item.(memItem)
		if bytes.Equal(next.key, oldItem.key) {
			return true
		}
		it.item = next
		return false
	})
}
func (it *memIter) Seek(key []byte) {
	it.item = memItem{}
	it.data.AscendGreaterOrEqual(memItem{key: key}, func(item llrb.Item) bool {
		it.item = item.(memItem)

		return false
	})
}

func (it *memIter) Close() {}

type memItem struct {
	key   []byte
	value []byte
}

func (it memItem) Key() []byte {
	return it.key
}
func (it memItem) KeyCopy(dst []byte) []byte {
	return y.SafeCopy(dst, it.key)
}
func (it memItem) Value() ([]byte, error) {
	return it.value, nil
}
func (it memItem) ValueCopy(dst []byte) ([]byte, error) {
	return y.SafeCopy(dst, it.value), nil
}

func (it memItem) Less(than llrb.Item) bool {
	other := than.(memItem)
	return bytes.Compare(it.key, other.key) < 0
}
