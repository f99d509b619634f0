package engine_util

import (
	"bytes"

	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

// GetFromTxn returns a copy of the value stored under key. badger.ErrKeyNotFound is returned unwrapped so
// callers can compare against it.
func GetFromTxn(txn *badger.Txn, key []byte) (val []byte, err error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	// the item is only valid until the txn ends
	val, err = item.ValueCopy(val)
	return
}

// DeleteRange removes every key in [startKey, endKey). Keys are deleted in batches of at most batchSize
// entries, each batch in its own transaction, so the whole range is not removed atomically.
// It returns the number of deleted keys.
func DeleteRange(db *badger.DB, startKey, endKey []byte, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultDeleteBatch
	}
	deleted := 0
	batch := new(WriteBatch)
	for {
		batch.Reset()
		err := db.View(func(txn *badger.Txn) error {
			it := NewIterator(txn)
			defer it.Close()
			for it.Seek(startKey); it.Valid(); it.Next() {
				key := it.Item().KeyCopy(nil)
				if ExceedEndKey(key, endKey) || batch.Len() >= batchSize {
					break
				}
				batch.Delete(key)
			}
			return nil
		})
		if err != nil {
			return deleted, errors.WithStack(err)
		}
		if batch.Len() == 0 {
			return deleted, nil
		}
		if err = batch.WriteToDB(db); err != nil {
			return deleted, err
		}
		deleted += batch.Len()
	}
}

const defaultDeleteBatch = 1024

// ExceedEndKey reports whether current is at or past endKey. An empty endKey is unbounded.
func ExceedEndKey(current, endKey []byte) bool {
	if len(endKey) == 0 {
		return false
	}
	return bytes.Compare(current, endKey) >= 0
}
