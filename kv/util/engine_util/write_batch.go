package engine_util

import (
	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

// WriteBatch buffers sets and deletes and applies them to badger in a single transaction.
// An entry with an empty value is a delete.
type WriteBatch struct {
	entries []*badger.Entry
}

func (wb *WriteBatch) Len() int {
	return len(wb.entries)
}

func (wb *WriteBatch) Set(key, val []byte) {
	wb.entries = append(wb.entries, &badger.Entry{Key: key, Value: val})
}

func (wb *WriteBatch) Delete(key []byte) {
	wb.entries = append(wb.entries, &badger.Entry{Key: key})
}

// WriteToDB commits the buffered entries. The batch is left untouched, call Reset to reuse it.
func (wb *WriteBatch) WriteToDB(db *badger.DB) error {
	if len(wb.entries) == 0 {
		return nil
	}
	err := db.Update(func(txn *badger.Txn) error {
		for _, entry := range wb.entries {
			var err error
			if len(entry.Value) == 0 {
				err = txn.Delete(entry.Key)
			} else {
				err = txn.SetEntry(entry)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return errors.WithStack(err)
}

func (wb *WriteBatch) Reset() {
	wb.entries = wb.entries[:0]
}
