package storage

import (
	"context"
	"fmt"

	"github.com/pingcap-incubator/tinydoc/kv/util/engine_util"
	"github.com/pingcap/errors"
)

// Storage is a transactional, ordered key-value store. Every document, change-log entry, index entry and database
// record lives in one shared keyspace of a Storage.
type Storage interface {
	Start() error
	Stop() error
	// Update runs fn in a read-write transaction and commits it when fn returns nil. When the commit conflicts
	// with a concurrent transaction fn is run again on a fresh transaction, so fn must not have side effects
	// outside the transaction. An error returned by fn aborts the transaction and is returned unchanged.
	Update(ctx context.Context, fn func(txn Txn) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(txn Txn) error) error
	// DeleteRange removes every key in [start, end). It is not atomic, large ranges are removed in batches.
	DeleteRange(ctx context.Context, start, end []byte) error
}

// Txn is a single transaction against a Storage. A Txn reads its own writes.
type Txn interface {
	// Get returns the value of key, or nil without an error when the key does not exist.
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// NewIterator returns an iterator over the whole keyspace. It must be closed before the txn ends.
	NewIterator() engine_util.DBIterator
}

var (
	// ErrConflict is returned when a transaction kept conflicting with concurrent writers after all retries.
	ErrConflict = errors.New("transaction conflict")
	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("write in read-only transaction")
)

// ErrStoreUnavailable wraps a failure of the underlying store that is not a conflict.
type ErrStoreUnavailable struct {
	Err error
}

func (e *ErrStoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

// Scan calls fn for every key in [start, end) in ascending order until fn returns false or an error.
// An empty end scans to the end of the keyspace. The slices passed to fn are only valid during the call.
func Scan(txn Txn, start, end []byte, fn func(key, value []byte) (bool, error)) error {
	it := txn.NewIterator()
	defer it.Close()
	for it.Seek(start); it.Valid(); it.Next() {
		item := it.Item()
		if engine_util.ExceedEndKey(item.Key(), end) {
			break
		}
		val, err := item.Value()
		if err != nil {
			return errors.WithStack(err)
		}
		more, err := fn(item.Key(), val)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}
