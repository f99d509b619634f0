package engine_util

import (
	"github.com/Connor1996/badger"
)

// DBIterator walks keys in ascending byte order. Callers must check Valid after every Seek and Next.
type DBIterator interface {
	Item() DBItem
	Valid() bool
	Next()
	// Seek moves to key, or to the first key after it when key is absent.
	Seek([]byte)
	Close()
}

// DBItem is the entry under an iterator. Key and Value are only valid until the iterator moves; use the Copy
// variants to keep them.
type DBItem interface {
	Key() []byte
	KeyCopy(dst []byte) []byte
	Value() ([]byte, error)
	ValueCopy(dst []byte) ([]byte, error)
}

// BadgerIterator adapts a badger iterator over the whole keyspace of a transaction.
type BadgerIterator struct {
	iter *badger.Iterator
}

func NewIterator(txn *badger.Txn) *BadgerIterator {
	return &BadgerIterator{
		iter: txn.NewIterator(badger.DefaultIteratorOptions),
	}
}

func (it *BadgerIterator) Item() DBItem { return it.iter.Item() }

func (it *BadgerIterator) Valid() bool { return it.iter.Valid() }

func (it *BadgerIterator) Next() { it.iter.Next() }

func (it *BadgerIterator) Seek(key []byte) { it.iter.Seek(key) }

func (it *BadgerIterator) Close() { it.iter.Close() }
