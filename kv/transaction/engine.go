package transaction

import (
	"bytes"
	"context"
	"time"

	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/keys"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
	"github.com/pingcap-incubator/tinydoc/kv/transaction/latches"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Engine applies document mutations. Each call commits the document body, its change-log entry, its index
// entries and the database record in one store transaction.
type Engine struct {
	storage storage.Storage
	latches *latches.Latches
}

func NewEngine(st storage.Storage) *Engine {
	return &Engine{
		storage: st,
		latches: latches.NewLatches(),
	}
}

// Storage returns the store the engine writes to.
func (e *Engine) Storage() storage.Storage {
	return e.storage
}

// Latches exposes the write latches so tests can install a validation hook.
func (e *Engine) Latches() *latches.Latches {
	return e.latches
}

// Change is the value of a change-log entry.
type Change struct {
	ID      string `bson:"id"`
	Deleted bool   `bson:"deleted,omitempty"`
}

// DecodeChange decodes the value of a change-log entry.
func DecodeChange(val []byte) (Change, error) {
	var c Change
	err := bson.Unmarshal(val, &c)
	return c, errors.WithStack(err)
}

// WriteOne writes doc under id. A doc with `_deleted: true` deletes the document.
func (e *Engine) WriteOne(ctx context.Context, db, id string, doc document.Document) error {
	if doc == nil {
		doc = document.Document{}
	}
	withID := make(document.Document, len(doc)+1)
	for k, v := range doc {
		withID[k] = v
	}
	withID[document.FieldID] = id
	return e.WriteBatch(ctx, db, []document.Document{withID})
}

// WriteBatch writes every doc, identified by its _id, in a single transaction. Either all of them commit or none
// does.
func (e *Engine) WriteBatch(ctx context.Context, db string, docs []document.Document) error {
	for _, doc := range docs {
		if id := doc.ID(); !document.ValidID(id) {
			return invalidArgument("invalid document id %q", id)
		}
	}
	err := e.write(ctx, "batch", db, func(txn storage.Txn, rec *Database) error {
		for _, doc := range docs {
			if err := writeDoc(txn, rec, doc.ID(), doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	writtenDocsCounter.Add(float64(len(docs)))
	return nil
}

// UpdateFunc computes the next version of a document from the current one. old is nil when the document does not
// exist. Returning a nil document leaves the document untouched.
type UpdateFunc func(old document.Document) (document.Document, error)

// Update reads the current version of a document and writes what fn returns, in one transaction. fn may run more
// than once when the transaction conflicts.
func (e *Engine) Update(ctx context.Context, db, id string, fn UpdateFunc) error {
	if !document.ValidID(id) {
		return invalidArgument("invalid document id %q", id)
	}
	written := false
	err := e.write(ctx, "update", db, func(txn storage.Txn, rec *Database) error {
		written = false
		old, err := LoadDocument(txn, db, id)
		if err != nil {
			return err
		}
		if old != nil {
			old.Stamp(id)
		}
		doc, err := fn(old)
		if err != nil || doc == nil {
			return err
		}
		written = true
		return writeDoc(txn, rec, id, doc)
	})
	if err == nil && written {
		writtenDocsCounter.Inc()
	}
	return err
}

// Purge removes documents without leaving a change-log entry. It returns the ids that existed.
func (e *Engine) Purge(ctx context.Context, db string, ids []string) ([]string, error) {
	var purged []string
	err := e.write(ctx, "purge", db, func(txn storage.Txn, rec *Database) error {
		purged = purged[:0]
		for _, id := range ids {
			old, err := LoadDocument(txn, db, id)
			if err != nil {
				return err
			}
			if old == nil {
				continue
			}
			for field, v := range old.IndexedValues(rec.Indexes) {
				if err = txn.Delete(keys.IndexKey(db, field, v, id)); err != nil {
					return err
				}
			}
			if err = txn.Delete(keys.DocumentKey(db, id)); err != nil {
				return err
			}
			rec.DocCount--
			rec.PurgeSeq++
			purged = append(purged, id)
		}
		return nil
	})
	return purged, err
}

// write runs fn in a store transaction with the database record loaded, then saves the record.
func (e *Engine) write(ctx context.Context, op, db string, fn func(txn storage.Txn, rec *Database) error) error {
	start := time.Now()
	latched := [][]byte{keys.DatabaseKey(db)}
	if err := e.latches.WaitForLatches(ctx, latched); err != nil {
		return err
	}
	defer e.latches.ReleaseLatches(latched)
	e.latches.Validate(latched)

	err := e.storage.Update(ctx, func(txn storage.Txn) error {
		rec, err := LoadDatabase(txn, db)
		if err != nil {
			return err
		}
		if err = fn(txn, rec); err != nil {
			return err
		}
		return saveDatabase(txn, rec)
	})
	writeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		writeFailureCounter.WithLabelValues(op).Inc()
		if _, ok := errors.Cause(err).(*storage.ErrStoreUnavailable); ok {
			log.Error("write failed", zap.String("op", op), zap.String("db", db), zap.Error(err))
		}
	}
	return err
}

// writeDoc stores doc as the new version of id: stale index entries are cleared, new ones set, the body replaced
// (or removed for a deletion) and one change-log entry appended under the next sequence.
func writeDoc(txn storage.Txn, rec *Database, id string, doc document.Document) error {
	db := rec.Name
	old, err := LoadDocument(txn, db, id)
	if err != nil {
		return err
	}
	deleted := doc.Deleted()

	oldValues := old.IndexedValues(rec.Indexes)
	newValues := map[string]interface{}{}
	if !deleted {
		newValues = doc.IndexedValues(rec.Indexes)
	}
	for field, ov := range oldValues {
		if nv, ok := newValues[field]; ok && sameIndexValue(ov, nv) {
			continue
		}
		if err = txn.Delete(keys.IndexKey(db, field, ov, id)); err != nil {
			return err
		}
	}
	for field, nv := range newValues {
		if ov, ok := oldValues[field]; ok && sameIndexValue(ov, nv) {
			continue
		}
		if err = txn.Set(keys.IndexKey(db, field, nv, id), []byte(id)); err != nil {
			return err
		}
	}

	docKey := keys.DocumentKey(db, id)
	if deleted {
		if err = txn.Delete(docKey); err != nil {
			return err
		}
		if old != nil {
			rec.DocCount--
			rec.DocDelCount++
		}
	} else {
		body, err := document.Marshal(doc.Body())
		if err != nil {
			return err
		}
		if err = txn.Set(docKey, body); err != nil {
			return err
		}
		if old == nil {
			rec.DocCount++
		}
	}

	rec.UpdateSeq++
	change, err := bson.Marshal(Change{ID: id, Deleted: deleted})
	if err != nil {
		return errors.WithStack(err)
	}
	return txn.Set(keys.ChangeKey(db, rec.UpdateSeq), change)
}

func sameIndexValue(a, b interface{}) bool {
	return bytes.Equal(keys.AppendIndexValue(nil, a), keys.AppendIndexValue(nil, b))
}
