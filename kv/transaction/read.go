package transaction

import (
	"context"

	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/keys"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
)

// LoadDocument reads the stored body of id inside txn. It returns nil without an error when the document does not
// exist or is deleted. The result carries neither _id nor _rev.
func LoadDocument(txn storage.Txn, db, id string) (document.Document, error) {
	val, err := txn.Get(keys.DocumentKey(db, id))
	if err != nil || val == nil {
		return nil, err
	}
	return document.Unmarshal(val)
}

// Get returns the current version of a live document, stamped with _id and _rev.
func (e *Engine) Get(ctx context.Context, db, id string) (document.Document, error) {
	var doc document.Document
	err := e.storage.View(ctx, func(txn storage.Txn) error {
		if _, err := LoadDatabase(txn, db); err != nil {
			return err
		}
		var err error
		doc, err = LoadDocument(txn, db, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return &ErrDocumentNotFound{Database: db, ID: id}
		}
		doc.Stamp(id)
		return nil
	})
	return doc, err
}

const DefaultListLimit = 100

// AllDocsOptions selects a page of live documents in id order.
type AllDocsOptions struct {
	// StartKey and EndKey bound the ids, both inclusive. Empty means unbounded.
	StartKey string
	EndKey   string
	// After resumes a listing strictly after this id. It wins over StartKey.
	After       string
	Limit       int
	Skip        int
	IncludeDocs bool
}

type AllDocsRow struct {
	ID    string            `json:"id"`
	Key   string            `json:"key"`
	Value map[string]string `json:"value"`
	Doc   document.Document `json:"doc,omitempty"`
}

type AllDocsResult struct {
	TotalRows int64         `json:"total_rows"`
	Offset    int           `json:"offset"`
	Rows      []*AllDocsRow `json:"rows"`
}

// AllDocs lists live documents of db in ascending id order.
func (e *Engine) AllDocs(ctx context.Context, db string, opts AllDocsOptions) (*AllDocsResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Skip < 0 {
		return nil, invalidArgument("skip must not be negative")
	}
	prefix := keys.DocumentPrefix(db)
	start, end := prefix, keys.PrefixEnd(prefix)
	if opts.StartKey != "" {
		start = keys.DocumentKey(db, opts.StartKey)
	}
	if opts.After != "" {
		start = keys.PrefixEnd(keys.DocumentKey(db, opts.After))
	}
	if opts.EndKey != "" {
		end = keys.PrefixEnd(keys.DocumentKey(db, opts.EndKey))
	}

	result := &AllDocsResult{Offset: opts.Skip, Rows: []*AllDocsRow{}}
	err := e.storage.View(ctx, func(txn storage.Txn) error {
		rec, err := LoadDatabase(txn, db)
		if err != nil {
			return err
		}
		result.TotalRows = rec.DocCount
		skipped := 0
		return storage.Scan(txn, start, end, func(key, value []byte) (bool, error) {
			if skipped < opts.Skip {
				skipped++
				return true, nil
			}
			id, err := keys.DecodeDocumentKey(db, key)
			if err != nil {
				return false, err
			}
			row := &AllDocsRow{ID: id, Key: id, Value: map[string]string{"rev": document.Rev}}
			if opts.IncludeDocs {
				doc, err := document.Unmarshal(value)
				if err != nil {
					return false, err
				}
				row.Doc = doc.Stamp(id)
			}
			result.Rows = append(result.Rows, row)
			return len(result.Rows) < opts.Limit, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
