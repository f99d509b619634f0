// Package query answers equality and range lookups on the declared indexed fields of a database.
package query

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/keys"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
	"github.com/pingcap/errors"
)

const DefaultLimit = 100

// ErrMissingRangeBounds is returned when a request names none of key, startkey and endkey.
var ErrMissingRangeBounds = errors.New("one of key, startkey or endkey is required")

// ErrInvalidIndex is returned for an index name that is malformed or not declared on the database.
type ErrInvalidIndex struct {
	Name string
}

func (e *ErrInvalidIndex) Error() string {
	return fmt.Sprintf("invalid index %q", e.Name)
}

// Request selects documents whose indexed field Index equals Key, or lies in [StartKey, EndKey]. A missing range
// side is open. The Has* flags tell a null bound from a missing one.
type Request struct {
	Index       string
	Key         interface{}
	StartKey    interface{}
	EndKey      interface{}
	HasKey      bool
	HasStartKey bool
	HasEndKey   bool
	Limit       int
	Skip        int
}

// UnmarshalJSON reads {"index", "key", "startkey", "endkey", "limit", "skip"}.
func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return errors.WithStack(err)
	}
	decode := func(name string, dst interface{}) (bool, error) {
		raw, ok := fields[name]
		if !ok {
			return false, nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return false, errors.Annotatef(err, "decode %s", name)
		}
		return true, nil
	}
	var err error
	if _, err = decode("index", &r.Index); err != nil {
		return err
	}
	if r.HasKey, err = decode("key", &r.Key); err != nil {
		return err
	}
	if r.HasStartKey, err = decode("startkey", &r.StartKey); err != nil {
		return err
	}
	if r.HasEndKey, err = decode("endkey", &r.EndKey); err != nil {
		return err
	}
	if _, err = decode("limit", &r.Limit); err != nil {
		return err
	}
	_, err = decode("skip", &r.Skip)
	return err
}

// MarshalJSON writes the fields UnmarshalJSON reads, leaving out bounds that are not set.
func (r Request) MarshalJSON() ([]byte, error) {
	fields := map[string]interface{}{"index": r.Index}
	if r.HasKey {
		fields["key"] = r.Key
	}
	if r.HasStartKey {
		fields["startkey"] = r.StartKey
	}
	if r.HasEndKey {
		fields["endkey"] = r.EndKey
	}
	if r.Limit != 0 {
		fields["limit"] = r.Limit
	}
	if r.Skip != 0 {
		fields["skip"] = r.Skip
	}
	return json.Marshal(fields)
}

// Equal builds a point lookup.
func Equal(index string, key interface{}) Request {
	return Request{Index: index, Key: key, HasKey: true}
}

// Run returns the matching documents in index order, each stamped with _id and _rev.
func Run(ctx context.Context, st storage.Storage, db string, req Request) ([]document.Document, error) {
	if !document.ValidIndexName(req.Index) {
		return nil, &ErrInvalidIndex{Name: req.Index}
	}
	if !req.HasKey && !req.HasStartKey && !req.HasEndKey {
		return nil, ErrMissingRangeBounds
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Skip < 0 {
		return nil, &transaction.ErrInvalidArgument{Reason: "skip must not be negative"}
	}

	fieldPrefix := keys.IndexFieldPrefix(db, req.Index)
	start, end := fieldPrefix, keys.PrefixEnd(fieldPrefix)
	if req.HasKey {
		start = keys.IndexValuePrefix(db, req.Index, req.Key)
		end = keys.PrefixEnd(start)
	} else {
		if req.HasStartKey {
			start = keys.IndexValuePrefix(db, req.Index, req.StartKey)
		}
		if req.HasEndKey {
			end = keys.PrefixEnd(keys.IndexValuePrefix(db, req.Index, req.EndKey))
		}
	}

	docs := []document.Document{}
	err := st.View(ctx, func(txn storage.Txn) error {
		rec, err := transaction.LoadDatabase(txn, db)
		if err != nil {
			return err
		}
		if !rec.HasIndex(req.Index) {
			return &ErrInvalidIndex{Name: req.Index}
		}
		skipped := 0
		return storage.Scan(txn, start, end, func(_, value []byte) (bool, error) {
			if skipped < req.Skip {
				skipped++
				return true, nil
			}
			id := string(value)
			doc, err := transaction.LoadDocument(txn, db, id)
			if err != nil {
				return false, err
			}
			if doc != nil {
				docs = append(docs, doc.Stamp(id))
			}
			return len(docs) < req.Limit, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
