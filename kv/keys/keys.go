// Package keys lays out every record tinydoc keeps in the shared keyspace. Keys are tuples; each element is a
// type tag followed by a memcomparable encoding, so tuple order equals byte order and a tuple prefix is a byte
// prefix of every key that extends it.
//
//	("_db", name)                        database record
//	(db, "doc", id)                      document body
//	(db, "changes", seq)                 change-log entry
//	(db, "index", field, value, id)      index entry
package keys

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/pingcap-incubator/tinydoc/kv/util/codec"
	"github.com/pingcap/errors"
)

// Element tags. Index values of different JSON types order by tag: null < false < true < numbers < strings <
// anything else.
const (
	tagNull   byte = 0x01
	tagFalse  byte = 0x02
	tagTrue   byte = 0x03
	tagNumber byte = 0x04
	tagString byte = 0x05
	tagJSON   byte = 0x06
	tagUint   byte = 0x07
)

const (
	dbSpace     = "_db"
	docSpace    = "doc"
	changeSpace = "changes"
	indexSpace  = "index"
)

func appendString(b []byte, s string) []byte {
	b = append(b, tagString)
	return codec.AppendBytes(b, []byte(s))
}

func decodeString(b []byte) ([]byte, string, error) {
	if len(b) == 0 || b[0] != tagString {
		return nil, "", errors.New("expect string element")
	}
	left, data, err := codec.DecodeBytes(b[1:])
	if err != nil {
		return nil, "", err
	}
	return left, string(data), nil
}

func appendUint(b []byte, v uint64) []byte {
	b = append(b, tagUint)
	return codec.AppendUint64(b, v)
}

// DatabasePrefix is the prefix of every database record.
func DatabasePrefix() []byte {
	return appendString(nil, dbSpace)
}

func DatabaseKey(name string) []byte {
	return appendString(DatabasePrefix(), name)
}

// DecodeDatabaseKey returns the database name of a database record key.
func DecodeDatabaseKey(key []byte) (string, error) {
	left, space, err := decodeString(key)
	if err != nil {
		return "", err
	}
	if space != dbSpace {
		return "", errors.Errorf("%q is not a database key", key)
	}
	_, name, err := decodeString(left)
	return name, err
}

// NamespacePrefix is the prefix shared by every document, change and index key of db.
func NamespacePrefix(db string) []byte {
	return appendString(nil, db)
}

func DocumentPrefix(db string) []byte {
	return appendString(NamespacePrefix(db), docSpace)
}

func DocumentKey(db, id string) []byte {
	return appendString(DocumentPrefix(db), id)
}

// DecodeDocumentKey returns the document id of a key built by DocumentKey for db.
func DecodeDocumentKey(db string, key []byte) (string, error) {
	prefix := DocumentPrefix(db)
	if !hasPrefix(key, prefix) {
		return "", errors.Errorf("%q is not a document key of %s", key, db)
	}
	_, id, err := decodeString(key[len(prefix):])
	return id, err
}

func ChangePrefix(db string) []byte {
	return appendString(NamespacePrefix(db), changeSpace)
}

func ChangeKey(db string, seq uint64) []byte {
	return appendUint(ChangePrefix(db), seq)
}

// DecodeChangeKey returns the sequence of a key built by ChangeKey for db.
func DecodeChangeKey(db string, key []byte) (uint64, error) {
	prefix := ChangePrefix(db)
	if !hasPrefix(key, prefix) || len(key) == len(prefix) || key[len(prefix)] != tagUint {
		return 0, errors.Errorf("%q is not a change key of %s", key, db)
	}
	_, seq, err := codec.DecodeUint64(key[len(prefix)+1:])
	return seq, err
}

func IndexPrefix(db string) []byte {
	return appendString(NamespacePrefix(db), indexSpace)
}

// IndexFieldPrefix is the prefix of every index entry of field in db.
func IndexFieldPrefix(db, field string) []byte {
	return appendString(IndexPrefix(db), field)
}

// IndexValuePrefix is the prefix of every index entry of field whose value equals value.
func IndexValuePrefix(db, field string, value interface{}) []byte {
	return AppendIndexValue(IndexFieldPrefix(db, field), value)
}

func IndexKey(db, field string, value interface{}, id string) []byte {
	return appendString(IndexValuePrefix(db, field, value), id)
}

// AppendIndexValue appends the order preserving encoding of a JSON value.
func AppendIndexValue(b []byte, value interface{}) []byte {
	switch v := value.(type) {
	case nil:
		return append(b, tagNull)
	case bool:
		if v {
			return append(b, tagTrue)
		}
		return append(b, tagFalse)
	case string:
		return appendString(b, v)
	}
	if f, ok := toFloat(value); ok {
		b = append(b, tagNumber)
		return codec.AppendFloat64(b, f)
	}
	data, err := json.Marshal(value)
	if err != nil {
		data = []byte(fmt.Sprint(value))
	}
	b = append(b, tagJSON)
	return codec.AppendBytes(b, data)
}

// DecodeIndexKey splits a key built by IndexKey for db back into its field, value and document id. Numbers
// decode as float64 and other JSON values as their decoded JSON form.
func DecodeIndexKey(db string, key []byte) (field string, value interface{}, id string, err error) {
	prefix := IndexPrefix(db)
	if !hasPrefix(key, prefix) {
		return "", nil, "", errors.Errorf("%q is not an index key of %s", key, db)
	}
	left, field, err := decodeString(key[len(prefix):])
	if err != nil {
		return "", nil, "", err
	}
	if left, value, err = decodeIndexValue(left); err != nil {
		return "", nil, "", err
	}
	_, id, err = decodeString(left)
	return field, value, id, err
}

func decodeIndexValue(b []byte) ([]byte, interface{}, error) {
	if len(b) == 0 {
		return nil, nil, errors.New("insufficient bytes to decode index value")
	}
	switch b[0] {
	case tagNull:
		return b[1:], nil, nil
	case tagFalse:
		return b[1:], false, nil
	case tagTrue:
		return b[1:], true, nil
	case tagNumber:
		return codec.DecodeFloat64(b[1:])
	case tagString:
		return decodeString(b)
	case tagJSON:
		left, data, err := codec.DecodeBytes(b[1:])
		if err != nil {
			return nil, nil, err
		}
		var v interface{}
		if err = json.Unmarshal(data, &v); err != nil {
			return nil, nil, errors.Annotate(err, "decode index value")
		}
		return left, v, nil
	}
	return nil, nil, errors.Errorf("unknown index value tag %#x", b[0])
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// PrefixEnd returns the smallest key greater than every key with the given prefix, or nil when there is none.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func hasPrefix(key, prefix []byte) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix)
}
