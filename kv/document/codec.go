package document

import (
	"encoding/json"

	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Marshal encodes the stored form of a document body.
func Marshal(body Document) ([]byte, error) {
	data, err := bson.Marshal(map[string]interface{}(body))
	return data, errors.WithStack(err)
}

// Unmarshal decodes a body written by Marshal. Nested values come back as plain maps and slices.
func Unmarshal(data []byte) (Document, error) {
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, errors.WithStack(err)
	}
	doc := make(Document, len(m))
	for k, v := range m {
		doc[k] = normalize(v)
	}
	return doc, nil
}

// FromJSON parses a JSON object.
func FromJSON(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WithStack(err)
	}
	if doc == nil {
		return nil, errors.New("document must be a JSON object")
	}
	return doc, nil
}

func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.D:
		m := make(map[string]interface{}, len(val))
		for _, e := range val {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]interface{}, len(val))
		for k, e := range val {
			m[k] = normalize(e)
		}
		return m
	case map[string]interface{}:
		for k, e := range val {
			val[k] = normalize(e)
		}
		return val
	case primitive.A:
		s := make([]interface{}, len(val))
		for i, e := range val {
			s[i] = normalize(e)
		}
		return s
	case []interface{}:
		for i, e := range val {
			val[i] = normalize(e)
		}
		return val
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return v
	}
}
