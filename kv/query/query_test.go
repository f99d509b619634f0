package query

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pingcap-incubator/tinydoc/kv/document"
	"github.com/pingcap-incubator/tinydoc/kv/storage"
	"github.com/pingcap-incubator/tinydoc/kv/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) storage.Storage {
	ctx := context.Background()
	st := storage.NewMemStorage()
	engine := transaction.NewEngine(st)
	_, err := engine.CreateDatabase(ctx, "orders", []string{"status", "total"})
	require.Nil(t, err)
	docs := []document.Document{
		{"_id": "a1", "_status": "open", "_total": 10.0},
		{"_id": "a2", "_status": "closed", "_total": 25.0},
		{"_id": "a3", "_status": "open", "_total": 5.0},
		{"_id": "a4", "_status": nil, "_total": 40.0},
		{"_id": "a5", "_other": "x"},
	}
	require.Nil(t, engine.WriteBatch(ctx, "orders", docs))
	return st
}

func idsOf(docs []document.Document) []string {
	var out []string
	for _, d := range docs {
		out = append(out, d.ID())
	}
	return out
}

func TestEqual(t *testing.T) {
	st := setup(t)
	docs, err := Run(context.Background(), st, "orders", Equal("status", "open"))
	require.Nil(t, err)
	assert.Equal(t, []string{"a1", "a3"}, idsOf(docs))
	assert.Equal(t, "0-1", docs[0][document.FieldRev])
	assert.Equal(t, "open", docs[0]["_status"])

	docs, err = Run(context.Background(), st, "orders", Equal("status", nil))
	require.Nil(t, err)
	assert.Equal(t, []string{"a4"}, idsOf(docs))

	docs, err = Run(context.Background(), st, "orders", Equal("status", "missing"))
	require.Nil(t, err)
	assert.Empty(t, docs)
}

func TestRange(t *testing.T) {
	st := setup(t)
	ctx := context.Background()

	docs, err := Run(ctx, st, "orders", Request{Index: "total", StartKey: 10.0, EndKey: 25.0, HasStartKey: true, HasEndKey: true})
	require.Nil(t, err)
	assert.Equal(t, []string{"a1", "a2"}, idsOf(docs))

	docs, err = Run(ctx, st, "orders", Request{Index: "total", StartKey: 20.0, HasStartKey: true})
	require.Nil(t, err)
	assert.Equal(t, []string{"a2", "a4"}, idsOf(docs))

	docs, err = Run(ctx, st, "orders", Request{Index: "total", EndKey: 10.0, HasEndKey: true})
	require.Nil(t, err)
	assert.Equal(t, []string{"a3", "a1"}, idsOf(docs))

	docs, err = Run(ctx, st, "orders", Request{Index: "total", StartKey: 0.0, HasStartKey: true, Limit: 2, Skip: 1})
	require.Nil(t, err)
	assert.Equal(t, []string{"a1", "a2"}, idsOf(docs))
}

func TestErrors(t *testing.T) {
	st := setup(t)
	ctx := context.Background()

	_, err := Run(ctx, st, "orders", Request{Index: "status"})
	assert.Equal(t, ErrMissingRangeBounds, err)

	_, err = Run(ctx, st, "orders", Equal("other", "x"))
	assert.IsType(t, &ErrInvalidIndex{}, err)

	_, err = Run(ctx, st, "orders", Equal("bad name", "x"))
	assert.IsType(t, &ErrInvalidIndex{}, err)

	_, err = Run(ctx, st, "nope", Equal("status", "x"))
	assert.IsType(t, &transaction.ErrDatabaseNotFound{}, err)
}

func TestDefaultLimit(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemStorage()
	engine := transaction.NewEngine(st)
	_, err := engine.CreateDatabase(ctx, "db", []string{"kind"})
	require.Nil(t, err)
	var docs []document.Document
	for i := 0; i < DefaultLimit+5; i++ {
		docs = append(docs, document.Document{"_id": fmt.Sprintf("d%03d", i), "_kind": "k"})
	}
	require.Nil(t, engine.WriteBatch(ctx, "db", docs))

	found, err := Run(ctx, st, "db", Equal("kind", "k"))
	require.Nil(t, err)
	assert.Len(t, found, DefaultLimit)
}

func TestRequestJSON(t *testing.T) {
	var req Request
	require.Nil(t, json.Unmarshal([]byte(`{"index":"status","key":null,"limit":5}`), &req))
	assert.Equal(t, "status", req.Index)
	assert.True(t, req.HasKey)
	assert.Nil(t, req.Key)
	assert.False(t, req.HasStartKey)
	assert.Equal(t, 5, req.Limit)

	req = Request{}
	require.Nil(t, json.Unmarshal([]byte(`{"index":"total","startkey":1,"endkey":"z"}`), &req))
	assert.True(t, req.HasStartKey)
	assert.True(t, req.HasEndKey)
	assert.Equal(t, 1.0, req.StartKey)

	assert.NotNil(t, json.Unmarshal([]byte(`{"index":1}`), &req))

	data, err := json.Marshal(Request{Index: "status", HasKey: true, Skip: 2})
	require.Nil(t, err)
	assert.JSONEq(t, `{"index":"status","key":null,"skip":2}`, string(data))
}
