package keys

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespacesDoNotOverlap(t *testing.T) {
	// "orders" must not be a prefix of "orders2"
	a := NamespacePrefix("orders")
	b := DocumentKey("orders2", "x")
	assert.False(t, bytes.HasPrefix(b, a))

	assert.True(t, bytes.HasPrefix(DocumentKey("orders", "a1"), DocumentPrefix("orders")))
	assert.True(t, bytes.HasPrefix(ChangeKey("orders", 7), ChangePrefix("orders")))
	assert.True(t, bytes.HasPrefix(IndexKey("orders", "status", "open", "a1"), IndexFieldPrefix("orders", "status")))
	assert.False(t, bytes.HasPrefix(IndexKey("orders", "statusx", "open", "a1"), IndexFieldPrefix("orders", "status")))
	assert.False(t, bytes.HasPrefix(DatabaseKey("orders"), NamespacePrefix("orders")))
}

func TestDecode(t *testing.T) {
	name, err := DecodeDatabaseKey(DatabaseKey("orders"))
	require.Nil(t, err)
	assert.Equal(t, "orders", name)

	id, err := DecodeDocumentKey("orders", DocumentKey("orders", "a1:b-c_d"))
	require.Nil(t, err)
	assert.Equal(t, "a1:b-c_d", id)
	_, err = DecodeDocumentKey("other", DocumentKey("orders", "a1"))
	assert.NotNil(t, err)

	seq, err := DecodeChangeKey("orders", ChangeKey("orders", 1<<40+3))
	require.Nil(t, err)
	assert.Equal(t, uint64(1<<40+3), seq)
	_, err = DecodeChangeKey("orders", DocumentKey("orders", "a1"))
	assert.NotNil(t, err)

	for _, v := range []interface{}{nil, false, true, -2.5, 7.0, "open", []interface{}{"x", 1.0}, map[string]interface{}{"k": "v"}} {
		field, value, id, err := DecodeIndexKey("orders", IndexKey("orders", "status", v, "a1"))
		require.Nil(t, err)
		assert.Equal(t, "status", field)
		assert.Equal(t, v, value)
		assert.Equal(t, "a1", id)
	}
	_, value, _, err := DecodeIndexKey("orders", IndexKey("orders", "n", int16(3), "a1"))
	require.Nil(t, err)
	assert.Equal(t, 3.0, value)
	_, _, _, err = DecodeIndexKey("orders", DocumentKey("orders", "a1"))
	assert.NotNil(t, err)
}

func TestChangeOrder(t *testing.T) {
	prev := ChangeKey("db", 0)
	for _, seq := range []uint64{1, 2, 255, 256, 1 << 32, 1<<64 - 1} {
		cur := ChangeKey("db", seq)
		assert.Equal(t, -1, bytes.Compare(prev, cur))
		prev = cur
	}
}

func TestIndexValueOrder(t *testing.T) {
	values := []interface{}{
		nil, false, true, -10.5, int64(-1), int8(0), 0.5, 1, uint8(2), int16(3), uint(4), uint16(5), 1e9,
		"", "a", "closed", "open", "opened",
		[]interface{}{"x"}, map[string]interface{}{"k": 1.0},
	}
	prev := IndexValuePrefix("orders", "status", values[0])
	for _, v := range values[1:] {
		cur := IndexValuePrefix("orders", "status", v)
		assert.Equal(t, -1, bytes.Compare(prev, cur), "%v", v)
		prev = cur
	}
	// the id suffix sorts inside the value prefix
	k := IndexKey("orders", "status", "open", "a1")
	start := IndexValuePrefix("orders", "status", "open")
	assert.True(t, bytes.HasPrefix(k, start))
	assert.Equal(t, -1, bytes.Compare(k, PrefixEnd(start)))
	assert.Equal(t, 1, bytes.Compare(IndexKey("orders", "status", "opened", "a0"), PrefixEnd(start)))
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte{1, 3}, PrefixEnd([]byte{1, 2}))
	assert.Equal(t, []byte{2}, PrefixEnd([]byte{1, 0xff}))
	assert.Nil(t, PrefixEnd([]byte{0xff, 0xff}))
}
