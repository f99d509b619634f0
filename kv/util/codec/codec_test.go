package codec

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBytesExamples(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 247}, EncodeBytes(nil))
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0, 250}, EncodeBytes([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0, 251}, EncodeBytes([]byte{1, 2, 3, 0}))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 255, 0, 0, 0, 0, 0, 0, 0, 0, 247},
		EncodeBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
}

func TestBytesOrderAndDecode(t *testing.T) {
	inputs := []string{"", "a", "a\x00", "ab", "abcdefgh", "abcdefghi", "b", "orders", "orders2"}
	encoded := make([][]byte, 0, len(inputs))
	for _, in := range inputs {
		enc := AppendBytes([]byte{0x10}, []byte(in))
		left, dec, err := DecodeBytes(enc[1:])
		require.Nil(t, err)
		assert.Empty(t, left)
		assert.Equal(t, in, string(dec))
		encoded = append(encoded, enc)
	}
	assert.True(t, sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}))
}

func TestDecodeBytesLeftover(t *testing.T) {
	b := EncodeBytes([]byte("db"))
	b = AppendUint64(b, 42)
	left, dec, err := DecodeBytes(b)
	require.Nil(t, err)
	assert.Equal(t, "db", string(dec))
	left, v, err := DecodeUint64(left)
	require.Nil(t, err)
	assert.Empty(t, left)
	assert.Equal(t, uint64(42), v)

	_, _, err = DecodeBytes([]byte{1, 2, 3})
	assert.NotNil(t, err)
	_, _, err = DecodeUint64([]byte{1})
	assert.NotNil(t, err)
}

func TestFloatOrder(t *testing.T) {
	inputs := []float64{math.Inf(-1), -1e10, -2.5, -1, 0, 0.5, 1, 3, 1e10, math.Inf(1)}
	var prev []byte
	for _, f := range inputs {
		enc := AppendFloat64(nil, f)
		if prev != nil {
			assert.Equal(t, -1, bytes.Compare(prev, enc), "%v", f)
		}
		prev = enc
		left, dec, err := DecodeFloat64(enc)
		require.Nil(t, err)
		assert.Empty(t, left)
		assert.Equal(t, f, dec)
	}
}
