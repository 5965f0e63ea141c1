package hashutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	a := Sum([]byte("hello world"))
	b := Sum([]byte("hello world"))
	assert.Equal(t, a, b)
}

func TestSumDiffers(t *testing.T) {
	a := Sum([]byte("one"))
	b := Sum([]byte("two"))
	assert.NotEqual(t, a, b)
}

func TestZero(t *testing.T) {
	assert.True(t, Zero.IsZero())
	assert.False(t, Sum([]byte("x")).IsZero())
}

func TestCombineOrderSensitive(t *testing.T) {
	left := Sum([]byte("left"))
	right := Sum([]byte("right"))

	lr := Combine(left, right)
	rl := Combine(right, left)

	assert.NotEqual(t, lr, rl)
	assert.NotEqual(t, lr, left)
	assert.NotEqual(t, lr, right)
}

func TestCombineDeterministic(t *testing.T) {
	left := Sum([]byte("left"))
	right := Sum([]byte("right"))

	assert.Equal(t, Combine(left, right), Combine(left, right))
}

func TestCombineManyEmpty(t *testing.T) {
	assert.Equal(t, Zero, CombineMany(nil))
	assert.Equal(t, Zero, CombineMany([]Hash{}))
}

func TestCombineManyLeftFold(t *testing.T) {
	h1 := Sum([]byte("one"))
	h2 := Sum([]byte("two"))
	h3 := Sum([]byte("three"))

	want := Combine(Combine(h1, h2), h3)
	got := CombineMany([]Hash{h1, h2, h3})
	assert.Equal(t, want, got)
}

func TestCombineManySingle(t *testing.T) {
	h1 := Sum([]byte("solo"))
	assert.Equal(t, h1, CombineMany([]Hash{h1}))
}

func TestHexRoundTrip(t *testing.T) {
	h := Sum([]byte("test data"))
	hex := h.String()
	assert.Len(t, hex, 32)

	restored, err := FromHex(hex)
	require.NoError(t, err)
	assert.Equal(t, h, restored)
}

func TestFromHexInvalid(t *testing.T) {
	_, err := FromHex("1234")
	assert.Error(t, err)

	_, err = FromHex("zz" + "00000000000000000000000000000")
	assert.Error(t, err)
}

func TestHashAsMapKey(t *testing.T) {
	m := make(map[Hash]string)
	h := Sum([]byte("key"))
	m[h] = "value"
	assert.Equal(t, "value", m[Sum([]byte("key"))])
}
