package blake3x

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumIsDeterministicAndSizeCorrect(t *testing.T) {
	a := Sum([]byte("hello"))
	b := Sum([]byte("hello"))
	require.Equal(t, a, b)
	require.Len(t, a, Size)
}

func TestSumMultiMatchesConcatenatedSum(t *testing.T) {
	combined := Sum([]byte("helloworld"))
	split := SumMulti([]byte("hello"), []byte("world"))
	require.Equal(t, combined, split)
}

func TestKeyedDiffersByKey(t *testing.T) {
	var k1, k2 [Size]byte
	k1[0] = 1
	k2[0] = 2
	require.NotEqual(t, Keyed(k1, []byte("msg")), Keyed(k2, []byte("msg")))
}

func TestDeriveKeyDiffersByContext(t *testing.T) {
	material := []byte("material")
	require.NotEqual(t, DeriveKey("ctx-a", material), DeriveKey("ctx-b", material))
}

func TestHexRoundTrips(t *testing.T) {
	h := Sum([]byte("round trip"))
	s := Hex(h)
	back, err := FromHex(s)
	require.NoError(t, err)
	require.Equal(t, h, back)
}

func TestFromHexRejectsWrongLength(t *testing.T) {
	_, err := FromHex("deadbeef")
	require.Error(t, err)
}

func TestFoldPairDiffersFromFoldLeaf(t *testing.T) {
	leaf := FoldLeaf([]byte("leaf"))
	pair := FoldPair(leaf, leaf)
	require.NotEqual(t, leaf, pair)
}

func TestFoldPairIsOrderSensitive(t *testing.T) {
	a := FoldLeaf([]byte("a"))
	b := FoldLeaf([]byte("b"))
	require.NotEqual(t, FoldPair(a, b), FoldPair(b, a))
}
