package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saorsalabs/communitas/internal/secretstore"
)

func TestClaimIsDeterministicByWords(t *testing.T) {
	store := secretstore.NewMemory()
	id, err := Claim(store, "ocean-forest-moon-star")
	require.NoError(t, err)
	require.Equal(t, [4]string{"ocean", "forest", "moon", "star"}, id.Words)
}

func TestClaimTwiceReturnsSameIdentityWithoutRotatingKeys(t *testing.T) {
	store := secretstore.NewMemory()
	first, err := Claim(store, "ocean forest moon star")
	require.NoError(t, err)

	second, err := Claim(store, "ocean-forest-moon-star")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	firstPub, err := first.Public.MarshalBinary()
	require.NoError(t, err)
	secondPub, err := second.Public.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, firstPub, secondPub)
}

func TestClaimRejectsMalformedPhrase(t *testing.T) {
	store := secretstore.NewMemory()
	_, err := Claim(store, "only three words")
	require.Error(t, err)
}

func TestCurrentLoadsLastClaimedIdentity(t *testing.T) {
	store := secretstore.NewMemory()
	claimed, err := Claim(store, "amber winter harbor meadow")
	require.NoError(t, err)

	current, err := Current(store)
	require.NoError(t, err)
	require.Equal(t, claimed.ID, current.ID)
}

func TestCurrentFailsWithoutAnyClaimedIdentity(t *testing.T) {
	store := secretstore.NewMemory()
	_, err := Current(store)
	require.Error(t, err)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	store := secretstore.NewMemory()
	id, err := Claim(store, "ocean forest moon star")
	require.NoError(t, err)

	msg := []byte("a signed op")
	sig := id.Sign(msg)
	require.True(t, Verify(id.Public, msg, sig))
	require.False(t, Verify(id.Public, []byte("tampered"), sig))
}

func TestMarshalUnmarshalPublicRoundTrip(t *testing.T) {
	store := secretstore.NewMemory()
	id, err := Claim(store, "ocean forest moon star")
	require.NoError(t, err)

	b, err := MarshalPublic(id.Public)
	require.NoError(t, err)
	pub, err := UnmarshalPublic(b)
	require.NoError(t, err)

	msg := []byte("round trip check")
	require.True(t, Verify(pub, msg, id.Sign(msg)))
}
