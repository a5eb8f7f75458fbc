package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePinnedKeyBareKeyHex(t *testing.T) {
	var key [32]byte
	_, _ = rand.Read(key[:])
	got, err := ParsePinnedKey("key:hex:" + hex.EncodeToString(key[:]))
	require.NoError(t, err)
	require.Equal(t, key, got)
}

func TestParsePinnedKeyBareKeyB64(t *testing.T) {
	var key [32]byte
	_, _ = rand.Read(key[:])
	got, err := ParsePinnedKey("key:b64:" + base64.StdEncoding.EncodeToString(key[:]))
	require.NoError(t, err)
	require.Equal(t, key, got)
}

func TestParsePinnedKeyUnprefixedHex(t *testing.T) {
	var key [32]byte
	_, _ = rand.Read(key[:])
	got, err := ParsePinnedKey(hex.EncodeToString(key[:]))
	require.NoError(t, err)
	require.Equal(t, key, got)
}

func TestParsePinnedKeyFromSPKI(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	spki, err := SPKIOf(pub)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	got, err := ParsePinnedKey("spki:hex:" + hex.EncodeToString(der))
	require.NoError(t, err)
	require.Equal(t, spki, got)
}

func TestParsePinnedKeyRejectsBadLength(t *testing.T) {
	_, err := ParsePinnedKey(hex.EncodeToString([]byte{1, 2, 3}))
	require.Error(t, err)
}

func TestGenerateRawKeyIdentitySPKIMatches(t *testing.T) {
	cert, spki, err := GenerateRawKeyIdentity()
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)
	require.NotEqual(t, [32]byte{}, spki)
}
