package transport

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// ParsePinnedKey accepts the same shapes the original pin parser did:
// "spki:hex:...", "spki:b64:...", "key:hex:...", "key:b64:...", or a
// bare hex/base64 string, 32 bytes (raw Ed25519 key) or 44 bytes
// (Ed25519 X.509 SubjectPublicKeyInfo, raw key at offset 12).
func ParsePinnedKey(input string) ([32]byte, error) {
	var zero [32]byte
	trimmed := strings.TrimSpace(input)
	kind, rest := "", trimmed
	if parts := strings.SplitN(trimmed, ":", 2); len(parts) == 2 && (parts[0] == "spki" || parts[0] == "key") {
		kind, rest = parts[0], parts[1]
	}
	if parts := strings.SplitN(rest, ":", 2); kind != "" && len(parts) == 2 && (parts[0] == "hex" || parts[0] == "b64") {
		rest = parts[1]
	}

	bytes, err := decodeHexOrB64(rest)
	if err != nil {
		return zero, fmt.Errorf("transport: pinned key: %w", err)
	}

	switch {
	case (kind == "spki" || kind == "") && len(bytes) == 44:
		return extractKeyFromSPKI(bytes)
	case (kind == "key" || kind == "") && len(bytes) == 32:
		var out [32]byte
		copy(out[:], bytes)
		return out, nil
	default:
		return zero, fmt.Errorf("transport: pinned key: unexpected byte length %d (want 32 key or 44 SPKI)", len(bytes))
	}
}

func decodeHexOrB64(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("value is not valid hex or base64")
}

func extractKeyFromSPKI(spki []byte) ([32]byte, error) {
	var out [32]byte
	if len(spki) != 44 {
		return out, fmt.Errorf("unsupported SPKI format (expected Ed25519 44-byte SPKI)")
	}
	copy(out[:], spki[12:44])
	return out, nil
}

// SPKIOf returns the raw 32-byte Ed25519 key embedded in pub's X.509
// SubjectPublicKeyInfo encoding.
func SPKIOf(pub ed25519.PublicKey) ([32]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return [32]byte{}, err
	}
	return extractKeyFromSPKI(der)
}
