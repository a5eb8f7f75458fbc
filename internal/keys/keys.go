// Package keys implements the Communitas core's key hierarchy: namespace
// keys derived from a master key, convergent keys for public content,
// and ML-KEM-wrapped group content keys.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem768"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/saorsalabs/communitas/internal/blake3x"
	"github.com/saorsalabs/communitas/internal/errkind"
)

const nsInfo = "ns-v1"
const convergentContext = "conv-v1"

// MasterKey is 32 bytes, held only in the SecretStore.
type MasterKey [32]byte

// NamespaceKey derives a deterministic 32-byte key for a namespace via
// HKDF-SHA256, salted by the namespace bytes.
func NamespaceKey(master MasterKey, namespace string) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, master[:], []byte(namespace), []byte(nsInfo))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, errkind.New(errkind.Internal, "keys.namespace_key", err)
	}
	return out, nil
}

// ContentKeyRandom returns a fresh random 32-byte content-encryption key,
// used for PrivateMax and the body key of GroupScoped content.
func ContentKeyRandom() ([32]byte, error) {
	var out [32]byte
	if _, err := rand.Read(out[:]); err != nil {
		return out, errkind.New(errkind.Internal, "keys.content_key_random", err)
	}
	return out, nil
}

// ConvergentKey derives the content-encryption key for PublicMarkdown
// content: a BLAKE3 keyed hash of the plaintext itself, so identical
// plaintexts always derive identical keys.
func ConvergentKey(plaintext []byte) [32]byte {
	key := blake3x.DeriveKey(convergentContext, nil)
	return blake3x.Keyed(key, plaintext)
}

// GroupKey is the wrapped form of a group's content-encryption key: one
// ciphertext per member, each decryptable only under that member's
// ML-KEM secret key.
type GroupKey struct {
	KeyID             [32]byte
	WrappedForMember  map[string][]byte // member id hex -> wrapped blob (ct || sealed key; the all-zero nonce is not stored)
	Version           uint32
}

// KEMScheme is the ML-KEM parameter set used for group-key wrapping.
func KEMScheme() kem.Scheme { return mlkem768.Scheme() }

// MarshalKEMPublic returns the wire form of an ML-KEM public key.
func MarshalKEMPublic(pub kem.PublicKey) ([]byte, error) {
	b, err := pub.MarshalBinary()
	if err != nil {
		return nil, errkind.New(errkind.Internal, "keys.marshal_kem_public", err)
	}
	return b, nil
}

// UnmarshalKEMPublic parses the wire form of an ML-KEM public key.
func UnmarshalKEMPublic(b []byte) (kem.PublicKey, error) {
	pub, err := KEMScheme().UnmarshalBinaryPublicKey(b)
	if err != nil {
		return nil, errkind.New(errkind.Internal, "keys.unmarshal_kem_public", err)
	}
	return pub, nil
}

// WrapGroupKey wraps contentKey for every member's ML-KEM public key.
func WrapGroupKey(keyID [32]byte, version uint32, contentKey [32]byte, memberPubs map[string]kem.PublicKey) (GroupKey, error) {
	scheme := KEMScheme()
	wrapped := make(map[string][]byte, len(memberPubs))
	for memberHex, pub := range memberPubs {
		ct, ss, err := scheme.Encapsulate(pub)
		if err != nil {
			return GroupKey{}, errkind.New(errkind.Internal, "keys.wrap_group_key", fmt.Errorf("encapsulate for %s: %w", memberHex, err))
		}
		aead, err := chacha20poly1305.New(ss[:chacha20poly1305.KeySize])
		if err != nil {
			return GroupKey{}, errkind.New(errkind.Internal, "keys.wrap_group_key", err)
		}
		var nonce [chacha20poly1305.NonceSize]byte // zero nonce: safe because ss is single-use per encapsulation
		sealed := aead.Seal(nil, nonce[:], contentKey[:], nil)
		blob := make([]byte, 0, len(ct)+len(sealed))
		blob = append(blob, ct...)
		blob = append(blob, sealed...)
		wrapped[memberHex] = blob
	}
	return GroupKey{KeyID: keyID, WrappedForMember: wrapped, Version: version}, nil
}

// UnwrapGroupKey recovers the content key for one member.
func UnwrapGroupKey(gk GroupKey, memberHex string, memberSec kem.PrivateKey) ([32]byte, error) {
	var out [32]byte
	blob, ok := gk.WrappedForMember[memberHex]
	if !ok {
		return out, errkind.Newf(errkind.Access, "keys.unwrap_group_key", "no wrap for member %s", memberHex)
	}
	scheme := KEMScheme()
	ctSize := scheme.CiphertextSize()
	if len(blob) <= ctSize {
		return out, errkind.New(errkind.Integrity, "keys.unwrap_group_key", fmt.Errorf("wrapped blob too short"))
	}
	ct, sealed := blob[:ctSize], blob[ctSize:]
	ss, err := scheme.Decapsulate(memberSec, ct)
	if err != nil {
		return out, errkind.New(errkind.Integrity, "keys.unwrap_group_key", err)
	}
	aead, err := chacha20poly1305.New(ss[:chacha20poly1305.KeySize])
	if err != nil {
		return out, errkind.New(errkind.Internal, "keys.unwrap_group_key", err)
	}
	var nonce [chacha20poly1305.NonceSize]byte
	plain, err := aead.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return out, errkind.New(errkind.Integrity, "keys.unwrap_group_key", err)
	}
	if len(plain) != 32 {
		return out, errkind.New(errkind.Integrity, "keys.unwrap_group_key", fmt.Errorf("unwrapped key has wrong length"))
	}
	copy(out[:], plain)
	return out, nil
}

// Encrypt seals plaintext with ChaCha20-Poly1305 under key, using a
// random nonce prepended to the ciphertext.
func Encrypt(key [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errkind.New(errkind.Internal, "keys.encrypt", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errkind.New(errkind.Internal, "keys.encrypt", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// EncryptDeterministic seals plaintext with ChaCha20-Poly1305 under
// key using a nonce derived from BLAKE3(key || plaintext) rather than
// a random one: for a fixed key, distinct plaintexts get distinct
// nonces (so the AEAD's uniqueness requirement holds), while identical
// plaintexts reproduce identical ciphertext. Every non-PrivateMax
// policy uses this so that dedup (same oid for same content) also
// means the object-store's stored bytes are byte-identical, not just
// its manifest hash.
func EncryptDeterministic(key [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errkind.New(errkind.Internal, "keys.encrypt_deterministic", err)
	}
	full := blake3x.SumMulti(key[:], plaintext)
	nonce := full[:chacha20poly1305.NonceSize]
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(append([]byte{}, nonce...), sealed...), nil
}

// Decrypt reverses Encrypt (and EncryptDeterministic, which shares its
// nonce-prefixed wire format).
func Decrypt(key [32]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errkind.New(errkind.Internal, "keys.decrypt", err)
	}
	if len(ciphertext) < chacha20poly1305.NonceSize {
		return nil, errkind.New(errkind.Integrity, "keys.decrypt", fmt.Errorf("ciphertext too short"))
	}
	nonce, sealed := ciphertext[:chacha20poly1305.NonceSize], ciphertext[chacha20poly1305.NonceSize:]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errkind.New(errkind.Integrity, "keys.decrypt", err)
	}
	return plain, nil
}
