// Package identity implements the Communitas core's notion of an
// identity: a four-word handle, an ML-DSA keypair, and a device id,
// persisted through a SecretStore. The four-word handle is a
// presentation of the identity id, never an independent fact.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"github.com/saorsalabs/communitas/internal/blake3x"
	"github.com/saorsalabs/communitas/internal/errkind"
	"github.com/saorsalabs/communitas/internal/keys"
	"github.com/saorsalabs/communitas/internal/secretstore"
)

// Scheme is the ML-DSA signature scheme used for every op-log signature
// in the core. The QUIC transport does not use it: its TLS key is a
// separate, freshly generated Ed25519 key (transport.GenerateRawKeyIdentity).
func Scheme() sign.Scheme { return mode3.Scheme() }

// Identity is a claimed four-word handle bound to an ML-DSA keypair and
// an ML-KEM keypair. The ML-DSA pair signs op-log entries (transport
// handshakes do not use it); the ML-KEM pair lets other members wrap a group content
// key for this identity specifically (see keys.WrapGroupKey).
type Identity struct {
	ID        [32]byte // BLAKE3 of the canonical four-word phrase
	Words     [4]string
	DeviceID  [16]byte
	Public    sign.PublicKey
	Secret    sign.PrivateKey
	KEMPublic kem.PublicKey
	KEMSecret kem.PrivateKey
}

func (id Identity) IDHex() string { return blake3x.Hex(id.ID) }

// Claim validates a four-word phrase, derives the identity id, generates
// a fresh ML-DSA keypair, and persists everything into store. Claiming
// the same words twice yields the same id but rotates the keypair only
// if none exists yet — re-claiming an existing id returns the existing
// identity instead of overwriting its keys.
func Claim(store secretstore.Store, phrase string) (Identity, error) {
	words, err := ParseFourWords(phrase)
	if err != nil {
		return Identity{}, errkind.New(errkind.Validation, "identity.claim", err)
	}

	id := blake3x.Sum([]byte(Canonical(words)))
	idHex := blake3x.Hex(id)

	if existing, err := Load(store, idHex); err == nil {
		return existing, nil
	}

	scheme := Scheme()
	pub, sec, err := scheme.GenerateKey()
	if err != nil {
		return Identity{}, errkind.New(errkind.Internal, "identity.claim", err)
	}

	kemPub, kemSec, err := keys.KEMScheme().GenerateKeyPair()
	if err != nil {
		return Identity{}, errkind.New(errkind.Internal, "identity.claim", err)
	}

	var device [16]byte
	if _, err := rand.Read(device[:]); err != nil {
		return Identity{}, errkind.New(errkind.Internal, "identity.claim", err)
	}

	out := Identity{ID: id, Words: words, DeviceID: device, Public: pub, Secret: sec, KEMPublic: kemPub, KEMSecret: kemSec}
	if err := persist(store, out); err != nil {
		return Identity{}, err
	}
	return out, nil
}

func persist(store secretstore.Store, id Identity) error {
	pubBytes, err := id.Public.MarshalBinary()
	if err != nil {
		return errkind.New(errkind.Internal, "identity.persist", err)
	}
	secBytes, err := id.Secret.MarshalBinary()
	if err != nil {
		return errkind.New(errkind.Internal, "identity.persist", err)
	}
	kemPubBytes, err := id.KEMPublic.MarshalBinary()
	if err != nil {
		return errkind.New(errkind.Internal, "identity.persist", err)
	}
	kemSecBytes, err := id.KEMSecret.MarshalBinary()
	if err != nil {
		return errkind.New(errkind.Internal, "identity.persist", err)
	}

	idHex := id.IDHex()
	puts := map[string][]byte{
		secretstore.KeyCurrentID:       []byte(idHex),
		secretstore.KeyDeviceID:        id.DeviceID[:],
		secretstore.KeyWords(idHex):    []byte(Canonical(id.Words)),
		secretstore.KeyMLDSAPub(idHex): pubBytes,
		secretstore.KeyMLDSASec(idHex): secBytes,
		secretstore.KeyMLKEMPub(idHex): kemPubBytes,
		secretstore.KeyMLKEMSec(idHex): kemSecBytes,
	}
	for k, v := range puts {
		if err := store.Put(k, v); err != nil {
			return errkind.New(errkind.Internal, "identity.persist", err)
		}
	}
	return nil
}

// Current loads the identity named by the store's current_id entry.
func Current(store secretstore.Store) (Identity, error) {
	idHex, err := store.Get(secretstore.KeyCurrentID)
	if err != nil {
		return Identity{}, errkind.New(errkind.NotFound, "identity.current", fmt.Errorf("no current identity"))
	}
	return Load(store, string(idHex))
}

// Load reconstructs an Identity from the store given its hex id.
func Load(store secretstore.Store, idHex string) (Identity, error) {
	wordsRaw, err := store.Get(secretstore.KeyWords(idHex))
	if err != nil {
		return Identity{}, errkind.New(errkind.NotFound, "identity.load", err)
	}
	words, err := ParseFourWords(string(wordsRaw))
	if err != nil {
		return Identity{}, errkind.New(errkind.Internal, "identity.load", err)
	}

	pubBytes, err := store.Get(secretstore.KeyMLDSAPub(idHex))
	if err != nil {
		return Identity{}, errkind.New(errkind.NotFound, "identity.load", err)
	}
	secBytes, err := store.Get(secretstore.KeyMLDSASec(idHex))
	if err != nil {
		return Identity{}, errkind.New(errkind.NotFound, "identity.load", err)
	}
	kemPubBytes, err := store.Get(secretstore.KeyMLKEMPub(idHex))
	if err != nil {
		return Identity{}, errkind.New(errkind.NotFound, "identity.load", err)
	}
	kemSecBytes, err := store.Get(secretstore.KeyMLKEMSec(idHex))
	if err != nil {
		return Identity{}, errkind.New(errkind.NotFound, "identity.load", err)
	}
	deviceRaw, err := store.Get(secretstore.KeyDeviceID)
	if err != nil {
		return Identity{}, errkind.New(errkind.NotFound, "identity.load", err)
	}

	scheme := Scheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(pubBytes)
	if err != nil {
		return Identity{}, errkind.New(errkind.Internal, "identity.load", err)
	}
	sec, err := scheme.UnmarshalBinaryPrivateKey(secBytes)
	if err != nil {
		return Identity{}, errkind.New(errkind.Internal, "identity.load", err)
	}
	kemScheme := keys.KEMScheme()
	kemPub, err := kemScheme.UnmarshalBinaryPublicKey(kemPubBytes)
	if err != nil {
		return Identity{}, errkind.New(errkind.Internal, "identity.load", err)
	}
	kemSec, err := kemScheme.UnmarshalBinaryPrivateKey(kemSecBytes)
	if err != nil {
		return Identity{}, errkind.New(errkind.Internal, "identity.load", err)
	}

	var device [16]byte
	copy(device[:], deviceRaw)

	idBytes, err := hex.DecodeString(idHex)
	if err != nil || len(idBytes) != 32 {
		return Identity{}, errkind.Newf(errkind.Internal, "identity.load", "corrupt identity id %q", idHex)
	}
	var id [32]byte
	copy(id[:], idBytes)

	return Identity{ID: id, Words: words, DeviceID: device, Public: pub, Secret: sec, KEMPublic: kemPub, KEMSecret: kemSec}, nil
}

// Sign signs msg with this identity's ML-DSA secret key.
func (id Identity) Sign(msg []byte) []byte {
	return Scheme().Sign(id.Secret, msg, nil)
}

// Verify verifies sig over msg under pub.
func Verify(pub sign.PublicKey, msg, sig []byte) bool {
	return Scheme().Verify(pub, msg, sig, nil)
}

// MarshalPublic returns the wire form of an ML-DSA public key.
func MarshalPublic(pub sign.PublicKey) ([]byte, error) {
	return pub.MarshalBinary()
}

// UnmarshalPublic parses the wire form of an ML-DSA public key.
func UnmarshalPublic(b []byte) (sign.PublicKey, error) {
	return Scheme().UnmarshalBinaryPublicKey(b)
}
