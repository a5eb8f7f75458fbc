// Package blake3x centralizes every BLAKE3 hashing mode the core uses:
// plain content hashing (chunk hashes, shard integrity, the op Merkle
// fold) and keyed hashing (convergent keys, op-log domain separation).
package blake3x

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

const Size = 32

// Sum hashes b with an unkeyed BLAKE3 and returns the 32-byte digest.
func Sum(b []byte) [Size]byte {
	var out [Size]byte
	h := blake3.Sum256(b)
	copy(out[:], h[:])
	return out
}

// SumMulti hashes the concatenation of parts without allocating a
// combined slice.
func SumMulti(parts ...[]byte) [Size]byte {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Keyed hashes b under a 32-byte derived key, used for convergent
// encryption keys and for domain-separating the op-log Merkle fold from
// plain content hashing.
func Keyed(key [Size]byte, b []byte) [Size]byte {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on a wrong-length key, which Size rules out.
		panic(err)
	}
	_, _ = h.Write(b)
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveKey derives a 32-byte key from context and material using
// BLAKE3's key-derivation mode, used wherever a label names a fixed
// purpose string (e.g. "conv-v1").
func DeriveKey(context string, material []byte) [Size]byte {
	var out [Size]byte
	blake3.DeriveKey(context, material, out[:])
	return out
}

func Hex(h [Size]byte) string {
	return hex.EncodeToString(h[:])
}

func FromHex(s string) ([Size]byte, error) {
	var out [Size]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != Size {
		return out, errShortHash
	}
	copy(out[:], b)
	return out, nil
}

var errShortHash = &hashLenError{}

type hashLenError struct{}

func (*hashLenError) Error() string { return "blake3x: decoded hash must be 32 bytes" }

// FoldPair combines two node hashes into a parent hash, one step of a
// pairwise Merkle fold. Odd levels promote the last node unchanged.
func FoldPair(left, right [Size]byte) [Size]byte {
	return SumMulti([]byte{0x01}, left[:], right[:])
}

// FoldLeaf hashes a single leaf's canonical bytes with a domain tag,
// keeping leaf hashes distinguishable from internal node hashes.
func FoldLeaf(b []byte) [Size]byte {
	return SumMulti([]byte{0x00}, b)
}
