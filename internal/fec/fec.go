// Package fec implements the Communitas core's adaptive erasure coder
// (C2): group-size-driven (k,m) selection and systematic Reed-Solomon
// encode/decode over shards carrying their own integrity hash.
package fec

import (
	"bytes"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/saorsalabs/communitas/internal/blake3x"
	"github.com/saorsalabs/communitas/internal/errkind"
)

type ShardKind int

const (
	KindData ShardKind = iota
	KindParity
)

// Shard is one output of erasure-coding a chunk or small object.
type Shard struct {
	Index         int
	Kind          ShardKind
	Bytes         []byte
	IntegrityHash [32]byte
	GroupID       string
	DataID        string
}

func (s Shard) verify() bool {
	return blake3x.Sum(s.Bytes) == s.IntegrityHash
}

// Params is the adaptive (k, m) table, chosen from a group's member
// count.
type Params struct {
	K, M int
}

// AdaptiveParams selects (k, m) from group size n per the core's
// availability envelope (k/(k+m) within 60% ± 10%).
func AdaptiveParams(n int) Params {
	switch {
	case n <= 5:
		return Params{K: 3, M: 2}
	case n <= 15:
		return Params{K: 8, M: 4}
	case n <= 50:
		return Params{K: 12, M: 6}
	default:
		return Params{K: 16, M: 8}
	}
}

// Encode systematically erasure-codes data into k+m shards: the first k
// shards are the (zero-padded) input itself, split evenly; the
// remaining m are parity. Shards are tagged with groupID/dataID and
// their own BLAKE3 integrity hash.
func Encode(data []byte, p Params, groupID, dataID string) ([]Shard, error) {
	if p.K <= 0 || p.M < 0 {
		return nil, errkind.Newf(errkind.Validation, "fec.encode", "invalid params k=%d m=%d", p.K, p.M)
	}
	enc, err := reedsolomon.New(p.K, p.M)
	if err != nil {
		return nil, errkind.New(errkind.Internal, "fec.encode", err)
	}

	shards, err := enc.Split(data)
	if err != nil {
		return nil, errkind.New(errkind.Internal, "fec.encode", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, errkind.New(errkind.Internal, "fec.encode", err)
	}

	out := make([]Shard, 0, p.K+p.M)
	for i, b := range shards {
		kind := KindData
		if i >= p.K {
			kind = KindParity
		}
		cp := append([]byte(nil), b...)
		out = append(out, Shard{
			Index: i, Kind: kind, Bytes: cp,
			IntegrityHash: blake3x.Sum(cp),
			GroupID:       groupID, DataID: dataID,
		})
	}
	return out, nil
}

// Decode reconstructs the original bytes from a sparse set of shares.
// shares must be indexed by shard index (nil entries mean missing);
// len(shares) must equal k+m. Any share that fails its integrity check
// is treated as missing. Decode succeeds whenever at least k
// integrity-valid shares are present.
func Decode(shares []*Shard, p Params, outSize int) ([]byte, error) {
	total := p.K + p.M
	if len(shares) != total {
		return nil, errkind.Newf(errkind.Validation, "fec.decode", "expected %d shares, got %d", total, len(shares))
	}

	present := 0
	raw := make([][]byte, total)
	for i, sh := range shares {
		if sh == nil {
			continue
		}
		if sh.Index != i {
			return nil, errkind.Newf(errkind.Validation, "fec.decode", "share at slot %d has index %d", i, sh.Index)
		}
		if !sh.verify() {
			continue // bad integrity hash: treated as missing
		}
		raw[i] = sh.Bytes
		present++
	}
	if present < p.K {
		return nil, errkind.Newf(errkind.Integrity, "fec.decode", "only %d of %d required shares present", present, p.K)
	}

	enc, err := reedsolomon.New(p.K, p.M)
	if err != nil {
		return nil, errkind.New(errkind.Internal, "fec.decode", err)
	}
	if err := enc.Reconstruct(raw); err != nil {
		return nil, errkind.New(errkind.Integrity, "fec.decode", fmt.Errorf("reconstruct: %w", err))
	}

	var buf bytes.Buffer
	if err := enc.Join(&buf, raw, outSize); err != nil {
		return nil, errkind.New(errkind.Integrity, "fec.decode", fmt.Errorf("join: %w", err))
	}
	return buf.Bytes(), nil
}
