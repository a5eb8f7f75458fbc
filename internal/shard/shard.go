// Package shard implements the Communitas core's shard distributor (C6):
// assigning erasure-coded shards to group members by reliability, with a
// consistent-hash ring designating replacement hosts.
package shard

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/saorsalabs/communitas/internal/blake3x"
	"github.com/saorsalabs/communitas/internal/errkind"
)

// Member is a group member with an EWMA reliability score in [0,1].
type Member struct {
	ID          string
	Reliability float64
}

// Plan is the output of AssignShards.
type Plan struct {
	Assignments map[string][]int     // member id -> shard indices it currently holds
	Replicas    map[int][2]string    // shard index -> 2 pre-designated hosts (ring order)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// sortedMembers orders members by reliability desc, then id asc, so the
// plan is deterministic given (members, reliability rounded to 2
// decimals, data_id) without any coordination between peers.
func sortedMembers(members []Member) []Member {
	out := make([]Member, len(members))
	for i, m := range members {
		out[i] = Member{ID: m.ID, Reliability: round2(m.Reliability)}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reliability != out[j].Reliability {
			return out[i].Reliability > out[j].Reliability
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ringHash hashes (groupID, dataID, shardIndex, member, vnode) to a
// position on the consistent-hash ring.
func ringHash(parts ...[]byte) [32]byte {
	return blake3x.SumMulti(parts...)
}

func u32le(n int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return b
}

const virtualNodesPerMember = 8

type ringPoint struct {
	hash   [32]byte
	member string
}

func buildRing(members []Member) []ringPoint {
	ring := make([]ringPoint, 0, len(members)*virtualNodesPerMember)
	for _, m := range members {
		for v := 0; v < virtualNodesPerMember; v++ {
			ring = append(ring, ringPoint{
				hash:   ringHash([]byte(m.ID), u32le(v)),
				member: m.ID,
			})
		}
	}
	sort.Slice(ring, func(i, j int) bool {
		return less32(ring[i].hash, ring[j].hash)
	})
	return ring
}

func less32(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// walkRing returns up to want distinct member ids starting at the ring
// position for key, walking clockwise, skipping members for which
// acceptable returns false.
func walkRing(ring []ringPoint, key [32]byte, want int, acceptable func(member string) bool) []string {
	if len(ring) == 0 {
		return nil
	}
	start := sort.Search(len(ring), func(i int) bool { return !less32(ring[i].hash, key) })

	seen := make(map[string]bool, want)
	out := make([]string, 0, want)
	for i := 0; i < len(ring) && len(out) < want; i++ {
		p := ring[(start+i)%len(ring)]
		if seen[p.member] {
			continue
		}
		if acceptable != nil && !acceptable(p.member) {
			continue
		}
		seen[p.member] = true
		out = append(out, p.member)
	}
	return out
}

// AssignShards builds a deterministic distribution plan for k+m shards
// of (groupID, dataID) over members.
func AssignShards(members []Member, k, m int, groupID, dataID string) (Plan, error) {
	if len(members) == 0 {
		return Plan{}, errkind.New(errkind.Validation, "shard.assign", errEmptyMembers)
	}
	if k <= 0 || m < 0 {
		return Plan{}, errkind.New(errkind.Validation, "shard.assign", errBadParams)
	}

	sorted := sortedMembers(members)
	n := len(sorted)
	total := k + m
	cap := (total + n - 1) / n // ceil(total/n)

	ring := buildRing(sorted)
	counts := make(map[string]int, n)
	assignments := make(map[string][]int, n)
	replicas := make(map[int][2]string, total)

	assign := func(shardIdx int, member string) {
		assignments[member] = append(assignments[member], shardIdx)
		counts[member]++
	}

	underCap := func(member string) bool { return counts[member] < cap }

	// Data shards: preferentially the k most reliable members, one each
	// when n >= k; cycling through the reliability-sorted order (capped)
	// when n < k.
	for i := 0; i < k; i++ {
		candidate := sorted[i%n].ID
		if underCap(candidate) {
			assign(i, candidate)
			continue
		}
		// Reliability pick is at cap; fall back to the ring for this index.
		hosts := walkRing(ring, ringHash([]byte(groupID), []byte(dataID), u32le(i)), 1, underCap)
		if len(hosts) == 0 {
			hosts = []string{candidate} // every member at cap: exceed rather than drop a shard
		}
		assign(i, hosts[0])
	}

	// Parity shards: consistent-hash ring placement.
	for i := k; i < total; i++ {
		key := ringHash([]byte(groupID), []byte(dataID), u32le(i))
		hosts := walkRing(ring, key, 1, underCap)
		if len(hosts) == 0 {
			hosts = walkRing(ring, key, 1, nil)
		}
		assign(i, hosts[0])
	}

	// Replicas: every shard index gets 2 pre-designated ring hosts,
	// independent of current holding counts.
	for i := 0; i < total; i++ {
		key := ringHash([]byte(groupID), []byte(dataID), u32le(i))
		hosts := walkRing(ring, key, 2, nil)
		var pair [2]string
		copy(pair[:], hosts)
		replicas[i] = pair
	}

	return Plan{Assignments: assignments, Replicas: replicas}, nil
}

var (
	errEmptyMembers = simpleErr("shard: no members supplied")
	errBadParams    = simpleErr("shard: invalid k/m")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
