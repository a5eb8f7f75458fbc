package container

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saorsalabs/communitas/internal/config"
	"github.com/saorsalabs/communitas/internal/identity"
	"github.com/saorsalabs/communitas/internal/keys"
	"github.com/saorsalabs/communitas/internal/policy"
	"github.com/saorsalabs/communitas/internal/secretstore"
	"github.com/saorsalabs/communitas/internal/shard"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.CacheBudgetBytes = 1 << 20
	cfg.CapacityBaseUnit = 1 << 20

	store := secretstore.NewMemory()
	id, err := identity.Claim(store, "ocean-forest-moon-star")
	require.NoError(t, err)

	var master keys.MasterKey
	e, err := Open(cfg, id, master)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestPutGetRoundTripPrivateMax(t *testing.T) {
	e := newTestEngine(t)
	pol := policy.PrivateMax()
	plaintext := []byte("top secret notes")

	oid, err := e.PutObject(pol, plaintext, GroupShardOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, oid)

	got, err := e.GetObject(pol, oid, 0)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestPutGetRoundTripPrivateScoped(t *testing.T) {
	e := newTestEngine(t)
	pol := policy.PrivateScoped("notes")
	plaintext := []byte("scoped personal content")

	oid, err := e.PutObject(pol, plaintext, GroupShardOptions{})
	require.NoError(t, err)

	got, err := e.GetObject(pol, oid, 0)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestPutGetRoundTripPublicMarkdown(t *testing.T) {
	e := newTestEngine(t)
	pol := policy.PublicMarkdown()
	plaintext := []byte("# hello world\n\npublic markdown body")

	oid, err := e.PutObject(pol, plaintext, GroupShardOptions{})
	require.NoError(t, err)

	got, err := e.GetObject(pol, oid, 0)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestPrivateScopedDedupSameNamespaceSameOID(t *testing.T) {
	e := newTestEngine(t)
	pol := policy.PrivateScoped("shared-namespace")
	plaintext := []byte("identical content")

	oid1, err := e.PutObject(pol, plaintext, GroupShardOptions{})
	require.NoError(t, err)
	oid2, err := e.PutObject(pol, plaintext, GroupShardOptions{})
	require.NoError(t, err)

	require.Equal(t, oid1, oid2, "identical plaintext under the same namespace should dedup to the same oid")
}

func TestPrivateMaxNeverDedupsEvenForIdenticalContent(t *testing.T) {
	e := newTestEngine(t)
	pol := policy.PrivateMax()
	plaintext := []byte("identical content")

	oid1, err := e.PutObject(pol, plaintext, GroupShardOptions{})
	require.NoError(t, err)
	oid2, err := e.PutObject(pol, plaintext, GroupShardOptions{})
	require.NoError(t, err)

	require.NotEqual(t, oid1, oid2, "PrivateMax salts randomly, defeating dedup by design")
}

func TestPublicMarkdownConvergesAcrossNamespaces(t *testing.T) {
	e := newTestEngine(t)
	plaintext := []byte("# shared public doc")

	oid1, err := e.PutObject(policy.PublicMarkdown(), plaintext, GroupShardOptions{})
	require.NoError(t, err)
	oid2, err := e.PutObject(policy.PublicMarkdown(), plaintext, GroupShardOptions{})
	require.NoError(t, err)

	require.Equal(t, oid1, oid2, "identical plaintext under PublicMarkdown is content-addressed convergently")
}

func TestPutObjectAppendsOpAndAdvancesTip(t *testing.T) {
	e := newTestEngine(t)
	before := e.CurrentTip()

	_, err := e.PutObject(policy.PrivateMax(), []byte("data"), GroupShardOptions{})
	require.NoError(t, err)

	after := e.CurrentTip()
	require.Greater(t, after.Count, before.Count)
}

func TestGroupScopedPutDistributesAndReconstructsShards(t *testing.T) {
	e := newTestEngine(t)
	pol := policy.GroupScoped("group-alpha")
	plaintext := []byte("group content shared across members, long enough to split into multiple data shards for the erasure coder to exercise properly")

	members := []shard.Member{
		{ID: "m1", Reliability: 0.9},
		{ID: "m2", Reliability: 0.9},
		{ID: "m3", Reliability: 0.8},
		{ID: "m4", Reliability: 0.7},
		{ID: "m5", Reliability: 0.6},
	}

	oid, err := e.PutObject(pol, plaintext, GroupShardOptions{Members: members})
	require.NoError(t, err)

	dir := e.cfg.GroupShardsDir(pol.GroupID, oid)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 6) // K=3, M=2 for 5 members: 5 shards plus groupkey.json

	// Remove the local copy so GetObject must fall back to shard
	// reconstruction rather than the direct object-store path.
	_, err = e.store.GC(func(string) bool { return false })
	require.NoError(t, err)

	got, err := e.GetObject(pol, oid, len(members))
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestGroupScopedReconstructsAfterLosingParityShards(t *testing.T) {
	e := newTestEngine(t)
	pol := policy.GroupScoped("group-beta")
	plaintext := []byte("resilient group content that tolerates losing up to m shards out of k+m total shards written to disk")

	members := []shard.Member{
		{ID: "m1", Reliability: 0.9},
		{ID: "m2", Reliability: 0.9},
		{ID: "m3", Reliability: 0.8},
		{ID: "m4", Reliability: 0.7},
		{ID: "m5", Reliability: 0.6},
	}

	oid, err := e.PutObject(pol, plaintext, GroupShardOptions{Members: members})
	require.NoError(t, err)

	dir := e.cfg.GroupShardsDir(pol.GroupID, oid)
	// Drop the two parity shards (indices 3 and 4 for K=3,M=2); decode
	// must still succeed from the three remaining data shards.
	require.NoError(t, os.Remove(dir+"/3.shard"))
	require.NoError(t, os.Remove(dir+"/4.shard"))

	_, err = e.store.GC(func(string) bool { return false })
	require.NoError(t, err)

	got, err := e.GetObject(pol, oid, len(members))
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

// TestGroupScopedCrossIdentityKeyWrapRoundTrip exercises the real
// group-key-sharing path across two distinct identities (distinct
// master keys), proving the content key a put wraps for a member is
// the same key that member's own engine recovers, rather than each
// identity deriving its own key from its own master.
func TestGroupScopedCrossIdentityKeyWrapRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.CacheBudgetBytes = 1 << 20
	cfg.CapacityBaseUnit = 1 << 20

	idA, err := identity.Claim(secretstore.NewMemory(), "ocean-forest-moon-star")
	require.NoError(t, err)
	masterA := keys.MasterKey{1}
	engineA, err := Open(cfg, idA, masterA)
	require.NoError(t, err)
	t.Cleanup(func() { engineA.Close() })

	idB, err := identity.Claim(secretstore.NewMemory(), "falcon-ember-willow-quartz")
	require.NoError(t, err)
	masterB := keys.MasterKey{2}
	engineB, err := Open(cfg, idB, masterB)
	require.NoError(t, err)
	t.Cleanup(func() { engineB.Close() })

	// Admin (engine A) learns member B's ML-KEM public key out of band,
	// the way commands.groupAddMember registers it.
	engineA.RegisterMemberKey(idB.IDHex(), idB.KEMPublic)

	pol := policy.GroupScoped("shared-group")
	plaintext := []byte("content every member of this group must be able to read back, regardless of whose master key wrote it")
	members := []shard.Member{
		{ID: idA.IDHex(), Reliability: 0.9},
		{ID: idB.IDHex(), Reliability: 0.9},
	}

	oid, err := engineA.PutObject(pol, plaintext, GroupShardOptions{Members: members})
	require.NoError(t, err)

	got, err := engineB.GetObject(pol, oid, len(members))
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestGroupScopedReducedRedundancyWritesNeedsReencodeMarker(t *testing.T) {
	e := newTestEngine(t)
	pol := policy.GroupScoped("group-gamma")
	plaintext := []byte("content written while the group's membership is mid-change, so redundancy is reduced")

	members := []shard.Member{
		{ID: "m1", Reliability: 0.9},
		{ID: "m2", Reliability: 0.9},
		{ID: "m3", Reliability: 0.8},
		{ID: "m4", Reliability: 0.7},
		{ID: "m5", Reliability: 0.6},
	}

	oid, err := e.PutObject(pol, plaintext, GroupShardOptions{Members: members, ReducedRedundancy: true})
	require.NoError(t, err)

	dir := e.cfg.GroupShardsDir(pol.GroupID, oid)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var sawMarker bool
	shardCount := 0
	for _, ent := range entries {
		if ent.Name() == "needs_reencode" {
			sawMarker = true
			continue
		}
		if ent.Name() == groupKeyFileName {
			continue
		}
		shardCount++
	}
	require.True(t, sawMarker, "reduced-redundancy writes must flag the shard directory for a later re-encode")

	full := newTestEngine(t)
	oidFull, err := full.PutObject(pol, plaintext, GroupShardOptions{Members: members})
	require.NoError(t, err)
	fullEntries, err := os.ReadDir(full.cfg.GroupShardsDir(pol.GroupID, oidFull))
	require.NoError(t, err)
	require.Less(t, shardCount, len(fullEntries)-1, "reduced redundancy must write fewer parity shards than a full-redundancy write")
}

func TestPrivateMaxContentOverMaxSizeRejected(t *testing.T) {
	e := newTestEngine(t)
	pol := policy.PrivateMax()
	big := make([]byte, pol.MaxContentSize()+1)

	_, err := e.PutObject(pol, big, GroupShardOptions{})
	require.Error(t, err)
}

func TestGetObjectUnknownOIDFails(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.GetObject(policy.PrivateMax(), "0000000000000000000000000000000000000000000000000000000000000000", 0)
	require.Error(t, err)
}

func TestCacheServesSecondGetWithoutTouchingStore(t *testing.T) {
	e := newTestEngine(t)
	pol := policy.PrivateScoped("cached-ns")
	plaintext := []byte("cache me")

	oid, err := e.PutObject(pol, plaintext, GroupShardOptions{})
	require.NoError(t, err)

	_, err = e.GetObject(pol, oid, 0)
	require.NoError(t, err)

	// Remove the underlying object entirely; a cache hit must still
	// succeed since GetObject checks the cache before the store.
	_, err = e.store.GC(func(string) bool { return false })
	require.NoError(t, err)

	got, err := e.GetObject(pol, oid, 0)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}
