// Package container wires the Communitas core's twelve components into
// one engine, following the write/read data flow: policy -> keys ->
// object store -> erasure coder -> capacity admission -> shard
// distribution -> op log -> tip; reads invert, consulting the cache
// first.
package container

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cloudflare/circl/kem"

	"github.com/saorsalabs/communitas/internal/blake3x"
	"github.com/saorsalabs/communitas/internal/cache"
	"github.com/saorsalabs/communitas/internal/capacity"
	"github.com/saorsalabs/communitas/internal/config"
	"github.com/saorsalabs/communitas/internal/errkind"
	"github.com/saorsalabs/communitas/internal/fec"
	"github.com/saorsalabs/communitas/internal/identity"
	"github.com/saorsalabs/communitas/internal/keys"
	"github.com/saorsalabs/communitas/internal/objectstore"
	"github.com/saorsalabs/communitas/internal/oplog"
	"github.com/saorsalabs/communitas/internal/policy"
	"github.com/saorsalabs/communitas/internal/session"
	"github.com/saorsalabs/communitas/internal/shard"
)

// Engine is one identity's local Communitas core.
type Engine struct {
	ID       identity.Identity
	cfg      config.Config
	master   keys.MasterKey
	store    *objectstore.Store
	log      *oplog.Log
	capacity *capacity.Manager
	cache    *cache.Cache
	sessions *session.Manager

	// keysMu guards keyIndex, which holds the content key for policies
	// whose key cannot be re-derived from public information alone at
	// read time: PrivateMax (random per object) and PublicMarkdown
	// (convergent on plaintext, which a reader who only has the oid
	// does not yet have). GroupScoped content keys are recorded here too
	// when this engine writes them, but reads unwrap the published group
	// key instead. PrivateScoped needs no entry since its key re-derives
	// deterministically from the namespace.
	keysMu   sync.RWMutex
	keyIndex map[string][32]byte

	// memberKeys holds the ML-KEM public keys of group members known to
	// this identity, populated out of band (see commands.groupAddMember)
	// as members are added. Wrapping a group content key for a member
	// absent from this map simply omits that member's wrap rather than
	// failing the whole put.
	memberKeys map[string]kem.PublicKey
}

// Open opens (creating if absent) the on-disk state for identity id
// under cfg.DataDir: the personal object store, the op log, and the
// in-memory capacity/cache/session managers.
func Open(cfg config.Config, id identity.Identity, master keys.MasterKey) (*Engine, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	idHex := hex.EncodeToString(id.ID[:])

	store, err := objectstore.Open(cfg.DataDir, idHex)
	if err != nil {
		return nil, errkind.New(errkind.Internal, "container.open", err)
	}
	log, err := oplog.Open(cfg.DataDir, idHex)
	if err != nil {
		store.Close()
		return nil, errkind.New(errkind.Internal, "container.open", err)
	}

	return &Engine{
		ID:       id,
		cfg:      cfg,
		master:   master,
		store:    store,
		log:      log,
		capacity: capacity.New(capacity.NewAllocation(uint64(cfg.CapacityBaseUnit))),
		cache:    cache.New(cfg.CacheBudgetBytes),
		sessions:   session.New(cfg.SessionLifetime),
		keyIndex:   make(map[string][32]byte),
		memberKeys: make(map[string]kem.PublicKey),
	}, nil
}

// RegisterMemberKey records memberHex's ML-KEM public key, so a future
// GroupScoped put can wrap a content key for them.
func (e *Engine) RegisterMemberKey(memberHex string, pub kem.PublicKey) {
	e.keysMu.Lock()
	defer e.keysMu.Unlock()
	e.memberKeys[memberHex] = pub
}

func (e *Engine) lookupMemberKey(memberHex string) (kem.PublicKey, bool) {
	e.keysMu.RLock()
	defer e.keysMu.RUnlock()
	pub, ok := e.memberKeys[memberHex]
	return pub, ok
}

func (e *Engine) rememberKey(oidHex string, key [32]byte) {
	e.keysMu.Lock()
	defer e.keysMu.Unlock()
	e.keyIndex[oidHex] = key
}

func (e *Engine) recalledKey(oidHex string) ([32]byte, bool) {
	e.keysMu.RLock()
	defer e.keysMu.RUnlock()
	k, ok := e.keyIndex[oidHex]
	return k, ok
}

func (e *Engine) Close() error { return e.store.Close() }

// contentKey derives the content-encryption key for pol, per §4.3.
func (e *Engine) contentKey(pol policy.Policy, plaintext []byte) ([32]byte, error) {
	switch pol.Kind {
	case policy.KindPrivateMax:
		return keys.ContentKeyRandom()
	case policy.KindPrivateScoped:
		return keys.NamespaceKey(e.master, pol.Namespace)
	case policy.KindGroupScoped:
		// Each put mints a fresh random content key; it never re-derives
		// from the group id, since e.master is per-identity and would
		// otherwise give every member a different key for the same
		// content. The key is shared by wrapping it per member (see
		// publishGroupKey), not by deriving it the same way twice.
		return keys.ContentKeyRandom()
	case policy.KindPublicMarkdown:
		return keys.ConvergentKey(plaintext), nil
	default:
		return [32]byte{}, errkind.Newf(errkind.Validation, "container.content_key", "unknown policy kind %v", pol.Kind)
	}
}

// dedupSalt returns the OID salt for pol: random (defeating dedup)
// under PrivateMax, otherwise a scope-deterministic salt so identical
// plaintext within the same scope reduces to the same oid.
func (e *Engine) dedupSalt(pol policy.Policy) ([]byte, error) {
	if pol.Kind == policy.KindPrivateMax {
		salt, err := keys.ContentKeyRandom()
		if err != nil {
			return nil, err
		}
		return salt[:], nil
	}
	return []byte(pol.DedupKey()), nil
}

func (e *Engine) encrypt(pol policy.Policy, key [32]byte, plaintext []byte) ([]byte, error) {
	if pol.Kind == policy.KindPrivateMax {
		return keys.Encrypt(key, plaintext)
	}
	return keys.EncryptDeterministic(key, plaintext)
}

// GroupShardOptions configures erasure coding for GroupScoped puts;
// zero value (nil Members) skips shard distribution, leaving the
// object local-only (used by non-group policies).
type GroupShardOptions struct {
	Members []shard.Member

	// ReducedRedundancy marks a put made while the group's membership
	// FSM is outside Stable (MemberJoining, GracePeriod, Rebalancing):
	// fewer parity shards are written and the shard directory is
	// flagged for a later re-encode once the group restabilizes. The
	// zero value is full redundancy, matching prior behavior.
	ReducedRedundancy bool
}

// PutObject chunks, encrypts, stores, optionally erasure-codes and
// distributes, and appends an op recording the write. Returns the hex
// object id.
func (e *Engine) PutObject(pol policy.Policy, plaintext []byte, opts GroupShardOptions) (string, error) {
	if int64(len(plaintext)) > pol.MaxContentSize() {
		return "", errkind.Newf(errkind.Validation, "container.put_object", "content of %d bytes exceeds policy max %d", len(plaintext), pol.MaxContentSize())
	}

	key, err := e.contentKey(pol, plaintext)
	if err != nil {
		return "", err
	}
	ciphertext, err := e.encrypt(pol, key, plaintext)
	if err != nil {
		return "", err
	}
	salt, err := e.dedupSalt(pol)
	if err != nil {
		return "", err
	}

	size := uint64(len(ciphertext))
	if !e.capacity.CanStorePersonal(size) {
		return "", errkind.New(errkind.Quota, "container.put_object", fmt.Errorf("personal storage quota exceeded"))
	}

	oidHex, _, err := e.store.PutObject(ciphertext, pol.Describe(), salt)
	if err != nil {
		return "", err
	}
	e.capacity.Update(capacity.PersonalStored, size)
	if pol.Kind == policy.KindPrivateMax || pol.Kind == policy.KindPublicMarkdown {
		e.rememberKey(oidHex, key)
	}
	if pol.Kind == policy.KindGroupScoped {
		// A local fallback: if no member ever receives a successful
		// wrap (e.g. their ML-KEM key isn't known yet), the writer can
		// still read its own write back.
		e.rememberKey(oidHex, key)
	}

	if pol.Kind == policy.KindGroupScoped && len(opts.Members) > 0 {
		if err := e.distributeShards(pol, oidHex, ciphertext, opts); err != nil {
			return "", err
		}
		if err := e.publishGroupKey(pol, oidHex, key, opts.Members); err != nil {
			return "", err
		}
	}

	payload, err := json.Marshal(opPayload{Action: "put_object", OID: oidHex, PolicyTag: pol.Describe(), Size: size})
	if err != nil {
		return "", errkind.New(errkind.Internal, "container.put_object", err)
	}
	if _, err := e.log.Append(e.ID, payload); err != nil {
		return "", err
	}

	return oidHex, nil
}

type opPayload struct {
	Action    string `json:"action"`
	OID       string `json:"oid"`
	PolicyTag string `json:"policy_tag"`
	Size      uint64 `json:"size"`
}

func (e *Engine) distributeShards(pol policy.Policy, oidHex string, ciphertext []byte, opts GroupShardOptions) error {
	members := opts.Members
	params := fec.AdaptiveParams(len(members))
	if opts.ReducedRedundancy {
		params.M = reducedParity(params.M)
	}
	shards, err := fec.Encode(ciphertext, params, pol.GroupID, oidHex)
	if err != nil {
		return err
	}
	if _, err := shard.AssignShards(members, params.K, params.M, pol.GroupID, oidHex); err != nil {
		return err
	}

	dir := e.cfg.GroupShardsDir(pol.GroupID, oidHex)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errkind.New(errkind.Internal, "container.distribute_shards", err)
	}
	for _, sh := range shards {
		shardSize := uint64(len(sh.Bytes))
		if !e.capacity.CanAcceptGroupShard(shardSize) {
			return errkind.New(errkind.Quota, "container.distribute_shards", fmt.Errorf("group shard quota exceeded"))
		}
		path := filepath.Join(dir, fmt.Sprintf("%d.shard", sh.Index))
		if err := os.WriteFile(path, sh.Bytes, 0o600); err != nil {
			return errkind.New(errkind.Internal, "container.distribute_shards", err)
		}
		e.capacity.Update(capacity.GroupShardStored, shardSize)
	}

	if opts.ReducedRedundancy {
		marker := filepath.Join(dir, "needs_reencode")
		if err := os.WriteFile(marker, []byte{}, 0o600); err != nil {
			return errkind.New(errkind.Internal, "container.distribute_shards", err)
		}
	}
	return nil
}

// reducedParity halves the parity shard count for a write made while a
// group's membership is not Stable, floored at 1.
func reducedParity(m int) int {
	reduced := m / 2
	if reduced < 1 {
		reduced = 1
	}
	return reduced
}

// groupKeyFile is the on-disk form of a keys.GroupKey, stored alongside
// a GroupScoped object's shards so any member who can read the shard
// directory can also recover the wrapped content key meant for them.
type groupKeyFile struct {
	KeyIDHex string            `json:"key_id_hex"`
	Version  uint32            `json:"version"`
	Wrapped  map[string]string `json:"wrapped"` // member id hex -> base64 blob
}

const groupKeyFileName = "groupkey.json"

// publishGroupKey wraps contentKey for every member whose ML-KEM public
// key is known (always including the writer itself, under its own id,
// even if absent from members) and persists the result next to the
// object's shards.
func (e *Engine) publishGroupKey(pol policy.Policy, oidHex string, contentKey [32]byte, members []shard.Member) error {
	selfHex := e.ID.IDHex()
	memberPubs := map[string]kem.PublicKey{selfHex: e.ID.KEMPublic}
	for _, m := range members {
		if m.ID == selfHex {
			continue
		}
		pub, ok := e.lookupMemberKey(m.ID)
		if !ok {
			continue
		}
		memberPubs[m.ID] = pub
	}

	var keyID [32]byte
	if _, err := rand.Read(keyID[:]); err != nil {
		return errkind.New(errkind.Internal, "container.publish_group_key", err)
	}
	gk, err := keys.WrapGroupKey(keyID, 1, contentKey, memberPubs)
	if err != nil {
		return err
	}
	return e.saveGroupKey(pol.GroupID, oidHex, gk)
}

func (e *Engine) saveGroupKey(groupID, oidHex string, gk keys.GroupKey) error {
	dir := e.cfg.GroupShardsDir(groupID, oidHex)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errkind.New(errkind.Internal, "container.save_group_key", err)
	}
	wrapped := make(map[string]string, len(gk.WrappedForMember))
	for member, blob := range gk.WrappedForMember {
		wrapped[member] = base64.StdEncoding.EncodeToString(blob)
	}
	raw, err := json.Marshal(groupKeyFile{
		KeyIDHex: hex.EncodeToString(gk.KeyID[:]),
		Version:  gk.Version,
		Wrapped:  wrapped,
	})
	if err != nil {
		return errkind.New(errkind.Internal, "container.save_group_key", err)
	}
	if err := os.WriteFile(filepath.Join(dir, groupKeyFileName), raw, 0o600); err != nil {
		return errkind.New(errkind.Internal, "container.save_group_key", err)
	}
	return nil
}

func (e *Engine) loadGroupKey(groupID, oidHex string) (keys.GroupKey, error) {
	dir := e.cfg.GroupShardsDir(groupID, oidHex)
	raw, err := os.ReadFile(filepath.Join(dir, groupKeyFileName))
	if err != nil {
		return keys.GroupKey{}, errkind.New(errkind.NotFound, "container.load_group_key", err)
	}
	var gf groupKeyFile
	if err := json.Unmarshal(raw, &gf); err != nil {
		return keys.GroupKey{}, errkind.New(errkind.Internal, "container.load_group_key", err)
	}
	keyIDBytes, err := hex.DecodeString(gf.KeyIDHex)
	if err != nil || len(keyIDBytes) != 32 {
		return keys.GroupKey{}, errkind.New(errkind.Integrity, "container.load_group_key", fmt.Errorf("corrupt group key id"))
	}
	var keyID [32]byte
	copy(keyID[:], keyIDBytes)

	wrapped := make(map[string][]byte, len(gf.Wrapped))
	for member, b64 := range gf.Wrapped {
		blob, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return keys.GroupKey{}, errkind.New(errkind.Integrity, "container.load_group_key", err)
		}
		wrapped[member] = blob
	}
	return keys.GroupKey{KeyID: keyID, Version: gf.Version, WrappedForMember: wrapped}, nil
}

// loadShardsFromDisk reads whatever shards are present under the
// group/data shard directory, for fec.Decode reconstruction.
func (e *Engine) loadShardsFromDisk(groupID, dataID string, params fec.Params) []*fec.Shard {
	dir := e.cfg.GroupShardsDir(groupID, dataID)
	total := params.K + params.M
	shares := make([]*fec.Shard, total)
	for i := 0; i < total; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%d.shard", i))
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		kind := fec.KindData
		if i >= params.K {
			kind = fec.KindParity
		}
		shares[i] = &fec.Shard{Index: i, Kind: kind, Bytes: b, IntegrityHash: blake3x.Sum(b), GroupID: groupID, DataID: dataID}
	}
	return shares
}

// GetObject returns the plaintext for oidHex under pol, consulting the
// cache first, then the local object store, falling back to erasure
// reconstruction from disk-held group shards when the local copy is
// absent and memberCount is known (GroupScoped only).
func (e *Engine) GetObject(pol policy.Policy, oidHex string, memberCount int) ([]byte, error) {
	cacheKey := cache.Key{PolicyTag: pol.DedupKey(), OID: oidHex}
	if plain, ok := e.cache.Get(cacheKey); ok {
		return plain, nil
	}

	reconstruct := objectstore.Reconstruct(func(oid string, m objectstore.Manifest) ([]byte, error) {
		if pol.Kind != policy.KindGroupScoped || memberCount == 0 {
			return nil, errkind.New(errkind.NotFound, "container.get_object", fmt.Errorf("no reconstruction source configured"))
		}
		params := fec.AdaptiveParams(memberCount)
		shares := e.loadShardsFromDisk(pol.GroupID, oid, params)
		return fec.Decode(shares, params, int(m.Size))
	})

	ciphertext, err := e.store.GetObject(oidHex, reconstruct)
	if err != nil {
		return nil, err
	}

	key, err := e.keyForDecrypt(pol, oidHex)
	if err != nil {
		return nil, err
	}
	plaintext, err := keys.Decrypt(key, ciphertext)
	if err != nil {
		return nil, err
	}

	e.cache.Put(pol.Kind, cacheKey, plaintext)
	return plaintext, nil
}

// keyForDecrypt resolves the content key for reading: PrivateScoped
// keys re-derive deterministically from the namespace id; GroupScoped
// unwraps this identity's own entry in the published group key;
// PrivateMax and PublicMarkdown consult the index populated at put
// time, since neither key is re-derivable from the oid alone.
func (e *Engine) keyForDecrypt(pol policy.Policy, oidHex string) ([32]byte, error) {
	switch pol.Kind {
	case policy.KindPrivateScoped:
		return keys.NamespaceKey(e.master, pol.Namespace)
	case policy.KindGroupScoped:
		if gk, err := e.loadGroupKey(pol.GroupID, oidHex); err == nil {
			if k, err := keys.UnwrapGroupKey(gk, e.ID.IDHex(), e.ID.KEMSecret); err == nil {
				return k, nil
			}
		}
		if k, ok := e.recalledKey(oidHex); ok {
			return k, nil
		}
		return [32]byte{}, errkind.New(errkind.NotFound, "container.get_object", fmt.Errorf("no content key known for %s", oidHex))
	case policy.KindPrivateMax, policy.KindPublicMarkdown:
		if k, ok := e.recalledKey(oidHex); ok {
			return k, nil
		}
		return [32]byte{}, errkind.New(errkind.NotFound, "container.get_object", fmt.Errorf("no content key known for %s", oidHex))
	default:
		return [32]byte{}, errkind.Newf(errkind.Validation, "container.get_object", "unknown policy kind %v", pol.Kind)
	}
}

func (e *Engine) CurrentTip() oplog.Tip { return e.log.CurrentTip() }

func (e *Engine) ApplyOps(ops []oplog.Op, verify oplog.VerifyFunc) (oplog.Tip, error) {
	return e.log.ApplyOps(ops, verify)
}

func (e *Engine) Since(sinceCount uint64) []oplog.Op { return e.log.Since(sinceCount) }

func (e *Engine) Sessions() *session.Manager { return e.sessions }

func (e *Engine) Capacity() *capacity.Manager { return e.capacity }

func (e *Engine) Cache() *cache.Cache { return e.cache }
