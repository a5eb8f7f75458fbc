// Package commands implements the Communitas core's external command
// surface: one JSON request in, one JSON response out, per operation.
// Grounded on cmd/rubin-consensus-cli's Request{Op string}/Response
// switch-dispatch idiom, generalized from that CLI's single stateless
// consensus library call to a Dispatcher holding the core's live state
// (identity store, container engine, chat groups, tip watcher).
package commands

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign"

	"github.com/saorsalabs/communitas/internal/blake3x"
	"github.com/saorsalabs/communitas/internal/config"
	"github.com/saorsalabs/communitas/internal/container"
	"github.com/saorsalabs/communitas/internal/errkind"
	"github.com/saorsalabs/communitas/internal/fec"
	"github.com/saorsalabs/communitas/internal/group"
	"github.com/saorsalabs/communitas/internal/hlc"
	"github.com/saorsalabs/communitas/internal/identity"
	"github.com/saorsalabs/communitas/internal/keys"
	"github.com/saorsalabs/communitas/internal/membership"
	"github.com/saorsalabs/communitas/internal/oplog"
	"github.com/saorsalabs/communitas/internal/policy"
	"github.com/saorsalabs/communitas/internal/secretstore"
	"github.com/saorsalabs/communitas/internal/session"
	"github.com/saorsalabs/communitas/internal/shard"
	"github.com/saorsalabs/communitas/internal/tipwatcher"
	"github.com/saorsalabs/communitas/internal/transport"
)

// Request is the flat wire shape for every command; fields unused by a
// given op are left zero/omitted, one wide struct rather than one type
// per op.
type Request struct {
	Op string `json:"op"`

	Words string `json:"words,omitempty"`

	PolicyKind  string `json:"policy_kind,omitempty"` // private_max | private_scoped | group_scoped | public_markdown
	Namespace   string `json:"namespace,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
	ContentB64  string `json:"content_b64,omitempty"`
	OID         string `json:"oid,omitempty"`

	Ops []json.RawMessage `json:"ops,omitempty"`

	GroupWords      string `json:"group_words,omitempty"`
	MemberWords     string `json:"member_words,omitempty"`
	MemberKEMPubB64 string `json:"member_kem_pub_b64,omitempty"`

	IntervalMS int64  `json:"interval_ms,omitempty"`
	PeerAddr   string `json:"peer_addr,omitempty"`

	K       int         `json:"k,omitempty"`
	M       int         `json:"m,omitempty"`
	OutSize int         `json:"out_size,omitempty"`
	Shares  []ShareJSON `json:"shares,omitempty"`

	PinnedSPKI string `json:"pinned_spki,omitempty"`

	UserID         string           `json:"user_id,omitempty"`
	IdentityHandle string           `json:"identity,omitempty"`
	Permissions    []PermissionJSON `json:"permissions,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Action    string `json:"action,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// ShareJSON is one erasure-coded share as supplied to sync.repair_fec.
type ShareJSON struct {
	Index   int    `json:"index"`
	Parity  bool   `json:"parity"`
	DataB64 string `json:"data_b64"`
}

// PermissionJSON is one session.create permission grant.
type PermissionJSON struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Scope    string `json:"scope"` // own | shared | all
}

// Response is the flat wire shape returned by every command.
type Response struct {
	Ok  bool   `json:"ok"`
	Err string `json:"err,omitempty"`

	IdentityIDHex string `json:"identity_id,omitempty"`
	KEMPubB64     string `json:"kem_pub_b64,omitempty"`

	OID        string `json:"oid,omitempty"`
	ContentB64 string `json:"content_b64,omitempty"`

	Tip *TipJSON `json:"tip,omitempty"`

	GroupIDHex string `json:"group_id,omitempty"`
	Words      string `json:"words,omitempty"`

	NOpsApplied int `json:"n_ops_applied,omitempty"`

	RepairedB64 string `json:"repaired_b64,omitempty"`

	SessionID string       `json:"session_id,omitempty"`
	Session   *SessionJSON `json:"session,omitempty"`
}

type TipJSON struct {
	RootHex string `json:"root_hex"`
	Count   uint64 `json:"count"`
}

type SessionJSON struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	IdentityHandle string `json:"identity"`
	ExpiresAtUnix  int64  `json:"expires_at"`
}

// Dispatcher holds the core's live state across a sequence of commands:
// the SecretStore-backed identity, the (possibly not-yet-opened)
// container engine, the restored chat-group manager, and the tip
// watcher's running/stopped lifecycle.
type Dispatcher struct {
	mu sync.Mutex

	cfg   config.Config
	store secretstore.Store

	engine *container.Engine
	chat   *group.Manager

	watcher        *tipwatcher.Watcher
	watcherRunning bool

	pinned   [][32]byte
	allowAny bool

	groupsMu        sync.Mutex
	groups          map[string]*groupRuntime
	membershipClock *hlc.Clock
}

func New(cfg config.Config, store secretstore.Store) *Dispatcher {
	return &Dispatcher{
		cfg:             cfg,
		store:           store,
		chat:            group.New(),
		watcher:         tipwatcher.New(hlc.New(), cfg.TipPollInterval),
		allowAny:        cfg.RPKAllowAny,
		groups:          make(map[string]*groupRuntime),
		membershipClock: hlc.New(),
	}
}

// groupRuntime is a group's membership FSM (C7) plus a per-member EWMA
// reliability tracker feeding shard.Member.Reliability. One instance is
// kept per group for the Dispatcher's lifetime.
type groupRuntime struct {
	mu          sync.Mutex
	fsm         *membership.FSM
	reliability map[string]*membership.Reliability
}

func newGroupRuntime(groupSize int, clock *hlc.Clock) *groupRuntime {
	k := fec.AdaptiveParams(groupSize).K
	return &groupRuntime{
		fsm:         membership.New(groupSize, k, clock),
		reliability: make(map[string]*membership.Reliability),
	}
}

func (rt *groupRuntime) reliabilityFor(memberHex string) *membership.Reliability {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, ok := rt.reliability[memberHex]
	if !ok {
		r = membership.NewReliability(0.5)
		rt.reliability[memberHex] = r
	}
	return r
}

// groupRuntimeFor returns (creating if absent) the membership runtime for
// groupID, sized to the group's current member count.
func (d *Dispatcher) groupRuntimeFor(groupID string, size int) *groupRuntime {
	d.groupsMu.Lock()
	defer d.groupsMu.Unlock()
	rt, ok := d.groups[groupID]
	if !ok {
		rt = newGroupRuntime(size, d.membershipClock)
		d.groups[groupID] = rt
	}
	return rt
}

// recordMembershipChange advances groupID's FSM on a join/leave: a
// group in Stable starts a new MemberJoining/GracePeriod cycle; a
// group already mid-cycle folds the change into the pending window.
func (d *Dispatcher) recordMembershipChange(groupID string, size int, kind membership.ChangeKind) error {
	rt := d.groupRuntimeFor(groupID, size)
	if _, err := rt.fsm.RequestChange(kind); err != nil {
		if _, err := rt.fsm.AdditionalChange(kind); err != nil {
			return err
		}
		return nil
	}
	return rt.fsm.Acknowledge(time.Now())
}

// Dispatch runs one request to completion and returns its response.
// Handlers validate their arguments before changing any state; a
// failure after a write has begun is returned as is, and the writes
// already made are not rolled back.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	switch req.Op {
	case "identity.claim":
		return d.identityClaim(req)
	case "identity.current":
		return d.identityCurrent()
	case "container.init":
		return d.containerInit()
	case "container.put_object":
		return d.containerPutObject(req)
	case "container.get_object":
		return d.containerGetObject(req)
	case "container.apply_ops":
		return d.containerApplyOps(req)
	case "container.current_tip":
		return d.containerCurrentTip()
	case "group.create":
		return d.groupCreate(req)
	case "group.add_member":
		return d.groupAddMember(req)
	case "group.remove_member":
		return d.groupRemoveMember(req)
	case "sync.start_tip_watcher":
		return d.syncStartTipWatcher(req)
	case "sync.stop_tip_watcher":
		return d.syncStopTipWatcher()
	case "sync.fetch_deltas":
		return d.syncFetchDeltas(ctx, req)
	case "sync.repair_fec":
		return d.syncRepairFEC(req)
	case "sync.set_quic_pinned_spki":
		return d.syncSetPinnedSPKI(req)
	case "session.create":
		return d.sessionCreate(req)
	case "session.validate":
		return d.sessionValidate(req)
	case "session.require_permission":
		return d.sessionRequirePermission(req)
	default:
		return Response{Ok: false, Err: "unknown op"}
	}
}

func errResp(err error) Response {
	return Response{Ok: false, Err: err.Error()}
}

func (d *Dispatcher) identityClaim(req Request) Response {
	id, err := identity.Claim(d.store, req.Words)
	if err != nil {
		return errResp(err)
	}
	return identityResponse(id)
}

func (d *Dispatcher) identityCurrent() Response {
	id, err := identity.Current(d.store)
	if err != nil {
		return errResp(err)
	}
	return identityResponse(id)
}

// identityResponse reports id's ML-KEM public key alongside its id, so
// a caller can hand it to a group admin (out of band) to be registered
// via group.add_member's member_kem_pub_b64 field.
func identityResponse(id identity.Identity) Response {
	kemPub, err := keys.MarshalKEMPublic(id.KEMPublic)
	if err != nil {
		return errResp(err)
	}
	return Response{
		Ok:            true,
		IdentityIDHex: id.IDHex(),
		KEMPubB64:     base64.StdEncoding.EncodeToString(kemPub),
	}
}

// DeriveMasterKey folds an identity's persisted ML-DSA secret key into
// the 32-byte master key the key hierarchy (C3) roots every namespace
// and group key in. The core's SecretStore contract (spec §6) closes
// over a fixed set of identity key-shapes; rather than add one more for
// a separately-generated master key, it is re-derived deterministically
// from material the identity already persists. Exported so cmd/communitas-node
// can open the same container.Engine outside the Dispatcher's JSON surface.
func DeriveMasterKey(id identity.Identity) (keys.MasterKey, error) {
	secBytes, err := id.Secret.MarshalBinary()
	if err != nil {
		return keys.MasterKey{}, errkind.New(errkind.Internal, "commands.derive_master_key", err)
	}
	return keys.MasterKey(blake3x.DeriveKey("master-v1", secBytes)), nil
}

func (d *Dispatcher) containerInit() Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := identity.Current(d.store)
	if err != nil {
		return errResp(errkind.New(errkind.NotFound, "container.init", err))
	}
	master, err := DeriveMasterKey(id)
	if err != nil {
		return errResp(err)
	}
	engine, err := container.Open(d.cfg, id, master)
	if err != nil {
		return errResp(err)
	}
	d.engine = engine
	return Response{Ok: true}
}

func (d *Dispatcher) requireEngine() (*container.Engine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engine == nil {
		return nil, errkind.New(errkind.NotFound, "commands.require_engine", errNotInitialized)
	}
	return d.engine, nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const errNotInitialized = simpleErr("container not initialized: call container.init first")

func policyFromRequest(req Request) (policy.Policy, error) {
	switch req.PolicyKind {
	case "", "private_max":
		return policy.PrivateMax(), nil
	case "private_scoped":
		return policy.PrivateScoped(req.Namespace), nil
	case "group_scoped":
		return policy.GroupScoped(req.GroupID), nil
	case "public_markdown":
		return policy.PublicMarkdown(), nil
	default:
		return policy.Policy{}, errkind.Newf(errkind.Validation, "commands.policy", "unknown policy_kind %q", req.PolicyKind)
	}
}

func (d *Dispatcher) containerPutObject(req Request) Response {
	engine, err := d.requireEngine()
	if err != nil {
		return errResp(err)
	}
	pol, err := policyFromRequest(req)
	if err != nil {
		return errResp(err)
	}
	content, err := base64.StdEncoding.DecodeString(req.ContentB64)
	if err != nil {
		return errResp(errkind.New(errkind.Validation, "container.put_object", err))
	}

	var opts container.GroupShardOptions
	if pol.Kind == policy.KindGroupScoped {
		opts, err = d.groupShardOptions(pol.GroupID)
		if err != nil {
			return errResp(err)
		}
	}

	oid, err := engine.PutObject(pol, content, opts)
	if err != nil {
		return errResp(err)
	}
	return Response{Ok: true, OID: oid}
}

// groupShardOptions derives the erasure-coding member list for a
// group_scoped put from the chat group manager's tracked membership
// (group.create/group.add_member), with each member's reliability
// pulled from the per-group EWMA tracker, and gates full redundancy on
// the group's membership FSM not being mid-transition.
func (d *Dispatcher) groupShardOptions(groupID string) (container.GroupShardOptions, error) {
	g, err := d.chat.Group(groupID)
	if err != nil {
		return container.GroupShardOptions{}, err
	}

	rt := d.groupRuntimeFor(groupID, len(g.Members))
	rt.fsm.Tick(time.Now())
	fullRedundancy := rt.fsm.RequiresFullRedundancy()

	now := time.Now()
	members := make([]shard.Member, 0, len(g.Members))
	for _, canonical := range g.Members {
		memberHex := blake3x.Hex(blake3x.Sum([]byte(canonical)))
		reliability := rt.reliabilityFor(memberHex).Score(now)
		members = append(members, shard.Member{ID: memberHex, Reliability: reliability})
	}

	return container.GroupShardOptions{Members: members, ReducedRedundancy: !fullRedundancy}, nil
}

func (d *Dispatcher) containerGetObject(req Request) Response {
	engine, err := d.requireEngine()
	if err != nil {
		return errResp(err)
	}
	pol, err := policyFromRequest(req)
	if err != nil {
		return errResp(err)
	}
	content, err := engine.GetObject(pol, req.OID, req.MemberCount)
	if err != nil {
		return errResp(err)
	}
	return Response{Ok: true, ContentB64: base64.StdEncoding.EncodeToString(content)}
}

// selfVerify trusts only the local identity's own signature, since the
// command surface has no contact/peer public-key registry wired in yet
// (out of scope at this layer — see DESIGN.md). It is sufficient for
// re-applying a container's own previously-emitted ops, e.g. after a
// restore; verifying a genuine remote peer's ops requires that peer's
// ML-DSA public key, obtained out of band.
func selfVerify(id identity.Identity) oplog.VerifyFunc {
	return oplog.DefaultVerify(map[[32]byte]sign.PublicKey{id.ID: id.Public})
}

// SelfVerify exports selfVerify for callers outside the Dispatcher.
func SelfVerify(id identity.Identity) oplog.VerifyFunc {
	return selfVerify(id)
}

func (d *Dispatcher) containerApplyOps(req Request) Response {
	engine, err := d.requireEngine()
	if err != nil {
		return errResp(err)
	}
	ops := make([]oplog.Op, 0, len(req.Ops))
	for _, raw := range req.Ops {
		op, err := oplog.UnmarshalOp(raw)
		if err != nil {
			return errResp(errkind.New(errkind.Validation, "container.apply_ops", err))
		}
		ops = append(ops, op)
	}
	tip, err := engine.ApplyOps(ops, selfVerify(engine.ID))
	if err != nil {
		return errResp(err)
	}
	return Response{Ok: true, Tip: tipJSON(tip)}
}

func (d *Dispatcher) containerCurrentTip() Response {
	engine, err := d.requireEngine()
	if err != nil {
		return errResp(err)
	}
	return Response{Ok: true, Tip: tipJSON(engine.CurrentTip())}
}

func tipJSON(t oplog.Tip) *TipJSON {
	return &TipJSON{RootHex: hex.EncodeToString(t.Root[:]), Count: t.Count}
}

// groupHandle derives a group id and its canonical four-word form the
// same way identity.Claim derives an identity id: a four-word phrase
// hashed with BLAKE3. Group ids and identity ids are both presentations
// of a 32-byte id over the same dictionary, so they are derived
// identically.
func groupHandle(phrase string) (idHex, canonical string, err error) {
	words, err := identity.ParseFourWords(phrase)
	if err != nil {
		return "", "", errkind.New(errkind.Validation, "commands.group_handle", err)
	}
	canonical = identity.Canonical(words)
	idHex = blake3x.Hex(blake3x.Sum([]byte(canonical)))
	return idHex, canonical, nil
}

func (d *Dispatcher) groupCreate(req Request) Response {
	idHex, canonical, err := groupHandle(req.Words)
	if err != nil {
		return errResp(err)
	}
	admin, err := identity.Current(d.store)
	if err != nil {
		return errResp(errkind.New(errkind.NotFound, "group.create", err))
	}
	d.chat.CreateGroupWithID(idHex, canonical, "", identity.Canonical(admin.Words))
	return Response{Ok: true, GroupIDHex: idHex, Words: canonical}
}

func (d *Dispatcher) groupAddMember(req Request) Response {
	groupIDHex, _, err := groupHandle(req.GroupWords)
	if err != nil {
		return errResp(err)
	}
	memberHex, memberCanonical, err := groupHandle(req.MemberWords)
	if err != nil {
		return errResp(err)
	}
	var registerKey func()
	if req.MemberKEMPubB64 != "" {
		engine, err := d.requireEngine()
		if err != nil {
			return errResp(err)
		}
		pubBytes, err := base64.StdEncoding.DecodeString(req.MemberKEMPubB64)
		if err != nil {
			return errResp(errkind.New(errkind.Validation, "group.add_member", err))
		}
		pub, err := keys.UnmarshalKEMPublic(pubBytes)
		if err != nil {
			return errResp(err)
		}
		registerKey = func() { engine.RegisterMemberKey(memberHex, pub) }
	}

	if err := d.chat.AddMember(groupIDHex, memberCanonical); err != nil {
		return errResp(err)
	}
	if registerKey != nil {
		registerKey()
	}

	g, err := d.chat.Group(groupIDHex)
	if err != nil {
		return errResp(err)
	}
	if err := d.recordMembershipChange(groupIDHex, len(g.Members), membership.Join); err != nil {
		return errResp(err)
	}
	return Response{Ok: true}
}

func (d *Dispatcher) groupRemoveMember(req Request) Response {
	groupIDHex, _, err := groupHandle(req.GroupWords)
	if err != nil {
		return errResp(err)
	}
	_, memberCanonical, err := groupHandle(req.MemberWords)
	if err != nil {
		return errResp(err)
	}
	if err := d.chat.RemoveMember(groupIDHex, memberCanonical); err != nil {
		return errResp(err)
	}

	g, err := d.chat.Group(groupIDHex)
	if err != nil {
		return errResp(err)
	}
	if err := d.recordMembershipChange(groupIDHex, len(g.Members), membership.Leave); err != nil {
		return errResp(err)
	}
	return Response{Ok: true}
}

// deltaSyncer adapts transport.FetchDeltas + Engine.ApplyOps into the
// tip watcher's PeerSyncer, so peers nudged by the watcher's per-tick
// backoff loop actually pull and apply deltas rather than merely being
// tracked.
type deltaSyncer struct {
	engine   *container.Engine
	pinned   [][32]byte
	allowAny bool
}

func (s *deltaSyncer) SyncPeer(ctx context.Context, peerAddr string) error {
	tip := s.engine.CurrentTip()
	ops, err := transport.FetchDeltas(ctx, peerAddr, hex.EncodeToString(tip.Root[:]), tip.Count, transport.PinConfig{Pinned: s.pinned, AllowAny: s.allowAny})
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	_, err = s.engine.ApplyOps(ops, selfVerify(s.engine.ID))
	return err
}

// NewDeltaSyncer exports the tip watcher's PeerSyncer adapter for callers
// that drive container.Engine directly, outside the Dispatcher, such as
// cmd/communitas-node.
func NewDeltaSyncer(engine *container.Engine, pinned [][32]byte, allowAny bool) tipwatcher.PeerSyncer {
	return &deltaSyncer{engine: engine, pinned: pinned, allowAny: allowAny}
}

func (d *Dispatcher) syncStartTipWatcher(req Request) Response {
	engine, err := d.requireEngine()
	if err != nil {
		return errResp(err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.watcherRunning {
		return errResp(errkind.New(errkind.Validation, "sync.start_tip_watcher", simpleErr("already-running")))
	}

	interval := time.Duration(req.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = d.cfg.TipPollInterval
	}
	d.watcher = tipwatcher.New(hlc.New(), interval)
	d.watcher.Start(context.Background(), engine, &deltaSyncer{engine: engine, pinned: d.pinned, allowAny: d.allowAny})
	d.watcherRunning = true
	return Response{Ok: true}
}

func (d *Dispatcher) syncStopTipWatcher() Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watcher.Stop()
	d.watcherRunning = false
	return Response{Ok: true}
}

func (d *Dispatcher) syncFetchDeltas(ctx context.Context, req Request) Response {
	engine, err := d.requireEngine()
	if err != nil {
		return errResp(err)
	}
	tip := engine.CurrentTip()
	ops, err := transport.FetchDeltas(ctx, req.PeerAddr, hex.EncodeToString(tip.Root[:]), tip.Count, transport.PinConfig{Pinned: d.pinned, AllowAny: d.allowAny})
	if err != nil {
		return errResp(err)
	}
	if len(ops) == 0 {
		return Response{Ok: true, NOpsApplied: 0, Tip: tipJSON(tip)}
	}
	newTip, err := engine.ApplyOps(ops, selfVerify(engine.ID))
	if err != nil {
		return errResp(err)
	}
	return Response{Ok: true, NOpsApplied: len(ops), Tip: tipJSON(newTip)}
}

func (d *Dispatcher) syncRepairFEC(req Request) Response {
	params := fec.Params{K: req.K, M: req.M}
	total := params.K + params.M
	shares := make([]*fec.Shard, total)
	for _, s := range req.Shares {
		if s.Index < 0 || s.Index >= total {
			return errResp(errkind.Newf(errkind.Validation, "sync.repair_fec", "share index %d out of range", s.Index))
		}
		b, err := base64.StdEncoding.DecodeString(s.DataB64)
		if err != nil {
			return errResp(errkind.New(errkind.Validation, "sync.repair_fec", err))
		}
		kind := fec.KindData
		if s.Parity {
			kind = fec.KindParity
		}
		shares[s.Index] = &fec.Shard{Index: s.Index, Kind: kind, Bytes: b, IntegrityHash: blake3x.Sum(b)}
	}
	out, err := fec.Decode(shares, params, req.OutSize)
	if err != nil {
		return errResp(err)
	}
	return Response{Ok: true, RepairedB64: base64.StdEncoding.EncodeToString(out)}
}

func (d *Dispatcher) syncSetPinnedSPKI(req Request) Response {
	key, err := transport.ParsePinnedKey(req.PinnedSPKI)
	if err != nil {
		return errResp(err)
	}
	d.mu.Lock()
	d.pinned = append(d.pinned, key)
	d.mu.Unlock()
	return Response{Ok: true}
}

func scopeFromString(s string) session.Scope {
	switch s {
	case "shared":
		return session.Shared
	case "all":
		return session.All
	default:
		return session.Own
	}
}

func (d *Dispatcher) sessionCreate(req Request) Response {
	engine, err := d.requireEngine()
	if err != nil {
		return errResp(err)
	}
	perms := make([]session.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		perms = append(perms, session.Permission{Resource: p.Resource, Action: p.Action, Scope: scopeFromString(p.Scope)})
	}
	s := engine.Sessions().Create(req.UserID, req.IdentityHandle, perms)
	return Response{Ok: true, SessionID: s.SessionID}
}

func sessionJSON(s *session.Session) *SessionJSON {
	return &SessionJSON{
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		IdentityHandle: s.IdentityHandle,
		ExpiresAtUnix:  s.ExpiresAt.Unix(),
	}
}

func (d *Dispatcher) sessionValidate(req Request) Response {
	engine, err := d.requireEngine()
	if err != nil {
		return errResp(err)
	}
	s, err := engine.Sessions().Validate(req.SessionID)
	if err != nil {
		return errResp(err)
	}
	return Response{Ok: true, Session: sessionJSON(s)}
}

func (d *Dispatcher) sessionRequirePermission(req Request) Response {
	engine, err := d.requireEngine()
	if err != nil {
		return errResp(err)
	}
	s, err := engine.Sessions().RequirePermission(req.SessionID, req.Resource, req.Action, scopeFromString(req.Scope))
	if err != nil {
		return errResp(err)
	}
	return Response{Ok: true, Session: sessionJSON(s)}
}
