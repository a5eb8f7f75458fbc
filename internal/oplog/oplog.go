// Package oplog implements the Communitas core's append-only, signed
// operation log with a verifiable tip (C5). The on-disk format is a
// length-prefixed signed record stream: each record is a 4-byte
// big-endian length followed by the JSON of the op, whose ML-DSA
// signature is carried as a hex field inside that JSON; no separate
// signature bytes follow the JSON.
package oplog

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cloudflare/circl/sign"

	"github.com/saorsalabs/communitas/internal/blake3x"
	"github.com/saorsalabs/communitas/internal/errkind"
	"github.com/saorsalabs/communitas/internal/hlc"
	"github.com/saorsalabs/communitas/internal/identity"
)

// Op is a signed, sequence-numbered record in one identity's log.
type Op struct {
	Seq        uint64
	AuthorID   [32]byte
	Payload    []byte
	ParentRoot [32]byte
	HLC        hlc.Timestamp
	Signature  []byte
}

// Tip summarizes the log at a moment in time.
type Tip struct {
	Root  [32]byte
	Count uint64
}

// signable is the canonical encoding an Op is signed over; it excludes
// the signature itself.
type signable struct {
	Seq        uint64 `json:"seq"`
	AuthorID   string `json:"author_id"`
	Payload    string `json:"payload"` // hex
	ParentRoot string `json:"parent_root"`
	HLCWall    int64  `json:"hlc_wall"`
	HLCLogical uint32 `json:"hlc_logical"`
}

func canonicalBytes(o Op) []byte {
	s := signable{
		Seq:        o.Seq,
		AuthorID:   blake3x.Hex(o.AuthorID),
		Payload:    hex.EncodeToString(o.Payload),
		ParentRoot: blake3x.Hex(o.ParentRoot),
		HLCWall:    o.HLC.Wall,
		HLCLogical: o.HLC.Logical,
	}
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("oplog: signable must marshal: %v", err))
	}
	return b
}

// wireOp is the on-disk / wire JSON form of Op, including the signature,
// used both for the length-prefixed log file and for C8 delta responses.
type wireOp struct {
	Seq        uint64 `json:"seq"`
	AuthorID   string `json:"author_id"`
	Payload    string `json:"payload"`
	ParentRoot string `json:"parent_root"`
	HLCWall    int64  `json:"hlc_wall"`
	HLCLogical uint32 `json:"hlc_logical"`
	Signature  string `json:"signature"`
}

func toWire(o Op) wireOp {
	return wireOp{
		Seq: o.Seq, AuthorID: blake3x.Hex(o.AuthorID),
		Payload: hex.EncodeToString(o.Payload), ParentRoot: blake3x.Hex(o.ParentRoot),
		HLCWall: o.HLC.Wall, HLCLogical: o.HLC.Logical,
		Signature: hex.EncodeToString(o.Signature),
	}
}

func fromWire(w wireOp) (Op, error) {
	var o Op
	author, err := blake3x.FromHex(w.AuthorID)
	if err != nil {
		return o, fmt.Errorf("author_id: %w", err)
	}
	parent, err := blake3x.FromHex(w.ParentRoot)
	if err != nil {
		return o, fmt.Errorf("parent_root: %w", err)
	}
	payload, err := hex.DecodeString(w.Payload)
	if err != nil {
		return o, fmt.Errorf("payload: %w", err)
	}
	sig, err := hex.DecodeString(w.Signature)
	if err != nil {
		return o, fmt.Errorf("signature: %w", err)
	}
	o = Op{
		Seq: w.Seq, AuthorID: author, Payload: payload, ParentRoot: parent,
		HLC: hlc.Timestamp{Wall: w.HLCWall, Logical: w.HLCLogical}, Signature: sig,
	}
	return o, nil
}

// MarshalOp/UnmarshalOp expose the wire JSON form for the transport layer.
func MarshalOp(o Op) ([]byte, error) { return json.Marshal(toWire(o)) }
func UnmarshalOp(b []byte) (Op, error) {
	var w wireOp
	if err := json.Unmarshal(b, &w); err != nil {
		return Op{}, err
	}
	return fromWire(w)
}

// Log is one identity's append-only signed operation log.
type Log struct {
	mu    sync.Mutex
	path  string
	ops   []Op
	root  [32]byte
	clock *hlc.Clock
}

// Open replays <data_root>/log/<author_hex>.log into memory, discarding
// any trailing partial record (a crash mid-append).
func Open(dataRoot, authorHex string) (*Log, error) {
	dir := filepath.Join(dataRoot, "log")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.New(errkind.Internal, "oplog.open", err)
	}
	path := filepath.Join(dir, authorHex+".log")

	l := &Log{path: path, clock: hlc.New()}
	if err := l.replay(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) replay() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.New(errkind.Internal, "oplog.replay", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var lenBuf [4]byte
		if _, err := readFull(r, lenBuf[:]); err != nil {
			break // EOF or partial trailing record: stop, as if never written
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, n)
		if _, err := readFull(r, body); err != nil {
			break
		}
		var w wireOp
		if err := json.Unmarshal(body, &w); err != nil {
			break
		}
		op, err := fromWire(w)
		if err != nil {
			break
		}
		l.ops = append(l.ops, op)
		l.root = foldIn(l.root, op)
	}
	return nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func foldIn(root [32]byte, o Op) [32]byte {
	return blake3x.FoldPair(root, blake3x.FoldLeaf(canonicalBytes(o)))
}

// CurrentTip returns the log's tip.
func (l *Log) CurrentTip() Tip {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Tip{Root: l.root, Count: uint64(len(l.ops))}
}

// Append signs and appends one new op authored by id.
func (l *Log) Append(id identity.Identity, payload []byte) (Op, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	op := Op{
		Seq:        uint64(len(l.ops)) + 1,
		AuthorID:   id.ID,
		Payload:    payload,
		ParentRoot: l.root,
		HLC:        l.clock.Tick(),
	}
	op.Signature = id.Sign(canonicalBytes(op))

	if err := l.writeRecord(op); err != nil {
		return Op{}, errkind.New(errkind.Internal, "oplog.append", err)
	}
	l.ops = append(l.ops, op)
	l.root = foldIn(l.root, op)
	return op, nil
}

func (l *Log) writeRecord(o Op) error {
	b, err := json.Marshal(toWire(o))
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		return err
	}
	return f.Sync()
}

// VerifyFunc checks a signature under the claimed author's ML-DSA key.
// Callers typically supply a lookup over known group/peer public keys.
type VerifyFunc func(authorID [32]byte, msg, sig []byte) bool

// DefaultVerify builds a VerifyFunc from a static map of known public
// keys, matching the common case of verifying ops from known group
// members.
func DefaultVerify(known map[[32]byte]sign.PublicKey) VerifyFunc {
	return func(authorID [32]byte, msg, sig []byte) bool {
		pub, ok := known[authorID]
		if !ok {
			return false
		}
		return identity.Verify(pub, msg, sig)
	}
}

// ApplyOps validates and appends a batch of foreign ops. The whole batch
// is rejected atomically: a parent_root gap or a bad signature anywhere
// in the batch leaves the log unmodified.
func (l *Log) ApplyOps(ops []Op, verify VerifyFunc) (Tip, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	runningRoot := l.root
	runningSeq := uint64(len(l.ops))
	for _, op := range ops {
		if op.Seq != runningSeq+1 {
			return Tip{}, errkind.Newf(errkind.Integrity, "oplog.apply_ops", "expected seq %d, got %d", runningSeq+1, op.Seq)
		}
		if op.ParentRoot != runningRoot {
			return Tip{}, errkind.Newf(errkind.Integrity, "oplog.apply_ops", "parent_root mismatch at seq %d", op.Seq)
		}
		if !verify(op.AuthorID, canonicalBytes(op), op.Signature) {
			return Tip{}, errkind.Newf(errkind.Integrity, "oplog.apply_ops", "bad signature at seq %d", op.Seq)
		}
		runningRoot = foldIn(runningRoot, op)
		runningSeq++
	}

	// Validation passed for the whole batch; commit.
	for _, op := range ops {
		if err := l.writeRecord(op); err != nil {
			return Tip{}, errkind.New(errkind.Internal, "oplog.apply_ops", err)
		}
		l.ops = append(l.ops, op)
		l.root = foldIn(l.root, op)
	}
	return Tip{Root: l.root, Count: uint64(len(l.ops))}, nil
}

// Since returns every op with seq > sinceCount, for building delta
// responses.
func (l *Log) Since(sinceCount uint64) []Op {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sinceCount >= uint64(len(l.ops)) {
		return nil
	}
	out := make([]Op, len(l.ops)-int(sinceCount))
	copy(out, l.ops[sinceCount:])
	return out
}

// Clock exposes the log's HLC so callers (e.g. membership FSM ordering)
// can tick/update the same causal clock.
func (l *Log) Clock() *hlc.Clock { return l.clock }
