// Package membership implements the Communitas core's per-group
// membership FSM (C7): Stable / MemberJoining / GracePeriod /
// Rebalancing, plus an EWMA reliability tracker feeding the shard
// distributor (C6). The reliability score decays toward a neutral
// baseline rather than toward zero, the inverse of a ban-score decay.
package membership

import (
	"sync"
	"time"

	"github.com/saorsalabs/communitas/internal/errkind"
	"github.com/saorsalabs/communitas/internal/hlc"
)

type State int

const (
	Stable State = iota
	MemberJoining
	GracePeriod
	Rebalancing
)

func (s State) String() string {
	switch s {
	case Stable:
		return "Stable"
	case MemberJoining:
		return "MemberJoining"
	case GracePeriod:
		return "GracePeriod"
	case Rebalancing:
		return "Rebalancing"
	default:
		return "Unknown"
	}
}

const (
	DefaultGraceWindow     = 30 * time.Second
	RebalanceThresholdPct  = 0.30
)

// ChangeKind distinguishes a join from a leave request; both count
// toward the cumulative-change ratio that decides Stable vs Rebalancing.
type ChangeKind int

const (
	Join ChangeKind = iota
	Leave
)

// FSM is one group's membership state machine. Concurrent join/leave
// requests are serialized by HLC order: RequestChange ticks the shared
// clock and returns the request's timestamp, so two concurrent callers
// are ordered deterministically even without an external lock.
type FSM struct {
	mu sync.Mutex

	state        State
	groupSize    int
	clock        *hlc.Clock
	pending      int // cumulative membership changes in the current window
	graceDeadline time.Time
	k            int // minimum online members required (from fec.Params)
	onlineCount  int
}

func New(groupSize, k int, clock *hlc.Clock) *FSM {
	return &FSM{state: Stable, groupSize: groupSize, k: k, clock: clock, onlineCount: groupSize}
}

func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// AcceptsWrites reports whether writes are accepted in the current
// state. Per spec, every state accepts writes; only Stable guarantees
// full redundancy without a pending re-encode.
func (f *FSM) AcceptsWrites() bool { return true }

// RequiresFullRedundancy reports whether writes in the current state
// are guaranteed full (k,m) redundancy without later re-encoding.
func (f *FSM) RequiresFullRedundancy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == Stable
}

// RequestChange queues a join/leave request. Only legal from Stable.
func (f *FSM) RequestChange(kind ChangeKind) (hlc.Timestamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ts := f.clock.Tick()
	if f.state != Stable {
		return ts, errkind.Newf(errkind.Validation, "membership.request_change", "cannot request change from state %s", f.state)
	}
	f.state = MemberJoining
	f.pending = 1
	switch kind {
	case Join:
		f.onlineCount++
	case Leave:
		f.onlineCount--
	}
	return ts, nil
}

// Acknowledge moves MemberJoining to GracePeriod once the group signer
// has acknowledged the queued change, starting the grace timer.
func (f *FSM) Acknowledge(now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != MemberJoining {
		return errkind.Newf(errkind.Validation, "membership.acknowledge", "cannot acknowledge from state %s", f.state)
	}
	f.state = GracePeriod
	f.graceDeadline = now.Add(DefaultGraceWindow)
	return nil
}

// AdditionalChange folds a further join/leave into the current grace
// window's cumulative count, serialized by HLC as RequestChange is.
func (f *FSM) AdditionalChange(kind ChangeKind) (hlc.Timestamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.clock.Tick()
	if f.state != GracePeriod && f.state != MemberJoining {
		return ts, errkind.Newf(errkind.Validation, "membership.additional_change", "cannot change from state %s", f.state)
	}
	f.pending++
	switch kind {
	case Join:
		f.onlineCount++
	case Leave:
		f.onlineCount--
	}
	return ts, nil
}

// Tick evaluates the grace timer: GracePeriod resolves to Stable if the
// cumulative change is below 30% of group size and the online member
// count does not fall below k; otherwise it resolves to Rebalancing.
func (f *FSM) Tick(now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != GracePeriod {
		return nil
	}
	if now.Before(f.graceDeadline) {
		return nil
	}

	changeRatio := float64(f.pending) / float64(f.groupSize)
	if changeRatio >= RebalanceThresholdPct || f.onlineCount < f.k {
		f.state = Rebalancing
		return nil
	}
	f.state = Stable
	f.pending = 0
	return nil
}

// ConfirmRebalance moves Rebalancing back to Stable once a new
// distribution plan is confirmed by at least k members.
func (f *FSM) ConfirmRebalance(confirmations int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Rebalancing {
		return errkind.Newf(errkind.Validation, "membership.confirm_rebalance", "not in Rebalancing, state=%s", f.state)
	}
	if confirmations < f.k {
		return errkind.Newf(errkind.Validation, "membership.confirm_rebalance", "need %d confirmations, got %d", f.k, confirmations)
	}
	f.state = Stable
	f.pending = 0
	f.groupSize = f.onlineCount
	return nil
}
