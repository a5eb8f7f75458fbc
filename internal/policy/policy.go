// Package policy implements the Communitas core's storage policy engine:
// four tagged variants, each fixing an encryption mode, a dedup scope, a
// size cap and whether writes are audited.
package policy

import (
	"fmt"

	"github.com/saorsalabs/communitas/internal/errkind"
)

type EncryptionMode int

const (
	EncryptionLocalRandom EncryptionMode = iota // ChaCha20-Poly1305, fresh random key
	EncryptionNamespaceDerived                  // ChaCha20-Poly1305, key = namespace_key(ns)
	EncryptionGroupShared                       // ChaCha20-Poly1305, random body key wrapped per member
	EncryptionConvergent                        // key = convergent_key(plaintext)
)

type DedupScope int

const (
	DedupNone DedupScope = iota
	DedupUser
	DedupGroup
	DedupGlobal
)

// Kind tags which of the four policies a Policy value holds.
type Kind int

const (
	KindPrivateMax Kind = iota
	KindPrivateScoped
	KindGroupScoped
	KindPublicMarkdown
)

func (k Kind) String() string {
	switch k {
	case KindPrivateMax:
		return "PrivateMax"
	case KindPrivateScoped:
		return "PrivateScoped"
	case KindGroupScoped:
		return "GroupScoped"
	case KindPublicMarkdown:
		return "PublicMarkdown"
	default:
		return "Unknown"
	}
}

// Policy is a fixed struct over the four variants; Namespace is set only
// for PrivateScoped, GroupID only for GroupScoped. This is the core's
// only dynamic-dispatch point across storage policies (spec §9): a
// tagged variant, not an open-ended hierarchy.
type Policy struct {
	Kind      Kind
	Namespace string
	GroupID   string
}

func PrivateMax() Policy                { return Policy{Kind: KindPrivateMax} }
func PrivateScoped(ns string) Policy    { return Policy{Kind: KindPrivateScoped, Namespace: ns} }
func GroupScoped(groupID string) Policy { return Policy{Kind: KindGroupScoped, GroupID: groupID} }
func PublicMarkdown() Policy            { return Policy{Kind: KindPublicMarkdown} }

func (p Policy) EncryptionMode() EncryptionMode {
	switch p.Kind {
	case KindPrivateMax:
		return EncryptionLocalRandom
	case KindPrivateScoped:
		return EncryptionNamespaceDerived
	case KindGroupScoped:
		return EncryptionGroupShared
	default:
		return EncryptionConvergent
	}
}

func (p Policy) DeduplicationScope() DedupScope {
	switch p.Kind {
	case KindPrivateMax:
		return DedupNone
	case KindPrivateScoped:
		return DedupUser
	case KindGroupScoped:
		return DedupGroup
	default:
		return DedupGlobal
	}
}

// DedupKey returns the string that, together with the policy kind,
// scopes OID determinism: empty for PrivateMax (no dedup), the
// namespace for PrivateScoped, the group id for GroupScoped, and a
// constant for PublicMarkdown (global).
func (p Policy) DedupKey() string {
	switch p.Kind {
	case KindPrivateScoped:
		return "ns:" + p.Namespace
	case KindGroupScoped:
		return "group:" + p.GroupID
	case KindPublicMarkdown:
		return "global"
	default:
		return ""
	}
}

func (p Policy) AllowsSharing() bool {
	return p.Kind == KindGroupScoped || p.Kind == KindPublicMarkdown
}

func (p Policy) RequiresNamespaceKey() bool { return p.Kind == KindPrivateScoped }
func (p Policy) RequiresGroupKey() bool     { return p.Kind == KindGroupScoped }
func (p Policy) RequiresAudit() bool        { return p.Kind == KindPublicMarkdown }
func (p Policy) AllowsBinaryContent() bool  { return p.Kind != KindPublicMarkdown }

const (
	maxPrivateMax      = 100 << 20        // 100 MiB
	maxPrivateScoped   = 1 << 30          // 1 GiB
	maxGroupScoped     = 5 << 30          // 5 GiB
	maxPublicMarkdown  = 10 << 20         // 10 MiB
)

func (p Policy) MaxContentSize() int64 {
	switch p.Kind {
	case KindPrivateMax:
		return maxPrivateMax
	case KindPrivateScoped:
		return maxPrivateScoped
	case KindGroupScoped:
		return maxGroupScoped
	default:
		return maxPublicMarkdown
	}
}

// RequiresConfirmation reports whether transitioning TO this policy
// from any other requires an operator confirmation that the core itself
// does not prompt for (spec §4.4): any transition into PublicMarkdown.
func (p Policy) RequiresConfirmation() bool { return p.Kind == KindPublicMarkdown }

// principalReach ranks policies by how many principals can read the
// content: PrivateMax (1: the owner) < PrivateScoped (the owner across a
// namespace) < GroupScoped (the group) < PublicMarkdown (everyone).
// Used to enforce testable property 8, policy monotonicity.
func principalReach(k Kind) int {
	switch k {
	case KindPrivateMax:
		return 0
	case KindPrivateScoped:
		return 1
	case KindGroupScoped:
		return 2
	case KindPublicMarkdown:
		return 3
	default:
		return -1
	}
}

// ValidateTransition checks whether moving content from `from` to `to`
// is legal. It rejects structurally impossible targets (GroupScoped
// without a group id, PrivateScoped without a namespace) and any move
// to a policy with a smaller principalReach than the source, so an
// allowed transition never narrows who can read the content. Moves
// that widen the reach are allowed; the operator confirmation needed
// for PublicMarkdown is the caller's responsibility, flagged via
// RequiresConfirmation.
func ValidateTransition(from, to Policy) error {
	if to.Kind == KindGroupScoped && to.GroupID == "" {
		return errkind.Newf(errkind.Validation, "policy.transition", "GroupScoped requires a group_id")
	}
	if to.Kind == KindPrivateScoped && to.Namespace == "" {
		return errkind.Newf(errkind.Validation, "policy.transition", "PrivateScoped requires a namespace")
	}
	if from.Kind == to.Kind && from.Namespace == to.Namespace && from.GroupID == to.GroupID {
		return nil
	}
	if principalReach(to.Kind) < 0 || principalReach(from.Kind) < 0 {
		return errkind.Newf(errkind.Validation, "policy.transition", "unknown policy kind")
	}
	if principalReach(to.Kind) < principalReach(from.Kind) {
		return errkind.Newf(errkind.Validation, "policy.transition", "%s -> %s narrows who can read the content", from.Describe(), to.Describe())
	}
	return nil
}

// Describe returns a short label, for logging and command responses.
func (p Policy) Describe() string {
	switch p.Kind {
	case KindPrivateScoped:
		return fmt.Sprintf("PrivateScoped{%s}", p.Namespace)
	case KindGroupScoped:
		return fmt.Sprintf("GroupScoped{%s}", p.GroupID)
	default:
		return p.Kind.String()
	}
}
