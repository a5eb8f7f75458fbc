// Package session implements the Communitas core's session/authz layer
// (C12): short-lived sessions with sliding expiry and permission
// predicates of the form (resource, action, scope), scope dominance
// Own ⊑ Shared ⊑ All.
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saorsalabs/communitas/internal/errkind"
)

// Scope ranks how broadly a permission applies; higher dominates lower.
type Scope int

const (
	Own Scope = iota
	Shared
	All
)

func (s Scope) dominates(required Scope) bool { return s >= required }

// Permission is a (resource, action, scope) triple; "*" is a wildcard
// on resource or action.
type Permission struct {
	Resource string
	Action   string
	Scope    Scope
}

func (p Permission) matches(resource, action string) bool {
	return (p.Resource == "*" || p.Resource == resource) &&
		(p.Action == "*" || p.Action == action)
}

const (
	DefaultLifetime   = time.Hour
	DefaultSweepEvery = 5 * time.Minute
)

// Session is a short-lived, sliding-expiry authorization context.
type Session struct {
	SessionID      string
	UserID         string
	IdentityHandle string
	Permissions    []Permission
	CreatedAt      time.Time
	LastAccessed   time.Time
	ExpiresAt      time.Time
}

func newSessionID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Manager holds the live session set and enforces sliding expiry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	lifetime time.Duration
	now      func() time.Time
}

func New(lifetime time.Duration) *Manager {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Manager{sessions: make(map[string]*Session), lifetime: lifetime, now: time.Now}
}

// NewWithClock lets tests inject a deterministic clock.
func NewWithClock(lifetime time.Duration, now func() time.Time) *Manager {
	m := New(lifetime)
	m.now = now
	return m
}

// Create starts a new session for userID/identityHandle with the given
// permission grants.
func (m *Manager) Create(userID, identityHandle string, perms []Permission) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s := &Session{
		SessionID:      newSessionID(),
		UserID:         userID,
		IdentityHandle: identityHandle,
		Permissions:    append([]Permission(nil), perms...),
		CreatedAt:      now,
		LastAccessed:   now,
		ExpiresAt:      now.Add(m.lifetime),
	}
	m.sessions[s.SessionID] = s
	return s
}

// Validate returns the session for id if present and unexpired,
// sliding its expiry forward on access. Expired sessions are evicted
// immediately.
func (m *Manager) Validate(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errkind.New(errkind.Access, "session.validate", errNotFound)
	}
	now := m.now()
	if now.After(s.ExpiresAt) {
		delete(m.sessions, id)
		return nil, errkind.New(errkind.Access, "session.validate", errExpired)
	}
	s.LastAccessed = now
	s.ExpiresAt = now.Add(m.lifetime)
	return s, nil
}

// RequirePermission validates id, then checks the session holds a
// permission matching (resource, action) whose scope dominates
// required.
func (m *Manager) RequirePermission(id, resource, action string, required Scope) (*Session, error) {
	s, err := m.Validate(id)
	if err != nil {
		return nil, err
	}
	if !Check(s, resource, action, required) {
		return nil, errkind.New(errkind.Access, "session.require_permission", errForbidden)
	}
	return s, nil
}

// Check reports whether s holds a permission matching (resource,
// action) whose scope dominates required. Safe for a nil session.
func Check(s *Session, resource, action string, required Scope) bool {
	if s == nil {
		return false
	}
	for _, p := range s.Permissions {
		if p.matches(resource, action) && p.Scope.dominates(required) {
			return true
		}
	}
	return false
}

// End removes a session immediately (logout).
func (m *Manager) End(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Sweep removes every expired session; call periodically (default
// every 5 minutes) from a background loop.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Count reports the number of live sessions, for status reporting.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const (
	errNotFound = simpleErr("session: not found")
	errExpired  = simpleErr("session: expired")
	errForbidden = simpleErr("session: forbidden")
)
