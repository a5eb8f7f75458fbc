package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateAndValidate(t *testing.T) {
	m := New(time.Hour)
	s := m.Create("u1", "id1", []Permission{{Resource: "messages", Action: "read", Scope: Shared}})

	got, err := m.Validate(s.SessionID)
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
}

func TestValidateSlidesExpiry(t *testing.T) {
	clockTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewWithClock(time.Hour, func() time.Time { return clockTime })
	s := m.Create("u1", "id1", nil)
	firstExpiry := s.ExpiresAt

	clockTime = clockTime.Add(30 * time.Minute)
	got, err := m.Validate(s.SessionID)
	require.NoError(t, err)
	require.True(t, got.ExpiresAt.After(firstExpiry))
}

func TestValidateRejectsExpiredSession(t *testing.T) {
	clockTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewWithClock(time.Minute, func() time.Time { return clockTime })
	s := m.Create("u1", "id1", nil)

	clockTime = clockTime.Add(2 * time.Minute)
	_, err := m.Validate(s.SessionID)
	require.Error(t, err)
	require.Equal(t, 0, m.Count())
}

// TestScopeDominanceMonotonicity covers testable property 10: check(s,
// r) = true implies check(s, r') = true for any r' that r dominates.
func TestScopeDominanceMonotonicity(t *testing.T) {
	m := New(time.Hour)
	s := m.Create("u1", "id1", []Permission{{Resource: "messages", Action: "read", Scope: Shared}})

	require.True(t, Check(s, "messages", "read", Own))
	require.True(t, Check(s, "messages", "read", Shared))
	require.False(t, Check(s, "messages", "read", All))
}

// TestPermissionCheckScenario covers scenario S6.
func TestPermissionCheckScenario(t *testing.T) {
	m := New(time.Hour)
	s := m.Create("u1", "id1", []Permission{{Resource: "messages", Action: "read", Scope: Shared}})
	require.True(t, Check(s, "messages", "read", Own))
	require.False(t, Check(s, "messages", "write", Shared))

	admin := m.Create("admin", "id-admin", []Permission{{Resource: "*", Action: "*", Scope: All}})
	require.True(t, Check(admin, "messages", "read", Own))
	require.True(t, Check(admin, "messages", "write", Shared))
}

func TestRequirePermissionForbidden(t *testing.T) {
	m := New(time.Hour)
	s := m.Create("u1", "id1", []Permission{{Resource: "messages", Action: "read", Scope: Own}})

	_, err := m.RequirePermission(s.SessionID, "messages", "write", Own)
	require.Error(t, err)

	_, err = m.RequirePermission(s.SessionID, "messages", "read", Own)
	require.NoError(t, err)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	clockTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewWithClock(time.Minute, func() time.Time { return clockTime })
	short := m.Create("u1", "id1", nil)
	_ = short

	clockTime = clockTime.Add(2 * time.Minute)
	longLived := m.Create("u2", "id2", nil)
	m.now = func() time.Time { return clockTime.Add(30 * time.Second) }

	removed := m.Sweep()
	require.Equal(t, 1, removed)
	require.Equal(t, 1, m.Count())
	_, err := m.Validate(longLived.SessionID)
	require.NoError(t, err)
}
