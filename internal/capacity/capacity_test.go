package capacity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanStorePersonalRequiresDoubleSpace(t *testing.T) {
	m := New(NewAllocation(1000))
	require.True(t, m.CanStorePersonal(400)) // 800 <= 900 (after 10% reserve)
	require.False(t, m.CanStorePersonal(500))
}

func TestUpdateReplicatesPersonalIntoDHTBucket(t *testing.T) {
	m := New(NewAllocation(1000))
	m.Update(PersonalStored, 100)
	require.EqualValues(t, 100, m.Status().Usage.PersonalLocal)
	require.EqualValues(t, 100, m.Status().Usage.PersonalDHT)
}

func TestRemovalSaturatesAtZero(t *testing.T) {
	m := New(NewAllocation(1000))
	m.Update(PersonalStored, 50)
	m.Update(PersonalRemoved, 999)
	require.EqualValues(t, 0, m.Status().Usage.PersonalLocal)
}

func TestIsHealthyCrossesNinetyPercent(t *testing.T) {
	m := New(NewAllocation(1000))
	require.True(t, m.Status().IsHealthy)
	m.Update(DHTDataStored, 1900) // public_dht alloc = 2000, 95% >= 90% threshold
	require.False(t, m.Status().IsHealthy)
}

func TestWarningsAppearAboveEightyPercent(t *testing.T) {
	m := New(NewAllocation(100))
	m.Update(PersonalStored, 85)
	warnings := m.Warnings()
	require.Contains(t, warnings, "personal storage utilization high")
}

func TestRecommendationsHealthyWhenIdle(t *testing.T) {
	m := New(NewAllocation(1000))
	status := m.Status()
	require.Equal(t, []string{"Storage utilization is healthy"}, status.Recommendations)
}

func TestRecommendationsFlagLowAndHighDHT(t *testing.T) {
	m := New(NewAllocation(1000))
	status := m.Status()
	require.Contains(t, status.Recommendations, "Low DHT participation - consider accepting more public storage requests")

	m.Update(DHTDataStored, 1950) // public_dht alloc = 2000, 97.5% > 95% threshold
	status = m.Status()
	require.Contains(t, status.Recommendations, "DHT storage nearly full - may need to reject new storage requests")
}

func TestEfficiencyReportsReedSolomonOverhead(t *testing.T) {
	m := New(NewAllocation(1000))
	eff := m.Efficiency(8, 4)
	require.InDelta(t, 50.0, eff.ReedSolomonOverheadPercent, 0.001)
}

func TestUsageLastUpdatedAdvances(t *testing.T) {
	clockTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewWithClock(NewAllocation(1000), func() time.Time { return clockTime })
	m.Update(PersonalStored, 10)
	require.Equal(t, clockTime, m.Status().Usage.LastUpdated)
}
