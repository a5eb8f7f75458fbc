package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saorsalabs/communitas/internal/hlc"
)

func TestStableToGracePeriodToStable(t *testing.T) {
	fsm := New(10, 8, hlc.New())
	require.Equal(t, Stable, fsm.State())

	_, err := fsm.RequestChange(Join)
	require.NoError(t, err)
	require.Equal(t, MemberJoining, fsm.State())

	now := time.Now()
	require.NoError(t, fsm.Acknowledge(now))
	require.Equal(t, GracePeriod, fsm.State())

	require.NoError(t, fsm.Tick(now.Add(DefaultGraceWindow+time.Second)))
	require.Equal(t, Stable, fsm.State(), "single join out of 10 members is below the 30% re-shard threshold")
}

func TestGracePeriodToRebalancingOnLargeChange(t *testing.T) {
	fsm := New(10, 8, hlc.New())
	_, err := fsm.RequestChange(Join)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, fsm.Acknowledge(now))

	for i := 0; i < 4; i++ { // 5 cumulative changes / 10 members = 50% >= 30%
		_, err := fsm.AdditionalChange(Join)
		require.NoError(t, err)
	}

	require.NoError(t, fsm.Tick(now.Add(DefaultGraceWindow+time.Second)))
	require.Equal(t, Rebalancing, fsm.State())
}

func TestRebalancingRequiresKConfirmations(t *testing.T) {
	fsm := New(10, 8, hlc.New())
	_, _ = fsm.RequestChange(Join)
	now := time.Now()
	_ = fsm.Acknowledge(now)
	for i := 0; i < 4; i++ {
		_, _ = fsm.AdditionalChange(Join)
	}
	_ = fsm.Tick(now.Add(DefaultGraceWindow + time.Second))
	require.Equal(t, Rebalancing, fsm.State())

	require.Error(t, fsm.ConfirmRebalance(3))
	require.NoError(t, fsm.ConfirmRebalance(8))
	require.Equal(t, Stable, fsm.State())
}

func TestReliabilityDecaysTowardBaseline(t *testing.T) {
	r := NewReliability(1.0)
	now := time.Now()
	r.Observe(now, 1.0)
	require.Greater(t, r.Score(now), reliabilityBaseline)

	later := now.Add(60 * time.Minute)
	score := r.Score(later)
	require.Less(t, score, 1.0)
	require.GreaterOrEqual(t, score, reliabilityBaseline)
}
