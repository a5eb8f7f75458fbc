package hlc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTickIsStrictlyMonotonic(t *testing.T) {
	wall := int64(1000)
	c := NewWithSource(func() int64 { return wall })

	first := c.Tick()
	second := c.Tick()
	require.True(t, first.Less(second))

	wall = 999 // wall clock regresses; logical counter must still advance
	third := c.Tick()
	require.True(t, second.Less(third))
}

func TestTickAdvancesWallResetsLogical(t *testing.T) {
	wall := int64(1000)
	c := NewWithSource(func() int64 { return wall })

	first := c.Tick()
	require.EqualValues(t, 0, first.Logical)

	wall = 2000
	second := c.Tick()
	require.EqualValues(t, 2000, second.Wall)
	require.EqualValues(t, 0, second.Logical)
}

func TestUpdateAdoptsAheadRemoteTimestamp(t *testing.T) {
	wall := int64(1000)
	c := NewWithSource(func() int64 { return wall })
	c.Tick()

	remote := Timestamp{Wall: 5000, Logical: 3}
	c.Update(remote)

	last := c.Last()
	require.True(t, remote.Less(last))
	require.Equal(t, remote.Wall, last.Wall)
	require.EqualValues(t, remote.Logical+1, last.Logical)
}

func TestUpdateWithStaleRemoteStillAdvances(t *testing.T) {
	wall := int64(1000)
	c := NewWithSource(func() int64 { return wall })
	first := c.Tick()

	c.Update(Timestamp{Wall: 1, Logical: 0})
	last := c.Last()
	require.True(t, first.Less(last))
}

func TestLessOrdersByWallThenLogical(t *testing.T) {
	require.True(t, Timestamp{Wall: 1, Logical: 5}.Less(Timestamp{Wall: 2, Logical: 0}))
	require.True(t, Timestamp{Wall: 5, Logical: 1}.Less(Timestamp{Wall: 5, Logical: 2}))
	require.False(t, Timestamp{Wall: 5, Logical: 2}.Less(Timestamp{Wall: 5, Logical: 2}))
}
