package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatteryDeltaMarksOnlyRightCluster(t *testing.T) {
	st := NewStore()
	region := st.Apply(BatteryDelta{Percent: 80, Charging: false})
	assert.Equal(t, RegionRight, region)

	// 80 -> 79 with charging unchanged: right cluster only, clock and
	// connectivity untouched.
	region = st.Apply(BatteryDelta{Percent: 79, Charging: false})
	assert.Equal(t, RegionRight, region)
	assert.Zero(t, region&RegionClock)
	assert.Zero(t, region&RegionLeft)

	snap := st.Snapshot()
	assert.Equal(t, 79, snap.BatteryPercent)
	assert.False(t, snap.Charging)
}

func TestUnchangedDeltasReportNoDamage(t *testing.T) {
	st := NewStore()
	st.Apply(BatteryDelta{Percent: 50, Charging: true})
	st.Apply(ConnectivityDelta{Class: Connected, Signal: 3})
	st.Apply(BrightnessDelta{Percent: 70})

	assert.Equal(t, RegionNone, st.Apply(BatteryDelta{Percent: 50, Charging: true}))
	assert.Equal(t, RegionNone, st.Apply(ConnectivityDelta{Class: Connected, Signal: 3}))
	assert.Equal(t, RegionNone, st.Apply(BrightnessDelta{Percent: 70}))
	assert.Equal(t, RegionNone, st.Apply(VisibilityDelta{Visible: true}))
}

func TestClockDeltaDamagesOnMinuteChange(t *testing.T) {
	st := NewStore()
	base := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)

	assert.Equal(t, RegionClock, st.Apply(ClockDelta{Wall: base}))
	// Same displayed minute: state updates, no damage.
	assert.Equal(t, RegionNone, st.Apply(ClockDelta{Wall: base.Add(20 * time.Second)}))
	assert.Equal(t, base.Add(20*time.Second), st.Snapshot().Wall)
	// Minute rolls over.
	assert.Equal(t, RegionClock, st.Apply(ClockDelta{Wall: base.Add(time.Minute)}))
}

func TestGeometryAndOrientationDamageEverything(t *testing.T) {
	st := NewStore()
	assert.Equal(t, RegionAll, st.Apply(GeometryDelta{Width: 360, Height: 40, Scale: 2}))
	assert.Equal(t, RegionNone, st.Apply(GeometryDelta{Width: 360, Height: 40, Scale: 2}))
	assert.Equal(t, RegionAll, st.Apply(OrientationDelta{Orientation: Landscape}))
	assert.Equal(t, RegionAll, st.Apply(VisibilityDelta{Visible: false}))
}

func TestInitialStateIsUnknown(t *testing.T) {
	snap := NewStore().Snapshot()
	assert.Equal(t, -1, snap.BatteryPercent)
	assert.Equal(t, -1, snap.Brightness)
	assert.Equal(t, Disconnected, snap.Connectivity)
	assert.True(t, snap.Visible)
	assert.EqualValues(t, 1, snap.Scale)
}
