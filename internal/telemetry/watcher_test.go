package telemetry

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veldt/ledge/internal/reactor"
	"github.com/veldt/ledge/internal/state"
)

func newTestWatcher(t *testing.T) (*Watcher, *[]state.Delta) {
	t.Helper()
	var applied []state.Delta
	w := &Watcher{
		fd:      -1,
		window:  100 * time.Millisecond,
		pending: make(map[string]state.Delta),
		apply:   func(d state.Delta) { applied = append(applied, d) },
	}
	timer, err := reactor.NewTimer("telemetry-coalesce", w.flush)
	require.NoError(t, err)
	w.timer = timer
	t.Cleanup(w.Close)
	return w, &applied
}

func TestCoalescingKeepsLatestValue(t *testing.T) {
	w, applied := newTestWatcher(t)

	// Five battery readings inside one window collapse to the last.
	for _, pct := range []int{20, 21, 22, 23, 24} {
		w.handle(ueventBytes("change@/d/BAT0",
			"SUBSYSTEM=power_supply",
			"POWER_SUPPLY_CAPACITY="+strconv.Itoa(pct),
			"POWER_SUPPLY_STATUS=Discharging"))
	}
	require.Empty(t, *applied)

	require.NoError(t, w.flush())
	require.Equal(t, []state.Delta{state.BatteryDelta{Percent: 24}}, *applied)
}

func TestCoalescingSeparatesProperties(t *testing.T) {
	w, applied := newTestWatcher(t)

	w.handle(ueventBytes("change@/d/BAT0",
		"SUBSYSTEM=power_supply", "POWER_SUPPLY_CAPACITY=50", "POWER_SUPPLY_STATUS=Charging"))
	w.handle(ueventBytes("change@/d/backlight",
		"SUBSYSTEM=backlight", "BRIGHTNESS=64", "MAX_BRIGHTNESS=255"))

	require.NoError(t, w.flush())
	require.Len(t, *applied, 2)
	require.ElementsMatch(t, []state.Delta{
		state.BatteryDelta{Percent: 50, Charging: true},
		state.BrightnessDelta{Percent: 25},
	}, *applied)
}

func TestFlushDrainsPending(t *testing.T) {
	w, applied := newTestWatcher(t)

	w.handle(ueventBytes("change@/d/BAT0",
		"SUBSYSTEM=power_supply", "POWER_SUPPLY_CAPACITY=10", "POWER_SUPPLY_STATUS=Discharging"))
	require.NoError(t, w.flush())
	require.NoError(t, w.flush())
	require.Len(t, *applied, 1)
}

func TestMalformedEventsLeaveNothingPending(t *testing.T) {
	w, _ := newTestWatcher(t)

	w.handle([]byte("libudev\x00not-for-us"))
	w.handle(ueventBytes("add@/d/usb1", "SUBSYSTEM=usb"))
	require.Empty(t, w.pending)
}
