package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veldt/ledge/internal/state"
)

func ueventBytes(header string, props ...string) []byte {
	out := []byte(header)
	for _, p := range props {
		out = append(out, 0)
		out = append(out, []byte(p)...)
	}
	return out
}

func TestParseUEvent(t *testing.T) {
	ev, ok := parseUEvent(ueventBytes(
		"change@/devices/platform/battery/power_supply/BAT0",
		"ACTION=change",
		"SUBSYSTEM=power_supply",
		"POWER_SUPPLY_CAPACITY=79",
		"POWER_SUPPLY_STATUS=Discharging",
	))
	assert.True(t, ok)
	assert.Equal(t, "change", ev.action)
	assert.Equal(t, "/devices/platform/battery/power_supply/BAT0", ev.devpath)
	assert.Equal(t, "79", ev.props["POWER_SUPPLY_CAPACITY"])
}

func TestParseUEventRejectsNonKernelFrames(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		[]byte("libudev\x00something"),
		[]byte("no-separator"),
		[]byte("@starts-with-at"),
	} {
		_, ok := parseUEvent(data)
		assert.False(t, ok, "frame %q should be rejected", data)
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		key   string
		delta state.Delta
		ok    bool
	}{
		{
			name: "battery discharging",
			data: ueventBytes("change@/d/BAT0",
				"SUBSYSTEM=power_supply", "POWER_SUPPLY_CAPACITY=79", "POWER_SUPPLY_STATUS=Discharging"),
			key:   "battery",
			delta: state.BatteryDelta{Percent: 79, Charging: false},
			ok:    true,
		},
		{
			name: "battery charging",
			data: ueventBytes("change@/d/BAT0",
				"SUBSYSTEM=power_supply", "POWER_SUPPLY_CAPACITY=45", "POWER_SUPPLY_STATUS=Charging"),
			key:   "battery",
			delta: state.BatteryDelta{Percent: 45, Charging: true},
			ok:    true,
		},
		{
			name: "battery full counts as charging",
			data: ueventBytes("change@/d/BAT0",
				"SUBSYSTEM=power_supply", "POWER_SUPPLY_CAPACITY=100", "POWER_SUPPLY_STATUS=Full"),
			key:   "battery",
			delta: state.BatteryDelta{Percent: 100, Charging: true},
			ok:    true,
		},
		{
			name: "adapter event without capacity dropped",
			data: ueventBytes("change@/d/AC",
				"SUBSYSTEM=power_supply", "POWER_SUPPLY_ONLINE=1"),
			ok:   false,
		},
		{
			name: "capacity out of range dropped",
			data: ueventBytes("change@/d/BAT0",
				"SUBSYSTEM=power_supply", "POWER_SUPPLY_CAPACITY=850", "POWER_SUPPLY_STATUS=Charging"),
			ok:   false,
		},
		{
			name: "interface up",
			data: ueventBytes("change@/d/net/wlan0",
				"SUBSYSTEM=net", "INTERFACE=wlan0", "CARRIER=1", "SIGNAL_LEVEL=3"),
			key:   "connectivity",
			delta: state.ConnectivityDelta{Class: state.Connected, Signal: 3},
			ok:    true,
		},
		{
			name: "interface removed",
			data: ueventBytes("remove@/d/net/wlan0",
				"SUBSYSTEM=net", "INTERFACE=wlan0"),
			key:   "connectivity",
			delta: state.ConnectivityDelta{Class: state.Disconnected},
			ok:    true,
		},
		{
			name: "dormant link is limited",
			data: ueventBytes("change@/d/net/wwan0",
				"SUBSYSTEM=net", "INTERFACE=wwan0", "OPERSTATE=dormant"),
			key:   "connectivity",
			delta: state.ConnectivityDelta{Class: state.Limited},
			ok:    true,
		},
		{
			name: "loopback ignored",
			data: ueventBytes("change@/d/net/lo", "SUBSYSTEM=net", "INTERFACE=lo"),
			ok:   false,
		},
		{
			name: "backlight",
			data: ueventBytes("change@/d/backlight",
				"SUBSYSTEM=backlight", "BRIGHTNESS=128", "MAX_BRIGHTNESS=255"),
			key:   "brightness",
			delta: state.BrightnessDelta{Percent: 50},
			ok:    true,
		},
		{
			name: "backlight without max dropped",
			data: ueventBytes("change@/d/backlight", "SUBSYSTEM=backlight", "BRIGHTNESS=128"),
			ok:   false,
		},
		{
			name: "irrelevant subsystem dropped",
			data: ueventBytes("add@/d/usb1", "SUBSYSTEM=usb", "DEVTYPE=usb_device"),
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, parsed := parseUEvent(tt.data)
			if !parsed {
				assert.False(t, tt.ok)
				return
			}
			key, delta, ok := translate(ev)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.key, key)
				assert.Equal(t, tt.delta, delta)
			}
		})
	}
}
