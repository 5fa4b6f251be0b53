package telemetry

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/veldt/ledge/internal/state"
)

// uevent is one parsed kernel device notification.
type uevent struct {
	action  string
	devpath string
	props   map[string]string
}

// parseUEvent decodes the kernel uevent wire form:
// "action@devpath\0KEY=VAL\0KEY=VAL\0...". Returns false for frames
// that do not match (libudev traffic on the same group carries a
// different header and is not for us).
func parseUEvent(data []byte) (uevent, bool) {
	fields := bytes.Split(data, []byte{0})
	if len(fields) == 0 {
		return uevent{}, false
	}

	header := string(fields[0])
	at := strings.IndexByte(header, '@')
	if at < 1 {
		return uevent{}, false
	}

	ev := uevent{
		action:  header[:at],
		devpath: header[at+1:],
		props:   make(map[string]string, len(fields)-1),
	}
	for _, f := range fields[1:] {
		if len(f) == 0 {
			continue
		}
		kv := string(f)
		eq := strings.IndexByte(kv, '=')
		if eq < 1 {
			continue
		}
		ev.props[kv[:eq]] = kv[eq+1:]
	}
	return ev, true
}

// translate maps a uevent onto a panel state delta, keyed by the
// logical property it carries so bursts collapse per property.
// Irrelevant or malformed events return ok=false and are dropped.
func translate(ev uevent) (key string, delta state.Delta, ok bool) {
	switch ev.props["SUBSYSTEM"] {
	case "power_supply":
		return translatePower(ev)
	case "net":
		return translateNet(ev)
	case "backlight":
		return translateBacklight(ev)
	default:
		return "", nil, false
	}
}

func translatePower(ev uevent) (string, state.Delta, bool) {
	capStr, hasCap := ev.props["POWER_SUPPLY_CAPACITY"]
	if !hasCap {
		// AC adapters report ONLINE only; the battery event that
		// follows carries the full picture.
		return "", nil, false
	}
	percent, err := strconv.Atoi(capStr)
	if err != nil || percent < 0 || percent > 100 {
		return "", nil, false
	}
	charging := ev.props["POWER_SUPPLY_STATUS"] == "Charging" ||
		ev.props["POWER_SUPPLY_STATUS"] == "Full"
	return "battery", state.BatteryDelta{Percent: percent, Charging: charging}, true
}

func translateNet(ev uevent) (string, state.Delta, bool) {
	if ev.props["INTERFACE"] == "" || ev.props["INTERFACE"] == "lo" {
		return "", nil, false
	}

	var class state.Connectivity
	signal := 0
	switch {
	case ev.action == "remove" || ev.props["CARRIER"] == "0":
		class = state.Disconnected
	case ev.props["OPERSTATE"] == "dormant":
		class = state.Limited
	default:
		class = state.Connected
		signal = 4
		if s, err := strconv.Atoi(ev.props["SIGNAL_LEVEL"]); err == nil && s >= 0 && s <= 4 {
			signal = s
		}
	}
	return "connectivity", state.ConnectivityDelta{Class: class, Signal: signal}, true
}

func translateBacklight(ev uevent) (string, state.Delta, bool) {
	cur, err := strconv.Atoi(ev.props["BRIGHTNESS"])
	if err != nil {
		return "", nil, false
	}
	max, err := strconv.Atoi(ev.props["MAX_BRIGHTNESS"])
	if err != nil || max <= 0 || cur < 0 || cur > max {
		return "", nil, false
	}
	return "brightness", state.BrightnessDelta{Percent: cur * 100 / max}, true
}
