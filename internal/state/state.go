// Package state owns the single mutable snapshot of everything the
// panel displays. Only reactor dispatch code mutates it, and only
// through typed deltas; everything else reads copies.
package state

import "time"

// Connectivity classifies the network link.
type Connectivity int

const (
	Disconnected Connectivity = iota
	Limited
	Connected
)

func (c Connectivity) String() string {
	switch c {
	case Limited:
		return "limited"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Orientation of the output the panel sits on.
type Orientation int

const (
	Portrait Orientation = iota
	Landscape
)

// Region identifies the parts of the bar a state change invalidates.
// It is a bitmask so one delta can touch several clusters.
type Region uint8

const (
	RegionNone  Region = 0
	RegionClock Region = 1 << iota
	RegionLeft         // connectivity cluster
	RegionRight        // battery and brightness cluster
	RegionAll   Region = RegionClock | RegionLeft | RegionRight
)

// PanelState is the full displayable state. Plain value type; Snapshot
// hands out copies.
type PanelState struct {
	Wall time.Time // wall-clock value shown by the clock (carries Go's monotonic reading)

	BatteryPercent int
	Charging       bool

	Connectivity   Connectivity
	SignalStrength int // 0..4 bars

	Brightness int // backlight percentage, -1 when unknown

	Scale       int32
	Width       int32 // logical units
	Height      int32
	Orientation Orientation
	Visible     bool
}

// Store is the sole owner of PanelState.
type Store struct {
	s PanelState
}

// NewStore returns a store with conservative initial values: nothing
// is known yet, so everything renders in its "unknown" form until the
// first telemetry arrives.
func NewStore() *Store {
	return &Store{s: PanelState{
		BatteryPercent: -1,
		Brightness:     -1,
		Connectivity:   Disconnected,
		Scale:          1,
		Visible:        true,
	}}
}

// Snapshot returns a copy of the current state.
func (st *Store) Snapshot() PanelState {
	return st.s
}

// Apply mutates the state through a delta and reports which regions
// changed. RegionNone means the delta was a no-op and no redraw is
// owed.
func (st *Store) Apply(d Delta) Region {
	return d.apply(&st.s)
}

// Delta is one typed state mutation. The set of implementations is
// closed; dispatch handlers construct them, the store applies them.
type Delta interface {
	apply(*PanelState) Region
}

// ClockDelta advances the displayed wall-clock value.
type ClockDelta struct {
	Wall time.Time
}

func (d ClockDelta) apply(s *PanelState) Region {
	// Sub-minute precision is not displayed; still update every tick
	// so the first render after startup is never stale.
	if !s.Wall.IsZero() && s.Wall.Minute() == d.Wall.Minute() && s.Wall.Hour() == d.Wall.Hour() {
		s.Wall = d.Wall
		return RegionNone
	}
	s.Wall = d.Wall
	return RegionClock
}

// BatteryDelta updates charge percentage and charging flag.
type BatteryDelta struct {
	Percent  int
	Charging bool
}

func (d BatteryDelta) apply(s *PanelState) Region {
	if s.BatteryPercent == d.Percent && s.Charging == d.Charging {
		return RegionNone
	}
	s.BatteryPercent = d.Percent
	s.Charging = d.Charging
	return RegionRight
}

// ConnectivityDelta updates link class and signal strength.
type ConnectivityDelta struct {
	Class  Connectivity
	Signal int
}

func (d ConnectivityDelta) apply(s *PanelState) Region {
	if s.Connectivity == d.Class && s.SignalStrength == d.Signal {
		return RegionNone
	}
	s.Connectivity = d.Class
	s.SignalStrength = d.Signal
	return RegionLeft
}

// BrightnessDelta updates the backlight percentage.
type BrightnessDelta struct {
	Percent int
}

func (d BrightnessDelta) apply(s *PanelState) Region {
	if s.Brightness == d.Percent {
		return RegionNone
	}
	s.Brightness = d.Percent
	return RegionRight
}

// GeometryDelta records the negotiated logical size and scale. Issued
// by the surface manager after a configure.
type GeometryDelta struct {
	Width, Height int32
	Scale         int32
}

func (d GeometryDelta) apply(s *PanelState) Region {
	if s.Width == d.Width && s.Height == d.Height && s.Scale == d.Scale {
		return RegionNone
	}
	s.Width = d.Width
	s.Height = d.Height
	s.Scale = d.Scale
	return RegionAll
}

// OrientationDelta is pushed by the compositor control channel.
type OrientationDelta struct {
	Orientation Orientation
}

func (d OrientationDelta) apply(s *PanelState) Region {
	if s.Orientation == d.Orientation {
		return RegionNone
	}
	s.Orientation = d.Orientation
	return RegionAll
}

// VisibilityDelta hides or shows the panel content. The surface and
// exclusive zone stay; a hidden panel renders background only.
type VisibilityDelta struct {
	Visible bool
}

func (d VisibilityDelta) apply(s *PanelState) Region {
	if s.Visible == d.Visible {
		return RegionNone
	}
	s.Visible = d.Visible
	return RegionAll
}
