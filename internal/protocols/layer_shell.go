package protocols

import (
	"github.com/veldt/ledge/internal/wire"
)

// Protocol interface names
const (
	LayerShellInterface   = "zwlr_layer_shell_v1"
	LayerSurfaceInterface = "zwlr_layer_surface_v1"
)

// zwlr_layer_shell_v1 layers
const (
	LayerBackground uint32 = 0
	LayerBottom     uint32 = 1
	LayerTop        uint32 = 2
	LayerOverlay    uint32 = 3
)

// zwlr_layer_surface_v1 anchor bits
const (
	AnchorTop    uint32 = 1
	AnchorBottom uint32 = 2
	AnchorLeft   uint32 = 4
	AnchorRight  uint32 = 8
)

// LayerShell represents zwlr_layer_shell_v1.
type LayerShell struct {
	wire.BaseProxy
}

// NewLayerShell allocates the proxy; bind it through the registry.
func NewLayerShell(d *wire.Display) *LayerShell {
	ls := &LayerShell{}
	ls.Init(d, ls)
	return ls
}

// GetLayerSurface assigns the surface a layer role on the given
// output. A nil output lets the compositor pick one.
func (ls *LayerShell) GetLayerSurface(surface *Surface, output *Output, layer uint32, namespace string) (*LayerSurface, error) {
	lsurf := &LayerSurface{}
	lsurf.Init(ls.Display(), lsurf)

	// Opcode 0: get_layer_surface(new_id, surface, output, layer, namespace)
	const opcode = 0
	var out wire.Proxy
	if output != nil {
		out = output
	}
	if err := ls.Display().SendRequest(ls.ID(), opcode, lsurf.ID(), surface, out, layer, namespace); err != nil {
		lsurf.Destroyed()
		return nil, err
	}
	return lsurf, nil
}

// Dispatch handles incoming events (the layer shell itself has none).
func (ls *LayerShell) Dispatch(_ *wire.Event) {}

// LayerSurface represents zwlr_layer_surface_v1.
type LayerSurface struct {
	wire.BaseProxy

	// OnConfigure fires for each configure event. The handler must
	// eventually AckConfigure the serial.
	OnConfigure func(serial uint32, width, height uint32)

	// OnClosed fires when the compositor revokes the surface.
	OnClosed func()
}

// SetSize requests a size; zero for a dimension lets the anchors
// stretch it.
func (l *LayerSurface) SetSize(width, height uint32) error {
	// Opcode 0: set_size
	const opcode = 0
	return l.Display().SendRequest(l.ID(), opcode, width, height)
}

// SetAnchor anchors the surface to the given edges.
func (l *LayerSurface) SetAnchor(anchor uint32) error {
	// Opcode 1: set_anchor
	const opcode = 1
	return l.Display().SendRequest(l.ID(), opcode, anchor)
}

// SetExclusiveZone reserves screen space other surfaces must avoid.
func (l *LayerSurface) SetExclusiveZone(zone int32) error {
	// Opcode 2: set_exclusive_zone
	const opcode = 2
	return l.Display().SendRequest(l.ID(), opcode, zone)
}

// AckConfigure acknowledges a configure serial.
func (l *LayerSurface) AckConfigure(serial uint32) error {
	// Opcode 6: ack_configure
	const opcode = 6
	return l.Display().SendRequest(l.ID(), opcode, serial)
}

// Destroy destroys the layer surface.
func (l *LayerSurface) Destroy() error {
	// Opcode 7: destroy
	const opcode = 7
	err := l.Display().SendRequest(l.ID(), opcode)
	l.Destroyed()
	return err
}

// Dispatch handles configure and closed events.
func (l *LayerSurface) Dispatch(e *wire.Event) {
	switch e.Opcode {
	case 0: // configure
		serial := e.Uint32()
		width := e.Uint32()
		height := e.Uint32()
		if l.OnConfigure != nil {
			l.OnConfigure(serial, width, height)
		}
	case 1: // closed
		if l.OnClosed != nil {
			l.OnClosed()
		}
	}
}
