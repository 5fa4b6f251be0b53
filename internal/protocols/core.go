package protocols

import (
	"github.com/veldt/ledge/internal/wire"
)

// Protocol interface names
const (
	CompositorInterface = "wl_compositor"
	SurfaceInterface    = "wl_surface"
	CallbackInterface   = "wl_callback"
	OutputInterface     = "wl_output"
)

// Compositor represents wl_compositor.
type Compositor struct {
	wire.BaseProxy
}

// NewCompositor allocates the proxy; bind it through the registry.
func NewCompositor(d *wire.Display) *Compositor {
	c := &Compositor{}
	c.Init(d, c)
	return c
}

// CreateSurface creates a new wl_surface.
func (c *Compositor) CreateSurface() (*Surface, error) {
	s := &Surface{}
	s.Init(c.Display(), s)

	// Opcode 0: create_surface
	const opcode = 0
	if err := c.Display().SendRequest(c.ID(), opcode, s.ID()); err != nil {
		s.Destroyed()
		return nil, err
	}
	return s, nil
}

// Dispatch handles incoming events (wl_compositor has no events).
func (c *Compositor) Dispatch(_ *wire.Event) {}

// Surface represents wl_surface.
type Surface struct {
	wire.BaseProxy
}

// Attach attaches a buffer to the surface. A nil buffer detaches.
func (s *Surface) Attach(b *Buffer, x, y int32) error {
	// Opcode 1: attach
	const opcode = 1
	if b == nil {
		return s.Display().SendRequest(s.ID(), opcode, nil, x, y)
	}
	return s.Display().SendRequest(s.ID(), opcode, b, x, y)
}

// Damage marks a surface-local region as needing repaint.
func (s *Surface) Damage(x, y, width, height int32) error {
	// Opcode 2: damage
	const opcode = 2
	return s.Display().SendRequest(s.ID(), opcode, x, y, width, height)
}

// Frame requests a frame-done callback for the next commit.
func (s *Surface) Frame() (*Callback, error) {
	cb := &Callback{}
	cb.Init(s.Display(), cb)

	// Opcode 3: frame
	const opcode = 3
	if err := s.Display().SendRequest(s.ID(), opcode, cb.ID()); err != nil {
		cb.Destroyed()
		return nil, err
	}
	return cb, nil
}

// Commit atomically applies pending surface state.
func (s *Surface) Commit() error {
	// Opcode 6: commit
	const opcode = 6
	return s.Display().SendRequest(s.ID(), opcode)
}

// SetBufferScale declares the scale the attached buffers are rendered
// at.
func (s *Surface) SetBufferScale(scale int32) error {
	// Opcode 8: set_buffer_scale
	const opcode = 8
	return s.Display().SendRequest(s.ID(), opcode, scale)
}

// Destroy destroys the surface.
func (s *Surface) Destroy() error {
	// Opcode 0: destroy
	const opcode = 0
	err := s.Display().SendRequest(s.ID(), opcode)
	s.Destroyed()
	return err
}

// Dispatch handles enter/leave events, which the panel ignores.
func (s *Surface) Dispatch(_ *wire.Event) {}

// Callback represents wl_callback.
type Callback struct {
	wire.BaseProxy

	// OnDone fires with the callback data (a timestamp for frame
	// callbacks). The object is dead afterwards.
	OnDone func(data uint32)
}

// Dispatch handles the done event.
func (cb *Callback) Dispatch(e *wire.Event) {
	if e.Opcode != 0 { // done
		return
	}
	data := e.Uint32()
	cb.Destroyed()
	if cb.OnDone != nil {
		cb.OnDone(data)
	}
}

// Output represents wl_output.
type Output struct {
	wire.BaseProxy

	Scale int32
	Name  string
	done  bool

	// OnScale fires when a done event reports a changed scale.
	OnScale func(scale int32)
}

// NewOutput allocates the proxy; bind it through the registry.
func NewOutput(d *wire.Display) *Output {
	o := &Output{Scale: 1}
	o.Init(d, o)
	return o
}

// Dispatch handles wl_output events. Only scale and name matter here;
// the logical panel size comes from the layer-surface configure.
func (o *Output) Dispatch(e *wire.Event) {
	switch e.Opcode {
	case 3: // scale
		scale := e.Int32()
		changed := o.done && scale != o.Scale
		o.Scale = scale
		if changed && o.OnScale != nil {
			o.OnScale(scale)
		}
	case 4: // name
		o.Name = e.String()
	case 2: // done
		if !o.done {
			o.done = true
			if o.OnScale != nil {
				o.OnScale(o.Scale)
			}
		}
	}
}
