// Package surface owns the panel's drawable surface: the layer-shell
// handshake, the configure-driven geometry state machine, the shared
// memory buffer pool and frame pacing through FrameTokens.
package surface

import (
	"errors"
	"fmt"
	"image"

	"github.com/veldt/ledge/internal/logger"
	"github.com/veldt/ledge/internal/protocols"
	"github.com/veldt/ledge/internal/wire"
)

// ErrStaleToken reports a submission carrying a token that a
// reconfigure invalidated. The frame is discarded, not an error the
// caller escalates.
var ErrStaleToken = errors.New("frame token stale after reconfigure")

// errNoFreeBuffer means both pool buffers are held by the compositor.
// With one-frame-in-flight discipline it indicates a misbehaving
// compositor; the frame is dropped and retried on the next token.
var errNoFreeBuffer = errors.New("no free buffer in pool")

// Geometry is the negotiated surface placement.
type Geometry struct {
	Width         int32 // logical units
	Height        int32
	Scale         int32
	ExclusiveZone int32
	Anchor        string // "top" or "bottom"
}

// PixelSize returns the buffer dimensions.
func (g Geometry) PixelSize() (int32, int32) {
	return g.Width * g.Scale, g.Height * g.Scale
}

// FrameToken is permission to submit exactly one buffer. Tokens from
// before a reconfigure no longer submit.
type FrameToken struct {
	gen uint64
}

// Options configures the handshake.
type Options struct {
	Socket    string // Wayland socket; empty for WAYLAND_DISPLAY
	Height    int32  // requested logical height
	Anchor    string // "top" or "bottom"
	Namespace string // layer-surface namespace
}

// Manager owns the surface. All methods run on the reactor goroutine.
type Manager struct {
	display      *wire.Display
	registry     *protocols.Registry
	compositor   *protocols.Compositor
	shm          *protocols.Shm
	layerShell   *protocols.LayerShell
	output       *protocols.Output
	surface      *protocols.Surface
	layerSurface *protocols.LayerSurface

	geom       Geometry
	gen        uint64 // geometry generation; bumps invalidate tokens
	pool       *pool
	tokenFree  bool
	configured bool

	// OnGeometry fires after a configure settles new geometry.
	OnGeometry func(Geometry)
	// OnClosed fires when the compositor revokes the surface; fatal.
	OnClosed func(error)
}

// Connect performs the full handshake: connect, discover globals,
// create the layer surface and wait for the first configure. A
// missing required global or protocol failure is fatal.
func Connect(opts Options) (*Manager, error) {
	display, err := wire.Connect(opts.Socket)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		display: display,
		geom: Geometry{
			Height:        opts.Height,
			Scale:         1,
			ExclusiveZone: opts.Height,
			Anchor:        opts.Anchor,
		},
	}

	if err := m.handshake(opts); err != nil {
		display.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) handshake(opts Options) error {
	registry, err := protocols.NewRegistry(m.display)
	if err != nil {
		return err
	}
	m.registry = registry

	// Collect the global list.
	if err := m.display.Roundtrip(); err != nil {
		return fmt.Errorf("registry roundtrip failed: %w", err)
	}

	for _, iface := range []string{protocols.CompositorInterface, protocols.ShmInterface, protocols.LayerShellInterface} {
		if _, ok := registry.Find(iface); !ok {
			return fmt.Errorf("compositor does not support required protocol %s", iface)
		}
	}

	m.compositor = protocols.NewCompositor(m.display)
	if err := registry.Bind(protocols.CompositorInterface, 4, m.compositor); err != nil {
		return err
	}
	m.shm = protocols.NewShm(m.display)
	if err := registry.Bind(protocols.ShmInterface, 1, m.shm); err != nil {
		return err
	}
	m.layerShell = protocols.NewLayerShell(m.display)
	if err := registry.Bind(protocols.LayerShellInterface, 1, m.layerShell); err != nil {
		return err
	}

	// Output is optional; without it we assume scale 1.
	if _, ok := registry.Find(protocols.OutputInterface); ok {
		m.output = protocols.NewOutput(m.display)
		if err := registry.Bind(protocols.OutputInterface, 4, m.output); err != nil {
			return err
		}
		m.output.OnScale = m.handleScale
	}

	m.surface, err = m.compositor.CreateSurface()
	if err != nil {
		return fmt.Errorf("failed to create surface: %w", err)
	}
	m.layerSurface, err = m.layerShell.GetLayerSurface(m.surface, m.output, protocols.LayerTop, opts.Namespace)
	if err != nil {
		return fmt.Errorf("failed to create layer surface: %w", err)
	}
	m.layerSurface.OnConfigure = m.handleConfigure
	m.layerSurface.OnClosed = func() { m.handleClosed(nil) }

	anchor := protocols.AnchorLeft | protocols.AnchorRight
	if opts.Anchor == "bottom" {
		anchor |= protocols.AnchorBottom
	} else {
		anchor |= protocols.AnchorTop
	}
	if err := m.layerSurface.SetAnchor(anchor); err != nil {
		return err
	}
	if err := m.layerSurface.SetSize(0, uint32(opts.Height)); err != nil {
		return err
	}
	if err := m.layerSurface.SetExclusiveZone(opts.Height); err != nil {
		return err
	}
	if err := m.surface.Commit(); err != nil {
		return err
	}

	// The first configure arrives before any buffer may be attached.
	if err := m.display.Roundtrip(); err != nil {
		return fmt.Errorf("configure roundtrip failed: %w", err)
	}
	if !m.configured {
		return errors.New("compositor sent no configure for the layer surface")
	}
	return nil
}

// Reactor source plumbing.

func (m *Manager) Name() string { return "wayland" }
func (m *Manager) Fd() int      { return m.display.Fd() }

// Dispatch drains compositor events. Errors here (connection lost,
// protocol error) are fatal and stop the reactor.
func (m *Manager) Dispatch() error {
	return m.display.DispatchPending()
}

// Geometry returns the current negotiated geometry.
func (m *Manager) Geometry() Geometry { return m.geom }

// TakeToken consumes the available token, if any.
func (m *Manager) TakeToken() (FrameToken, bool) {
	if !m.tokenFree {
		return FrameToken{}, false
	}
	m.tokenFree = false
	return FrameToken{gen: m.gen}, true
}

// Submit attaches, damages and commits one fully drawn frame under
// the given token, then requests the next frame callback. Damage
// rectangles are in logical units.
func (m *Manager) Submit(t FrameToken, img *image.RGBA, damage []image.Rectangle) error {
	if t.gen != m.gen {
		return ErrStaleToken
	}

	pw, ph := m.geom.PixelSize()
	if int32(img.Rect.Dx()) != pw || int32(img.Rect.Dy()) != ph {
		return fmt.Errorf("frame size %dx%d does not match surface %dx%d", img.Rect.Dx(), img.Rect.Dy(), pw, ph)
	}

	s, ok := m.pool.acquire()
	if !ok {
		return errNoFreeBuffer
	}
	s.write(img, m.pool.stride)
	s.busy = true

	if err := m.surface.Attach(s.buffer, 0, 0); err != nil {
		return err
	}
	for _, r := range damage {
		if err := m.surface.Damage(int32(r.Min.X), int32(r.Min.Y), int32(r.Dx()), int32(r.Dy())); err != nil {
			return err
		}
	}

	cb, err := m.surface.Frame()
	if err != nil {
		return err
	}
	cb.OnDone = func(uint32) { m.issueToken() }

	return m.surface.Commit()
}

// IsTransient reports whether a Submit error should degrade (skip the
// frame) rather than terminate.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStaleToken) || errors.Is(err, errNoFreeBuffer)
}

// SetExclusiveZone renegotiates the reserved zone and requested
// height. The compositor answers with a configure.
func (m *Manager) SetExclusiveZone(zone int32) error {
	m.geom.ExclusiveZone = zone
	if err := m.layerSurface.SetExclusiveZone(zone); err != nil {
		return err
	}
	if err := m.layerSurface.SetSize(0, uint32(zone)); err != nil {
		return err
	}
	return m.surface.Commit()
}

// Teardown releases the surface and connection. Any in-flight frame
// has already been committed whole, so nothing tears.
func (m *Manager) Teardown() {
	if m.pool != nil {
		m.pool.destroy()
	}
	if m.layerSurface != nil {
		if err := m.layerSurface.Destroy(); err != nil {
			logger.Warnf("Failed to destroy layer surface: %v", err)
		}
	}
	if m.surface != nil {
		if err := m.surface.Destroy(); err != nil {
			logger.Warnf("Failed to destroy surface: %v", err)
		}
	}
	m.display.Close()
}

func (m *Manager) handleConfigure(serial, width, height uint32) {
	if err := m.layerSurface.AckConfigure(serial); err != nil {
		logger.Errorf("Failed to ack configure: %v", err)
		return
	}

	newGeom := m.geom
	if width > 0 {
		newGeom.Width = int32(width)
	}
	if height > 0 {
		newGeom.Height = int32(height)
	}
	if m.output != nil {
		newGeom.Scale = m.output.Scale
	}

	if m.configured && newGeom == m.geom {
		return
	}
	m.applyGeometry(newGeom)
}

func (m *Manager) handleScale(scale int32) {
	if !m.configured || scale == m.geom.Scale {
		return
	}
	newGeom := m.geom
	newGeom.Scale = scale
	m.applyGeometry(newGeom)
}

// applyGeometry rebuilds the buffer pool for new geometry and
// invalidates any outstanding token: a frame drawn for the old size is
// discarded, never submitted.
func (m *Manager) applyGeometry(g Geometry) {
	logger.Info("Surface geometry", "width", g.Width, "height", g.Height, "scale", g.Scale)

	pw, ph := g.PixelSize()
	if err := m.surface.SetBufferScale(g.Scale); err != nil {
		logger.Warnf("Failed to set buffer scale: %v", err)
	}

	if m.pool != nil {
		m.pool.destroy()
		m.pool = nil
	}
	newPool, err := newPool(m.shm, pw, ph)
	if err != nil {
		// Allocation failure is fatal per the error taxonomy.
		m.handleClosed(fmt.Errorf("buffer pool allocation failed: %w", err))
		return
	}

	m.pool = newPool
	m.geom = g
	m.gen++
	m.configured = true
	m.tokenFree = false

	if m.OnGeometry != nil {
		m.OnGeometry(g)
	}
	// The compositor expects a buffer for the new geometry; hand the
	// scheduler a fresh token immediately rather than waiting on a
	// frame callback that will never come without a commit.
	m.issueToken()
}

// issueToken runs inside a dispatch (frame-done event or configure),
// so the post-wake flush always sees the fresh token.
func (m *Manager) issueToken() {
	m.tokenFree = true
}

func (m *Manager) handleClosed(err error) {
	if err == nil {
		err = errors.New("layer surface closed by compositor")
	}
	if m.OnClosed != nil {
		m.OnClosed(err)
	}
}
