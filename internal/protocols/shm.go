package protocols

import (
	"github.com/veldt/ledge/internal/wire"
)

// Protocol interface names
const (
	ShmInterface     = "wl_shm"
	ShmPoolInterface = "wl_shm_pool"
	BufferInterface  = "wl_buffer"
)

// wl_shm pixel formats
const (
	FormatARGB8888 uint32 = 0
	FormatXRGB8888 uint32 = 1
)

// Shm represents wl_shm.
type Shm struct {
	wire.BaseProxy
}

// NewShm allocates the proxy; bind it through the registry.
func NewShm(d *wire.Display) *Shm {
	s := &Shm{}
	s.Init(d, s)
	return s
}

// CreatePool shares fd's first size bytes with the compositor.
func (s *Shm) CreatePool(fd int, size int32) (*ShmPool, error) {
	p := &ShmPool{}
	p.Init(s.Display(), p)

	// Opcode 0: create_pool(new_id, fd, size)
	const opcode = 0
	if err := s.Display().SendRequestWithFD(s.ID(), opcode, fd, p.ID(), size); err != nil {
		p.Destroyed()
		return nil, err
	}
	return p, nil
}

// Dispatch handles the format advertisement events; ARGB8888 support
// is mandated by the core protocol, so they carry no information here.
func (s *Shm) Dispatch(_ *wire.Event) {}

// ShmPool represents wl_shm_pool.
type ShmPool struct {
	wire.BaseProxy
}

// CreateBuffer carves a wl_buffer out of the pool.
func (p *ShmPool) CreateBuffer(offset, width, height, stride int32, format uint32) (*Buffer, error) {
	b := &Buffer{}
	b.Init(p.Display(), b)

	// Opcode 0: create_buffer(new_id, offset, width, height, stride, format)
	const opcode = 0
	if err := p.Display().SendRequest(p.ID(), opcode, b.ID(), offset, width, height, stride, format); err != nil {
		b.Destroyed()
		return nil, err
	}
	return b, nil
}

// Destroy destroys the pool. Buffers created from it stay valid.
func (p *ShmPool) Destroy() error {
	// Opcode 1: destroy
	const opcode = 1
	err := p.Display().SendRequest(p.ID(), opcode)
	p.Destroyed()
	return err
}

// Dispatch handles incoming events (wl_shm_pool has no events).
func (p *ShmPool) Dispatch(_ *wire.Event) {}

// Buffer represents wl_buffer.
type Buffer struct {
	wire.BaseProxy

	// OnRelease fires when the compositor is done reading the buffer.
	OnRelease func()
}

// Destroy destroys the buffer.
func (b *Buffer) Destroy() error {
	// Opcode 0: destroy
	const opcode = 0
	err := b.Display().SendRequest(b.ID(), opcode)
	b.Destroyed()
	return err
}

// Dispatch handles the release event.
func (b *Buffer) Dispatch(e *wire.Event) {
	if e.Opcode == 0 && b.OnRelease != nil { // release
		b.OnRelease()
	}
}
