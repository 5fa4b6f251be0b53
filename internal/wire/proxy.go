package wire

import "encoding/binary"

// Proxy is the client-side representation of one protocol object.
type Proxy interface {
	ID() uint32
	Dispatch(*Event)
}

// BaseProxy carries the ID and display every protocol object needs.
// Protocol types embed it and implement Dispatch.
type BaseProxy struct {
	id      uint32
	display *Display
}

func (p *BaseProxy) ID() uint32 { return p.id }

// Display returns the owning connection.
func (p *BaseProxy) Display() *Display { return p.display }

// Init allocates an ID and registers the proxy on the display. Called
// by protocol constructors before the creating request is sent.
func (p *BaseProxy) Init(d *Display, self Proxy) {
	p.display = d
	p.id = d.AllocateID()
	d.Register(self)
}

// Destroyed unregisters the proxy after its destructor request.
func (p *BaseProxy) Destroyed() {
	if p.display != nil {
		p.display.Unregister(p.id)
	}
}

// Event is one incoming message with a sequential argument reader.
type Event struct {
	Object uint32
	Opcode uint16

	data []byte
	off  int
}

// Uint32 reads the next 32-bit unsigned argument.
func (e *Event) Uint32() uint32 {
	if e.off+4 > len(e.data) {
		return 0
	}
	v := binary.LittleEndian.Uint32(e.data[e.off:])
	e.off += 4
	return v
}

// Int32 reads the next 32-bit signed argument.
func (e *Event) Int32() int32 {
	return int32(e.Uint32())
}

// Fixed reads the next fixed-point argument.
func (e *Event) Fixed() Fixed {
	return Fixed(e.Int32())
}

// String reads the next string argument.
func (e *Event) String() string {
	n := int(e.Uint32())
	if n == 0 || e.off+n > len(e.data) {
		return ""
	}
	s := string(e.data[e.off : e.off+n-1]) // strip NUL
	e.off += n + (4-n%4)%4
	return s
}

// Array reads the next array argument.
func (e *Event) Array() []byte {
	n := int(e.Uint32())
	if e.off+n > len(e.data) {
		return nil
	}
	a := e.data[e.off : e.off+n]
	e.off += n + (4-n%4)%4
	return a
}
