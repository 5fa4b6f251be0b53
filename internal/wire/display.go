// Package wire implements the client side of the Wayland wire format:
// connection setup, argument marshalling, SCM_RIGHTS descriptor
// passing and event demultiplexing. Protocol-specific objects live in
// internal/protocols; this package only moves bytes and routes events
// to registered proxies.
//
// The display is owned by the reactor goroutine. Nothing here locks.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/veldt/ledge/internal/logger"
)

const (
	displayObjectID = 1

	// wl_display requests
	opDisplaySync        = 0
	opDisplayGetRegistry = 1

	// wl_display events
	evDisplayError    = 0
	evDisplayDeleteID = 1
)

// Display is a connection to the compositor.
type Display struct {
	fd     int
	nextID uint32

	objects map[uint32]Proxy

	inBuf []byte // received bytes not yet forming a complete message
	inFDs []int  // received descriptors awaiting a taker

	fatal error
}

// Connect dials the Wayland socket. An empty name follows
// WAYLAND_DISPLAY, defaulting to wayland-0 under XDG_RUNTIME_DIR.
func Connect(socket string) (*Display, error) {
	if socket == "" {
		socket = os.Getenv("WAYLAND_DISPLAY")
		if socket == "" {
			socket = "wayland-0"
		}
	}
	if !filepath.IsAbs(socket) {
		runDir := os.Getenv("XDG_RUNTIME_DIR")
		if runDir == "" {
			return nil, errors.New("XDG_RUNTIME_DIR not set")
		}
		socket = filepath.Join(runDir, socket)
	}

	// Raw socket, no net.Conn wrapper: the reactor polls this fd for
	// the process lifetime and nothing else may own or finalize it.
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create display socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: socket}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to connect to Wayland display: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set socket non-blocking: %w", err)
	}

	d := &Display{
		fd:      fd,
		nextID:  2, // 1 is wl_display itself
		objects: make(map[uint32]Proxy),
	}
	logger.Debug("Wayland display connected", "socket", socket)
	return d, nil
}

// Fd returns the pollable socket descriptor.
func (d *Display) Fd() int { return d.fd }

// Close shuts the connection down.
func (d *Display) Close() {
	unix.Close(d.fd)
	for _, fd := range d.inFDs {
		unix.Close(fd)
	}
	d.inFDs = nil
}

// Err returns the sticky fatal protocol error, if any.
func (d *Display) Err() error { return d.fatal }

// AllocateID hands out the next client-side object ID.
func (d *Display) AllocateID() uint32 {
	id := d.nextID
	d.nextID++
	return id
}

// Register routes events for the proxy's ID to it.
func (d *Display) Register(p Proxy) {
	d.objects[p.ID()] = p
}

// Unregister drops the routing entry for id.
func (d *Display) Unregister(id uint32) {
	delete(d.objects, id)
}

// GetRegistry sends wl_display.get_registry for a pre-registered
// registry proxy.
func (d *Display) GetRegistry(registry Proxy) error {
	return d.SendRequest(displayObjectID, opDisplayGetRegistry, registry.ID())
}

// syncCallback implements the wl_callback for Roundtrip.
type syncCallback struct {
	BaseProxy
	done bool
}

func (c *syncCallback) Dispatch(e *Event) {
	if e.Opcode == 0 { // done
		c.done = true
	}
}

// Roundtrip sends wl_display.sync and dispatches events until the
// compositor answers, guaranteeing all prior requests are processed.
// Used during handshake only; steady-state reads happen through the
// reactor.
func (d *Display) Roundtrip() error {
	cb := &syncCallback{}
	cb.id = d.AllocateID()
	cb.display = d
	d.Register(cb)

	if err := d.SendRequest(displayObjectID, opDisplaySync, cb.id); err != nil {
		return err
	}

	for !cb.done {
		if err := d.waitReadable(); err != nil {
			return err
		}
		if err := d.DispatchPending(); err != nil {
			return err
		}
	}
	d.Unregister(cb.id)
	return nil
}

func (d *Display) waitReadable() error {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("display poll failed: %w", err)
		}
	}
}

// DispatchPending reads everything available on the socket and
// dispatches complete messages to their proxies. Returns without
// blocking; a closed connection or protocol error is fatal.
func (d *Display) DispatchPending() error {
	if d.fatal != nil {
		return d.fatal
	}

	if err := d.fill(); err != nil {
		d.fatal = err
		return err
	}

	for len(d.inBuf) >= 8 {
		object := binary.LittleEndian.Uint32(d.inBuf[0:4])
		sizeOp := binary.LittleEndian.Uint32(d.inBuf[4:8])
		size := int(sizeOp >> 16)
		opcode := uint16(sizeOp & 0xffff)

		if size < 8 {
			d.fatal = fmt.Errorf("malformed message header: size %d", size)
			return d.fatal
		}
		if len(d.inBuf) < size {
			break // partial message, wait for more bytes
		}

		body := make([]byte, size-8)
		copy(body, d.inBuf[8:size])
		d.inBuf = d.inBuf[size:]

		if err := d.deliver(object, opcode, body); err != nil {
			d.fatal = err
			return err
		}
	}
	return nil
}

// fill appends available socket data to inBuf, collecting any passed
// descriptors.
func (d *Display) fill() error {
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4*4))
	for {
		n, oobn, _, _, err := unix.Recvmsg(d.fd, buf, oob, unix.MSG_CMSG_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("display connection lost: %w", err)
		}
		if n == 0 {
			return errors.New("display connection closed by compositor")
		}
		d.inBuf = append(d.inBuf, buf[:n]...)
		if oobn > 0 {
			msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
			if err == nil {
				for _, m := range msgs {
					if fds, err := unix.ParseUnixRights(&m); err == nil {
						d.inFDs = append(d.inFDs, fds...)
					}
				}
			}
		}
		if n < len(buf) {
			return nil
		}
	}
}

func (d *Display) deliver(object uint32, opcode uint16, body []byte) error {
	if object == displayObjectID {
		return d.handleDisplayEvent(opcode, body)
	}

	proxy, ok := d.objects[object]
	if !ok {
		// Events racing a destroyed object are expected; drop them.
		logger.Debug("Event for unknown object dropped", "object", object, "opcode", opcode)
		return nil
	}
	proxy.Dispatch(&Event{Object: object, Opcode: opcode, data: body})
	return nil
}

func (d *Display) handleDisplayEvent(opcode uint16, body []byte) error {
	e := &Event{data: body}
	switch opcode {
	case evDisplayError:
		object := e.Uint32()
		code := e.Uint32()
		message := e.String()
		return fmt.Errorf("wayland protocol error: object %d code %d: %s", object, code, message)
	case evDisplayDeleteID:
		d.Unregister(e.Uint32())
	}
	return nil
}

// TakeFD pops the oldest received descriptor. Events whose signature
// carries an fd call this from their Dispatch.
func (d *Display) TakeFD() (int, bool) {
	if len(d.inFDs) == 0 {
		return -1, false
	}
	fd := d.inFDs[0]
	d.inFDs = d.inFDs[1:]
	return fd, true
}
