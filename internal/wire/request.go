package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Fixed is a Wayland 24.8 fixed-point number.
type Fixed int32

// Float64 converts Fixed to float64.
func (f Fixed) Float64() float64 {
	return float64(f) / 256.0
}

// NewFixed creates a Fixed from float64.
func NewFixed(v float64) Fixed {
	return Fixed(v * 256.0)
}

// SendRequest marshals and writes one request. Argument types follow
// the wire format: uint32, int32, Fixed, string, []byte; object and
// new_id arguments are passed as uint32 IDs.
func (d *Display) SendRequest(object uint32, opcode uint16, args ...interface{}) error {
	return d.SendRequestWithFD(object, opcode, -1, args...)
}

// SendRequestWithFD additionally passes one descriptor via SCM_RIGHTS
// (fd arguments occupy no space in the message body).
func (d *Display) SendRequestWithFD(object uint32, opcode uint16, fd int, args ...interface{}) error {
	var buf bytes.Buffer
	buf.Write(make([]byte, 8)) // header placeholder

	for _, arg := range args {
		if err := marshalArg(&buf, arg); err != nil {
			return fmt.Errorf("request %d.%d: %w", object, opcode, err)
		}
	}

	data := buf.Bytes()
	if len(data) > 0xffff {
		return fmt.Errorf("request %d.%d: message too large: %d bytes", object, opcode, len(data))
	}
	binary.LittleEndian.PutUint32(data[0:4], object)
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(data))<<16|uint32(opcode))

	var oob []byte
	if fd >= 0 {
		oob = unix.UnixRights(fd)
	}
	return d.writeAll(data, oob)
}

func marshalArg(buf *bytes.Buffer, arg interface{}) error {
	switch v := arg.(type) {
	case uint32:
		return binary.Write(buf, binary.LittleEndian, v)
	case int32:
		return binary.Write(buf, binary.LittleEndian, v)
	case Fixed:
		return binary.Write(buf, binary.LittleEndian, int32(v))
	case string:
		// length including terminator, bytes, NUL, pad to 32 bits
		strlen := len(v) + 1
		if err := binary.Write(buf, binary.LittleEndian, uint32(strlen)); err != nil {
			return err
		}
		buf.WriteString(v)
		buf.WriteByte(0)
		for i := 0; i < (4-strlen%4)%4; i++ {
			buf.WriteByte(0)
		}
	case []byte:
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(v))); err != nil {
			return err
		}
		buf.Write(v)
		for i := 0; i < (4-len(v)%4)%4; i++ {
			buf.WriteByte(0)
		}
	case Proxy:
		var id uint32
		if v != nil {
			id = v.ID()
		}
		return binary.Write(buf, binary.LittleEndian, id)
	case nil:
		return binary.Write(buf, binary.LittleEndian, uint32(0))
	default:
		return fmt.Errorf("unsupported argument type %T", arg)
	}
	return nil
}

// writeAll pushes the whole message out, polling through partial
// writes on the non-blocking socket.
func (d *Display) writeAll(data, oob []byte) error {
	for len(data) > 0 {
		n, err := unix.SendmsgN(d.fd, data, oob, nil, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLOUT}}
				if _, perr := unix.Poll(fds, -1); perr != nil && !errors.Is(perr, unix.EINTR) {
					return fmt.Errorf("display write poll failed: %w", perr)
				}
				continue
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("display write failed: %w", err)
		}
		data = data[n:]
		oob = nil // descriptors travel with the first byte only
	}
	return nil
}
