package wire

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestConnectFdOutlivesGarbageCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayland-test")
	lfd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(lfd)
	require.NoError(t, unix.Bind(lfd, &unix.SockaddrUnix{Name: path}))
	require.NoError(t, unix.Listen(lfd, 1))

	d, err := Connect(path)
	require.NoError(t, err)
	defer d.Close()

	// The reactor polls this fd for the process lifetime; no wrapper
	// object may be left around whose finalizer closes it.
	for i := 0; i < 5; i++ {
		runtime.GC()
	}

	_, err = unix.FcntlInt(uintptr(d.Fd()), unix.F_GETFD, 0)
	assert.NoError(t, err, "display fd closed from under the connection")
}

func marshal(t *testing.T, arg interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, marshalArg(&buf, arg))
	return buf.Bytes()
}

func TestMarshalArgScalars(t *testing.T) {
	assert.Equal(t, []byte{0x39, 0x05, 0x00, 0x00}, marshal(t, uint32(1337)))
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, marshal(t, int32(-1)))
	assert.Equal(t, []byte{0x80, 0x01, 0x00, 0x00}, marshal(t, NewFixed(1.5)))
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, marshal(t, nil))
}

func TestMarshalArgString(t *testing.T) {
	// "abc" -> length 4 (incl NUL), already 32-bit aligned
	assert.Equal(t, []byte{
		4, 0, 0, 0,
		'a', 'b', 'c', 0,
	}, marshal(t, "abc"))

	// "wl_shm" -> length 7, one pad byte
	assert.Equal(t, []byte{
		7, 0, 0, 0,
		'w', 'l', '_', 's', 'h', 'm', 0, 0,
	}, marshal(t, "wl_shm"))

	// empty string is length 1 plus three pad bytes
	assert.Equal(t, []byte{
		1, 0, 0, 0,
		0, 0, 0, 0,
	}, marshal(t, ""))
}

func TestMarshalArgArray(t *testing.T) {
	assert.Equal(t, []byte{
		5, 0, 0, 0,
		1, 2, 3, 4, 5, 0, 0, 0,
	}, marshal(t, []byte{1, 2, 3, 4, 5}))
}

func TestMarshalArgProxy(t *testing.T) {
	p := &BaseProxy{id: 42}
	assert.Equal(t, []byte{42, 0, 0, 0}, marshal(t, Proxy(proxyStub{p})))

	var nilProxy Proxy
	assert.Equal(t, []byte{0, 0, 0, 0}, marshal(t, nilProxy))
}

type proxyStub struct{ *BaseProxy }

func (proxyStub) Dispatch(*Event) {}

func TestMarshalArgRejectsUnknownTypes(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, marshalArg(&buf, 3.14))
	assert.Error(t, marshalArg(&buf, true))
}

func TestFixedConversions(t *testing.T) {
	assert.Equal(t, Fixed(256), NewFixed(1.0))
	assert.Equal(t, Fixed(-512), NewFixed(-2.0))
	assert.InDelta(t, 1.5, Fixed(384).Float64(), 1e-9)
}

func TestSendRequestHeader(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	d := &Display{fd: fds[0], objects: make(map[uint32]Proxy)}
	require.NoError(t, d.SendRequest(3, 7, uint32(0xdeadbeef)))

	buf := make([]byte, 64)
	n, err := unix.Read(fds[1], buf)
	require.NoError(t, err)
	require.Equal(t, 12, n)

	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf[0:4]))
	sizeOp := binary.LittleEndian.Uint32(buf[4:8])
	assert.Equal(t, uint32(12), sizeOp>>16)
	assert.Equal(t, uint32(7), sizeOp&0xffff)
	assert.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(buf[8:12]))
}

func TestSendRequestWithFDPassesDescriptor(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	payload, err := unix.MemfdCreate("test-payload", unix.MFD_CLOEXEC)
	require.NoError(t, err)
	defer unix.Close(payload)

	d := &Display{fd: fds[0], objects: make(map[uint32]Proxy)}
	require.NoError(t, d.SendRequestWithFD(2, 0, payload, int32(4096)))

	buf := make([]byte, 64)
	oob := make([]byte, 64)
	n, oobn, _, _, err := unix.Recvmsg(fds[1], buf, oob, 0)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	rights, err := unix.ParseUnixRights(&msgs[0])
	require.NoError(t, err)
	require.Len(t, rights, 1)
	unix.Close(rights[0])
}

func TestEventSequentialReaders(t *testing.T) {
	var data []byte
	app := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		data = append(data, b[:]...)
	}
	app(17)                 // uint32
	app(uint32(0xfffffffe)) // int32 -2
	app(7)                  // string length incl NUL
	data = append(data, 'w', 'l', '_', 's', 'h', 'm', 0, 0)
	app(3) // array length
	data = append(data, 9, 8, 7, 0)

	ev := &Event{Object: 2, Opcode: 0, data: data}
	assert.Equal(t, uint32(17), ev.Uint32())
	assert.Equal(t, int32(-2), ev.Int32())
	assert.Equal(t, "wl_shm", ev.String())
	assert.Equal(t, []byte{9, 8, 7}, ev.Array())
}

func TestEventReadersPastEnd(t *testing.T) {
	ev := &Event{data: []byte{1, 0}}
	assert.Equal(t, uint32(0), ev.Uint32())
	assert.Equal(t, "", ev.String())
	assert.Nil(t, ev.Array())
}
