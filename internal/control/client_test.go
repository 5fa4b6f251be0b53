package control

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/veldt/ledge/internal/reactor"
)

type fakeRegistrar struct {
	registered   []string
	unregistered []string
}

func (r *fakeRegistrar) Register(s reactor.Source) error {
	r.registered = append(r.registered, s.Name())
	return nil
}

func (r *fakeRegistrar) Unregister(s reactor.Source) error {
	r.unregistered = append(r.unregistered, s.Name())
	return nil
}

func TestSocketPath(t *testing.T) {
	got, err := SocketPath("/tmp/custom.sock")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", got)

	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	got, err = SocketPath("")
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000/compositor-panel.sock", got)

	t.Setenv("XDG_RUNTIME_DIR", "")
	_, err = SocketPath("")
	assert.Error(t, err)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	reg := &fakeRegistrar{}
	c, err := NewClient("/run/does-not-exist.sock", 0, reg)
	require.NoError(t, err)
	defer c.Close()

	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for _, w := range want {
		assert.Equal(t, w*time.Second, c.backoff)
		c.scheduleRetry()
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	reg := &fakeRegistrar{}
	c, err := NewClient("/run/does-not-exist.sock", 3, reg)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.scheduleRetry()
	}
	assert.Equal(t, 3, c.attempt)
}

func TestDispatchDeliversFrames(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	reg := &fakeRegistrar{}
	c, err := NewClient("unused", 0, reg)
	require.NoError(t, err)
	defer c.Close()
	c.fd = fds[0]
	c.connected = true

	var got []Message
	c.OnMessage = func(msg Message) { got = append(got, msg) }

	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, Message{
		Type:       TypeVisibility,
		Visibility: &VisibilityPayload{Visible: false},
	}))
	require.NoError(t, writeMessage(&buf, Message{
		Type:        TypeOrientation,
		Orientation: &OrientationPayload{Orientation: "landscape"},
	}))
	_, err = unix.Write(fds[1], buf.Bytes())
	require.NoError(t, err)

	require.NoError(t, c.Dispatch())
	require.Len(t, got, 2)
	assert.Equal(t, TypeVisibility, got[0].Type)
	assert.Equal(t, TypeOrientation, got[1].Type)
}

func TestDispatchReassemblesSplitFrames(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	reg := &fakeRegistrar{}
	c, err := NewClient("unused", 0, reg)
	require.NoError(t, err)
	defer c.Close()
	c.fd = fds[0]
	c.connected = true

	var got []Message
	c.OnMessage = func(msg Message) { got = append(got, msg) }

	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, NewExclusiveZoneMessage(40)))
	frame := buf.Bytes()

	// First half of the frame alone produces nothing.
	_, err = unix.Write(fds[1], frame[:len(frame)/2])
	require.NoError(t, err)
	require.NoError(t, c.Dispatch())
	assert.Empty(t, got)

	// The rest completes it.
	_, err = unix.Write(fds[1], frame[len(frame)/2:])
	require.NoError(t, err)
	require.NoError(t, c.Dispatch())
	require.Len(t, got, 1)
	assert.Equal(t, TypeExclusiveZone, got[0].Type)
}

func TestDispatchSkipsBadFrameKeepsSession(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	reg := &fakeRegistrar{}
	c, err := NewClient("unused", 0, reg)
	require.NoError(t, err)
	defer c.Close()
	c.fd = fds[0]
	c.connected = true

	var got []Message
	c.OnMessage = func(msg Message) { got = append(got, msg) }

	var buf bytes.Buffer
	bad := []byte(`{{{`)
	buf.Write([]byte{0, 0, 0, byte(len(bad))})
	buf.Write(bad)
	require.NoError(t, writeMessage(&buf, NewExclusiveZoneMessage(40)))
	_, err = unix.Write(fds[1], buf.Bytes())
	require.NoError(t, err)

	require.NoError(t, c.Dispatch())
	require.Len(t, got, 1)
	assert.True(t, c.connected)
}

func TestSendWritesWholeFrameAcrossShortWrites(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	// Shrink the send buffer so the frame cannot go out in one write.
	require.NoError(t, unix.SetsockoptInt(fds[0], unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))

	reg := &fakeRegistrar{}
	c, err := NewClient("unused", 0, reg)
	require.NoError(t, err)
	defer c.Close()
	c.fd = fds[0]
	c.connected = true

	big := bytes.Repeat([]byte("orientation-payload-"), 16*1024)
	msg := Message{
		Type:        TypeOrientation,
		Orientation: &OrientationPayload{Orientation: string(big)},
	}

	received := make(chan []byte, 1)
	go func() {
		var out []byte
		buf := make([]byte, 32*1024)
		for {
			n, err := unix.Read(fds[1], buf)
			if err != nil {
				if errors.Is(err, unix.EAGAIN) {
					continue
				}
				received <- nil
				return
			}
			out = append(out, buf[:n]...)
			if len(out) >= 4 {
				want := int(binary.BigEndian.Uint32(out[:4])) + 4
				if len(out) >= want {
					received <- out
					return
				}
			}
		}
	}()

	require.NoError(t, c.Send(msg))
	assert.True(t, c.connected, "a short write must not drop the session")

	frame := <-received
	require.NotNil(t, frame)
	decoded, err := decodeFrame(frame[4:])
	require.NoError(t, err)
	require.NotNil(t, decoded.Orientation)
	assert.Equal(t, string(big), decoded.Orientation.Orientation)
}

func TestDisconnectOnPeerClose(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)

	reg := &fakeRegistrar{}
	c, err := NewClient("unused", 0, reg)
	require.NoError(t, err)
	defer c.Close()
	c.fd = fds[0]
	c.connected = true

	unix.Close(fds[1])
	require.NoError(t, c.Dispatch())
	assert.False(t, c.connected)
	assert.Contains(t, reg.unregistered, "control")
}

func TestConnectToListeningSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panel.sock")

	lfd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(lfd)
	require.NoError(t, unix.Bind(lfd, &unix.SockaddrUnix{Name: path}))
	require.NoError(t, unix.Listen(lfd, 1))
	defer os.Remove(path)

	reg := &fakeRegistrar{}
	c, err := NewClient(path, 0, reg)
	require.NoError(t, err)
	defer c.Close()

	connected := false
	c.OnConnect = func() { connected = true }
	c.Start()
	assert.True(t, c.connected)
	assert.True(t, connected)
	assert.Contains(t, reg.registered, "control")
}
