package control

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/veldt/ledge/internal/logger"
	"github.com/veldt/ledge/internal/reactor"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
)

// Registrar is the slice of the reactor the client needs to come and
// go as the connection does.
type Registrar interface {
	Register(reactor.Source) error
	Unregister(reactor.Source) error
}

// Client maintains the control session with the compositor. Transient
// by design: disconnects trigger bounded exponential-backoff
// reconnects, and nothing here ever fails the process.
type Client struct {
	socketPath string
	fd         int
	connected  bool
	inBuf      []byte

	backoff       time.Duration
	attempt       int
	maxReconnects int
	retryTimer    *reactor.Timer
	registrar     Registrar

	// OnMessage receives each decoded notification.
	OnMessage func(Message)
	// OnConnect fires after each successful (re)connect so the owner
	// can re-announce state, e.g. the exclusive zone.
	OnConnect func()
}

// SocketPath resolves the control socket location: explicit config, or
// the session default under XDG_RUNTIME_DIR.
func SocketPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	runDir := os.Getenv("XDG_RUNTIME_DIR")
	if runDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR not set")
	}
	return filepath.Join(runDir, "compositor-panel.sock"), nil
}

// NewClient creates a client for the given socket.
func NewClient(socketPath string, maxReconnects int, registrar Registrar) (*Client, error) {
	c := &Client{
		socketPath:    socketPath,
		fd:            -1,
		backoff:       initialBackoff,
		maxReconnects: maxReconnects,
		registrar:     registrar,
	}

	var err error
	c.retryTimer, err = reactor.NewTimer("control-retry", c.retry)
	if err != nil {
		return nil, err
	}
	if err := registrar.Register(c.retryTimer); err != nil {
		c.retryTimer.Close()
		return nil, err
	}
	return c, nil
}

// Start makes the first connection attempt. Failure is not fatal; the
// retry schedule takes over.
func (c *Client) Start() {
	if err := c.connect(); err != nil {
		logger.Warnf("Control channel unavailable: %v", err)
		c.scheduleRetry()
	}
}

func (c *Client) connect() error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: c.socketPath}
	if err := unix.Connect(fd, addr); err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return fmt.Errorf("failed to connect to %s: %w", c.socketPath, err)
	}

	c.fd = fd
	c.connected = true
	c.inBuf = nil
	if err := c.registrar.Register(c); err != nil {
		c.disconnect()
		return err
	}

	c.backoff = initialBackoff
	c.attempt = 0
	logger.Info("Control channel connected", "socket", c.socketPath)
	if c.OnConnect != nil {
		c.OnConnect()
	}
	return nil
}

func (c *Client) disconnect() {
	if !c.connected {
		return
	}
	c.connected = false
	if err := c.registrar.Unregister(c); err != nil {
		logger.Warnf("Control unregister: %v", err)
	}
	unix.Close(c.fd)
	c.fd = -1
}

func (c *Client) scheduleRetry() {
	if c.maxReconnects > 0 && c.attempt >= c.maxReconnects {
		logger.Error("Control channel retry budget exhausted; staying disconnected")
		return
	}
	c.attempt++
	logger.Infof("Control reconnect attempt %d in %v", c.attempt, c.backoff)
	if err := c.retryTimer.Arm(c.backoff); err != nil {
		logger.Warnf("Failed to arm control retry timer: %v", err)
		return
	}
	c.backoff *= 2
	if c.backoff > maxBackoff {
		c.backoff = maxBackoff
	}
}

func (c *Client) retry() error {
	if c.connected {
		return nil
	}
	if err := c.connect(); err != nil {
		logger.Debugf("Control reconnect failed: %v", err)
		c.scheduleRetry()
	}
	return nil
}

// Send writes one framed request. While disconnected the message is
// dropped; callers re-announce on OnConnect.
func (c *Client) Send(msg Message) error {
	if !c.connected {
		logger.Debug("Control channel down, dropping message", "type", msg.Type)
		return nil
	}
	var buf bytes.Buffer
	if err := writeMessage(&buf, msg); err != nil {
		return err
	}
	if err := c.writeFrame(buf.Bytes()); err != nil {
		logger.Warnf("Control send failed: %v", err)
		c.disconnect()
		c.scheduleRetry()
	}
	return nil
}

// writeFrame pushes one whole frame out. A partial write must never be
// left on the stream: the peer would read a corrupt length prefix.
func (c *Client) writeFrame(data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
				if _, perr := unix.Poll(fds, -1); perr != nil && !errors.Is(perr, unix.EINTR) {
					return perr
				}
				continue
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		data = data[n:]
	}
	return nil
}

// Reactor source plumbing.

func (c *Client) Name() string { return "control" }
func (c *Client) Fd() int      { return c.fd }

// Dispatch drains the socket and delivers complete frames. Connection
// loss reschedules a reconnect; never fatal.
func (c *Client) Dispatch() error {
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			logger.Warnf("Control channel lost: %v", err)
			c.disconnect()
			c.scheduleRetry()
			return nil
		}
		if n == 0 {
			logger.Warn("Control channel closed by compositor")
			c.disconnect()
			c.scheduleRetry()
			return nil
		}
		c.inBuf = append(c.inBuf, buf[:n]...)
	}

	for len(c.inBuf) >= 4 {
		length := binary.BigEndian.Uint32(c.inBuf[:4])
		if length > maxFrameSize {
			// Framing is unrecoverable past a corrupt length.
			logger.Warnf("Control frame length %d exceeds limit, reconnecting", length)
			c.disconnect()
			c.scheduleRetry()
			return nil
		}
		if len(c.inBuf) < 4+int(length) {
			break
		}
		payload := c.inBuf[4 : 4+length]
		msg, err := decodeFrame(payload)
		c.inBuf = c.inBuf[4+length:]
		if err != nil {
			// One bad frame does not tear the session down.
			logger.Warnf("Control: %v", err)
			continue
		}
		if c.OnMessage != nil {
			c.OnMessage(msg)
		}
	}
	return nil
}

// Close tears the channel down for shutdown.
func (c *Client) Close() {
	c.disconnect()
	if err := c.registrar.Unregister(c.retryTimer); err != nil {
		logger.Warnf("Control retry timer unregister: %v", err)
	}
	c.retryTimer.Close()
}
