// Package telemetry turns raw kernel hotplug/power uevents into panel
// state deltas, collapsing bursts for the same logical property into
// the latest value before they reach the state store.
package telemetry

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/veldt/ledge/internal/logger"
	"github.com/veldt/ledge/internal/reactor"
	"github.com/veldt/ledge/internal/state"
)

// kernel uevent multicast group
const ueventGroupKernel = 1

// Watcher subscribes to NETLINK_KOBJECT_UEVENT and emits coalesced
// deltas. It never fails the process: malformed events are dropped,
// socket hiccups are logged.
type Watcher struct {
	fd     int
	window time.Duration
	timer  *reactor.Timer

	pending map[string]state.Delta
	apply   func(state.Delta)
}

// NewWatcher opens the uevent socket. apply is invoked on the reactor
// goroutine once per coalesced property when the window closes.
func NewWatcher(window time.Duration, apply func(state.Delta)) (*Watcher, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("failed to open uevent socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: ueventGroupKernel}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind uevent socket: %w", err)
	}

	w := &Watcher{
		fd:      fd,
		window:  window,
		pending: make(map[string]state.Delta),
		apply:   apply,
	}
	w.timer, err = reactor.NewTimer("telemetry-coalesce", w.flush)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return w, nil
}

// Timer returns the coalescing timer; the caller registers it as a
// reactor source alongside the watcher itself.
func (w *Watcher) Timer() *reactor.Timer { return w.timer }

func (w *Watcher) Name() string { return "telemetry" }
func (w *Watcher) Fd() int      { return w.fd }

// Dispatch drains all queued uevents. Always returns nil: telemetry
// problems never take the panel down.
func (w *Watcher) Dispatch() error {
	buf := make([]byte, 4096)
	for {
		n, _, err := unix.Recvfrom(w.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ENOBUFS) {
				// Burst overflowed the socket buffer; events were
				// lost but the next one re-syncs us.
				logger.Warn("Telemetry socket overflow, events dropped")
				continue
			}
			logger.Warnf("Telemetry read failed: %v", err)
			return nil
		}
		w.handle(buf[:n])
	}
}

func (w *Watcher) handle(data []byte) {
	ev, ok := parseUEvent(data)
	if !ok {
		return
	}
	key, delta, ok := translate(ev)
	if !ok {
		return
	}
	logger.Debug("Telemetry event", "property", key, "action", ev.action, "devpath", ev.devpath)

	// Latest value per property wins; the timer opens the window on
	// the first pending entry.
	if len(w.pending) == 0 {
		if err := w.timer.Arm(w.window); err != nil {
			logger.Warnf("Failed to arm coalesce timer: %v", err)
		}
	}
	w.pending[key] = delta
}

// flush applies everything collected during the window.
func (w *Watcher) flush() error {
	for key, delta := range w.pending {
		delete(w.pending, key)
		w.apply(delta)
	}
	return nil
}

// Close releases the socket and timer. Unregister both from the
// reactor first.
func (w *Watcher) Close() {
	if w.fd >= 0 {
		unix.Close(w.fd)
		w.fd = -1
	}
	w.timer.Close()
}
