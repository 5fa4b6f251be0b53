// Package reactor implements the panel's single-threaded event loop:
// an epoll multiplexer over a fixed set of readiness sources. All
// dispatch runs on the loop goroutine; the only blocking point is the
// epoll wait itself.
package reactor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/veldt/ledge/internal/logger"
)

// Source is one readiness-pollable event source. Dispatch must drain
// whatever made the fd readable and return without blocking. A non-nil
// error from Dispatch is fatal and stops the loop.
type Source interface {
	Name() string
	Fd() int
	Dispatch() error
}

// Reactor multiplexes sources and dispatches them round-robin, one
// pass per wake, so no source is starved more than one cycle.
type Reactor struct {
	epfd    int
	sources map[int]Source
	order   []Source
	next    int // round-robin start offset into order

	wakeRead  int
	wakeWrite int

	running bool
	stopped bool
	stopErr error

	// PostDispatch runs once after every wake, after all ready
	// sources have been dispatched. The frame scheduler hangs off
	// this hook so a wake carrying several events yields at most one
	// render decision.
	PostDispatch func()
}

// New creates a reactor with its wake pipe registered.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll instance: %w", err)
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("failed to create wake pipe: %w", err)
	}

	r := &Reactor{
		epfd:      epfd,
		sources:   make(map[int]Source),
		wakeRead:  pipeFds[0],
		wakeWrite: pipeFds[1],
	}

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.wakeRead)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.wakeRead, &event); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to register wake pipe: %w", err)
	}

	return r, nil
}

// Register adds a source to the poll set. Safe to call from dispatch
// code (control-channel reconnect does).
func (r *Reactor) Register(s Source) error {
	fd := s.Fd()
	if _, dup := r.sources[fd]; dup {
		return fmt.Errorf("source %s: fd %d already registered", s.Name(), fd)
	}

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("failed to register source %s: %w", s.Name(), err)
	}

	r.sources[fd] = s
	r.order = append(r.order, s)
	logger.Debug("Reactor source registered", "source", s.Name(), "fd", fd)
	return nil
}

// Unregister removes a source. The fd is left open; closing it is the
// source's business.
func (r *Reactor) Unregister(s Source) error {
	fd := s.Fd()
	if _, ok := r.sources[fd]; !ok {
		return nil
	}

	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("failed to unregister source %s: %w", s.Name(), err)
	}

	delete(r.sources, fd)
	for i, src := range r.order {
		if src == s {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	logger.Debug("Reactor source unregistered", "source", s.Name(), "fd", fd)
	return nil
}

// Wake nudges the loop out of its wait. The single cross-goroutine
// entry point; everything else belongs to the loop goroutine.
func (r *Reactor) Wake() {
	_, err := unix.Write(r.wakeWrite, []byte{0})
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		logger.Warnf("Reactor wake failed: %v", err)
	}
}

// Stop requests an orderly shutdown. A nil err is a graceful stop;
// non-nil becomes Run's return value.
func (r *Reactor) Stop(err error) {
	if r.stopped {
		return
	}
	r.stopped = true
	r.stopErr = err
	if !r.running {
		r.Wake()
	}
}

// Run blocks dispatching events until Stop. On return all sources are
// unregistered and the epoll instance is closed.
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, 16)

	for !r.stopped {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			r.stopErr = fmt.Errorf("epoll wait failed: %w", err)
			break
		}

		ready := make(map[int]bool, n)
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakeRead {
				r.drainWake()
				continue
			}
			ready[fd] = true
		}

		r.running = true
		r.dispatchReady(ready)
		r.running = false

		if r.PostDispatch != nil && !r.stopped {
			r.PostDispatch()
		}
	}

	r.teardown()
	return r.stopErr
}

// dispatchReady walks the registration order starting one past last
// wake's start, skipping sources that were not ready or that dispatch
// code unregistered mid-wake.
func (r *Reactor) dispatchReady(ready map[int]bool) {
	if len(r.order) == 0 {
		return
	}

	start := r.next % len(r.order)
	snapshot := make([]Source, 0, len(r.order))
	snapshot = append(snapshot, r.order[start:]...)
	snapshot = append(snapshot, r.order[:start]...)
	r.next++

	for _, s := range snapshot {
		if r.stopped {
			return
		}
		if !ready[s.Fd()] {
			continue
		}
		if r.sources[s.Fd()] != s {
			continue // unregistered by an earlier dispatch this wake
		}
		if err := s.Dispatch(); err != nil {
			logger.Errorf("Source %s failed: %v", s.Name(), err)
			r.Stop(fmt.Errorf("source %s: %w", s.Name(), err))
			return
		}
	}
}

func (r *Reactor) drainWake() {
	buf := make([]byte, 64)
	for {
		if _, err := unix.Read(r.wakeRead, buf); err != nil {
			return
		}
	}
}

func (r *Reactor) teardown() {
	for _, s := range append([]Source(nil), r.order...) {
		if err := r.Unregister(s); err != nil {
			logger.Warnf("Teardown: %v", err)
		}
	}
	r.Close()
}

// Close releases the reactor's own descriptors.
func (r *Reactor) Close() {
	if r.epfd >= 0 {
		unix.Close(r.epfd)
		r.epfd = -1
	}
	if r.wakeRead >= 0 {
		unix.Close(r.wakeRead)
		unix.Close(r.wakeWrite)
		r.wakeRead = -1
		r.wakeWrite = -1
	}
}
