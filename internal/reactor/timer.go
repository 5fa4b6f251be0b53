package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer is a timerfd-backed Source. Arm/Disarm may be called from
// dispatch code; expiry invokes the callback on the loop goroutine.
type Timer struct {
	name string
	fd   int
	fire func() error
}

// NewTimer creates a disarmed monotonic timer.
func NewTimer(name string, fire func() error) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create timerfd %s: %w", name, err)
	}
	return &Timer{name: name, fd: fd, fire: fire}, nil
}

func (t *Timer) Name() string { return t.name }
func (t *Timer) Fd() int      { return t.fd }

// Arm schedules a single expiry after d. Re-arming replaces any
// pending expiry.
func (t *Timer) Arm(d time.Duration) error {
	if d <= 0 {
		d = time.Nanosecond
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("failed to arm timer %s: %w", t.name, err)
	}
	return nil
}

// ArmInterval schedules a first expiry after initial, then repeats
// every interval.
func (t *Timer) ArmInterval(initial, interval time.Duration) error {
	if initial <= 0 {
		initial = time.Nanosecond
	}
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
		Value:    unix.NsecToTimespec(initial.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("failed to arm timer %s: %w", t.name, err)
	}
	return nil
}

// Disarm cancels any pending expiry.
func (t *Timer) Disarm() error {
	spec := unix.ItimerSpec{}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("failed to disarm timer %s: %w", t.name, err)
	}
	return nil
}

// Dispatch drains the expiry counter and fires the callback once,
// however many expirations were pending.
func (t *Timer) Dispatch() error {
	buf := make([]byte, 8)
	if _, err := unix.Read(t.fd, buf); err != nil {
		if err == unix.EAGAIN {
			return nil // spurious wake
		}
		return fmt.Errorf("timer %s read failed: %w", t.name, err)
	}
	return t.fire()
}

// Close releases the timer descriptor. Unregister from the reactor
// first.
func (t *Timer) Close() {
	if t.fd >= 0 {
		unix.Close(t.fd)
		t.fd = -1
	}
}
