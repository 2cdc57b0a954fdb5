// Package supervisor owns the epoll poll loop that glues evdevsrc
// sources, per-device resolvers, and sinks together. It replaces the
// original implementation's select()-based loop in devices.c with
// epoll_wait, and is the one place in the module that decides what a
// vanished device means for keys it left physically held.
package supervisor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/rexroni/keytap/internal/evcode"
	"github.com/rexroni/keytap/internal/keyaction"
	"github.com/rexroni/keytap/internal/resolver"
	"github.com/rexroni/keytap/internal/timeutil"
)

// Pollable is anything supervisor can register on its epoll instance
// and read one translated event from: an evdevsrc.Source, or a
// netsink.Source in connect mode.
type Pollable interface {
	Fd() int
	ReadOne() (resolver.Event, error)
	Close() error
}

// buffered is implemented by Pollables that may have more than one
// decoded event already sitting in a userspace buffer after a single
// EPOLLIN wakeup (netsink.Source, via bufio.Reader).
type buffered interface {
	Buffered() int
}

// device is one Pollable paired with the resolver it feeds and the
// sink its stuck keys must be released through on removal.
type device struct {
	source   Pollable
	resolver *resolver.Resolver
	sink     resolver.Sink
	sessID   uuid.UUID
	name     string
}

// Supervisor runs the poll loop. Run must only be called once per
// instance, but AddDevice/RemoveDevice/SetEnabled/SetLayout may be
// called concurrently from another goroutine (e.g. the tray's click
// handler) while Run is active; mu guards the shared state they touch.
type Supervisor struct {
	logger  *slog.Logger
	epollFd int

	mu      sync.Mutex
	devices map[int]*device // keyed by fd
	enabled bool
}

// New creates an epoll instance ready for AddDevice calls.
func New(logger *slog.Logger) (*Supervisor, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("supervisor: epoll_create1: %w", err)
	}
	return &Supervisor{
		logger:  logger,
		epollFd: fd,
		devices: make(map[int]*device),
		enabled: true,
	}, nil
}

// AddDevice registers source for polling, creating a fresh resolver
// rooted at tree and emitting to sink. name is used only for log
// correlation.
func (s *Supervisor) AddDevice(source Pollable, tree *keyaction.MapAction, sink resolver.Sink, name string) error {
	return s.addDevice(source, resolver.New(tree, sink, s.logger), sink, name)
}

// AddSharedDevice registers source against an already-constructed
// resolver, so several physical devices can feed one Resolver rather than
// each getting its own. Run passes their events to that resolver's
// PushEvent like any other device's; it does not call DedupPush, so a key
// held on two such devices at once reaches the resolver as two presses.
func (s *Supervisor) AddSharedDevice(source Pollable, shared *resolver.Resolver, sink resolver.Sink, name string) error {
	return s.addDevice(source, shared, sink, name)
}

func (s *Supervisor) addDevice(source Pollable, r *resolver.Resolver, sink resolver.Sink, name string) error {
	fd := source.Fd()
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("supervisor: epoll_ctl(ADD) for %s: %w", name, err)
	}
	sessID := uuid.New()

	s.mu.Lock()
	s.devices[fd] = &device{source: source, resolver: r, sink: sink, sessID: sessID, name: name}
	s.mu.Unlock()

	s.logger.Info("supervisor: device added", "name", name, "session", sessID)
	return nil
}

// SetEnabled toggles passthrough mode for every registered device.
// While disabled, Run emits raw input events straight to each
// device's sink unchanged instead of pushing them through its
// resolver — the tray's "Enabled" toggle.
func (s *Supervisor) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// SetLayout replaces every registered device's resolver with a fresh
// one rooted at tree, used by the tray's layout submenu. Any in-flight
// dual/macro state is discarded; this is a deliberate reset rather
// than a live tree edit.
func (s *Supervisor) SetLayout(tree *keyaction.MapAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		d.resolver = resolver.New(tree, d.sink, s.logger)
	}
}

// RemoveDevice unregisters fd, releasing every output code its
// resolver still believes is held (spec.md §5 cancellation / §9 Open
// Question b) before closing the source.
func (s *Supervisor) RemoveDevice(fd int) {
	s.mu.Lock()
	d, ok := s.devices[fd]
	if ok {
		delete(s.devices, fd)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_DEL, fd, nil)

	for _, outCode := range d.resolver.ReleaseMapSnapshot() {
		if outCode == resolver.ResetKeymap {
			continue
		}
		d.sink.Emit(resolver.Event{Type: evcode.EV_KEY, Code: outCode, Value: evcode.ValueRelease})
	}

	if err := d.source.Close(); err != nil {
		s.logger.Debug("supervisor: error closing device", "name", d.name, "error", err)
	}
	s.logger.Info("supervisor: device removed", "name", d.name, "session", d.sessID)
}

// Run drains events until stop is closed. Each iteration computes an
// epoll_wait timeout as the minimum over every resolver's
// NextDeadline(), so dual-key timeouts and double-tap windows fire
// promptly even with no device traffic.
func (s *Supervisor) Run(stop <-chan struct{}) error {
	const maxEvents = 16
	raw := make([]unix.EpollEvent, maxEvents)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		timeout := s.nextTimeoutMs()
		n, err := unix.EpollWait(s.epollFd, raw, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("supervisor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(raw[i].Fd)
			s.mu.Lock()
			d, ok := s.devices[fd]
			enabled := s.enabled
			var res *resolver.Resolver
			if ok {
				res = d.resolver // SetLayout may replace it concurrently
			}
			s.mu.Unlock()
			if !ok {
				continue
			}

			if raw[i].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				s.RemoveDevice(fd)
				continue
			}

			for {
				ev, err := d.source.ReadOne()
				if err != nil {
					s.logger.Warn("supervisor: device read failed, removing", "name", d.name, "error", err)
					s.RemoveDevice(fd)
					break
				}
				if enabled {
					res.PushEvent(ev)
				} else {
					d.sink.Emit(ev)
				}

				b, bufferedOK := d.source.(buffered)
				if !bufferedOK || b.Buffered() == 0 {
					break
				}
			}
		}

		s.tickAll()
	}
}

// tickAll calls Tick on every resolver whose deadline has passed.
func (s *Supervisor) tickAll() {
	now := timeutil.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		deadline, pending := d.resolver.NextDeadline()
		if pending && !now.Before(deadline) {
			d.resolver.Tick()
		}
	}
}

// nextTimeoutMs returns the epoll_wait timeout in milliseconds: the
// soonest pending resolver deadline, or -1 (block indefinitely) if no
// resolver has one.
func (s *Supervisor) nextTimeoutMs() int {
	var soonest time.Duration = -1
	now := timeutil.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		deadline, pending := d.resolver.NextDeadline()
		if !pending {
			continue
		}
		remaining := time.Duration(deadline.MsecDiff(now)) * time.Millisecond
		if remaining < 0 {
			remaining = 0
		}
		if soonest < 0 || remaining < soonest {
			soonest = remaining
		}
	}
	if soonest < 0 {
		return -1
	}
	return int(soonest.Milliseconds())
}

// Close releases the epoll file descriptor. Devices must be removed
// individually beforehand via RemoveDevice if their held keys need
// releasing.
func (s *Supervisor) Close() error {
	return unix.Close(s.epollFd)
}
