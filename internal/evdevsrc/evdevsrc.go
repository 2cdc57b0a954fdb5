// Package evdevsrc discovers evdev input devices, evaluates the grab
// predicate against each one, and exposes accepted devices as pollable
// sources for the supervisor. It generalizes the teacher's
// internal/keyboard/device.go from "grab the first keyboard found" into
// the full grab-predicate model plus hot-plug.
package evdevsrc

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	evdev "github.com/holoplot/go-evdev"
	"golang.org/x/sys/unix"

	"github.com/rexroni/keytap/internal/grab"
	"github.com/rexroni/keytap/internal/resolver"
	"github.com/rexroni/keytap/internal/timeutil"
)

// Source is one grabbed input device, ready to be polled by the
// supervisor's epoll loop.
type Source struct {
	path   string
	name   string
	device *evdev.InputDevice
	action grab.Action
}

// Name returns the device's EVIOCGNAME string.
func (s *Source) Name() string { return s.name }

// Path returns the /dev/input/eventN path.
func (s *Source) Path() string { return s.path }

// Action returns the grab rule that accepted this device.
func (s *Source) Action() grab.Action { return s.action }

// Fd returns the underlying device file descriptor, for the supervisor's
// EpollCtl/EpollWait registration.
func (s *Source) Fd() int { return int(s.device.File().Fd()) }

// ReadOne blocks for the next raw input event from the kernel and
// translates it into a resolver.Event. Call only after Fd() reports
// readable (EPOLLIN) to avoid blocking the supervisor's single poll
// goroutine.
func (s *Source) ReadOne() (resolver.Event, error) {
	ev, err := s.device.ReadOne()
	if err != nil {
		return resolver.Event{}, fmt.Errorf("evdevsrc: reading %s: %w", s.path, err)
	}
	return resolver.Event{
		Type:  uint16(ev.Type),
		Code:  uint16(ev.Code),
		Value: ev.Value,
		Time:  timeutil.FromTimeval(ev.Time),
	}, nil
}

// Close ungrabs and closes the device.
func (s *Source) Close() error {
	_ = s.device.Ungrab()
	return s.device.Close()
}

// Manager discovers and grabs devices per a compiled rule set, and
// deduplicates repeated "ignoring device" log lines by hashing the
// device name into a seen-set.
type Manager struct {
	mu     sync.Mutex
	logger *slog.Logger
	rules  []grab.Rule
	seen   map[uint64]bool
}

// NewManager creates a device manager evaluating rules against every
// discovered device name.
func NewManager(rules []grab.Rule, logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		rules:  rules,
		seen:   make(map[uint64]bool),
	}
}

// Scan globs /dev/input/event*, opens each device, evaluates the grab
// predicate, and grabs (EVIOCGRAB) every device the predicate accepts.
// Devices the predicate ignores are closed immediately.
func (m *Manager) Scan() ([]*Source, error) {
	paths, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return nil, fmt.Errorf("evdevsrc: globbing /dev/input: %w", err)
	}
	return m.openAll(paths), nil
}

// Open evaluates and, if accepted, grabs a single device path. It is used
// by the hot-plug watch to bring newly-appeared devices under management
// without a full rescan.
func (m *Manager) Open(path string) (*Source, bool, error) {
	return m.open(path)
}

func (m *Manager) openAll(paths []string) []*Source {
	var sources []*Source
	for _, path := range paths {
		src, ok, err := m.open(path)
		if err != nil {
			m.logger.Debug("evdevsrc: cannot open device", "path", path, "error", err)
			continue
		}
		if ok {
			sources = append(sources, src)
		}
	}
	return sources
}

func (m *Manager) open(path string) (*Source, bool, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, false, err
	}
	name, err := dev.Name()
	if err != nil {
		dev.Close()
		return nil, false, err
	}

	action, matched := grab.Evaluate(m.rules, name)
	if !matched || action.Ignore {
		m.logIgnored(name, path)
		dev.Close()
		return nil, false, nil
	}

	if err := dev.Grab(); err != nil {
		dev.Close()
		return nil, false, fmt.Errorf("grabbing %s (%s): %w", name, path, err)
	}

	m.logger.Info("evdevsrc: grabbed device", "name", name, "path", path)
	return &Source{path: path, name: name, device: dev, action: action}, true, nil
}

// logIgnored logs at most once per distinct device name, suppressing the
// repeat "ignoring device" spam a hot-plug watch would otherwise produce
// every time the same unwanted device re-enumerates.
func (m *Manager) logIgnored(name, path string) {
	h := xxhash.Sum64String(name)
	m.mu.Lock()
	already := m.seen[h]
	m.seen[h] = true
	m.mu.Unlock()
	if !already {
		m.logger.Debug("evdevsrc: ignoring device", "name", name, "path", path)
	}
}

// WatchNewDevices watches /dev/input for new device nodes via inotify and
// sends each one's path to added as it appears. It runs until stop is
// closed or a read error occurs, generalizing the teacher's one-shot
// FindKeyboards into a long-lived watch loop.
func WatchNewDevices(added chan<- string, stop <-chan struct{}) error {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return fmt.Errorf("evdevsrc: inotify_init1: %w", err)
	}
	defer unix.Close(fd)

	wd, err := unix.InotifyAddWatch(fd, "/dev/input", unix.IN_CREATE)
	if err != nil {
		return fmt.Errorf("evdevsrc: inotify_add_watch: %w", err)
	}
	defer unix.InotifyRmWatch(fd, uint32(wd))

	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("evdevsrc: reading inotify events: %w", err)
		}

		for off := 0; off+unix.SizeofInotifyEvent <= n; {
			raw := parseInotifyEvent(buf[off:])
			nameStart := off + unix.SizeofInotifyEvent
			name := cString(buf[nameStart : nameStart+int(raw.Len)])
			off = nameStart + int(raw.Len)

			if name == "" {
				continue
			}
			select {
			case added <- filepath.Join("/dev/input", name):
			case <-stop:
				return nil
			}
		}
	}
}

// rawInotifyEvent is the fixed-size header of a struct inotify_event
// (the variable-length name follows it in the read buffer).
type rawInotifyEvent struct {
	Wd     int32
	Mask   uint32
	Cookie uint32
	Len    uint32
}

func parseInotifyEvent(b []byte) rawInotifyEvent {
	return rawInotifyEvent{
		Wd:     int32(binary.NativeEndian.Uint32(b[0:4])),
		Mask:   binary.NativeEndian.Uint32(b[4:8]),
		Cookie: binary.NativeEndian.Uint32(b[8:12]),
		Len:    binary.NativeEndian.Uint32(b[12:16]),
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
