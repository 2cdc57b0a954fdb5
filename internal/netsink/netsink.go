// Package netsink implements the serve/connect network transport
// (spec.md §6): a TCP or Unix-domain listener that streams resolved
// key events to one connected client using netproto framing. Grounded
// on the original implementation's gai_open/unix_socket_open
// (original_source/networking.c), reworked from raw getaddrinfo/fcntl
// calls into net.Listen plus an advisory flock on Unix sockets.
package netsink

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/rexroni/keytap/internal/netproto"
	"github.com/rexroni/keytap/internal/resolver"
)

// Sink streams resolved events to one connected client over a
// net.Conn, implementing resolver.Sink. Connect drops are logged, not
// fatal: the resolver keeps running and later events are simply lost
// until a client reconnects.
type Sink struct {
	mu     sync.Mutex
	conn   net.Conn
	w      *bufio.Writer
	logger *slog.Logger
}

// NewSink wraps an already-accepted or already-dialed connection.
func NewSink(conn net.Conn, logger *slog.Logger) *Sink {
	return &Sink{conn: conn, w: bufio.NewWriter(conn), logger: logger}
}

// Emit writes one wire line per event. Write errors are logged and
// swallowed, matching the Sink contract (Emit has no error return).
func (s *Sink) Emit(ev resolver.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.WriteString(netproto.Encode(ev)); err != nil {
		s.logger.Error("netsink: write failed", "error", err)
		return
	}
	if err := s.w.Flush(); err != nil {
		s.logger.Error("netsink: flush failed", "error", err)
	}
}

// Close closes the underlying connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}

// Listener wraps a net.Listener together with the Unix-socket lock. It
// does not limit the number of clients: each Accept returns a new Sink,
// including while an earlier client is still connected.
type Listener struct {
	net.Listener
	lockFd   int
	unixPath string
}

// Serve starts listening at addr. If network is "unix", addr is a
// filesystem path; an advisory lock file at addr+".lock" prevents a
// second keytap process from binding the same socket concurrently,
// the Go analog of the original's fcntl(F_SETLK) guard on its lock fd.
func Serve(network, addr string) (*Listener, error) {
	lockFd := -1
	if network == "unix" {
		var err error
		lockFd, err = acquireUnixLock(addr + ".lock")
		if err != nil {
			return nil, err
		}
		os.Remove(addr)
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		if lockFd >= 0 {
			unix.Close(lockFd)
		}
		return nil, fmt.Errorf("netsink: listening on %s %s: %w", network, addr, err)
	}

	unixPath := ""
	if network == "unix" {
		unixPath = addr
	}
	return &Listener{Listener: ln, lockFd: lockFd, unixPath: unixPath}, nil
}

// Accept blocks for the next client connection and wraps it as a Sink.
func (l *Listener) Accept(logger *slog.Logger) (*Sink, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("netsink: accept: %w", err)
	}
	return NewSink(conn, logger), nil
}

// Close stops listening and releases the Unix-socket lock, if any.
func (l *Listener) Close() error {
	err := l.Listener.Close()
	if l.lockFd >= 0 {
		unix.Close(l.lockFd)
	}
	if l.unixPath != "" {
		os.Remove(l.unixPath)
	}
	return err
}

// acquireUnixLock takes a non-blocking exclusive flock on path,
// creating it if necessary. It fails fast (rather than blocking) so a
// second keytap instance gets an immediate, actionable error instead
// of hanging, matching the original's non-blocking F_SETLK.
func acquireUnixLock(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT, 0o666)
	if err != nil {
		return -1, fmt.Errorf("netsink: opening lock file %s: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netsink: another instance holds the lock on %s: %w", path, err)
	}
	return fd, nil
}

// Source reads an event stream from a dialed connection, implementing
// the client side of connect mode. Read is meant to be called in a
// loop by the supervisor exactly like an evdevsrc.Source.
type Source struct {
	conn   net.Conn
	r      *bufio.Reader
	logger *slog.Logger
}

// Connect dials a server previously started with Serve.
func Connect(network, addr string, logger *slog.Logger) (*Source, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("netsink: dialing %s %s: %w", network, addr, err)
	}
	return &Source{conn: conn, r: bufio.NewReader(conn), logger: logger}, nil
}

// ReadOne blocks for the next wire line and decodes it. Malformed
// lines are skipped, not returned as errors (spec.md §6 tolerance
// rule); only a read failure (disconnect) is returned as an error.
func (s *Source) ReadOne() (resolver.Event, error) {
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && line == "" {
			return resolver.Event{}, fmt.Errorf("netsink: connection closed: %w", err)
		}
		ev, ok := netproto.Decode(line)
		if !ok {
			s.logger.Debug("netsink: dropping malformed line", "line", line)
			if err != nil {
				return resolver.Event{}, fmt.Errorf("netsink: connection closed: %w", err)
			}
			continue
		}
		return ev, nil
	}
}

// Close closes the dialed connection.
func (s *Source) Close() error {
	return s.conn.Close()
}

// Buffered reports how many bytes are already sitting in userspace's
// read buffer. The supervisor must drain ReadOne in a loop while this
// is nonzero after an EPOLLIN wakeup: epoll only reports readiness of
// the socket's kernel buffer, and bufio.Reader may have pulled more
// than one wire line into its own buffer in a single underlying Read.
func (s *Source) Buffered() int {
	return s.r.Buffered()
}

// Fd returns the connection's file descriptor for epoll registration.
// Only TCP and Unix-domain connections (the two netsink uses) support
// this; Fd panics for any other net.Conn implementation.
func (s *Source) Fd() int {
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		panic("netsink: connection type does not expose a file descriptor")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		panic(fmt.Sprintf("netsink: SyscallConn: %v", err))
	}
	var fd int
	err = raw.Control(func(f uintptr) { fd = int(f) })
	if err != nil {
		panic(fmt.Sprintf("netsink: Control: %v", err))
	}
	return fd
}
