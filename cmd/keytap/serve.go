package main

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rexroni/keytap/internal/evdevsrc"
	"github.com/rexroni/keytap/internal/netsink"
	"github.com/rexroni/keytap/internal/notify"
	"github.com/rexroni/keytap/internal/resolver"
	"github.com/rexroni/keytap/internal/supervisor"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve <addr>",
		Short: "Grab local keyboards and stream remapped events to a connected client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe(args[0])
			return nil
		},
	}
}

// broadcastSink is the resolver.Sink every grabbed device's resolver
// writes to. It forwards to whichever client is currently connected,
// or drops events silently when none is (spec.md §6: single-client,
// no queueing for an absent client), and survives a client
// disconnecting and a new one reconnecting without re-grabbing any
// device.
type broadcastSink struct {
	mu   sync.Mutex
	sink resolver.Sink
}

func (b *broadcastSink) Emit(ev resolver.Event) {
	b.mu.Lock()
	s := b.sink
	b.mu.Unlock()
	if s != nil {
		s.Emit(ev)
	}
}

func (b *broadcastSink) set(s resolver.Sink) {
	b.mu.Lock()
	b.sink = s
	b.mu.Unlock()
}

// runServe is the server half of the original implementation's
// network transport: gai_open/unix_socket_open in
// original_source/networking.c, generalized from a single keyboard
// onto the same grab-rule-driven device set as local mode.
func runServe(addr string) {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		startupFailure(logger, "serve: failed to load config", err)
	}

	rules, err := loadRules(cfg)
	if err != nil {
		startupFailure(logger, "serve: failed to load grab rules", err)
	}

	mgr := evdevsrc.NewManager(rules, logger)
	sources, err := mgr.Scan()
	if err != nil {
		startupFailure(logger, "serve: failed to scan input devices", err)
	}
	if len(sources) == 0 {
		startupFailure(logger, "serve: no input devices matched the grab rules", errors.New("no devices grabbed"))
	}

	network := "tcp"
	if !strings.Contains(addr, ":") {
		network = "unix"
	}
	ln, err := netsink.Serve(network, addr)
	if err != nil {
		startupFailure(logger, "serve: failed to listen", err)
	}
	defer ln.Close()

	sink := &broadcastSink{}

	sup, err := supervisor.New(logger)
	if err != nil {
		startupFailure(logger, "serve: failed to create supervisor", err)
	}
	defer sup.Close()

	for _, src := range sources {
		if err := sup.AddDevice(src, src.Action().Tree, sink, src.Name()); err != nil {
			logger.Error("serve: failed to register device", "name", src.Name(), "error", err)
			src.Close()
		}
	}

	stop, requestStop := signalStop()
	go acceptClients(ln, sink, logger, stop)

	var notifier *notify.Notifier
	if flagSystemd {
		notifier = notify.New()
		defer notifier.Close()
		notifier.Ready()
	}

	logger.Info("keytap serve listening", "network", network, "addr", addr)
	err = sup.Run(stop)
	requestStop()
	if notifier != nil {
		notifier.Stopping()
	}
	if err != nil {
		ioFailure(logger, "serve: supervisor stopped on error", err)
	}
	logger.Info("keytap serve stopped")
}

// acceptClients accepts one client connection at a time and installs
// it as the broadcastSink's current target, replacing whatever client
// (if any) was previously connected.
func acceptClients(ln *netsink.Listener, sink *broadcastSink, logger *slog.Logger, stop <-chan struct{}) {
	for {
		s, err := ln.Accept(logger)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Timeout() {
				logger.Warn("serve: accept failed, listener likely closed", "error", err)
				return
			}
			continue
		}
		logger.Info("serve: client connected")
		sink.set(s)
	}
}
