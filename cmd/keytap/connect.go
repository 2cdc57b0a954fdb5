package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rexroni/keytap/internal/netsink"
	"github.com/rexroni/keytap/internal/notify"
	"github.com/rexroni/keytap/internal/supervisor"
	"github.com/rexroni/keytap/internal/uinputsink"
)

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <addr>",
		Short: "Dial a keytap serve instance and inject its events via uinput",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runConnect(args[0])
			return nil
		},
	}
}

// runConnect is main_connect from original_source/keytap.c: dial a
// server, decode its wire stream, and replay it onto a local virtual
// keyboard. The remapping already happened on the serve side, so the
// decoded events are fed through an identity tree rather than
// re-resolved.
func runConnect(addr string) {
	logger := newLogger()

	network := "tcp"
	if !strings.Contains(addr, ":") {
		network = "unix"
	}

	src, err := netsink.Connect(network, addr, logger)
	if err != nil {
		startupFailure(logger, "connect: failed to dial server", err)
	}

	sink, err := uinputsink.New("keytap virtual keyboard", logger)
	if err != nil {
		startupFailure(logger, "connect: failed to create virtual keyboard (is /dev/uinput writable?)", err)
	}
	defer sink.Close()

	tree, err := passthroughTree()
	if err != nil {
		startupFailure(logger, "connect: failed to build passthrough tree", err)
	}

	sup, err := supervisor.New(logger)
	if err != nil {
		startupFailure(logger, "connect: failed to create supervisor", err)
	}
	defer sup.Close()

	if err := sup.AddDevice(src, tree, sink, "connect:"+addr); err != nil {
		startupFailure(logger, "connect: failed to register server stream", err)
	}

	stop, requestStop := signalStop()

	var notifier *notify.Notifier
	if flagSystemd {
		notifier = notify.New()
		defer notifier.Close()
		notifier.Ready()
	}

	logger.Info("keytap connect dialed", "network", network, "addr", addr)
	err = sup.Run(stop)
	requestStop()
	if notifier != nil {
		notifier.Stopping()
	}
	if err != nil {
		ioFailure(logger, "connect: supervisor stopped on error", err)
	}
	logger.Info("keytap connect stopped")
}
