// Command keytap grabs keyboard devices, resolves their events through
// a configurable key-action tree, and re-injects the result through a
// virtual keyboard, over the network, or both, depending on run mode.
// It replaces the teacher's single-shot main() with a cobra root
// command (local/serve/connect subcommands) while keeping the same
// flag names the teacher used (--config, --layout, --log-level,
// --no-tray).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// these back the persistent flags, read by newLogger/loadConfig in
// each subcommand's RunE.
var (
	flagConfig   string
	flagLayout   string
	flagLogLevel string
	flagNoTray   bool
	flagSystemd  bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "keytap",
		Short:   "Resolve and remap keyboard events",
		Version: fmt.Sprintf("%s (%s) built %s", version, commit, buildDate),
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&flagLayout, "layout", "", "layout name to use, overriding the config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flagNoTray, "no-tray", false, "run without a system tray icon")
	root.PersistentFlags().BoolVar(&flagSystemd, "systemd", false, "send sd_notify readiness/stopping datagrams")

	root.AddCommand(newLocalCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newConnectCmd())

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the slog.TextHandler logger the teacher wires up in
// cmd/asahi-map/main.go, honoring --log-level.
func newLogger() *slog.Logger {
	var level slog.Level
	switch flagLogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
