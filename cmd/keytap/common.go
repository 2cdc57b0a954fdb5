package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"

	"github.com/rexroni/keytap/internal/config"
	"github.com/rexroni/keytap/internal/grab"
	"github.com/rexroni/keytap/internal/keyaction"
)

// startupFailure exits with spec.md §6's code 1 (cannot open input,
// cannot open output, bad config) after logging why.
func startupFailure(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

// ioFailure exits with spec.md §6's code 2 (fatal I/O error during
// operation, as opposed to a problem discovered at startup).
func ioFailure(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(2)
}

// loadConfig reads the app config from --config (or the teacher's
// search path if unset), applies the --layout override, and ensures
// ConfigDir/layouts exists so a first run has somewhere to put one.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagLayout != "" {
		cfg.Layout = flagLayout
	}
	if err := os.MkdirAll(filepath.Join(cfg.ConfigDir, "layouts"), 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	return cfg, nil
}

// loadRules resolves the grab-rule list that decides which evdev
// devices a local/serve run grabs and which layout tree each one
// feeds. If cfg.GrabRulesPath() doesn't exist, this falls back to a
// single catch-all rule grabbing every device into cfg.Layout, which
// is the teacher's original "grab whatever keyboard you find" shape.
func loadRules(cfg *config.Config) ([]grab.Rule, error) {
	path := cfg.GrabRulesPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		tree, err := config.LoadLayout(cfg.LayoutPath(cfg.Layout))
		if err != nil {
			return nil, fmt.Errorf("loading layout %q: %w", cfg.Layout, err)
		}
		re := regexp.MustCompile("(?i).*")
		return []grab.Rule{{Pattern: re, Action: grab.Action{Tree: tree}}}, nil
	}

	layouts, err := cfg.LoadAllLayouts()
	if err != nil {
		return nil, fmt.Errorf("loading layouts: %w", err)
	}
	rules, err := config.LoadGrabRules(path, layouts)
	if err != nil {
		return nil, fmt.Errorf("loading grab rules: %w", err)
	}
	return rules, nil
}

// passthroughTree is an identity keymap: every code maps to itself,
// since keyaction.Build fills unset root slots with SimpleAction(code).
// Used by connect mode, where the remapping already happened on the
// serve side and the client only needs to replay the decoded stream.
func passthroughTree() (*keyaction.MapAction, error) {
	root := &keyaction.MapAction{}
	if err := keyaction.Build(root); err != nil {
		return nil, fmt.Errorf("building passthrough tree: %w", err)
	}
	return root, nil
}

// signalStop returns a channel closed on SIGINT/SIGTERM, and a
// requestStop func that closes it early and idempotently (the tray's
// Quit menu item triggers the same shutdown path as a signal).
// Mirrors the teacher's os/signal.Notify usage in cmd/asahi-map/main.go.
func signalStop() (<-chan struct{}, func()) {
	stop := make(chan struct{})
	var once sync.Once
	requestStop := func() { once.Do(func() { close(stop) }) }

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		requestStop()
	}()
	return stop, requestStop
}
