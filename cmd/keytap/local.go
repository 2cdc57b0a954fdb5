package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rexroni/keytap/internal/config"
	"github.com/rexroni/keytap/internal/evdevsrc"
	"github.com/rexroni/keytap/internal/notify"
	"github.com/rexroni/keytap/internal/supervisor"
	"github.com/rexroni/keytap/internal/tray"
	"github.com/rexroni/keytap/internal/uinputsink"
)

func newLocalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "local",
		Short: "Grab local keyboards and inject remapped events via uinput",
		RunE: func(cmd *cobra.Command, args []string) error {
			runLocal()
			return nil
		},
	}
}

// runLocal is main_local from original_source/keytap.c generalized
// past a single hardcoded keyboard: it scans and grabs every device
// the configured rules accept, feeds them all through one virtual
// keyboard, watches for hot-plugged devices, and optionally shows a
// tray icon for toggling and layout switching.
func runLocal() {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		startupFailure(logger, "local: failed to load config", err)
	}
	logger.Info("keytap local starting", "version", version, "layout", cfg.Layout)

	rules, err := loadRules(cfg)
	if err != nil {
		startupFailure(logger, "local: failed to load grab rules", err)
	}

	sink, err := uinputsink.New("keytap virtual keyboard", logger)
	if err != nil {
		startupFailure(logger, "local: failed to create virtual keyboard (is /dev/uinput writable?)", err)
	}
	defer sink.Close()

	mgr := evdevsrc.NewManager(rules, logger)
	sources, err := mgr.Scan()
	if err != nil {
		startupFailure(logger, "local: failed to scan input devices", err)
	}
	if len(sources) == 0 {
		startupFailure(logger, "local: no input devices matched the grab rules", errors.New("no devices grabbed"))
	}

	sup, err := supervisor.New(logger)
	if err != nil {
		startupFailure(logger, "local: failed to create supervisor", err)
	}
	defer sup.Close()

	for _, src := range sources {
		if err := sup.AddDevice(src, src.Action().Tree, sink, src.Name()); err != nil {
			logger.Error("local: failed to register device", "name", src.Name(), "error", err)
			src.Close()
		}
	}

	stop, requestStop := signalStop()
	watchHotPlug(mgr, sup, sink, logger, stop)

	var notifier *notify.Notifier
	if flagSystemd {
		notifier = notify.New()
		defer notifier.Close()
		notifier.Ready()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(stop) }()

	if flagNoTray {
		<-stop
	} else {
		trayIcon := newLocalTray(cfg, sup, requestStop, logger)
		go func() {
			// A signal (not the tray's own Quit item) must also tear
			// the tray down, since trayIcon.Run() blocks below.
			<-stop
			trayIcon.Quit()
		}()
		trayIcon.Run()
	}

	requestStop()
	if notifier != nil {
		notifier.Stopping()
	}
	if err := <-runErr; err != nil {
		ioFailure(logger, "local: supervisor stopped on error", err)
	}
	logger.Info("keytap local stopped")
}

// watchHotPlug starts the inotify-backed device watch and a consumer
// goroutine that grabs and registers newly-appeared devices, so a
// keyboard plugged in after startup is picked up without a restart.
func watchHotPlug(mgr *evdevsrc.Manager, sup *supervisor.Supervisor, sink *uinputsink.Sink, logger *slog.Logger, stop <-chan struct{}) {
	added := make(chan string, 8)
	go func() {
		if err := evdevsrc.WatchNewDevices(added, stop); err != nil {
			logger.Warn("local: hot-plug watch ended", "error", err)
		}
	}()
	go func() {
		for path := range added {
			src, ok, err := mgr.Open(path)
			if err != nil {
				logger.Debug("local: hot-plug device could not be opened", "path", path, "error", err)
				continue
			}
			if !ok {
				continue
			}
			if err := sup.AddDevice(src, src.Action().Tree, sink, src.Name()); err != nil {
				logger.Error("local: failed to register hot-plugged device", "name", src.Name(), "error", err)
				src.Close()
			}
		}
	}()
}

// newLocalTray builds the system tray, wiring its toggle/layout
// callbacks to the running supervisor instead of the teacher's
// Handler.SetEnabled/SetLayout.
func newLocalTray(cfg *config.Config, sup *supervisor.Supervisor, requestStop func(), logger *slog.Logger) *tray.Tray {
	availableLayouts, err := cfg.AvailableLayouts()
	if err != nil {
		logger.Warn("local: could not list layouts for tray menu", "error", err)
		availableLayouts = []string{cfg.Layout}
	}

	return tray.New(tray.Config{
		CurrentLayout:    cfg.Layout,
		AvailableLayouts: availableLayouts,
		Enabled:          true,
		OnToggle: func(enabled bool) {
			sup.SetEnabled(enabled)
		},
		OnLayoutChange: func(layoutName string) {
			tree, err := config.LoadLayout(cfg.LayoutPath(layoutName))
			if err != nil {
				logger.Error("local: failed to load layout", "layout", layoutName, "error", err)
				return
			}
			sup.SetLayout(tree)
			cfg.Layout = layoutName
			if err := cfg.Save(); err != nil {
				logger.Warn("local: failed to persist layout choice", "error", err)
			}
		},
		OnQuit: func() {
			requestStop()
		},
		Logger: logger,
	})
}
