// Package uinputsink drives a /dev/uinput virtual keyboard from resolved
// key events. It generalizes the teacher's internal/keyboard/output.go:
// the Unicode-typing (Ctrl+Shift+U) and AZERTY passthrough helpers are
// dropped since remapped output has no text-entry concept, leaving the
// plain KeyDown/KeyUp/repeat dispatch the resolver actually needs.
package uinputsink

import (
	"fmt"
	"log/slog"

	"github.com/bendahl/uinput"

	"github.com/rexroni/keytap/internal/evcode"
	"github.com/rexroni/keytap/internal/resolver"
)

// Sink drives a virtual keyboard created via uinput, implementing
// resolver.Sink.
type Sink struct {
	keyboard uinput.Keyboard
	logger   *slog.Logger
}

// New creates a virtual keyboard named name (visible to userspace as the
// device's EVIOCGNAME) and wraps it as a resolver.Sink.
func New(name string, logger *slog.Logger) (*Sink, error) {
	kb, err := uinput.CreateKeyboard("/dev/uinput", []byte(name))
	if err != nil {
		return nil, fmt.Errorf("uinputsink: creating virtual keyboard: %w", err)
	}
	return &Sink{keyboard: kb, logger: logger}, nil
}

// Close destroys the virtual keyboard device.
func (s *Sink) Close() error {
	return s.keyboard.Close()
}

// Emit dispatches a resolved event to the virtual keyboard. Only EV_KEY
// events carry through; the resolver is responsible for also emitting
// SYN_REPORT, which uinput's Keyboard generates implicitly after each
// KeyDown/KeyUp/KeyPress call, so EV_SYN events reaching here are no-ops.
func (s *Sink) Emit(ev resolver.Event) {
	if ev.Type != evcode.EV_KEY {
		return
	}

	code := int(ev.Code)
	var err error
	switch ev.Value {
	case 0: // release
		err = s.keyboard.KeyUp(code)
	case 1: // press
		err = s.keyboard.KeyDown(code)
	case 2: // repeat: re-assert KeyDown, mirroring the kernel's own
		// auto-repeat semantics rather than a full press+release.
		err = s.keyboard.KeyDown(code)
	default:
		return
	}

	if err != nil {
		s.logger.Error("uinputsink: injecting event failed", "code", ev.Code, "value", ev.Value, "error", err)
	}
}
