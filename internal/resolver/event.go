// Package resolver implements the per-device state machine that consumes
// a stream of raw input events and a key-action tree, and produces a
// stream of output events (spec.md §4.3).
package resolver

import (
	"github.com/rexroni/keytap/internal/evcode"
	"github.com/rexroni/keytap/internal/timeutil"
)

// Event is the internal record shape, matching the kernel evdev
// input_event layout: {type, code, value, time}.
type Event struct {
	Type  uint16
	Code  uint16
	Value int32
	Time  timeutil.Timestamp
}

// IsKey reports whether ev is an EV_KEY event.
func (ev Event) IsKey() bool { return ev.Type == evcode.EV_KEY }

// Sink is the interface the resolver calls to emit already-translated
// events. Implementations must not call back into the resolver.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(ev Event) { f(ev) }

func synReport(t timeutil.Timestamp) Event {
	return Event{Type: evcode.EV_SYN, Code: evcode.SYN_REPORT, Value: 0, Time: t}
}
