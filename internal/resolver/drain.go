package resolver

import (
	"github.com/rexroni/keytap/internal/evcode"
	"github.com/rexroni/keytap/internal/keyaction"
)

// drain repeatedly tries to resolve the oldest unresolved event. When an
// event resolves, the queue advances and the loop continues; when it
// can't, drain attempts an early release (spec.md §4.3.3) and stops.
func (r *Resolver) drain() {
	for !r.unresolved.empty() {
		if !r.resolveOldest() {
			r.tryEarlyRelease()
			return
		}
	}
}

// resolveOldest attempts to resolve the event at the front of the queue.
// On success it pops the event and returns true; otherwise the event (a
// pending DUAL press) stays at the front and resolveOldest returns false.
func (r *Resolver) resolveOldest() bool {
	ev := r.unresolved.at(0)
	r.useResolvableTime = false

	if !ev.IsKey() {
		// SYN, REL, MSC, etc. forwarded as-is.
		r.sink.Emit(ev)
		r.unresolved.popFront()
		return true
	}

	if ev.Code > keyaction.KeyMax {
		r.logger.Warn("dropping too-high keycode", "code", ev.Code)
		r.unresolved.popFront()
		return true
	}

	switch ev.Value {
	case evcode.ValueRelease:
		r.resolveRelease(ev)
		r.unresolved.popFront()
		return true
	case evcode.ValueRepeat:
		r.resolveRepeat(ev)
		r.unresolved.popFront()
		return true
	case evcode.ValuePress:
		resolved := r.resolvePress(ev)
		if resolved {
			r.unresolved.popFront()
		}
		return resolved
	default:
		r.logger.Warn("dropping key event with invalid value", "code", ev.Code, "value", ev.Value)
		r.unresolved.popFront()
		return true
	}
}

func (r *Resolver) resolveRelease(ev Event) {
	out := r.releaseMap[ev.Code]
	r.releaseMap[ev.Code] = 0
	switch out {
	case ResetKeymap:
		r.currentKeymap = r.rootKeymap
	case 0:
		// already emitted as an early release; nothing to do.
	default:
		r.sink.Emit(Event{Type: evcode.EV_KEY, Code: out, Value: evcode.ValueRelease, Time: ev.Time})
	}
}

func (r *Resolver) resolveRepeat(ev Event) {
	out := r.releaseMap[ev.Code]
	if out == 0 || out == ResetKeymap {
		return
	}
	r.sink.Emit(Event{Type: evcode.EV_KEY, Code: out, Value: evcode.ValueRepeat, Time: ev.Time})
}

// resolvePress looks up the key action for ev.Code and dispatches it.
// Returns false only for a DUAL that is not yet resolvable (the event
// stays queued and a timeout deadline is armed).
func (r *Resolver) resolvePress(ev Event) bool {
	ka, err := keyaction.Lookup(r.currentKeymap, ev.Code)
	if err != nil {
		panic("resolver: " + err.Error())
	}

	if r.lastTapValid && ev.Code != r.lastTapCode {
		r.lastTapValid = false
	}

	switch a := ka.(type) {
	case keyaction.SimpleAction:
		r.doKeypress(ev, a)
		return true
	case *keyaction.MapAction:
		r.doKeypress(ev, a)
		return true
	case keyaction.MacroAction:
		r.doMacro(ev, a)
		return true
	case keyaction.DualAction:
		return r.resolveDual(ev, a)
	default:
		panic("resolver: invalid key action reached in resolvePress")
	}
}

// doKeypress handles the SIMPLE and MAP variants, the only two a dual's
// tap/hold or a direct lookup may terminate in (other than MACRO, handled
// separately by doMacro).
func (r *Resolver) doKeypress(ev Event, ka keyaction.Action) {
	switch a := ka.(type) {
	case keyaction.SimpleAction:
		r.releaseMap[ev.Code] = a.Code
		r.sink.Emit(Event{Type: evcode.EV_KEY, Code: a.Code, Value: evcode.ValuePress, Time: ev.Time})
	case *keyaction.MapAction:
		r.currentKeymap = a
		r.releaseMap[ev.Code] = ResetKeymap
	default:
		panic("resolver: doKeypress called with a non-SIMPLE/MAP action")
	}
}

// doMacro emits a macro's sequence once. release_map for the triggering
// code is left untouched (stays 0): the triggering key's own release emits
// nothing, per spec.md §4.3.1/§9.
func (r *Resolver) doMacro(ev Event, a keyaction.MacroAction) {
	for _, step := range a.Steps {
		val := evcode.ValueRelease
		if step.Press {
			val = evcode.ValuePress
		}
		r.sink.Emit(Event{Type: evcode.EV_KEY, Code: step.Code, Value: val, Time: ev.Time})
		r.sink.Emit(synReport(ev.Time))
	}
}

// dispatchDualBranch dispatches a DUAL's resolved tap/hold action, which
// may be SIMPLE, MACRO, or MAP (per spec.md §3, never DUAL, and tap is
// never MAP).
func (r *Resolver) dispatchDualBranch(ev Event, ka keyaction.Action) {
	if m, ok := ka.(keyaction.MacroAction); ok {
		r.doMacro(ev, m)
		return
	}
	r.doKeypress(ev, ka)
}

func (r *Resolver) resolveDual(ev Event, dual keyaction.DualAction) bool {
	switch classifyWaveform(r, ev, dual) {
	case waveformTap:
		r.dispatchDualBranch(ev, dual.Tap)
		return true
	case waveformHold:
		r.dispatchDualBranch(ev, dual.Hold)
		return true
	default: // waveformNoneYet
		r.resolvableTime = ev.Time.AfterMsec(dual.HoldMs)
		r.useResolvableTime = true
		return false
	}
}

// tryEarlyRelease implements spec.md §4.3.3: when the oldest event can't
// resolve (a pending DUAL) but the newest queued event is a KEY release
// whose code is currently tracked, emit that release immediately unless
// its output code is a bare modifier, which must stay queued.
func (r *Resolver) tryEarlyRelease() {
	if r.unresolved.empty() {
		return
	}
	tail := r.unresolved.at(r.unresolved.len - 1)
	if tail.Type != evcode.EV_KEY || tail.Value != evcode.ValueRelease || tail.Code > keyaction.KeyMax {
		return
	}

	out := r.releaseMap[tail.Code]
	switch out {
	case ResetKeymap:
		r.currentKeymap = r.rootKeymap
		r.releaseMap[tail.Code] = 0
		r.unresolved.popBack()
	case 0:
		// this code isn't tracked as pressed; not an early-release
		// candidate (its press must still be ahead of it in the queue).
	default:
		if evcode.IsBareModifier(out) {
			return
		}
		r.sink.Emit(Event{Type: evcode.EV_KEY, Code: out, Value: evcode.ValueRelease, Time: tail.Time})
		r.sink.Emit(synReport(tail.Time))
		r.releaseMap[tail.Code] = 0
		r.unresolved.popBack()
	}
}
