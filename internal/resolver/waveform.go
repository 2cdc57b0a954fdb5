package resolver

import (
	"github.com/rexroni/keytap/internal/evcode"
	"github.com/rexroni/keytap/internal/keyaction"
	"github.com/rexroni/keytap/internal/timeutil"
)

// waveform is the outcome of classifying a pending DUAL press (spec.md
// §4.3.2).
type waveform int

const (
	waveformTap waveform = iota
	waveformHold
	waveformNoneYet
)

// classifyWaveform implements spec.md §4.3.2. now is read fresh on every
// call (never cached) so that a later Tick sees a later age.
func classifyWaveform(r *Resolver, ev Event, dual keyaction.DualAction) waveform {
	now := timeutil.Now()
	age := now.MsecDiff(ev.Time)

	if age > dual.HoldMs {
		if dual.DoubleTapMs >= 0 && r.lastTapValid && r.lastTapCode == ev.Code &&
			(dual.DoubleTapMs == 0 || ev.Time.MsecDiff(r.lastTapTime) < dual.DoubleTapMs) {
			r.lastTapValid = false
			return waveformTap
		}
		r.lastTapValid = false
		return waveformHold
	}

	pressed := make(map[uint16]bool)
	for pos := 1; pos < r.unresolved.len; pos++ {
		ev2 := r.unresolved.at(pos)
		if ev2.Type != evcode.EV_KEY {
			continue
		}
		if ev2.Value == evcode.ValueRelease && ev2.Code == ev.Code {
			// the dual key's own release always resolves TAP, in every
			// mode including TIMEOUT_ONLY.
			r.lastTapCode = ev2.Code
			r.lastTapValid = true
			r.lastTapTime = ev2.Time
			return waveformTap
		}
		if dual.Mode == keyaction.TimeoutOnly {
			continue // rollover from other keys is never consulted
		}
		switch {
		case dual.Mode == keyaction.HoldOnRollover && ev2.Value == evcode.ValuePress:
			r.lastTapValid = false
			return waveformHold
		case ev2.Value == evcode.ValuePress:
			pressed[ev2.Code] = true
			r.lastTapValid = false
		case ev2.Value == evcode.ValueRelease && pressed[ev2.Code]:
			r.lastTapValid = false
			return waveformHold
		}
	}

	return waveformNoneYet
}
