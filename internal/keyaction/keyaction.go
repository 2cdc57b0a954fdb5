// Package keyaction implements the key-action tree: the immutable,
// tagged-variant data model that describes how each key code is
// interpreted in each layer of a keymap.
package keyaction

import "fmt"

// KeyMax mirrors the kernel's KEY_MAX (linux/input-event-codes.h).
// Every SIMPLE code, and every layer's slot index, must fit in this range.
const KeyMax = 0x2ff

// NumCodes is the size of a MapAction's slot array.
const NumCodes = KeyMax + 1

// maxRefHops bounds the NONE back-reference chain a lookup will follow
// before declaring a keymap cycle (spec.md §4.1).
const maxRefHops = 32

// Action is the tagged variant for one key's interpretation in one layer.
// Concrete types: NoneAction, SimpleAction, MacroAction, DualAction,
// *MapAction.
type Action interface {
	isAction()
}

// NoneAction is a placeholder. Before Build runs it means "unset". After
// Build: in the root layer it no longer exists (replaced by SimpleAction);
// in any other layer it is a back-reference to the same slot in the parent
// layer.
type NoneAction struct {
	Ref *Action
}

// SimpleAction emits Code on press and the paired release on release.
type SimpleAction struct {
	Code uint16
}

// MacroStep is one step of a macro: emit Code with the given press state.
type MacroStep struct {
	Code  uint16
	Press bool
}

// MacroAction emits its Steps once, in order, on press. No release is
// emitted for the triggering key's release.
type MacroAction struct {
	Steps []MacroStep
}

// DualMode selects how a DualAction's waveform classifier treats
// rollover (a subsequent key press/release while the dual key is held).
type DualMode int

const (
	// TapOnRollover: if the dual key's own release arrives before any
	// other key completes a full press-then-release while it is held,
	// the waveform is TAP. A bare press of another key (not yet
	// released) decides nothing by itself; but that other key rolling
	// fully off (its own release, still before the dual key's release)
	// is still treated as HOLD.
	TapOnRollover DualMode = iota
	// HoldOnRollover: everything TapOnRollover treats as HOLD, plus: any
	// subsequent key press (even without a release) forces HOLD
	// immediately, without waiting for that key's release.
	HoldOnRollover
	// TimeoutOnly: rollover from other keys is never consulted; only the
	// timeout or the dual key's own release can resolve the waveform.
	TimeoutOnly
)

func (m DualMode) String() string {
	switch m {
	case TapOnRollover:
		return "tap_on_rollover"
	case HoldOnRollover:
		return "hold_on_rollover"
	case TimeoutOnly:
		return "timeout_only"
	default:
		return fmt.Sprintf("DualMode(%d)", int(m))
	}
}

// DualAction resolves to Tap or Hold depending on the waveform classifier
// (resolver package). Neither Tap nor Hold may be a DualAction; Tap may
// not be a *MapAction.
type DualAction struct {
	Tap, Hold   Action
	Mode        DualMode
	HoldMs      int64
	DoubleTapMs int64 // -1 disabled, 0 always-tap, >0 a window in ms
}

// MapAction is a layer: a fixed-size array of Action indexed by key code.
// The root layer has Parent == nil.
type MapAction struct {
	Slots  [NumCodes]Action
	Parent *MapAction
}

func (NoneAction) isAction()  {}
func (SimpleAction) isAction() {}
func (MacroAction) isAction()  {}
func (DualAction) isAction()   {}
func (*MapAction) isAction()   {}
