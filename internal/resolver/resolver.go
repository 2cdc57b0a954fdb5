package resolver

import (
	"log/slog"

	"github.com/rexroni/keytap/internal/keyaction"
	"github.com/rexroni/keytap/internal/timeutil"
)

// ResetKeymap is the release_map sentinel meaning "on release, restore the
// root layer" (spec.md §4.3).
const ResetKeymap uint16 = keyaction.KeyMax + 1

// Resolver is the per-device state machine described in spec.md §4.3. It
// is not reentrant: PushEvent, Tick, and NextDeadline must all be called
// from a single goroutine (the supervisor's poll loop).
type Resolver struct {
	logger *slog.Logger
	sink   Sink

	unresolved ring

	// releaseMap[code] is the output code to release when input code is
	// released, ResetKeymap, or 0 if code isn't currently pressed.
	releaseMap [keyaction.NumCodes]uint16

	// inputCounts is only non-trivial on the DedupPush path (multiple
	// physical devices feeding one resolver).
	inputCounts [keyaction.NumCodes]int

	rootKeymap    *keyaction.MapAction
	currentKeymap *keyaction.MapAction

	resolvableTime    timeutil.Timestamp
	useResolvableTime bool

	lastTapCode  uint16
	lastTapValid bool
	lastTapTime  timeutil.Timestamp
}

// New creates a resolver rooted at root, emitting translated events to
// sink. The tree must already be built (keyaction.Build).
func New(root *keyaction.MapAction, sink Sink, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:        logger,
		sink:          sink,
		rootKeymap:    root,
		currentKeymap: root,
	}
}

// PushEvent appends ev to the unresolved queue and drains as much as
// possible. If the queue is full, ev is dropped with a logged warning and
// PushEvent returns without modifying state.
func (r *Resolver) PushEvent(ev Event) {
	if r.unresolved.full() {
		r.logger.Warn("unresolved queue full, dropping event",
			"type", ev.Type, "code", ev.Code, "value", ev.Value)
		return
	}
	r.unresolved.push(ev)
	r.drain()
}

// DedupPush implements the optional multi-device dedup path (spec.md
// §4.3.4): a press is forwarded only on the 0->1 transition of
// inputCounts[code], a release only on the 1->0 transition. Repeats and
// non-KEY events always pass through to PushEvent.
func (r *Resolver) DedupPush(ev Event) {
	if !ev.IsKey() || ev.Code > keyaction.KeyMax {
		r.PushEvent(ev)
		return
	}
	switch ev.Value {
	case 1: // press
		r.inputCounts[ev.Code]++
		if r.inputCounts[ev.Code] == 1 {
			r.PushEvent(ev)
		}
	case 0: // release
		if r.inputCounts[ev.Code] == 0 {
			r.logger.Warn("stray release for code with zero input count", "code", ev.Code)
			return
		}
		r.inputCounts[ev.Code]--
		if r.inputCounts[ev.Code] == 0 {
			r.PushEvent(ev)
		}
	default: // repeat
		r.PushEvent(ev)
	}
}

// Tick is called by the supervisor once NextDeadline has elapsed; it
// re-attempts to drain the queue (the oldest event may now have timed out).
func (r *Resolver) Tick() {
	r.drain()
}

// NextDeadline returns the absolute time by which the supervisor should
// call Tick, or false if no deadline is pending.
func (r *Resolver) NextDeadline() (timeutil.Timestamp, bool) {
	return r.resolvableTime, r.useResolvableTime
}

// ReleaseMapSnapshot returns a copy of the codes currently marked held, for
// the supervisor's stuck-key recovery when a device disappears (spec.md §5,
// §9 Open Question b). Keys mapped to 0 (not pressed) are omitted.
func (r *Resolver) ReleaseMapSnapshot() map[uint16]uint16 {
	out := make(map[uint16]uint16)
	for code, out_code := range r.releaseMap {
		if out_code != 0 {
			out[uint16(code)] = out_code
		}
	}
	return out
}
