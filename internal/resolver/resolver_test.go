package resolver

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexroni/keytap/internal/evcode"
	"github.com/rexroni/keytap/internal/keyaction"
	"github.com/rexroni/keytap/internal/timeutil"
)

// recordingSink captures every emitted event in order.
type recordingSink struct {
	events []Event
}

func (s *recordingSink) Emit(ev Event) { s.events = append(s.events, ev) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newRoot() *keyaction.MapAction { return &keyaction.MapAction{} }

func keyEv(code uint16, value int32, ts timeutil.Timestamp) Event {
	return Event{Type: evcode.EV_KEY, Code: code, Value: value, Time: ts}
}

func at(base timeutil.Timestamp, ms int64) timeutil.Timestamp { return base.AfterMsec(ms) }

func TestPlainRemap(t *testing.T) {
	root := newRoot()
	root.Slots[evcode.KEY_CAPSLOCK] = keyaction.SimpleAction{Code: evcode.KEY_ESC}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	base := timeutil.Now()
	r.PushEvent(keyEv(evcode.KEY_CAPSLOCK, 1, at(base, 0)))
	r.PushEvent(keyEv(evcode.KEY_CAPSLOCK, 0, at(base, 50)))

	require.Len(t, sink.events, 2)
	assert.Equal(t, evcode.KEY_ESC, sink.events[0].Code)
	assert.Equal(t, int32(1), sink.events[0].Value)
	assert.Equal(t, evcode.KEY_ESC, sink.events[1].Code)
	assert.Equal(t, int32(0), sink.events[1].Value)
}

func TestPureSimpleMapIsPassthroughSubstitution(t *testing.T) {
	root := newRoot()
	root.Slots[evcode.KEY_A] = keyaction.SimpleAction{Code: evcode.KEY_B}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	base := timeutil.Now()
	r.PushEvent(keyEv(evcode.KEY_A, 1, at(base, 0)))
	r.PushEvent(Event{Type: evcode.EV_SYN, Code: evcode.SYN_REPORT, Time: at(base, 1)})
	r.PushEvent(keyEv(evcode.KEY_A, 0, at(base, 10)))

	require.Len(t, sink.events, 3)
	assert.Equal(t, evcode.KEY_B, sink.events[0].Code)
	assert.Equal(t, evcode.EV_SYN, sink.events[1].Type)
	assert.Equal(t, evcode.KEY_B, sink.events[2].Code)
}

// TestTapOnRollover is spec.md §8 scenario 2: A's own release reaches the
// queue while B is still held (B hasn't rolled off yet), so A resolves
// as TAP despite the overlap.
func TestTapOnRollover(t *testing.T) {
	root := newRoot()
	root.Slots[evcode.KEY_A] = keyaction.DualAction{
		Tap:    keyaction.SimpleAction{Code: evcode.KEY_A},
		Hold:   keyaction.SimpleAction{Code: evcode.KEY_LEFTCTRL},
		Mode:   keyaction.TapOnRollover,
		HoldMs: 200,
	}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	base := timeutil.Now()
	r.PushEvent(keyEv(evcode.KEY_A, 1, at(base, 0)))
	r.PushEvent(keyEv(evcode.KEY_B, 1, at(base, 10)))
	r.PushEvent(keyEv(evcode.KEY_A, 0, at(base, 20)))
	r.PushEvent(keyEv(evcode.KEY_B, 0, at(base, 30)))

	require.Len(t, sink.events, 4)
	assert.Equal(t, evcode.KEY_A, sink.events[0].Code)
	assert.Equal(t, int32(1), sink.events[0].Value)
	assert.Equal(t, evcode.KEY_B, sink.events[1].Code)
	assert.Equal(t, evcode.KEY_A, sink.events[2].Code)
	assert.Equal(t, int32(0), sink.events[2].Value)
	assert.Equal(t, evcode.KEY_B, sink.events[3].Code)
	assert.Equal(t, int32(0), sink.events[3].Value)
}

// TestTapOnRolloverStillHoldsOnFullRollOff exercises the part of
// TAP_ON_ROLLOVER that still yields HOLD: another key's complete
// press-then-release while the dual key is held counts as roll-off,
// even though a bare press alone would not.
func TestTapOnRolloverStillHoldsOnFullRollOff(t *testing.T) {
	root := newRoot()
	root.Slots[evcode.KEY_A] = keyaction.DualAction{
		Tap:    keyaction.SimpleAction{Code: evcode.KEY_A},
		Hold:   keyaction.SimpleAction{Code: evcode.KEY_LEFTCTRL},
		Mode:   keyaction.TapOnRollover,
		HoldMs: 200,
	}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	base := timeutil.Now()
	r.PushEvent(keyEv(evcode.KEY_A, 1, at(base, 0)))
	r.PushEvent(keyEv(evcode.KEY_B, 1, at(base, 10)))
	r.PushEvent(keyEv(evcode.KEY_B, 0, at(base, 20)))
	r.PushEvent(keyEv(evcode.KEY_A, 0, at(base, 30)))

	require.Len(t, sink.events, 4)
	assert.Equal(t, evcode.KEY_LEFTCTRL, sink.events[0].Code)
	assert.Equal(t, int32(1), sink.events[0].Value)
	assert.Equal(t, evcode.KEY_B, sink.events[1].Code)
	assert.Equal(t, evcode.KEY_B, sink.events[2].Code)
	assert.Equal(t, evcode.KEY_LEFTCTRL, sink.events[3].Code)
	assert.Equal(t, int32(0), sink.events[3].Value)
}

// TestHoldOnRollover is spec.md §8 scenario 3: same input, HOLD_ON_ROLLOVER
// mode instead, so seeing B's press before A's own release forces HOLD.
func TestHoldOnRollover(t *testing.T) {
	root := newRoot()
	root.Slots[evcode.KEY_A] = keyaction.DualAction{
		Tap:    keyaction.SimpleAction{Code: evcode.KEY_A},
		Hold:   keyaction.SimpleAction{Code: evcode.KEY_LEFTCTRL},
		Mode:   keyaction.HoldOnRollover,
		HoldMs: 200,
	}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	base := timeutil.Now()
	r.PushEvent(keyEv(evcode.KEY_A, 1, at(base, 0)))
	r.PushEvent(keyEv(evcode.KEY_B, 1, at(base, 10)))
	r.PushEvent(keyEv(evcode.KEY_B, 0, at(base, 20)))
	r.PushEvent(keyEv(evcode.KEY_A, 0, at(base, 30)))

	require.Len(t, sink.events, 4)
	assert.Equal(t, evcode.KEY_LEFTCTRL, sink.events[0].Code)
	assert.Equal(t, int32(1), sink.events[0].Value)
	assert.Equal(t, evcode.KEY_B, sink.events[1].Code)
	assert.Equal(t, evcode.KEY_B, sink.events[2].Code)
	assert.Equal(t, evcode.KEY_LEFTCTRL, sink.events[3].Code)
	assert.Equal(t, int32(0), sink.events[3].Value)
}

// TestTimeoutOnlyResolvesByOwnRelease is spec.md §8 scenario 4's first
// half: no timeout expires, rollover is never consulted in TIMEOUT_ONLY,
// but F's own release still dispatches the TAP branch.
func TestTimeoutOnlyResolvesByOwnRelease(t *testing.T) {
	navLayer := &keyaction.MapAction{}
	root := newRoot()
	navLayer.Parent = root
	root.Slots[evcode.KEY_F] = keyaction.DualAction{
		Tap:    keyaction.SimpleAction{Code: evcode.KEY_F},
		Hold:   navLayer,
		Mode:   keyaction.TimeoutOnly,
		HoldMs: 200,
	}
	navLayer.Slots[evcode.KEY_J] = keyaction.SimpleAction{Code: evcode.KEY_UP}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	base := timeutil.Now()
	r.PushEvent(keyEv(evcode.KEY_F, 1, at(base, 0)))
	r.PushEvent(keyEv(evcode.KEY_J, 1, at(base, 50)))
	r.PushEvent(keyEv(evcode.KEY_J, 0, at(base, 60)))
	r.PushEvent(keyEv(evcode.KEY_F, 0, at(base, 100)))

	require.Len(t, sink.events, 4)
	assert.Equal(t, evcode.KEY_F, sink.events[0].Code)
	assert.Equal(t, evcode.KEY_J, sink.events[1].Code)
	assert.Equal(t, evcode.KEY_J, sink.events[2].Code)
	assert.Equal(t, evcode.KEY_F, sink.events[3].Code)
}

// TestTimeoutOnlyResolvesByTimeoutIntoLayer is the second half of scenario
// 4: F is backdated past hold_ms, so the classifier sees the timeout as
// soon as F's press is pushed and switches to the nav layer; J's press and
// release are then looked up in that layer.
func TestTimeoutOnlyResolvesByTimeoutIntoLayer(t *testing.T) {
	navLayer := &keyaction.MapAction{}
	root := newRoot()
	navLayer.Parent = root
	root.Slots[evcode.KEY_F] = keyaction.DualAction{
		Tap:    keyaction.SimpleAction{Code: evcode.KEY_F},
		Hold:   navLayer,
		Mode:   keyaction.TimeoutOnly,
		HoldMs: 200,
	}
	navLayer.Slots[evcode.KEY_J] = keyaction.SimpleAction{Code: evcode.KEY_UP}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	// F pressed well in the past: age already exceeds hold_ms by the time
	// any call to classifyWaveform runs, regardless of test scheduling.
	old := timeutil.Now().AfterMsec(-10_000)
	r.PushEvent(keyEv(evcode.KEY_F, 1, old))

	// PushEvent's drain finds age > hold_ms on the very first attempt, so
	// F's press resolves to HOLD immediately.
	require.Len(t, sink.events, 0, "HOLD via MAP emits nothing on press")

	r.PushEvent(keyEv(evcode.KEY_J, 1, timeutil.Now()))
	r.PushEvent(keyEv(evcode.KEY_J, 0, timeutil.Now()))
	r.PushEvent(keyEv(evcode.KEY_F, 0, timeutil.Now()))

	require.Len(t, sink.events, 2)
	assert.Equal(t, evcode.KEY_UP, sink.events[0].Code)
	assert.Equal(t, int32(1), sink.events[0].Value)
	assert.Equal(t, evcode.KEY_UP, sink.events[1].Code)
	assert.Equal(t, int32(0), sink.events[1].Value)
}

// TestDoubleTapRepeat is spec.md §8 scenario 5: a DUAL tapped, released,
// then pressed again and held past hold_ms re-taps instead of holding,
// because the second press lands inside double_tap_ms of the first tap.
func TestDoubleTapRepeat(t *testing.T) {
	root := newRoot()
	root.Slots[evcode.KEY_S] = keyaction.DualAction{
		Tap:         keyaction.SimpleAction{Code: evcode.KEY_S},
		Hold:        keyaction.SimpleAction{Code: evcode.KEY_LEFTSHIFT},
		Mode:        keyaction.TapOnRollover,
		HoldMs:      200,
		DoubleTapMs: 300,
	}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	// The first tap is stamped at the real current time, so S's own release
	// is classified while the press is still younger than hold_ms and
	// resolves it as an ordinary TAP (recording lastTapTime).
	base := timeutil.Now()
	r.PushEvent(keyEv(evcode.KEY_S, 1, at(base, 0)))
	r.PushEvent(keyEv(evcode.KEY_S, 0, at(base, 50)))

	require.Len(t, sink.events, 2)
	assert.Equal(t, evcode.KEY_S, sink.events[0].Code)
	assert.Equal(t, evcode.KEY_S, sink.events[1].Code)

	// Second press 250ms after the first tap's release: within
	// double_tap_ms(300) of lastTapTime. Nothing follows it, so it stays
	// pending until the wall clock passes its hold_ms(200) deadline; the
	// Tick after that sees age > hold_ms and applies the double-tap override.
	secondPress := at(base, 50+250)
	r.PushEvent(keyEv(evcode.KEY_S, 1, secondPress))
	time.Sleep(600 * time.Millisecond)
	r.Tick()

	require.Len(t, sink.events, 3, "double-tap override should emit the TAP action, not HOLD")
	assert.Equal(t, evcode.KEY_S, sink.events[2].Code)
	assert.Equal(t, int32(1), sink.events[2].Value)
}

// TestLayerFallthrough is spec.md §8 scenario 6: a NONE slot in a non-root
// layer falls through to the parent's SIMPLE (filled from the root's own
// NONE->SIMPLE rule).
func TestLayerFallthrough(t *testing.T) {
	root := newRoot()
	layer := &keyaction.MapAction{Parent: root}
	root.Slots[evcode.KEY_SPACE] = layer
	layer.Slots[evcode.KEY_H] = keyaction.SimpleAction{Code: evcode.KEY_LEFT}
	// layer.Slots[KEY_Q] intentionally left nil -> becomes a back-reference
	// to root.Slots[KEY_Q], which Build fills as SimpleAction{KEY_Q}.
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	base := timeutil.Now()
	r.PushEvent(keyEv(evcode.KEY_SPACE, 1, at(base, 0)))
	r.PushEvent(keyEv(evcode.KEY_H, 1, at(base, 10)))
	r.PushEvent(keyEv(evcode.KEY_H, 0, at(base, 20)))
	r.PushEvent(keyEv(evcode.KEY_Q, 1, at(base, 30)))
	r.PushEvent(keyEv(evcode.KEY_Q, 0, at(base, 40)))
	r.PushEvent(keyEv(evcode.KEY_SPACE, 0, at(base, 50)))

	require.Len(t, sink.events, 4)
	assert.Equal(t, evcode.KEY_LEFT, sink.events[0].Code)
	assert.Equal(t, evcode.KEY_LEFT, sink.events[1].Code)
	assert.Equal(t, evcode.KEY_Q, sink.events[2].Code)
	assert.Equal(t, evcode.KEY_Q, sink.events[3].Code)
}

func TestMacroEmitsOnceAndReleaseIsSilent(t *testing.T) {
	root := newRoot()
	root.Slots[evcode.KEY_F1] = keyaction.MacroAction{Steps: []keyaction.MacroStep{
		{Code: evcode.KEY_LEFTCTRL, Press: true},
		{Code: evcode.KEY_C, Press: true},
		{Code: evcode.KEY_C, Press: false},
		{Code: evcode.KEY_LEFTCTRL, Press: false},
	}}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	base := timeutil.Now()
	r.PushEvent(keyEv(evcode.KEY_F1, 1, at(base, 0)))
	r.PushEvent(keyEv(evcode.KEY_F1, 0, at(base, 10)))

	// 4 steps, each followed by a SYN_REPORT = 8 events, no release for F1.
	require.Len(t, sink.events, 8)
	assert.Equal(t, evcode.KEY_LEFTCTRL, sink.events[0].Code)
	assert.Equal(t, evcode.EV_SYN, sink.events[1].Type)
	assert.Equal(t, evcode.KEY_LEFTCTRL, sink.events[6].Code)
	assert.Equal(t, int32(0), sink.events[6].Value)
}

func TestRepeatWithUnheldCodeIsNoOp(t *testing.T) {
	root := newRoot()
	root.Slots[evcode.KEY_A] = keyaction.SimpleAction{Code: evcode.KEY_B}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	r.PushEvent(keyEv(evcode.KEY_A, 2, timeutil.Now()))
	assert.Empty(t, sink.events)
}

func TestQueueFullDropsEvent(t *testing.T) {
	root := newRoot()
	root.Slots[evcode.KEY_F] = keyaction.DualAction{
		Tap:    keyaction.SimpleAction{Code: evcode.KEY_F},
		Hold:   keyaction.SimpleAction{Code: evcode.KEY_LEFTCTRL},
		Mode:   keyaction.TimeoutOnly,
		HoldMs: 10_000_000, // effectively never times out during this test
	}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	r.PushEvent(keyEv(evcode.KEY_F, 1, timeutil.Now()))
	for i := 0; i < URMax+5; i++ {
		r.PushEvent(keyEv(evcode.KEY_B, 0, timeutil.Now()))
	}
	assert.Equal(t, URMax, r.unresolved.len)
}

func TestDedupPushOrSemantics(t *testing.T) {
	root := newRoot()
	root.Slots[evcode.KEY_A] = keyaction.SimpleAction{Code: evcode.KEY_B}
	require.NoError(t, keyaction.Build(root))

	sink := &recordingSink{}
	r := New(root, sink, testLogger())

	now := timeutil.Now()
	r.DedupPush(keyEv(evcode.KEY_A, 1, now)) // device 1 presses
	r.DedupPush(keyEv(evcode.KEY_A, 1, now)) // device 2 presses too
	require.Len(t, sink.events, 1, "only the first press should forward")

	r.DedupPush(keyEv(evcode.KEY_A, 0, now)) // device 1 releases
	assert.Len(t, sink.events, 1, "still held by device 2")

	r.DedupPush(keyEv(evcode.KEY_A, 0, now)) // device 2 releases
	require.Len(t, sink.events, 2, "last release should forward")
	assert.Equal(t, int32(0), sink.events[1].Value)
}
