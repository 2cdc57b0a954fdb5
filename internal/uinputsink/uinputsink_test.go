package uinputsink

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexroni/keytap/internal/evcode"
	"github.com/rexroni/keytap/internal/resolver"
)

// fakeKeyboard implements uinput.Keyboard without touching /dev/uinput, so
// Sink.Emit can be exercised without a real device.
type fakeKeyboard struct {
	downs, ups, presses []int
	failNext            error
}

func (f *fakeKeyboard) KeyDown(key int) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.downs = append(f.downs, key)
	return nil
}

func (f *fakeKeyboard) KeyUp(key int) error {
	f.ups = append(f.ups, key)
	return nil
}

func (f *fakeKeyboard) KeyPress(key int) error {
	f.presses = append(f.presses, key)
	return nil
}

func (f *fakeKeyboard) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitPressSendsKeyDown(t *testing.T) {
	fk := &fakeKeyboard{}
	s := &Sink{keyboard: fk, logger: discardLogger()}

	s.Emit(resolver.Event{Type: evcode.EV_KEY, Code: evcode.KEY_A, Value: evcode.ValuePress})
	assert.Equal(t, []int{int(evcode.KEY_A)}, fk.downs)
	assert.Empty(t, fk.ups)
}

func TestEmitReleaseSendsKeyUp(t *testing.T) {
	fk := &fakeKeyboard{}
	s := &Sink{keyboard: fk, logger: discardLogger()}

	s.Emit(resolver.Event{Type: evcode.EV_KEY, Code: evcode.KEY_A, Value: evcode.ValueRelease})
	assert.Equal(t, []int{int(evcode.KEY_A)}, fk.ups)
	assert.Empty(t, fk.downs)
}

func TestEmitRepeatReassertsKeyDown(t *testing.T) {
	fk := &fakeKeyboard{}
	s := &Sink{keyboard: fk, logger: discardLogger()}

	s.Emit(resolver.Event{Type: evcode.EV_KEY, Code: evcode.KEY_A, Value: evcode.ValueRepeat})
	assert.Equal(t, []int{int(evcode.KEY_A)}, fk.downs)
}

func TestEmitIgnoresNonKeyEvents(t *testing.T) {
	fk := &fakeKeyboard{}
	s := &Sink{keyboard: fk, logger: discardLogger()}

	s.Emit(resolver.Event{Type: evcode.EV_SYN, Code: evcode.SYN_REPORT})
	assert.Empty(t, fk.downs)
	assert.Empty(t, fk.ups)
	assert.Empty(t, fk.presses)
}

func TestEmitSwallowsKeyboardErrors(t *testing.T) {
	fk := &fakeKeyboard{failNext: errors.New("uinput write failed")}
	s := &Sink{keyboard: fk, logger: discardLogger()}

	// Must not panic; Emit has no error return, so failures are logged and
	// dropped rather than propagated to the resolver.
	require.NotPanics(t, func() {
		s.Emit(resolver.Event{Type: evcode.EV_KEY, Code: evcode.KEY_A, Value: evcode.ValuePress})
	})
}
