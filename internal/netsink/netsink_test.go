package netsink

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexroni/keytap/internal/evcode"
	"github.com/rexroni/keytap/internal/resolver"
	"github.com/rexroni/keytap/internal/timeutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServeAcceptEmitRoundTripTCP(t *testing.T) {
	ln, err := Serve("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Sink, 1)
	go func() {
		sink, err := ln.Accept(discardLogger())
		require.NoError(t, err)
		accepted <- sink
	}()

	src, err := Connect("tcp", ln.Addr().String(), discardLogger())
	require.NoError(t, err)
	defer src.Close()

	sink := <-accepted
	defer sink.Close()

	want := resolver.Event{
		Type:  evcode.EV_KEY,
		Code:  evcode.KEY_A,
		Value: evcode.ValuePress,
		Time:  timeutil.Timestamp{Sec: 100, Usec: 200},
	}
	sink.Emit(want)

	got, err := src.ReadOne()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUnixSocketLockRejectsSecondInstance(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "keytap.sock")

	first, err := Serve("unix", sockPath)
	require.NoError(t, err)
	defer first.Close()

	_, err = Serve("unix", sockPath)
	assert.Error(t, err, "a second Serve on the same socket path must fail the lock")
}

func TestConnectFailsWhenNothingListening(t *testing.T) {
	_, err := Connect("tcp", "127.0.0.1:1", discardLogger())
	assert.Error(t, err)
}

func TestSourceReadOneSkipsMalformedLines(t *testing.T) {
	ln, err := Serve("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConn := make(chan struct{})
	go func() {
		conn, err := ln.Listener.Accept()
		require.NoError(t, err)
		defer conn.Close()
		_, _ = conn.Write([]byte("garbage not a wire line\n"))
		_, _ = conn.Write([]byte("1:1:30:5:6\n"))
		close(serverConn)
	}()

	src, err := Connect("tcp", ln.Addr().String(), discardLogger())
	require.NoError(t, err)
	defer src.Close()

	got, err := src.ReadOne()
	require.NoError(t, err)
	assert.Equal(t, resolver.Event{
		Type: evcode.EV_KEY, Code: evcode.KEY_A, Value: evcode.ValuePress,
		Time: timeutil.Timestamp{Sec: 5, Usec: 6},
	}, got)

	select {
	case <-serverConn:
	case <-time.After(2 * time.Second):
		t.Fatal("server goroutine did not finish writing")
	}
}
