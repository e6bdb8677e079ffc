package devlink

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

// TestManagerOverPTY runs the whole path through a real tty: termios
// setup, reads, writes and hangup detection.
func TestManagerOverPTY(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping pty test in short mode")
	}

	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	path := tty.Name()
	require.NoError(t, tty.Close())

	states := make(chan State, 256)
	enum := EnumeratorFunc(func(ctx context.Context) ([]Candidate, error) {
		return []Candidate{{Path: path, Descriptor: "Arduino (www.arduino.cc) Arduino Uno"}}, nil
	})

	m, err := New(
		WithEnumerator(enum),
		WithRetryDelay(50*time.Millisecond),
		WithReadTimeout(100*time.Millisecond),
		WithStateHook(func(_, to State) {
			select {
			case states <- to:
			default:
			}
		}),
	)
	require.NoError(t, err)
	sub := m.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitState := func(want State) {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case s := <-states:
				if s == want {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %s", want)
			}
		}
	}

	waitState(Connected)

	_, err = ptmx.Write([]byte("{\"light_level_current\":498}\r\n"))
	require.NoError(t, err)

	select {
	case msg := <-sub.C():
		require.Equal(t, json.Number("498"), msg["light_level_current"])
	case <-time.After(3 * time.Second):
		t.Fatal("no message decoded from the pty")
	}

	require.NoError(t, m.Send(ctx, map[string]any{"cmd": "on"}))
	out := make([]byte, len("{\"cmd\":\"on\"}\n"))
	_, err = io.ReadFull(ptmx, out)
	require.NoError(t, err)
	require.Equal(t, "{\"cmd\":\"on\"}\n", string(out))

	// Hang up the "device"
	require.NoError(t, ptmx.Close())
	waitState(Closed)

	cancel()
	select {
	case <-m.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}
