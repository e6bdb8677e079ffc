package serial

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestGetBaudRate(t *testing.T) {
	tests := []struct {
		input    int
		hasError bool
	}{
		{115200, false},
		{9600, false},
		{57600, false},
		{123456, true}, // Invalid baud rate
	}

	for _, test := range tests {
		result, err := getBaudRate(test.input)
		if test.hasError {
			if !errors.Is(err, ErrInvalidBaudRate) {
				t.Errorf("Expected ErrInvalidBaudRate for %d, got %v", test.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unexpected error for baud rate %d: %v", test.input, err)
		}
		if result == 0 {
			t.Errorf("Got zero result for valid baud rate %d", test.input)
		}
	}
}

func TestOpenNonExistentDevice(t *testing.T) {
	_, err := Open("/dev/nonexistent")
	if err == nil {
		t.Fatal("Expected error when opening non-existent device")
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestOpenInvalidOption(t *testing.T) {
	_, err := Open("/dev/nonexistent", WithDataBits(4))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestContextTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &port{path: "/dev/null"}

	if _, err := p.WriteContext(ctx, []byte("test")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from WriteContext, got %v", err)
	}
}

func TestClosedPort(t *testing.T) {
	p := &port{closed: true}

	_, err := p.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrPortClosed)
	_, err = p.Write([]byte("x"))
	require.ErrorIs(t, err, ErrPortClosed)
	require.ErrorIs(t, p.Close(), ErrPortClosed)
	require.ErrorIs(t, p.FlushInput(), ErrPortClosed)
}

func TestIsDisconnect(t *testing.T) {
	require.True(t, IsDisconnect(ErrPortClosed))
	require.True(t, IsDisconnect(os.NewSyscallError("read", unix.EIO)))
	require.False(t, IsDisconnect(nil))
	require.False(t, IsDisconnect(errors.New("parity error")))
}

// openPTY returns the master side of a pseudo terminal and a Port opened
// on its slave side.
func openPTY(t *testing.T) (*os.File, Port) {
	t.Helper()

	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { ptmx.Close() })

	p, err := Open(tty.Name(), WithReadTimeout(100*time.Millisecond), WithExclusive(false))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	// The port holds its own descriptor now
	require.NoError(t, tty.Close())
	return ptmx, p
}

func TestPortPTYRoundTrip(t *testing.T) {
	ptmx, p := openPTY(t)

	_, err := ptmx.Write([]byte("ping\n"))
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 5 && time.Now().Before(deadline) {
		n, err := p.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, "ping\n", string(got))

	n, err := p.Write([]byte("pong\n"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	out := make([]byte, 5)
	_, err = io.ReadFull(ptmx, out)
	require.NoError(t, err)
	require.Equal(t, "pong\n", string(out))
}

func TestPortReadTimeoutReturnsNoData(t *testing.T) {
	_, p := openPTY(t)

	start := time.Now()
	n, err := p.Read(make([]byte, 8))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestPortDetectsHangup(t *testing.T) {
	ptmx, p := openPTY(t)
	require.NoError(t, ptmx.Close())

	var err error
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		_, err = p.Read(make([]byte, 8))
	}
	require.Error(t, err)
	require.True(t, IsDisconnect(err), "unexpected error: %v", err)
}

func TestAbandonedWriteStillCompletesWhole(t *testing.T) {
	ptmx, p := openPTY(t)
	pp := p.(*port)

	// Hold the write lock so the first write cannot start before ctx ends
	pp.wmu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.WriteContext(ctx, []byte("first\n"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	second := make(chan error, 1)
	go func() {
		_, err := p.Write([]byte("second\n"))
		second <- err
	}()

	select {
	case <-second:
		t.Fatal("write ran while another write held the port")
	case <-time.After(50 * time.Millisecond):
	}
	pp.wmu.Unlock()
	require.NoError(t, <-second)

	out := make([]byte, len("first\nsecond\n"))
	_, err = io.ReadFull(ptmx, out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
	require.ElementsMatch(t, []string{"first", "second"}, lines)
}
