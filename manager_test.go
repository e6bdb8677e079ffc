package devlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/allbin/go-devlink/serial"
)

const testRetryDelay = 20 * time.Millisecond

// fakePort is a serial.Port whose inbound side is fed through an io.Pipe
// held by the test as the "device".
type fakePort struct {
	path   string
	r      *io.PipeReader
	device *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

var _ serial.Port = (*fakePort)(nil)

func newFakePort(path string) *fakePort {
	r, w := io.Pipe()
	return &fakePort{path: path, r: r, device: w}
}

func (p *fakePort) Read(buf []byte) (int, error) { return p.r.Read(buf) }

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, serial.ErrPortClosed
	}
	return p.written.Write(data)
}

func (p *fakePort) WriteContext(_ context.Context, data []byte) (int, error) { return p.Write(data) }

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return serial.ErrPortClosed
	}
	p.closed = true
	return p.r.CloseWithError(serial.ErrPortClosed)
}

func (p *fakePort) FlushInput() error { return nil }
func (p *fakePort) Path() string      { return p.path }

func (p *fakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *fakePort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// transition is recorded by the state hook, which runs after the status
// snapshot is published, so target is the snapshot of that transition.
type transition struct {
	from, to State
	target   string
	at       time.Time
}

// harness runs a Manager against a scripted enumerator and opener.
type harness struct {
	t           *testing.T
	m           *Manager
	transitions chan transition
	ports       chan *fakePort
	scans       atomic.Int32
	opens       atomic.Int32

	mu         sync.Mutex
	scanTimes  []time.Time
	candidates []Candidate
	scanErr    error
	openErr    error

	cancel context.CancelFunc
	runErr chan error
}

func newHarness(t *testing.T, candidates []Candidate, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:           t,
		transitions: make(chan transition, 1024),
		ports:       make(chan *fakePort, 16),
		candidates:  candidates,
		runErr:      make(chan error, 1),
	}

	enum := EnumeratorFunc(func(ctx context.Context) ([]Candidate, error) {
		h.scans.Add(1)
		h.mu.Lock()
		defer h.mu.Unlock()
		h.scanTimes = append(h.scanTimes, time.Now())
		if h.scanErr != nil {
			return nil, h.scanErr
		}
		return append([]Candidate(nil), h.candidates...), nil
	})

	opener := func(path string, _ ...serial.Option) (serial.Port, error) {
		h.opens.Add(1)
		h.mu.Lock()
		err := h.openErr
		h.mu.Unlock()
		if err != nil {
			return nil, err
		}
		p := newFakePort(path)
		h.ports <- p
		return p, nil
	}

	base := []Option{
		WithEnumerator(enum),
		WithOpener(opener),
		WithRetryDelay(testRetryDelay),
		WithStateHook(func(from, to State) {
			select {
			case h.transitions <- transition{from: from, to: to, target: h.m.Status().Target, at: time.Now()}:
			default:
			}
		}),
	}

	m, err := New(append(base, opts...)...)
	require.NoError(t, err)
	h.m = m
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.m.Run(ctx) }()
	h.t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.runErr:
		require.NoError(h.t, err)
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return after cancel")
	}
}

func (h *harness) set(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f()
}

// waitFor consumes transitions until one enters want.
func (h *harness) waitFor(want State) transition {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case tr := <-h.transitions:
			if tr.to == Connected {
				require.Equal(h.t, Discovered, tr.from, "Connected must be entered from Discovered")
			}
			if tr.to == want {
				return tr
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for state %s (now %s)", want, h.m.Status().State)
			return transition{}
		}
	}
}

// firstScanAfter waits for the first scan started after t.
func (h *harness) firstScanAfter(t time.Time) time.Time {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		for _, at := range h.scanTimes {
			if !at.Before(t) {
				h.mu.Unlock()
				return at
			}
		}
		h.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	h.t.Fatal("no scan followed")
	return time.Time{}
}

// requireRetryAfter checks that the next scan waited one retry delay after
// tr, and not much longer.
func (h *harness) requireRetryAfter(tr transition) {
	h.t.Helper()
	gap := h.firstScanAfter(tr.at).Sub(tr.at)
	require.GreaterOrEqual(h.t, gap, testRetryDelay-2*time.Millisecond, "rescan came before the retry delay")
	require.Less(h.t, gap, testRetryDelay+500*time.Millisecond, "rescan did not follow the retry delay")
}

func (h *harness) nextPort() *fakePort {
	h.t.Helper()
	select {
	case p := <-h.ports:
		return p
	case <-time.After(2 * time.Second):
		h.t.Fatal("no port was opened")
		return nil
	}
}

var referenceCandidates = []Candidate{
	{Path: "COM1", Descriptor: "FTDI"},
	{Path: "COM2", Descriptor: "Arduino Uno"},
}

func TestManagerConnectsToMatchingDevice(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	h.start()

	p := h.nextPort()
	require.Equal(t, "COM2", p.Path())

	tr := h.waitFor(Discovered)
	require.Equal(t, "COM2", tr.target)
	h.waitFor(Connected)
	st := h.m.Status()
	require.Equal(t, Connected, st.State)
	require.Equal(t, "COM2", st.Target)
	require.Zero(t, st.Attempts)
}

func TestManagerEmitsDecodedMessages(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	sub := h.m.Subscribe()
	h.start()

	p := h.nextPort()
	h.waitFor(Connected)

	_, err := p.device.Write([]byte("{\"temp\":21}\n"))
	require.NoError(t, err)

	select {
	case msg := <-sub.C():
		require.Equal(t, json.Number("21"), msg["temp"])
		require.Len(t, msg, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no message emitted")
	}

	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected second message %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, Connected, h.m.Status().State)
}

func TestManagerPreservesOrderAcrossChunks(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	sub := h.m.Subscribe()
	h.start()

	p := h.nextPort()
	h.waitFor(Connected)

	for _, chunk := range []string{"{\"n\":1}\n{\"n\"", ":2}\n", "{\"n\":3}\n"} {
		_, err := p.device.Write([]byte(chunk))
		require.NoError(t, err)
	}

	for want := 1; want <= 3; want++ {
		select {
		case msg := <-sub.C():
			require.Equal(t, json.Number(string(rune('0'+want))), msg["n"])
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not emitted", want)
		}
	}
}

func TestManagerDropsMalformedLines(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	sub := h.m.Subscribe()
	h.start()

	p := h.nextPort()
	h.waitFor(Connected)

	_, err := p.device.Write([]byte("not json\n[1,2]\n\n{\"ok\":true}\n"))
	require.NoError(t, err)

	select {
	case msg := <-sub.C():
		require.Equal(t, true, msg["ok"])
	case <-time.After(2 * time.Second):
		t.Fatal("valid line after malformed ones was not emitted")
	}

	require.Equal(t, Connected, h.m.Status().State)
	select {
	case tr := <-h.transitions:
		t.Fatalf("malformed input caused transition %s -> %s", tr.from, tr.to)
	default:
	}
}

func TestManagerPeerCloseRediscovers(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	h.start()

	first := h.nextPort()
	h.waitFor(Connected)
	scans := h.scans.Load()

	require.NoError(t, first.device.Close())

	tr := h.waitFor(Closed)
	require.Equal(t, Connected, tr.from)
	require.Empty(t, tr.target, "target must be cleared on close")
	require.True(t, first.IsClosed(), "port should be released on close")
	h.requireRetryAfter(tr)

	h.waitFor(Discovered)
	require.Greater(t, h.scans.Load(), scans, "a new scan must follow the close")

	second := h.nextPort()
	require.Equal(t, "COM2", second.Path())
	h.waitFor(Connected)
}

func TestManagerReadErrorEntersError(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	h.start()

	p := h.nextPort()
	h.waitFor(Connected)

	require.NoError(t, p.device.CloseWithError(errors.New("framing error")))

	tr := h.waitFor(Error)
	require.Equal(t, Connected, tr.from)
	require.Empty(t, tr.target, "target must be cleared on error")
	require.True(t, p.IsClosed())
	h.requireRetryAfter(tr)

	// Retry goes through a fresh scan
	h.waitFor(Discovered)
	h.waitFor(Connected)
}

func TestManagerFullSubscriberStallsLink(t *testing.T) {
	h := newHarness(t, referenceCandidates, WithBufferSize(0))
	sub := h.m.Subscribe()
	h.start()

	p := h.nextPort()
	h.waitFor(Connected)

	_, err := p.device.Write([]byte("{\"n\":1}\n"))
	require.NoError(t, err)
	require.NoError(t, p.device.Close())

	// The close is not handled while the message is undelivered
	time.Sleep(5 * testRetryDelay)
	require.Equal(t, Connected, h.m.Status().State)

	select {
	case msg := <-sub.C():
		require.Equal(t, json.Number("1"), msg["n"])
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
	h.waitFor(Closed)
}

func TestManagerNoDeviceKeepsScanning(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	tr := h.waitFor(Disconnected)
	require.Equal(t, Disconnected, tr.from)
	require.Empty(t, tr.target)
	h.requireRetryAfter(h.waitFor(Disconnected))

	require.GreaterOrEqual(t, h.scans.Load(), int32(2))
	require.Zero(t, h.opens.Load())
	require.GreaterOrEqual(t, h.m.Status().Attempts, 2)
}

func TestManagerDiscoveryErrorRetries(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	h.set(func() { h.scanErr = errors.New("udev unavailable") })
	h.start()

	h.waitFor(Error)
	h.set(func() { h.scanErr = nil })

	h.waitFor(Discovered)
	h.waitFor(Connected)
	require.GreaterOrEqual(t, h.scans.Load(), int32(2))
}

func TestManagerOpenFailureRescans(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	h.set(func() { h.openErr = serial.ErrDeviceInUse })
	h.start()

	tr := h.waitFor(Error)
	require.Equal(t, Discovered, tr.from)
	require.Empty(t, tr.target)
	scans := h.scans.Load()

	h.waitFor(Discovered)
	require.Greater(t, h.scans.Load(), scans, "open failure must be retried through discovery")
}

func TestManagerRespectsPin(t *testing.T) {
	candidates := []Candidate{
		{Path: "/dev/ttyACM0", Descriptor: "Arduino Uno"},
		{Path: "/dev/ttyACM1", Descriptor: "Arduino Mega"},
	}
	h := newHarness(t, candidates, WithPin("/dev/ttyACM1"))
	h.start()

	p := h.nextPort()
	require.Equal(t, "/dev/ttyACM1", p.Path())
	h.waitFor(Connected)

	// Pinned device vanishes: the other Arduino is never taken
	h.set(func() { h.candidates = candidates[:1] })
	require.NoError(t, p.device.Close())
	h.waitFor(Closed)
	h.waitFor(Disconnected)
	require.Equal(t, int32(1), h.opens.Load())
}

func TestManagerSend(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	h.start()

	p := h.nextPort()
	h.waitFor(Connected)

	require.NoError(t, h.m.Send(context.Background(), map[string]any{"cmd": "on"}))
	require.Equal(t, "{\"cmd\":\"on\"}\n", p.Written())
}

func TestManagerSendWhileDisconnected(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.waitFor(Disconnected)

	err := h.m.Send(context.Background(), map[string]any{"cmd": "on"})
	require.ErrorIs(t, err, ErrNotConnected)
	require.Zero(t, h.opens.Load())
}

func TestManagerSendEncodeFailure(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	h.start()

	p := h.nextPort()
	h.waitFor(Connected)

	err := h.m.Send(context.Background(), map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	require.Empty(t, p.Written())
	require.Equal(t, Connected, h.m.Status().State)
}

func TestManagerStop(t *testing.T) {
	h := newHarness(t, referenceCandidates)
	sub := h.m.Subscribe()
	h.start()

	p := h.nextPort()
	h.waitFor(Connected)

	h.stop()

	require.Equal(t, Stopped, h.m.Status().State)
	require.True(t, p.IsClosed())

	_, ok := <-sub.C()
	require.False(t, ok, "subscription should be closed after Run returns")

	require.ErrorIs(t, h.m.Send(context.Background(), map[string]any{}), ErrStopped)
	require.ErrorIs(t, h.m.Run(context.Background()), ErrAlreadyRunning)

	// Nothing is rescheduled after stopping
	scans := h.scans.Load()
	time.Sleep(3 * testRetryDelay)
	require.Equal(t, scans, h.scans.Load())
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"baud", WithBaudRate(1234)},
		{"delimiter", WithDelimiter("")},
		{"retry delay", WithRetryDelay(0)},
		{"read timeout", WithReadTimeout(150 * time.Millisecond)},
		{"zero read timeout", WithReadTimeout(0)},
		{"nil enumerator", WithEnumerator(nil)},
		{"nil opener", WithOpener(nil)},
		{"buffer", WithBufferSize(-1)},
		{"serial option", WithSerialOptions(serial.WithDataBits(9))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
