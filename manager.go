package devlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/allbin/go-devlink/frame"
	"github.com/allbin/go-devlink/serial"
)

const readBufferSize = 4096

// Events posted to the Run goroutine by its helpers. Link events carry
// the generation of the link they belong to; anything from an older
// generation is dropped.
type (
	scanResult struct {
		candidate Candidate
		found     bool
		err       error
	}
	opened struct {
		gen  uint64
		port serial.Port
		err  error
	}
	received struct {
		gen  uint64
		data []byte
	}
	linkClosed struct {
		gen uint64
		err error
	}
	linkFailed struct {
		gen uint64
		err error
	}
)

type sendRequest struct {
	ctx   context.Context
	data  []byte
	reply chan error
}

// Manager keeps a link to a single serial device alive. It discovers the
// device, opens it, decodes the line-delimited JSON it sends and
// rediscovers it after every failure, until the context given to Run is
// cancelled.
type Manager struct {
	opts    options
	log     *zap.Logger
	emitter *Emitter

	events  chan any
	sends   chan sendRequest
	done    chan struct{}
	started atomic.Bool
	wg      sync.WaitGroup

	mu     sync.RWMutex
	status Snapshot

	// Owned by the Run goroutine
	state    State
	target   Candidate
	port     serial.Port
	gen      uint64
	splitter *frame.Splitter
	timer    *time.Timer
	attempts int
}

// New builds a Manager. Nothing is opened until Run is called.
func New(opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		opts:     o,
		log:      o.logger,
		emitter:  NewEmitter(o.bufferSize),
		events:   make(chan any, 16),
		sends:    make(chan sendRequest),
		done:     make(chan struct{}),
		state:    Disconnected,
		splitter: frame.NewSplitter(o.delimiter),
	}
	m.status = Snapshot{State: Disconnected, Since: time.Now()}
	return m, nil
}

// Subscribe returns a subscription to every message decoded from now on.
func (m *Manager) Subscribe() *Subscription {
	return m.emitter.Subscribe()
}

// Status returns a copy of the current state.
func (m *Manager) Status() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Done is closed when Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Run drives the link until ctx is cancelled, then closes the port and
// every subscription and returns nil. Discovery and link failures are
// logged and retried; they never end Run.
func (m *Manager) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	m.timer = time.NewTimer(m.opts.retryDelay)
	defer m.timer.Stop()

	m.log.Debug("link manager started",
		zap.String("signature", m.opts.selector.Signature),
		zap.String("pin", m.opts.selector.Pin),
		zap.Duration("retry_delay", m.opts.retryDelay))

	for {
		select {
		case <-ctx.Done():
			m.stop()
			return nil
		case <-m.timer.C:
			m.scan(ctx)
		case ev := <-m.events:
			m.handle(ctx, ev)
		case req := <-m.sends:
			req.reply <- m.write(req)
		}
	}
}

// Send encodes v as one line and writes it to the device. It returns
// ErrNotConnected without writing anything unless the link is up, and
// ErrStopped once Run has returned.
func (m *Manager) Send(ctx context.Context, v any) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}

	data, err := frame.Encode(v, m.opts.delimiter)
	if err != nil {
		m.log.Warn("dropping outbound message", zap.Error(err))
		return err
	}

	if m.Status().State != Connected {
		return ErrNotConnected
	}

	req := sendRequest{ctx: ctx, data: data, reply: make(chan error, 1)}
	select {
	case m.sends <- req:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands ev to the Run goroutine. It fails once Run is shutting down.
func (m *Manager) post(ctx context.Context, ev any) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) scan(ctx context.Context) {
	if !m.state.idle() {
		return
	}

	m.attempts++
	m.publishStatus()
	m.log.Info("looking for a serial port with a matching device", zap.Int("attempt", m.attempts))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		candidates, err := m.opts.enumerator.ListCandidates(ctx)
		res := scanResult{err: err}
		if err == nil {
			res.candidate, res.found = Select(candidates, m.opts.selector)
		}
		m.post(ctx, res)
	}()
}

func (m *Manager) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case scanResult:
		m.handleScan(ctx, ev)
	case opened:
		m.handleOpened(ctx, ev)
	case received:
		if ev.gen != m.gen || m.state != Connected {
			return
		}
		m.handleData(ctx, ev.data)
	case linkClosed:
		if ev.gen != m.gen || m.state != Connected {
			return
		}
		m.log.Info("serial link closed", zap.String("port", m.target.Path), zap.Error(ev.err))
		m.transition(Closed)
	case linkFailed:
		if ev.gen != m.gen || m.state != Connected {
			return
		}
		m.log.Warn("serial link failed",
			zap.String("port", m.target.Path),
			zap.Error(fmt.Errorf("%w: %v", ErrLinkRuntime, ev.err)))
		m.transition(Error)
	}
}

func (m *Manager) handleScan(ctx context.Context, res scanResult) {
	if !m.state.idle() {
		return
	}

	switch {
	case res.err != nil:
		err := res.err
		if !errors.Is(err, ErrDiscovery) {
			err = fmt.Errorf("%w: %v", ErrDiscovery, err)
		}
		m.log.Warn("port enumeration failed", zap.Error(err))
		m.transition(Error)
	case !res.found:
		m.log.Info("no device found", zap.Error(ErrNoDevice))
		m.transition(Disconnected)
	default:
		m.log.Info("device found on port",
			zap.String("port", res.candidate.Path),
			zap.String("descriptor", res.candidate.Descriptor))
		m.target = res.candidate
		m.transition(Discovered)
		m.open(ctx)
	}
}

func (m *Manager) open(ctx context.Context) {
	m.gen++
	gen, path := m.gen, m.target.Path

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		port, err := m.opts.opener(path, m.opts.portOptions()...)
		if !m.post(ctx, opened{gen: gen, port: port, err: err}) && port != nil {
			port.Close()
		}
	}()
}

func (m *Manager) handleOpened(ctx context.Context, ev opened) {
	if ev.gen != m.gen || m.state != Discovered {
		if ev.port != nil {
			ev.port.Close()
		}
		return
	}

	if ev.err != nil {
		m.log.Warn("failed to open serial link",
			zap.String("port", m.target.Path),
			zap.Error(fmt.Errorf("%w: %v", ErrLinkOpen, ev.err)))
		m.transition(Error)
		return
	}

	// Drop whatever the device sent before we were listening
	if err := ev.port.FlushInput(); err != nil {
		m.log.Debug("failed to flush input", zap.Error(err))
	}

	m.port = ev.port
	m.splitter.Reset()
	m.attempts = 0
	m.transition(Connected)
	m.log.Info("serial link open", zap.String("port", m.target.Path), zap.Int("baud", m.opts.baudRate))

	m.wg.Add(1)
	go m.read(ctx, ev.gen, ev.port)
}

// read forwards everything from port until it fails. Data and the final
// close/fail event travel on the same channel, so they stay in order.
func (m *Manager) read(ctx context.Context, gen uint64, port serial.Port) {
	defer m.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !m.post(ctx, received{gen: gen, data: data}) {
				return
			}
		}
		if err != nil {
			if serial.IsDisconnect(err) {
				m.post(ctx, linkClosed{gen: gen, err: err})
			} else {
				m.post(ctx, linkFailed{gen: gen, err: err})
			}
			return
		}
	}
}

func (m *Manager) handleData(ctx context.Context, data []byte) {
	lines, err := m.splitter.Feed(data)
	if err != nil {
		m.log.Warn("invalid data received", zap.String("port", m.target.Path), zap.Error(err))
	}

	for _, line := range lines {
		msg, err := frame.Decode(line)
		if errors.Is(err, frame.ErrEmptyLine) {
			continue
		}
		if err != nil {
			m.log.Warn("invalid data received",
				zap.String("port", m.target.Path),
				zap.ByteString("line", line),
				zap.Error(err))
			continue
		}
		if err := m.emitter.Emit(ctx, msg); err != nil {
			return
		}
	}
}

func (m *Manager) write(req sendRequest) error {
	if m.state != Connected || m.port == nil {
		return ErrNotConnected
	}

	_, err := m.port.WriteContext(req.ctx, req.data)
	if err == nil {
		return nil
	}
	if req.ctx.Err() != nil {
		return err
	}

	err = fmt.Errorf("%w: %v", ErrLinkRuntime, err)
	m.log.Warn("serial link failed", zap.String("port", m.target.Path), zap.Error(err))
	m.transition(Error)
	return err
}

// transition is the only place the state changes. Entering an idle state
// releases the link and arms the discovery timer.
func (m *Manager) transition(to State) {
	from := m.state
	m.state = to

	switch to {
	case Disconnected, Closed, Error:
		m.target = Candidate{}
		m.closePort()
		m.timer.Reset(m.opts.retryDelay)
	case Stopped:
		m.timer.Stop()
		m.target = Candidate{}
		m.closePort()
	}

	m.publishStatus()
	m.log.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))

	if m.opts.stateHook != nil {
		m.opts.stateHook(from, to)
	}
}

func (m *Manager) closePort() {
	if m.port == nil {
		return
	}

	// Anything the old reader still posts is now stale
	m.gen++
	if err := m.port.Close(); err != nil && !errors.Is(err, serial.ErrPortClosed) {
		m.log.Debug("failed to close port", zap.Error(err))
	}
	m.port = nil
	m.splitter.Reset()
}

func (m *Manager) publishStatus() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.State != m.state {
		m.status.Since = time.Now()
	}
	m.status.State = m.state
	m.status.Target = m.target.Path
	m.status.Attempts = m.attempts
}

func (m *Manager) stop() {
	m.transition(Stopped)
	m.emitter.Close()
	close(m.done)
	m.wg.Wait()

	// A helper may have queued an open port just before the shutdown
	for {
		select {
		case ev := <-m.events:
			if o, ok := ev.(opened); ok && o.port != nil {
				o.port.Close()
			}
		default:
			m.log.Debug("link manager stopped")
			return
		}
	}
}
