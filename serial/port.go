package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Port is an open serial link. Read returns 0, nil when the read timeout
// elapses, so a reader loop can notice shutdown between bytes.
type Port interface {
	io.ReadWriteCloser
	WriteContext(ctx context.Context, data []byte) (int, error)
	FlushInput() error
	Path() string
}

// port is the concrete implementation of the Port interface
type port struct {
	mu     sync.RWMutex
	wmu    sync.Mutex // one Write at a time, so lines never interleave
	fd     int
	path   string
	config Config
	closed bool
}

// Ensure port implements Port interface at compile time
var _ Port = (*port)(nil)

// baudRates maps the supported rates to their termios speed constants
var baudRates = map[int]uint32{
	50: unix.B50, 75: unix.B75, 110: unix.B110, 134: unix.B134,
	150: unix.B150, 200: unix.B200, 300: unix.B300, 600: unix.B600,
	1200: unix.B1200, 1800: unix.B1800, 2400: unix.B2400, 4800: unix.B4800,
	9600: unix.B9600, 19200: unix.B19200, 38400: unix.B38400, 57600: unix.B57600,
	115200: unix.B115200, 230400: unix.B230400, 460800: unix.B460800,
	500000: unix.B500000, 576000: unix.B576000, 921600: unix.B921600,
	1000000: unix.B1000000, 1152000: unix.B1152000, 1500000: unix.B1500000,
	2000000: unix.B2000000, 2500000: unix.B2500000, 3000000: unix.B3000000,
	3500000: unix.B3500000, 4000000: unix.B4000000,
}

func getBaudRate(rate int) (uint32, error) {
	speed, ok := baudRates[rate]
	if !ok {
		return 0, ErrInvalidBaudRate
	}
	return speed, nil
}

// Open opens a serial port with the given device path and options
func Open(device string, opts ...Option) (Port, error) {
	// Apply default configuration
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, err
		}
	}

	// O_NONBLOCK keeps open(2) from waiting on carrier detect; it is
	// cleared again once termios is configured.
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, openError(device, err)
	}

	if err := configurePort(fd, config); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to clear O_NONBLOCK: %w", err)
	}

	if config.Exclusive {
		if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("%w: %s: %v", ErrDeviceInUse, device, err)
		}
	}

	return &port{
		fd:     fd,
		path:   device,
		config: config,
	}, nil
}

// configurePort puts the tty into raw mode with the requested framing
func configurePort(fd int, config Config) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %w", err)
	}

	termios.Cflag = unix.CREAD | unix.CLOCAL
	termios.Iflag = 0 // No input processing
	termios.Oflag = 0 // No output processing
	termios.Lflag = 0 // No line processing (raw mode)

	// VMIN=0: a read returns as soon as any byte arrives, or after VTIME
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = config.readTimeoutTenths()

	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return err
	}
	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | baudRate
	termios.Ispeed = baudRate
	termios.Ospeed = baudRate

	switch config.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	default:
		termios.Cflag |= unix.CS8
	}

	if config.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	switch config.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %w", err)
	}

	return nil
}

// Path returns the device path the port was opened with
func (p *port) Path() string {
	return p.path
}

// Close closes the serial port
func (p *port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}

	err := unix.Close(p.fd)
	p.closed = true
	return err
}

// Read reads data from the serial port. It returns 0, nil when the read
// timeout elapses without data and io.EOF once the device node is gone.
func (p *port) Read(buf []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	n, err := unix.Read(p.fd, buf)
	if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n == 0 && p.hungUp() {
		return 0, io.EOF
	}
	return n, nil
}

// hungUp reports whether the tty went away underneath us. An unplugged
// adapter or a closed pty master keeps returning zero-length reads, which
// look exactly like a VTIME expiry unless the node or the fd is checked.
func (p *port) hungUp() bool {
	if _, err := os.Stat(p.path); err != nil {
		return true
	}
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil || n == 0 {
		return false
	}
	return fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
}

// Write writes data to the serial port
func (p *port) Write(data []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	written := 0
	for written < len(data) {
		n, err := unix.Write(p.fd, data[written:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// WriteContext writes data with context timeout support. When ctx ends
// first the write still completes in the background, and later writes
// wait for it.
func (p *port) WriteContext(ctx context.Context, data []byte) (int, error) {
	// Check if context is already cancelled
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	type writeResult struct {
		n   int
		err error
	}
	resultCh := make(chan writeResult, 1)

	go func() {
		n, err := p.Write(data)
		resultCh <- writeResult{n: n, err: err}
	}()

	select {
	case result := <-resultCh:
		return result.n, result.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// FlushInput discards any unread input data
func (p *port) FlushInput() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}

	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIFLUSH)
}
