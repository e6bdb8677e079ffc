package devlink

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/allbin/go-devlink/serial"
)

const (
	DefaultBaudRate    = 9600
	DefaultDelimiter   = "\n"
	DefaultRetryDelay  = time.Second
	DefaultSignature   = "Arduino"
	DefaultReadTimeout = 200 * time.Millisecond
	DefaultBufferSize  = 64
)

// Opener opens the physical link to path. serial.Open is the default;
// tests substitute fakes or pseudo terminals.
type Opener func(path string, opts ...serial.Option) (serial.Port, error)

// StateHook is called from the Manager goroutine after every transition.
// It must not block.
type StateHook func(from, to State)

// Option configures a Manager.
type Option func(*options) error

type options struct {
	baudRate    int
	delimiter   string
	retryDelay  time.Duration
	selector    Selector
	enumerator  Enumerator
	opener      Opener
	readTimeout time.Duration
	serialOpts  []serial.Option
	logger      *zap.Logger
	stateHook   StateHook
	bufferSize  int
}

func defaultOptions() options {
	return options{
		baudRate:    DefaultBaudRate,
		delimiter:   DefaultDelimiter,
		retryDelay:  DefaultRetryDelay,
		selector:    Selector{Signature: DefaultSignature},
		enumerator:  SysfsEnumerator{},
		opener:      serial.Open,
		readTimeout: DefaultReadTimeout,
		logger:      zap.NewNop(),
		bufferSize:  DefaultBufferSize,
	}
}

// WithBaudRate sets the link speed.
func WithBaudRate(rate int) Option {
	return func(o *options) error {
		cfg := serial.DefaultConfig()
		if err := serial.WithBaudRate(rate)(&cfg); err != nil {
			return fmt.Errorf("%w: baud rate %d: %v", ErrInvalidConfig, rate, err)
		}
		o.baudRate = rate
		return nil
	}
}

// WithDelimiter sets the frame delimiter.
func WithDelimiter(delim string) Option {
	return func(o *options) error {
		if delim == "" {
			return fmt.Errorf("%w: empty delimiter", ErrInvalidConfig)
		}
		o.delimiter = delim
		return nil
	}
}

// WithRetryDelay sets the wait before every discovery scan.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("%w: retry delay must be positive, got %v", ErrInvalidConfig, d)
		}
		o.retryDelay = d
		return nil
	}
}

// WithSignature sets the descriptor substring that identifies the device.
func WithSignature(signature string) Option {
	return func(o *options) error {
		o.selector.Signature = signature
		return nil
	}
}

// WithPin restricts discovery to the endpoint at path.
func WithPin(path string) Option {
	return func(o *options) error {
		o.selector.Pin = path
		return nil
	}
}

func WithEnumerator(e Enumerator) Option {
	return func(o *options) error {
		if e == nil {
			return fmt.Errorf("%w: nil enumerator", ErrInvalidConfig)
		}
		o.enumerator = e
		return nil
	}
}

func WithOpener(open Opener) Option {
	return func(o *options) error {
		if open == nil {
			return fmt.Errorf("%w: nil opener", ErrInvalidConfig)
		}
		o.opener = open
		return nil
	}
}

// WithReadTimeout sets how long a single read waits for data. It bounds
// how quickly the reader notices a closed link and must be a multiple of
// 100ms.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) error {
		cfg := serial.DefaultConfig()
		if d == 0 || serial.WithReadTimeout(d)(&cfg) != nil {
			return fmt.Errorf("%w: read timeout %v", ErrInvalidConfig, d)
		}
		o.readTimeout = d
		return nil
	}
}

// WithSerialOptions appends port options such as parity or data bits.
// Baud rate and read timeout are always taken from the Manager options.
func WithSerialOptions(opts ...serial.Option) Option {
	return func(o *options) error {
		cfg := serial.DefaultConfig()
		for _, opt := range opts {
			if err := opt(&cfg); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
		}
		o.serialOpts = append(o.serialOpts, opts...)
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		o.logger = logger
		return nil
	}
}

func WithStateHook(hook StateHook) Option {
	return func(o *options) error {
		o.stateHook = hook
		return nil
	}
}

// WithBufferSize sets the per-subscriber channel buffer. Delivery waits
// for a full subscriber, and the link state machine waits with it: close
// and error detection and Send are stalled until the subscriber drains.
func WithBufferSize(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return fmt.Errorf("%w: negative buffer size", ErrInvalidConfig)
		}
		o.bufferSize = n
		return nil
	}
}

// portOptions returns the options passed to the Opener.
func (o options) portOptions() []serial.Option {
	opts := make([]serial.Option, 0, len(o.serialOpts)+2)
	opts = append(opts, o.serialOpts...)
	return append(opts, serial.WithBaudRate(o.baudRate), serial.WithReadTimeout(o.readTimeout))
}
