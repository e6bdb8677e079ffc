package serial

import "time"

// Config holds the configuration for a serial port
type Config struct {
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      Parity
	ReadTimeout time.Duration // VTIME, in steps of 100ms (0-25.5s)
	Exclusive   bool          // TIOCEXCL: refuse further opens of the same tty
}

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// ParseParity accepts "none", "odd" or "even" (also "n", "o", "e").
func ParseParity(s string) (Parity, error) {
	switch s {
	case "", "none", "n", "N":
		return ParityNone, nil
	case "odd", "o", "O":
		return ParityOdd, nil
	case "even", "e", "E":
		return ParityEven, nil
	default:
		return ParityNone, ErrInvalidConfig
	}
}

func (p Parity) String() string {
	switch p {
	case ParityOdd:
		return "O"
	case ParityEven:
		return "E"
	default:
		return "N"
	}
}

// Option is a functional option for configuring a serial port
type Option func(*Config) error

// maxReadTimeout is the largest value VTIME can express (255 tenths).
const maxReadTimeout = 25500 * time.Millisecond

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaudRate:    9600,
		DataBits:    8,
		StopBits:    1,
		Parity:      ParityNone,
		ReadTimeout: 2500 * time.Millisecond,
		Exclusive:   true,
	}
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *Config) error {
		if _, err := getBaudRate(rate); err != nil {
			return err
		}
		c.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *Config) error {
		if bits < 5 || bits > 8 {
			return ErrInvalidConfig
		}
		c.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *Config) error {
		if bits != 1 && bits != 2 {
			return ErrInvalidConfig
		}
		c.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *Config) error {
		c.Parity = parity
		return nil
	}
}

// WithReadTimeout sets how long a Read waits for the first byte before
// returning 0 bytes. The value must be a multiple of 100ms no larger
// than 25.5s; 0 makes reads non-blocking.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 || timeout > maxReadTimeout || timeout%(100*time.Millisecond) != 0 {
			return ErrInvalidConfig
		}
		c.ReadTimeout = timeout
		return nil
	}
}

// WithExclusive controls whether the port is locked with TIOCEXCL after open.
func WithExclusive(exclusive bool) Option {
	return func(c *Config) error {
		c.Exclusive = exclusive
		return nil
	}
}

// readTimeoutTenths converts ReadTimeout into a VTIME value.
func (c Config) readTimeoutTenths() uint8 {
	return uint8(c.ReadTimeout / (100 * time.Millisecond))
}
