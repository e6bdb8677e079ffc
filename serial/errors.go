package serial

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Predefined error types for robust error handling
var (
	ErrDeviceNotFound   = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrDeviceInUse      = errors.New("serial device already in use")
	ErrInvalidBaudRate  = errors.New("invalid baud rate")
	ErrInvalidConfig    = errors.New("invalid serial configuration")
	ErrPortClosed       = errors.New("serial port is closed")

	// USB-related errors
	ErrUSBInfoNotAvailable  = errors.New("USB device information not available")
	ErrUSBResetNotAvailable = errors.New("usbreset utility not available")
)

// IsDisconnect reports whether err means the other end of the link went
// away (device unplugged, pty master closed, port closed locally) rather
// than a transient I/O failure.
func IsDisconnect(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, io.EOF),
		errors.Is(err, ErrPortClosed),
		errors.Is(err, unix.EIO),
		errors.Is(err, unix.ENXIO),
		errors.Is(err, unix.ENODEV):
		return true
	default:
		return false
	}
}

// openError maps errno values from open(2) to the package sentinels.
func openError(device string, err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, device)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: %s", ErrDeviceInUse, device)
	default:
		return fmt.Errorf("failed to open %s: %w", device, err)
	}
}
