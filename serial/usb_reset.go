package serial

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// reenumerateDelay is how long a reset device usually takes to reappear
var reenumerateDelay = 2 * time.Second

// ResetUSBDevice performs a USB-level reset of the device behind portPath.
// This can recover an adapter that stopped responding without unplugging it.
//
// Requirements:
// - usbreset utility must be installed (from usbutils package)
// - Requires appropriate permissions (typically root/sudo)
//
// Returns:
// - nil if reset successful
// - ErrUSBResetNotAvailable if usbreset utility not found
// - ErrUSBInfoNotAvailable if device is not USB or metadata unavailable
// - error if reset fails or ctx is done
func ResetUSBDevice(ctx context.Context, portPath string) error {
	info, err := GetPortInfo(portPath)
	if err != nil {
		return fmt.Errorf("failed to get port info: %w", err)
	}

	if info.BusNumber == "" || info.DeviceNumber == "" {
		return ErrUSBInfoNotAvailable
	}

	if !IsUSBResetAvailable() {
		return ErrUSBResetNotAvailable
	}

	cmd := exec.CommandContext(ctx, "usbreset", formatUSBPath(info.BusNumber, info.DeviceNumber))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("usbreset failed: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	// Wait for device to re-enumerate
	timer := time.NewTimer(reenumerateDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetUSBDeviceBySerial resets a USB device by its serial number.
// Useful when device paths change after reboot or when multiple devices are connected.
func ResetUSBDeviceBySerial(ctx context.Context, serialNumber string) error {
	ports, err := ListPorts()
	if err != nil {
		return err
	}

	for _, portPath := range ports {
		info, err := GetPortInfo(portPath)
		if err != nil {
			continue
		}

		if info.SerialNumber == serialNumber {
			return ResetUSBDevice(ctx, portPath)
		}
	}

	return fmt.Errorf("%w: no device with serial %s", ErrDeviceNotFound, serialNumber)
}

// IsUSBResetAvailable checks if usbreset utility is available in PATH
func IsUSBResetAvailable() bool {
	_, err := exec.LookPath("usbreset")
	return err == nil
}

// formatUSBPath builds the BBB/DDD argument usbreset expects
func formatUSBPath(bus, device string) string {
	return zeroPad(bus) + "/" + zeroPad(device)
}

func zeroPad(s string) string {
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
