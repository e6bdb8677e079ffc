/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/serial"
)

const resetTimeout = 30 * time.Second

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset [port]",
	Short: "Reset the USB serial device",
	Long: `Perform a USB-level reset on a serial device. This can recover devices
that are hung or unresponsive without physically unplugging them.

Without arguments the device the link would connect to (current signature
and pin) is reset. A port path or --serial picks another device.

The device will re-enumerate after reset, which may cause the port path
to change (e.g., /dev/ttyUSB0 might become /dev/ttyUSB1). A running link
finds it again on its next discovery attempt.

Requirements:
- usbreset utility must be installed (from usbutils package)
- Root/sudo permissions required for USB operations

Examples:
  sudo devlink reset                       # Reset the matched device
  sudo devlink reset /dev/ttyUSB0          # Reset by port path
  sudo devlink reset --serial NC7ILXW1     # Reset by serial number`,
	Args: func(cmd *cobra.Command, args []string) error {
		serialFlag, _ := cmd.Flags().GetString("serial")
		if serialFlag != "" && len(args) > 0 {
			return errors.New("cannot specify both port path and --serial flag")
		}
		return cobra.MaximumNArgs(1)(cmd, args)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if !serial.IsUSBResetAvailable() {
			fmt.Fprintln(os.Stderr, "Error: usbreset utility not available")
			fmt.Fprintln(os.Stderr, "Install with: sudo apt-get install usbutils")
			os.Exit(1)
		}

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, resetTimeout)
		defer cancel()

		serialFlag, _ := cmd.Flags().GetString("serial")
		switch {
		case serialFlag != "":
			fmt.Printf("Resetting USB device with serial: %s\n", serialFlag)
			err = serial.ResetUSBDeviceBySerial(ctx, serialFlag)
		case len(args) == 1:
			fmt.Printf("Resetting USB device: %s\n", args[0])
			err = serial.ResetUSBDevice(ctx, args[0])
		default:
			err = resetMatched(ctx, cfg.Link.Enumerator, devlink.Selector{
				Signature: cfg.Link.Signature,
				Pin:       cfg.Link.Pin,
			})
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if errors.Is(err, serial.ErrUSBInfoNotAvailable) {
				fmt.Fprintln(os.Stderr, "This device does not appear to be a USB device")
			}
			os.Exit(1)
		}

		fmt.Println("USB device reset successfully")
		fmt.Println("Device will re-enumerate (port path may change)")
		fmt.Println("\nUse 'devlink ports --table' to see updated device list")
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().String("serial", "", "Reset device by serial number")
}

func resetMatched(ctx context.Context, enumeratorName string, sel devlink.Selector) error {
	enumerator, err := devlink.NewEnumerator(enumeratorName)
	if err != nil {
		return err
	}
	candidates, err := enumerator.ListCandidates(ctx)
	if err != nil {
		return err
	}

	c, ok := devlink.Select(candidates, sel)
	if !ok {
		return fmt.Errorf("%w: signature %q", devlink.ErrNoDevice, sel.Signature)
	}

	fmt.Printf("Resetting USB device: %s (%s)\n", c.Path, c.Descriptor)
	return serial.ResetUSBDevice(ctx, c.Path)
}
