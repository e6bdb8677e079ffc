/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/serial"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <port>",
	Short: "Display detailed information about a serial port",
	Long: `Display detailed information about a serial port including USB metadata,
and whether the link would accept it with the current signature and pin.

Examples:
  devlink info /dev/ttyUSB0
  devlink info /dev/ttyACM0 --signature "Arduino"

For USB devices, this displays vendor/product IDs, serial numbers, interface
numbers, and other USB-specific metadata extracted from sysfs.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		info, err := serial.GetPortInfo(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting port info: %v\n", err)
			os.Exit(1)
		}
		printPortInfo(info, cfg.Link.Signature, cfg.Link.Pin)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func printPortInfo(info *serial.PortInfo, signature, pin string) {
	fmt.Printf("Port Information: %s\n\n", info.Path)
	fmt.Printf("  Name:        %s\n", info.Name)
	fmt.Printf("  Type:        %s\n", getPortType(info.Name))
	fmt.Printf("  Description: %s\n", info.Description)

	if info.IsUSB() {
		fmt.Println("\nUSB Device Information:")
		fields := []struct{ label, value string }{
			{"Vendor ID", info.VendorID},
			{"Product ID", info.ProductID},
			{"Serial", info.SerialNumber},
			{"Interface", info.InterfaceNumber},
			{"Bus", info.BusNumber},
			{"Device", info.DeviceNumber},
			{"Manufacturer", info.Manufacturer},
			{"Product", info.Product},
		}
		for _, f := range fields {
			if f.value != "" {
				fmt.Printf("  %-13s %s\n", f.label+":", f.value)
			}
		}
	}

	c := devlink.Candidate{
		Path:         info.Path,
		Descriptor:   devlink.Descriptor(info.Manufacturer, info.Product),
		VendorID:     info.VendorID,
		ProductID:    info.ProductID,
		SerialNumber: info.SerialNumber,
	}
	sel := devlink.Selector{Signature: signature, Pin: pin}
	_, accepted := devlink.Select([]devlink.Candidate{c}, sel)

	fmt.Println("\nLink:")
	fmt.Printf("  Descriptor:  %s\n", c.Descriptor)
	fmt.Printf("  Signature:   %q\n", signature)
	if accepted {
		fmt.Println("  Accepted:    yes")
	} else {
		fmt.Println("  Accepted:    no")
	}
}
