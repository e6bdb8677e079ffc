/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/evertras/bubble-table/table"
	"github.com/spf13/cobra"

	"github.com/allbin/go-devlink"
)

const enumerateTimeout = 10 * time.Second

// portsCmd represents the ports command
var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and the one the link would pick",
	Long: `List the serial ports found by the configured enumerator together with
their USB descriptors. The port the link would connect to with the current
signature and pin is marked.

Only ports with a USB descriptor are listed unless --all is given. Standard
and platform UARTs (ttyS*, ttyAMA*, ...) never carry one.

Example usage:
  devlink ports
  devlink ports --table
  devlink ports --all --signature "FTDI"
  devlink ports --enumerator detailed`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		showAll, _ := cmd.Flags().GetBool("all")
		tableFormat, _ := cmd.Flags().GetBool("table")

		enumerator, err := devlink.NewEnumerator(cfg.Link.Enumerator)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), enumerateTimeout)
		defer cancel()

		candidates, err := enumerator.ListCandidates(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
			os.Exit(1)
		}

		sel := devlink.Selector{Signature: cfg.Link.Signature, Pin: cfg.Link.Pin}
		selected, found := devlink.Select(candidates, sel)

		shown := filterCandidates(candidates, showAll)
		if len(shown) == 0 {
			fmt.Println("No serial ports found")
			return
		}

		if tableFormat {
			fmt.Println(renderTable(shown, sel, selected.Path))
		} else {
			renderSimple(shown, selected.Path)
		}

		if !found {
			fmt.Printf("\nNo port matches signature %q", sel.Signature)
			if sel.Pin != "" {
				fmt.Printf(" on %s", sel.Pin)
			}
			fmt.Println()
		}
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)

	portsCmd.Flags().BoolP("all", "a", false, "Include ports without a USB descriptor")
	portsCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}

func filterCandidates(candidates []devlink.Candidate, all bool) []devlink.Candidate {
	if all {
		return candidates
	}
	var filtered []devlink.Candidate
	for _, c := range candidates {
		if c.Descriptor != "" {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

const (
	columnKeyMark       = "mark"
	columnKeyPort       = "port"
	columnKeyType       = "type"
	columnKeyDescriptor = "descriptor"
	columnKeyID         = "id"
	columnKeySerial     = "serial"
)

// renderTable renders the candidates in a static bubble-table view.
func renderTable(candidates []devlink.Candidate, sel devlink.Selector, selected string) string {
	columns := []table.Column{
		table.NewColumn(columnKeyMark, "", 2),
		table.NewColumn(columnKeyPort, "Port", 16),
		table.NewColumn(columnKeyType, "Type", 16),
		table.NewColumn(columnKeyDescriptor, "Descriptor", 32),
		table.NewColumn(columnKeyID, "VID:PID", 10),
		table.NewColumn(columnKeySerial, "Serial", 20),
	}

	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("40")).Bold(true)
	matchStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("99"))

	rows := make([]table.Row, 0, len(candidates))
	for _, c := range candidates {
		id := ""
		if c.VendorID != "" || c.ProductID != "" {
			id = c.VendorID + ":" + c.ProductID
		}

		mark := ""
		switch {
		case c.Path == selected:
			mark = "→"
		case sel.Matches(c):
			mark = "·"
		}

		row := table.NewRow(table.RowData{
			columnKeyMark:       mark,
			columnKeyPort:       c.Path,
			columnKeyType:       getPortType(filepath.Base(c.Path)),
			columnKeyDescriptor: c.Descriptor,
			columnKeyID:         id,
			columnKeySerial:     c.SerialNumber,
		})
		switch {
		case c.Path == selected:
			row = row.WithStyle(selectedStyle)
		case sel.Matches(c):
			row = row.WithStyle(matchStyle)
		}
		rows = append(rows, row)
	}

	return table.New(columns).
		WithRows(rows).
		BorderRounded().
		WithBaseStyle(lipgloss.NewStyle().Align(lipgloss.Left)).
		View()
}

// renderSimple renders one port per line, the selected one marked.
func renderSimple(candidates []devlink.Candidate, selected string) {
	for _, c := range candidates {
		mark := " "
		if c.Path == selected {
			mark = "*"
		}
		if c.Descriptor == "" {
			fmt.Printf("%s %s\n", mark, c.Path)
			continue
		}
		fmt.Printf("%s %s\t%s\n", mark, c.Path, c.Descriptor)
	}
}

// getPortType returns a more specific type classification for the port
func getPortType(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "ttyusb"):
		return "USB Serial"
	case strings.HasPrefix(name, "ttyacm"):
		return "USB CDC/ACM"
	case strings.HasPrefix(name, "ttyama"):
		return "ARM Serial"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial"
	case strings.HasPrefix(name, "ttysac"):
		return "Samsung Serial"
	case strings.HasPrefix(name, "ttyths"):
		return "Tegra Serial"
	case strings.HasPrefix(name, "ttyo"):
		return "OMAP Serial"
	case strings.HasPrefix(name, "ttys"):
		return "Standard Serial"
	default:
		return "Serial Port"
	}
}
