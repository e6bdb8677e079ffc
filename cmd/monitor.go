/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/allbin/go-devlink/internal/logging"
	"github.com/allbin/go-devlink/internal/tui/components"
	"github.com/allbin/go-devlink/internal/tui/models"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the link and its messages in a terminal UI",
	Long: `Run the link in an interactive terminal UI. The UI shows the link state,
every decoded message and every message sent, and lets you compose JSON
messages for the device.

Keys:
  i        compose a message (enter sends, esc stops composing)
  ↑/↓      recall earlier messages while composing
  p        toggle JSON / key=value view
  t        toggle timestamps
  c        clear the buffer
  g/G      go to top/bottom
  ?        help
  q        quit

Logs would corrupt the screen, so they are discarded unless --log-file is
given.

Example usage:
  devlink monitor
  devlink monitor --signature "CH340" --baud 115200
  devlink monitor --log-file devlink.log --log-level debug`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logFile, _ := cmd.Flags().GetString("log-file")
		noTimestamps, _ := cmd.Flags().GetBool("no-timestamps")
		pretty, _ := cmd.Flags().GetBool("pretty")

		log, err := logging.ForFile(cfg.Log, logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()

		manager, err := newManager(cfg.Link, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go manager.Run(ctx)

		model := models.NewMonitorModel(manager,
			components.LinkInfo{Signature: cfg.Link.Signature, BaudRate: cfg.Link.BaudRate},
			components.FormatOptions{ShowTimestamps: !noTimestamps, Pretty: pretty})

		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
		_, err = p.Run()

		model.Close()
		cancel()
		<-manager.Done()

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().String("log-file", "", "Write logs to this file")
	monitorCmd.Flags().Bool("no-timestamps", false, "Hide timestamps")
	monitorCmd.Flags().Bool("pretty", false, "Show messages as key=value pairs")
}
