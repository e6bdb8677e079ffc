/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/allbin/go-devlink/internal/sink"
	"github.com/allbin/go-devlink/internal/sink/capture"
)

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:   "capture <output-file>",
	Short: "Capture decoded messages to a JSON-lines file",
	Long: `Capture every message decoded from the device to a file, one JSON object
per line. Runs continuously until interrupted (Ctrl+C), reconnecting
whenever the device comes back.

The output file is opened in append mode, allowing you to resume captures
without overwriting existing data.

Example usage:
  devlink capture data.jsonl
  devlink capture data.jsonl --baud 115200
  devlink capture data.jsonl --console`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		showConsole, _ := cmd.Flags().GetBool("console")

		if err := runCapture(args[0], showConsole); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().BoolP("console", "c", false, "Display messages on console while capturing")
}

func runCapture(outputPath string, showConsole bool) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	manager, err := newManager(cfg.Link, log)
	if err != nil {
		return err
	}

	var console io.Writer
	if showConsole {
		console = os.Stdout
	}
	w, err := capture.Open(outputPath, console)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Capturing messages to %s\n", outputPath)
	if showConsole {
		fmt.Fprintf(os.Stderr, "Console display enabled\n")
	}
	fmt.Fprintf(os.Stderr, "Press Ctrl+C to stop\n\n")

	sub := manager.Subscribe()
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		sink.Pump(context.Background(), sub, w, log)
	}()

	err = manager.Run(ctx)
	// Run closed the subscription; the pump drains what is left and exits
	<-pumped

	count, n, elapsed := w.Stats()
	fmt.Fprintf(os.Stderr, "\nCapture complete: %d messages (%d bytes) written in %v\n",
		count, n, elapsed.Round(time.Millisecond))
	return err
}
