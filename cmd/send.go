/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/frame"
	"github.com/allbin/go-devlink/internal/config"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [json]",
	Short: "Send one JSON message to the device",
	Long: `Connect to the device, send one JSON object as a single line and exit.

The message can be given as an argument or piped on stdin. The command
waits for the link to come up, so a device that is still booting or being
plugged in is picked up as long as it appears within --timeout.

Example usage:
  devlink send '{"cmd":"on"}'
  echo '{"led":1}' | devlink send
  devlink send '{"cmd":"off"}' --timeout 30s --signature "CH340"`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var data string
		if len(args) == 1 {
			data = args[0]
		} else {
			stat, err := os.Stdin.Stat()
			if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
				fmt.Fprintln(os.Stderr, "Error: no message given (pass it as an argument or on stdin)")
				os.Exit(1)
			}
			stdinData, err := io.ReadAll(os.Stdin)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading from stdin: %v\n", err)
				os.Exit(1)
			}
			data = strings.TrimRight(string(stdinData), "\r\n")
		}

		msg, err := frame.Decode([]byte(data))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")

		cfg, log, err := setup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()

		if err := sendOnce(cfg.Link, log, msg, timeout); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Render("✗"), err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().DurationP("timeout", "t", 10*time.Second, "How long to wait for the device and the write")
}

func sendOnce(cfg config.LinkConfig, log *zap.Logger, msg frame.Message, timeout time.Duration) error {
	infoStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)
	successStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("40")).Bold(true)

	connected := make(chan struct{}, 1)
	hook := func(_, to devlink.State) {
		if to == devlink.Connected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	}

	manager, err := newManager(cfg, log, devlink.WithStateHook(hook))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go manager.Run(ctx)
	defer func() {
		cancel()
		<-manager.Done()
	}()

	fmt.Printf("%s Waiting for a device matching %q...\n", infoStyle.Render("⚡"), cfg.Signature)

	for {
		select {
		case <-connected:
		case <-ctx.Done():
			return fmt.Errorf("%w within %v", devlink.ErrNoDevice, timeout)
		}

		err := manager.Send(ctx, msg)
		if errors.Is(err, devlink.ErrNotConnected) {
			// Dropped again before the write; wait for the next connect
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to send: %w", err)
		}

		fmt.Printf("%s Sent to %s\n", successStyle.Render("✓"), manager.Status().Target)
		return nil
	}
}
