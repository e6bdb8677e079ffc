/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/internal/config"
	"github.com/allbin/go-devlink/internal/logging"
	"github.com/allbin/go-devlink/serial"
)

var (
	cfgFile string
	v       = config.NewViper()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "devlink",
	Short: "Keep a link to a serial device alive and relay its messages",
	Long: `devlink finds a serial device by its USB descriptor, keeps the link open,
decodes the line-delimited JSON it sends and relays it to MQTT, InfluxDB,
ThingSpeak, a JSON-lines file or a local HTTP/WebSocket API.

When the device goes away devlink keeps looking for it and reconnects as
soon as it is back.

Settings come from flags, DEVLINK_* environment variables and an optional
devlink.yaml in $HOME/.config/devlink or the working directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.ReadFile(v, cfgFile)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default searches devlink.yaml)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: json, console")
	pf.IntP("baud", "b", devlink.DefaultBaudRate, "Baud rate")
	pf.StringP("signature", "s", devlink.DefaultSignature, "Substring of the USB descriptor to look for")
	pf.StringP("pin", "p", "", "Only ever use this port path")
	pf.Duration("retry-delay", devlink.DefaultRetryDelay, "Delay between discovery attempts")
	pf.String("delimiter", `\n`, "Line delimiter; \\r, \\n and \\t are unescaped")
	pf.String("enumerator", "sysfs", "Port enumerator: sysfs, detailed")

	bindings := map[string]string{
		"log.level":        "log-level",
		"log.format":       "log-format",
		"link.baud_rate":   "baud",
		"link.signature":   "signature",
		"link.pin":         "pin",
		"link.retry_delay": "retry-delay",
		"link.delimiter":   "delimiter",
		"link.enumerator":  "enumerator",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// loadConfig returns the effective configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}
	// Flags cannot carry a literal newline
	cfg.Link.Delimiter = unescapeDelimiter(cfg.Link.Delimiter)
	return cfg, nil
}

// setup loads the configuration and builds the logger from it.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func unescapeDelimiter(s string) string {
	return strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t").Replace(s)
}

// linkOptions translates the link section into Manager options.
func linkOptions(cfg config.LinkConfig, log *zap.Logger) ([]devlink.Option, error) {
	enumerator, err := devlink.NewEnumerator(cfg.Enumerator)
	if err != nil {
		return nil, err
	}
	parity, err := serial.ParseParity(cfg.Parity)
	if err != nil {
		return nil, err
	}

	return []devlink.Option{
		devlink.WithBaudRate(cfg.BaudRate),
		devlink.WithDelimiter(cfg.Delimiter),
		devlink.WithRetryDelay(cfg.RetryDelay),
		devlink.WithSignature(cfg.Signature),
		devlink.WithPin(cfg.Pin),
		devlink.WithEnumerator(enumerator),
		devlink.WithReadTimeout(cfg.ReadTimeout),
		devlink.WithBufferSize(cfg.BufferSize),
		devlink.WithSerialOptions(
			serial.WithDataBits(cfg.DataBits),
			serial.WithStopBits(cfg.StopBits),
			serial.WithParity(parity),
		),
		devlink.WithLogger(log.Named("link")),
	}, nil
}

func newManager(cfg config.LinkConfig, log *zap.Logger, extra ...devlink.Option) (*devlink.Manager, error) {
	opts, err := linkOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	m, err := devlink.New(append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("invalid link settings: %w", err)
	}
	return m, nil
}
