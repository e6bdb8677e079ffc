// Package logging builds the zap logger shared by every devlink component.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/allbin/go-devlink/internal/config"
)

// New creates a logger for cfg. The json format uses zap's production
// encoder; console is the human-readable development encoder.
// Output is stdout, stderr or a file path.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.Development = false
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = level > zapcore.DebugLevel

	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	zc.OutputPaths = []string{output}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Named("devlink"), nil
}

// ForFile builds a logger that only writes to path, for interactive
// commands whose terminal must stay clean. An empty path disables logging.
func ForFile(cfg config.LogConfig, path string) (*zap.Logger, error) {
	if path == "" {
		return zap.NewNop(), nil
	}
	cfg.Output = path
	cfg.Format = "json"
	return New(cfg)
}
