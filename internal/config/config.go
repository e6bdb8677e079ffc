// Package config loads devlink settings from flags, environment and an
// optional YAML file through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// DEVLINK_LINK_BAUD_RATE.
const EnvPrefix = "DEVLINK"

var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Link       LinkConfig       `mapstructure:"link" yaml:"link"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	ThingSpeak ThingSpeakConfig `mapstructure:"thingspeak" yaml:"thingspeak"`
	MQTT       MQTTConfig       `mapstructure:"mqtt" yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `mapstructure:"influxdb" yaml:"influxdb"`
	API        APIConfig        `mapstructure:"api" yaml:"api"`
	Capture    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
}

// LinkConfig selects and configures the serial device.
type LinkConfig struct {
	BaudRate    int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits" yaml:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits" yaml:"stop_bits"`
	Parity      string        `mapstructure:"parity" yaml:"parity"`
	Delimiter   string        `mapstructure:"delimiter" yaml:"delimiter"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	Signature   string        `mapstructure:"signature" yaml:"signature"`
	Pin         string        `mapstructure:"pin" yaml:"pin"`
	Enumerator  string        `mapstructure:"enumerator" yaml:"enumerator"`
	BufferSize  int           `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json or console
	Output string `mapstructure:"output" yaml:"output"` // stdout, stderr or a file path
}

// ThingSpeakConfig forwards readings to a ThingSpeak-style update URL.
type ThingSpeakConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URL     string        `mapstructure:"url" yaml:"url"`
	APIKey  string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Fields maps query parameter names to message keys.
	Fields map[string]string `mapstructure:"fields" yaml:"fields"`
	// TemperatureField names the message key holding a raw ADC reading
	// that is converted to degrees before sending.
	TemperatureField string `mapstructure:"temperature_field" yaml:"temperature_field"`
}

// MQTTConfig configures the MQTT bridge.
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Broker         string        `mapstructure:"broker" yaml:"broker"`
	ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	Topic          string        `mapstructure:"topic" yaml:"topic"`
	CommandTopic   string        `mapstructure:"command_topic" yaml:"command_topic"`
	StatusTopic    string        `mapstructure:"status_topic" yaml:"status_topic"`
	QoS            int           `mapstructure:"qos" yaml:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// InfluxDBConfig configures the time-series writer.
type InfluxDBConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	URL           string        `mapstructure:"url" yaml:"url"`
	Token         string        `mapstructure:"token" yaml:"token"`
	Org           string        `mapstructure:"org" yaml:"org"`
	Bucket        string        `mapstructure:"bucket" yaml:"bucket"`
	Measurement   string        `mapstructure:"measurement" yaml:"measurement"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// APIConfig configures the local HTTP/WebSocket API.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// CaptureConfig appends every decoded message to a JSON-lines file.
type CaptureConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// SetDefaults registers every default on v. All keys must be known to
// viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("link.baud_rate", 9600)
	v.SetDefault("link.data_bits", 8)
	v.SetDefault("link.stop_bits", 1)
	v.SetDefault("link.parity", "none")
	v.SetDefault("link.delimiter", "\n")
	v.SetDefault("link.retry_delay", time.Second)
	v.SetDefault("link.read_timeout", 200*time.Millisecond)
	v.SetDefault("link.signature", "Arduino")
	v.SetDefault("link.pin", "")
	v.SetDefault("link.enumerator", "sysfs")
	v.SetDefault("link.buffer_size", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("thingspeak.enabled", false)
	v.SetDefault("thingspeak.url", "https://api.thingspeak.com/update")
	v.SetDefault("thingspeak.api_key", "")
	v.SetDefault("thingspeak.timeout", 10*time.Second)
	v.SetDefault("thingspeak.fields", map[string]string{
		"field1": "light_level_current",
		"field2": "light_level_average",
		"field4": "temperature",
	})
	v.SetDefault("thingspeak.temperature_field", "temperature")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "devlink/data")
	v.SetDefault("mqtt.command_topic", "devlink/command")
	v.SetDefault("mqtt.status_topic", "devlink/status")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)

	v.SetDefault("influxdb.enabled", false)
	v.SetDefault("influxdb.url", "http://localhost:8086")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.org", "")
	v.SetDefault("influxdb.bucket", "devlink")
	v.SetDefault("influxdb.measurement", "device")
	v.SetDefault("influxdb.batch_size", 100)
	v.SetDefault("influxdb.flush_interval", time.Second)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", "127.0.0.1:8080")

	v.SetDefault("capture.enabled", false)
	v.SetDefault("capture.path", "devlink-capture.jsonl")
}

// NewViper returns a viper instance with defaults and DEVLINK_ environment
// overrides registered.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads path, or searches for devlink.yaml in the usual places
// when path is empty. A missing file is not an error unless path was
// given explicitly.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("devlink")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.config/devlink")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be caught by type decoding.
func (c Config) Validate() error {
	var errs []error

	if c.Link.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("link.baud_rate must be positive"))
	}
	if c.Link.Delimiter == "" {
		errs = append(errs, fmt.Errorf("link.delimiter must not be empty"))
	}
	if c.Link.RetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("link.retry_delay must be positive"))
	}
	if c.Link.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("link.buffer_size must not be negative"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}

	if c.ThingSpeak.Enabled && (c.ThingSpeak.URL == "" || c.ThingSpeak.APIKey == "") {
		errs = append(errs, fmt.Errorf("thingspeak requires url and api_key"))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			errs = append(errs, fmt.Errorf("mqtt requires broker and topic"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
		}
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, fmt.Errorf("influxdb requires url, org and bucket"))
	}
	if c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, fmt.Errorf("api requires listen"))
	}
	if c.Capture.Enabled && c.Capture.Path == "" {
		errs = append(errs, fmt.Errorf("capture requires path"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.ThingSpeak.APIKey = mask(c.ThingSpeak.APIKey)
	c.MQTT.Password = mask(c.MQTT.Password)
	c.InfluxDB.Token = mask(c.InfluxDB.Token)
	return c
}
