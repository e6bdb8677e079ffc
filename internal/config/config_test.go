package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Link.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", cfg.Link.BaudRate)
	}
	if cfg.Link.Delimiter != "\n" {
		t.Errorf("Delimiter = %q, want newline", cfg.Link.Delimiter)
	}
	if cfg.Link.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.Link.RetryDelay)
	}
	if cfg.Link.Signature != "Arduino" {
		t.Errorf("Signature = %q, want Arduino", cfg.Link.Signature)
	}
	if cfg.Link.Pin != "" {
		t.Errorf("Pin = %q, want empty", cfg.Link.Pin)
	}
	if got := cfg.ThingSpeak.Fields["field4"]; got != "temperature" {
		t.Errorf("ThingSpeak.Fields[field4] = %q, want temperature", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEVLINK_LINK_BAUD_RATE", "115200")
	t.Setenv("DEVLINK_LINK_RETRY_DELAY", "250ms")
	t.Setenv("DEVLINK_LINK_PIN", "/dev/ttyACM1")
	t.Setenv("DEVLINK_MQTT_ENABLED", "true")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Link.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", cfg.Link.BaudRate)
	}
	if cfg.Link.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 250ms", cfg.Link.RetryDelay)
	}
	if cfg.Link.Pin != "/dev/ttyACM1" {
		t.Errorf("Pin = %q", cfg.Link.Pin)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled not overridden")
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devlink.yaml")
	content := `
link:
  signature: teensy
  retry_delay: 3s
capture:
  enabled: true
  path: /tmp/out.jsonl
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	v := NewViper()
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Link.Signature != "teensy" {
		t.Errorf("Signature = %q, want teensy", cfg.Link.Signature)
	}
	if cfg.Link.RetryDelay != 3*time.Second {
		t.Errorf("RetryDelay = %v, want 3s", cfg.Link.RetryDelay)
	}
	if !cfg.Capture.Enabled || cfg.Capture.Path != "/tmp/out.jsonl" {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
	// Untouched keys keep their defaults
	if cfg.Link.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", cfg.Link.BaudRate)
	}
}

func TestReadFileMissing(t *testing.T) {
	if err := ReadFile(NewViper(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for explicit missing file")
	}
}

func TestValidate(t *testing.T) {
	base, err := Load(NewViper())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero baud", func(c *Config) { c.Link.BaudRate = 0 }},
		{"empty delimiter", func(c *Config) { c.Link.Delimiter = "" }},
		{"zero retry delay", func(c *Config) { c.Link.RetryDelay = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"thingspeak without key", func(c *Config) { c.ThingSpeak.Enabled = true }},
		{"mqtt bad qos", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }},
		{"influx without org", func(c *Config) { c.InfluxDB.Enabled = true }},
		{"capture without path", func(c *Config) { c.Capture.Enabled = true; c.Capture.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatal(err)
	}
	cfg.MQTT.Password = "hunter2"
	cfg.InfluxDB.Token = "tok"

	r := cfg.Redacted()
	if r.MQTT.Password == "hunter2" || r.InfluxDB.Token == "tok" {
		t.Errorf("secrets not masked: %+v", r)
	}
	if r.ThingSpeak.APIKey != "" {
		t.Errorf("empty secret should stay empty, got %q", r.ThingSpeak.APIKey)
	}
	if cfg.MQTT.Password != "hunter2" {
		t.Error("Redacted modified the original")
	}
}
