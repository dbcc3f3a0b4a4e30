package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knobd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.LED.Mode != string(LEDModeOff) {
		t.Fatalf("led.mode=%q without a pin, want off", cfg.LED.Mode)
	}

	pins := cfg.EncoderPins()
	if pins.Clock != defaultClockPin || pins.Data != defaultDataPin || pins.Button != defaultButtonPin {
		t.Fatalf("unexpected default pins: %+v", pins)
	}
	if pins.Pull != PullUp || pins.ButtonEdge != TriggerRising {
		t.Fatalf("unexpected default bias/edge: pull=%v edge=%v", pins.Pull, pins.ButtonEdge)
	}

	dc := cfg.DaemonConfig()
	if dc.PollPeriod != 100*time.Millisecond || dc.Reducer.Debounce != 50*time.Millisecond {
		t.Fatalf("unexpected loop timing: %+v", dc)
	}
	if !dc.Reducer.ButtonActiveLow {
		t.Fatalf("expected active-low button by default")
	}
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
gpio:
  backend: sim
pins:
  clock: "5"
  data: "6"
  button: "13"
decoder:
  edge_trigger_mode: single
  overflow: wrap
led:
  pin: "17"
`)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.GPIO.Backend != BackendSim {
		t.Errorf("backend=%q, want sim", cfg.GPIO.Backend)
	}
	if cfg.Decoder.EdgeTriggerMode != "single" || cfg.Decoder.Overflow != "wrap" {
		t.Errorf("decoder=%+v", cfg.Decoder)
	}
	// Untouched sections keep their defaults.
	if cfg.Loop.PollPeriodMS != defaultPollPeriodMS {
		t.Errorf("poll_period_ms=%d, want default", cfg.Loop.PollPeriodMS)
	}
	if cfg.Pins.Pull != "up" {
		t.Errorf("pull=%q, want default up", cfg.Pins.Pull)
	}
	// An LED pin without a mode toggles.
	if cfg.LED.Mode != string(LEDModeToggle) {
		t.Errorf("led.mode=%q, want toggle", cfg.LED.Mode)
	}
}

func TestLoadConfigFile_EmptyFileIsDefaults(t *testing.T) {
	cfg, err := LoadConfigFile(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.GPIO.Backend != BackendPeriph {
		t.Fatalf("backend=%q, want default", cfg.GPIO.Backend)
	}
}

func TestLoadConfigFile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "gpio:\n  backend: sim\n  turbo: true\n"},
		{"trailing document", "gpio:\n  backend: sim\n---\nfoo: 1\n"},
		{"bad type", "loop:\n  poll_period_ms: fast\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfigFile(writeConfig(t, tt.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()

	backend := BackendSim
	poll := 20
	zeroDebounce := 0
	mode := "blink"
	led := "17"

	FlagOverrides{
		Backend:      &backend,
		PollPeriodMS: &poll,
		DebounceMS:   &zeroDebounce,
		LEDPin:       &led,
		LEDMode:      &mode,
	}.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.GPIO.Backend != BackendSim || cfg.Loop.PollPeriodMS != 20 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	// A zero-valued override still applies.
	if cfg.Loop.DebounceMS != 0 {
		t.Fatalf("debounce_ms=%d, want 0", cfg.Loop.DebounceMS)
	}
	if cfg.DaemonConfig().Reducer.LEDMode != LEDModeBlink {
		t.Fatalf("led mode=%v, want blink", cfg.DaemonConfig().Reducer.LEDMode)
	}
	// Unset overrides leave the config alone.
	if cfg.Pins.Clock != defaultClockPin {
		t.Fatalf("clock pin changed to %q", cfg.Pins.Clock)
	}
}

func TestConfig_ValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.GPIO.Backend = "mmio" }, "gpio.backend"},
		{"cdev without chip", func(c *Config) { c.GPIO.Backend = BackendCdev }, "gpio.chip"},
		{"missing pin", func(c *Config) { c.Pins.Data = "" }, "must be set"},
		{"shared pin", func(c *Config) { c.Pins.Data = c.Pins.Clock }, "distinct"},
		{"bad pull", func(c *Config) { c.Pins.Pull = "sideways" }, "pins.pull"},
		{"no button edge", func(c *Config) { c.Pins.ButtonEdge = "none" }, "button_edge"},
		{"bad trigger mode", func(c *Config) { c.Decoder.EdgeTriggerMode = "quad" }, "edge_trigger_mode"},
		{"bad overflow", func(c *Config) { c.Decoder.Overflow = "clamp" }, "overflow"},
		{"zero poll", func(c *Config) { c.Loop.PollPeriodMS = 0 }, "poll_period_ms"},
		{"negative debounce", func(c *Config) { c.Loop.DebounceMS = -1 }, "debounce_ms"},
		{"negative window", func(c *Config) { c.Rotary.VelocityWindowMS = -1 }, "velocity_window_ms"},
		{"led mode without pin", func(c *Config) { c.LED.Mode = "follow" }, "requires led.pin"},
		{"bad led mode", func(c *Config) { c.LED.Pin = "17"; c.LED.Mode = "strobe" }, "led.mode"},
		{"led on encoder pin", func(c *Config) { c.LED.Pin = c.Pins.Button }, "led.pin"},
		{"blink without period", func(c *Config) {
			c.LED.Pin = "17"
			c.LED.Mode = "blink"
			c.LED.BlinkPeriodMS = 0
		}, "blink_period_ms"},
		{"serial without baud", func(c *Config) {
			c.Console.SerialDevice = "/dev/ttyUSB0"
			c.Console.Baud = 0
		}, "console.baud"},
		{"empty socket", func(c *Config) { c.IPC.SocketPath = "" }, "socket_path"},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/knobd.yaml"); got != filepath.Join(home, "knobd.yaml") {
		t.Errorf("ExpandPath(~/knobd.yaml)=%q", got)
	}
	if got := ExpandPath("/etc/knobd.yaml"); got != "/etc/knobd.yaml" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandPath("~other/x"); got != "~other/x" {
		t.Errorf("~user form changed: %q", got)
	}
}
