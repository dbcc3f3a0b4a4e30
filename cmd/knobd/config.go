package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for knobd.
//
// Layering is defaults -> file -> flag overrides -> Validate. The rest of the
// code assumes a validated config.
type Config struct {
	GPIO    GPIOConfig       `yaml:"gpio"`
	Pins    PinsConfig       `yaml:"pins"`
	Decoder DecoderConfig    `yaml:"decoder"`
	Loop    LoopConfig       `yaml:"loop"`
	Rotary  RotaryFileConfig `yaml:"rotary"`
	LED     LEDConfig        `yaml:"led"`
	Console ConsoleConfig    `yaml:"console"`
	IPC     IPCConfig        `yaml:"ipc"`
	HTTP    HTTPConfig       `yaml:"http"`
	Logging LoggingConfig    `yaml:"logging"`
}

type GPIOConfig struct {
	Backend   string `yaml:"backend"`              // periph, cdev, sysfs or sim
	Chip      string `yaml:"chip,omitempty"`       // cdev: gpiochip name, e.g. "gpiochip0"
	SysfsBase string `yaml:"sysfs_base,omitempty"` // sysfs: defaults to /sys/class/gpio
}

type PinsConfig struct {
	Clock  string `yaml:"clock"` // channel A
	Data   string `yaml:"data"`  // channel B
	Button string `yaml:"button"`

	Pull       string `yaml:"pull"`        // none, up, down
	ButtonEdge string `yaml:"button_edge"` // rising, falling, both

	// ButtonActiveLow means a low level is "pressed" (pull-up wiring).
	ButtonActiveLow bool `yaml:"button_active_low"`
}

type DecoderConfig struct {
	EdgeTriggerMode string `yaml:"edge_trigger_mode"` // both or single
	Overflow        string `yaml:"overflow"`          // saturate or wrap
}

type LoopConfig struct {
	PollPeriodMS int `yaml:"poll_period_ms"`
	DebounceMS   int `yaml:"debounce_ms"`
}

type RotaryFileConfig struct {
	VelocityWindowMS  int `yaml:"velocity_window_ms"`
	VelocityThreshold int `yaml:"velocity_threshold"`
}

type LEDConfig struct {
	Pin           string `yaml:"pin,omitempty"`
	Mode          string `yaml:"mode,omitempty"` // off, toggle, follow, blink; empty = toggle when pin is set
	BlinkPeriodMS int    `yaml:"blink_period_ms"`
}

type ConsoleConfig struct {
	SerialDevice string `yaml:"serial_device,omitempty"`
	Baud         int    `yaml:"baud"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Port int `yaml:"port"` // 0 disables the HTTP server
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		GPIO: GPIOConfig{
			Backend: BackendPeriph,
		},
		Pins: PinsConfig{
			Clock:           defaultClockPin,
			Data:            defaultDataPin,
			Button:          defaultButtonPin,
			Pull:            "up",
			ButtonEdge:      "rising",
			ButtonActiveLow: true,
		},
		Decoder: DecoderConfig{
			EdgeTriggerMode: string(EdgeTriggerBoth),
			Overflow:        string(OverflowSaturate),
		},
		Loop: LoopConfig{
			PollPeriodMS: defaultPollPeriodMS,
			DebounceMS:   defaultDebounceMS,
		},
		Rotary: RotaryFileConfig{
			VelocityWindowMS:  defaultRotaryVelocityWindowMS,
			VelocityThreshold: defaultRotaryVelocityThreshold,
		},
		LED: LEDConfig{
			BlinkPeriodMS: defaultBlinkPeriodMS,
		},
		Console: ConsoleConfig{
			Baud: defaultConsoleBaud,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		HTTP: HTTPConfig{
			Port: defaultHTTPPort,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields and trailing documents are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file.
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds values set on the command line. A nil pointer means
// the flag was not given; a non-nil pointer is applied even if it is a zero value.
type FlagOverrides struct {
	Backend *string
	Chip    *string

	ClockPin   *string
	DataPin    *string
	ButtonPin  *string
	Pull       *string
	ButtonEdge *string

	EdgeTriggerMode *string
	Overflow        *string

	PollPeriodMS *int
	DebounceMS   *int

	LEDPin  *string
	LEDMode *string

	SerialDevice *string
	SerialBaud   *int

	IPCSocketPath *string
	HTTPPort      *int

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}

	setString(&cfg.GPIO.Backend, o.Backend)
	setString(&cfg.GPIO.Chip, o.Chip)

	setString(&cfg.Pins.Clock, o.ClockPin)
	setString(&cfg.Pins.Data, o.DataPin)
	setString(&cfg.Pins.Button, o.ButtonPin)
	setString(&cfg.Pins.Pull, o.Pull)
	setString(&cfg.Pins.ButtonEdge, o.ButtonEdge)

	setString(&cfg.Decoder.EdgeTriggerMode, o.EdgeTriggerMode)
	setString(&cfg.Decoder.Overflow, o.Overflow)

	setInt(&cfg.Loop.PollPeriodMS, o.PollPeriodMS)
	setInt(&cfg.Loop.DebounceMS, o.DebounceMS)

	setString(&cfg.LED.Pin, o.LEDPin)
	setString(&cfg.LED.Mode, o.LEDMode)

	setString(&cfg.Console.SerialDevice, o.SerialDevice)
	setInt(&cfg.Console.Baud, o.SerialBaud)

	setString(&cfg.IPC.SocketPath, o.IPCSocketPath)
	setInt(&cfg.HTTP.Port, o.HTTPPort)

	setString(&cfg.Logging.Level, o.LogLevel)
}

// Validate checks config invariants and returns a user-friendly error.
// It also resolves an empty led.mode.
func (c *Config) Validate() error {
	switch c.GPIO.Backend {
	case BackendPeriph, BackendCdev, BackendSysfs, BackendSim:
	default:
		return fmt.Errorf("gpio.backend must be one of %s, %s, %s, %s (got %q)",
			BackendPeriph, BackendCdev, BackendSysfs, BackendSim, c.GPIO.Backend)
	}
	if c.GPIO.Backend == BackendCdev && c.GPIO.Chip == "" {
		return errors.New("gpio.chip must be set for the cdev backend")
	}

	if c.Pins.Clock == "" || c.Pins.Data == "" || c.Pins.Button == "" {
		return errors.New("pins.clock, pins.data and pins.button must be set")
	}
	if c.Pins.Clock == c.Pins.Data || c.Pins.Clock == c.Pins.Button || c.Pins.Data == c.Pins.Button {
		return errors.New("pins.clock, pins.data and pins.button must be distinct")
	}
	if _, err := ParsePull(c.Pins.Pull); err != nil {
		return fmt.Errorf("pins.pull: %w", err)
	}
	edge, err := ParseTrigger(c.Pins.ButtonEdge)
	if err != nil {
		return fmt.Errorf("pins.button_edge: %w", err)
	}
	if edge == TriggerNone {
		return errors.New("pins.button_edge must not be none")
	}

	switch EdgeTriggerMode(c.Decoder.EdgeTriggerMode) {
	case EdgeTriggerBoth, EdgeTriggerSingle:
	default:
		return fmt.Errorf("decoder.edge_trigger_mode must be %q or %q", EdgeTriggerBoth, EdgeTriggerSingle)
	}
	switch OverflowPolicy(c.Decoder.Overflow) {
	case OverflowSaturate, OverflowWrap:
	default:
		return fmt.Errorf("decoder.overflow must be %q or %q", OverflowSaturate, OverflowWrap)
	}

	if c.Loop.PollPeriodMS <= 0 || c.Loop.PollPeriodMS > 10000 {
		return errors.New("loop.poll_period_ms must be between 1 and 10000")
	}
	if c.Loop.DebounceMS < 0 {
		return errors.New("loop.debounce_ms must be >= 0")
	}

	if c.Rotary.VelocityWindowMS < 0 {
		return errors.New("rotary.velocity_window_ms must be >= 0")
	}
	if c.Rotary.VelocityThreshold < 0 {
		return errors.New("rotary.velocity_threshold must be >= 0")
	}

	if c.LED.Mode == "" {
		c.LED.Mode = string(LEDModeOff)
		if c.LED.Pin != "" {
			c.LED.Mode = string(LEDModeToggle)
		}
	}
	mode, err := ParseLEDMode(c.LED.Mode)
	if err != nil {
		return fmt.Errorf("led.mode: %w", err)
	}
	if mode != LEDModeOff && c.LED.Pin == "" {
		return fmt.Errorf("led.mode %q requires led.pin", mode)
	}
	if c.LED.Pin != "" && (c.LED.Pin == c.Pins.Clock || c.LED.Pin == c.Pins.Data || c.LED.Pin == c.Pins.Button) {
		return errors.New("led.pin must not be one of the encoder pins")
	}
	if mode == LEDModeBlink && c.LED.BlinkPeriodMS <= 0 {
		return errors.New("led.blink_period_ms must be > 0 in blink mode")
	}

	if c.Console.SerialDevice != "" && c.Console.Baud <= 0 {
		return errors.New("console.baud must be > 0")
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// EncoderPins converts the pins section. Call after Validate.
func (c *Config) EncoderPins() EncoderPins {
	pull, _ := ParsePull(c.Pins.Pull)
	edge, _ := ParseTrigger(c.Pins.ButtonEdge)
	return EncoderPins{
		Clock:      PinID(c.Pins.Clock),
		Data:       PinID(c.Pins.Data),
		Button:     PinID(c.Pins.Button),
		Pull:       pull,
		ButtonEdge: edge,
	}
}

// DaemonConfig converts the loop, rotary and led sections. Call after Validate.
func (c *Config) DaemonConfig() daemonConfig {
	mode, _ := ParseLEDMode(c.LED.Mode)
	return daemonConfig{
		PollPeriod: time.Duration(c.Loop.PollPeriodMS) * time.Millisecond,
		Reducer: ReducerConfig{
			Debounce:        time.Duration(c.Loop.DebounceMS) * time.Millisecond,
			LEDMode:         mode,
			BlinkPeriod:     time.Duration(c.LED.BlinkPeriodMS) * time.Millisecond,
			ButtonActiveLow: c.Pins.ButtonActiveLow,
			Rotary: RotaryConfig{
				VelocityWindowMS:  c.Rotary.VelocityWindowMS,
				VelocityThreshold: c.Rotary.VelocityThreshold,
			},
		},
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
