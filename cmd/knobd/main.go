package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("knobd v%s\n", version)
	fmt.Println("Quadrature rotary encoder and push button daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  knobd [-config FILE] [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Decodes a quadrature rotary encoder and its push button from GPIO edges,")
	fmt.Println("  and reports button_pressed / rotated_cw / rotated_ccw events to the log,")
	fmt.Println("  an optional serial console, and websocket clients on /ws.")
	fmt.Println()
	fmt.Println("OPTIONS (override the config file):")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Raspberry Pi via periph.io, encoder on GPIO10/11, button on GPIO8")
	fmt.Println("  knobd")
	fmt.Println()
	fmt.Println("  # Character device backend with an LED following the button")
	fmt.Println("  knobd -gpio-backend cdev -gpio-chip gpiochip0 -led-pin 17 -led-mode follow")
	fmt.Println()
	fmt.Println("  # Simulated board, driven with knobctl")
	fmt.Println("  knobd -gpio-backend sim -log-level debug")
	fmt.Println()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")

		backend = flag.String("gpio-backend", BackendPeriph, "GPIO backend: periph, cdev, sysfs, sim")
		chip    = flag.String("gpio-chip", "", "GPIO chip for the cdev backend (e.g. gpiochip0)")

		clockPin   = flag.String("pin-clock", defaultClockPin, "Encoder channel A (clock) pin")
		dataPin    = flag.String("pin-data", defaultDataPin, "Encoder channel B (data) pin")
		buttonPin  = flag.String("pin-button", defaultButtonPin, "Push button pin")
		pull       = flag.String("pull", "up", "Input bias: none, up, down")
		buttonEdge = flag.String("button-edge", "rising", "Button edge that counts as a press: rising, falling, both")

		edgeTriggerMode = flag.String("edge-trigger-mode", string(EdgeTriggerBoth), "Clock edges that count as a step: both, single")
		overflow        = flag.String("overflow", string(OverflowSaturate), "Rotation counter overflow policy: saturate, wrap")

		pollPeriodMS = flag.Int("poll-period-ms", defaultPollPeriodMS, "Consumer loop period in ms")
		debounceMS   = flag.Int("debounce-ms", defaultDebounceMS, "Wait after an observed press in ms")

		ledPin  = flag.String("led-pin", "", "Indicator LED pin (optional)")
		ledMode = flag.String("led-mode", "", "LED mode: off, toggle, follow, blink (default toggle when -led-pin is set)")

		serialDevice = flag.String("serial-device", "", "Serial device for the status console (optional)")
		serialBaud   = flag.Int("serial-baud", defaultConsoleBaud, "Serial console baud rate")

		ipcSocketPath = flag.String("ipc-socket", defaultIPCSocket, "Unix domain socket path for IPC")
		httpPort      = flag.Int("http-port", defaultHTTPPort, "HTTP port for /ws and /status (0 disables)")

		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var ov FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "gpio-backend":
			ov.Backend = backend
		case "gpio-chip":
			ov.Chip = chip
		case "pin-clock":
			ov.ClockPin = clockPin
		case "pin-data":
			ov.DataPin = dataPin
		case "pin-button":
			ov.ButtonPin = buttonPin
		case "pull":
			ov.Pull = pull
		case "button-edge":
			ov.ButtonEdge = buttonEdge
		case "edge-trigger-mode":
			ov.EdgeTriggerMode = edgeTriggerMode
		case "overflow":
			ov.Overflow = overflow
		case "poll-period-ms":
			ov.PollPeriodMS = pollPeriodMS
		case "debounce-ms":
			ov.DebounceMS = debounceMS
		case "led-pin":
			ov.LEDPin = ledPin
		case "led-mode":
			ov.LEDMode = ledMode
		case "serial-device":
			ov.SerialDevice = serialDevice
		case "serial-baud":
			ov.SerialBaud = serialBaud
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocketPath
		case "http-port":
			ov.HTTPPort = httpPort
		case "log-level":
			ov.LogLevel = logLevelStr
		}
	})
	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(os.Stdout, logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("knobd stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the components together and blocks until SIGINT/SIGTERM or a
// component fails.
func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	board, sim, err := openGPIO(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("open gpio backend %q: %w", cfg.GPIO.Backend, err)
	}
	defer func() {
		if err := board.Close(); err != nil {
			logger.Warn("gpio close failed", "error", err)
		}
	}()

	dec := NewDecoder(EdgeTriggerMode(cfg.Decoder.EdgeTriggerMode), OverflowPolicy(cfg.Decoder.Overflow))
	pins := cfg.EncoderPins()
	if _, failures := setupEncoder(board, dec, pins, logger); failures > 0 {
		logger.Warn("encoder setup incomplete; continuing", "failures", failures)
	}

	deps := effectDeps{gpio: board, dec: dec, button: pins.Button}
	if cfg.LED.Pin != "" {
		setupLED(board, PinID(cfg.LED.Pin), logger)
		deps.led = PinID(cfg.LED.Pin)
	}

	var console *Console
	if cfg.Console.SerialDevice != "" {
		c, err := openSerialConsole(cfg.Console.SerialDevice, cfg.Console.Baud)
		if err != nil {
			logger.Warn("serial console unavailable", "device", cfg.Console.SerialDevice, "error", err)
		} else {
			console = c
			defer console.Close()
		}
	}

	events := make(chan Event, eventQueueSize)
	status := make(chan StatusEvent, statusQueueSize)

	logger.Info("knobd starting",
		"version", version,
		"backend", cfg.GPIO.Backend,
		"clock", pins.Clock,
		"data", pins.Data,
		"button", pins.Button,
		"edge_trigger_mode", dec.Mode(),
		"overflow", cfg.Decoder.Overflow,
		"led_pin", cfg.LED.Pin,
		"led_mode", cfg.LED.Mode,
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runDaemon(ctx, events, deps, cfg.DaemonConfig(), &DaemonState{}, status, logger)
		return nil
	})

	var pub statusPublisher
	if cfg.HTTP.Port > 0 {
		ws := NewServer(logger, events, HubConfig{})
		pub = ws.Hub()
		g.Go(func() error {
			ws.Hub().Run(ctx)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(ctx, cfg.HTTP.Port, newHTTPHandler(ws, events, logger), logger)
		})
	}

	g.Go(func() error {
		runStatusFanout(ctx, status, console, pub, logger)
		return nil
	})

	g.Go(func() error {
		return runIPCServer(ctx, cfg.IPC.SocketPath, &ipcServer{
			events: events,
			sim:    sim,
			pins:   pins,
			logger: logger,
		})
	})

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
