package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
)

// ============================================================================
// knobctl - Command-line IPC Client
// ============================================================================
// Talks to knobd over its Unix domain socket.
//
// Usage:
//   knobctl status
//   knobctl reset
//   knobctl rotate 3        (sim backend; negative = counter-clockwise)
//   knobctl press           (sim backend)
//   knobctl script FILE     (one command per line, # comments)
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/knobd.sock)
// ============================================================================

// Request/response types (duplicated from knobd for a standalone binary).

type ipcRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type snapshot struct {
	Rotation         int64     `json:"rotation"`
	RotationAt       time.Time `json:"rotation_at"`
	Presses          uint64    `json:"presses"`
	Edges            uint64    `json:"edges"`
	ButtonPressed    bool      `json:"button_pressed"`
	ButtonLevelKnown bool      `json:"button_level_known"`
	LEDMode          string    `json:"led_mode"`
	LEDOn            bool      `json:"led_on"`
	LEDKnown         bool      `json:"led_known"`
	Faults           uint64    `json:"faults"`
	LastEventAt      time.Time `json:"last_event_at"`
}

type ipcResponse struct {
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	Snapshot *snapshot `json:"snapshot,omitempty"`
}

// client keeps one connection open across a script.
type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(socketPath string) (*client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	return &client{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) do(req ipcRequest) (ipcResponse, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		return ipcResponse{}, fmt.Errorf("send request: %w", err)
	}

	raw, err := c.r.ReadBytes('\n')
	if err != nil {
		return ipcResponse{}, fmt.Errorf("read response: %w", err)
	}
	var resp ipcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

// buildRequest turns one command line (already split into words) into a request.
func buildRequest(args []string) (ipcRequest, error) {
	switch args[0] {
	case "status", "snapshot":
		return ipcRequest{Type: "get_snapshot"}, nil

	case "reset", "reset-rotation":
		return ipcRequest{Type: "reset_rotation"}, nil

	case "press":
		return ipcRequest{Type: "sim_press"}, nil

	case "rotate":
		if len(args) < 2 {
			return ipcRequest{}, fmt.Errorf("rotate requires a detent count")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return ipcRequest{}, fmt.Errorf("invalid detent count %q: %w", args[1], err)
		}
		data, err := json.Marshal(struct {
			Steps int `json:"steps"`
		}{n})
		if err != nil {
			return ipcRequest{}, err
		}
		return ipcRequest{Type: "sim_rotate", Data: data}, nil

	default:
		return ipcRequest{}, fmt.Errorf("unknown command: %s", args[0])
	}
}

func runCommand(c *client, args []string) error {
	// sleep is local to scripts; it paces sim input against the poll period.
	if args[0] == "sleep" {
		if len(args) < 2 {
			return fmt.Errorf("sleep requires a duration")
		}
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[1], err)
		}
		time.Sleep(d)
		return nil
	}

	req, err := buildRequest(args)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}

	if resp.Snapshot != nil {
		printSnapshot(resp.Snapshot)
		return nil
	}
	fmt.Println("ok")
	return nil
}

func runScript(c *client, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words, err := shlex.Split(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if len(words) == 0 {
			continue
		}
		if err := runCommand(c, words); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	return sc.Err()
}

func printSnapshot(s *snapshot) {
	fmt.Printf("rotation:      %d\n", s.Rotation)
	fmt.Printf("presses:       %d (%d edges)\n", s.Presses, s.Edges)
	if s.ButtonLevelKnown {
		fmt.Printf("button held:   %v\n", s.ButtonPressed)
	}
	led := "unknown"
	if s.LEDKnown {
		led = "off"
		if s.LEDOn {
			led = "on"
		}
	}
	fmt.Printf("led:           %s (mode %s)\n", led, s.LEDMode)
	fmt.Printf("faults:        %d\n", s.Faults)
	if !s.LastEventAt.IsZero() {
		fmt.Printf("last event:    %s\n", s.LastEventAt.Local().Format(time.RFC3339))
	}
}

func main() {
	socketPath := "/tmp/knobd.sock"

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return
	}

	c, err := dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if args[0] == "script" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: script requires a file\n")
			os.Exit(1)
		}
		err = runScript(c, args[1])
	} else {
		err = runCommand(c, args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		c.Close()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `knobctl - Control the knobd daemon via IPC

Usage:
  knobctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/knobd.sock)

Commands:
  status                  Print counters and LED state
  reset                   Zero the rotation counter
  rotate <N>              Turn N detents (sim backend; negative = counter-clockwise)
  press                   Press and release the button (sim backend)
  script <FILE>           Run commands from FILE, one per line; "sleep 200ms" pauses
  help, -h, --help        Show this help message

Examples:
  knobctl status
  knobctl rotate -3
  knobctl -socket /run/knobd.sock reset
`)
}
