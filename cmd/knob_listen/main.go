package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// envelope mirrors knobd's websocket frames: {type, ts, data}.
type envelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3001/ws", "knobd websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	// knobd pings every 20s; answer and keep the read deadline moving.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Printf("%s\n", message)
				continue
			}
			fmt.Println(formatFrame(message))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatFrame renders one frame as a single line.
func formatFrame(message []byte) string {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
		return fmt.Sprintf("[TEXT] %s", message)
	}

	ts := env.Ts.Local().Format("15:04:05.000")

	switch env.Type {
	case "state_init":
		var s struct {
			Rotation int64  `json:"rotation"`
			Presses  uint64 `json:"presses"`
			LEDMode  string `json:"led_mode"`
			LEDOn    bool   `json:"led_on"`
		}
		_ = json.Unmarshal(env.Data, &s)
		return fmt.Sprintf("%s [STATE] rotation=%d presses=%d led=%s/%v", ts, s.Rotation, s.Presses, s.LEDMode, s.LEDOn)

	case "button_pressed":
		var p struct {
			Count uint64 `json:"count"`
			Edges uint32 `json:"edges"`
		}
		_ = json.Unmarshal(env.Data, &p)
		return fmt.Sprintf("%s [PRESS] #%d (%d edges)", ts, p.Count, p.Edges)

	case "rotated_cw", "rotated_ccw":
		var r struct {
			Value int64 `json:"value"`
			Delta int64 `json:"delta"`
			Fast  bool  `json:"fast"`
		}
		_ = json.Unmarshal(env.Data, &r)
		dir := "CW"
		if env.Type == "rotated_ccw" {
			dir = "CCW"
		}
		fast := ""
		if r.Fast {
			fast = " fast"
		}
		return fmt.Sprintf("%s [%s] counter=%d delta=%+d%s", ts, dir, r.Value, r.Delta, fast)

	default:
		return fmt.Sprintf("%s [%s] %s", ts, env.Type, env.Data)
	}
}
