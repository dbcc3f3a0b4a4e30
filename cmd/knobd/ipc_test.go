package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// answerSnapshots stands in for the daemon loop: it replies to snapshot
// requests with snap and forwards every other event to rest.
func answerSnapshots(ctx context.Context, events <-chan Event, snap StateSnapshot, rest chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if req, ok := ev.(RequestStateSnapshot); ok {
				req.Reply <- snap
				continue
			}
			if rest != nil {
				rest <- ev
			}
		}
	}
}

func TestIPC_GetSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	go answerSnapshots(ctx, events, StateSnapshot{Rotation: 12, Presses: 3}, nil)

	srv := &ipcServer{events: events, logger: discardLogger()}
	resp := srv.handle(ctx, []byte(`{"type":"get_snapshot"}`))

	if resp.Status != "ok" || resp.Snapshot == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Snapshot.Rotation != 12 || resp.Snapshot.Presses != 3 {
		t.Fatalf("unexpected snapshot: %+v", resp.Snapshot)
	}
}

func TestIPC_ResetRotationQueuesRequest(t *testing.T) {
	events := make(chan Event, 1)
	srv := &ipcServer{events: events, logger: discardLogger()}

	if resp := srv.handle(context.Background(), []byte(`{"type":"reset_rotation"}`)); resp.Status != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, ok := (<-events).(ResetRotationRequested); !ok {
		t.Fatalf("expected ResetRotationRequested on the event queue")
	}

	// A full queue is reported, not waited on.
	events <- Tick{}
	if resp := srv.handle(context.Background(), []byte(`{"type":"reset_rotation"}`)); resp.Status != "error" {
		t.Fatalf("expected error on full queue, got %+v", resp)
	}
}

func TestIPC_SimRequestsDriveTheBoard(t *testing.T) {
	sim, dec := newSimEncoder(t, EdgeTriggerBoth)
	srv := &ipcServer{sim: sim, pins: testPins, logger: discardLogger()}

	if resp := srv.handle(context.Background(), []byte(`{"type":"sim_rotate","data":{"steps":-2}}`)); resp.Status != "ok" {
		t.Fatalf("sim_rotate: %+v", resp)
	}
	if got := dec.Rotation(); got != -4 {
		t.Fatalf("rotation=%d, want -4", got)
	}

	if resp := srv.handle(context.Background(), []byte(`{"type":"sim_press"}`)); resp.Status != "ok" {
		t.Fatalf("sim_press: %+v", resp)
	}
	if got := dec.DrainPresses(); got != 1 {
		t.Fatalf("presses=%d, want 1", got)
	}
}

func TestIPC_SimRotateRejectsHugeSteps(t *testing.T) {
	sim, dec := newSimEncoder(t, EdgeTriggerBoth)
	srv := &ipcServer{sim: sim, pins: testPins, logger: discardLogger()}

	for _, steps := range []string{"10001", "-10001", "2305843009213693952"} {
		resp := srv.handle(context.Background(), []byte(`{"type":"sim_rotate","data":{"steps":`+steps+`}}`))
		if resp.Status != "error" || !strings.Contains(resp.Error, "out of range") {
			t.Errorf("sim_rotate steps=%s: %+v, want out of range error", steps, resp)
		}
	}
	if got := dec.Rotation(); got != 0 {
		t.Fatalf("rotation=%d after rejected requests, want 0", got)
	}

	if resp := srv.handle(context.Background(), []byte(`{"type":"sim_rotate","data":{"steps":10000}}`)); resp.Status != "ok" {
		t.Fatalf("sim_rotate at the bound: %+v", resp)
	}
	if got := dec.Rotation(); got != 20000 {
		t.Fatalf("rotation=%d, want 20000", got)
	}
}

func TestIPC_Errors(t *testing.T) {
	srv := &ipcServer{events: make(chan Event, 1), logger: discardLogger()}

	tests := []struct {
		line string
		want string
	}{
		{`not json`, "parse request"},
		{`{"type":"self_destruct"}`, "unknown request type"},
		{`{"type":"sim_press"}`, ErrNotSimulated.Error()},
		{`{"type":"sim_rotate","data":{"steps":1}}`, ErrNotSimulated.Error()},
	}
	for _, tt := range tests {
		resp := srv.handle(context.Background(), []byte(tt.line))
		if resp.Status != "error" || !strings.Contains(resp.Error, tt.want) {
			t.Errorf("handle(%s) = %+v, want error containing %q", tt.line, resp, tt.want)
		}
	}
}

func TestIPC_ServerOverSocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	go answerSnapshots(ctx, events, StateSnapshot{Rotation: 5}, nil)

	socket := filepath.Join(t.TempDir(), "knobd.sock")
	srv := &ipcServer{events: events, logger: discardLogger()}

	errCh := make(chan error, 1)
	go func() { errCh <- runIPCServer(ctx, socket, srv) }()

	var conn net.Conn
	waitUntil(t, time.Second, func() bool {
		c, err := net.Dial("unix", socket)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, "IPC socket never accepted connections")
	defer conn.Close()

	if _, err := conn.Write([]byte("{\"type\":\"get_snapshot\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp IPCResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	if resp.Status != "ok" || resp.Snapshot == nil || resp.Snapshot.Rotation != 5 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runIPCServer: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("IPC server did not stop")
	}
}
