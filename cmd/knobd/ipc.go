package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: line-delimited JSON
//   - Client sends: {"type": "request_name", "data": {...}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//     get_snapshot replies also carry "snapshot".
//
// Requests:
//   get_snapshot             current counters and LED state
//   reset_rotation           zero the rotation counter
//   sim_rotate {"steps": N}  sim backend: turn N detents (negative = ccw)
//   sim_press                sim backend: press and release the button
// ============================================================================

const (
	ipcGetSnapshot   = "get_snapshot"
	ipcResetRotation = "reset_rotation"
	ipcSimRotate     = "sim_rotate"
	ipcSimPress      = "sim_press"

	ipcSnapshotTimeout = time.Second

	// maxSimRotateSteps bounds one sim_rotate request.
	maxSimRotateSteps = 10000
)

// IPCRequest is one request line.
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse is sent back for every request line.
type IPCResponse struct {
	Status   string         `json:"status"`          // "ok" or "error"
	Error    string         `json:"error,omitempty"` // set when status == "error"
	Snapshot *StateSnapshot `json:"snapshot,omitempty"`
}

type simRotateData struct {
	Steps int `json:"steps"`
}

// ipcServer dispatches requests to the daemon loop or the simulated board.
type ipcServer struct {
	events chan<- Event
	sim    *SimGPIO // nil unless gpio.backend is "sim"
	pins   EncoderPins
	logger *slog.Logger
}

// runIPCServer listens on socketPath until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, srv *ipcServer) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)
	defer listener.Close()

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	srv.logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				srv.logger.Debug("IPC listener closed")
				return nil
			}
			srv.logger.Error("IPC accept error", "error", err)
			continue
		}
		go srv.handleConn(ctx, conn)
	}
}

// handleConn processes request lines until the client disconnects.
func (s *ipcServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.logger.Debug("IPC received", "line", string(line))

		resp := s.handle(ctx, line)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
}

func ipcError(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}

// handle executes a single request line.
func (s *ipcServer) handle(ctx context.Context, line []byte) IPCResponse {
	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return ipcError(fmt.Errorf("parse request: %w", err))
	}

	switch req.Type {
	case ipcGetSnapshot:
		ctx, cancel := context.WithTimeout(ctx, ipcSnapshotTimeout)
		defer cancel()
		snap, err := requestSnapshot(ctx, s.events)
		if err != nil {
			return ipcError(fmt.Errorf("get snapshot: %w", err))
		}
		return IPCResponse{Status: "ok", Snapshot: &snap}

	case ipcResetRotation:
		select {
		case s.events <- ResetRotationRequested{}:
			return IPCResponse{Status: "ok"}
		default:
			return ipcError(errors.New("event queue full"))
		}

	case ipcSimRotate:
		if s.sim == nil {
			return ipcError(ErrNotSimulated)
		}
		var d simRotateData
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &d); err != nil {
				return ipcError(fmt.Errorf("parse sim_rotate: %w", err))
			}
		}
		if d.Steps > maxSimRotateSteps || d.Steps < -maxSimRotateSteps {
			return ipcError(fmt.Errorf("sim_rotate: steps %d out of range (max %d)", d.Steps, maxSimRotateSteps))
		}
		if err := s.sim.Rotate(s.pins.Clock, s.pins.Data, d.Steps); err != nil {
			return ipcError(err)
		}
		return IPCResponse{Status: "ok"}

	case ipcSimPress:
		if s.sim == nil {
			return ipcError(ErrNotSimulated)
		}
		if err := s.sim.Pulse(s.pins.Button); err != nil {
			return ipcError(err)
		}
		return IPCResponse{Status: "ok"}

	default:
		return ipcError(fmt.Errorf("unknown request type: %q", req.Type))
	}
}
