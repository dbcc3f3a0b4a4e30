package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// newHTTPHandler wires /ws (event stream) and /status (JSON snapshot).
func newHTTPHandler(ws *Server, events chan<- Event, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.handleWS)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap, err := requestSnapshot(r.Context(), events)
		if err != nil {
			logger.Warn("status snapshot request failed", "error", err)
			http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			logger.Debug("status response write failed", "error", err)
		}
	})
	return mux
}

// runHTTPServer serves handler on port and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("http server listening", "port", port)

	errCh := make(chan error, 1)
	go func() {
		// ErrServerClosed is the clean Shutdown path.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
