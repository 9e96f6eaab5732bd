// Package api exposes the command dispatcher to other processes: JSON over
// loopback HTTP and an MCP stdio server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/netutil"

	"github.com/kalambet/tfmt/internal/ipc"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Dispatcher is the command boundary the transports front.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, raw json.RawMessage) ipc.Envelope
	Commands() []string
}

// NewHandler returns the HTTP surface:
//
//	GET  /health            liveness, unauthenticated
//	GET  /commands          the command catalog
//	POST /ipc/{command}     body is the payload; response is the Envelope
//
// Dispatched commands always answer 200: success or failure lives in the
// envelope. Non-2xx statuses are reserved for transport problems.
func NewHandler(d Dispatcher, token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(token))
		r.Get("/commands", handleCommands(d))
		r.Post("/ipc/{command}", handleDispatch(d))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCommands(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"commands": d.Commands()})
	}
}

func handleDispatch(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds %d bytes", tooLarge.Limit)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}

		env := d.Dispatch(r.Context(), chi.URLParam(r, "command"), body)
		writeJSON(w, env)
	}
}

// Listen opens a loopback listener on port that accepts at most maxConns
// simultaneous connections.
func Listen(port, maxConns int) (net.Listener, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// NewServer wraps h with the timeouts used for the loopback transport.
// Request contexts derive from base, so shutdown reaches in-flight commands.
func NewServer(base context.Context, h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
