// Package health serves liveness and readiness probes for long-running
// commands.
//
// Two routes are exposed: /healthz always answers 200 once the process can
// serve HTTP, and /readyz answers 200 only while every registered [Checker]
// passes. Both reply with a JSON body carrying a "status" field and, for
// readiness, a per-check "checks" map. [Handler.Serve] runs the routes on a
// listener together with any extra handlers the caller wants on the same
// port, such as a metrics endpoint.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// checkTimeout bounds a single readiness check.
	checkTimeout = 5 * time.Second

	// shutdownTimeout bounds graceful server shutdown in [Handler.Serve].
	shutdownTimeout = 5 * time.Second
)

// Checker is a named readiness probe. Check returns nil while the dependency
// is usable and must respect context cancellation.
type Checker struct {
	// Name keys the check in the /readyz JSON response.
	Name string

	Check func(ctx context.Context) error
}

// DirWritable returns a [Checker] that verifies dir accepts writes by
// creating and removing a probe file.
func DirWritable(name, dir string) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			probe := filepath.Join(dir, ".health-probe")
			if err := os.WriteFile(probe, nil, 0o600); err != nil {
				return fmt.Errorf("dir %s not writable: %w", dir, err)
			}
			return os.Remove(probe)
		},
	}
}

// result is the JSON response body for both probe routes.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the probe routes. The checker list is fixed at
// construction, so a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] that runs the given checkers, in order, on every
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. It unconditionally reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every registered checker under a [checkTimeout] deadline
// derived from the request context and reports 503 if any of them fail.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Serve runs an HTTP server on l exposing the probe routes plus any extra
// handlers, keyed by route pattern. It blocks until ctx is cancelled, then
// shuts the server down gracefully. A closed listener counts as a clean exit.
func (h *Handler) Serve(ctx context.Context, l net.Listener, extra map[string]http.Handler) error {
	mux := http.NewServeMux()
	h.Register(mux)
	for pattern, handler := range extra {
		mux.Handle(pattern, handler)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// writeJSON encodes v with the given status code, falling back to a
// plain-text 500 when encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
