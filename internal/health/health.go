// Package health serves the device's status endpoints.
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when every registered
//     [Checker] passes.
//   - /status: the current display contents and device state, when a
//     status source is configured.
//
// Responses are JSON. The probes return a top-level "status" field ("ok" or
// "fail") and a "checks" map with the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphoxa-edge/internal/device"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the component is
// ready and an error describing the problem otherwise.
type Checker struct {
	// Name appears as a key in the /readyz response (e.g. "device").
	Name string

	// Check probes the component. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StateChecker reports ready once the device has finished booting and is
// neither activating nor in a fatal error.
func StateChecker(state func() device.State) Checker {
	return Checker{
		Name: "device",
		Check: func(context.Context) error {
			switch s := state(); s {
			case device.StateUnknown, device.StateStarting, device.StateConfiguring,
				device.StateActivating, device.StateFatalError:
				return fmt.Errorf("device is %s", s)
			}
			return nil
		},
	}
}

// result is the JSON response body for the probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithStatus serves the value returned by fn on /status.
func WithStatus(fn func() any) Option {
	return func(h *Handler) { h.status = fn }
}

// Handler serves the status endpoints. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	status   func() any
}

// New creates a [Handler] that evaluates checkers concurrently on each
// /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: slices.Clone(checkers)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every [Checker] passes. Each checker gets a
// context with a [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var mu sync.Mutex
	checks := make(map[string]string, len(h.checkers))
	failed := false

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)
			if err == nil {
				err = ctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Status serves the configured status snapshot.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusNotFound, result{Status: "fail"})
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if h.status != nil {
		mux.HandleFunc("GET /status", h.Status)
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
