// Package health provides the liveness and readiness probes of the voice
// gateway.
//
// The package exposes two endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 while the gateway can take new
//     voice streams.
//
// Readiness distinguishes required subsystems from optional ones. A failing
// required check (the voice manager, the primary recognition backend) makes
// the gateway unready; a failing optional check (a fallback provider being
// offline) only degrades it, because streams still work without it.
//
// Responses are JSON objects with a top-level "status" field ("ok",
// "degraded" or "fail"), a "checks" map with the result of each named probe,
// and the number of live voice sessions when a session counter is attached.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. The Check function should return nil
// when the subsystem is healthy and a non-nil error describing the failure
// otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g.
	// "recognizer", "synthesizer"). It appears as a key in the JSON response.
	Name string

	// Optional marks a check whose failure degrades the gateway without
	// making it unready, such as a fallback provider being unreachable.
	Optional bool

	// Check probes the subsystem. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status       string            `json:"status"`
	Checks       map[string]string `json:"checks,omitempty"`
	LiveSessions *int              `json:"live_sessions,omitempty"`
}

// Handler serves the /healthz and /readyz endpoints. It is safe for
// concurrent use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	sessions func() int
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// ReportSessions attaches a live-session counter whose value is included in
// every /readyz response. Must be called before the handler serves traffic.
func (h *Handler) ReportSessions(fn func() int) { h.sessions = fn }

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe. It returns 503 when any required [Checker]
// fails, 200 with status "degraded" when only optional checkers fail, and
// 200 with status "ok" otherwise. Each checker runs under a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ready := true
	degraded := false

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			if c.Optional {
				degraded = true
			} else {
				ready = false
			}
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	if h.sessions != nil {
		n := h.sessions()
		res.LiveSessions = &n
	}
	status := http.StatusOK
	switch {
	case !ready:
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	case degraded:
		res.Status = "degraded"
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
