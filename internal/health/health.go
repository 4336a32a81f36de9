// Package health serves the liveness and readiness probes of the censor.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 once startup has finished and every [Checker]
//     passes; until [Handler.MarkStarted] is called it answers 503 "starting".
//
// Both respond with a JSON object carrying "status", the per-check results
// and, when registered, informational values such as the censor state.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 3 * time.Second

// Checker probes one dependency, e.g. the OBS connection.
type Checker struct {
	Name string

	// Check returns nil when the dependency is usable. It must respect ctx.
	Check func(ctx context.Context) error
}

// Info reports a value shown on /readyz without affecting the status.
type Info struct {
	Name  string
	Value func() string
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Info   map[string]string `json:"info,omitempty"`
}

// Handler serves the probe endpoints. Checkers and infos are fixed at
// construction.
type Handler struct {
	checkers []Checker
	infos    []Info
	started  atomic.Bool
}

// New returns a Handler that is not yet started.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// WithInfo adds informational values to /readyz and returns h.
func (h *Handler) WithInfo(infos ...Info) *Handler {
	h.infos = append(h.infos, infos...)
	return h
}

// MarkStarted flips readiness on once the startup checks have passed.
func (h *Handler) MarkStarted() { h.started.Store(true) }

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under its own timeout.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if !h.started.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "starting"})
		return
	}

	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	if len(h.infos) > 0 {
		res.Info = make(map[string]string, len(h.infos))
		for _, in := range h.infos {
			res.Info[in.Name] = in.Value()
		}
	}
	writeJSON(w, status, res)
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
