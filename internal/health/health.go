// Package health serves the liveness and readiness probes.
//
//   - GET /healthz answers 200 whenever the process can serve HTTP.
//   - GET /readyz runs every registered [Checker] and answers 200 only
//     when all of them pass; any failure yields 503.
//
// The readiness body is a JSON object with "status" ("ok" or "fail")
// and a per-checker "checks" map that includes the probe latency.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// checkTimeout caps a single readiness probe.
const checkTimeout = 5 * time.Second

// Checker is one named dependency probe. Check returns nil when the
// dependency can serve traffic and must respect context cancellation.
type Checker struct {
	// Name keys the probe result in the JSON response ("store", "oracle").
	Name string

	Check func(ctx context.Context) error
}

type checkResult struct {
	name    string
	err     error
	elapsed time.Duration
}

type readyBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates a fixed set of checkers. Safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness. Reaching the handler is the whole check.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, readyBody{Status: "ok"})
}

// Readyz runs every checker concurrently, each under its own
// [checkTimeout], and aggregates the results. One slow dependency
// therefore cannot starve the report of the others.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(ctx)
			results[i] = checkResult{name: c.Name, err: err, elapsed: time.Since(start)}
		}()
	}
	wg.Wait()

	body := readyBody{Status: "ok", Checks: make(map[string]string, len(results))}
	status := http.StatusOK
	for _, res := range results {
		if res.err != nil {
			body.Checks[res.name] = fmt.Sprintf("fail: %v (%s)", res.err, res.elapsed.Round(time.Millisecond))
			body.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		body.Checks[res.name] = fmt.Sprintf("ok (%s)", res.elapsed.Round(time.Millisecond))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
