package boundary

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/agentfield/internal/agent"
	"github.com/MrWong99/agentfield/internal/group"
	"github.com/MrWong99/agentfield/internal/store"
)

// Kind is the machine-readable error class surfaced to clients. Core
// packages return sentinel errors; the boundary is the only place that
// translates them into kinds and status codes.
type Kind string

const (
	KindAgentUnknown       Kind = "agent_unknown"
	KindAgentUninitialized Kind = "agent_uninitialized"
	KindStoreUnavailable   Kind = "store_unavailable"
	KindInvalidArgument    Kind = "invalid_argument"
	KindNotFound           Kind = "not_found"
	KindGroupClosed        Kind = "group_closed"
	KindConflict           Kind = "conflict"
	KindRateLimited        Kind = "rate_limited"
	KindInternal           Kind = "internal"
)

// apiError carries a classified failure from a handler to writeError.
type apiError struct {
	kind      Kind
	status    int
	message   string
	retryable bool
}

func (e *apiError) Error() string { return e.message }

func badRequest(message string) *apiError {
	return &apiError{kind: KindInvalidArgument, status: http.StatusBadRequest, message: message}
}

func notFound(message string) *apiError {
	return &apiError{kind: KindNotFound, status: http.StatusNotFound, message: message}
}

func conflict(message string) *apiError {
	return &apiError{kind: KindConflict, status: http.StatusConflict, message: message}
}

// errSaturated reports a full dispatch pool.
var errSaturated = &apiError{
	kind:      KindRateLimited,
	status:    http.StatusTooManyRequests,
	message:   "boundary: dispatch pool saturated, retry shortly",
	retryable: true,
}

// classify maps an error from the core onto its surface form. Handlers
// that know better (store reads degrading to cache, quest transitions)
// pre-classify with the helpers above; everything else lands here.
func classify(err error) *apiError {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, agent.ErrAgentNotFound):
		return &apiError{kind: KindAgentUnknown, status: http.StatusNotFound, message: err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return &apiError{kind: KindNotFound, status: http.StatusNotFound, message: err.Error()}
	case errors.Is(err, store.ErrUnavailable):
		return &apiError{
			kind: KindStoreUnavailable, status: http.StatusServiceUnavailable,
			message: "store unavailable, write queued or dropped", retryable: true,
		}
	case errors.Is(err, group.ErrGroupUnknown):
		return &apiError{kind: KindNotFound, status: http.StatusNotFound, message: err.Error()}
	case errors.Is(err, group.ErrGroupClosed):
		return &apiError{kind: KindGroupClosed, status: http.StatusGone, message: err.Error()}
	case errors.Is(err, group.ErrNoNPCs), errors.Is(err, group.ErrGroupFull), errors.Is(err, group.ErrNotInGroup):
		return &apiError{kind: KindInvalidArgument, status: http.StatusBadRequest, message: err.Error()}
	default:
		return &apiError{kind: KindInternal, status: http.StatusInternalServerError, message: err.Error()}
	}
}

// errorBody is the JSON error envelope: {"error": {kind, message, retryable?}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	ae := classify(err)
	if ae.status >= http.StatusInternalServerError {
		slog.Error("boundary: request failed", "kind", ae.kind, "error", ae.message)
	}
	writeJSON(w, ae.status, errorBody{Error: errorDetail{
		Kind: ae.kind, Message: ae.message, Retryable: ae.retryable,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("boundary: response encode failed", "error", err)
	}
}

// decodeJSON reads a request body into v with unknown fields rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}
