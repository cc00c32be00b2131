package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"fieldops/internal/dispatch"
	"fieldops/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain sentinels to problem responses.
func writeError(w http.ResponseWriter, err error, instance string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), instance)
	case errors.Is(err, dispatch.ErrInvalidTransition):
		writeProblem(w, http.StatusConflict, "Invalid Transition", err.Error(), instance)
	case errors.Is(err, dispatch.ErrPreconditionFailed):
		writeProblem(w, http.StatusConflict, "Precondition Failed", err.Error(), instance)
	case errors.Is(err, dispatch.ErrSyncConflict):
		writeProblem(w, http.StatusConflict, "Sync Conflict", err.Error(), instance)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Error", err.Error(), instance)
	}
}
