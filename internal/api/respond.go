package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// errorResponse is the failure envelope: ok is always false, error is
// human-readable, and field names the offending answer when one exists.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func httpError(w http.ResponseWriter, status int, field, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{
		OK:    false,
		Error: fmt.Sprintf(format, args...),
		Field: field,
	})
}

func writeOK(w http.ResponseWriter, extra map[string]any) {
	payload := map[string]any{"ok": true}
	for k, v := range extra {
		payload[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
