package middleware

import (
	"encoding/json"
	"net/http"
)

// MessageEnvelope is the response body for messages and errors, shared with
// the handlers so every error carries error_code.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// WriteJSON writes v as the JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}
