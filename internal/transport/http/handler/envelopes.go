package handler

import (
	"net/http"

	"github.com/docket-desk/internal/domain"
	"github.com/docket-desk/internal/transport/http/middleware"
)

// MessageEnvelope is the generic response wrapper, the same one middleware
// errors use.
type MessageEnvelope = middleware.MessageEnvelope

// BatchEnvelope reports the outcome of a bulk action. On partial failure it is
// sent with 409 and Error set; Updated ids stay committed.
type BatchEnvelope struct {
	Message   string               `json:"message,omitempty"`
	Error     string               `json:"error,omitempty"`
	ErrorCode int                  `json:"error_code,omitempty"`
	Updated   []int64              `json:"updated"`
	Failed    []domain.ItemFailure `json:"failed,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	middleware.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}
