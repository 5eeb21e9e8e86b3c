package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/docket-desk/internal/domain"
)

// httpError maps a service error onto a status code and writes it. storeMsg,
// when set, replaces the generic text of a store failure that carries no
// message of its own.
func httpError(w http.ResponseWriter, err error, storeMsg string) {
	var be *domain.BatchError
	if errors.As(err, &be) {
		writeJSON(w, http.StatusConflict, BatchEnvelope{
			Error:     be.Error(),
			ErrorCode: http.StatusConflict,
			Updated:   be.Result.Updated,
			Failed:    be.Result.Failed,
		})
		return
	}
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("unhandled error", "err", err)
		writeError(w, status, "internal server error")
		return
	}
	msg := err.Error()
	var se *domain.StoreError
	if storeMsg != "" && errors.As(err, &se) && se.Message == "" {
		msg = storeMsg
	}
	writeError(w, status, msg)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest),
		errors.Is(err, domain.ErrEmptySelection),
		errors.Is(err, domain.ErrMissingRecipient),
		errors.Is(err, domain.ErrInvalidSelection),
		errors.Is(err, domain.ErrMalformedToken):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
