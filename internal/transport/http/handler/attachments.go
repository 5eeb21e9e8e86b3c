package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/docket-desk/internal/application/attachment"
	"github.com/docket-desk/internal/transport/http/middleware"
)

// AttachmentHandler handles the scanned-file endpoints of documents.
type AttachmentHandler struct {
	svc      attachment.Service
	maxBytes int64
	storeMsg string
}

func NewAttachmentHandler(svc attachment.Service, maxBytes int64) *AttachmentHandler {
	return &AttachmentHandler{svc: svc, maxBytes: maxBytes}
}

// WithStoreMessage sets the text shown when the store fails without a message.
func (h *AttachmentHandler) WithStoreMessage(msg string) *AttachmentHandler {
	h.storeMsg = msg
	return h
}

func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	itemID, err := parseID(r)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	if r.ContentLength > h.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer f.Close()

	it, err := h.svc.Attach(r.Context(), itemID, attachment.UploadInput{
		Reader:      f,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Uploader:    actor,
	})
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

// Download redirects to a presigned URL, or streams the file with ?stream=1.
func (h *AttachmentHandler) Download(w http.ResponseWriter, r *http.Request) {
	itemID, err := parseID(r)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	if r.URL.Query().Get("stream") != "1" {
		url, _, err := h.svc.Link(r.Context(), itemID)
		if err != nil {
			httpError(w, err, h.storeMsg)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	rc, a, err := h.svc.Open(r.Context(), itemID)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", a.Type)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("attachment stream interrupted", "item_id", itemID, "err", err)
	}
}
