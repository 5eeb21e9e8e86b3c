package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/docket-desk/internal/application/delivery"
	"github.com/docket-desk/internal/domain"
	"github.com/docket-desk/internal/pkg/batchtoken"
	"github.com/docket-desk/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

// ItemHandler serves the workflow endpoints of one item kind.
type ItemHandler struct {
	svc      delivery.Service
	kind     domain.Kind
	storeMsg string
}

func NewItemHandler(svc delivery.Service, kind domain.Kind) *ItemHandler {
	return &ItemHandler{svc: svc, kind: kind}
}

// WithStoreMessage sets the text shown when the store fails without a message.
func (h *ItemHandler) WithStoreMessage(msg string) *ItemHandler {
	h.storeMsg = msg
	return h
}

// List serves both the filtered listing and, with ?ids={token}, a batch fetch.
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Has("ids") {
		ids, err := batchtoken.Decode(q.Get("ids"))
		if err != nil {
			httpError(w, err, h.storeMsg)
			return
		}
		items, err := h.svc.GetMany(r.Context(), h.kind, ids)
		if err != nil {
			httpError(w, err, h.storeMsg)
			return
		}
		writeJSON(w, http.StatusOK, domain.ItemPage{Items: items})
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	page, err := h.svc.List(r.Context(), h.kind, filter)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	itemID, err := parseID(r)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	it, err := h.svc.Get(r.Context(), h.kind, itemID)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	it, err := h.svc.Create(r.Context(), h.kind, req, actor)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

// Deliver handles PATCH /deliver/{action} where action is 1 (deliver) or 2 (redeliver).
func (h *ItemHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	mode, err := domain.ParseDeliverMode(chi.URLParam(r, "action"))
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	var body domain.DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sel := delivery.NewSelection(body.ItemIDs...)
	res, err := h.svc.RequestDelivery(r.Context(), h.kind, mode, sel, body.DeliverTo, actor)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	writeJSON(w, http.StatusOK, BatchEnvelope{
		Message: fmt.Sprintf("%d %s %sed", len(res.Updated), h.kind.Plural(), mode),
		Updated: res.Updated,
	})
}

// Actions handles PATCH /actions?action=1|2&items={token} and
// ?action=3&itemsAccepted={token}&itemsRejected={token}.
func (h *ItemHandler) Actions(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	action, err := domain.ParseDispositionAction(q.Get("action"))
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}

	var accepted, rejected *delivery.Selection
	switch action {
	case domain.ActionAccept:
		accepted, err = selectionParam(q.Get("items"))
	case domain.ActionReject:
		rejected, err = selectionParam(q.Get("items"))
	default:
		if accepted, err = selectionParam(q.Get("itemsAccepted")); err == nil {
			rejected, err = selectionParam(q.Get("itemsRejected"))
		}
	}
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.RequestDisposition(r.Context(), h.kind, action, accepted, rejected, body.Reason, actor)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	writeJSON(w, http.StatusOK, BatchEnvelope{
		Message: fmt.Sprintf("%d %s updated", len(res.Updated), h.kind.Plural()),
		Updated: res.Updated,
	})
}

// Delete is the administrative hard delete.
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
	it, err := h.svc.Delete(r.Context(), h.kind, itemID, actor)
	if err != nil {
		httpError(w, err, h.storeMsg)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func parseID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", raw, domain.ErrBadRequest)
	}
	return n, nil
}

// selectionParam decodes a batch token. A missing parameter is an empty selection.
func selectionParam(token string) (*delivery.Selection, error) {
	if token == "" {
		return delivery.NewSelection(), nil
	}
	ids, err := batchtoken.Decode(token)
	if err != nil {
		return nil, err
	}
	return delivery.NewSelection(ids...), nil
}

func parseFilter(r *http.Request) (domain.ItemFilter, error) {
	q := r.URL.Query()
	f := domain.ItemFilter{
		Text:      q.Get("q"),
		DeliverTo: q.Get("deliver_to"),
		Cursor:    q.Get("cursor"),
	}
	var err error
	if v := q.Get("state"); v != "" {
		if f.State, err = domain.ParseState(v); err != nil {
			return f, err
		}
	}
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v, false)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v, true)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("invalid limit %q: %w", v, domain.ErrBadRequest)
		}
	}
	return f, nil
}

// parseTime accepts RFC 3339 or a plain date. A plain "to" date covers the
// whole day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v, domain.ErrBadRequest)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}
