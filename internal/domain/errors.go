package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	ErrEmptySelection    = errors.New("empty selection")
	ErrMissingRecipient  = errors.New("missing recipient")
	ErrInvalidSelection  = errors.New("invalid selection")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrMalformedToken    = errors.New("malformed token")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// DefaultStoreMessage is shown when the store fails without saying why.
const DefaultStoreMessage = "the item store could not complete the request, please try again"

// TransitionError is returned when an action is not legal from an item's current state.
type TransitionError struct {
	ItemID int64
	From   State
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("item %d: cannot %s from %s", e.ItemID, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// StoreError carries a backend failure verbatim.
type StoreError struct {
	Status  int
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return DefaultStoreMessage
}

// Unwrap keeps the meaning of a remote store's client errors. Anything else,
// including a rejected gateway token, is the store being unavailable.
func (e *StoreError) Unwrap() []error {
	errs := []error{ErrStoreUnavailable}
	switch e.Status {
	case http.StatusConflict:
		errs = []error{ErrIllegalTransition}
	case http.StatusNotFound:
		errs = []error{ErrNotFound}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		errs = []error{ErrBadRequest}
	case http.StatusForbidden:
		errs = []error{ErrForbidden}
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ItemFailure is a single id the store refused inside a batch.
type ItemFailure struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// BatchResult is what the store reports for one bulk mutation.
type BatchResult struct {
	Updated []int64       `json:"updated"`
	Failed  []ItemFailure `json:"failed,omitempty"`
}

// BatchError wraps a BatchResult with at least one failure. Items listed in
// Updated stay committed.
type BatchError struct {
	Result BatchResult
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d items could not be updated",
		len(e.Result.Failed), len(e.Result.Failed)+len(e.Result.Updated))
}

func (e *BatchError) Unwrap() error { return ErrIllegalTransition }
