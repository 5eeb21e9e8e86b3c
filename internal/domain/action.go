package domain

import (
	"fmt"
	"strconv"
)

// DeliverMode is the {action} path segment of PATCH /deliver/{action}.
type DeliverMode int

const (
	ModeDeliver   DeliverMode = 1
	ModeRedeliver DeliverMode = 2
)

func (m DeliverMode) String() string {
	switch m {
	case ModeDeliver:
		return "deliver"
	case ModeRedeliver:
		return "redeliver"
	}
	return fmt.Sprintf("deliver-mode(%d)", int(m))
}

func ParseDeliverMode(v string) (DeliverMode, error) {
	n, err := strconv.Atoi(v)
	if err != nil || (DeliverMode(n) != ModeDeliver && DeliverMode(n) != ModeRedeliver) {
		return 0, fmt.Errorf("unknown deliver action %q: %w", v, ErrBadRequest)
	}
	return DeliverMode(n), nil
}

// DispositionAction is the action query parameter of PATCH /actions.
type DispositionAction int

const (
	ActionAccept  DispositionAction = 1
	ActionReject  DispositionAction = 2
	ActionPartial DispositionAction = 3
)

func (a DispositionAction) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionReject:
		return "reject"
	case ActionPartial:
		return "partial-select"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func ParseDispositionAction(v string) (DispositionAction, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < int(ActionAccept) || n > int(ActionPartial) {
		return 0, fmt.Errorf("unknown action %q: %w", v, ErrBadRequest)
	}
	return DispositionAction(n), nil
}

// DeliveryRequest is the store-facing form of a deliver/redeliver batch.
type DeliveryRequest struct {
	Mode      DeliverMode `json:"-"`
	ItemIDs   []int64     `json:"itemIds"`
	DeliverTo Recipient   `json:"deliverTo"`
	Actor     string      `json:"-"`
}

// DispositionRequest is the store-facing form of an accept/reject batch.
// For ActionAccept only Accepted is used, for ActionReject only Rejected.
type DispositionRequest struct {
	Action   DispositionAction
	Accepted []int64
	Rejected []int64
	Reason   string
	Actor    string
}
