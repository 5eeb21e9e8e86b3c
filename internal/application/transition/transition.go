// Package transition holds the item lifecycle rules. It performs no I/O.
//
//	Pending --Deliver--> Delivered --Accept--> Finalized
//	                     Delivered --Reject--> Deleted
//	                     Delivered --Redeliver--> Delivered
package transition

import (
	"fmt"
	"strings"
	"time"

	"github.com/docket-desk/internal/domain"
)

// Action is a single-item lifecycle step.
type Action string

const (
	Deliver   Action = "deliver"
	Redeliver Action = "redeliver"
	Accept    Action = "accept"
	Reject    Action = "reject"
)

// source is the only state each action may start from.
var source = map[Action]domain.State{
	Deliver:   domain.StatePending,
	Redeliver: domain.StateDelivered,
	Accept:    domain.StateDelivered,
	Reject:    domain.StateDelivered,
}

// target is the state an item is left in.
var target = map[Action]domain.State{
	Deliver:   domain.StateDelivered,
	Redeliver: domain.StateDelivered,
	Accept:    domain.StateFinalized,
	Reject:    domain.StateDeleted,
}

// Source returns the required starting state for a.
func Source(a Action) (domain.State, bool) {
	s, ok := source[a]
	return s, ok
}

// Target returns the state a leaves an item in.
func Target(a Action) (domain.State, bool) {
	s, ok := target[a]
	return s, ok
}

// ForDeliverMode maps the wire deliver mode to an Action.
func ForDeliverMode(m domain.DeliverMode) Action {
	if m == domain.ModeRedeliver {
		return Redeliver
	}
	return Deliver
}

// Check reports whether a may be applied to an item of item ID in state s.
func Check(itemID int64, s domain.State, a Action) error {
	from, ok := source[a]
	if !ok {
		return fmt.Errorf("unknown action %q: %w", a, domain.ErrBadRequest)
	}
	if s != from {
		return &domain.TransitionError{ItemID: itemID, From: s, Action: string(a)}
	}
	return nil
}

// CheckBatch checks every item independently and returns the first illegal one.
func CheckBatch(items []domain.Item, a Action) error {
	for i := range items {
		if err := Check(items[i].ItemID, items[i].State, a); err != nil {
			return err
		}
	}
	return nil
}

// Dedup removes repeated ids while keeping first-seen order.
func Dedup(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SplitPartial prepares the two subsets of a partial selection. Each subset is
// deduplicated; an id present in both is a caller error.
func SplitPartial(accepted, rejected []int64) ([]int64, []int64, error) {
	acc := Dedup(accepted)
	rej := Dedup(rejected)
	if len(acc) == 0 && len(rej) == 0 {
		return nil, nil, domain.ErrEmptySelection
	}
	inAcc := make(map[int64]struct{}, len(acc))
	for _, id := range acc {
		inAcc[id] = struct{}{}
	}
	var overlap []string
	for _, id := range rej {
		if _, ok := inAcc[id]; ok {
			overlap = append(overlap, fmt.Sprint(id))
		}
	}
	if len(overlap) > 0 {
		return nil, nil, fmt.Errorf("ids %s are both accepted and rejected: %w",
			strings.Join(overlap, ","), domain.ErrInvalidSelection)
	}
	return acc, rej, nil
}

// Command carries the inputs of one transition.
type Command struct {
	Action    Action
	Recipient domain.Recipient
	Reason    string
	Actor     string
	At        time.Time
}

// Apply performs a legal transition on it in memory. Nothing is changed when
// the transition is illegal.
func Apply(it *domain.Item, cmd Command) error {
	if err := Check(it.ItemID, it.State, cmd.Action); err != nil {
		return err
	}
	at := cmd.At.UTC().Truncate(time.Second)
	switch cmd.Action {
	case Deliver:
		r := cmd.Recipient
		it.DeliverTo = &r
		it.DeliveredAt = &at
		it.Disposition = nil
	case Redeliver:
		r := cmd.Recipient
		it.DeliverTo = &r
		it.Disposition = nil
	case Accept:
		it.Disposition = &domain.Disposition{Outcome: domain.OutcomeAccepted, DecidedBy: cmd.Actor, DecidedAt: at}
	case Reject:
		it.Disposition = &domain.Disposition{Outcome: domain.OutcomeRejected, Reason: cmd.Reason, DecidedBy: cmd.Actor, DecidedAt: at}
	}
	it.State = target[cmd.Action]
	it.UpdatedAt = at
	return nil
}

// ValidRecipient reports whether r names someone: a non-blank free-text name
// or a non-empty user reference.
func ValidRecipient(r domain.Recipient) bool {
	return strings.TrimSpace(r.Name) != "" || strings.TrimSpace(r.UserID) != ""
}
