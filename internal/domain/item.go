package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes the two tracked item families. Both share the same
// lifecycle and differ only in where they are stored and routed.
type Kind string

const (
	KindNotification Kind = "notification"
	KindDocument     Kind = "document"
)

func (k Kind) IsValid() bool {
	return k == KindNotification || k == KindDocument
}

// Plural is the URL segment used for the kind ("notifications", "documents").
func (k Kind) Plural() string { return string(k) + "s" }

// State is the lifecycle position of an item. The numeric codes are part of
// the wire format and must not be renumbered.
type State int

const (
	StatePending   State = 1
	StateDelivered State = 2
	StateFinalized State = 3
	StateDeleted   State = 4
)

var stateNames = map[State]string{
	StatePending:   "pending",
	StateDelivered: "delivered",
	StateFinalized: "finalized",
	StateDeleted:   "deleted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) IsValid() bool {
	_, ok := stateNames[s]
	return ok
}

// IsTerminal reports whether no transition may leave s.
func (s State) IsTerminal() bool {
	return s == StateFinalized || s == StateDeleted
}

// ParseState accepts either the lowercase name or the numeric code.
func ParseState(v string) (State, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if n, err := strconv.Atoi(v); err == nil {
		s := State(n)
		if s.IsValid() {
			return s, nil
		}
		return 0, fmt.Errorf("unknown state %q: %w", v, ErrBadRequest)
	}
	for s, name := range stateNames {
		if name == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown state %q: %w", v, ErrBadRequest)
}

// Recipient is who an item was delivered to: either an internal user
// reference or a free-text external name.
type Recipient struct {
	UserID string `json:"user_id,omitempty" dynamodbav:"user_id,omitempty" validate:"omitempty,ulid"`
	Name   string `json:"name,omitempty" dynamodbav:"name,omitempty"`
}

// Label is the human-readable form used in events and e-mails.
func (r Recipient) Label() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return r.UserID
}

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Disposition records the accept/reject decision taken when an item leaves Delivered.
type Disposition struct {
	Outcome   string    `json:"outcome" dynamodbav:"outcome"`
	Reason    string    `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	DecidedBy string    `json:"decided_by,omitempty" dynamodbav:"decided_by,omitempty"`
	DecidedAt time.Time `json:"decided_at" dynamodbav:"decided_at"`
}

// Attachment describes the S3 object linked to a document.
type Attachment struct {
	Object     string    `json:"object" dynamodbav:"object"`
	Name       string    `json:"name" dynamodbav:"name"`
	Type       string    `json:"type" dynamodbav:"type"`
	Size       int64     `json:"size" dynamodbav:"size"`
	Hash       string    `json:"hash" dynamodbav:"hash"`
	UploadedBy string    `json:"uploaded_by" dynamodbav:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at" dynamodbav:"uploaded_at"`
}

type Item struct {
	ItemID      int64        `json:"id" dynamodbav:"item_id"`
	Kind        Kind         `json:"kind" dynamodbav:"kind"`
	State       State        `json:"state" dynamodbav:"state"`
	Subject     string       `json:"subject" dynamodbav:"subject"`
	Reference   string       `json:"reference,omitempty" dynamodbav:"reference"`
	Origin      string       `json:"origin,omitempty" dynamodbav:"origin"`
	Notes       string       `json:"notes,omitempty" dynamodbav:"notes"`
	ReceivedBy  string       `json:"received_by" dynamodbav:"received_by"`
	CreatedBy   string       `json:"created_by" dynamodbav:"created_by"`
	DeliverTo   *Recipient   `json:"deliver_to,omitempty" dynamodbav:"deliver_to,omitempty"`
	DeliveredAt *time.Time   `json:"delivered_at,omitempty" dynamodbav:"delivered_at,omitempty"`
	Disposition *Disposition `json:"disposition,omitempty" dynamodbav:"disposition,omitempty"`
	Attachment  *Attachment  `json:"attachment,omitempty" dynamodbav:"attachment,omitempty"`
	CreatedAt   time.Time    `json:"created" dynamodbav:"created_at"`
	UpdatedAt   time.Time    `json:"updated" dynamodbav:"updated_at"`
}

// CheckInvariants reports the first violated lifecycle invariant, or nil.
func (it *Item) CheckInvariants() error {
	if !it.State.IsValid() {
		return fmt.Errorf("item %d: invalid state %d", it.ItemID, int(it.State))
	}
	delivered := it.DeliverTo != nil && it.DeliveredAt != nil
	if it.State == StatePending {
		if it.DeliverTo != nil || it.DeliveredAt != nil {
			return fmt.Errorf("item %d: pending item carries delivery data", it.ItemID)
		}
		if it.Disposition != nil {
			return fmt.Errorf("item %d: pending item carries a disposition", it.ItemID)
		}
		return nil
	}
	if !delivered {
		return fmt.Errorf("item %d: %s item is missing delivery data", it.ItemID, it.State)
	}
	if it.State.IsTerminal() && it.Disposition == nil {
		return fmt.Errorf("item %d: %s item is missing its disposition", it.ItemID, it.State)
	}
	return nil
}

// CreateItemRequest is the intake form payload.
type CreateItemRequest struct {
	Subject    string `json:"subject" validate:"notblank,max=500"`
	Reference  string `json:"reference" validate:"max=120"`
	Origin     string `json:"origin" validate:"max=200"`
	Notes      string `json:"notes" validate:"max=4000"`
	ReceivedBy string `json:"received_by"`
}

// ItemFilter narrows a listing. Zero values mean "no constraint".
type ItemFilter struct {
	State     State
	From      *time.Time
	To        *time.Time
	Text      string
	DeliverTo string
	Limit     int
	Cursor    string
}

// ItemPage is one page of a listing; NextCursor is empty on the last page.
type ItemPage struct {
	Items      []Item `json:"data"`
	NextCursor string `json:"next_cursor,omitempty"`
}
