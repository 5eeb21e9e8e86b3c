package smtp

import (
	"context"
	"fmt"
	"strings"

	"github.com/docket-desk/internal/domain"
)

// DigestPublisher mails a short notice to a fixed mailbox whenever a batch is
// delivered, redelivered or rejected. Other events are ignored.
type DigestPublisher struct {
	mailer Mailer
	to     string
}

func NewDigestPublisher(m Mailer, to string) *DigestPublisher {
	return &DigestPublisher{mailer: m, to: to}
}

func (d *DigestPublisher) Publish(_ context.Context, e domain.Event) error {
	subject, body, ok := digest(e)
	if !ok {
		return nil
	}
	if err := d.mailer.SendEmail(d.to, subject, body); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	return nil
}

func digest(e domain.Event) (subject, body string, ok bool) {
	var verb string
	switch e.Type {
	case domain.EventItemDelivered:
		verb = "delivered"
	case domain.EventItemRedelivered:
		verb = "redelivered"
	case domain.EventItemRejected:
		verb = "rejected"
	default:
		return "", "", false
	}
	noun := e.Kind.Plural()
	if len(e.ItemIDs) == 1 {
		noun = string(e.Kind)
	}
	subject = fmt.Sprintf("%d %s %s", len(e.ItemIDs), noun, verb)

	ids := make([]string, len(e.ItemIDs))
	for i, itemID := range e.ItemIDs {
		ids[i] = fmt.Sprint(itemID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Items: %s\r\n", strings.Join(ids, ", "))
	if e.Recipient != nil {
		fmt.Fprintf(&b, "Delivered to: %s\r\n", e.Recipient.Label())
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\r\n", e.Reason)
	}
	fmt.Fprintf(&b, "By: %s\r\n", e.Actor)
	fmt.Fprintf(&b, "At: %s\r\n", e.OccurredAt.UTC().Format("2006-01-02 15:04:05 MST"))
	return subject, b.String(), true
}
