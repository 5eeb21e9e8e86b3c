package delivery

import (
	"context"
	"log/slog"

	"github.com/docket-desk/internal/domain"
)

// Store is the authoritative item store. Mutations must re-check each item's
// precondition and report lost races as per-item failures.
type Store interface {
	List(ctx context.Context, kind domain.Kind, filter domain.ItemFilter) (*domain.ItemPage, error)
	GetMany(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Item, error)
	Create(ctx context.Context, kind domain.Kind, it *domain.Item) error
	Deliver(ctx context.Context, kind domain.Kind, req domain.DeliveryRequest) (*domain.BatchResult, error)
	Dispose(ctx context.Context, kind domain.Kind, req domain.DispositionRequest) (*domain.BatchResult, error)
	Delete(ctx context.Context, kind domain.Kind, itemID int64) (*domain.Item, error)
}

// Publisher receives an event after every successful mutation.
type Publisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// MultiPublisher fans an event out to every publisher, stopping at none.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, e domain.Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			slog.Warn("publish event failed", "type", e.Type, "event_id", e.EventID, "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.Event) error { return nil }
