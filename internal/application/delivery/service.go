package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docket-desk/internal/application/transition"
	"github.com/docket-desk/internal/domain"
	"github.com/docket-desk/internal/pkg/id"
	"github.com/docket-desk/internal/pkg/validate"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service drives the delivery workflow: select items, validate eligibility,
// request the transition from the store.
type Service interface {
	List(ctx context.Context, kind domain.Kind, filter domain.ItemFilter) (*domain.ItemPage, error)
	Get(ctx context.Context, kind domain.Kind, itemID int64) (*domain.Item, error)
	GetMany(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Item, error)
	Create(ctx context.Context, kind domain.Kind, req domain.CreateItemRequest, actor domain.Actor) (*domain.Item, error)
	RequestDelivery(ctx context.Context, kind domain.Kind, mode domain.DeliverMode, sel *Selection, recipient domain.Recipient, actor domain.Actor) (*domain.BatchResult, error)
	RequestDisposition(ctx context.Context, kind domain.Kind, action domain.DispositionAction, accepted, rejected *Selection, reason string, actor domain.Actor) (*domain.BatchResult, error)
	Delete(ctx context.Context, kind domain.Kind, itemID int64, actor domain.Actor) (*domain.Item, error)
}

type ServiceDeps struct {
	Store     Store
	Publisher Publisher
	Now       func() time.Time
}

type service struct {
	store     Store
	publisher Publisher
	nowFn     func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{store: deps.Store, publisher: deps.Publisher, nowFn: deps.Now}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	return s
}

func (s *service) List(ctx context.Context, kind domain.Kind, filter domain.ItemFilter) (*domain.ItemPage, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown kind %q: %w", kind, domain.ErrBadRequest)
	}
	if filter.State != 0 && !filter.State.IsValid() {
		return nil, fmt.Errorf("unknown state %d: %w", int(filter.State), domain.ErrBadRequest)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("'to' is before 'from': %w", domain.ErrBadRequest)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	filter.Text = strings.TrimSpace(filter.Text)
	filter.DeliverTo = strings.TrimSpace(filter.DeliverTo)
	return s.store.List(ctx, kind, filter)
}

func (s *service) Get(ctx context.Context, kind domain.Kind, itemID int64) (*domain.Item, error) {
	items, err := s.GetMany(ctx, kind, []int64{itemID})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

// GetMany returns the items in the order of ids and fails with ErrNotFound if
// any id is unknown.
func (s *service) GetMany(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Item, error) {
	ids = transition.Dedup(ids)
	if len(ids) == 0 {
		return nil, domain.ErrEmptySelection
	}
	items, err := s.store.GetMany(ctx, kind, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Item, len(items))
	for _, it := range items {
		byID[it.ItemID] = it
	}
	out := make([]domain.Item, 0, len(ids))
	var missing []string
	for _, itemID := range ids {
		it, ok := byID[itemID]
		if !ok {
			missing = append(missing, fmt.Sprint(itemID))
			continue
		}
		out = append(out, it)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s %s: %w", kind, strings.Join(missing, ","), domain.ErrNotFound)
	}
	return out, nil
}

func (s *service) Create(ctx context.Context, kind domain.Kind, req domain.CreateItemRequest, actor domain.Actor) (*domain.Item, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown kind %q: %w", kind, domain.ErrBadRequest)
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}
	receivedBy := strings.TrimSpace(req.ReceivedBy)
	if receivedBy == "" {
		receivedBy = actor.Label()
	}
	ctx = domain.WithActor(ctx, actor)
	now := s.nowFn().UTC().Truncate(time.Second)
	it := &domain.Item{
		Kind:       kind,
		State:      domain.StatePending,
		Subject:    strings.TrimSpace(req.Subject),
		Reference:  strings.TrimSpace(req.Reference),
		Origin:     strings.TrimSpace(req.Origin),
		Notes:      req.Notes,
		ReceivedBy: receivedBy,
		CreatedBy:  actor.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, kind, it); err != nil {
		return nil, err
	}
	s.publish(ctx, domain.EventItemCreated, kind, []int64{it.ItemID}, nil, "", actor)
	return it, nil
}

func (s *service) RequestDelivery(ctx context.Context, kind domain.Kind, mode domain.DeliverMode, sel *Selection, recipient domain.Recipient, actor domain.Actor) (*domain.BatchResult, error) {
	if sel.Empty() {
		return nil, domain.ErrEmptySelection
	}
	recipient, err := checkRecipient(recipient)
	if err != nil {
		return nil, err
	}
	if mode != domain.ModeDeliver && mode != domain.ModeRedeliver {
		return nil, fmt.Errorf("unknown deliver action %d: %w", int(mode), domain.ErrBadRequest)
	}
	ctx = domain.WithActor(ctx, actor)
	action := transition.ForDeliverMode(mode)
	ids := sel.IDs()
	items, err := s.GetMany(ctx, kind, ids)
	if err != nil {
		return nil, err
	}
	if err := transition.CheckBatch(items, action); err != nil {
		return nil, err
	}
	res, err := s.store.Deliver(ctx, kind, domain.DeliveryRequest{
		Mode:      mode,
		ItemIDs:   ids,
		DeliverTo: recipient,
		Actor:     actor.UserID,
	})
	if err != nil {
		return nil, err
	}
	evType := domain.EventItemDelivered
	if mode == domain.ModeRedeliver {
		evType = domain.EventItemRedelivered
	}
	s.publish(ctx, evType, kind, res.Updated, &recipient, "", actor)
	if len(res.Failed) > 0 {
		return res, &domain.BatchError{Result: *res}
	}
	sel.Clear()
	return res, nil
}

func (s *service) RequestDisposition(ctx context.Context, kind domain.Kind, action domain.DispositionAction, accepted, rejected *Selection, reason string, actor domain.Actor) (*domain.BatchResult, error) {
	var acc, rej []int64
	switch action {
	case domain.ActionAccept:
		if accepted.Empty() {
			return nil, domain.ErrEmptySelection
		}
		if !rejected.Empty() {
			return nil, fmt.Errorf("reject ids given for accept: %w", domain.ErrInvalidSelection)
		}
		acc = accepted.IDs()
	case domain.ActionReject:
		if rejected.Empty() {
			return nil, domain.ErrEmptySelection
		}
		if !accepted.Empty() {
			return nil, fmt.Errorf("accept ids given for reject: %w", domain.ErrInvalidSelection)
		}
		rej = rejected.IDs()
	case domain.ActionPartial:
		var err error
		acc, rej, err = transition.SplitPartial(accepted.IDs(), rejected.IDs())
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown action %d: %w", int(action), domain.ErrBadRequest)
	}

	ctx = domain.WithActor(ctx, actor)
	all := append(append([]int64{}, acc...), rej...)
	items, err := s.GetMany(ctx, kind, all)
	if err != nil {
		return nil, err
	}
	if err := transition.CheckBatch(items[:len(acc)], transition.Accept); err != nil {
		return nil, err
	}
	if err := transition.CheckBatch(items[len(acc):], transition.Reject); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	res, err := s.store.Dispose(ctx, kind, domain.DispositionRequest{
		Action:   action,
		Accepted: acc,
		Rejected: rej,
		Reason:   reason,
		Actor:    actor.UserID,
	})
	if err != nil {
		return nil, err
	}
	s.publishDisposition(ctx, kind, acc, rej, res, reason, actor)
	if len(res.Failed) > 0 {
		return res, &domain.BatchError{Result: *res}
	}
	accepted.Clear()
	rejected.Clear()
	return res, nil
}

// Delete is an administrative override and ignores the lifecycle.
func (s *service) Delete(ctx context.Context, kind domain.Kind, itemID int64, actor domain.Actor) (*domain.Item, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("hard delete requires admin: %w", domain.ErrForbidden)
	}
	old, err := s.store.Delete(domain.WithActor(ctx, actor), kind, itemID)
	if err != nil {
		return nil, err
	}
	slog.Info("item hard-deleted", "kind", kind, "item_id", itemID, "by", actor.UserID)
	s.publish(ctx, domain.EventItemDeleted, kind, []int64{itemID}, nil, "", actor)
	return old, nil
}

func checkRecipient(r domain.Recipient) (domain.Recipient, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.UserID = strings.TrimSpace(r.UserID)
	if !transition.ValidRecipient(r) {
		return r, domain.ErrMissingRecipient
	}
	if r.UserID == "" || validate.Struct(r) == nil {
		return r, nil
	}
	// a free-text name is enough on its own; the bad reference is dropped
	if r.Name != "" {
		r.UserID = ""
		return r, nil
	}
	return r, fmt.Errorf("recipient %q is not a valid user reference: %w", r.UserID, domain.ErrMissingRecipient)
}

func (s *service) publishDisposition(ctx context.Context, kind domain.Kind, acc, rej []int64, res *domain.BatchResult, reason string, actor domain.Actor) {
	committed := make(map[int64]struct{}, len(res.Updated))
	for _, itemID := range res.Updated {
		committed[itemID] = struct{}{}
	}
	pick := func(ids []int64) []int64 {
		var out []int64
		for _, itemID := range ids {
			if _, ok := committed[itemID]; ok {
				out = append(out, itemID)
			}
		}
		return out
	}
	s.publish(ctx, domain.EventItemFinalized, kind, pick(acc), nil, "", actor)
	s.publish(ctx, domain.EventItemRejected, kind, pick(rej), nil, reason, actor)
}

func (s *service) publish(ctx context.Context, evType string, kind domain.Kind, ids []int64, to *domain.Recipient, reason string, actor domain.Actor) {
	if len(ids) == 0 {
		return
	}
	e := domain.Event{
		EventID:    id.New(),
		Type:       evType,
		Kind:       kind,
		ItemIDs:    ids,
		Recipient:  to,
		Reason:     reason,
		Actor:      actor.Label(),
		OccurredAt: s.nowFn().UTC(),
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		slog.Warn("event not published", "type", evType, "kind", kind, "err", err)
	}
}
