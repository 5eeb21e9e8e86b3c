package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docket-desk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockStore struct{ mock.Mock }

func (m *mockStore) List(ctx context.Context, kind domain.Kind, filter domain.ItemFilter) (*domain.ItemPage, error) {
	args := m.Called(ctx, kind, filter)
	if p, _ := args.Get(0).(*domain.ItemPage); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockStore) GetMany(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Item, error) {
	args := m.Called(ctx, kind, ids)
	items, _ := args.Get(0).([]domain.Item)
	return items, args.Error(1)
}
func (m *mockStore) Create(ctx context.Context, kind domain.Kind, it *domain.Item) error {
	return m.Called(ctx, kind, it).Error(0)
}
func (m *mockStore) Deliver(ctx context.Context, kind domain.Kind, req domain.DeliveryRequest) (*domain.BatchResult, error) {
	args := m.Called(ctx, kind, req)
	if r, _ := args.Get(0).(*domain.BatchResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockStore) Dispose(ctx context.Context, kind domain.Kind, req domain.DispositionRequest) (*domain.BatchResult, error) {
	args := m.Called(ctx, kind, req)
	if r, _ := args.Get(0).(*domain.BatchResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockStore) Delete(ctx context.Context, kind domain.Kind, itemID int64) (*domain.Item, error) {
	args := m.Called(ctx, kind, itemID)
	if it, _ := args.Get(0).(*domain.Item); it != nil {
		return it, args.Error(1)
	}
	return nil, args.Error(1)
}

type recordingPublisher struct {
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.events = append(p.events, e)
	return p.err
}

// --- helpers ---

var (
	ctx      = context.Background()
	fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	operator = domain.Actor{UserID: "01HZY3V8J6K1Q2R3S4T5V6W7X8", Name: "Ana", Role: domain.RoleOperator}
	admin    = domain.Actor{UserID: "01HZY3V8J6K1Q2R3S4T5V6W7X9", Name: "Root", Role: domain.RoleAdmin}
)

func newSvc(store *mockStore, pub Publisher) Service {
	return NewService(ServiceDeps{Store: store, Publisher: pub, Now: func() time.Time { return fixedNow }})
}

func item(id int64, s domain.State) domain.Item {
	it := domain.Item{ItemID: id, Kind: domain.KindNotification, State: s}
	if s != domain.StatePending {
		at := fixedNow.Add(-time.Hour)
		it.DeliverTo = &domain.Recipient{Name: "Mesa de partes"}
		it.DeliveredAt = &at
	}
	return it
}

// --- RequestDelivery ---

func TestRequestDelivery_PendingBecomesDelivered(t *testing.T) {
	store := &mockStore{}
	pub := &recordingPublisher{}
	svc := newSvc(store, pub)
	recipientA := domain.Recipient{Name: "Lic. Ramos"}

	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{1}).Return([]domain.Item{item(1, domain.StatePending)}, nil)
	store.On("Deliver", mock.Anything, domain.KindNotification, domain.DeliveryRequest{
		Mode: domain.ModeDeliver, ItemIDs: []int64{1}, DeliverTo: recipientA, Actor: operator.UserID,
	}).Return(&domain.BatchResult{Updated: []int64{1}}, nil)

	sel := NewSelection(1)
	res, err := svc.RequestDelivery(ctx, domain.KindNotification, domain.ModeDeliver, sel, recipientA, operator)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, res.Updated)
	assert.True(t, sel.Empty())
	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventItemDelivered, pub.events[0].Type)
	assert.Equal(t, "Lic. Ramos", pub.events[0].Recipient.Name)
	store.AssertExpectations(t)
}

func TestRequestDelivery_EmptySelection_StoreNeverCalled(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)

	_, err := svc.RequestDelivery(ctx, domain.KindNotification, domain.ModeDeliver, NewSelection(), domain.Recipient{Name: "A"}, operator)
	assert.ErrorIs(t, err, domain.ErrEmptySelection)
	store.AssertNotCalled(t, "GetMany", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestDelivery_MissingRecipient(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)

	for _, r := range []domain.Recipient{{}, {Name: "   "}, {UserID: "not-a-ulid"}} {
		_, err := svc.RequestDelivery(ctx, domain.KindDocument, domain.ModeDeliver, NewSelection(1), r, operator)
		assert.ErrorIs(t, err, domain.ErrMissingRecipient)
	}
	store.AssertNotCalled(t, "GetMany", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestDelivery_NameIsEnoughWithBadUserReference(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)
	want := domain.Recipient{Name: "Estudio Pérez"}

	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{1}).Return([]domain.Item{item(1, domain.StatePending)}, nil)
	store.On("Deliver", mock.Anything, domain.KindNotification, domain.DeliveryRequest{
		Mode: domain.ModeDeliver, ItemIDs: []int64{1}, DeliverTo: want, Actor: operator.UserID,
	}).Return(&domain.BatchResult{Updated: []int64{1}}, nil)

	res, err := svc.RequestDelivery(ctx, domain.KindNotification, domain.ModeDeliver, NewSelection(1),
		domain.Recipient{UserID: "jdoe", Name: " Estudio Pérez "}, operator)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, res.Updated)
	store.AssertExpectations(t)
}

func TestRequestDelivery_ValidUserReferenceKept(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)
	want := domain.Recipient{UserID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", Name: "Lic. Ramos"}

	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{1}).Return([]domain.Item{item(1, domain.StatePending)}, nil)
	store.On("Deliver", mock.Anything, domain.KindNotification, mock.MatchedBy(func(req domain.DeliveryRequest) bool {
		return req.DeliverTo == want
	})).Return(&domain.BatchResult{Updated: []int64{1}}, nil)

	_, err := svc.RequestDelivery(ctx, domain.KindNotification, domain.ModeDeliver, NewSelection(1), want, operator)
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestMutations_CarryActorToStore(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)
	withOperator := mock.MatchedBy(func(c context.Context) bool {
		a, ok := domain.ActorFrom(c)
		return ok && a == operator
	})
	withAdmin := mock.MatchedBy(func(c context.Context) bool {
		a, ok := domain.ActorFrom(c)
		return ok && a == admin
	})

	store.On("GetMany", withOperator, domain.KindNotification, []int64{1}).Return([]domain.Item{item(1, domain.StatePending)}, nil).Once()
	store.On("Deliver", withOperator, domain.KindNotification, mock.Anything).Return(&domain.BatchResult{Updated: []int64{1}}, nil)
	store.On("GetMany", withOperator, domain.KindNotification, []int64{2}).Return([]domain.Item{item(2, domain.StateDelivered)}, nil).Once()
	store.On("Dispose", withOperator, domain.KindNotification, mock.Anything).Return(&domain.BatchResult{Updated: []int64{2}}, nil)
	store.On("Create", withOperator, domain.KindNotification, mock.Anything).Return(nil)
	gone := item(3, domain.StatePending)
	store.On("Delete", withAdmin, domain.KindNotification, int64(3)).Return(&gone, nil)

	_, err := svc.RequestDelivery(ctx, domain.KindNotification, domain.ModeDeliver, NewSelection(1), domain.Recipient{Name: "A"}, operator)
	require.NoError(t, err)
	_, err = svc.RequestDisposition(ctx, domain.KindNotification, domain.ActionAccept, NewSelection(2), NewSelection(), "", operator)
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.KindNotification, domain.CreateItemRequest{Subject: "Oficio"}, operator)
	require.NoError(t, err)
	_, err = svc.Delete(ctx, domain.KindNotification, 3, admin)
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestRequestDelivery_IllegalItem_NoMutation(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)

	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{1, 2}).
		Return([]domain.Item{item(1, domain.StatePending), item(2, domain.StateFinalized)}, nil)

	sel := NewSelection(1, 2, 1)
	_, err := svc.RequestDelivery(ctx, domain.KindNotification, domain.ModeDeliver, sel, domain.Recipient{Name: "A"}, operator)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Equal(t, []int64{1, 2}, sel.IDs())
	store.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestDelivery_RedeliverRequiresDelivered(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)
	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{3}).Return([]domain.Item{item(3, domain.StatePending)}, nil)

	_, err := svc.RequestDelivery(ctx, domain.KindNotification, domain.ModeRedeliver, NewSelection(3), domain.Recipient{Name: "B"}, operator)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestRequestDelivery_UnknownItem(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)
	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{1, 8}).Return([]domain.Item{item(1, domain.StatePending)}, nil)

	_, err := svc.RequestDelivery(ctx, domain.KindNotification, domain.ModeDeliver, NewSelection(1, 8), domain.Recipient{Name: "A"}, operator)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorContains(t, err, "notification 8")
}

func TestRequestDelivery_StoreErrorPropagatedUnchanged(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)
	storeErr := &domain.StoreError{Status: 503, Message: "backend caído"}

	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{1}).Return([]domain.Item{item(1, domain.StatePending)}, nil)
	store.On("Deliver", mock.Anything, domain.KindNotification, mock.Anything).Return(nil, storeErr).Once()

	sel := NewSelection(1)
	_, err := svc.RequestDelivery(ctx, domain.KindNotification, domain.ModeDeliver, sel, domain.Recipient{Name: "A"}, operator)
	assert.Same(t, storeErr, err)
	assert.Equal(t, "backend caído", err.Error())
	assert.Equal(t, 1, sel.Len())
	store.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestRequestDelivery_LostRaceReportedAsBatchError(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)
	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{1, 2}).
		Return([]domain.Item{item(1, domain.StatePending), item(2, domain.StatePending)}, nil)
	store.On("Deliver", mock.Anything, domain.KindNotification, mock.Anything).Return(&domain.BatchResult{
		Updated: []int64{1},
		Failed:  []domain.ItemFailure{{ID: 2, Reason: "item 2: cannot deliver from delivered"}},
	}, nil)

	sel := NewSelection(1, 2)
	res, err := svc.RequestDelivery(ctx, domain.KindNotification, domain.ModeDeliver, sel, domain.Recipient{Name: "A"}, operator)
	var be *domain.BatchError
	require.ErrorAs(t, err, &be)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Equal(t, []int64{1}, res.Updated)
	assert.Equal(t, 2, sel.Len())
}

// --- RequestDisposition ---

func TestRequestDisposition_AcceptFinalizes(t *testing.T) {
	store := &mockStore{}
	pub := &recordingPublisher{}
	svc := newSvc(store, pub)

	store.On("GetMany", mock.Anything, domain.KindDocument, []int64{1}).Return([]domain.Item{item(1, domain.StateDelivered)}, nil)
	store.On("Dispose", mock.Anything, domain.KindDocument, domain.DispositionRequest{
		Action: domain.ActionAccept, Accepted: []int64{1}, Actor: operator.UserID,
	}).Return(&domain.BatchResult{Updated: []int64{1}}, nil)

	acc := NewSelection(1)
	_, err := svc.RequestDisposition(ctx, domain.KindDocument, domain.ActionAccept, acc, NewSelection(), "", operator)
	require.NoError(t, err)
	assert.True(t, acc.Empty())
	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventItemFinalized, pub.events[0].Type)
	store.AssertExpectations(t)
}

func TestRequestDisposition_AcceptOnPendingIsIllegal(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)
	store.On("GetMany", mock.Anything, domain.KindDocument, []int64{1}).Return([]domain.Item{item(1, domain.StatePending)}, nil)

	_, err := svc.RequestDisposition(ctx, domain.KindDocument, domain.ActionAccept, NewSelection(1), nil, "", operator)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	store.AssertNotCalled(t, "Dispose", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestDisposition_RejectRecordsReason(t *testing.T) {
	store := &mockStore{}
	pub := &recordingPublisher{}
	svc := newSvc(store, pub)

	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{4, 5}).
		Return([]domain.Item{item(5, domain.StateDelivered), item(4, domain.StateDelivered)}, nil)
	store.On("Dispose", mock.Anything, domain.KindNotification, domain.DispositionRequest{
		Action: domain.ActionReject, Rejected: []int64{4, 5}, Reason: "duplicated", Actor: operator.UserID,
	}).Return(&domain.BatchResult{Updated: []int64{4, 5}}, nil)

	_, err := svc.RequestDisposition(ctx, domain.KindNotification, domain.ActionReject, nil, NewSelection(4, 5), "  duplicated ", operator)
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventItemRejected, pub.events[0].Type)
	assert.Equal(t, "duplicated", pub.events[0].Reason)
}

func TestRequestDisposition_PartialOverlapFailsBeforeStore(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)

	acc, rej := NewSelection(1, 2), NewSelection(2, 3)
	_, err := svc.RequestDisposition(ctx, domain.KindNotification, domain.ActionPartial, acc, rej, "", operator)
	assert.ErrorIs(t, err, domain.ErrInvalidSelection)
	assert.Equal(t, 2, acc.Len())
	assert.Equal(t, 2, rej.Len())
	store.AssertNotCalled(t, "GetMany", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Dispose", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestDisposition_Partial(t *testing.T) {
	store := &mockStore{}
	pub := &recordingPublisher{}
	svc := newSvc(store, pub)

	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{1, 2, 3}).
		Return([]domain.Item{item(1, domain.StateDelivered), item(2, domain.StateDelivered), item(3, domain.StateDelivered)}, nil)
	store.On("Dispose", mock.Anything, domain.KindNotification, domain.DispositionRequest{
		Action: domain.ActionPartial, Accepted: []int64{1, 2}, Rejected: []int64{3}, Actor: operator.UserID,
	}).Return(&domain.BatchResult{Updated: []int64{1, 2, 3}}, nil)

	acc, rej := NewSelection(1, 2), NewSelection(3)
	res, err := svc.RequestDisposition(ctx, domain.KindNotification, domain.ActionPartial, acc, rej, "", operator)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, res.Updated)
	assert.True(t, acc.Empty())
	assert.True(t, rej.Empty())
	require.Len(t, pub.events, 2)
	assert.Equal(t, []int64{1, 2}, pub.events[0].ItemIDs)
	assert.Equal(t, []int64{3}, pub.events[1].ItemIDs)
}

func TestRequestDisposition_PartialStoreFailureReturnedUnmodified(t *testing.T) {
	store := &mockStore{}
	pub := &recordingPublisher{}
	svc := newSvc(store, pub)

	store.On("GetMany", mock.Anything, domain.KindNotification, []int64{1, 3}).
		Return([]domain.Item{item(1, domain.StateDelivered), item(3, domain.StateDelivered)}, nil)
	payload := &domain.BatchResult{
		Updated: []int64{1},
		Failed:  []domain.ItemFailure{{ID: 3, Reason: "item 3: cannot reject from finalized"}},
	}
	store.On("Dispose", mock.Anything, domain.KindNotification, mock.Anything).Return(payload, nil)

	acc, rej := NewSelection(1), NewSelection(3)
	res, err := svc.RequestDisposition(ctx, domain.KindNotification, domain.ActionPartial, acc, rej, "", operator)
	var be *domain.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, *payload, be.Result)
	assert.Same(t, payload, res)
	assert.Equal(t, 1, acc.Len())
	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventItemFinalized, pub.events[0].Type)
}

func TestRequestDisposition_EmptyAndMismatchedSelections(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)

	_, err := svc.RequestDisposition(ctx, domain.KindNotification, domain.ActionAccept, NewSelection(), nil, "", operator)
	assert.ErrorIs(t, err, domain.ErrEmptySelection)
	_, err = svc.RequestDisposition(ctx, domain.KindNotification, domain.ActionReject, nil, nil, "", operator)
	assert.ErrorIs(t, err, domain.ErrEmptySelection)
	_, err = svc.RequestDisposition(ctx, domain.KindNotification, domain.ActionPartial, nil, NewSelection(), "", operator)
	assert.ErrorIs(t, err, domain.ErrEmptySelection)
	_, err = svc.RequestDisposition(ctx, domain.KindNotification, domain.ActionAccept, NewSelection(1), NewSelection(2), "", operator)
	assert.ErrorIs(t, err, domain.ErrInvalidSelection)
	store.AssertNotCalled(t, "GetMany", mock.Anything, mock.Anything, mock.Anything)
}

// --- Create / List / Delete ---

func TestCreate_DefaultsReceivedByToOperator(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)

	store.On("Create", mock.Anything, domain.KindNotification, mock.AnythingOfType("*domain.Item")).
		Run(func(args mock.Arguments) { args.Get(2).(*domain.Item).ItemID = 77 }).
		Return(nil)

	it, err := svc.Create(ctx, domain.KindNotification, domain.CreateItemRequest{Subject: " Cédula 12/2026 "}, operator)
	require.NoError(t, err)
	assert.Equal(t, int64(77), it.ItemID)
	assert.Equal(t, domain.StatePending, it.State)
	assert.Equal(t, "Cédula 12/2026", it.Subject)
	assert.Equal(t, "Ana", it.ReceivedBy)
	assert.Equal(t, operator.UserID, it.CreatedBy)
	assert.Nil(t, it.DeliverTo)
	assert.NoError(t, it.CheckInvariants())
}

func TestCreate_InvalidRequest(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)

	_, err := svc.Create(ctx, domain.KindDocument, domain.CreateItemRequest{Subject: "  "}, operator)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestList_ClampsLimit(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)

	store.On("List", ctx, domain.KindNotification, domain.ItemFilter{State: domain.StatePending, Limit: maxPageSize}).
		Return(&domain.ItemPage{}, nil)
	_, err := svc.List(ctx, domain.KindNotification, domain.ItemFilter{State: domain.StatePending, Limit: 5000})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestList_RejectsInvertedRange(t *testing.T) {
	svc := newSvc(&mockStore{}, nil)
	from := fixedNow
	to := fixedNow.Add(-time.Hour)
	_, err := svc.List(ctx, domain.KindNotification, domain.ItemFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestDelete_RequiresAdmin(t *testing.T) {
	store := &mockStore{}
	svc := newSvc(store, nil)

	_, err := svc.Delete(ctx, domain.KindNotification, 1, operator)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	gone := item(1, domain.StateFinalized)
	store.On("Delete", mock.Anything, domain.KindNotification, int64(1)).Return(&gone, nil)
	old, err := svc.Delete(ctx, domain.KindNotification, 1, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), old.ItemID)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	store := &mockStore{}
	pub := &recordingPublisher{err: errors.New("sns down")}
	svc := newSvc(store, pub)

	store.On("Create", mock.Anything, domain.KindDocument, mock.Anything).Return(nil)
	_, err := svc.Create(ctx, domain.KindDocument, domain.CreateItemRequest{Subject: "Escrito"}, operator)
	assert.NoError(t, err)
	assert.Len(t, pub.events, 1)
}

func TestMultiPublisher_FansOut(t *testing.T) {
	a, b := &recordingPublisher{err: errors.New("a failed")}, &recordingPublisher{}
	err := MultiPublisher{a, nil, b}.Publish(ctx, domain.Event{Type: domain.EventItemCreated})
	assert.EqualError(t, err, "a failed")
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestSelection(t *testing.T) {
	sel := NewSelection(3, 1, 3, 2)
	assert.Equal(t, []int64{3, 1, 2}, sel.IDs())
	ids := sel.IDs()
	ids[0] = 99
	assert.Equal(t, []int64{3, 1, 2}, sel.IDs())
	sel.Clear()
	assert.True(t, sel.Empty())

	var nilSel *Selection
	assert.True(t, nilSel.Empty())
	assert.Nil(t, nilSel.IDs())
}
