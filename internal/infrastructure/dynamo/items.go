package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/docket-desk/internal/config"
	"github.com/docket-desk/internal/domain"
)

const (
	batchGetLimit   = 100
	batchGetRetries = 3
	batchGetBackoff = 50 * time.Millisecond
)

// ItemRepo stores notifications and documents, one table per kind. Every
// state change is a conditional write on the item's current state so a
// concurrent change shows up as a per-item failure instead of a lost update.
type ItemRepo struct {
	client   API
	tables   map[domain.Kind]string
	counters string
	nowFn    func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewItemRepo(client API, tables config.DynamoTables) *ItemRepo {
	return &ItemRepo{
		client: client,
		tables: map[domain.Kind]string{
			domain.KindNotification: tables.Notifications,
			domain.KindDocument:     tables.Documents,
		},
		counters: tables.Counters,
		nowFn:    time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *ItemRepo) table(kind domain.Kind) (string, error) {
	t, ok := r.tables[kind]
	if !ok || t == "" {
		return "", fmt.Errorf("unknown kind %q: %w", kind, domain.ErrBadRequest)
	}
	return t, nil
}

func (r *ItemRepo) now() time.Time {
	return r.nowFn().UTC().Truncate(time.Second)
}

// List queries the state index newest first when a state is given and scans
// the table otherwise. Filters apply after the page is read, so a page may
// hold fewer than Limit items while NextCursor is still set.
func (r *ItemRepo) List(ctx context.Context, kind domain.Kind, f domain.ItemFilter) (*domain.ItemPage, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	var start map[string]types.AttributeValue
	if f.Cursor != "" {
		if start, err = decodeCursor(f.Cursor); err != nil {
			return nil, err
		}
	}
	fe := buildFilterExpr(f)
	var filter *string
	if fe.Expr != "" {
		filter = aws.String(fe.Expr)
	}

	var (
		items []map[string]types.AttributeValue
		lek   map[string]types.AttributeValue
	)
	if f.State != 0 {
		fe.Names["#st"] = fieldState
		fe.Values[":st"] = &types.AttributeValueMemberN{Value: fmt.Sprint(int(f.State))}
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(table),
			IndexName:                 aws.String(stateCreatedIndex),
			KeyConditionExpression:    aws.String("#st = :st"),
			FilterExpression:          filter,
			ExpressionAttributeNames:  fe.Names,
			ExpressionAttributeValues: fe.Values,
			ExclusiveStartKey:         start,
			ScanIndexForward:          aws.Bool(false),
			Limit:                     limit32(f.Limit),
		})
		if err != nil {
			return nil, storeErr("list", kind, err)
		}
		items, lek = out.Items, out.LastEvaluatedKey
	} else {
		in := &dynamodb.ScanInput{
			TableName:         aws.String(table),
			FilterExpression:  filter,
			ExclusiveStartKey: start,
			Limit:             limit32(f.Limit),
		}
		if fe.Expr != "" {
			in.ExpressionAttributeNames = fe.Names
			in.ExpressionAttributeValues = fe.Values
		}
		out, err := r.client.Scan(ctx, in)
		if err != nil {
			return nil, storeErr("list", kind, err)
		}
		items, lek = out.Items, out.LastEvaluatedKey
	}

	page := &domain.ItemPage{Items: []domain.Item{}}
	if err := attributevalue.UnmarshalListOfMaps(items, &page.Items); err != nil {
		return nil, fmt.Errorf("unmarshal %s page: %w", kind, err)
	}
	if page.NextCursor, err = encodeCursor(lek); err != nil {
		return nil, err
	}
	return page, nil
}

// GetMany returns the items that exist among ids, in no particular order.
func (r *ItemRepo) GetMany(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Item, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Item, 0, len(ids))
	for start := 0; start < len(ids); start += batchGetLimit {
		end := min(start+batchGetLimit, len(ids))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, itemID := range ids[start:end] {
			keys = append(keys, numKey(fieldItemID, itemID))
		}
		req := map[string]types.KeysAndAttributes{table: {Keys: keys}}
		for attempt := 0; len(req) > 0; attempt++ {
			if attempt == batchGetRetries {
				return nil, &domain.StoreError{Err: fmt.Errorf("get %s: unprocessed keys after %d attempts", kind, attempt)}
			}
			if attempt > 0 {
				// unprocessed keys mean the table is throttling; back off 50ms, 100ms, ...
				if err := r.sleep(ctx, batchGetBackoff<<(attempt-1)); err != nil {
					return nil, storeErr("get", kind, err)
				}
			}
			res, err := r.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: req})
			if err != nil {
				return nil, storeErr("get", kind, err)
			}
			var chunk []domain.Item
			if err := attributevalue.UnmarshalListOfMaps(res.Responses[table], &chunk); err != nil {
				return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
			}
			out = append(out, chunk...)
			req = res.UnprocessedKeys
		}
	}
	return out, nil
}

// Create assigns the next id for the kind and writes the item.
func (r *ItemRepo) Create(ctx context.Context, kind domain.Kind, it *domain.Item) error {
	table, err := r.table(kind)
	if err != nil {
		return err
	}
	itemID, err := nextID(ctx, r.client, r.counters, string(kind))
	if err != nil {
		return &domain.StoreError{Err: err}
	}
	it.ItemID = itemID
	it.Kind = kind
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(table),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": fieldItemID},
	})
	if err != nil {
		return storeErr("create", kind, err)
	}
	return nil
}

func (r *ItemRepo) Deliver(ctx context.Context, kind domain.Kind, req domain.DeliveryRequest) (*domain.BatchResult, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	now := r.now()
	updates := map[string]interface{}{
		fieldDeliverTo: req.DeliverTo,
		fieldUpdatedAt: now,
	}
	from, action := domain.StatePending, "deliver"
	if req.Mode == domain.ModeRedeliver {
		from, action = domain.StateDelivered, "redeliver"
	} else {
		updates[fieldState] = domain.StateDelivered
		updates[fieldDeliveredAt] = now
	}
	ue, err := buildUpdateExpr(updates, fieldDisposition)
	if err != nil {
		return nil, err
	}
	if err := ue.whenEquals(fieldState, from); err != nil {
		return nil, err
	}
	res := &domain.BatchResult{Updated: []int64{}}
	if err := r.updateEach(ctx, table, req.ItemIDs, action, ue, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *ItemRepo) Dispose(ctx context.Context, kind domain.Kind, req domain.DispositionRequest) (*domain.BatchResult, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	now := r.now()
	res := &domain.BatchResult{Updated: []int64{}}
	groups := []struct {
		ids    []int64
		action string
		to     domain.State
		d      domain.Disposition
	}{
		{req.Accepted, "accept", domain.StateFinalized, domain.Disposition{Outcome: domain.OutcomeAccepted, DecidedBy: req.Actor, DecidedAt: now}},
		{req.Rejected, "reject", domain.StateDeleted, domain.Disposition{Outcome: domain.OutcomeRejected, Reason: req.Reason, DecidedBy: req.Actor, DecidedAt: now}},
	}
	for _, g := range groups {
		if len(g.ids) == 0 {
			continue
		}
		ue, err := buildUpdateExpr(map[string]interface{}{
			fieldState:       g.to,
			fieldDisposition: g.d,
			fieldUpdatedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		if err := ue.whenEquals(fieldState, domain.StateDelivered); err != nil {
			return nil, err
		}
		if err := r.updateEach(ctx, table, g.ids, g.action, ue, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// updateEach applies ue to every id. A failed condition is recorded in
// res.Failed; any other error aborts the batch with a StoreError.
func (r *ItemRepo) updateEach(ctx context.Context, table string, ids []int64, action string, ue *updateExpr, res *domain.BatchResult) error {
	for _, itemID := range ids {
		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                           aws.String(table),
			Key:                                 numKey(fieldItemID, itemID),
			UpdateExpression:                    aws.String(ue.Expr),
			ConditionExpression:                 aws.String(ue.Condition),
			ExpressionAttributeNames:            ue.Names,
			ExpressionAttributeValues:           ue.Values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		})
		if err == nil {
			res.Updated = append(res.Updated, itemID)
			continue
		}
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			res.Failed = append(res.Failed, domain.ItemFailure{ID: itemID, Reason: conflictReason(itemID, action, ccf.Item)})
			continue
		}
		slog.Error("batch update aborted", "table", table, "action", action, "item_id", itemID, "committed", res.Updated, "err", err)
		return &domain.StoreError{Err: err}
	}
	return nil
}

// conflictReason describes why the condition failed, using the item as it
// was at write time.
func conflictReason(itemID int64, action string, old map[string]types.AttributeValue) string {
	if len(old) == 0 {
		return fmt.Sprintf("item %d: not found", itemID)
	}
	var cur struct {
		State domain.State `dynamodbav:"state"`
	}
	if err := attributevalue.UnmarshalMap(old, &cur); err != nil {
		return fmt.Sprintf("item %d: cannot %s", itemID, action)
	}
	return (&domain.TransitionError{ItemID: itemID, From: cur.State, Action: action}).Error()
}

// UpdateAttachment links an uploaded object to an item and returns the updated item.
func (r *ItemRepo) UpdateAttachment(ctx context.Context, kind domain.Kind, itemID int64, a *domain.Attachment) (*domain.Item, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldAttachment: a,
		fieldUpdatedAt:  r.now(),
	})
	if err != nil {
		return nil, err
	}
	ue.Names["#id"] = fieldItemID
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       numKey(fieldItemID, itemID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("%s %d: %w", kind, itemID, domain.ErrNotFound)
		}
		return nil, storeErr("attach", kind, err)
	}
	var it domain.Item
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return &it, nil
}

// Delete removes the item regardless of state and returns what was stored.
func (r *ItemRepo) Delete(ctx context.Context, kind domain.Kind, itemID int64) (*domain.Item, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	out, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(table),
		Key:                      numKey(fieldItemID, itemID),
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": fieldItemID},
		ReturnValues:             types.ReturnValueAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("%s %d: %w", kind, itemID, domain.ErrNotFound)
		}
		return nil, storeErr("delete", kind, err)
	}
	var it domain.Item
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return &it, nil
}

func storeErr(op string, kind domain.Kind, err error) error {
	return &domain.StoreError{Err: fmt.Errorf("%s %s: %w", op, kind, err)}
}

func limit32(n int) *int32 {
	if n <= 0 {
		return nil
	}
	v := int32(n)
	return &v
}
