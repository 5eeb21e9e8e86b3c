package dynamo

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/docket-desk/internal/domain"
)

// filterExpr is a FilterExpression with its placeholders. Expr is empty when
// the filter has no constraints beyond the key condition.
type filterExpr struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// dateField is the timestamp a date range applies to: delivery time once an
// item has left Pending, intake time otherwise.
func dateField(s domain.State) string {
	if s == 0 || s == domain.StatePending {
		return fieldCreatedAt
	}
	return fieldDeliveredAt
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// buildFilterExpr translates the non-key parts of an ItemFilter. Text search is
// a case-sensitive substring match on subject, reference and origin.
func buildFilterExpr(f domain.ItemFilter) *filterExpr {
	fe := &filterExpr{
		Names:  make(map[string]string),
		Values: make(map[string]types.AttributeValue),
	}
	var parts []string

	if f.From != nil || f.To != nil {
		fe.Names["#date"] = dateField(f.State)
		switch {
		case f.From != nil && f.To != nil:
			parts = append(parts, "#date BETWEEN :from AND :to")
		case f.From != nil:
			parts = append(parts, "#date >= :from")
		default:
			parts = append(parts, "#date <= :to")
		}
		if f.From != nil {
			fe.Values[":from"] = &types.AttributeValueMemberS{Value: formatTime(*f.From)}
		}
		if f.To != nil {
			fe.Values[":to"] = &types.AttributeValueMemberS{Value: formatTime(*f.To)}
		}
	}

	if f.Text != "" {
		fe.Names["#subject"] = fieldSubject
		fe.Names["#reference"] = fieldReference
		fe.Names["#origin"] = fieldOrigin
		fe.Values[":q"] = &types.AttributeValueMemberS{Value: f.Text}
		parts = append(parts, "(contains(#subject, :q) OR contains(#reference, :q) OR contains(#origin, :q))")
	}

	if f.DeliverTo != "" {
		fe.Names["#dt"] = fieldDeliverTo
		fe.Names["#uid"] = "user_id"
		fe.Names["#nm"] = "name"
		fe.Values[":dt"] = &types.AttributeValueMemberS{Value: f.DeliverTo}
		parts = append(parts, "(#dt.#uid = :dt OR #dt.#nm = :dt)")
	}

	fe.Expr = strings.Join(parts, " AND ")
	return fe
}

// pageKey is the JSON form of a LastEvaluatedKey. Scans only carry ItemID;
// index queries also carry the index keys.
type pageKey struct {
	ItemID    int64  `json:"i"`
	State     int    `json:"s,omitempty"`
	CreatedAt string `json:"c,omitempty"`
}

func encodeCursor(lek map[string]types.AttributeValue) (string, error) {
	if len(lek) == 0 {
		return "", nil
	}
	var pk pageKey
	if v, ok := lek[fieldItemID].(*types.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return "", fmt.Errorf("cursor item id: %w", err)
		}
		pk.ItemID = n
	}
	if v, ok := lek[fieldState].(*types.AttributeValueMemberN); ok {
		n, err := strconv.Atoi(v.Value)
		if err != nil {
			return "", fmt.Errorf("cursor state: %w", err)
		}
		pk.State = n
	}
	if v, ok := lek[fieldCreatedAt].(*types.AttributeValueMemberS); ok {
		pk.CreatedAt = v.Value
	}
	raw, err := json.Marshal(pk)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", domain.ErrBadRequest)
	}
	var pk pageKey
	if err := json.Unmarshal(raw, &pk); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", domain.ErrBadRequest)
	}
	key := numKey(fieldItemID, pk.ItemID)
	if pk.State != 0 {
		key[fieldState] = &types.AttributeValueMemberN{Value: strconv.Itoa(pk.State)}
	}
	if pk.CreatedAt != "" {
		key[fieldCreatedAt] = &types.AttributeValueMemberS{Value: pk.CreatedAt}
	}
	return key, nil
}
