package dynamo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// numKey builds a DynamoDB primary key map with a single numeric attribute.
func numKey(name string, value int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberN{Value: strconv.FormatInt(value, 10)},
	}
}

// strKey builds a DynamoDB primary key map with a single string attribute.
func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

// updateExpr is an update (and optional condition) expression with its placeholders.
type updateExpr struct {
	Expr      string
	Condition string
	Names     map[string]string
	Values    map[string]types.AttributeValue
}

// buildUpdateExpr converts a map of field->value into a DynamoDB SET expression,
// followed by a REMOVE clause for the given fields. Keys are sorted so the
// output is deterministic.
func buildUpdateExpr(updates map[string]interface{}, remove ...string) (*updateExpr, error) {
	ue := &updateExpr{
		Names:  make(map[string]string),
		Values: make(map[string]types.AttributeValue),
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var set []string
	for i, k := range keys {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		av, err := attributevalue.Marshal(updates[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", k, err)
		}
		ue.Names[nameKey] = k
		ue.Values[valueKey] = av
		set = append(set, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	if len(set) == 0 && len(remove) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	var clauses []string
	if len(set) > 0 {
		clauses = append(clauses, "SET "+strings.Join(set, ", "))
	}
	if len(remove) > 0 {
		sorted := append([]string(nil), remove...)
		sort.Strings(sorted)
		rm := make([]string, len(sorted))
		for i, k := range sorted {
			nameKey := fmt.Sprintf("#r%d", i)
			ue.Names[nameKey] = k
			rm[i] = nameKey
		}
		clauses = append(clauses, "REMOVE "+strings.Join(rm, ", "))
	}
	ue.Expr = strings.Join(clauses, " ")
	return ue, nil
}

// whenEquals guards the update with "field = value".
func (ue *updateExpr) whenEquals(field string, value interface{}) error {
	av, err := attributevalue.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal condition %s: %w", field, err)
	}
	ue.Names["#c0"] = field
	ue.Values[":c0"] = av
	ue.Condition = "#c0 = :c0"
	return nil
}
