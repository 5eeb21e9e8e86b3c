package dynamo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// nextID atomically increments the named counter and returns the new value.
// The first call on a fresh counter returns 1.
func nextID(ctx context.Context, client API, table, name string) (int64, error) {
	out, err := client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(table),
		Key:                      strKey(fieldCounterName, name),
		UpdateExpression:         aws.String("ADD #seq :one"),
		ExpressionAttributeNames: map[string]string{"#seq": fieldCounterSeq},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	seq, ok := out.Attributes[fieldCounterSeq].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("counter %s returned no sequence", name)
	}
	return strconv.ParseInt(seq.Value, 10, 64)
}
