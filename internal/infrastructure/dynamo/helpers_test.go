package dynamo

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdateExpr_SingleField(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{"subject": "Oficio 12"})
	require.NoError(t, err)
	assert.Equal(t, "SET #f0 = :v0", ue.Expr)
	assert.Equal(t, map[string]string{"#f0": "subject"}, ue.Names)
	_, ok := ue.Values[":v0"]
	assert.True(t, ok)
}

func TestBuildUpdateExpr_MultipleFields_Deterministic(t *testing.T) {
	updates := map[string]interface{}{
		"state":      2,
		"deliver_to": map[string]string{"name": "Lic. Ramos"},
		"updated_at": "2026-01-02T03:04:05Z",
	}
	// Call twice to verify determinism.
	ue1, err := buildUpdateExpr(updates)
	require.NoError(t, err)
	ue2, err := buildUpdateExpr(updates)
	require.NoError(t, err)

	assert.Equal(t, ue1.Expr, ue2.Expr)

	// Keys must be sorted: deliver_to < state < updated_at
	assert.Equal(t, "deliver_to", ue1.Names["#f0"])
	assert.Equal(t, "state", ue1.Names["#f1"])
	assert.Equal(t, "updated_at", ue1.Names["#f2"])
	assert.Equal(t, "SET #f0 = :v0, #f1 = :v1, #f2 = :v2", ue1.Expr)
}

func TestBuildUpdateExpr_ValuesMarshalledCorrectly(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{"state": 3})
	require.NoError(t, err)
	av, ok := ue.Values[":v0"]
	require.True(t, ok)
	n, isNum := av.(*types.AttributeValueMemberN)
	require.True(t, isNum)
	assert.Equal(t, "3", n.Value)
}

func TestBuildUpdateExpr_Remove(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{"state": 2}, "disposition", "attachment")
	require.NoError(t, err)
	assert.Equal(t, "SET #f0 = :v0 REMOVE #r0, #r1", ue.Expr)
	assert.Equal(t, "attachment", ue.Names["#r0"])
	assert.Equal(t, "disposition", ue.Names["#r1"])
}

func TestBuildUpdateExpr_WhenEquals(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{"state": 3})
	require.NoError(t, err)
	require.NoError(t, ue.whenEquals("state", 2))
	assert.Equal(t, "#c0 = :c0", ue.Condition)
	assert.Equal(t, "state", ue.Names["#c0"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "2"}, ue.Values[":c0"])
}

func TestBuildUpdateExpr_EmptyMap_ReturnsError(t *testing.T) {
	_, err := buildUpdateExpr(map[string]interface{}{})
	assert.ErrorContains(t, err, "no fields to update")
}
