package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllFields(t *testing.T) {
	t.Parallel()

	assert.Len(t, AllFields, 13)
	assert.Equal(t, FieldTrackerCompany, AllFields[0])
	assert.Equal(t, FieldVehicleKey, AllFields[len(AllFields)-1])
	for _, f := range VendorFields {
		assert.True(t, IsKnownField(f), f)
	}
	assert.False(t, IsKnownField("colour"))
}

func TestCompiledRecord_Total(t *testing.T) {
	t.Parallel()

	r := NewCompiledRecord()
	for _, name := range AllFields {
		assert.True(t, r.Has(name), name)
		assert.Equal(t, NotFound(), r.Get(name))
	}

	strs := r.Strings()
	assert.Len(t, strs, len(AllFields))
	assert.Equal(t, SentinelNotFound, strs["vin_number"])
}

func TestCompiledRecord_Set(t *testing.T) {
	t.Parallel()

	r := NewCompiledRecord()
	require.NoError(t, r.Set(FieldTrackerCompany, Found("netstar")))
	assert.Equal(t, "netstar", r.Get(FieldTrackerCompany).Value)

	err := r.Set("colour", Found("red"))
	require.Error(t, err)
	assert.False(t, r.Has("colour"))

	require.NoError(t, r.Set(FieldPolicyNumber, Field{}))
	assert.Equal(t, FieldNotFound, r.Get(FieldPolicyNumber).State)
}

func TestCompiledRecord_JSON(t *testing.T) {
	t.Parallel()

	r := NewCompiledRecord()
	require.NoError(t, r.Set(FieldVINNumber, Found("VIN123")))
	require.NoError(t, r.Set(FieldVehicleKey, Failed("template failed")))
	r.Usage.Add(TokenUsage{InputTokens: 100, OutputTokens: 20, CostUSD: 0.01})

	data, err := json.Marshal(r)
	require.NoError(t, err)
	s := string(data)
	assert.True(t, strings.HasPrefix(s, `{"fields":{"tracker_company":`))
	assert.Less(t, strings.Index(s, `"id_number"`), strings.Index(s, `"vin_number"`))

	var back CompiledRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r.Strings(), back.Strings())
	assert.Equal(t, int64(100), back.Usage.InputTokens)
	assert.Equal(t, "template failed", back.Get(FieldVehicleKey).Reason)
}

func TestCompiledRecord_UnmarshalFillsMissing(t *testing.T) {
	t.Parallel()

	var r CompiledRecord
	require.NoError(t, json.Unmarshal([]byte(`{"fields":{"policy_number":{"state":"found","value":"123456789"}}}`), &r))
	assert.Equal(t, "123456789", r.Get(FieldPolicyNumber).Value)
	assert.True(t, r.Has(FieldVehicleKey))

	err := json.Unmarshal([]byte(`{"fields":{"colour":{"state":"found","value":"red"}}}`), &r)
	assert.Error(t, err)
}
