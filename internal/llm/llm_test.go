package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":"b"}`, `{"a":"b"}`},
		{"json fence", "```json\n{\"a\":\"b\"}\n```", `{"a":"b"}`},
		{"bare fence", "```\n{\"a\":\"b\"}\n```", `{"a":"b"}`},
		{"prose", `Sure! {"a":"b"} hope that helps`, `{"a":"b"}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestDecodeObject(t *testing.T) {
	t.Parallel()

	obj, err := decodeObject(`{"policy_number": 123456789, "vehicle_year": "2008", "flag": true, "missing": null, "nested": {"x": 1}}`)
	require.NoError(t, err)
	assert.Equal(t, "123456789", obj["policy_number"])
	assert.Equal(t, "2008", obj["vehicle_year"])
	assert.Equal(t, "true", obj["flag"])
	assert.Equal(t, "", obj["missing"])
	assert.JSONEq(t, `{"x": 1}`, obj["nested"])

	_, err = decodeObject("I could not find it")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedJSON)

	_, err = decodeObject(`["a"]`)
	assert.ErrorIs(t, err, ErrMalformedJSON)
}

func TestResponse_Value(t *testing.T) {
	t.Parallel()

	r := &Response{Object: map[string]string{"id_number": "  8001015009087 "}}
	v, ok := r.Value("id_number")
	assert.True(t, ok)
	assert.Equal(t, "8001015009087", v)

	_, ok = r.Value("policy_number")
	assert.False(t, ok)

	var nilResp *Response
	_, ok = nilResp.Value("x")
	assert.False(t, ok)
}

func TestModels_For(t *testing.T) {
	t.Parallel()

	m := Models{Fast: "haiku", Accurate: "sonnet"}
	assert.Equal(t, "haiku", m.For(TierFast))
	assert.Equal(t, "sonnet", m.For(TierAccurate))
	assert.Equal(t, "sonnet", Models{Accurate: "sonnet"}.For(TierFast))
}
