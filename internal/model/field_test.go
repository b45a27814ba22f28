package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestField_Constructors(t *testing.T) {
	t.Parallel()

	t.Run("zero value is not found", func(t *testing.T) {
		t.Parallel()
		var f Field
		assert.False(t, f.IsFound())
		assert.False(t, f.IsFailed())
		assert.Equal(t, SentinelNotFound, f.String())
	})

	t.Run("found carries value", func(t *testing.T) {
		t.Parallel()
		f := Found("1HGCM82633A004352")
		assert.True(t, f.IsFound())
		assert.Equal(t, "1HGCM82633A004352", f.String())
	})

	t.Run("failed renders error sentinel", func(t *testing.T) {
		t.Parallel()
		f := Failed("llm timeout")
		assert.True(t, f.IsFailed())
		assert.Equal(t, "llm timeout", f.Reason)
		assert.Equal(t, SentinelError, f.String())
	})

	t.Run("failed from error", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "boom", FailedErr(errors.New("boom")).Reason)
		assert.Equal(t, "unknown error", FailedErr(nil).Reason)
	})
}

func TestField_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var f Field
	require.NoError(t, json.Unmarshal([]byte(`{"value":"x"}`), &f))
	assert.Equal(t, FieldNotFound, f.State)

	require.NoError(t, json.Unmarshal([]byte(`{"state":"found","value":"x"}`), &f))
	assert.Equal(t, Found("x"), f)

	err := json.Unmarshal([]byte(`{"state":"maybe"}`), &f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field state")
}
