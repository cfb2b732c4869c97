package database

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONB_ScanBytes(t *testing.T) {
	var col JSONB[map[string]any]
	require.NoError(t, col.Scan([]byte(`{"id":"W42","oa":true}`)))
	assert.True(t, col.Valid)
	assert.Equal(t, "W42", col.Data["id"])
}

func TestJSONB_ScanString(t *testing.T) {
	var col JSONB[[]int]
	require.NoError(t, col.Scan(`[1,2,3]`))
	assert.True(t, col.Valid)
	assert.Equal(t, []int{1, 2, 3}, col.Data)
}

func TestJSONB_ScanNull(t *testing.T) {
	col := NewJSONB(json.RawMessage(`{"stale":true}`))
	require.NoError(t, col.Scan(nil))
	assert.False(t, col.Valid)
	assert.Empty(t, col.Data)
}

func TestJSONB_ScanRejectsNonJSONSource(t *testing.T) {
	var col JSONB[map[string]any]
	assert.Error(t, col.Scan(42))
}

func TestJSONB_ValueRoundTrip(t *testing.T) {
	col := NewJSONB(json.RawMessage(`{"id":"S7"}`))
	value, err := col.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"S7"}`, string(value.([]byte)))
}

func TestJSONB_ValueNull(t *testing.T) {
	var col JSONB[json.RawMessage]
	value, err := col.Value()
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestJSONB_JSONRoundTrip(t *testing.T) {
	type row struct {
		Payload JSONB[json.RawMessage] `json:"payload"`
	}

	// A null payload marshals to a JSON null and scans back as not valid.
	encoded, err := json.Marshal(row{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"payload":null}`, string(encoded))

	var decoded row
	require.NoError(t, json.Unmarshal([]byte(`{"payload":{"id":"A9"}}`), &decoded))
	assert.True(t, decoded.Payload.Valid)
	assert.JSONEq(t, `{"id":"A9"}`, string(decoded.Payload.Data))

	require.NoError(t, json.Unmarshal([]byte(`{"payload":null}`), &decoded))
	assert.False(t, decoded.Payload.Valid)
}
