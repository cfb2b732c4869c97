package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Deterministic(t *testing.T) {
	a := map[string]any{
		"id":               int64(42),
		"display_name":     "Test Work",
		"ids":              map[string]any{"doi": "10.1234/x", "openalex": "W42"},
		"referenced_works": []any{"W1", "W2", "W3"},
	}
	b := map[string]any{
		"referenced_works": []any{"W1", "W2", "W3"},
		"ids":              map[string]any{"openalex": "W42", "doi": "10.1234/x"},
		"display_name":     "Test Work",
		"id":               int64(42),
	}

	assert.Equal(t, Marshal(a), Marshal(b))
}

func TestMarshal_ArrayOrderMatters(t *testing.T) {
	a := map[string]any{"tags": []any{"x", "y"}}
	b := map[string]any{"tags": []any{"y", "x"}}
	assert.NotEqual(t, Marshal(a), Marshal(b))
}

func TestFingerprint_IgnoresVolatileFields(t *testing.T) {
	a := map[string]any{
		"id":           int64(7),
		"display_name": "Same",
		"updated_date": "2025-01-01T00:00:00Z",
	}
	b := map[string]any{
		"id":           int64(7),
		"display_name": "Same",
		"updated_date": "2025-06-30T12:00:00Z",
	}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	b["display_name"] = "Different"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintWithExclusions_NestedPath(t *testing.T) {
	a := map[string]any{
		"meta": map[string]any{"version": "1", "source": "crossref"},
	}
	b := map[string]any{
		"meta": map[string]any{"version": "2", "source": "crossref"},
	}

	exclusions := map[string]bool{"meta.version": true}
	assert.Equal(t,
		FingerprintWithExclusions(a, exclusions),
		FingerprintWithExclusions(b, exclusions))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestEqual(t *testing.T) {
	t.Run("volatile only difference is equal", func(t *testing.T) {
		a := []byte(`{"id": 1, "updated_date": "2025-01-01"}`)
		b := []byte(`{"updated_date": "2026-01-01", "id": 1}`)
		equal, err := Equal(a, b)
		require.NoError(t, err)
		assert.True(t, equal)
	})

	t.Run("content difference is not equal", func(t *testing.T) {
		a := []byte(`{"id": 1, "cited_by_count": 10}`)
		b := []byte(`{"id": 1, "cited_by_count": 11}`)
		equal, err := Equal(a, b)
		require.NoError(t, err)
		assert.False(t, equal)
	})

	t.Run("malformed json errors", func(t *testing.T) {
		_, err := Equal([]byte(`{`), []byte(`{}`))
		require.Error(t, err)
	})
}

func TestUnifiedDiff(t *testing.T) {
	before := []byte(`{"id": 1, "display_name": "Old Name"}`)
	after := []byte(`{"id": 1, "display_name": "New Name"}`)

	diff, err := UnifiedDiff(before, after)
	require.NoError(t, err)
	assert.Contains(t, diff, "-")
	assert.Contains(t, diff, "Old Name")
	assert.Contains(t, diff, "New Name")
}
