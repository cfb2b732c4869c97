package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// VolatileFields are excluded from change detection by default. They move on
// every store and never represent a meaningful content change.
var VolatileFields = map[string]bool{
	"updated_date": true,
}

// Marshal produces the deterministic JSON form of a projection: sorted map
// keys at every level, arrays in input order. Re-marshaling the same logical
// content always yields the same bytes.
func Marshal(data map[string]any) string {
	return canonicalize(data, nil, "")
}

// Fingerprint hashes the canonical form of data with the volatile fields
// excluded. Two projections with the same fingerprint are logically equal.
func Fingerprint(data map[string]any) string {
	return FingerprintWithExclusions(data, VolatileFields)
}

// FingerprintWithExclusions hashes the canonical form excluding the given
// dot-notation field paths (e.g. "updated_date", "meta.version").
func FingerprintWithExclusions(data map[string]any, excludeFields map[string]bool) string {
	canonical := canonicalize(data, excludeFields, "")
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// FingerprintJSON parses raw JSON and fingerprints it with the volatile
// fields excluded.
func FingerprintJSON(data []byte) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}
	return Fingerprint(m), nil
}

// Equal reports whether two raw JSON payloads are logically identical,
// ignoring the volatile fields.
func Equal(a, b []byte) (bool, error) {
	fa, err := FingerprintJSON(a)
	if err != nil {
		return false, err
	}
	fb, err := FingerprintJSON(b)
	if err != nil {
		return false, err
	}
	return fa == fb, nil
}

// UnifiedDiff renders a human-readable diff between the canonical forms of
// two payloads, for operator logs when a store decides to write.
func UnifiedDiff(before, after []byte) (string, error) {
	var beforeMap, afterMap map[string]any
	if err := json.Unmarshal(before, &beforeMap); err != nil {
		return "", err
	}
	if err := json.Unmarshal(after, &afterMap); err != nil {
		return "", err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(indented(beforeMap)),
		B:        difflib.SplitLines(indented(afterMap)),
		FromFile: "stored",
		ToFile:   "computed",
		Context:  2,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func indented(data map[string]any) string {
	b, _ := json.MarshalIndent(sortedCopy(data), "", "  ")
	return string(b)
}

// sortedCopy is only used for diff rendering; encoding/json already sorts
// map keys, so a plain copy suffices.
func sortedCopy(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func canonicalize(data any, excludeFields map[string]bool, currentPath string) string {
	switch v := data.(type) {
	case map[string]any:
		return canonicalizeMap(v, excludeFields, currentPath)
	case []any:
		return canonicalizeArray(v, excludeFields, currentPath)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func canonicalizeMap(m map[string]any, excludeFields map[string]bool, currentPath string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	first := true
	for _, k := range keys {
		fieldPath := k
		if currentPath != "" {
			fieldPath = currentPath + "." + k
		}

		if shouldExcludeField(fieldPath, excludeFields) {
			continue
		}

		if !first {
			sb.WriteString(",")
		}
		first = false
		keyJSON, _ := json.Marshal(k)
		sb.Write(keyJSON)
		sb.WriteString(":")
		sb.WriteString(canonicalize(m[k], excludeFields, fieldPath))
	}
	sb.WriteString("}")
	return sb.String()
}

func canonicalizeArray(arr []any, excludeFields map[string]bool, currentPath string) string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range arr {
		if i > 0 {
			sb.WriteString(",")
		}
		// Array elements share the parent's path; individual indices cannot
		// be excluded.
		sb.WriteString(canonicalize(v, excludeFields, currentPath))
	}
	sb.WriteString("]")
	return sb.String()
}

// shouldExcludeField matches exact paths and parent-object prefixes.
func shouldExcludeField(fieldPath string, excludeFields map[string]bool) bool {
	if excludeFields == nil {
		return false
	}

	if excludeFields[fieldPath] {
		return true
	}

	for excluded := range excludeFields {
		if strings.HasPrefix(fieldPath, excluded+".") {
			return true
		}
	}

	return false
}
