package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash returns the sha256 hex digest of the canonical JSON encoding of value. Object keys are
// sorted by encoding/json so equal documents hash equally.
func Hash(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("schema: hash: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// Normalize converts any JSON-encodable value into plain decoded JSON (maps, slices, float64).
func Normalize(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return Decode(encoded)
}

// Decode unmarshals raw JSON into plain decoded JSON.
func Decode(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// Clone deep-copies plain decoded JSON.
func Clone(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(typed))
		for key, child := range typed {
			copied[key] = Clone(child)
		}
		return copied
	case []any:
		copied := make([]any, len(typed))
		for index, child := range typed {
			copied[index] = Clone(child)
		}
		return copied
	default:
		return typed
	}
}

// Equal reports whether two decoded JSON values have the same canonical encoding.
func Equal(left, right any) bool {
	leftHash, leftErr := Hash(left)
	rightHash, rightErr := Hash(right)
	return leftErr == nil && rightErr == nil && leftHash == rightHash
}
