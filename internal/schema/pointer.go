package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-openapi/jsonpointer"
)

// Pointer is a decoded JSON Pointer (RFC 6901).
type Pointer []string

// ParsePointer decodes a JSON Pointer string. The empty string addresses the whole document.
func ParsePointer(raw string) (Pointer, error) {
	parsed, err := jsonpointer.New(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: pointer %q: %v", ErrInvalidPatch, raw, err)
	}
	return Pointer(parsed.DecodedTokens()), nil
}

// Append returns a copy of the pointer extended with segments.
func (p Pointer) Append(segments ...string) Pointer {
	next := make(Pointer, 0, len(p)+len(segments))
	next = append(next, p...)
	return append(next, segments...)
}

// String encodes the pointer.
func (p Pointer) String() string {
	if len(p) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, segment := range p {
		builder.WriteByte('/')
		builder.WriteString(jsonpointer.Escape(segment))
	}
	return builder.String()
}

// Lookup resolves the pointer against a decoded document.
func (p Pointer) Lookup(document any) (any, bool) {
	parsed, err := jsonpointer.New(p.String())
	if err != nil {
		return nil, false
	}
	value, _, err := parsed.Get(document)
	if err != nil {
		return nil, false
	}
	return value, true
}

// FieldPath converts a schema pointer such as /properties/address/properties/city into the data
// field path address.city. Array item steps are skipped.
func (p Pointer) FieldPath() (string, error) {
	names := make([]string, 0, len(p)/2)
	for index := 0; index < len(p); index++ {
		switch p[index] {
		case keywordProperties:
			if index+1 >= len(p) {
				return "", fmt.Errorf("%w: pointer %s ends at properties", ErrInvalidPatch, p.String())
			}
			index++
			names = append(names, p[index])
		case keywordItems:
		default:
			return "", fmt.Errorf("%w: unexpected segment %q in %s", ErrInvalidPatch, p[index], p.String())
		}
	}
	return strings.Join(names, "."), nil
}

// RequiredTarget reports whether the pointer addresses the required list of an object schema, or
// one entry of it (/required, /required/0, /required/-), and returns the pointer of that object.
func (p Pointer) RequiredTarget() (Pointer, bool) {
	index := len(p) - 1
	if index < 0 {
		return nil, false
	}
	if p[index] != keywordRequired {
		if !isArrayIndex(p[index]) {
			return nil, false
		}
		index--
	}
	if index < 0 || p[index] != keywordRequired {
		return nil, false
	}
	owner := p[:index]
	if _, err := owner.FieldPath(); err != nil {
		return nil, false
	}
	return append(Pointer{}, owner...), true
}

// PropertyName returns the owner object pointer and the property name when the pointer ends at
// …/properties/<name>.
func (p Pointer) PropertyName() (Pointer, string, bool) {
	if len(p) < 2 || p[len(p)-2] != keywordProperties {
		return nil, "", false
	}
	return append(Pointer{}, p[:len(p)-2]...), p[len(p)-1], true
}

func isArrayIndex(token string) bool {
	if token == "-" {
		return true
	}
	if token == "" || strings.HasPrefix(token, "-") || strings.HasPrefix(token, "+") {
		return false
	}
	_, err := strconv.Atoi(token)
	return err == nil
}
