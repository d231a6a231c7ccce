package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSchema indicates that a table schema does not satisfy the meta-schema.
	ErrInvalidSchema = errors.New("schema: invalid schema")
	// ErrInvalidPatch indicates that a JSON Patch operation is malformed or targets an unsupported path.
	ErrInvalidPatch = errors.New("schema: invalid patch")
	// ErrSelfReference indicates that a field declares a foreign key to its own table.
	ErrSelfReference = errors.New("schema: foreign key references its own table")
)

// Issue is a single violation found while validating a document.
type Issue struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword"`
	Reason  string `json:"reason"`
}

// ValidationError aggregates every violation found in one document.
type ValidationError struct {
	Kind   error
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Kind.Error()
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		path := issue.Path
		if path == "" {
			path = "/"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", path, issue.Reason))
	}
	return fmt.Sprintf("%v: %s", e.Kind, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}
