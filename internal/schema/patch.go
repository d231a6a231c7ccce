package schema

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
)

// Op names a JSON Patch operation.
type Op string

const (
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpReplace Op = "replace"
	OpMove    Op = "move"
)

// Operation is one JSON Patch operation applied to a table schema.
type Operation struct {
	Op    Op     `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Patch is an ordered list of operations.
type Patch []Operation

// ValidatePatch checks every operation of the patch and collects all violations. Paths must
// address a field (…/properties/<name> or …/items) or the required list of an object field; add
// and replace values must satisfy the field meta-schema.
func ValidatePatch(patch Patch) error {
	if len(patch) == 0 {
		return &ValidationError{Kind: ErrInvalidPatch, Issues: []Issue{{Keyword: "patch", Reason: "patch is empty"}}}
	}
	var issues []Issue
	for index, operation := range patch {
		at := fmt.Sprintf("/%d", index)
		if operation.TargetsRequired() {
			issues = append(issues, validateRequiredOperation(at, operation)...)
			continue
		}
		if err := validateFieldPointer(operation.Path); err != nil {
			issues = append(issues, Issue{Path: at + "/path", Keyword: "path", Reason: err.Error()})
			continue
		}
		switch operation.Op {
		case OpAdd, OpReplace:
			if err := ValidateField(operation.Value); err != nil {
				issues = append(issues, nestIssues(at+"/value", err)...)
			}
		case OpRemove:
		case OpMove:
			if err := validateFieldPointer(operation.From); err != nil {
				issues = append(issues, Issue{Path: at + "/from", Keyword: "from", Reason: err.Error()})
			}
		default:
			issues = append(issues, Issue{Path: at + "/op", Keyword: "op", Reason: fmt.Sprintf("unsupported operation %q", operation.Op)})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Kind: ErrInvalidPatch, Issues: issues}
	}
	return nil
}

func validateFieldPointer(raw string) error {
	pointer, err := ParsePointer(raw)
	if err != nil {
		return err
	}
	if len(pointer) == 0 {
		return fmt.Errorf("path must address a field")
	}
	if _, err := pointer.FieldPath(); err != nil {
		return err
	}
	return nil
}

// TargetsRequired reports whether the operation edits the required list of an object field.
// Such operations change validation only and never migrate row data.
func (o Operation) TargetsRequired() bool {
	pointer, err := ParsePointer(o.Path)
	if err != nil {
		return false
	}
	_, ok := pointer.RequiredTarget()
	return ok
}

func validateRequiredOperation(at string, operation Operation) []Issue {
	pointer, _ := ParsePointer(operation.Path)
	wholeList := pointer[len(pointer)-1] == keywordRequired
	switch operation.Op {
	case OpRemove:
		return nil
	case OpAdd, OpReplace:
		if wholeList {
			if _, ok := requiredNames(operation.Value); !ok {
				return []Issue{{Path: at + "/value", Keyword: "required", Reason: "required must be an array of property names"}}
			}
			return nil
		}
		if name, ok := operation.Value.(string); !ok || name == "" {
			return []Issue{{Path: at + "/value", Keyword: "required", Reason: "required entry must be a property name"}}
		}
		return nil
	case OpMove:
		return []Issue{{Path: at + "/op", Keyword: "op", Reason: "move is not supported on required"}}
	default:
		return []Issue{{Path: at + "/op", Keyword: "op", Reason: fmt.Sprintf("unsupported operation %q", operation.Op)}}
	}
}

func requiredNames(value any) ([]string, bool) {
	switch typed := value.(type) {
	case []string:
		return typed, true
	case []any:
		names := make([]string, 0, len(typed))
		for _, entry := range typed {
			name, ok := entry.(string)
			if !ok {
				return nil, false
			}
			names = append(names, name)
		}
		return names, true
	default:
		return nil, false
	}
}

func nestIssues(prefix string, err error) []Issue {
	validationError, ok := err.(*ValidationError)
	if !ok {
		return []Issue{{Path: prefix, Keyword: "value", Reason: err.Error()}}
	}
	nested := make([]Issue, 0, len(validationError.Issues))
	for _, issue := range validationError.Issues {
		issue.Path = prefix + issue.Path
		nested = append(nested, issue)
	}
	return nested
}

// Apply applies the patch to a decoded schema document and returns the next document. Removing or
// moving a property also updates the required list of its object.
func (p Patch) Apply(document any) (any, error) {
	current := document
	for _, operation := range p {
		next, err := applyOperation(current, operation)
		if err != nil {
			return nil, err
		}
		current = syncRequired(next, operation)
	}
	if len(p) == 0 {
		return Clone(document), nil
	}
	return current, nil
}

func applyOperation(document any, operation Operation) (any, error) {
	encodedPatch, err := json.Marshal(Patch{operation})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	decodedPatch, err := jsonpatch.DecodePatch(encodedPatch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	encodedDocument, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	patched, err := decodedPatch.Apply(encodedDocument)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return Decode(patched)
}

// syncRequired drops a removed property from the required list of its object and carries the
// requirement over to the new name of a moved property.
func syncRequired(document any, operation Operation) any {
	switch operation.Op {
	case OpRemove:
		pointer, err := ParsePointer(operation.Path)
		if err != nil {
			return document
		}
		if owner, name, ok := pointer.PropertyName(); ok {
			dropRequired(document, owner, name)
		}
	case OpMove:
		from, err := ParsePointer(operation.From)
		if err != nil {
			return document
		}
		to, err := ParsePointer(operation.Path)
		if err != nil {
			return document
		}
		fromOwner, fromName, ok := from.PropertyName()
		if !ok || !dropRequired(document, fromOwner, fromName) {
			return document
		}
		if toOwner, toName, ok := to.PropertyName(); ok {
			addRequired(document, toOwner, toName)
		}
	}
	return document
}

func requiredOf(document any, owner Pointer) (map[string]any, []string) {
	value, ok := owner.Lookup(document)
	if !ok {
		return nil, nil
	}
	object, ok := value.(map[string]any)
	if !ok {
		return nil, nil
	}
	names, _ := requiredNames(object[keywordRequired])
	return object, names
}

func dropRequired(document any, owner Pointer, name string) bool {
	object, names := requiredOf(document, owner)
	if object == nil {
		return false
	}
	kept := make([]any, 0, len(names))
	dropped := false
	for _, existing := range names {
		if existing == name {
			dropped = true
			continue
		}
		kept = append(kept, existing)
	}
	if !dropped {
		return false
	}
	if len(kept) == 0 {
		delete(object, keywordRequired)
	} else {
		object[keywordRequired] = kept
	}
	return true
}

func addRequired(document any, owner Pointer, name string) {
	object, names := requiredOf(document, owner)
	if object == nil {
		return
	}
	next := make([]any, 0, len(names)+1)
	for _, existing := range names {
		if existing == name {
			return
		}
		next = append(next, existing)
	}
	object[keywordRequired] = append(next, name)
}

// AdditionPatch describes a whole schema as a single add operation at the document root.
func AdditionPatch(document any) Patch {
	return Patch{{Op: OpAdd, Path: "", Value: document}}
}
