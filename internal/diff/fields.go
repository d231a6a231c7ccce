package diff

import (
	"sort"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"github.com/wI2L/jsondiff"
)

// FieldChangeType classifies one structural difference between two row payloads.
type FieldChangeType string

const (
	FieldAdded    FieldChangeType = "FIELD_ADDED"
	FieldRemoved  FieldChangeType = "FIELD_REMOVED"
	FieldModified FieldChangeType = "FIELD_MODIFIED"
	FieldMoved    FieldChangeType = "FIELD_MOVED"
)

// FieldChange is addressed by JSON Pointer. FromPath is set for moves.
type FieldChange struct {
	Path       string          `json:"path"`
	FromPath   string          `json:"fromPath,omitempty"`
	ChangeType FieldChangeType `json:"changeType"`
	OldValue   any             `json:"oldValue,omitempty"`
	NewValue   any             `json:"newValue,omitempty"`
}

// FieldChanges diffs two decoded payloads. A nil side is treated as an empty object so that added
// and removed rows list their top-level fields. Array elements are aligned by longest common
// subsequence and a removed value that reappears elsewhere is reported as a move.
func FieldChanges(previous, next any) []FieldChange {
	if previous == nil {
		previous = map[string]any{}
	}
	if next == nil {
		next = map[string]any{}
	}
	patch, err := jsondiff.Compare(previous, next, jsondiff.Factorize(), jsondiff.LCS())
	if err != nil {
		if schema.Equal(previous, next) {
			return nil
		}
		return []FieldChange{{ChangeType: FieldModified, OldValue: previous, NewValue: next}}
	}

	changes := make([]FieldChange, 0, len(patch))
	for _, operation := range patch {
		switch operation.Type {
		case jsondiff.OperationAdd:
			changes = append(changes, FieldChange{Path: operation.Path, ChangeType: FieldAdded, NewValue: operation.Value})
		case jsondiff.OperationCopy:
			changes = append(changes, FieldChange{Path: operation.Path, ChangeType: FieldAdded, NewValue: valueAt(next, operation.Path)})
		case jsondiff.OperationRemove:
			changes = append(changes, FieldChange{Path: operation.Path, ChangeType: FieldRemoved, OldValue: replacedValue(operation, previous)})
		case jsondiff.OperationReplace:
			changes = append(changes, FieldChange{Path: operation.Path, ChangeType: FieldModified, OldValue: replacedValue(operation, previous), NewValue: operation.Value})
		case jsondiff.OperationMove:
			changes = append(changes, FieldChange{Path: operation.Path, FromPath: operation.From, ChangeType: FieldMoved, NewValue: movedValue(operation, previous, next)})
		}
	}
	if len(changes) == 0 {
		return nil
	}
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes
}

func valueAt(document any, raw string) any {
	pointer, err := schema.ParsePointer(raw)
	if err != nil {
		return nil
	}
	value, _ := pointer.Lookup(document)
	return value
}

func movedValue(operation jsondiff.Operation, previous, next any) any {
	if operation.Value != nil {
		return operation.Value
	}
	if value := valueAt(next, operation.Path); value != nil {
		return value
	}
	return valueAt(previous, operation.From)
}

func replacedValue(operation jsondiff.Operation, previous any) any {
	if operation.OldValue != nil {
		return operation.OldValue
	}
	return valueAt(previous, operation.Path)
}
