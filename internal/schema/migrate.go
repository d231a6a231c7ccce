package schema

import (
	"fmt"
	"math"
	"strconv"
)

type step struct {
	name  string
	items bool
}

func stepsOf(pointer Pointer) ([]step, error) {
	steps := make([]step, 0, len(pointer)/2)
	for index := 0; index < len(pointer); index++ {
		switch pointer[index] {
		case keywordProperties:
			if index+1 >= len(pointer) {
				return nil, fmt.Errorf("%w: %s ends at properties", ErrInvalidPatch, pointer.String())
			}
			index++
			steps = append(steps, step{name: pointer[index]})
		case keywordItems:
			steps = append(steps, step{items: true})
		default:
			return nil, fmt.Errorf("%w: unexpected segment %q", ErrInvalidPatch, pointer[index])
		}
	}
	return steps, nil
}

func hasItems(steps []step) bool {
	for _, s := range steps {
		if s.items {
			return true
		}
	}
	return false
}

// updateAt rewrites the value addressed by steps. fn receives the current value and whether it is
// present, and returns the replacement and whether to keep it.
func updateAt(current any, steps []step, fn func(value any, present bool) (any, bool)) any {
	if len(steps) == 0 {
		next, _ := fn(current, true)
		return next
	}
	head := steps[0]
	if head.items {
		items, ok := current.([]any)
		if !ok {
			return current
		}
		for index, item := range items {
			items[index] = updateAt(item, steps[1:], fn)
		}
		return items
	}
	object, ok := current.(map[string]any)
	if !ok {
		return current
	}
	if len(steps) == 1 {
		existing, present := object[head.name]
		next, keep := fn(existing, present)
		if keep {
			object[head.name] = next
		} else {
			delete(object, head.name)
		}
		return object
	}
	child, present := object[head.name]
	if !present {
		return object
	}
	object[head.name] = updateAt(child, steps[1:], fn)
	return object
}

func lookupAt(current any, steps []step) (any, bool) {
	for _, s := range steps {
		object, ok := current.(map[string]any)
		if !ok || s.items {
			return nil, false
		}
		current, ok = object[s.name]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// MigrateData rewrites row data so that it follows the schema produced by the patch. Added fields
// receive their default, removed fields are dropped, moved fields keep their value and replaced
// fields are converted to the new type. Edits of required lists leave the data untouched.
func MigrateData(data any, patch Patch) (any, error) {
	current := Clone(data)
	for _, operation := range patch {
		if operation.TargetsRequired() {
			continue
		}
		pointer, err := ParsePointer(operation.Path)
		if err != nil {
			return nil, err
		}
		steps, err := stepsOf(pointer)
		if err != nil {
			return nil, err
		}
		switch operation.Op {
		case OpAdd, OpReplace:
			field, err := ParseValue(operation.Value)
			if err != nil {
				return nil, err
			}
			current = updateAt(current, steps, func(value any, present bool) (any, bool) {
				if !present {
					return DefaultValue(field), true
				}
				return Convert(value, field), true
			})
		case OpRemove:
			current = updateAt(current, steps, func(any, bool) (any, bool) {
				return nil, false
			})
		case OpMove:
			fromPointer, err := ParsePointer(operation.From)
			if err != nil {
				return nil, err
			}
			fromSteps, err := stepsOf(fromPointer)
			if err != nil {
				return nil, err
			}
			current = moveValue(current, fromSteps, steps)
		default:
			return nil, fmt.Errorf("%w: unsupported operation %q", ErrInvalidPatch, operation.Op)
		}
	}
	return current, nil
}

func moveValue(current any, from, to []step) any {
	if len(from) == 0 || len(to) == 0 {
		return current
	}
	if sameParent(from, to) {
		fromName := from[len(from)-1].name
		toName := to[len(to)-1].name
		return updateAt(current, from[:len(from)-1], func(parent any, present bool) (any, bool) {
			object, ok := parent.(map[string]any)
			if !ok || !present {
				return parent, present
			}
			if value, exists := object[fromName]; exists {
				delete(object, fromName)
				object[toName] = value
			}
			return object, true
		})
	}
	if hasItems(from) || hasItems(to) {
		return updateAt(current, from, func(any, bool) (any, bool) { return nil, false })
	}
	value, ok := lookupAt(current, from)
	current = updateAt(current, from, func(any, bool) (any, bool) { return nil, false })
	if !ok {
		return current
	}
	return updateAt(current, to, func(any, bool) (any, bool) { return value, true })
}

func sameParent(from, to []step) bool {
	if len(from) != len(to) || from[len(from)-1].items || to[len(to)-1].items {
		return false
	}
	for index := 0; index < len(from)-1; index++ {
		if from[index] != to[index] {
			return false
		}
	}
	return true
}

// DefaultValue returns the declared default of a field, or the zero value of its type.
func DefaultValue(node *Node) any {
	if node == nil {
		return nil
	}
	if node.HasDefault {
		return Clone(node.Default)
	}
	switch node.Type {
	case TypeObject:
		object := make(map[string]any, len(node.Order))
		for _, name := range node.Order {
			object[name] = DefaultValue(node.Properties[name])
		}
		return object
	case TypeArray:
		return []any{}
	case TypeString:
		return ""
	case TypeNumber, TypeInteger:
		return float64(0)
	case TypeBoolean:
		return false
	default:
		return nil
	}
}

// Convert coerces a value to the type of node, falling back to the default when no lossless-enough
// conversion exists.
func Convert(value any, node *Node) any {
	if node == nil {
		return value
	}
	switch node.Type {
	case TypeString:
		switch typed := value.(type) {
		case string:
			return typed
		case float64:
			return strconv.FormatFloat(typed, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(typed)
		}
	case TypeNumber, TypeInteger:
		var number float64
		converted := true
		switch typed := value.(type) {
		case float64:
			number = typed
		case string:
			parsed, err := strconv.ParseFloat(typed, 64)
			number, converted = parsed, err == nil
		case bool:
			if typed {
				number = 1
			}
		default:
			converted = false
		}
		if converted {
			if node.Type == TypeInteger {
				number = math.Trunc(number)
			}
			return number
		}
	case TypeBoolean:
		switch typed := value.(type) {
		case bool:
			return typed
		case string:
			if parsed, err := strconv.ParseBool(typed); err == nil {
				return parsed
			}
		case float64:
			return typed != 0
		}
	case TypeObject:
		if object, ok := value.(map[string]any); ok {
			converted := make(map[string]any, len(node.Order))
			for _, name := range node.Order {
				child := node.Properties[name]
				if existing, present := object[name]; present {
					converted[name] = Convert(existing, child)
				} else {
					converted[name] = DefaultValue(child)
				}
			}
			return converted
		}
	case TypeArray:
		if items, ok := value.([]any); ok {
			converted := make([]any, 0, len(items))
			for _, item := range items {
				converted = append(converted, Convert(item, node.Items))
			}
			return converted
		}
	}
	return DefaultValue(node)
}
