package schema

import (
	"errors"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindObject
	KindArray
	KindString
	KindNumber
	KindBoolean
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	default:
		return "null"
	}
}

// Value is a row value node paired with the schema node that governs it. Schema is nil for
// values the schema does not declare.
type Value struct {
	Kind    Kind
	Schema  *Node
	Fields  map[string]*Value
	Keys    []string
	Items   []*Value
	String  string
	Number  float64
	Boolean bool
}

// NewValue builds the schema-typed value tree for decoded JSON data.
func NewValue(node *Node, data any) *Value {
	switch typed := data.(type) {
	case map[string]any:
		value := &Value{Kind: KindObject, Schema: node, Fields: make(map[string]*Value, len(typed))}
		for key, child := range typed {
			childSchema, _ := node.Property(key)
			value.Fields[key] = NewValue(childSchema, child)
			value.Keys = append(value.Keys, key)
		}
		sort.Strings(value.Keys)
		return value
	case []any:
		value := &Value{Kind: KindArray, Schema: node, Items: make([]*Value, 0, len(typed))}
		var itemSchema *Node
		if node != nil {
			itemSchema = node.Items
		}
		for _, child := range typed {
			value.Items = append(value.Items, NewValue(itemSchema, child))
		}
		return value
	case string:
		return &Value{Kind: KindString, Schema: node, String: typed}
	case float64:
		return &Value{Kind: KindNumber, Schema: node, Number: typed}
	case int:
		return &Value{Kind: KindNumber, Schema: node, Number: float64(typed)}
	case int64:
		return &Value{Kind: KindNumber, Schema: node, Number: float64(typed)}
	case bool:
		return &Value{Kind: KindBoolean, Schema: node, Boolean: typed}
	default:
		return &Value{Kind: KindNull, Schema: node}
	}
}

// Interface converts the tree back into plain decoded JSON.
func (v *Value) Interface() any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case KindObject:
		object := make(map[string]any, len(v.Fields))
		for key, child := range v.Fields {
			object[key] = child.Interface()
		}
		return object
	case KindArray:
		items := make([]any, 0, len(v.Items))
		for _, child := range v.Items {
			items = append(items, child.Interface())
		}
		return items
	case KindString:
		return v.String
	case KindNumber:
		return v.Number
	case KindBoolean:
		return v.Boolean
	default:
		return nil
	}
}

// SkipChildren may be returned by a Visitor to stop descending below the current node.
var SkipChildren = errors.New("schema: skip children")

// Visitor is invoked for every node in pre-order with the node's JSON Pointer.
type Visitor func(value *Value, pointer Pointer) error

// Walk visits the tree rooted at value.
func Walk(value *Value, visit Visitor) error {
	return walk(value, Pointer{}, visit)
}

func walk(value *Value, pointer Pointer, visit Visitor) error {
	if value == nil {
		return nil
	}
	if err := visit(value, pointer); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}
	switch value.Kind {
	case KindObject:
		for _, key := range value.Keys {
			if err := walk(value.Fields[key], pointer.Append(key), visit); err != nil {
				return err
			}
		}
	case KindArray:
		for index, item := range value.Items {
			if err := walk(item, pointer.Append(strconv.Itoa(index)), visit); err != nil {
				return err
			}
		}
	}
	return nil
}
