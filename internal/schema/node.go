package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Type enumerates the JSON Schema types a table field may declare.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
)

const (
	keywordType       = "type"
	keywordProperties = "properties"
	keywordItems      = "items"
	keywordRequired   = "required"
	keywordDefault    = "default"
	keywordForeignKey = "foreignKey"
)

// Node is a parsed table schema node. Property order is sorted so traversals are deterministic.
type Node struct {
	Type       Type
	Properties map[string]*Node
	Order      []string
	Required   []string
	Items      *Node
	ForeignKey string
	Default    any
	HasDefault bool
}

// Parse decodes a raw schema document into a Node tree.
func Parse(document []byte) (*Node, error) {
	var decoded any
	if err := json.Unmarshal(document, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return ParseValue(decoded)
}

// ParseValue builds a Node tree from an already decoded schema document.
func ParseValue(document any) (*Node, error) {
	return parseNode(document, Pointer{})
}

func parseNode(raw any, at Pointer) (*Node, error) {
	object, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an object", ErrInvalidSchema, at.String())
	}
	typeName, _ := object[keywordType].(string)
	node := &Node{Type: Type(typeName)}
	if value, ok := object[keywordDefault]; ok {
		node.Default = value
		node.HasDefault = true
	}

	switch node.Type {
	case TypeObject:
		rawProperties, _ := object[keywordProperties].(map[string]any)
		node.Properties = make(map[string]*Node, len(rawProperties))
		for name, rawChild := range rawProperties {
			child, err := parseNode(rawChild, at.Append(keywordProperties, name))
			if err != nil {
				return nil, err
			}
			node.Properties[name] = child
			node.Order = append(node.Order, name)
		}
		sort.Strings(node.Order)
		if rawRequired, ok := object[keywordRequired].([]any); ok {
			for _, entry := range rawRequired {
				if name, ok := entry.(string); ok {
					node.Required = append(node.Required, name)
				}
			}
		}
	case TypeArray:
		rawItems, ok := object[keywordItems]
		if !ok {
			return nil, fmt.Errorf("%w: %s array without items", ErrInvalidSchema, at.String())
		}
		items, err := parseNode(rawItems, at.Append(keywordItems))
		if err != nil {
			return nil, err
		}
		node.Items = items
	case TypeString:
		node.ForeignKey, _ = object[keywordForeignKey].(string)
	case TypeNumber, TypeInteger, TypeBoolean:
	default:
		return nil, fmt.Errorf("%w: %s has unsupported type %q", ErrInvalidSchema, at.String(), typeName)
	}
	return node, nil
}

// Property returns the child schema for an object property.
func (n *Node) Property(name string) (*Node, bool) {
	if n == nil || n.Properties == nil {
		return nil, false
	}
	child, ok := n.Properties[name]
	return child, ok
}

// Resolve walks a schema pointer (for example /properties/address/properties/city) and returns
// the node it addresses.
func (n *Node) Resolve(pointer Pointer) (*Node, bool) {
	current := n
	for index := 0; index < len(pointer); index++ {
		if current == nil {
			return nil, false
		}
		switch pointer[index] {
		case keywordProperties:
			if index+1 >= len(pointer) {
				return nil, false
			}
			index++
			child, ok := current.Property(pointer[index])
			if !ok {
				return nil, false
			}
			current = child
		case keywordItems:
			current = current.Items
		default:
			return nil, false
		}
	}
	return current, current != nil
}

// IsNumeric reports whether the node holds a number or integer.
func (n *Node) IsNumeric() bool {
	return n != nil && (n.Type == TypeNumber || n.Type == TypeInteger)
}
