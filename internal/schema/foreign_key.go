package schema

import (
	"fmt"
	"sort"
)

// Reference is one foreign-key value found in row data.
type Reference struct {
	Table string
	RowID string
	Path  string
}

// ForeignKeyField is a schema field that declares a foreign key.
type ForeignKeyField struct {
	Pointer Pointer
	Table   string
}

// ForeignKeyReferences extracts every foreign-key reference from a value tree. Empty strings are
// reported as references to a missing row rather than skipped.
func ForeignKeyReferences(root *Value) []Reference {
	var references []Reference
	_ = Walk(root, func(value *Value, pointer Pointer) error {
		if value.Kind != KindString || value.Schema == nil || value.Schema.ForeignKey == "" {
			return nil
		}
		references = append(references, Reference{
			Table: value.Schema.ForeignKey,
			RowID: value.String,
			Path:  pointer.String(),
		})
		return nil
	})
	return references
}

// RenameReferences rewrites every foreign-key value pointing at row from of table to row to. It
// reports whether anything changed.
func RenameReferences(root *Value, table, from, to string) bool {
	changed := false
	_ = Walk(root, func(value *Value, _ Pointer) error {
		if value.Kind != KindString || value.Schema == nil || value.Schema.ForeignKey != table {
			return nil
		}
		if value.String == from {
			value.String = to
			changed = true
		}
		return nil
	})
	return changed
}

// ForeignKeyFields lists every field of the schema that declares a foreign key.
func ForeignKeyFields(node *Node) []ForeignKeyField {
	var fields []ForeignKeyField
	collectForeignKeys(node, Pointer{}, &fields)
	return fields
}

func collectForeignKeys(node *Node, at Pointer, fields *[]ForeignKeyField) {
	if node == nil {
		return
	}
	switch node.Type {
	case TypeObject:
		for _, name := range node.Order {
			collectForeignKeys(node.Properties[name], at.Append(keywordProperties, name), fields)
		}
	case TypeArray:
		collectForeignKeys(node.Items, at.Append(keywordItems), fields)
	case TypeString:
		if node.ForeignKey != "" {
			*fields = append(*fields, ForeignKeyField{Pointer: at, Table: node.ForeignKey})
		}
	}
}

// ReferencedTables returns the sorted set of tables the schema points at.
func ReferencedTables(node *Node) []string {
	unique := make(map[string]struct{})
	for _, field := range ForeignKeyFields(node) {
		unique[field.Table] = struct{}{}
	}
	tables := make([]string, 0, len(unique))
	for table := range unique {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// ReferencesTable reports whether any field of the schema points at tableID.
func ReferencesTable(node *Node, tableID string) bool {
	for _, field := range ForeignKeyFields(node) {
		if field.Table == tableID {
			return true
		}
	}
	return false
}

// CheckSelfReference rejects schemas with a foreign key pointing at their own table.
func CheckSelfReference(node *Node, tableID string) error {
	var issues []Issue
	for _, field := range ForeignKeyFields(node) {
		if field.Table == tableID {
			issues = append(issues, Issue{
				Path:    field.Pointer.String(),
				Keyword: keywordForeignKey,
				Reason:  fmt.Sprintf("foreign key to own table %q is not allowed", tableID),
			})
		}
	}
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Kind: ErrSelfReference, Issues: issues}
}

// RewriteForeignKeys builds replace operations that point every foreign key at from to to.
// Each operation replaces the whole field definition so it passes field validation.
func RewriteForeignKeys(document any, node *Node, from, to string) (Patch, error) {
	var patch Patch
	for _, field := range ForeignKeyFields(node) {
		if field.Table != from {
			continue
		}
		raw, ok := field.Pointer.Lookup(document)
		if !ok {
			return nil, fmt.Errorf("%w: %s not found in document", ErrInvalidSchema, field.Pointer.String())
		}
		definition, ok := Clone(raw).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an object", ErrInvalidSchema, field.Pointer.String())
		}
		definition[keywordForeignKey] = to
		patch = append(patch, Operation{Op: OpReplace, Path: field.Pointer.String(), Value: definition})
	}
	return patch, nil
}
