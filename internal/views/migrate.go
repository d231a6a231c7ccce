package views

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
)

// MigrationError aborts a schema update whose views could not be reconciled.
type MigrationError struct {
	TableID string
	Cause   error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("views: migration of %s failed: %v", e.TableID, e.Cause)
}

func (e *MigrationError) Unwrap() error {
	return e.Cause
}

// Migrate rewrites the views of a table for a schema patch applied to previousSchema. Removed
// fields lose their columns, filters and sorts; moved fields are rewritten; a replace changing the
// field type keeps the column but drops filters and sorts.
func Migrate(tableID string, document Document, previousSchema any, patch schema.Patch) (Document, error) {
	migrated := clone(document)
	current := previousSchema
	for _, operation := range patch {
		node, err := schema.ParseValue(current)
		if err != nil {
			return Document{}, &MigrationError{TableID: tableID, Cause: err}
		}
		if err := migrateOperation(&migrated, node, operation); err != nil {
			return Document{}, &MigrationError{TableID: tableID, Cause: err}
		}
		next, err := schema.Patch{operation}.Apply(current)
		if err != nil {
			return Document{}, &MigrationError{TableID: tableID, Cause: err}
		}
		current = next
	}
	if err := Validate(migrated); err != nil {
		return Document{}, &MigrationError{TableID: tableID, Cause: err}
	}
	return migrated, nil
}

func fieldOf(raw string) (string, schema.Pointer, error) {
	pointer, err := schema.ParsePointer(raw)
	if err != nil {
		return "", nil, err
	}
	path, err := pointer.FieldPath()
	if err != nil {
		return "", nil, err
	}
	if path == "" {
		return "", nil, errors.New("patch addresses the whole document")
	}
	return FieldReference(path), pointer, nil
}

func migrateOperation(document *Document, node *schema.Node, operation schema.Operation) error {
	if operation.TargetsRequired() {
		return nil
	}
	switch operation.Op {
	case schema.OpAdd:
		return nil
	case schema.OpRemove:
		field, _, err := fieldOf(operation.Path)
		if err != nil {
			return err
		}
		document.dropField(field, true)
	case schema.OpMove:
		from, _, err := fieldOf(operation.From)
		if err != nil {
			return err
		}
		to, _, err := fieldOf(operation.Path)
		if err != nil {
			return err
		}
		document.moveField(from, to)
	case schema.OpReplace:
		field, pointer, err := fieldOf(operation.Path)
		if err != nil {
			return err
		}
		before, ok := node.Resolve(pointer)
		if !ok {
			return nil
		}
		after, err := schema.ParseValue(operation.Value)
		if err != nil {
			return err
		}
		if before.Type != after.Type {
			document.dropField(field, false)
		}
	default:
		return fmt.Errorf("unsupported operation %q", operation.Op)
	}
	return nil
}

func (d *Document) dropField(field string, columns bool) {
	for index := range d.Views {
		view := &d.Views[index]
		if columns {
			kept := view.Columns[:0]
			for _, column := range view.Columns {
				if !references(column.Field, field) {
					kept = append(kept, column)
				}
			}
			view.Columns = kept
		}
		keptSorts := view.Sorts[:0]
		for _, sort := range view.Sorts {
			if !references(sort.Field, field) {
				keptSorts = append(keptSorts, sort)
			}
		}
		view.Sorts = keptSorts
		if view.Filters != nil {
			view.Filters.drop(field)
		}
	}
}

func (g *FilterGroup) drop(field string) {
	kept := g.Conditions[:0]
	for _, condition := range g.Conditions {
		if !references(condition.Field, field) {
			kept = append(kept, condition)
		}
	}
	g.Conditions = kept
	for index := range g.Groups {
		g.Groups[index].drop(field)
	}
}

func rewrite(reference, from, to string) string {
	if reference == from {
		return to
	}
	if strings.HasPrefix(reference, from+".") {
		return to + strings.TrimPrefix(reference, from)
	}
	return reference
}

func (d *Document) moveField(from, to string) {
	for index := range d.Views {
		view := &d.Views[index]
		for columnIndex := range view.Columns {
			view.Columns[columnIndex].Field = rewrite(view.Columns[columnIndex].Field, from, to)
		}
		for sortIndex := range view.Sorts {
			view.Sorts[sortIndex].Field = rewrite(view.Sorts[sortIndex].Field, from, to)
		}
		if view.Filters != nil {
			view.Filters.move(from, to)
		}
	}
}

func (g *FilterGroup) move(from, to string) {
	for index := range g.Conditions {
		g.Conditions[index].Field = rewrite(g.Conditions[index].Field, from, to)
	}
	for index := range g.Groups {
		g.Groups[index].move(from, to)
	}
}

func clone(document Document) Document {
	copied := document
	copied.Views = make([]View, len(document.Views))
	for index, view := range document.Views {
		viewCopy := view
		viewCopy.Columns = append([]Column(nil), view.Columns...)
		viewCopy.Sorts = append([]Sort(nil), view.Sorts...)
		if view.Filters != nil {
			group := cloneGroup(*view.Filters)
			viewCopy.Filters = &group
		}
		copied.Views[index] = viewCopy
	}
	return copied
}

func cloneGroup(group FilterGroup) FilterGroup {
	copied := group
	copied.Conditions = append([]FilterCondition(nil), group.Conditions...)
	copied.Groups = make([]FilterGroup, len(group.Groups))
	for index, nested := range group.Groups {
		copied.Groups[index] = cloneGroup(nested)
	}
	if len(group.Groups) == 0 {
		copied.Groups = nil
	}
	return copied
}
