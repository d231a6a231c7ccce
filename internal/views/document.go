package views

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
)

const (
	// DataPrefix marks a field reference into row data, as in data.address.city.
	DataPrefix = "data."

	defaultViewID = "default"

	logicAnd = "and"
	logicOr  = "or"

	directionAsc  = "asc"
	directionDesc = "desc"
)

// ErrInvalidViews indicates that a views document is malformed.
var ErrInvalidViews = errors.New("views: invalid views document")

// Document lists the named views of one table.
type Document struct {
	Version       int    `json:"version"`
	DefaultViewID string `json:"defaultViewId"`
	Views         []View `json:"views"`
}

// View is a named projection of a table's rows.
type View struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Columns     []Column     `json:"columns,omitempty"`
	Filters     *FilterGroup `json:"filters,omitempty"`
	Sorts       []Sort       `json:"sorts,omitempty"`
	Search      string       `json:"search,omitempty"`
}

// Column is a displayed field.
type Column struct {
	Field string `json:"field"`
	Width int    `json:"width,omitempty"`
}

// FilterGroup combines conditions and nested groups.
type FilterGroup struct {
	Logic      string            `json:"logic"`
	Conditions []FilterCondition `json:"conditions,omitempty"`
	Groups     []FilterGroup     `json:"groups,omitempty"`
}

// FilterCondition compares one field with a value.
type FilterCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Sort orders rows by one field.
type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// DefaultDocument is the document of a table that never stored views.
func DefaultDocument() Document {
	return Document{
		Version:       1,
		DefaultViewID: defaultViewID,
		Views:         []View{{ID: defaultViewID, Name: "Default"}},
	}
}

// Validate checks view ids, the default view and filter and sort shapes, collecting every issue.
func Validate(document Document) error {
	var issues []schema.Issue
	if document.Version < 1 {
		issues = append(issues, schema.Issue{Path: "/version", Keyword: "version", Reason: "version must be at least 1"})
	}
	seen := make(map[string]struct{}, len(document.Views))
	for index, view := range document.Views {
		at := fmt.Sprintf("/views/%d", index)
		if strings.TrimSpace(view.ID) == "" {
			issues = append(issues, schema.Issue{Path: at + "/id", Keyword: "id", Reason: "view id is required"})
		} else if _, duplicate := seen[view.ID]; duplicate {
			issues = append(issues, schema.Issue{Path: at + "/id", Keyword: "id", Reason: fmt.Sprintf("duplicate view id %q", view.ID)})
		}
		seen[view.ID] = struct{}{}
		if strings.TrimSpace(view.Name) == "" {
			issues = append(issues, schema.Issue{Path: at + "/name", Keyword: "name", Reason: "view name is required"})
		}
		for sortIndex, sort := range view.Sorts {
			if sort.Direction != directionAsc && sort.Direction != directionDesc {
				issues = append(issues, schema.Issue{
					Path:    fmt.Sprintf("%s/sorts/%d/direction", at, sortIndex),
					Keyword: "direction",
					Reason:  fmt.Sprintf("unsupported direction %q", sort.Direction),
				})
			}
		}
		if view.Filters != nil {
			issues = append(issues, validateGroup(*view.Filters, at+"/filters")...)
		}
	}
	if len(document.Views) > 0 {
		if _, ok := seen[document.DefaultViewID]; !ok {
			issues = append(issues, schema.Issue{
				Path:    "/defaultViewId",
				Keyword: "defaultViewId",
				Reason:  fmt.Sprintf("default view %q does not exist", document.DefaultViewID),
			})
		}
	}
	if len(issues) > 0 {
		return &schema.ValidationError{Kind: ErrInvalidViews, Issues: issues}
	}
	return nil
}

func validateGroup(group FilterGroup, at string) []schema.Issue {
	var issues []schema.Issue
	if group.Logic != logicAnd && group.Logic != logicOr {
		issues = append(issues, schema.Issue{Path: at + "/logic", Keyword: "logic", Reason: fmt.Sprintf("unsupported logic %q", group.Logic)})
	}
	for index, condition := range group.Conditions {
		if condition.Field == "" || condition.Operator == "" {
			issues = append(issues, schema.Issue{
				Path:    fmt.Sprintf("%s/conditions/%d", at, index),
				Keyword: "condition",
				Reason:  "condition requires field and operator",
			})
		}
	}
	for index, nested := range group.Groups {
		issues = append(issues, validateGroup(nested, fmt.Sprintf("%s/groups/%d", at, index))...)
	}
	return issues
}

// FieldReference converts a data field path into a view reference.
func FieldReference(fieldPath string) string {
	return DataPrefix + fieldPath
}

func references(reference, field string) bool {
	return reference == field || strings.HasPrefix(reference, field+".")
}
