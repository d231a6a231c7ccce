package integrity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
)

const displayedIDs = 3

var (
	// ErrDataValidation is the category of row data that does not satisfy its schema.
	ErrDataValidation = errors.New("integrity: data validation failed")
	// ErrReferentialIntegrity is the category of missing foreign-key targets and dangling deletes.
	ErrReferentialIntegrity = errors.New("integrity: referential integrity violated")
)

// RowIssues lists the schema violations of one row.
type RowIssues struct {
	RowID  string         `json:"rowId"`
	Issues []schema.Issue `json:"issues"`
}

// DataValidationError carries every schema violation found in a batch of rows.
type DataValidationError struct {
	TableID string      `json:"tableId"`
	Rows    []RowIssues `json:"rows"`
}

func (e *DataValidationError) Error() string {
	parts := make([]string, 0, len(e.Rows))
	for _, row := range e.Rows {
		reasons := make([]string, 0, len(row.Issues))
		for _, issue := range row.Issues {
			path := issue.Path
			if path == "" {
				path = "/"
			}
			reasons = append(reasons, fmt.Sprintf("%s %s", path, issue.Reason))
		}
		parts = append(parts, fmt.Sprintf("%s: %s", row.RowID, strings.Join(reasons, ", ")))
	}
	return fmt.Sprintf("integrity: data of table %s is invalid: %s", e.TableID, strings.Join(parts, "; "))
}

func (e *DataValidationError) Unwrap() error {
	return ErrDataValidation
}

// ForeignKeyTableNotFoundError reports foreign keys naming tables absent from the revision.
type ForeignKeyTableNotFoundError struct {
	TableID       string   `json:"tableId"`
	MissingTables []string `json:"missingTables"`
}

func (e *ForeignKeyTableNotFoundError) Error() string {
	return fmt.Sprintf("integrity: table %s references missing tables %s", e.TableID, strings.Join(e.MissingTables, ", "))
}

func (e *ForeignKeyTableNotFoundError) Unwrap() error {
	return ErrReferentialIntegrity
}

// MissingReference lists the missing target ids found at one data path.
type MissingReference struct {
	Path       string   `json:"path"`
	ForeignKey string   `json:"foreignKey"`
	RowIDs     []string `json:"rowIds"`
	MissingIDs []string `json:"missingIds"`
}

// ForeignKeyRowsNotFoundError carries every reference to a missing row found in a batch.
type ForeignKeyRowsNotFoundError struct {
	TableID string             `json:"tableId"`
	Missing []MissingReference `json:"missing"`
}

func (e *ForeignKeyRowsNotFoundError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, missing := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s -> %s [%s]", missing.Path, missing.ForeignKey, displayIDs(missing.MissingIDs)))
	}
	return fmt.Sprintf("integrity: table %s references missing rows: %s", e.TableID, strings.Join(parts, "; "))
}

func (e *ForeignKeyRowsNotFoundError) Unwrap() error {
	return ErrReferentialIntegrity
}

// MissingIDs flattens every missing id, preserving order and duplicates across paths.
func (e *ForeignKeyRowsNotFoundError) MissingIDs() []string {
	var ids []string
	for _, missing := range e.Missing {
		ids = append(ids, missing.MissingIDs...)
	}
	return ids
}

func displayIDs(ids []string) string {
	quoted := make([]string, 0, displayedIDs)
	for index, id := range ids {
		if index == displayedIDs {
			break
		}
		quoted = append(quoted, fmt.Sprintf("%q", id))
	}
	display := strings.Join(quoted, ", ")
	if len(ids) > displayedIDs {
		display += fmt.Sprintf(" and %d more", len(ids)-displayedIDs)
	}
	return display
}

// ReferencedError refuses a deletion that would leave references dangling.
type ReferencedError struct {
	TableID      string   `json:"tableId"`
	RowIDs       []string `json:"rowIds,omitempty"`
	ReferencedBy []string `json:"referencedBy"`
}

func (e *ReferencedError) Error() string {
	subject := "table " + e.TableID
	if len(e.RowIDs) > 0 {
		subject = fmt.Sprintf("rows [%s] of table %s", displayIDs(e.RowIDs), e.TableID)
	}
	return fmt.Sprintf("integrity: %s referenced by tables %s", subject, strings.Join(e.ReferencedBy, ", "))
}

func (e *ReferencedError) Unwrap() error {
	return ErrReferentialIntegrity
}
