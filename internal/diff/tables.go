package diff

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/views"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TableChange describes one user table lineage whose version differs between the two revisions.
type TableChange struct {
	TableCreatedID    string                 `json:"tableCreatedId"`
	ChangeType        ChangeType             `json:"changeType"`
	OldTableID        string                 `json:"oldTableId,omitempty"`
	NewTableID        string                 `json:"newTableId,omitempty"`
	OldVersionID      string                 `json:"oldVersionId,omitempty"`
	NewVersionID      string                 `json:"newVersionId,omitempty"`
	SchemaChanged     bool                   `json:"schemaChanged"`
	Migrations        []migrations.Migration `json:"migrations"`
	ViewsChanges      []views.Change         `json:"viewsChanges"`
	RowChangesCount   int                    `json:"rowChangesCount"`
	AddedRowsCount    int                    `json:"addedRowsCount"`
	ModifiedRowsCount int                    `json:"modifiedRowsCount"`
	RemovedRowsCount  int                    `json:"removedRowsCount"`
	RenamedRowsCount  int                    `json:"renamedRowsCount"`
}

func (c TableChange) key() string {
	return c.TableCreatedID
}

type TableFilter struct {
	ChangeTypes []ChangeType
	Search      string
}

func (f TableFilter) matches(change TableChange) bool {
	if len(f.ChangeTypes) > 0 && !containsType(f.ChangeTypes, change.ChangeType) {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(change.OldTableID), needle) ||
		strings.Contains(strings.ToLower(change.NewTableID), needle)
}

type TableChangesQuery struct {
	RevisionID            string
	CompareWithRevisionID string
	Filter                TableFilter
	Page                  Page
}

// GetTableChanges lists the user tables that differ from the compare point, with their schema
// migrations, views changes and row counts.
func (e *Engine) GetTableChanges(ctx context.Context, query TableChangesQuery) (Connection[TableChange], error) {
	var connection Connection[TableChange]
	err := e.read(ctx, "diff.get_table_changes", func(tx *gorm.DB) error {
		compared, err := e.compare(tx, query.RevisionID, query.CompareWithRevisionID)
		if err != nil {
			return err
		}
		var changes []TableChange
		for _, pair := range compared.pairs() {
			if !pair.changed() {
				continue
			}
			change, err := e.tableChange(tx, compared, pair)
			if err != nil {
				return err
			}
			if query.Filter.matches(change) {
				changes = append(changes, change)
			}
		}
		connection, err = paginate(changes, TableChange.key, query.Page)
		return err
	}, zap.String("revision_id", query.RevisionID))
	if err != nil {
		return Connection[TableChange]{}, err
	}
	return connection, nil
}

func (e *Engine) tableChange(tx *gorm.DB, compared comparison, pair tablePair) (TableChange, error) {
	change := TableChange{
		TableCreatedID: pair.createdID,
		OldTableID:     pair.oldID(),
		NewTableID:     pair.newID(),
	}
	if pair.base != nil {
		change.OldVersionID = pair.base.VersionID
	}
	if pair.target != nil {
		change.NewVersionID = pair.target.VersionID
	}

	rows, err := e.rowChanges(tx, pair)
	if err != nil {
		return TableChange{}, err
	}
	change.RowChangesCount = len(rows)
	for _, row := range rows {
		switch row.ChangeType {
		case ChangeAdded:
			change.AddedRowsCount++
		case ChangeRemoved:
			change.RemovedRowsCount++
		case ChangeModified:
			change.ModifiedRowsCount++
		case ChangeRenamed:
			change.RenamedRowsCount++
		case ChangeRenamedAndModified:
			change.ModifiedRowsCount++
			change.RenamedRowsCount++
		}
	}

	switch {
	case pair.base == nil:
		change.ChangeType = ChangeAdded
		change.SchemaChanged = true
	case pair.target == nil:
		change.ChangeType = ChangeRemoved
		change.SchemaChanged = true
	default:
		renamed := pair.base.ID != pair.target.ID
		change.SchemaChanged = pair.base.SchemaHash != pair.target.SchemaHash
		modified := change.SchemaChanged || change.RowChangesCount > 0 || !renamed
		change.ChangeType = classify(renamed, modified)
	}

	for _, migration := range migrations.ForTable(compared.targetLog, pair.createdID) {
		if _, known := compared.base.migrations[migration.VersionID]; !known {
			change.Migrations = append(change.Migrations, migration)
		}
	}

	viewsChanges, err := e.viewsChanges(tx, compared, pair)
	if err != nil {
		return TableChange{}, err
	}
	change.ViewsChanges = viewsChanges
	return change, nil
}

func (e *Engine) viewsChanges(tx *gorm.DB, compared comparison, pair tablePair) ([]views.Change, error) {
	before := views.DefaultDocument()
	if pair.base != nil {
		document, err := e.viewsOf(tx, compared.base, pair.base.ID)
		if err != nil {
			return nil, err
		}
		before = document
	}
	after := views.DefaultDocument()
	if pair.target != nil {
		document, err := e.viewsOf(tx, compared.target, pair.target.ID)
		if err != nil {
			return nil, err
		}
		after = document
	}
	return views.Diff(before, after), nil
}

type ViewsChangesQuery struct {
	RevisionID            string
	CompareWithRevisionID string
	TableID               string
	Page                  Page
}

// GetViewsChanges lists view-by-view changes of one table's views document.
func (e *Engine) GetViewsChanges(ctx context.Context, query ViewsChangesQuery) (Connection[views.Change], error) {
	var connection Connection[views.Change]
	err := e.read(ctx, "diff.get_views_changes", func(tx *gorm.DB) error {
		compared, err := e.compare(tx, query.RevisionID, query.CompareWithRevisionID)
		if err != nil {
			return err
		}
		pair, err := compared.pairByID(query.TableID)
		if err != nil {
			return err
		}
		changes, err := e.viewsChanges(tx, compared, pair)
		if err != nil {
			return err
		}
		connection, err = paginate(changes, viewPosition, query.Page)
		return err
	}, zap.String("revision_id", query.RevisionID), zap.String("table_id", query.TableID))
	if err != nil {
		return Connection[views.Change]{}, err
	}
	return connection, nil
}

func viewPosition(change views.Change) string {
	return fmt.Sprintf("%08d", change.Position)
}
