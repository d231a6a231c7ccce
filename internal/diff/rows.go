package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Source names what made a row differ.
type Source string

const (
	SourceData   Source = "DATA"
	SourceSchema Source = "SCHEMA"
	SourceRename Source = "RENAME"
)

// ParseSource accepts the upper-case names used on the wire.
func ParseSource(raw string) (Source, error) {
	switch Source(raw) {
	case SourceData, SourceSchema, SourceRename:
		return Source(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown change source %q", ErrInvalidFilter, raw)
	}
}

// RowChange describes one row lineage whose version differs between the two revisions.
type RowChange struct {
	TableID        string        `json:"tableId"`
	TableCreatedID string        `json:"tableCreatedId"`
	RowCreatedID   string        `json:"rowCreatedId"`
	ChangeType     ChangeType    `json:"changeType"`
	OldRowID       string        `json:"oldRowId,omitempty"`
	NewRowID       string        `json:"newRowId,omitempty"`
	OldVersionID   string        `json:"oldVersionId,omitempty"`
	NewVersionID   string        `json:"newVersionId,omitempty"`
	OldData        any           `json:"oldData,omitempty"`
	NewData        any           `json:"newData,omitempty"`
	Sources        []Source      `json:"sources"`
	FieldChanges   []FieldChange `json:"fieldChanges"`
}

func (c RowChange) key() string {
	return c.TableCreatedID + "\x00" + c.RowCreatedID
}

func (c RowChange) hasSource(source Source) bool {
	for _, candidate := range c.Sources {
		if candidate == source {
			return true
		}
	}
	return false
}

// RowFilter narrows row changes. Empty fields match everything.
type RowFilter struct {
	TableID     string
	ChangeTypes []ChangeType
	Sources     []Source
	Search      string
	// AffectedBySchema keeps rows whose schema hash changed, whether or not their data did.
	AffectedBySchema bool
}

func (f RowFilter) matches(change RowChange) bool {
	if len(f.ChangeTypes) > 0 && !containsType(f.ChangeTypes, change.ChangeType) {
		return false
	}
	if len(f.Sources) > 0 {
		intersects := false
		for _, source := range f.Sources {
			if change.hasSource(source) {
				intersects = true
				break
			}
		}
		if !intersects {
			return false
		}
	}
	if f.AffectedBySchema && !change.hasSource(SourceSchema) {
		return false
	}
	if f.Search != "" && !rowMentions(change, f.Search) {
		return false
	}
	return true
}

func containsType(types []ChangeType, changeType ChangeType) bool {
	for _, candidate := range types {
		if candidate == changeType {
			return true
		}
	}
	return false
}

func rowMentions(change RowChange, search string) bool {
	needle := strings.ToLower(search)
	for _, text := range []string{change.OldRowID, change.NewRowID} {
		if strings.Contains(strings.ToLower(text), needle) {
			return true
		}
	}
	for _, data := range []any{change.OldData, change.NewData} {
		if data == nil {
			continue
		}
		encoded, err := json.Marshal(data)
		if err == nil && strings.Contains(strings.ToLower(string(encoded)), needle) {
			return true
		}
	}
	return false
}

type RowChangesQuery struct {
	RevisionID            string
	CompareWithRevisionID string
	Filter                RowFilter
	Page                  Page
}

// GetRowChanges lists row changes of one table, or of every user table when the filter names none.
func (e *Engine) GetRowChanges(ctx context.Context, query RowChangesQuery) (Connection[RowChange], error) {
	var connection Connection[RowChange]
	err := e.read(ctx, "diff.get_row_changes", func(tx *gorm.DB) error {
		compared, err := e.compare(tx, query.RevisionID, query.CompareWithRevisionID)
		if err != nil {
			return err
		}
		pairs := compared.pairs()
		if query.Filter.TableID != "" {
			pair, err := compared.pairByID(query.Filter.TableID)
			if err != nil {
				return err
			}
			pairs = []tablePair{pair}
		}
		var changes []RowChange
		for _, pair := range pairs {
			tableChanges, err := e.rowChanges(tx, pair)
			if err != nil {
				return err
			}
			for _, change := range tableChanges {
				if query.Filter.matches(change) {
					changes = append(changes, change)
				}
			}
		}
		sort.SliceStable(changes, func(i, j int) bool { return changes[i].key() < changes[j].key() })
		connection, err = paginate(changes, RowChange.key, query.Page)
		return err
	}, zap.String("revision_id", query.RevisionID), zap.String("table_id", query.Filter.TableID))
	if err != nil {
		return Connection[RowChange]{}, err
	}
	return connection, nil
}

func (e *Engine) rowsOf(tx *gorm.DB, table *revisions.Table) (map[string]revisions.Row, error) {
	result := map[string]revisions.Row{}
	if table == nil {
		return result, nil
	}
	rows, err := e.store.Rows(tx, table.VersionID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.CreatedID] = row
	}
	return result, nil
}

// rowChanges diffs the rows of one table lineage, sorted by row lineage id.
func (e *Engine) rowChanges(tx *gorm.DB, pair tablePair) ([]RowChange, error) {
	if !pair.changed() {
		return nil, nil
	}
	before, err := e.rowsOf(tx, pair.base)
	if err != nil {
		return nil, err
	}
	after, err := e.rowsOf(tx, pair.target)
	if err != nil {
		return nil, err
	}
	createdIDs := make([]string, 0, len(before)+len(after))
	for createdID := range before {
		createdIDs = append(createdIDs, createdID)
	}
	for createdID := range after {
		if _, ok := before[createdID]; !ok {
			createdIDs = append(createdIDs, createdID)
		}
	}
	sort.Strings(createdIDs)

	tableID := pair.newID()
	if tableID == "" {
		tableID = pair.oldID()
	}
	var changes []RowChange
	for _, createdID := range createdIDs {
		previous, hadPrevious := before[createdID]
		next, hasNext := after[createdID]
		if hadPrevious && hasNext && previous.VersionID == next.VersionID {
			continue
		}
		change := RowChange{TableID: tableID, TableCreatedID: pair.createdID, RowCreatedID: createdID}
		var oldData, newData any
		if hadPrevious {
			if oldData, err = previous.DecodeData(); err != nil {
				return nil, err
			}
			change.OldRowID = previous.ID
			change.OldVersionID = previous.VersionID
			change.OldData = oldData
		}
		if hasNext {
			if newData, err = next.DecodeData(); err != nil {
				return nil, err
			}
			change.NewRowID = next.ID
			change.NewVersionID = next.VersionID
			change.NewData = newData
		}
		switch {
		case !hadPrevious:
			change.ChangeType = ChangeAdded
			change.Sources = []Source{SourceData}
		case !hasNext:
			change.ChangeType = ChangeRemoved
			change.Sources = []Source{SourceData}
		default:
			if previous.Hash != next.Hash {
				change.Sources = append(change.Sources, SourceData)
			}
			if previous.SchemaHash != next.SchemaHash {
				change.Sources = append(change.Sources, SourceSchema)
			}
			renamed := previous.ID != next.ID
			if renamed {
				change.Sources = append(change.Sources, SourceRename)
			}
			if len(change.Sources) == 0 {
				continue
			}
			change.ChangeType = classify(renamed, previous.Hash != next.Hash || previous.SchemaHash != next.SchemaHash)
		}
		change.FieldChanges = FieldChanges(oldData, newData)
		changes = append(changes, change)
	}
	return changes, nil
}
