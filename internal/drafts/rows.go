package drafts

import (
	"context"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/events"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/integrity"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RowResult carries the versions a row mutation produced and replaced.
type RowResult struct {
	TableVersionID         string
	PreviousTableVersionID string
	Row                    revisions.Row
	PreviousVersionID      string
	PreviousRowID          string
}

// RowRecord is a row with its decoded data.
type RowRecord struct {
	Row  revisions.Row
	Data any
}

// RowInput is one row submitted for validation.
type RowInput struct {
	RowID string `json:"rowId"`
	Data  any    `json:"data"`
}

// ValidationResult names the schema the data was validated against.
type ValidationResult struct {
	SchemaHash string `json:"schemaHash"`
}

// CreateRow validates data, runs the create hooks and stores the row.
func (s *Service) CreateRow(ctx context.Context, revisionID, tableID, rowID string, data any) (RowResult, error) {
	var result RowResult
	err := s.mutate(ctx, opCreateRow, revisionID, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		if err := validateRowID(rowID); err != nil {
			return nil, err
		}
		previous, err := s.store.FindTable(tx, draft.Revision.ID, tableID)
		if err != nil {
			return nil, err
		}
		record, err := s.migrations.GetSchema(tx, draft.Revision.ID, tableID)
		if err != nil {
			return nil, err
		}
		table, err := s.store.DraftTable(tx, draft, tableID, false)
		if err != nil {
			return nil, err
		}
		scope := HookScope{RevisionID: draft.Revision.ID, TableID: tableID, SchemaHash: record.Hash, Schema: record.Node}
		data, err := s.afterCreateRow(ctx, scope, rowID, data)
		if err != nil {
			return nil, err
		}
		if err := s.validator.ValidateRows(tx, draft.Revision.ID, tableID, record, []integrity.RowData{{RowID: rowID, Data: data}}); err != nil {
			return nil, err
		}
		row, err := s.store.CreateRow(tx, draft, table, rowID, revisions.RowContent{Data: data, SchemaHash: record.Hash})
		if err != nil {
			return nil, err
		}
		result, err = s.rowResult(tx, draft, previous, table.CreatedID, row.CreatedID)
		if err != nil {
			return nil, err
		}
		return []events.Event{{
			Type:           events.TypeRowCreated,
			TableID:        tableID,
			RowIDs:         []string{rowID},
			TableVersionID: result.TableVersionID,
			VersionIDs:     []string{result.Row.VersionID},
		}}, nil
	}, zap.String("table_id", tableID), zap.String("row_id", rowID))
	if err != nil {
		return RowResult{}, err
	}
	return result, nil
}

// UpdateRow replaces the data of a row. Content equal to head settles the row back onto its head
// version.
func (s *Service) UpdateRow(ctx context.Context, revisionID, tableID, rowID string, data any) (RowResult, error) {
	var result RowResult
	err := s.mutate(ctx, opUpdateRow, revisionID, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		previousTable, err := s.store.FindTable(tx, draft.Revision.ID, tableID)
		if err != nil {
			return nil, err
		}
		previousRow, err := s.store.FindRow(tx, previousTable.VersionID, rowID)
		if err != nil {
			return nil, err
		}
		record, err := s.migrations.GetSchema(tx, draft.Revision.ID, tableID)
		if err != nil {
			return nil, err
		}
		previousData, err := previousRow.DecodeData()
		if err != nil {
			return nil, err
		}
		meta, err := previousRow.DecodeMeta()
		if err != nil {
			return nil, err
		}
		scope := HookScope{RevisionID: draft.Revision.ID, TableID: tableID, SchemaHash: record.Hash, Schema: record.Node}
		data, err := s.afterUpdateRow(ctx, scope, rowID, previousData, data)
		if err != nil {
			return nil, err
		}
		if err := s.validator.ValidateRows(tx, draft.Revision.ID, tableID, record, []integrity.RowData{{RowID: rowID, Data: data}}); err != nil {
			return nil, err
		}
		table, err := s.store.DraftTable(tx, draft, tableID, false)
		if err != nil {
			return nil, err
		}
		if _, _, err := s.store.UpdateRow(tx, draft, table, rowID, revisions.RowContent{Data: data, SchemaHash: record.Hash, Meta: meta}); err != nil {
			return nil, err
		}
		result, err = s.rowResult(tx, draft, previousTable, table.CreatedID, previousRow.CreatedID)
		if err != nil {
			return nil, err
		}
		result.PreviousVersionID = previousRow.VersionID
		return []events.Event{{
			Type:               events.TypeRowUpdated,
			TableID:            tableID,
			RowIDs:             []string{rowID},
			TableVersionID:     result.TableVersionID,
			PreviousVersionIDs: []string{previousRow.VersionID},
			VersionIDs:         []string{result.Row.VersionID},
		}}, nil
	}, zap.String("table_id", tableID), zap.String("row_id", rowID))
	if err != nil {
		return RowResult{}, err
	}
	return result, nil
}

// RenameRow changes a row id and rewrites foreign-key values pointing at it in other tables.
func (s *Service) RenameRow(ctx context.Context, revisionID, tableID, rowID, nextID string) (RowResult, error) {
	var result RowResult
	err := s.mutate(ctx, opRenameRow, revisionID, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		if err := validateRowID(nextID); err != nil {
			return nil, err
		}
		previousTable, err := s.store.FindTable(tx, draft.Revision.ID, tableID)
		if err != nil {
			return nil, err
		}
		table, err := s.store.DraftTable(tx, draft, tableID, false)
		if err != nil {
			return nil, err
		}
		previousRow, row, err := s.store.RenameRow(tx, draft, table, rowID, nextID)
		if err != nil {
			return nil, err
		}
		if err := s.renameRowReferences(tx, draft, tableID, rowID, nextID); err != nil {
			return nil, err
		}
		result, err = s.rowResult(tx, draft, previousTable, table.CreatedID, row.CreatedID)
		if err != nil {
			return nil, err
		}
		result.PreviousVersionID = previousRow.VersionID
		result.PreviousRowID = rowID
		return []events.Event{{
			Type:               events.TypeRowRenamed,
			TableID:            tableID,
			RowIDs:             []string{nextID},
			PreviousRowID:      rowID,
			TableVersionID:     result.TableVersionID,
			PreviousVersionIDs: []string{previousRow.VersionID},
			VersionIDs:         []string{result.Row.VersionID},
		}}, nil
	}, zap.String("table_id", tableID), zap.String("row_id", rowID), zap.String("next_row_id", nextID))
	if err != nil {
		return RowResult{}, err
	}
	return result, nil
}

func (s *Service) renameRowReferences(tx *gorm.DB, draft *revisions.Draft, tableID, fromID, toID string) error {
	records, err := s.migrations.Schemas(tx, draft.Revision.ID)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.TableID == tableID || !schema.ReferencesTable(record.Node, tableID) {
			continue
		}
		current, err := s.store.FindTable(tx, draft.Revision.ID, record.TableID)
		if err != nil {
			return err
		}
		rows, err := s.store.Rows(tx, current.VersionID)
		if err != nil {
			return err
		}
		var table revisions.Table
		drafted := false
		for _, row := range rows {
			data, err := row.DecodeData()
			if err != nil {
				return err
			}
			value := schema.NewValue(record.Node, data)
			if !schema.RenameReferences(value, tableID, fromID, toID) {
				continue
			}
			if !drafted {
				table, err = s.store.DraftTable(tx, draft, record.TableID, false)
				if err != nil {
					return err
				}
				drafted = true
			}
			meta, err := row.DecodeMeta()
			if err != nil {
				return err
			}
			content := revisions.RowContent{Data: value.Interface(), SchemaHash: row.SchemaHash, Meta: meta}
			if _, _, err := s.store.UpdateRow(tx, draft, table, row.ID, content); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveRow deletes one row.
func (s *Service) RemoveRow(ctx context.Context, revisionID, tableID, rowID string) (RowResult, error) {
	results, err := s.RemoveRows(ctx, revisionID, tableID, []string{rowID})
	if err != nil {
		return RowResult{}, err
	}
	return results[0], nil
}

// RemoveRows deletes rows of one table. Every id must exist and no other row may reference them.
func (s *Service) RemoveRows(ctx context.Context, revisionID, tableID string, rowIDs []string) ([]RowResult, error) {
	rowIDs = uniqueIDs(rowIDs)
	var results []RowResult
	err := s.mutate(ctx, opRemoveRows, revisionID, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		if len(rowIDs) == 0 {
			return nil, validationFailure("row ids are required")
		}
		previousTable, err := s.store.FindTable(tx, draft.Revision.ID, tableID)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.FindRows(tx, previousTable.VersionID, rowIDs); err != nil {
			return nil, err
		}
		if err := s.validator.GuardRowDeletion(tx, draft.Revision.ID, tableID, rowIDs); err != nil {
			return nil, err
		}
		table, err := s.store.DraftTable(tx, draft, tableID, false)
		if err != nil {
			return nil, err
		}
		removed, err := s.store.RemoveRows(tx, draft, table, rowIDs)
		if err != nil {
			return nil, err
		}
		if err := s.store.RecomputeAll(tx, draft); err != nil {
			return nil, err
		}
		current, err := s.store.FindTableByCreatedID(tx, draft.Revision.ID, table.CreatedID)
		if err != nil {
			return nil, err
		}
		previousVersionIDs := make([]string, 0, len(removed))
		results = make([]RowResult, 0, len(removed))
		for _, row := range removed {
			previousVersionIDs = append(previousVersionIDs, row.VersionID)
			results = append(results, RowResult{
				TableVersionID:         current.VersionID,
				PreviousTableVersionID: previousTable.VersionID,
				Row:                    row,
				PreviousVersionID:      row.VersionID,
			})
		}
		return []events.Event{{
			Type:               events.TypeRowDeleted,
			TableID:            tableID,
			RowIDs:             rowIDs,
			TableVersionID:     current.VersionID,
			PreviousVersionIDs: previousVersionIDs,
		}}, nil
	}, zap.String("table_id", tableID), zap.Strings("row_ids", rowIDs))
	if err != nil {
		return nil, err
	}
	return results, nil
}

// rowResult settles the draft and reads back the table and row versions that survived it.
func (s *Service) rowResult(tx *gorm.DB, draft *revisions.Draft, previousTable revisions.Table, tableCreatedID, rowCreatedID string) (RowResult, error) {
	if err := s.store.RecomputeAll(tx, draft); err != nil {
		return RowResult{}, err
	}
	table, err := s.store.FindTableByCreatedID(tx, draft.Revision.ID, tableCreatedID)
	if err != nil {
		return RowResult{}, err
	}
	row, err := s.store.FindRowByCreatedID(tx, table.VersionID, rowCreatedID)
	if err != nil {
		return RowResult{}, err
	}
	return RowResult{
		TableVersionID:         table.VersionID,
		PreviousTableVersionID: previousTable.VersionID,
		Row:                    row,
	}, nil
}

// ValidateData runs the schema and foreign-key passes over rows without writing anything.
func (s *Service) ValidateData(ctx context.Context, revisionID, tableID string, rows []RowInput) (ValidationResult, error) {
	var result ValidationResult
	err := s.read(ctx, opValidateData, func(tx *gorm.DB) error {
		if _, err := s.store.FindTable(tx, revisionID, tableID); err != nil {
			return err
		}
		record, err := s.migrations.GetSchema(tx, revisionID, tableID)
		if err != nil {
			return err
		}
		batch := make([]integrity.RowData, 0, len(rows))
		for _, row := range rows {
			batch = append(batch, integrity.RowData{RowID: row.RowID, Data: row.Data})
		}
		if err := s.validator.ValidateRows(tx, revisionID, tableID, record, batch); err != nil {
			return err
		}
		result = ValidationResult{SchemaHash: record.Hash}
		return nil
	}, zap.String("revision_id", revisionID), zap.String("table_id", tableID))
	if err != nil {
		return ValidationResult{}, err
	}
	return result, nil
}

// GetRow returns one row with computed fields applied.
func (s *Service) GetRow(ctx context.Context, revisionID, tableID, rowID string) (RowRecord, error) {
	var record RowRecord
	err := s.read(ctx, opGetRow, func(tx *gorm.DB) error {
		table, err := s.store.FindTable(tx, revisionID, tableID)
		if err != nil {
			return err
		}
		row, err := s.store.FindRow(tx, table.VersionID, rowID)
		if err != nil {
			return err
		}
		records, err := s.computedRecords(ctx, tx, revisionID, table, []revisions.Row{row})
		if err != nil {
			return err
		}
		record = records[0]
		return nil
	}, zap.String("revision_id", revisionID), zap.String("table_id", tableID), zap.String("row_id", rowID))
	if err != nil {
		return RowRecord{}, err
	}
	return record, nil
}

// ListRows returns every row of a table in creation order. Computed fields are applied but never
// persisted.
func (s *Service) ListRows(ctx context.Context, revisionID, tableID string) ([]RowRecord, error) {
	var records []RowRecord
	err := s.read(ctx, opListRows, func(tx *gorm.DB) error {
		table, err := s.store.FindTable(tx, revisionID, tableID)
		if err != nil {
			return err
		}
		rows, err := s.store.Rows(tx, table.VersionID)
		if err != nil {
			return err
		}
		records, err = s.computedRecords(ctx, tx, revisionID, table, rows)
		return err
	}, zap.String("revision_id", revisionID), zap.String("table_id", tableID))
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) computedRecords(ctx context.Context, tx *gorm.DB, revisionID string, table revisions.Table, rows []revisions.Row) ([]RowRecord, error) {
	rowIDs := make([]string, 0, len(rows))
	data := make([]any, 0, len(rows))
	for _, row := range rows {
		decoded, err := row.DecodeData()
		if err != nil {
			return nil, err
		}
		rowIDs = append(rowIDs, row.ID)
		data = append(data, decoded)
	}
	if !table.System && len(s.hooks) > 0 {
		record, err := s.migrations.GetSchema(tx, revisionID, table.ID)
		if err != nil {
			return nil, err
		}
		scope := HookScope{RevisionID: revisionID, TableID: table.ID, SchemaHash: record.Hash, Schema: record.Node}
		data, err = s.computeRows(ctx, scope, rowIDs, data)
		if err != nil {
			return nil, err
		}
	}
	records := make([]RowRecord, 0, len(rows))
	for index, row := range rows {
		records = append(records, RowRecord{Row: row, Data: data[index]})
	}
	return records, nil
}

// uniqueIDs drops repeated ids, keeping the first occurrence order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
