package drafts

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/events"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/integrity"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/views"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TableResult carries the table version after a mutation and the version it replaced.
type TableResult struct {
	Table             revisions.Table
	PreviousVersionID string
	PreviousTableID   string
	Schema            migrations.SchemaRecord
}

// TableInfo is a table of a revision with its schema and row count.
type TableInfo struct {
	Table    revisions.Table
	Schema   migrations.SchemaRecord
	RowCount int64
}

// CreateTable adds a table with its initial schema to the draft.
func (s *Service) CreateTable(ctx context.Context, revisionID, tableID string, document any) (TableResult, error) {
	var result TableResult
	err := s.mutate(ctx, opCreateTable, revisionID, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		if err := validateTableID(tableID); err != nil {
			return nil, err
		}
		table, err := s.store.CreateTable(tx, draft, tableID, "", false)
		if err != nil {
			return nil, err
		}
		record, err := s.migrations.InitSchema(tx, draft, table, document)
		if err != nil {
			return nil, err
		}
		if err := s.validator.CheckForeignKeyTables(tx, draft.Revision.ID, tableID, record.Node); err != nil {
			return nil, err
		}
		table, err = s.store.SetSchemaHash(tx, draft, table, record.Hash)
		if err != nil {
			return nil, err
		}
		result = TableResult{Table: table, Schema: record}
		return []events.Event{{
			Type:           events.TypeTableCreated,
			TableID:        tableID,
			TableVersionID: table.VersionID,
		}}, nil
	}, zap.String("table_id", tableID))
	if err != nil {
		return TableResult{}, err
	}
	return result, nil
}

// UpdateTable applies a schema patch, migrating views and every row of the table in lock-step.
func (s *Service) UpdateTable(ctx context.Context, revisionID, tableID string, patch schema.Patch) (TableResult, error) {
	var result TableResult
	err := s.mutate(ctx, opUpdateTable, revisionID, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		previous, err := s.store.FindTable(tx, draft.Revision.ID, tableID)
		if err != nil {
			return nil, err
		}
		table, record, err := s.applySchemaPatch(ctx, tx, draft, tableID, patch)
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
		result = TableResult{Table: current, PreviousVersionID: previous.VersionID, Schema: record}
		return []events.Event{{
			Type:               events.TypeTableSchemaUpdated,
			TableID:            tableID,
			TableVersionID:     current.VersionID,
			PreviousVersionIDs: []string{previous.VersionID},
		}}, nil
	}, zap.String("table_id", tableID))
	if err != nil {
		return TableResult{}, err
	}
	return result, nil
}

// applySchemaPatch writes the next schema, migrates the views document and rewrites every row
// with migrated data and the new schema hash.
func (s *Service) applySchemaPatch(ctx context.Context, tx *gorm.DB, draft *revisions.Draft, tableID string, patch schema.Patch) (revisions.Table, migrations.SchemaRecord, error) {
	table, err := s.store.DraftTable(tx, draft, tableID, false)
	if err != nil {
		return revisions.Table{}, migrations.SchemaRecord{}, err
	}
	previous, next, err := s.migrations.UpdateSchema(tx, draft, table, patch)
	if err != nil {
		return revisions.Table{}, migrations.SchemaRecord{}, err
	}
	if err := s.validator.CheckForeignKeyTables(tx, draft.Revision.ID, tableID, next.Node); err != nil {
		return revisions.Table{}, migrations.SchemaRecord{}, err
	}

	document, stored, err := s.views.Get(tx, draft.Revision.ID, tableID)
	if err != nil {
		return revisions.Table{}, migrations.SchemaRecord{}, err
	}
	if stored {
		migrated, err := views.Migrate(tableID, document, previous.Document, patch)
		if err != nil {
			return revisions.Table{}, migrations.SchemaRecord{}, err
		}
		if err := s.views.Save(tx, draft, tableID, migrated); err != nil {
			return revisions.Table{}, migrations.SchemaRecord{}, err
		}
	}

	rows, err := s.store.Rows(tx, table.VersionID)
	if err != nil {
		return revisions.Table{}, migrations.SchemaRecord{}, err
	}
	rowIDs := make([]string, 0, len(rows))
	data := make([]any, 0, len(rows))
	for _, row := range rows {
		current, err := row.DecodeData()
		if err != nil {
			return revisions.Table{}, migrations.SchemaRecord{}, err
		}
		migrated, err := schema.MigrateData(current, patch)
		if err != nil {
			return revisions.Table{}, migrations.SchemaRecord{}, err
		}
		rowIDs = append(rowIDs, row.ID)
		data = append(data, migrated)
	}
	scope := HookScope{RevisionID: draft.Revision.ID, TableID: tableID, SchemaHash: next.Hash, Schema: next.Node}
	data, err = s.afterMigrateRows(ctx, scope, rowIDs, data)
	if err != nil {
		return revisions.Table{}, migrations.SchemaRecord{}, err
	}
	batch := make([]integrity.RowData, 0, len(rows))
	for index, rowID := range rowIDs {
		batch = append(batch, integrity.RowData{RowID: rowID, Data: data[index]})
	}
	if err := s.validator.ValidateRows(tx, draft.Revision.ID, tableID, next, batch); err != nil {
		return revisions.Table{}, migrations.SchemaRecord{}, err
	}
	for index, row := range rows {
		meta, err := row.DecodeMeta()
		if err != nil {
			return revisions.Table{}, migrations.SchemaRecord{}, err
		}
		content := revisions.RowContent{Data: data[index], SchemaHash: next.Hash, Meta: meta}
		if _, _, err := s.store.UpdateRow(tx, draft, table, row.ID, content); err != nil {
			return revisions.Table{}, migrations.SchemaRecord{}, err
		}
	}
	table, err = s.store.SetSchemaHash(tx, draft, table, next.Hash)
	if err != nil {
		return revisions.Table{}, migrations.SchemaRecord{}, err
	}
	return table, next, nil
}

// RenameTable changes a table id, moving its schema and views and rewriting foreign keys that
// point at it in every other schema.
func (s *Service) RenameTable(ctx context.Context, revisionID, tableID, nextID string) (TableResult, error) {
	var result TableResult
	err := s.mutate(ctx, opRenameTable, revisionID, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		if err := validateTableID(nextID); err != nil {
			return nil, err
		}
		previous, table, err := s.store.RenameTable(tx, draft, tableID, nextID, false)
		if err != nil {
			return nil, err
		}
		if err := s.migrations.RenameSchema(tx, draft, table, tableID, nextID); err != nil {
			return nil, err
		}
		if err := s.views.Rename(tx, draft, tableID, nextID); err != nil {
			return nil, err
		}
		if err := s.renameForeignKeyTargets(ctx, tx, draft, tableID, nextID); err != nil {
			return nil, err
		}
		if err := s.store.RecomputeAll(tx, draft); err != nil {
			return nil, err
		}
		current, err := s.store.FindTableByCreatedID(tx, draft.Revision.ID, table.CreatedID)
		if err != nil {
			return nil, err
		}
		record, err := s.migrations.GetSchema(tx, draft.Revision.ID, nextID)
		if err != nil {
			return nil, err
		}
		result = TableResult{Table: current, PreviousVersionID: previous.VersionID, PreviousTableID: tableID, Schema: record}
		return []events.Event{{
			Type:               events.TypeTableRenamed,
			TableID:            nextID,
			PreviousTableID:    tableID,
			TableVersionID:     current.VersionID,
			PreviousVersionIDs: []string{previous.VersionID},
		}}, nil
	}, zap.String("table_id", tableID), zap.String("next_table_id", nextID))
	if err != nil {
		return TableResult{}, err
	}
	return result, nil
}

func (s *Service) renameForeignKeyTargets(ctx context.Context, tx *gorm.DB, draft *revisions.Draft, fromID, toID string) error {
	records, err := s.migrations.Schemas(tx, draft.Revision.ID)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.TableID == toID || !schema.ReferencesTable(record.Node, fromID) {
			continue
		}
		patch, err := schema.RewriteForeignKeys(record.Document, record.Node, fromID, toID)
		if err != nil {
			return err
		}
		if len(patch) == 0 {
			continue
		}
		if _, _, err := s.applySchemaPatch(ctx, tx, draft, record.TableID, patch); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTable deletes a table from the draft. Tables still referenced by other schemas are kept.
func (s *Service) RemoveTable(ctx context.Context, revisionID, tableID string) (TableResult, error) {
	var result TableResult
	err := s.mutate(ctx, opRemoveTable, revisionID, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		table, err := s.store.FindTable(tx, draft.Revision.ID, tableID)
		if err != nil {
			return nil, err
		}
		if table.System {
			return nil, fmt.Errorf("%w: %s", revisions.ErrSystemTable, tableID)
		}
		if err := s.validator.GuardTableDeletion(tx, draft.Revision.ID, tableID); err != nil {
			return nil, err
		}
		discard := draft.Changes.TableInserted(table.CreatedID)
		if err := s.migrations.RemoveSchema(tx, draft, table, discard); err != nil {
			return nil, err
		}
		if err := s.views.Remove(tx, draft, tableID); err != nil {
			return nil, err
		}
		removed, err := s.store.RemoveTable(tx, draft, tableID, false)
		if err != nil {
			return nil, err
		}
		result = TableResult{Table: removed, PreviousVersionID: removed.VersionID}
		return []events.Event{{
			Type:               events.TypeTableDeleted,
			TableID:            tableID,
			PreviousVersionIDs: []string{removed.VersionID},
		}}, nil
	}, zap.String("table_id", tableID))
	if err != nil {
		return TableResult{}, err
	}
	return result, nil
}

// UpdateViews validates and stores the views document of a table.
func (s *Service) UpdateViews(ctx context.Context, revisionID, tableID string, document views.Document) (views.Document, error) {
	err := s.mutate(ctx, opUpdateViews, revisionID, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		table, err := s.store.FindTable(tx, draft.Revision.ID, tableID)
		if err != nil {
			return nil, err
		}
		if table.System {
			return nil, fmt.Errorf("%w: %s", revisions.ErrSystemTable, tableID)
		}
		if err := s.views.Save(tx, draft, tableID, document); err != nil {
			return nil, err
		}
		return []events.Event{{Type: events.TypeViewsUpdated, TableID: tableID}}, nil
	}, zap.String("table_id", tableID))
	if err != nil {
		return views.Document{}, err
	}
	return document, nil
}

// GetViews returns the views document of a table, or the default document when none is stored.
func (s *Service) GetViews(ctx context.Context, revisionID, tableID string) (views.Document, error) {
	var document views.Document
	err := s.read(ctx, opGetViews, func(tx *gorm.DB) error {
		if _, err := s.store.FindTable(tx, revisionID, tableID); err != nil {
			return err
		}
		var err error
		document, _, err = s.views.Get(tx, revisionID, tableID)
		return err
	}, zap.String("revision_id", revisionID), zap.String("table_id", tableID))
	if err != nil {
		return views.Document{}, err
	}
	return document, nil
}

// GetTable returns one user table of any revision.
func (s *Service) GetTable(ctx context.Context, revisionID, tableID string) (TableInfo, error) {
	var info TableInfo
	err := s.read(ctx, opGetTable, func(tx *gorm.DB) error {
		table, err := s.store.FindTable(tx, revisionID, tableID)
		if err != nil {
			return err
		}
		info, err = s.tableInfo(tx, revisionID, table)
		return err
	}, zap.String("revision_id", revisionID), zap.String("table_id", tableID))
	if err != nil {
		return TableInfo{}, err
	}
	return info, nil
}

// ListTables returns the user tables of any revision in creation order.
func (s *Service) ListTables(ctx context.Context, revisionID string) ([]TableInfo, error) {
	var infos []TableInfo
	err := s.read(ctx, opListTables, func(tx *gorm.DB) error {
		if _, err := s.store.Revision(tx, revisionID); err != nil {
			return err
		}
		tables, err := s.store.Tables(tx, revisionID)
		if err != nil {
			return err
		}
		for _, table := range tables {
			if table.System {
				continue
			}
			info, err := s.tableInfo(tx, revisionID, table)
			if err != nil {
				return err
			}
			infos = append(infos, info)
		}
		return nil
	}, zap.String("revision_id", revisionID))
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (s *Service) tableInfo(tx *gorm.DB, revisionID string, table revisions.Table) (TableInfo, error) {
	info := TableInfo{Table: table}
	if !table.System {
		record, err := s.migrations.GetSchema(tx, revisionID, table.ID)
		if err != nil {
			return TableInfo{}, err
		}
		info.Schema = record
	}
	count, err := s.store.CountRows(tx, table.VersionID)
	if err != nil {
		return TableInfo{}, err
	}
	info.RowCount = count
	return info, nil
}

// GetSchema returns the current schema of a table.
func (s *Service) GetSchema(ctx context.Context, revisionID, tableID string) (migrations.SchemaRecord, error) {
	var record migrations.SchemaRecord
	err := s.read(ctx, opGetSchema, func(tx *gorm.DB) error {
		var err error
		record, err = s.migrations.GetSchema(tx, revisionID, tableID)
		return err
	}, zap.String("revision_id", revisionID), zap.String("table_id", tableID))
	if err != nil {
		return migrations.SchemaRecord{}, err
	}
	return record, nil
}

// ListMigrations returns the migration log of a revision, optionally restricted to one table.
func (s *Service) ListMigrations(ctx context.Context, revisionID, tableID string) ([]migrations.Migration, error) {
	var result []migrations.Migration
	err := s.read(ctx, opListMigrations, func(tx *gorm.DB) error {
		all, err := s.migrations.ListMigrations(tx, revisionID)
		if err != nil {
			return err
		}
		if tableID == "" {
			result = all
			return nil
		}
		table, err := s.store.FindTable(tx, revisionID, tableID)
		if err != nil {
			return err
		}
		result = migrations.ForTable(all, table.CreatedID)
		return nil
	}, zap.String("revision_id", revisionID), zap.String("table_id", tableID))
	if err != nil {
		return nil, err
	}
	return result, nil
}
