package integrity

import (
	"errors"
	"sort"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"gorm.io/gorm"
)

// SchemaSource resolves table schemas within a revision.
type SchemaSource interface {
	Schemas(tx *gorm.DB, revisionID string) ([]migrations.SchemaRecord, error)
}

// RowSource resolves tables and rows within a revision.
type RowSource interface {
	FindTable(tx *gorm.DB, revisionID, tableID string) (revisions.Table, error)
	ExistingRowIDs(tx *gorm.DB, tableVersionID string, rowIDs []string) (map[string]struct{}, error)
	Rows(tx *gorm.DB, tableVersionID string) ([]revisions.Row, error)
}

// RowData is one row submitted for validation.
type RowData struct {
	RowID string
	Data  any
}

// Validator checks row data against table schemas and foreign keys against the revision.
type Validator struct {
	schemas SchemaSource
	rows    RowSource
}

// NewValidator constructs a Validator.
func NewValidator(schemas SchemaSource, rows RowSource) *Validator {
	return &Validator{schemas: schemas, rows: rows}
}

// ValidateRows runs the schema pass and then the foreign-key pass over a batch of rows of one
// table. Each pass reports every violation it finds.
func (v *Validator) ValidateRows(tx *gorm.DB, revisionID, tableID string, record migrations.SchemaRecord, rows []RowData) error {
	if err := ValidateSchema(tableID, record, rows); err != nil {
		return err
	}
	return v.CheckForeignKeys(tx, revisionID, tableID, record.Node, rows)
}

// ValidateSchema validates each row's data against the table schema.
func ValidateSchema(tableID string, record migrations.SchemaRecord, rows []RowData) error {
	var invalid []RowIssues
	for _, row := range rows {
		issues, err := schema.ValidateData(record.Document, record.Hash, row.Data)
		if err != nil {
			return err
		}
		if len(issues) > 0 {
			invalid = append(invalid, RowIssues{RowID: row.RowID, Issues: issues})
		}
	}
	if len(invalid) > 0 {
		return &DataValidationError{TableID: tableID, Rows: invalid}
	}
	return nil
}

type pathKey struct {
	path  string
	table string
}

// CheckForeignKeys resolves every foreign-key reference of the rows. References are grouped by
// target table and checked with one lookup per table; empty strings count as missing rows.
func (v *Validator) CheckForeignKeys(tx *gorm.DB, revisionID, tableID string, node *schema.Node, rows []RowData) error {
	byTable := make(map[string][]schema.Reference)
	var ordered []schema.Reference
	var owners []string
	for _, row := range rows {
		for _, reference := range schema.ForeignKeyReferences(schema.NewValue(node, row.Data)) {
			byTable[reference.Table] = append(byTable[reference.Table], reference)
			ordered = append(ordered, reference)
			owners = append(owners, row.RowID)
		}
	}
	if len(ordered) == 0 {
		return nil
	}

	targets := make([]string, 0, len(byTable))
	for target := range byTable {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	existing := make(map[string]map[string]struct{}, len(targets))
	var missingTables []string
	for _, target := range targets {
		table, err := v.rows.FindTable(tx, revisionID, target)
		if errors.Is(err, revisions.ErrTableNotFound) {
			missingTables = append(missingTables, target)
			continue
		}
		if err != nil {
			return err
		}
		ids := uniqueRowIDs(byTable[target])
		found, err := v.rows.ExistingRowIDs(tx, table.VersionID, ids)
		if err != nil {
			return err
		}
		existing[target] = found
	}
	if len(missingTables) > 0 {
		return &ForeignKeyTableNotFoundError{TableID: tableID, MissingTables: missingTables}
	}

	var keys []pathKey
	missingByPath := make(map[pathKey]*MissingReference)
	for index, reference := range ordered {
		if _, ok := existing[reference.Table][reference.RowID]; ok {
			continue
		}
		key := pathKey{path: reference.Path, table: reference.Table}
		entry, ok := missingByPath[key]
		if !ok {
			entry = &MissingReference{Path: reference.Path, ForeignKey: reference.Table}
			missingByPath[key] = entry
			keys = append(keys, key)
		}
		entry.RowIDs = append(entry.RowIDs, owners[index])
		entry.MissingIDs = append(entry.MissingIDs, reference.RowID)
	}
	if len(keys) == 0 {
		return nil
	}
	missing := make([]MissingReference, 0, len(keys))
	for _, key := range keys {
		missing = append(missing, *missingByPath[key])
	}
	return &ForeignKeyRowsNotFoundError{TableID: tableID, Missing: missing}
}

func uniqueRowIDs(references []schema.Reference) []string {
	seen := make(map[string]struct{}, len(references))
	ids := make([]string, 0, len(references))
	for _, reference := range references {
		if _, ok := seen[reference.RowID]; ok {
			continue
		}
		seen[reference.RowID] = struct{}{}
		ids = append(ids, reference.RowID)
	}
	return ids
}

// CheckForeignKeyTables verifies that every table a schema points at exists in the revision.
func (v *Validator) CheckForeignKeyTables(tx *gorm.DB, revisionID, tableID string, node *schema.Node) error {
	var missingTables []string
	for _, target := range schema.ReferencedTables(node) {
		if _, err := v.rows.FindTable(tx, revisionID, target); err != nil {
			if errors.Is(err, revisions.ErrTableNotFound) {
				missingTables = append(missingTables, target)
				continue
			}
			return err
		}
	}
	if len(missingTables) > 0 {
		return &ForeignKeyTableNotFoundError{TableID: tableID, MissingTables: missingTables}
	}
	return nil
}

// GuardTableDeletion refuses to remove a table while any other table declares a foreign key to
// it. Every schema of the revision is scanned.
func (v *Validator) GuardTableDeletion(tx *gorm.DB, revisionID, tableID string) error {
	records, err := v.schemas.Schemas(tx, revisionID)
	if err != nil {
		return err
	}
	var referencing []string
	for _, record := range records {
		if record.TableID == tableID {
			continue
		}
		if schema.ReferencesTable(record.Node, tableID) {
			referencing = append(referencing, record.TableID)
		}
	}
	if len(referencing) > 0 {
		sort.Strings(referencing)
		return &ReferencedError{TableID: tableID, ReferencedBy: referencing}
	}
	return nil
}

// GuardRowDeletion refuses to remove rows still referenced by rows of other tables. Every schema
// of the revision is scanned and the rows of each referencing table are walked.
func (v *Validator) GuardRowDeletion(tx *gorm.DB, revisionID, tableID string, rowIDs []string) error {
	if len(rowIDs) == 0 {
		return nil
	}
	removed := make(map[string]struct{}, len(rowIDs))
	for _, id := range rowIDs {
		removed[id] = struct{}{}
	}
	records, err := v.schemas.Schemas(tx, revisionID)
	if err != nil {
		return err
	}
	var referencing []string
	referencedIDs := make(map[string]struct{})
	for _, record := range records {
		if record.TableID == tableID || !schema.ReferencesTable(record.Node, tableID) {
			continue
		}
		table, err := v.rows.FindTable(tx, revisionID, record.TableID)
		if err != nil {
			return err
		}
		rows, err := v.rows.Rows(tx, table.VersionID)
		if err != nil {
			return err
		}
		found := false
		for _, row := range rows {
			data, err := row.DecodeData()
			if err != nil {
				return err
			}
			for _, reference := range schema.ForeignKeyReferences(schema.NewValue(record.Node, data)) {
				if reference.Table != tableID {
					continue
				}
				if _, ok := removed[reference.RowID]; ok {
					found = true
					referencedIDs[reference.RowID] = struct{}{}
				}
			}
		}
		if found {
			referencing = append(referencing, record.TableID)
		}
	}
	if len(referencing) == 0 {
		return nil
	}
	sort.Strings(referencing)
	ids := make([]string, 0, len(referencedIDs))
	for _, id := range rowIDs {
		if _, ok := referencedIDs[id]; ok {
			ids = append(ids, id)
			delete(referencedIDs, id)
		}
	}
	return &ReferencedError{TableID: tableID, RowIDs: ids, ReferencedBy: referencing}
}
