package revisions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingIDProvider = errors.New("revisions: id provider is required")

// Store implements copy-on-write mutations of table and row versions. Every method takes the
// transaction it runs in; the Store itself holds no connection.
type Store struct {
	ids   IDProvider
	clock func() time.Time
}

// NewStore constructs a Store. A nil clock falls back to time.Now.
func NewStore(ids IDProvider, clock func() time.Time) (*Store, error) {
	if ids == nil {
		return nil, errMissingIDProvider
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{ids: ids, clock: clock}, nil
}

// Draft is a resolved draft revision together with its working changelog.
type Draft struct {
	Revision Revision
	Changes  *ChangeSet

	// Version bookkeeping of the current transaction.
	TableForks int
	RowForks   int
	Reverts    int
}

// HeadID returns the revision the draft was started from.
func (d *Draft) HeadID() string {
	if d.Revision.ParentID == nil {
		return ""
	}
	return *d.Revision.ParentID
}

// RowContent is the content written into a row version.
type RowContent struct {
	Data       any
	SchemaHash string
	Meta       any
}

func (s *Store) newID() (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("revisions: generate id: %w", err)
	}
	return id, nil
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// Revision loads any revision.
func (s *Store) Revision(tx *gorm.DB, revisionID string) (Revision, error) {
	var revision Revision
	err := tx.Where("id = ?", revisionID).Take(&revision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Revision{}, fmt.Errorf("%w: %s", ErrRevisionNotFound, revisionID)
	}
	if err != nil {
		return Revision{}, err
	}
	return revision, nil
}

// ResolveDraftRevision loads a revision and fails with ErrRevisionNotFound when it is absent or
// not a draft.
func (s *Store) ResolveDraftRevision(tx *gorm.DB, revisionID string) (Revision, error) {
	revision, err := s.Revision(tx, revisionID)
	if err != nil {
		return Revision{}, err
	}
	if !revision.IsDraft {
		return Revision{}, fmt.Errorf("%w: %s is not a draft", ErrRevisionNotFound, revisionID)
	}
	return revision, nil
}

// OpenDraft resolves a draft revision and locks its changelog for the rest of the transaction.
func (s *Store) OpenDraft(tx *gorm.DB, revisionID string) (*Draft, error) {
	revision, err := s.ResolveDraftRevision(tx, revisionID)
	if err != nil {
		return nil, err
	}
	var changelog Changelog
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("revision_id = ?", revisionID).
		Take(&changelog).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Draft{Revision: revision, Changes: NewChangeSet()}, nil
	case err != nil:
		return nil, err
	}
	return &Draft{Revision: revision, Changes: changeSetFrom(changelog)}, nil
}

// SaveDraft persists the changelog and the denormalized revision flag.
func (s *Store) SaveDraft(tx *gorm.DB, draft *Draft) error {
	changelog := draft.Changes.toChangelog(draft.Revision.ID)
	if err := tx.Save(&changelog).Error; err != nil {
		return err
	}
	if err := tx.Model(&Revision{}).
		Where("id = ?", draft.Revision.ID).
		Update("has_changes", changelog.HasChanges).Error; err != nil {
		return err
	}
	draft.Revision.HasChanges = changelog.HasChanges
	return nil
}

// Changes loads the changelog of any revision without locking it.
func (s *Store) Changes(tx *gorm.DB, revisionID string) (*ChangeSet, error) {
	var changelog Changelog
	err := tx.Where("revision_id = ?", revisionID).Take(&changelog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewChangeSet(), nil
	}
	if err != nil {
		return nil, err
	}
	return changeSetFrom(changelog), nil
}

func (s *Store) tablesQuery(tx *gorm.DB, revisionID string) *gorm.DB {
	return tx.Model(&Table{}).
		Select("table_versions.*").
		Joins("JOIN revision_tables ON revision_tables.table_version_id = table_versions.version_id").
		Where("revision_tables.revision_id = ?", revisionID)
}

// Tables lists every table version connected to the revision, system tables included, in
// creation order.
func (s *Store) Tables(tx *gorm.DB, revisionID string) ([]Table, error) {
	var tables []Table
	if err := s.tablesQuery(tx, revisionID).Order("table_versions.created_id").Find(&tables).Error; err != nil {
		return nil, err
	}
	return tables, nil
}

// FindTable returns the version of tableID connected to the revision.
func (s *Store) FindTable(tx *gorm.DB, revisionID, tableID string) (Table, error) {
	var table Table
	err := s.tablesQuery(tx, revisionID).Where("table_versions.id = ?", tableID).Take(&table).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	if err != nil {
		return Table{}, err
	}
	return table, nil
}

// FindTableByCreatedID returns the version of a table lineage connected to the revision.
func (s *Store) FindTableByCreatedID(tx *gorm.DB, revisionID, createdID string) (Table, error) {
	var table Table
	err := s.tablesQuery(tx, revisionID).Where("table_versions.created_id = ?", createdID).Take(&table).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Table{}, fmt.Errorf("%w: lineage %s", ErrTableNotFound, createdID)
	}
	if err != nil {
		return Table{}, err
	}
	return table, nil
}

func (s *Store) rowsJoin(tx *gorm.DB, tableVersionID string) *gorm.DB {
	return tx.Model(&Row{}).
		Joins("JOIN table_rows ON table_rows.row_version_id = row_versions.version_id").
		Where("table_rows.table_version_id = ?", tableVersionID)
}

func (s *Store) rowsQuery(tx *gorm.DB, tableVersionID string) *gorm.DB {
	return s.rowsJoin(tx, tableVersionID).Select("row_versions.*")
}

// Rows lists the rows of a table version in creation order.
func (s *Store) Rows(tx *gorm.DB, tableVersionID string) ([]Row, error) {
	var rows []Row
	if err := s.rowsQuery(tx, tableVersionID).Order("row_versions.created_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CountRows counts the rows of a table version.
func (s *Store) CountRows(tx *gorm.DB, tableVersionID string) (int64, error) {
	var count int64
	err := tx.Model(&TableRow{}).Where("table_version_id = ?", tableVersionID).Count(&count).Error
	return count, err
}

// FindRow returns the row rowID of a table version.
func (s *Store) FindRow(tx *gorm.DB, tableVersionID, rowID string) (Row, error) {
	var row Row
	err := s.rowsQuery(tx, tableVersionID).Where("row_versions.id = ?", rowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Row{}, fmt.Errorf("%w: %s", ErrRowNotFound, rowID)
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// FindRowByCreatedID returns the row of a lineage within a table version.
func (s *Store) FindRowByCreatedID(tx *gorm.DB, tableVersionID, createdID string) (Row, error) {
	var row Row
	err := s.rowsQuery(tx, tableVersionID).Where("row_versions.created_id = ?", createdID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Row{}, fmt.Errorf("%w: lineage %s", ErrRowNotFound, createdID)
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// FindRows returns the rows with the given ids. Missing ids are reported together.
func (s *Store) FindRows(tx *gorm.DB, tableVersionID string, rowIDs []string) ([]Row, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	var rows []Row
	if err := s.rowsQuery(tx, tableVersionID).Where("row_versions.id IN ?", rowIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	found := make(map[string]Row, len(rows))
	for _, row := range rows {
		found[row.ID] = row
	}
	var missing []string
	ordered := make([]Row, 0, len(rowIDs))
	seen := make(map[string]struct{}, len(rowIDs))
	for _, id := range rowIDs {
		if _, duplicate := seen[id]; duplicate {
			continue
		}
		seen[id] = struct{}{}
		row, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		ordered = append(ordered, row)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrRowNotFound, strings.Join(missing, ", "))
	}
	return ordered, nil
}

// ExistingRowIDs returns the subset of rowIDs present in the table version.
func (s *Store) ExistingRowIDs(tx *gorm.DB, tableVersionID string, rowIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(rowIDs))
	if len(rowIDs) == 0 {
		return existing, nil
	}
	var ids []string
	if err := s.rowsJoin(tx, tableVersionID).
		Where("row_versions.id IN ?", rowIDs).
		Pluck("row_versions.id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// CreateTable adds a new table lineage to the draft.
func (s *Store) CreateTable(tx *gorm.DB, draft *Draft, tableID, schemaHash string, system bool) (Table, error) {
	if _, err := s.FindTable(tx, draft.Revision.ID, tableID); err == nil {
		return Table{}, fmt.Errorf("%w: %s", ErrTableAlreadyExists, tableID)
	} else if !errors.Is(err, ErrTableNotFound) {
		return Table{}, err
	}
	versionID, err := s.newID()
	if err != nil {
		return Table{}, err
	}
	createdID, err := s.newID()
	if err != nil {
		return Table{}, err
	}
	now := s.now()
	table := Table{
		VersionID:  versionID,
		ID:         tableID,
		CreatedID:  createdID,
		Readonly:   false,
		System:     system,
		SchemaHash: schemaHash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.Create(&table).Error; err != nil {
		return Table{}, err
	}
	if err := tx.Create(&RevisionTable{RevisionID: draft.Revision.ID, TableVersionID: table.VersionID}).Error; err != nil {
		return Table{}, err
	}
	draft.Changes.RecordTableInsert(table.CreatedID)
	return table, nil
}

// DraftTable returns a version of tableID that may be mutated in place, forking the current
// version first when it is shared with head.
func (s *Store) DraftTable(tx *gorm.DB, draft *Draft, tableID string, bypassSystemCheck bool) (Table, error) {
	table, err := s.FindTable(tx, draft.Revision.ID, tableID)
	if err != nil {
		return Table{}, err
	}
	if table.System && !bypassSystemCheck {
		return Table{}, fmt.Errorf("%w: %s", ErrSystemTable, tableID)
	}
	if !table.Readonly {
		return table, nil
	}
	return s.forkTable(tx, draft, table)
}

func (s *Store) forkTable(tx *gorm.DB, draft *Draft, table Table) (Table, error) {
	versionID, err := s.newID()
	if err != nil {
		return Table{}, err
	}
	fork := table
	fork.VersionID = versionID
	fork.Readonly = false
	fork.UpdatedAt = s.now()
	if err := tx.Create(&fork).Error; err != nil {
		return Table{}, err
	}
	if err := tx.Exec(
		"INSERT INTO table_rows (table_version_id, row_version_id) SELECT ?, row_version_id FROM table_rows WHERE table_version_id = ?",
		fork.VersionID, table.VersionID,
	).Error; err != nil {
		return Table{}, err
	}
	if err := s.replaceTableJoin(tx, draft.Revision.ID, table.VersionID, fork.VersionID); err != nil {
		return Table{}, err
	}
	draft.Changes.RecordTableUpdate(table.CreatedID)
	draft.TableForks++
	return fork, nil
}

func (s *Store) replaceTableJoin(tx *gorm.DB, revisionID, fromVersionID, toVersionID string) error {
	if err := tx.Where("revision_id = ? AND table_version_id = ?", revisionID, fromVersionID).
		Delete(&RevisionTable{}).Error; err != nil {
		return err
	}
	return tx.Create(&RevisionTable{RevisionID: revisionID, TableVersionID: toVersionID}).Error
}

// SetSchemaHash records the schema hash a draft table version was validated against.
func (s *Store) SetSchemaHash(tx *gorm.DB, draft *Draft, table Table, schemaHash string) (Table, error) {
	if table.Readonly {
		return Table{}, fmt.Errorf("revisions: table version %s is readonly", table.VersionID)
	}
	if table.SchemaHash == schemaHash {
		return table, nil
	}
	table.SchemaHash = schemaHash
	table.UpdatedAt = s.now()
	if err := tx.Save(&table).Error; err != nil {
		return Table{}, err
	}
	draft.Changes.RecordTableUpdate(table.CreatedID)
	return table, nil
}

// RenameTable changes the display id of a table, keeping its lineage.
func (s *Store) RenameTable(tx *gorm.DB, draft *Draft, tableID, nextID string, bypassSystemCheck bool) (Table, Table, error) {
	previous, err := s.FindTable(tx, draft.Revision.ID, tableID)
	if err != nil {
		return Table{}, Table{}, err
	}
	if _, err := s.FindTable(tx, draft.Revision.ID, nextID); err == nil {
		return Table{}, Table{}, fmt.Errorf("%w: %s", ErrTableAlreadyExists, nextID)
	} else if !errors.Is(err, ErrTableNotFound) {
		return Table{}, Table{}, err
	}
	table, err := s.DraftTable(tx, draft, tableID, bypassSystemCheck)
	if err != nil {
		return Table{}, Table{}, err
	}
	table.ID = nextID
	table.UpdatedAt = s.now()
	if err := tx.Save(&table).Error; err != nil {
		return Table{}, Table{}, err
	}
	draft.Changes.RecordTableUpdate(table.CreatedID)
	return previous, table, nil
}

// RemoveTable disconnects a table from the draft. Versions that were never part of head are
// deleted together with their draft-only rows.
func (s *Store) RemoveTable(tx *gorm.DB, draft *Draft, tableID string, bypassSystemCheck bool) (Table, error) {
	table, err := s.FindTable(tx, draft.Revision.ID, tableID)
	if err != nil {
		return Table{}, err
	}
	if table.System && !bypassSystemCheck {
		return Table{}, fmt.Errorf("%w: %s", ErrSystemTable, tableID)
	}
	if err := tx.Where("revision_id = ? AND table_version_id = ?", draft.Revision.ID, table.VersionID).
		Delete(&RevisionTable{}).Error; err != nil {
		return Table{}, err
	}
	if err := s.deleteTableIfOrphan(tx, table.VersionID); err != nil {
		return Table{}, err
	}
	draft.Changes.RecordTableDelete(table.CreatedID)
	return table, nil
}

func (s *Store) deleteTableIfOrphan(tx *gorm.DB, versionID string) error {
	var connections int64
	if err := tx.Model(&RevisionTable{}).Where("table_version_id = ?", versionID).Count(&connections).Error; err != nil {
		return err
	}
	if connections > 0 {
		return nil
	}
	var rowVersionIDs []string
	if err := tx.Model(&TableRow{}).Where("table_version_id = ?", versionID).Pluck("row_version_id", &rowVersionIDs).Error; err != nil {
		return err
	}
	if err := tx.Where("table_version_id = ?", versionID).Delete(&TableRow{}).Error; err != nil {
		return err
	}
	for _, rowVersionID := range rowVersionIDs {
		if err := s.deleteRowIfOrphan(tx, rowVersionID); err != nil {
			return err
		}
	}
	return tx.Where("version_id = ?", versionID).Delete(&Table{}).Error
}

func (s *Store) deleteRowIfOrphan(tx *gorm.DB, versionID string) error {
	var connections int64
	if err := tx.Model(&TableRow{}).Where("row_version_id = ?", versionID).Count(&connections).Error; err != nil {
		return err
	}
	if connections > 0 {
		return nil
	}
	return tx.Where("version_id = ?", versionID).Delete(&Row{}).Error
}

func encodeJSON(value any) (datatypes.JSON, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("revisions: encode json: %w", err)
	}
	return datatypes.JSON(encoded), nil
}

// DecodeData returns the row data as plain decoded JSON.
func (r Row) DecodeData() (any, error) {
	return schema.Decode(r.Data)
}

// DecodeMeta returns the row meta as plain decoded JSON.
func (r Row) DecodeMeta() (any, error) {
	return schema.Decode(r.Meta)
}

func (s *Store) buildRow(base Row, content RowContent) (Row, error) {
	data, err := encodeJSON(content.Data)
	if err != nil {
		return Row{}, err
	}
	meta, err := encodeJSON(content.Meta)
	if err != nil {
		return Row{}, err
	}
	hash, err := schema.Hash(content.Data)
	if err != nil {
		return Row{}, err
	}
	base.Data = data
	base.Meta = meta
	base.Hash = hash
	base.SchemaHash = content.SchemaHash
	base.UpdatedAt = s.now()
	return base, nil
}

// CreateRow adds a row to a draft table version.
func (s *Store) CreateRow(tx *gorm.DB, draft *Draft, table Table, rowID string, content RowContent) (Row, error) {
	if table.Readonly {
		return Row{}, fmt.Errorf("revisions: table version %s is readonly", table.VersionID)
	}
	if _, err := s.FindRow(tx, table.VersionID, rowID); err == nil {
		return Row{}, fmt.Errorf("%w: %s", ErrRowAlreadyExists, rowID)
	} else if !errors.Is(err, ErrRowNotFound) {
		return Row{}, err
	}
	versionID, err := s.newID()
	if err != nil {
		return Row{}, err
	}
	createdID, err := s.newID()
	if err != nil {
		return Row{}, err
	}
	now := s.now()
	row, err := s.buildRow(Row{
		VersionID:   versionID,
		ID:          rowID,
		CreatedID:   createdID,
		Readonly:    false,
		CreatedAt:   now,
		PublishedAt: now,
	}, content)
	if err != nil {
		return Row{}, err
	}
	if err := tx.Create(&row).Error; err != nil {
		return Row{}, err
	}
	if err := tx.Create(&TableRow{TableVersionID: table.VersionID, RowVersionID: row.VersionID}).Error; err != nil {
		return Row{}, err
	}
	draft.Changes.RecordRowInsert(table.CreatedID, row.CreatedID)
	return row, nil
}

// UpdateRow writes new content into a row. An identical write returns the current version
// unchanged; content equal to head re-points the table at the head version.
func (s *Store) UpdateRow(tx *gorm.DB, draft *Draft, table Table, rowID string, content RowContent) (Row, Row, error) {
	previous, err := s.FindRow(tx, table.VersionID, rowID)
	if err != nil {
		return Row{}, Row{}, err
	}
	next, err := s.buildRow(previous, content)
	if err != nil {
		return Row{}, Row{}, err
	}
	if sameContent(previous, next) {
		return previous, previous, nil
	}
	current, err := s.writeRow(tx, draft, table, previous, next)
	if err != nil {
		return Row{}, Row{}, err
	}
	return previous, current, nil
}

// RenameRow changes the id of a row, keeping its lineage and content.
func (s *Store) RenameRow(tx *gorm.DB, draft *Draft, table Table, rowID, nextID string) (Row, Row, error) {
	previous, err := s.FindRow(tx, table.VersionID, rowID)
	if err != nil {
		return Row{}, Row{}, err
	}
	if rowID == nextID {
		return previous, previous, nil
	}
	if _, err := s.FindRow(tx, table.VersionID, nextID); err == nil {
		return Row{}, Row{}, fmt.Errorf("%w: %s", ErrRowAlreadyExists, nextID)
	} else if !errors.Is(err, ErrRowNotFound) {
		return Row{}, Row{}, err
	}
	next := previous
	next.ID = nextID
	next.UpdatedAt = s.now()
	current, err := s.writeRow(tx, draft, table, previous, next)
	if err != nil {
		return Row{}, Row{}, err
	}
	return previous, current, nil
}

func sameContent(left, right Row) bool {
	return left.ID == right.ID &&
		left.Hash == right.Hash &&
		left.SchemaHash == right.SchemaHash &&
		bytes.Equal(left.Meta, right.Meta)
}

// writeRow stores next either in place or as a fork of previous, records the update and settles
// the row back onto its head version when the content matches again.
func (s *Store) writeRow(tx *gorm.DB, draft *Draft, table Table, previous, next Row) (Row, error) {
	if table.Readonly {
		return Row{}, fmt.Errorf("revisions: table version %s is readonly", table.VersionID)
	}
	if previous.Readonly {
		versionID, err := s.newID()
		if err != nil {
			return Row{}, err
		}
		next.VersionID = versionID
		next.Readonly = false
		if err := tx.Create(&next).Error; err != nil {
			return Row{}, err
		}
		if err := s.replaceRowJoin(tx, table.VersionID, previous.VersionID, next.VersionID); err != nil {
			return Row{}, err
		}
		draft.RowForks++
	} else if err := tx.Save(&next).Error; err != nil {
		return Row{}, err
	}
	draft.Changes.RecordRowUpdate(table.CreatedID, next.CreatedID)
	return s.settleRow(tx, draft, table, next)
}

func (s *Store) replaceRowJoin(tx *gorm.DB, tableVersionID, fromVersionID, toVersionID string) error {
	if err := tx.Where("table_version_id = ? AND row_version_id = ?", tableVersionID, fromVersionID).
		Delete(&TableRow{}).Error; err != nil {
		return err
	}
	return tx.Create(&TableRow{TableVersionID: tableVersionID, RowVersionID: toVersionID}).Error
}

func (s *Store) headRow(tx *gorm.DB, draft *Draft, tableCreatedID, rowCreatedID string) (Row, bool, error) {
	headID := draft.HeadID()
	if headID == "" {
		return Row{}, false, nil
	}
	headTable, err := s.FindTableByCreatedID(tx, headID, tableCreatedID)
	if errors.Is(err, ErrTableNotFound) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	row, err := s.FindRowByCreatedID(tx, headTable.VersionID, rowCreatedID)
	if errors.Is(err, ErrRowNotFound) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	return row, true, nil
}

func (s *Store) settleRow(tx *gorm.DB, draft *Draft, table Table, row Row) (Row, error) {
	head, ok, err := s.headRow(tx, draft, table.CreatedID, row.CreatedID)
	if err != nil || !ok || head.VersionID == row.VersionID || !sameContent(head, row) {
		return row, err
	}
	if err := s.replaceRowJoin(tx, table.VersionID, row.VersionID, head.VersionID); err != nil {
		return Row{}, err
	}
	if err := s.deleteRowIfOrphan(tx, row.VersionID); err != nil {
		return Row{}, err
	}
	draft.Changes.ClearRow(table.CreatedID, row.CreatedID)
	return head, nil
}

// RemoveRows disconnects rows from a draft table version. All ids must exist.
func (s *Store) RemoveRows(tx *gorm.DB, draft *Draft, table Table, rowIDs []string) ([]Row, error) {
	if table.Readonly {
		return nil, fmt.Errorf("revisions: table version %s is readonly", table.VersionID)
	}
	rows, err := s.FindRows(tx, table.VersionID, rowIDs)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := tx.Where("table_version_id = ? AND row_version_id = ?", table.VersionID, row.VersionID).
			Delete(&TableRow{}).Error; err != nil {
			return nil, err
		}
		if err := s.deleteRowIfOrphan(tx, row.VersionID); err != nil {
			return nil, err
		}
		draft.Changes.RecordRowDelete(table.CreatedID, row.CreatedID)
	}
	return rows, nil
}

// Recompute reverts a table to its head version once the changelog shows no row changes and the
// draft version matches head in id and schema. It reports whether a revert happened.
func (s *Store) Recompute(tx *gorm.DB, draft *Draft, tableCreatedID string) (bool, error) {
	changes := draft.Changes
	if changes.TableInserted(tableCreatedID) || changes.TableHasRowChanges(tableCreatedID) {
		return false, nil
	}
	if !changes.TableUpdated(tableCreatedID) {
		return false, nil
	}
	headID := draft.HeadID()
	if headID == "" {
		return false, nil
	}
	head, err := s.FindTableByCreatedID(tx, headID, tableCreatedID)
	if errors.Is(err, ErrTableNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	current, err := s.FindTableByCreatedID(tx, draft.Revision.ID, tableCreatedID)
	if errors.Is(err, ErrTableNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current.VersionID == head.VersionID {
		changes.ClearTableUpdate(tableCreatedID)
		return true, nil
	}
	if current.ID != head.ID || current.SchemaHash != head.SchemaHash {
		return false, nil
	}
	if err := s.replaceTableJoin(tx, draft.Revision.ID, current.VersionID, head.VersionID); err != nil {
		return false, err
	}
	if err := s.deleteTableIfOrphan(tx, current.VersionID); err != nil {
		return false, err
	}
	changes.ClearTableUpdate(tableCreatedID)
	draft.Reverts++
	return true, nil
}

// RecomputeAll runs Recompute for every table carrying an update entry, in a stable order.
func (s *Store) RecomputeAll(tx *gorm.DB, draft *Draft) error {
	createdIDs := make([]string, 0, len(draft.Changes.TableUpdates))
	for createdID := range draft.Changes.TableUpdates {
		createdIDs = append(createdIDs, createdID)
	}
	sort.Strings(createdIDs)
	for _, createdID := range createdIDs {
		if _, err := s.Recompute(tx, draft, createdID); err != nil {
			return err
		}
	}
	return nil
}
