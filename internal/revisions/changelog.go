package revisions

import (
	"gorm.io/datatypes"
)

// TableEntry lists the rows of one table present in a change map. Table-level maps leave Rows
// empty.
type TableEntry struct {
	Rows map[string]string `json:"rows"`
}

// ChangeMap is keyed by table createdId; row entries are keyed by row createdId.
type ChangeMap map[string]TableEntry

// Changelog is the persisted per-revision aggregate of what differs from head.
type Changelog struct {
	RevisionID        string                        `gorm:"column:revision_id;primaryKey;size:64;not null"`
	TableInserts      datatypes.JSONType[ChangeMap] `gorm:"column:table_inserts"`
	TableUpdates      datatypes.JSONType[ChangeMap] `gorm:"column:table_updates"`
	TableDeletes      datatypes.JSONType[ChangeMap] `gorm:"column:table_deletes"`
	RowInserts        datatypes.JSONType[ChangeMap] `gorm:"column:row_inserts"`
	RowUpdates        datatypes.JSONType[ChangeMap] `gorm:"column:row_updates"`
	RowDeletes        datatypes.JSONType[ChangeMap] `gorm:"column:row_deletes"`
	TableInsertsCount int                           `gorm:"column:table_inserts_count;not null"`
	TableUpdatesCount int                           `gorm:"column:table_updates_count;not null"`
	TableDeletesCount int                           `gorm:"column:table_deletes_count;not null"`
	RowInsertsCount   int                           `gorm:"column:row_inserts_count;not null"`
	RowUpdatesCount   int                           `gorm:"column:row_updates_count;not null"`
	RowDeletesCount   int                           `gorm:"column:row_deletes_count;not null"`
	HasChanges        bool                          `gorm:"column:has_changes;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Changelog) TableName() string {
	return "changelogs"
}

// ChangeSet is the working copy of a changelog. All recording methods keep an entry in at most
// one of inserts, updates and deletes.
type ChangeSet struct {
	TableInserts ChangeMap
	TableUpdates ChangeMap
	TableDeletes ChangeMap
	RowInserts   ChangeMap
	RowUpdates   ChangeMap
	RowDeletes   ChangeMap
}

// Counts mirrors the six changelog counters.
type Counts struct {
	TableInserts int `json:"tableInserts"`
	TableUpdates int `json:"tableUpdates"`
	TableDeletes int `json:"tableDeletes"`
	RowInserts   int `json:"rowInserts"`
	RowUpdates   int `json:"rowUpdates"`
	RowDeletes   int `json:"rowDeletes"`
}

// HasChanges reports whether any counter is positive.
func (c Counts) HasChanges() bool {
	return c.TableInserts > 0 || c.TableUpdates > 0 || c.TableDeletes > 0 ||
		c.RowInserts > 0 || c.RowUpdates > 0 || c.RowDeletes > 0
}

// NewChangeSet returns an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		TableInserts: ChangeMap{},
		TableUpdates: ChangeMap{},
		TableDeletes: ChangeMap{},
		RowInserts:   ChangeMap{},
		RowUpdates:   ChangeMap{},
		RowDeletes:   ChangeMap{},
	}
}

func changeSetFrom(changelog Changelog) *ChangeSet {
	set := &ChangeSet{
		TableInserts: changelog.TableInserts.Data(),
		TableUpdates: changelog.TableUpdates.Data(),
		TableDeletes: changelog.TableDeletes.Data(),
		RowInserts:   changelog.RowInserts.Data(),
		RowUpdates:   changelog.RowUpdates.Data(),
		RowDeletes:   changelog.RowDeletes.Data(),
	}
	for _, target := range []*ChangeMap{&set.TableInserts, &set.TableUpdates, &set.TableDeletes, &set.RowInserts, &set.RowUpdates, &set.RowDeletes} {
		if *target == nil {
			*target = ChangeMap{}
		}
	}
	return set
}

func (s *ChangeSet) toChangelog(revisionID string) Changelog {
	counts := s.Counts()
	return Changelog{
		RevisionID:        revisionID,
		TableInserts:      datatypes.NewJSONType(s.TableInserts),
		TableUpdates:      datatypes.NewJSONType(s.TableUpdates),
		TableDeletes:      datatypes.NewJSONType(s.TableDeletes),
		RowInserts:        datatypes.NewJSONType(s.RowInserts),
		RowUpdates:        datatypes.NewJSONType(s.RowUpdates),
		RowDeletes:        datatypes.NewJSONType(s.RowDeletes),
		TableInsertsCount: counts.TableInserts,
		TableUpdatesCount: counts.TableUpdates,
		TableDeletesCount: counts.TableDeletes,
		RowInsertsCount:   counts.RowInserts,
		RowUpdatesCount:   counts.RowUpdates,
		RowDeletesCount:   counts.RowDeletes,
		HasChanges:        counts.HasChanges(),
	}
}

// Counts derives the counters from the maps.
func (s *ChangeSet) Counts() Counts {
	return Counts{
		TableInserts: len(s.TableInserts),
		TableUpdates: len(s.TableUpdates),
		TableDeletes: len(s.TableDeletes),
		RowInserts:   s.RowInserts.rowCount(),
		RowUpdates:   s.RowUpdates.rowCount(),
		RowDeletes:   s.RowDeletes.rowCount(),
	}
}

// HasChanges reports whether anything differs from head.
func (s *ChangeSet) HasChanges() bool {
	return s.Counts().HasChanges()
}

func (m ChangeMap) rowCount() int {
	total := 0
	for _, entry := range m {
		total += len(entry.Rows)
	}
	return total
}

func (m ChangeMap) hasTable(tableID string) bool {
	_, ok := m[tableID]
	return ok
}

func (m ChangeMap) hasRow(tableID, rowID string) bool {
	entry, ok := m[tableID]
	if !ok {
		return false
	}
	_, ok = entry.Rows[rowID]
	return ok
}

func (m ChangeMap) addTable(tableID string) {
	if _, ok := m[tableID]; !ok {
		m[tableID] = TableEntry{Rows: map[string]string{}}
	}
}

func (m ChangeMap) addRow(tableID, rowID string) {
	entry, ok := m[tableID]
	if !ok || entry.Rows == nil {
		entry = TableEntry{Rows: map[string]string{}}
	}
	entry.Rows[rowID] = ""
	m[tableID] = entry
}

func (m ChangeMap) removeRow(tableID, rowID string) {
	entry, ok := m[tableID]
	if !ok {
		return
	}
	delete(entry.Rows, rowID)
	if len(entry.Rows) == 0 {
		delete(m, tableID)
	}
}

// RowIDs returns the row keys recorded for a table.
func (m ChangeMap) RowIDs(tableID string) []string {
	entry, ok := m[tableID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(entry.Rows))
	for id := range entry.Rows {
		ids = append(ids, id)
	}
	return ids
}

// RecordRowInsert marks a row as created in the draft.
func (s *ChangeSet) RecordRowInsert(tableID, rowID string) {
	s.RowUpdates.removeRow(tableID, rowID)
	s.RowDeletes.removeRow(tableID, rowID)
	s.RowInserts.addRow(tableID, rowID)
}

// RecordRowUpdate marks a row as changed. A row created in the draft stays an insert.
func (s *ChangeSet) RecordRowUpdate(tableID, rowID string) {
	if s.RowInserts.hasRow(tableID, rowID) {
		return
	}
	s.RowDeletes.removeRow(tableID, rowID)
	s.RowUpdates.addRow(tableID, rowID)
}

// RecordRowDelete marks a row as removed. Removing a row created in the draft cancels the insert.
func (s *ChangeSet) RecordRowDelete(tableID, rowID string) {
	if s.RowInserts.hasRow(tableID, rowID) {
		s.RowInserts.removeRow(tableID, rowID)
		return
	}
	s.RowUpdates.removeRow(tableID, rowID)
	s.RowDeletes.addRow(tableID, rowID)
}

// ClearRow drops every entry for a row whose draft content matches head again.
func (s *ChangeSet) ClearRow(tableID, rowID string) {
	s.RowInserts.removeRow(tableID, rowID)
	s.RowUpdates.removeRow(tableID, rowID)
	s.RowDeletes.removeRow(tableID, rowID)
}

// RecordTableInsert marks a table as created in the draft.
func (s *ChangeSet) RecordTableInsert(tableID string) {
	delete(s.TableUpdates, tableID)
	delete(s.TableDeletes, tableID)
	s.TableInserts.addTable(tableID)
}

// RecordTableUpdate marks a table as changed. A table created in the draft stays an insert.
func (s *ChangeSet) RecordTableUpdate(tableID string) {
	if s.TableInserts.hasTable(tableID) || s.TableDeletes.hasTable(tableID) {
		return
	}
	s.TableUpdates.addTable(tableID)
}

// RecordTableDelete marks a table as removed and purges its row entries. Removing a table created
// in the draft cancels the insert.
func (s *ChangeSet) RecordTableDelete(tableID string) {
	delete(s.RowInserts, tableID)
	delete(s.RowUpdates, tableID)
	delete(s.RowDeletes, tableID)
	if s.TableInserts.hasTable(tableID) {
		delete(s.TableInserts, tableID)
		return
	}
	delete(s.TableUpdates, tableID)
	s.TableDeletes.addTable(tableID)
}

// ClearTableUpdate drops the update entry of a table reverted to its head version.
func (s *ChangeSet) ClearTableUpdate(tableID string) {
	delete(s.TableUpdates, tableID)
}

// TableInserted reports whether the table was created in the draft.
func (s *ChangeSet) TableInserted(tableID string) bool {
	return s.TableInserts.hasTable(tableID)
}

// TableUpdated reports whether the table carries an update entry.
func (s *ChangeSet) TableUpdated(tableID string) bool {
	return s.TableUpdates.hasTable(tableID)
}

// TableHasRowChanges reports whether any row of the table differs from head.
func (s *ChangeSet) TableHasRowChanges(tableID string) bool {
	return s.RowInserts.hasTable(tableID) || s.RowUpdates.hasTable(tableID) || s.RowDeletes.hasTable(tableID)
}

// RowChanged reports whether the row carries any entry.
func (s *ChangeSet) RowChanged(tableID, rowID string) bool {
	return s.RowInserts.hasRow(tableID, rowID) || s.RowUpdates.hasRow(tableID, rowID) || s.RowDeletes.hasRow(tableID, rowID)
}
