package migrations

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"gorm.io/gorm"
)

// ChangeType classifies a migration record.
type ChangeType string

const (
	ChangeInit   ChangeType = "init"
	ChangeUpdate ChangeType = "update"
	ChangeRename ChangeType = "rename"
	ChangeRemove ChangeType = "remove"
)

var (
	// ErrHashMismatch indicates that replaying a migration did not reproduce the recorded hash.
	ErrHashMismatch = errors.New("migrations: replayed schema hash mismatch")
	errMissingStore = errors.New("migrations: store is required")
)

// Migration is one append-only record of the migration ledger.
type Migration struct {
	ID             string       `json:"id"`
	ChangeType     ChangeType   `json:"changeType"`
	TableID        string       `json:"tableId"`
	TableCreatedID string       `json:"tableCreatedId"`
	Patches        schema.Patch `json:"patches,omitempty"`
	Hash           string       `json:"hash,omitempty"`
	OldTableID     string       `json:"oldTableId,omitempty"`
	NewTableID     string       `json:"newTableId,omitempty"`
	Date           time.Time    `json:"date"`

	// VersionID is the row version holding the record.
	VersionID string `json:"-"`
}

// HistoryEntry mirrors a migration inside the schema row meta.
type HistoryEntry struct {
	ChangeType ChangeType   `json:"changeType"`
	Patches    schema.Patch `json:"patches"`
	Hash       string       `json:"hash"`
	Date       time.Time    `json:"date"`
}

// SchemaRecord is the current schema of one table.
type SchemaRecord struct {
	TableID  string
	Document any
	Node     *schema.Node
	Hash     string
	History  []HistoryEntry
}

// Log reads and writes the schema and migration system tables through the copy-on-write store.
type Log struct {
	store *revisions.Store
	ids   revisions.IDProvider
	clock func() time.Time
}

// NewLog constructs a Log.
func NewLog(store *revisions.Store, ids revisions.IDProvider, clock func() time.Time) (*Log, error) {
	if store == nil {
		return nil, errMissingStore
	}
	if ids == nil {
		ids = revisions.NewUUIDProvider()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Log{store: store, ids: ids, clock: clock}, nil
}

func recordFromRow(row revisions.Row) (SchemaRecord, error) {
	document, err := row.DecodeData()
	if err != nil {
		return SchemaRecord{}, fmt.Errorf("migrations: decode schema %s: %w", row.ID, err)
	}
	node, err := schema.ParseValue(document)
	if err != nil {
		return SchemaRecord{}, err
	}
	var history []HistoryEntry
	if len(row.Meta) > 0 {
		if err := json.Unmarshal(row.Meta, &history); err != nil {
			return SchemaRecord{}, fmt.Errorf("migrations: decode history %s: %w", row.ID, err)
		}
	}
	return SchemaRecord{TableID: row.ID, Document: document, Node: node, Hash: row.Hash, History: history}, nil
}

// GetSchema returns the schema of tableID in any revision.
func (l *Log) GetSchema(tx *gorm.DB, revisionID, tableID string) (SchemaRecord, error) {
	schemaTable, err := l.store.FindTable(tx, revisionID, revisions.SchemaTableID)
	if err != nil {
		return SchemaRecord{}, err
	}
	row, err := l.store.FindRow(tx, schemaTable.VersionID, tableID)
	if errors.Is(err, revisions.ErrRowNotFound) {
		return SchemaRecord{}, fmt.Errorf("%w: schema of %s", revisions.ErrTableNotFound, tableID)
	}
	if err != nil {
		return SchemaRecord{}, err
	}
	return recordFromRow(row)
}

// Schemas returns the schema of every table in the revision.
func (l *Log) Schemas(tx *gorm.DB, revisionID string) ([]SchemaRecord, error) {
	schemaTable, err := l.store.FindTable(tx, revisionID, revisions.SchemaTableID)
	if err != nil {
		return nil, err
	}
	rows, err := l.store.Rows(tx, schemaTable.VersionID)
	if err != nil {
		return nil, err
	}
	records := make([]SchemaRecord, 0, len(rows))
	for _, row := range rows {
		record, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func checkDocument(tableID string, document any) (*schema.Node, string, error) {
	if err := schema.ValidateDocument(document); err != nil {
		return nil, "", err
	}
	node, err := schema.ParseValue(document)
	if err != nil {
		return nil, "", err
	}
	if err := schema.CheckSelfReference(node, tableID); err != nil {
		return nil, "", err
	}
	hash, err := schema.Hash(document)
	if err != nil {
		return nil, "", err
	}
	return node, hash, nil
}

// InitSchema stores the schema of a new table and appends an init migration holding the whole
// schema as one addition patch.
func (l *Log) InitSchema(tx *gorm.DB, draft *revisions.Draft, table revisions.Table, document any) (SchemaRecord, error) {
	node, hash, err := checkDocument(table.ID, document)
	if err != nil {
		return SchemaRecord{}, err
	}
	now := l.clock().UTC()
	patch := schema.AdditionPatch(document)
	record := SchemaRecord{
		TableID:  table.ID,
		Document: document,
		Node:     node,
		Hash:     hash,
		History:  []HistoryEntry{{ChangeType: ChangeInit, Patches: patch, Hash: hash, Date: now}},
	}
	schemaTable, err := l.store.DraftTable(tx, draft, revisions.SchemaTableID, true)
	if err != nil {
		return SchemaRecord{}, err
	}
	if _, err := l.store.CreateRow(tx, draft, schemaTable, table.ID, revisions.RowContent{Data: document, Meta: record.History}); err != nil {
		return SchemaRecord{}, err
	}
	if err := l.append(tx, draft, Migration{
		ChangeType:     ChangeInit,
		TableID:        table.ID,
		TableCreatedID: table.CreatedID,
		Patches:        patch,
		Hash:           hash,
		Date:           now,
	}); err != nil {
		return SchemaRecord{}, err
	}
	return record, nil
}

// UpdateSchema validates and applies a patch to the schema of a table and appends an update
// migration. It returns the previous and the next schema.
func (l *Log) UpdateSchema(tx *gorm.DB, draft *revisions.Draft, table revisions.Table, patch schema.Patch) (SchemaRecord, SchemaRecord, error) {
	if err := schema.ValidatePatch(patch); err != nil {
		return SchemaRecord{}, SchemaRecord{}, err
	}
	previous, err := l.GetSchema(tx, draft.Revision.ID, table.ID)
	if err != nil {
		return SchemaRecord{}, SchemaRecord{}, err
	}
	document, err := patch.Apply(previous.Document)
	if err != nil {
		return SchemaRecord{}, SchemaRecord{}, err
	}
	node, hash, err := checkDocument(table.ID, document)
	if err != nil {
		return SchemaRecord{}, SchemaRecord{}, err
	}
	now := l.clock().UTC()
	history := append(append([]HistoryEntry{}, previous.History...), HistoryEntry{ChangeType: ChangeUpdate, Patches: patch, Hash: hash, Date: now})
	next := SchemaRecord{TableID: table.ID, Document: document, Node: node, Hash: hash, History: history}
	if err := l.writeSchemaRow(tx, draft, table.ID, next); err != nil {
		return SchemaRecord{}, SchemaRecord{}, err
	}
	if err := l.append(tx, draft, Migration{
		ChangeType:     ChangeUpdate,
		TableID:        table.ID,
		TableCreatedID: table.CreatedID,
		Patches:        patch,
		Hash:           hash,
		Date:           now,
	}); err != nil {
		return SchemaRecord{}, SchemaRecord{}, err
	}
	return previous, next, nil
}

func (l *Log) writeSchemaRow(tx *gorm.DB, draft *revisions.Draft, tableID string, record SchemaRecord) error {
	schemaTable, err := l.store.DraftTable(tx, draft, revisions.SchemaTableID, true)
	if err != nil {
		return err
	}
	_, _, err = l.store.UpdateRow(tx, draft, schemaTable, tableID, revisions.RowContent{Data: record.Document, Meta: record.History})
	return err
}

// RenameSchema moves the schema row to the new table id and appends a rename migration.
func (l *Log) RenameSchema(tx *gorm.DB, draft *revisions.Draft, table revisions.Table, fromID, toID string) error {
	previous, err := l.GetSchema(tx, draft.Revision.ID, fromID)
	if err != nil {
		return err
	}
	schemaTable, err := l.store.DraftTable(tx, draft, revisions.SchemaTableID, true)
	if err != nil {
		return err
	}
	if _, _, err := l.store.RenameRow(tx, draft, schemaTable, fromID, toID); err != nil {
		return err
	}
	now := l.clock().UTC()
	previous.TableID = toID
	previous.History = append(previous.History, HistoryEntry{ChangeType: ChangeRename, Patches: schema.Patch{}, Hash: previous.Hash, Date: now})
	if err := l.writeSchemaRow(tx, draft, toID, previous); err != nil {
		return err
	}
	return l.append(tx, draft, Migration{
		ChangeType:     ChangeRename,
		TableID:        toID,
		TableCreatedID: table.CreatedID,
		Hash:           previous.Hash,
		OldTableID:     fromID,
		NewTableID:     toID,
		Date:           now,
	})
}

// RemoveSchema deletes the schema row of a table. A table that was never part of head has its
// whole migration history discarded; otherwise a remove migration is appended.
func (l *Log) RemoveSchema(tx *gorm.DB, draft *revisions.Draft, table revisions.Table, discard bool) error {
	schemaTable, err := l.store.DraftTable(tx, draft, revisions.SchemaTableID, true)
	if err != nil {
		return err
	}
	if _, err := l.store.RemoveRows(tx, draft, schemaTable, []string{table.ID}); err != nil {
		return err
	}
	if !discard {
		return l.append(tx, draft, Migration{
			ChangeType:     ChangeRemove,
			TableID:        table.ID,
			TableCreatedID: table.CreatedID,
			Date:           l.clock().UTC(),
		})
	}
	migrations, err := l.ListMigrations(tx, draft.Revision.ID)
	if err != nil {
		return err
	}
	var discarded []string
	for _, migration := range migrations {
		if migration.TableCreatedID == table.CreatedID {
			discarded = append(discarded, migration.ID)
		}
	}
	if len(discarded) == 0 {
		return nil
	}
	migrationTable, err := l.store.DraftTable(tx, draft, revisions.MigrationTableID, true)
	if err != nil {
		return err
	}
	_, err = l.store.RemoveRows(tx, draft, migrationTable, discarded)
	return err
}

func (l *Log) append(tx *gorm.DB, draft *revisions.Draft, migration Migration) error {
	id, err := l.ids.NewID()
	if err != nil {
		return fmt.Errorf("migrations: generate id: %w", err)
	}
	migration.ID = id
	migrationTable, err := l.store.DraftTable(tx, draft, revisions.MigrationTableID, true)
	if err != nil {
		return err
	}
	_, err = l.store.CreateRow(tx, draft, migrationTable, migration.ID, revisions.RowContent{Data: migration})
	return err
}

// ListMigrations returns every migration record of the revision in append order.
func (l *Log) ListMigrations(tx *gorm.DB, revisionID string) ([]Migration, error) {
	migrationTable, err := l.store.FindTable(tx, revisionID, revisions.MigrationTableID)
	if err != nil {
		return nil, err
	}
	rows, err := l.store.Rows(tx, migrationTable.VersionID)
	if err != nil {
		return nil, err
	}
	migrations := make([]Migration, 0, len(rows))
	for _, row := range rows {
		var migration Migration
		if err := json.Unmarshal(row.Data, &migration); err != nil {
			return nil, fmt.Errorf("migrations: decode migration %s: %w", row.ID, err)
		}
		migration.VersionID = row.VersionID
		migrations = append(migrations, migration)
	}
	sort.SliceStable(migrations, func(i, j int) bool {
		if !migrations[i].Date.Equal(migrations[j].Date) {
			return migrations[i].Date.Before(migrations[j].Date)
		}
		return migrations[i].ID < migrations[j].ID
	})
	return migrations, nil
}

// ForTable keeps the migrations of one table lineage.
func ForTable(migrations []Migration, tableCreatedID string) []Migration {
	var kept []Migration
	for _, migration := range migrations {
		if migration.TableCreatedID == tableCreatedID {
			kept = append(kept, migration)
		}
	}
	return kept
}

// Replay rebuilds a schema from its migration records, checking every recorded hash. The first
// record must be the init migration.
func Replay(migrations []Migration) (any, error) {
	var document any
	for index, migration := range migrations {
		switch migration.ChangeType {
		case ChangeInit:
			if len(migration.Patches) != 1 || migration.Patches[0].Path != "" {
				return nil, fmt.Errorf("%w: init migration %s must hold one root addition", schema.ErrInvalidPatch, migration.ID)
			}
			document = schema.Clone(migration.Patches[0].Value)
		case ChangeUpdate:
			if index == 0 {
				return nil, fmt.Errorf("%w: %s precedes init", schema.ErrInvalidPatch, migration.ID)
			}
			next, err := migration.Patches.Apply(document)
			if err != nil {
				return nil, err
			}
			document = next
		case ChangeRename:
			continue
		case ChangeRemove:
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: unknown change type %q", schema.ErrInvalidPatch, migration.ChangeType)
		}
		hash, err := schema.Hash(document)
		if err != nil {
			return nil, err
		}
		if hash != migration.Hash {
			return nil, fmt.Errorf("%w: %s expected %s, got %s", ErrHashMismatch, migration.ID, migration.Hash, hash)
		}
	}
	return document, nil
}
