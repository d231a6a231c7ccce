package integrity

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"
)

const (
	targetSchema    = `{"type":"object","properties":{"name":{"type":"string","default":""}}}`
	referenceSchema = `{"type":"object","properties":{"ref":{"type":"string","default":"","foreignKey":"B"}}}`
)

type sequentialIDs struct {
	next int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%06d", p.next), nil
}

type validatorFixture struct {
	db        *gorm.DB
	store     *revisions.Store
	log       *migrations.Log
	draft     *revisions.Draft
	validator *Validator
}

func mustValidatorFixture(t *testing.T) validatorFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:integrity_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(revisions.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	ids := &sequentialIDs{}
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	store, err := revisions.NewStore(ids, clock)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	log, err := migrations.NewLog(store, ids, clock)
	if err != nil {
		t.Fatalf("failed to build log: %v", err)
	}
	state, err := store.CreateRootBranch(db, "master")
	if err != nil {
		t.Fatalf("create root branch failed: %v", err)
	}
	draft, err := store.OpenDraft(db, state.Draft.ID)
	if err != nil {
		t.Fatalf("open draft failed: %v", err)
	}
	return validatorFixture{db: db, store: store, log: log, draft: draft, validator: NewValidator(log, store)}
}

func (f validatorFixture) mustTable(t *testing.T, tableID, raw string) (revisions.Table, migrations.SchemaRecord) {
	t.Helper()
	document, err := schema.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	table, err := f.store.CreateTable(f.db, f.draft, tableID, "", false)
	if err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	record, err := f.log.InitSchema(f.db, f.draft, table, document)
	if err != nil {
		t.Fatalf("init schema failed: %v", err)
	}
	table, err = f.store.SetSchemaHash(f.db, f.draft, table, record.Hash)
	if err != nil {
		t.Fatalf("set schema hash failed: %v", err)
	}
	return table, record
}

func (f validatorFixture) mustRow(t *testing.T, table revisions.Table, record migrations.SchemaRecord, rowID string, data map[string]any) {
	t.Helper()
	if _, err := f.store.CreateRow(f.db, f.draft, table, rowID, revisions.RowContent{Data: data, SchemaHash: record.Hash}); err != nil {
		t.Fatalf("create row failed: %v", err)
	}
}

func TestValidateRowsReportsSchemaIssuesPerRow(t *testing.T) {
	fixture := mustValidatorFixture(t)
	_, record := fixture.mustTable(t, "B", targetSchema)

	err := fixture.validator.ValidateRows(fixture.db, fixture.draft.Revision.ID, "B", record, []RowData{
		{RowID: "ok", Data: map[string]any{"name": "fine"}},
		{RowID: "bad-1", Data: map[string]any{"name": float64(1)}},
		{RowID: "bad-2", Data: map[string]any{"name": true}},
	})

	var validationError *DataValidationError
	if !errors.As(err, &validationError) {
		t.Fatalf("expected data validation error, got %v", err)
	}
	if !errors.Is(err, ErrDataValidation) {
		t.Fatalf("expected data validation category")
	}
	if len(validationError.Rows) != 2 || validationError.Rows[0].RowID != "bad-1" || validationError.Rows[1].RowID != "bad-2" {
		t.Fatalf("unexpected invalid rows: %+v", validationError.Rows)
	}
}

func TestValidateRowsTreatsEmptyForeignKeyAsMissing(t *testing.T) {
	fixture := mustValidatorFixture(t)
	targetTable, targetRecord := fixture.mustTable(t, "B", targetSchema)
	fixture.mustRow(t, targetTable, targetRecord, "b1", map[string]any{"name": "one"})
	_, record := fixture.mustTable(t, "A", referenceSchema)

	err := fixture.validator.ValidateRows(fixture.db, fixture.draft.Revision.ID, "A", record, []RowData{
		{RowID: "a1", Data: map[string]any{"ref": "b1"}},
		{RowID: "a2", Data: map[string]any{"ref": ""}},
		{RowID: "a3", Data: map[string]any{"ref": "b9"}},
	})

	var missingError *ForeignKeyRowsNotFoundError
	if !errors.As(err, &missingError) {
		t.Fatalf("expected missing rows error, got %v", err)
	}
	expected := []MissingReference{{Path: "/ref", ForeignKey: "B", RowIDs: []string{"a2", "a3"}, MissingIDs: []string{"", "b9"}}}
	if diff := cmp.Diff(expected, missingError.Missing); diff != "" {
		t.Fatalf("unexpected missing references (-want +got):\n%s", diff)
	}
	if !errors.Is(err, ErrReferentialIntegrity) {
		t.Fatalf("expected referential integrity category")
	}
}

func TestCheckForeignKeyTablesReportsMissingTables(t *testing.T) {
	fixture := mustValidatorFixture(t)
	_, record := fixture.mustTable(t, "A", referenceSchema)

	err := fixture.validator.CheckForeignKeyTables(fixture.db, fixture.draft.Revision.ID, "A", record.Node)

	var tableError *ForeignKeyTableNotFoundError
	if !errors.As(err, &tableError) {
		t.Fatalf("expected missing table error, got %v", err)
	}
	if diff := cmp.Diff([]string{"B"}, tableError.MissingTables); diff != "" {
		t.Fatalf("unexpected missing tables (-want +got):\n%s", diff)
	}
}

func TestGuardRowDeletionNamesReferencingTable(t *testing.T) {
	fixture := mustValidatorFixture(t)
	targetTable, targetRecord := fixture.mustTable(t, "B", targetSchema)
	fixture.mustRow(t, targetTable, targetRecord, "b1", map[string]any{"name": "one"})
	fixture.mustRow(t, targetTable, targetRecord, "b2", map[string]any{"name": "two"})
	referenceTable, referenceRecord := fixture.mustTable(t, "A", referenceSchema)
	fixture.mustRow(t, referenceTable, referenceRecord, "a1", map[string]any{"ref": "b1"})

	err := fixture.validator.GuardRowDeletion(fixture.db, fixture.draft.Revision.ID, "B", []string{"b1", "b2"})

	var referencedError *ReferencedError
	if !errors.As(err, &referencedError) {
		t.Fatalf("expected referenced error, got %v", err)
	}
	if diff := cmp.Diff([]string{"A"}, referencedError.ReferencedBy); diff != "" {
		t.Fatalf("unexpected referencing tables (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b1"}, referencedError.RowIDs); diff != "" {
		t.Fatalf("unexpected referenced rows (-want +got):\n%s", diff)
	}

	if err := fixture.validator.GuardRowDeletion(fixture.db, fixture.draft.Revision.ID, "B", []string{"b2"}); err != nil {
		t.Fatalf("expected unreferenced row deletion to pass, got %v", err)
	}
}

func TestGuardTableDeletionNamesReferencingTable(t *testing.T) {
	fixture := mustValidatorFixture(t)
	fixture.mustTable(t, "B", targetSchema)
	fixture.mustTable(t, "A", referenceSchema)

	err := fixture.validator.GuardTableDeletion(fixture.db, fixture.draft.Revision.ID, "B")
	var referencedError *ReferencedError
	if !errors.As(err, &referencedError) || referencedError.ReferencedBy[0] != "A" {
		t.Fatalf("expected table deletion to be rejected naming A, got %v", err)
	}
	if err := fixture.validator.GuardTableDeletion(fixture.db, fixture.draft.Revision.ID, "A"); err != nil {
		t.Fatalf("expected unreferenced table deletion to pass, got %v", err)
	}
}
