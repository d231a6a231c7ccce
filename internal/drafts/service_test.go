package drafts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/events"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/integrity"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/views"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"
)

const (
	versionSchema  = `{"type":"object","properties":{"ver":{"type":"number","default":0}}}`
	productsSchema = `{"type":"object","properties":{"title":{"type":"string","default":""},"price":{"type":"number","default":0}}}`
	thingsSchema   = `{"type":"object","required":["a","b"],"properties":{"a":{"type":"string"},"b":{"type":"string"}}}`
	ordersSchema   = `{"type":"object","properties":{"product":{"type":"string","default":"","foreignKey":"products"}}}`
)

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%06d", p.next), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]events.Type, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type serviceFixture struct {
	service   *Service
	publisher *recordingPublisher
	state     revisions.BranchState
}

func mustService(t *testing.T, hooks ...RowMutationHook) serviceFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:drafts_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(revisions.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	tick := time.Unix(1700000000, 0)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequentialIDs{},
		Publisher:  publisher,
		Hooks:      hooks,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	state, err := service.InitRootBranch(context.Background(), "master")
	if err != nil {
		t.Fatalf("init root branch failed: %v", err)
	}
	return serviceFixture{service: service, publisher: publisher, state: state}
}

func mustDocument(t *testing.T, raw string) any {
	t.Helper()
	document, err := schema.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return document
}

func (f *serviceFixture) draftID() string {
	return f.state.Draft.ID
}

func (f *serviceFixture) mustCreateTable(t *testing.T, tableID, raw string) TableResult {
	t.Helper()
	result, err := f.service.CreateTable(context.Background(), f.draftID(), tableID, mustDocument(t, raw))
	if err != nil {
		t.Fatalf("create table %s failed: %v", tableID, err)
	}
	return result
}

func (f *serviceFixture) mustCreateRow(t *testing.T, tableID, rowID string, data map[string]any) RowResult {
	t.Helper()
	result, err := f.service.CreateRow(context.Background(), f.draftID(), tableID, rowID, data)
	if err != nil {
		t.Fatalf("create row %s/%s failed: %v", tableID, rowID, err)
	}
	return result
}

func (f *serviceFixture) mustCommit(t *testing.T) CommitResult {
	t.Helper()
	result, err := f.service.Commit(context.Background(), f.draftID(), "commit")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	f.state.Head = result.Committed
	f.state.Draft = result.Draft
	return result
}

func (f *serviceFixture) mustDraftRevision(t *testing.T) revisions.Revision {
	t.Helper()
	revision, err := f.service.GetRevision(context.Background(), f.draftID())
	if err != nil {
		t.Fatalf("get revision failed: %v", err)
	}
	return revision
}

func serviceCode(t *testing.T, err error) string {
	t.Helper()
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("expected service error, got %v", err)
	}
	return serviceError.Code()
}

func TestMutationsPublishOneEventEach(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "products", productsSchema)
	fixture.mustCreateRow(t, "products", "p1", map[string]any{"title": "Phone", "price": 10})
	if _, err := fixture.service.UpdateRow(ctx, fixture.draftID(), "products", "p1", map[string]any{"title": "Phone", "price": 12}); err != nil {
		t.Fatalf("update row failed: %v", err)
	}
	if _, err := fixture.service.RenameRow(ctx, fixture.draftID(), "products", "p1", "p2"); err != nil {
		t.Fatalf("rename row failed: %v", err)
	}
	if _, err := fixture.service.RemoveRow(ctx, fixture.draftID(), "products", "p2"); err != nil {
		t.Fatalf("remove row failed: %v", err)
	}
	if _, err := fixture.service.RemoveRow(ctx, fixture.draftID(), "products", "missing"); err == nil {
		t.Fatalf("expected failed mutation")
	}
	fixture.mustCommit(t)

	expected := []events.Type{
		events.TypeTableCreated,
		events.TypeRowCreated,
		events.TypeRowUpdated,
		events.TypeRowRenamed,
		events.TypeRowDeleted,
		events.TypeRevisionCommitted,
	}
	if diff := cmp.Diff(expected, fixture.publisher.types()); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
	for _, event := range fixture.publisher.events {
		if event.BranchID != fixture.state.Branch.ID {
			t.Fatalf("expected branch id on every event, got %+v", event)
		}
	}
}

func TestUpdateRowBackToHeadClearsDraft(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "t1", versionSchema)
	fixture.mustCreateRow(t, "t1", "r1", map[string]any{"ver": 1})
	fixture.mustCommit(t)

	headTable, err := fixture.service.GetTable(ctx, fixture.state.Head.ID, "t1")
	if err != nil {
		t.Fatalf("get head table failed: %v", err)
	}

	forked, err := fixture.service.UpdateRow(ctx, fixture.draftID(), "t1", "r1", map[string]any{"ver": 2})
	if err != nil {
		t.Fatalf("update row failed: %v", err)
	}
	if forked.TableVersionID == headTable.Table.VersionID {
		t.Fatalf("expected readonly table to fork")
	}
	if !fixture.mustDraftRevision(t).HasChanges {
		t.Fatalf("expected draft to have changes")
	}

	reverted, err := fixture.service.UpdateRow(ctx, fixture.draftID(), "t1", "r1", map[string]any{"ver": 1})
	if err != nil {
		t.Fatalf("update row back failed: %v", err)
	}
	if reverted.TableVersionID != headTable.Table.VersionID {
		t.Fatalf("expected table to revert to head version %s, got %s", headTable.Table.VersionID, reverted.TableVersionID)
	}
	if fixture.mustDraftRevision(t).HasChanges {
		t.Fatalf("expected draft without changes")
	}
}

func TestRemoveReferencedRowIsRejected(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "B", productsSchema)
	fixture.mustCreateRow(t, "B", "b1", map[string]any{"title": "one"})
	fixture.mustCreateTable(t, "A", `{"type":"object","properties":{"ref":{"type":"string","default":"","foreignKey":"B"}}}`)
	fixture.mustCreateRow(t, "A", "a1", map[string]any{"ref": "b1"})

	_, err := fixture.service.RemoveRow(ctx, fixture.draftID(), "B", "b1")
	var referencedError *integrity.ReferencedError
	if !errors.As(err, &referencedError) {
		t.Fatalf("expected referenced error, got %v", err)
	}
	if diff := cmp.Diff([]string{"A"}, referencedError.ReferencedBy); diff != "" {
		t.Fatalf("unexpected referencing tables (-want +got):\n%s", diff)
	}
	if code := serviceCode(t, err); code != "drafts.remove_rows.referential_integrity" {
		t.Fatalf("unexpected error code %s", code)
	}

	if _, err := fixture.service.RemoveTable(ctx, fixture.draftID(), "B"); !errors.Is(err, integrity.ErrReferentialIntegrity) {
		t.Fatalf("expected table removal to be rejected, got %v", err)
	}
}

func TestRemoveRowsIgnoresRepeatedIDs(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "products", productsSchema)
	fixture.mustCreateRow(t, "products", "p1", map[string]any{"title": "Phone", "price": 10})
	fixture.mustCreateRow(t, "products", "p2", map[string]any{"title": "Case", "price": 2})
	fixture.mustCreateRow(t, "products", "p3", map[string]any{"title": "Cable", "price": 1})

	results, err := fixture.service.RemoveRows(ctx, fixture.draftID(), "products", []string{"p2", "p1", "p2", "p1"})
	if err != nil {
		t.Fatalf("remove rows failed: %v", err)
	}
	removed := make([]string, 0, len(results))
	for _, result := range results {
		removed = append(removed, result.Row.ID)
	}
	if diff := cmp.Diff([]string{"p2", "p1"}, removed); diff != "" {
		t.Fatalf("unexpected removed rows (-want +got):\n%s", diff)
	}

	fixture.publisher.mu.Lock()
	last := fixture.publisher.events[len(fixture.publisher.events)-1]
	fixture.publisher.mu.Unlock()
	if last.Type != events.TypeRowDeleted {
		t.Fatalf("expected a row deleted event, got %s", last.Type)
	}
	if diff := cmp.Diff([]string{"p2", "p1"}, last.RowIDs); diff != "" {
		t.Fatalf("unexpected event row ids (-want +got):\n%s", diff)
	}
	if len(last.PreviousVersionIDs) != 2 {
		t.Fatalf("expected one previous version per removed row, got %v", last.PreviousVersionIDs)
	}

	if _, err := fixture.service.GetRow(ctx, fixture.draftID(), "products", "p3"); err != nil {
		t.Fatalf("expected p3 to remain: %v", err)
	}
}

func TestCreateRowRejectsMissingReferences(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "products", productsSchema)
	fixture.mustCreateTable(t, "orders", ordersSchema)

	_, err := fixture.service.CreateRow(ctx, fixture.draftID(), "orders", "o1", map[string]any{"product": ""})
	var missingError *integrity.ForeignKeyRowsNotFoundError
	if !errors.As(err, &missingError) {
		t.Fatalf("expected missing rows error, got %v", err)
	}
	if diff := cmp.Diff([]string{""}, missingError.MissingIDs()); diff != "" {
		t.Fatalf("unexpected missing ids (-want +got):\n%s", diff)
	}

	_, err = fixture.service.CreateTable(ctx, fixture.draftID(), "invoices", mustDocument(t, `{"type":"object","properties":{"customer":{"type":"string","foreignKey":"customers"}}}`))
	var tableError *integrity.ForeignKeyTableNotFoundError
	if !errors.As(err, &tableError) {
		t.Fatalf("expected missing table error, got %v", err)
	}
}

func TestUpdateTableMigratesRowsAndViews(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "products", productsSchema)
	fixture.mustCreateRow(t, "products", "p1", map[string]any{"title": "Phone", "price": 10})
	document := views.Document{
		Version:       1,
		DefaultViewID: "all",
		Views: []views.View{{
			ID:      "all",
			Name:    "All",
			Columns: []views.Column{{Field: "id"}, {Field: "data.title"}, {Field: "data.price"}},
			Sorts:   []views.Sort{{Field: "data.title", Direction: "asc"}},
		}},
	}
	if _, err := fixture.service.UpdateViews(ctx, fixture.draftID(), "products", document); err != nil {
		t.Fatalf("update views failed: %v", err)
	}

	result, err := fixture.service.UpdateTable(ctx, fixture.draftID(), "products", schema.Patch{
		{Op: schema.OpAdd, Path: "/properties/sku", Value: map[string]any{"type": "string", "default": "n/a"}},
		{Op: schema.OpRemove, Path: "/properties/title"},
	})
	if err != nil {
		t.Fatalf("update table failed: %v", err)
	}

	row, err := fixture.service.GetRow(ctx, fixture.draftID(), "products", "p1")
	if err != nil {
		t.Fatalf("get row failed: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"price": float64(10), "sku": "n/a"}, row.Data); diff != "" {
		t.Fatalf("unexpected migrated data (-want +got):\n%s", diff)
	}
	if row.Row.SchemaHash != result.Schema.Hash {
		t.Fatalf("expected row schema hash %s, got %s", result.Schema.Hash, row.Row.SchemaHash)
	}

	migrated, err := fixture.service.GetViews(ctx, fixture.draftID(), "products")
	if err != nil {
		t.Fatalf("get views failed: %v", err)
	}
	if diff := cmp.Diff([]views.Column{{Field: "id"}, {Field: "data.price"}}, migrated.Views[0].Columns); diff != "" {
		t.Fatalf("unexpected columns (-want +got):\n%s", diff)
	}
	if len(migrated.Views[0].Sorts) != 0 {
		t.Fatalf("expected sort on removed field to be dropped")
	}

	history, err := fixture.service.ListMigrations(ctx, fixture.draftID(), "products")
	if err != nil {
		t.Fatalf("list migrations failed: %v", err)
	}
	if len(history) != 2 || history[0].ChangeType != migrations.ChangeInit || history[1].ChangeType != migrations.ChangeUpdate {
		t.Fatalf("unexpected migrations: %+v", history)
	}
	replayed, err := migrations.Replay(history)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !schema.Equal(replayed, result.Schema.Document) {
		t.Fatalf("expected replay to reproduce the current schema")
	}
}

func TestUpdateTableRejectsDataThatNoLongerValidates(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "products", productsSchema)
	fixture.mustCreateRow(t, "products", "p1", map[string]any{"title": "Phone", "price": 10})

	_, err := fixture.service.UpdateTable(ctx, fixture.draftID(), "products", schema.Patch{
		{Op: schema.OpReplace, Path: "/properties/title", Value: map[string]any{"type": "string", "minLength": 10}},
	})
	if !errors.Is(err, integrity.ErrDataValidation) {
		t.Fatalf("expected data validation error, got %v", err)
	}
	record, err := fixture.service.GetSchema(ctx, fixture.draftID(), "products")
	if err != nil {
		t.Fatalf("get schema failed: %v", err)
	}
	if !schema.Equal(record.Document, mustDocument(t, productsSchema)) {
		t.Fatalf("expected failed update to roll back the schema")
	}
}

func TestUpdateTableKeepsRequiredFieldsInSync(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "things", thingsSchema)
	fixture.mustCreateRow(t, "things", "t1", map[string]any{"a": "x", "b": "y"})

	steps := []struct {
		name     string
		patch    schema.Patch
		required []string
		data     map[string]any
	}{
		{
			name:     "remove required field",
			patch:    schema.Patch{{Op: schema.OpRemove, Path: "/properties/b"}},
			required: []string{"a"},
			data:     map[string]any{"a": "x"},
		},
		{
			name:     "rename required field",
			patch:    schema.Patch{{Op: schema.OpMove, From: "/properties/a", Path: "/properties/c"}},
			required: []string{"c"},
			data:     map[string]any{"c": "x"},
		},
		{
			name: "require new field",
			patch: schema.Patch{
				{Op: schema.OpAdd, Path: "/properties/d", Value: map[string]any{"type": "string", "default": "none"}},
				{Op: schema.OpAdd, Path: "/required/-", Value: "d"},
			},
			required: []string{"c", "d"},
			data:     map[string]any{"c": "x", "d": "none"},
		},
	}
	for _, step := range steps {
		result, err := fixture.service.UpdateTable(ctx, fixture.draftID(), "things", step.patch)
		if err != nil {
			t.Fatalf("%s: update table failed: %v", step.name, err)
		}
		if !cmp.Equal(step.required, result.Schema.Node.Required) {
			t.Fatalf("%s: unexpected required list %v", step.name, result.Schema.Node.Required)
		}
		row, err := fixture.service.GetRow(ctx, fixture.draftID(), "things", "t1")
		if err != nil {
			t.Fatalf("%s: get row failed: %v", step.name, err)
		}
		if diff := cmp.Diff(step.data, row.Data); diff != "" {
			t.Fatalf("%s: unexpected row data (-want +got):\n%s", step.name, diff)
		}
	}

	history, err := fixture.service.ListMigrations(ctx, fixture.draftID(), "things")
	if err != nil {
		t.Fatalf("list migrations failed: %v", err)
	}
	replayed, err := migrations.Replay(history)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	record, err := fixture.service.GetSchema(ctx, fixture.draftID(), "things")
	if err != nil {
		t.Fatalf("get schema failed: %v", err)
	}
	if !schema.Equal(replayed, record.Document) {
		t.Fatalf("expected replay to reproduce the current schema")
	}
}

func TestRequiringAnAbsentFieldFailsValidation(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "things", `{"type":"object","required":["a"],"properties":{"a":{"type":"string"},"note":{"type":"string"}}}`)
	fixture.mustCreateRow(t, "things", "t1", map[string]any{"a": "x"})

	_, err := fixture.service.UpdateTable(ctx, fixture.draftID(), "things", schema.Patch{
		{Op: schema.OpAdd, Path: "/required/-", Value: "note"},
	})
	var validationError *integrity.DataValidationError
	if !errors.As(err, &validationError) {
		t.Fatalf("expected data validation error, got %v", err)
	}
	expected := []integrity.RowIssues{{
		RowID:  "t1",
		Issues: []schema.Issue{{Path: "", Keyword: "required", Reason: `missing required field "note"`}},
	}}
	if diff := cmp.Diff(expected, validationError.Rows); diff != "" {
		t.Fatalf("unexpected row issues (-want +got):\n%s", diff)
	}
	if code := serviceCode(t, err); code != "drafts.update_table.validation_failed" {
		t.Fatalf("unexpected error code %q", code)
	}

	_, err = fixture.service.ValidateData(ctx, fixture.draftID(), "things", []RowInput{{RowID: "t2", Data: map[string]any{"note": "n"}}})
	if !errors.As(err, &validationError) || len(validationError.Rows) != 1 {
		t.Fatalf("expected the missing required field to be reported, got %v", err)
	}
	if reason := validationError.Rows[0].Issues[0].Reason; reason != `missing required field "a"` {
		t.Fatalf("unexpected reason %q", reason)
	}

	_, err = fixture.service.UpdateTable(ctx, fixture.draftID(), "things", schema.Patch{
		{Op: schema.OpAdd, Path: "/required/-", Value: "ghost"},
	})
	if !errors.Is(err, schema.ErrInvalidSchema) {
		t.Fatalf("expected undeclared required property to be rejected, got %v", err)
	}
}

func TestRenameTableRewritesForeignKeys(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "products", productsSchema)
	fixture.mustCreateRow(t, "products", "p1", map[string]any{"title": "Phone"})
	fixture.mustCreateTable(t, "orders", ordersSchema)
	fixture.mustCreateRow(t, "orders", "o1", map[string]any{"product": "p1"})

	result, err := fixture.service.RenameTable(ctx, fixture.draftID(), "products", "items")
	if err != nil {
		t.Fatalf("rename table failed: %v", err)
	}
	if result.Table.ID != "items" || result.PreviousTableID != "products" {
		t.Fatalf("unexpected rename result: %+v", result)
	}

	orders, err := fixture.service.GetSchema(ctx, fixture.draftID(), "orders")
	if err != nil {
		t.Fatalf("get schema failed: %v", err)
	}
	field, ok := orders.Node.Property("product")
	if !ok || field.ForeignKey != "items" {
		t.Fatalf("expected foreign key to follow the rename, got %+v", field)
	}
	if _, err := fixture.service.GetSchema(ctx, fixture.draftID(), "products"); !errors.Is(err, revisions.ErrTableNotFound) {
		t.Fatalf("expected old schema id to be gone, got %v", err)
	}

	history, err := fixture.service.ListMigrations(ctx, fixture.draftID(), "items")
	if err != nil {
		t.Fatalf("list migrations failed: %v", err)
	}
	last := history[len(history)-1]
	if last.ChangeType != migrations.ChangeRename || last.OldTableID != "products" || last.NewTableID != "items" {
		t.Fatalf("unexpected rename migration: %+v", last)
	}
}

func TestRenameRowRewritesReferences(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "products", productsSchema)
	fixture.mustCreateRow(t, "products", "p1", map[string]any{"title": "Phone"})
	fixture.mustCreateTable(t, "orders", ordersSchema)
	fixture.mustCreateRow(t, "orders", "o1", map[string]any{"product": "p1"})

	if _, err := fixture.service.RenameRow(ctx, fixture.draftID(), "products", "p1", "phone"); err != nil {
		t.Fatalf("rename row failed: %v", err)
	}
	order, err := fixture.service.GetRow(ctx, fixture.draftID(), "orders", "o1")
	if err != nil {
		t.Fatalf("get row failed: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"product": "phone"}, order.Data); diff != "" {
		t.Fatalf("unexpected referencing row (-want +got):\n%s", diff)
	}
}

func TestRemoveDraftTableLeavesNoTrace(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	fixture.mustCreateTable(t, "t1", versionSchema)
	fixture.mustCreateRow(t, "t1", "r1", map[string]any{"ver": 1})
	if _, err := fixture.service.RemoveTable(ctx, fixture.draftID(), "t1"); err != nil {
		t.Fatalf("remove table failed: %v", err)
	}

	history, err := fixture.service.ListMigrations(ctx, fixture.draftID(), "")
	if err != nil {
		t.Fatalf("list migrations failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected draft-only migrations to be discarded, got %+v", history)
	}
	if fixture.mustDraftRevision(t).HasChanges {
		t.Fatalf("expected draft without changes")
	}
}

func TestSystemTablesAndInvalidIDsAreRejected(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		run    func() error
		reason string
	}{
		{
			name: "reserved table id",
			run: func() error {
				_, err := fixture.service.CreateTable(ctx, fixture.draftID(), "__secret", mustDocument(t, versionSchema))
				return err
			},
			reason: "validation_failed",
		},
		{
			name: "malformed row id",
			run: func() error {
				fixture.mustCreateTable(t, "t1", versionSchema)
				_, err := fixture.service.CreateRow(ctx, fixture.draftID(), "t1", "bad id", map[string]any{"ver": 1})
				return err
			},
			reason: "validation_failed",
		},
		{
			name: "system table rows",
			run: func() error {
				_, err := fixture.service.UpdateRow(ctx, fixture.draftID(), revisions.SchemaTableID, "t1", map[string]any{})
				return err
			},
			reason: "not_found",
		},
		{
			name: "system table removal",
			run: func() error {
				_, err := fixture.service.RemoveTable(ctx, fixture.draftID(), revisions.ViewsTableID)
				return err
			},
			reason: "conflict",
		},
		{
			name: "head revision",
			run: func() error {
				_, err := fixture.service.CreateTable(ctx, fixture.state.Head.ID, "t2", mustDocument(t, versionSchema))
				return err
			},
			reason: "not_found",
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			err := testCase.run()
			if err == nil {
				t.Fatalf("expected failure")
			}
			if code := serviceCode(t, err); !strings.HasSuffix(code, "."+testCase.reason) {
				t.Fatalf("expected reason %s, got %s", testCase.reason, code)
			}
		})
	}
}

func TestCommitAndRevert(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	if _, err := fixture.service.Commit(ctx, fixture.draftID(), "empty"); !errors.Is(err, revisions.ErrNoChanges) {
		t.Fatalf("expected empty commit to fail, got %v", err)
	}

	fixture.mustCreateTable(t, "t1", versionSchema)
	fixture.mustCreateRow(t, "t1", "r1", map[string]any{"ver": 1})
	committed := fixture.mustCommit(t)
	if !committed.Committed.IsHead || committed.Committed.IsDraft {
		t.Fatalf("expected committed revision to be head: %+v", committed.Committed)
	}
	if committed.Draft.ParentID == nil || *committed.Draft.ParentID != committed.Committed.ID {
		t.Fatalf("expected new draft to start from the committed head")
	}

	fixture.mustCreateRow(t, "t1", "r2", map[string]any{"ver": 2})
	if _, err := fixture.service.Revert(ctx, fixture.draftID()); err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	rows, err := fixture.service.ListRows(ctx, fixture.draftID(), "t1")
	if err != nil {
		t.Fatalf("list rows failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Row.ID != "r1" {
		t.Fatalf("expected revert to restore head rows, got %+v", rows)
	}
	if fixture.mustDraftRevision(t).HasChanges {
		t.Fatalf("expected reverted draft without changes")
	}

	branch, err := fixture.service.CreateBranch(ctx, "feature", committed.Committed.ID)
	if err != nil {
		t.Fatalf("create branch failed: %v", err)
	}
	tables, err := fixture.service.ListTables(ctx, branch.Draft.ID)
	if err != nil {
		t.Fatalf("list tables failed: %v", err)
	}
	if len(tables) != 1 || tables[0].Table.ID != "t1" || tables[0].RowCount != 1 {
		t.Fatalf("expected branch to share committed tables, got %+v", tables)
	}
}

func TestValidateDataReportsSchemaHash(t *testing.T) {
	fixture := mustService(t)
	ctx := context.Background()

	created := fixture.mustCreateTable(t, "t1", versionSchema)
	result, err := fixture.service.ValidateData(ctx, fixture.draftID(), "t1", []RowInput{{RowID: "r1", Data: map[string]any{"ver": 3}}})
	if err != nil {
		t.Fatalf("validate data failed: %v", err)
	}
	if result.SchemaHash != created.Schema.Hash {
		t.Fatalf("expected schema hash %s, got %s", created.Schema.Hash, result.SchemaHash)
	}

	_, err = fixture.service.ValidateData(ctx, fixture.draftID(), "t1", []RowInput{
		{RowID: "r1", Data: map[string]any{"ver": "x"}},
		{RowID: "r2", Data: map[string]any{"ver": true}},
	})
	var validationError *integrity.DataValidationError
	if !errors.As(err, &validationError) || len(validationError.Rows) != 2 {
		t.Fatalf("expected both rows to be reported, got %v", err)
	}
}

type stampHook struct {
	PassthroughHook
}

func (stampHook) AfterCreateRow(_ context.Context, scope HookScope, row HookRow) (any, error) {
	data := row.Value.Interface().(map[string]any)
	data["title"] = strings.ToUpper(data["title"].(string))
	return data, nil
}

func (stampHook) ComputeRows(_ context.Context, _ HookScope, rows []HookRow) ([]any, error) {
	computed := make([]any, 0, len(rows))
	for _, row := range rows {
		data := row.Value.Interface().(map[string]any)
		data["label"] = row.RowID + ":" + data["title"].(string)
		computed = append(computed, data)
	}
	return computed, nil
}

func TestHooksShapePersistedAndComputedData(t *testing.T) {
	fixture := mustService(t, stampHook{})
	ctx := context.Background()

	fixture.mustCreateTable(t, "products", productsSchema)
	created := fixture.mustCreateRow(t, "products", "p1", map[string]any{"title": "phone", "price": 1})

	stored, err := created.Row.DecodeData()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"title": "PHONE", "price": float64(1)}, stored); diff != "" {
		t.Fatalf("unexpected stored data (-want +got):\n%s", diff)
	}

	rows, err := fixture.service.ListRows(ctx, fixture.draftID(), "products")
	if err != nil {
		t.Fatalf("list rows failed: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"title": "PHONE", "price": float64(1), "label": "p1:PHONE"}, rows[0].Data); diff != "" {
		t.Fatalf("unexpected computed data (-want +got):\n%s", diff)
	}
	persisted, err := rows[0].Row.DecodeData()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, ok := persisted.(map[string]any)["label"]; ok {
		t.Fatalf("computed fields must not be persisted")
	}
}

func TestRevisionLocksSerializeWriters(t *testing.T) {
	locks := newRevisionLocks()
	var (
		wg      sync.WaitGroup
		active  int
		maximum int
		mu      sync.Mutex
	)
	for index := 0; index < 8; index++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.acquire("draft-1")
			defer release()
			mu.Lock()
			active++
			if active > maximum {
				maximum = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maximum != 1 {
		t.Fatalf("expected one writer at a time, saw %d", maximum)
	}
	if len(locks.entries) != 0 {
		t.Fatalf("expected released locks to be dropped")
	}
}
