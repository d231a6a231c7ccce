package diff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/drafts"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/views"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gorm.io/gorm"
)

const (
	versionSchema  = `{"type":"object","properties":{"ver":{"type":"number","default":0}}}`
	productsSchema = `{"type":"object","properties":{"title":{"type":"string","default":""}}}`
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

type diffFixture struct {
	service *drafts.Service
	engine  *Engine
	branch  string
}

func mustDiffFixture(t *testing.T) *diffFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:diff_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(revisions.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	tick := time.Unix(1700000000, 0)
	service, err := drafts.NewService(drafts.ServiceConfig{
		Database:   db,
		IDProvider: &sequentialIDs{},
		Clock: func() time.Time {
			tick = tick.Add(time.Second)
			return tick
		},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	engine, err := NewEngine(EngineConfig{
		Database:   db,
		Store:      service.Store(),
		Migrations: service.Migrations(),
		Views:      service.Views(),
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	if _, err := service.InitRootBranch(context.Background(), "master"); err != nil {
		t.Fatalf("init root branch failed: %v", err)
	}
	return &diffFixture{service: service, engine: engine, branch: "master"}
}

func (f *diffFixture) state(t *testing.T) revisions.BranchState {
	t.Helper()
	state, err := f.service.GetBranch(context.Background(), f.branch)
	if err != nil {
		t.Fatalf("get branch failed: %v", err)
	}
	return state
}

func (f *diffFixture) mustCreateTable(t *testing.T, tableID, raw string) {
	t.Helper()
	document, err := schema.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, err := f.service.CreateTable(context.Background(), f.state(t).Draft.ID, tableID, document); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
}

func (f *diffFixture) mustCreateRow(t *testing.T, tableID, rowID string, data map[string]any) {
	t.Helper()
	if _, err := f.service.CreateRow(context.Background(), f.state(t).Draft.ID, tableID, rowID, data); err != nil {
		t.Fatalf("create row failed: %v", err)
	}
}

func (f *diffFixture) mustCommit(t *testing.T) drafts.CommitResult {
	t.Helper()
	result, err := f.service.Commit(context.Background(), f.state(t).Draft.ID, "commit")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	return result
}

func (f *diffFixture) mustTableChanges(t *testing.T, query TableChangesQuery) Connection[TableChange] {
	t.Helper()
	connection, err := f.engine.GetTableChanges(context.Background(), query)
	if err != nil {
		t.Fatalf("table changes failed: %v", err)
	}
	return connection
}

func (f *diffFixture) mustRowChanges(t *testing.T, query RowChangesQuery) Connection[RowChange] {
	t.Helper()
	connection, err := f.engine.GetRowChanges(context.Background(), query)
	if err != nil {
		t.Fatalf("row changes failed: %v", err)
	}
	return connection
}

func TestDraftAgainstHeadReportsAddedTableAndRow(t *testing.T) {
	fixture := mustDiffFixture(t)
	fixture.mustCreateTable(t, "t1", versionSchema)
	fixture.mustCreateRow(t, "t1", "r1", map[string]any{"ver": 1})
	draftID := fixture.state(t).Draft.ID

	tables := fixture.mustTableChanges(t, TableChangesQuery{RevisionID: draftID})
	if tables.TotalCount != 1 {
		t.Fatalf("expected one table change, got %d", tables.TotalCount)
	}
	table := tables.Edges[0].Node
	if table.ChangeType != ChangeAdded || table.NewTableID != "t1" || table.AddedRowsCount != 1 || table.RowChangesCount != 1 {
		t.Fatalf("unexpected table change: %+v", table)
	}
	if len(table.Migrations) != 1 || table.Migrations[0].ChangeType != migrations.ChangeInit {
		t.Fatalf("expected the init migration, got %+v", table.Migrations)
	}

	rows := fixture.mustRowChanges(t, RowChangesQuery{RevisionID: draftID})
	expected := []RowChange{{
		TableID:    "t1",
		ChangeType: ChangeAdded,
		NewRowID:   "r1",
		NewData:    map[string]any{"ver": float64(1)},
		Sources:    []Source{SourceData},
		FieldChanges: []FieldChange{
			{Path: "/ver", ChangeType: FieldAdded, NewValue: float64(1)},
		},
	}}
	ignored := cmpopts.IgnoreFields(RowChange{}, "TableCreatedID", "RowCreatedID", "NewVersionID")
	if diff := cmp.Diff(expected, rows.Nodes(), ignored); diff != "" {
		t.Fatalf("unexpected row changes (-want +got):\n%s", diff)
	}
}

func TestRenamedTableIsClassifiedAsRenamed(t *testing.T) {
	fixture := mustDiffFixture(t)
	fixture.mustCreateTable(t, "products", productsSchema)
	fixture.mustCreateRow(t, "products", "p1", map[string]any{"title": "Phone"})
	fixture.mustCommit(t)

	draftID := fixture.state(t).Draft.ID
	if _, err := fixture.service.RenameTable(context.Background(), draftID, "products", "items"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	tables := fixture.mustTableChanges(t, TableChangesQuery{RevisionID: draftID})
	if tables.TotalCount != 1 {
		t.Fatalf("expected one table change, got %d", tables.TotalCount)
	}
	table := tables.Edges[0].Node
	if table.ChangeType != ChangeRenamed || table.OldTableID != "products" || table.NewTableID != "items" {
		t.Fatalf("unexpected table change: %+v", table)
	}
	if table.RowChangesCount != 0 || len(table.ViewsChanges) != 0 {
		t.Fatalf("expected rename without content changes: %+v", table)
	}
	if len(table.Migrations) != 1 || table.Migrations[0].ChangeType != migrations.ChangeRename {
		t.Fatalf("expected only the rename migration, got %+v", table.Migrations)
	}

	rows := fixture.mustRowChanges(t, RowChangesQuery{RevisionID: draftID})
	if rows.TotalCount != 0 {
		t.Fatalf("expected no row changes, got %+v", rows.Nodes())
	}
}

func TestRowChangesClassifyAndFilter(t *testing.T) {
	fixture := mustDiffFixture(t)
	ctx := context.Background()
	fixture.mustCreateTable(t, "t1", versionSchema)
	fixture.mustCreateRow(t, "t1", "keep", map[string]any{"ver": 1})
	fixture.mustCreateRow(t, "t1", "edit", map[string]any{"ver": 1})
	fixture.mustCreateRow(t, "t1", "move", map[string]any{"ver": 1})
	fixture.mustCreateRow(t, "t1", "both", map[string]any{"ver": 1})
	fixture.mustCreateRow(t, "t1", "drop", map[string]any{"ver": 1})
	fixture.mustCommit(t)

	draftID := fixture.state(t).Draft.ID
	if _, err := fixture.service.UpdateRow(ctx, draftID, "t1", "edit", map[string]any{"ver": 2}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := fixture.service.RenameRow(ctx, draftID, "t1", "move", "moved"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if _, err := fixture.service.UpdateRow(ctx, draftID, "t1", "both", map[string]any{"ver": 3}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := fixture.service.RenameRow(ctx, draftID, "t1", "both", "both2"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if _, err := fixture.service.RemoveRow(ctx, draftID, "t1", "drop"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	fixture.mustCreateRow(t, "t1", "new", map[string]any{"ver": 9})

	rows := fixture.mustRowChanges(t, RowChangesQuery{RevisionID: draftID, Filter: RowFilter{TableID: "t1"}})
	classified := map[string]ChangeType{}
	for _, change := range rows.Nodes() {
		name := change.NewRowID
		if name == "" {
			name = change.OldRowID
		}
		classified[name] = change.ChangeType
	}
	expected := map[string]ChangeType{
		"edit":  ChangeModified,
		"moved": ChangeRenamed,
		"both2": ChangeRenamedAndModified,
		"drop":  ChangeRemoved,
		"new":   ChangeAdded,
	}
	if diff := cmp.Diff(expected, classified); diff != "" {
		t.Fatalf("unexpected classification (-want +got):\n%s", diff)
	}

	renames := fixture.mustRowChanges(t, RowChangesQuery{RevisionID: draftID, Filter: RowFilter{Sources: []Source{SourceRename}}})
	if renames.TotalCount != 2 {
		t.Fatalf("expected two renamed rows, got %d", renames.TotalCount)
	}
	searched := fixture.mustRowChanges(t, RowChangesQuery{RevisionID: draftID, Filter: RowFilter{Search: "NEW"}})
	if searched.TotalCount != 1 || searched.Edges[0].Node.NewRowID != "new" {
		t.Fatalf("unexpected search result: %+v", searched.Nodes())
	}
	removed := fixture.mustRowChanges(t, RowChangesQuery{RevisionID: draftID, Filter: RowFilter{ChangeTypes: []ChangeType{ChangeRemoved}}})
	if removed.TotalCount != 1 || removed.Edges[0].Node.OldRowID != "drop" {
		t.Fatalf("unexpected removed rows: %+v", removed.Nodes())
	}

	tables := fixture.mustTableChanges(t, TableChangesQuery{RevisionID: draftID})
	table := tables.Edges[0].Node
	counts := []int{table.RowChangesCount, table.AddedRowsCount, table.ModifiedRowsCount, table.RemovedRowsCount, table.RenamedRowsCount}
	if diff := cmp.Diff([]int{5, 1, 2, 1, 2}, counts); diff != "" {
		t.Fatalf("unexpected row counts (-want +got):\n%s", diff)
	}
	if table.ChangeType != ChangeModified {
		t.Fatalf("expected modified table, got %s", table.ChangeType)
	}
}

func TestSchemaChangeMarksRowsAffectedBySchema(t *testing.T) {
	fixture := mustDiffFixture(t)
	ctx := context.Background()
	fixture.mustCreateTable(t, "t1", versionSchema)
	fixture.mustCreateRow(t, "t1", "r1", map[string]any{"ver": 1})
	fixture.mustCommit(t)

	draftID := fixture.state(t).Draft.ID
	_, err := fixture.service.UpdateTable(ctx, draftID, "t1", schema.Patch{
		{Op: schema.OpReplace, Path: "/properties/ver", Value: map[string]any{"type": "number", "default": 0, "minimum": 0}},
	})
	if err != nil {
		t.Fatalf("update table failed: %v", err)
	}

	rows := fixture.mustRowChanges(t, RowChangesQuery{RevisionID: draftID, Filter: RowFilter{AffectedBySchema: true}})
	if rows.TotalCount != 1 {
		t.Fatalf("expected one row affected by schema, got %d", rows.TotalCount)
	}
	change := rows.Edges[0].Node
	if diff := cmp.Diff([]Source{SourceSchema}, change.Sources); diff != "" {
		t.Fatalf("unexpected sources (-want +got):\n%s", diff)
	}
	if change.ChangeType != ChangeModified || len(change.FieldChanges) != 0 {
		t.Fatalf("expected schema-only modification, got %+v", change)
	}

	tables := fixture.mustTableChanges(t, TableChangesQuery{RevisionID: draftID})
	if !tables.Edges[0].Node.SchemaChanged {
		t.Fatalf("expected schema change to be reported")
	}
}

func TestCommittedRevisionComparesWithParent(t *testing.T) {
	fixture := mustDiffFixture(t)
	fixture.mustCreateTable(t, "t1", versionSchema)
	first := fixture.mustCommit(t)
	fixture.mustCreateTable(t, "t2", versionSchema)
	second := fixture.mustCommit(t)

	tables := fixture.mustTableChanges(t, TableChangesQuery{RevisionID: second.Committed.ID})
	if tables.TotalCount != 1 || tables.Edges[0].Node.NewTableID != "t2" {
		t.Fatalf("expected only t2 against the parent, got %+v", tables.Nodes())
	}

	explicit := fixture.mustTableChanges(t, TableChangesQuery{RevisionID: second.Committed.ID, CompareWithRevisionID: first.Committed.ID})
	if explicit.TotalCount != 1 {
		t.Fatalf("expected explicit compare point to match the parent, got %d", explicit.TotalCount)
	}

	empty := fixture.mustTableChanges(t, TableChangesQuery{RevisionID: second.Draft.ID})
	if empty.TotalCount != 0 {
		t.Fatalf("expected fresh draft to match its head, got %+v", empty.Nodes())
	}

	if _, err := fixture.engine.GetTableChanges(context.Background(), TableChangesQuery{RevisionID: "missing"}); !errors.Is(err, revisions.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestViewsChangesAreDiffedByViewID(t *testing.T) {
	fixture := mustDiffFixture(t)
	ctx := context.Background()
	fixture.mustCreateTable(t, "products", productsSchema)
	draftID := fixture.state(t).Draft.ID
	document := views.Document{
		Version:       1,
		DefaultViewID: "all",
		Views: []views.View{
			{ID: "all", Name: "All"},
			{ID: "cheap", Name: "Cheap", Sorts: []views.Sort{{Field: "data.title", Direction: "asc"}}},
		},
	}
	if _, err := fixture.service.UpdateViews(ctx, draftID, "products", document); err != nil {
		t.Fatalf("update views failed: %v", err)
	}
	fixture.mustCommit(t)

	draftID = fixture.state(t).Draft.ID
	document.Views[0].Name = "Everything"
	document.Views[1].Sorts[0].Direction = "desc"
	document.Views = append(document.Views, views.View{ID: "recent", Name: "Recent"})
	if _, err := fixture.service.UpdateViews(ctx, draftID, "products", document); err != nil {
		t.Fatalf("update views failed: %v", err)
	}

	connection, err := fixture.engine.GetViewsChanges(ctx, ViewsChangesQuery{RevisionID: draftID, TableID: "products"})
	if err != nil {
		t.Fatalf("views changes failed: %v", err)
	}
	expected := []views.Change{
		{ViewID: "all", ChangeType: views.ChangeRenamed, OldName: "All", NewName: "Everything"},
		{ViewID: "cheap", ChangeType: views.ChangeModified, OldName: "Cheap", NewName: "Cheap"},
		{ViewID: "recent", ChangeType: views.ChangeAdded, NewName: "Recent"},
	}
	if diff := cmp.Diff(expected, connection.Nodes(), cmpopts.IgnoreFields(views.Change{}, "Position")); diff != "" {
		t.Fatalf("unexpected views changes (-want +got):\n%s", diff)
	}
}

func TestFieldChangesDetectMoves(t *testing.T) {
	previous := map[string]any{
		"name": "a",
		"tags": []any{"x", "y", "z"},
		"gone": true,
	}
	next := map[string]any{
		"name":  "b",
		"tags":  []any{"z", "x", "y"},
		"added": 1.0,
	}
	changes := FieldChanges(previous, next)

	var fields, tags []FieldChange
	for _, change := range changes {
		if strings.HasPrefix(change.Path, "/tags/") {
			tags = append(tags, change)
			continue
		}
		fields = append(fields, change)
	}
	expected := []FieldChange{
		{Path: "/added", ChangeType: FieldAdded, NewValue: 1.0},
		{Path: "/gone", ChangeType: FieldRemoved, OldValue: true},
		{Path: "/name", ChangeType: FieldModified, OldValue: "a", NewValue: "b"},
	}
	if diff := cmp.Diff(expected, fields); diff != "" {
		t.Fatalf("unexpected field changes (-want +got):\n%s", diff)
	}
	if len(tags) != 1 {
		t.Fatalf("expected the reorder to be a single move, got %+v", tags)
	}
	moved := tags[0]
	if moved.ChangeType != FieldMoved || moved.NewValue != "z" || !strings.HasPrefix(moved.FromPath, "/tags/") {
		t.Fatalf("unexpected move: %+v", moved)
	}
}

func TestFieldChangesOfIdenticalPayloadsAreEmpty(t *testing.T) {
	payload := map[string]any{"title": "Phone", "tags": []any{"a", "b"}, "nested": map[string]any{"n": 1.0}}
	if changes := FieldChanges(payload, schema.Clone(payload)); len(changes) != 0 {
		t.Fatalf("expected no changes, got %+v", changes)
	}
	changes := FieldChanges(nil, map[string]any{"title": "Phone"})
	expected := []FieldChange{{Path: "/title", ChangeType: FieldAdded, NewValue: "Phone"}}
	if diff := cmp.Diff(expected, changes); diff != "" {
		t.Fatalf("unexpected changes for an added row (-want +got):\n%s", diff)
	}
}

func TestPaginateWalksPagesWithCursors(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	identity := func(item string) string { return item }

	first, err := paginate(items, identity, Page{First: 2})
	if err != nil {
		t.Fatalf("paginate failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, first.Nodes()); diff != "" {
		t.Fatalf("unexpected first page (-want +got):\n%s", diff)
	}
	if !first.PageInfo.HasNextPage || first.PageInfo.HasPreviousPage || first.TotalCount != 5 {
		t.Fatalf("unexpected first page info: %+v total %d", first.PageInfo, first.TotalCount)
	}

	second, err := paginate(items, identity, Page{First: 2, After: first.PageInfo.EndCursor})
	if err != nil {
		t.Fatalf("paginate failed: %v", err)
	}
	if diff := cmp.Diff([]string{"c", "d"}, second.Nodes()); diff != "" {
		t.Fatalf("unexpected second page (-want +got):\n%s", diff)
	}
	if !second.PageInfo.HasNextPage || !second.PageInfo.HasPreviousPage {
		t.Fatalf("unexpected second page info: %+v", second.PageInfo)
	}

	last, err := paginate(items, identity, Page{After: second.PageInfo.EndCursor})
	if err != nil {
		t.Fatalf("paginate failed: %v", err)
	}
	if diff := cmp.Diff([]string{"e"}, last.Nodes()); diff != "" || last.PageInfo.HasNextPage {
		t.Fatalf("unexpected last page %v (%s)", last.Nodes(), diff)
	}

	if _, err := paginate(items, identity, Page{After: "!!"}); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected invalid cursor, got %v", err)
	}
	if _, err := paginate(items, identity, Page{First: -1}); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected invalid page, got %v", err)
	}

	many := make([]string, 1500)
	for index := range many {
		many[index] = fmt.Sprintf("%05d", index)
	}
	capped, err := paginate(many, identity, Page{First: 5000})
	if err != nil {
		t.Fatalf("paginate failed: %v", err)
	}
	if len(capped.Edges) != maxPageSize || !capped.PageInfo.HasNextPage {
		t.Fatalf("expected page to be capped at %d, got %d", maxPageSize, len(capped.Edges))
	}
}
