package diff

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/views"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChangeType classifies a table or row between two revisions.
type ChangeType string

const (
	ChangeAdded              ChangeType = "ADDED"
	ChangeRemoved            ChangeType = "REMOVED"
	ChangeRenamed            ChangeType = "RENAMED"
	ChangeModified           ChangeType = "MODIFIED"
	ChangeRenamedAndModified ChangeType = "RENAMED_AND_MODIFIED"
)

// ParseChangeType accepts the upper-case names used on the wire.
func ParseChangeType(raw string) (ChangeType, error) {
	switch ChangeType(raw) {
	case ChangeAdded, ChangeRemoved, ChangeRenamed, ChangeModified, ChangeRenamedAndModified:
		return ChangeType(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown change type %q", ErrInvalidFilter, raw)
	}
}

func classify(renamed, modified bool) ChangeType {
	switch {
	case renamed && modified:
		return ChangeRenamedAndModified
	case renamed:
		return ChangeRenamed
	default:
		return ChangeModified
	}
}

var (
	// ErrInvalidFilter indicates an unknown change type or source in a query.
	ErrInvalidFilter = errors.New("diff: invalid filter")
	errMissingDeps   = errors.New("diff: database, store, migrations and views are required")
)

type EngineConfig struct {
	Database   *gorm.DB
	Store      *revisions.Store
	Migrations *migrations.Log
	Views      *views.Repository
	Logger     *zap.Logger
}

// Engine computes paginated table, row and views changes between two revisions. It only reads.
type Engine struct {
	db         *gorm.DB
	store      *revisions.Store
	migrations *migrations.Log
	views      *views.Repository
	logger     *zap.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil || cfg.Store == nil || cfg.Migrations == nil || cfg.Views == nil {
		return nil, errMissingDeps
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:         cfg.Database,
		store:      cfg.Store,
		migrations: cfg.Migrations,
		views:      cfg.Views,
		logger:     logger,
	}, nil
}

// snapshot is the table set of one side of a comparison. The empty snapshot stands for the state
// before the first revision.
type snapshot struct {
	revisionID string
	tables     map[string]revisions.Table
	byID       map[string]revisions.Table
	order      []string
	viewsTable *revisions.Table
	migrations map[string]struct{}
}

func emptySnapshot() snapshot {
	return snapshot{
		tables:     map[string]revisions.Table{},
		byID:       map[string]revisions.Table{},
		migrations: map[string]struct{}{},
	}
}

func (e *Engine) loadSnapshot(tx *gorm.DB, revisionID string) (snapshot, error) {
	state := emptySnapshot()
	state.revisionID = revisionID
	tables, err := e.store.Tables(tx, revisionID)
	if err != nil {
		return snapshot{}, err
	}
	for _, table := range tables {
		if table.System {
			if table.ID == revisions.ViewsTableID {
				viewsTable := table
				state.viewsTable = &viewsTable
			}
			continue
		}
		state.tables[table.CreatedID] = table
		state.byID[table.ID] = table
		state.order = append(state.order, table.CreatedID)
	}
	recorded, err := e.migrations.ListMigrations(tx, revisionID)
	if err != nil {
		return snapshot{}, err
	}
	for _, migration := range recorded {
		state.migrations[migration.VersionID] = struct{}{}
	}
	return state, nil
}

func (e *Engine) viewsOf(tx *gorm.DB, state snapshot, tableID string) (views.Document, error) {
	if state.viewsTable == nil {
		return views.Document{}, nil
	}
	document, _, err := e.views.GetInTableVersion(tx, *state.viewsTable, tableID)
	return document, err
}

// comparison holds both sides: target is the requested revision, base the compare point.
type comparison struct {
	target    snapshot
	base      snapshot
	targetLog []migrations.Migration
}

// compareRevisionID picks the default compare point: a draft compares with its branch head, a
// committed revision with its parent and a start revision with the empty state.
func (e *Engine) compareRevisionID(tx *gorm.DB, revision revisions.Revision, compareWith string) (string, error) {
	if compareWith != "" {
		if _, err := e.store.Revision(tx, compareWith); err != nil {
			return "", err
		}
		return compareWith, nil
	}
	if revision.IsDraft {
		state, err := e.branchState(tx, revision.BranchID)
		if err != nil {
			return "", err
		}
		return state.Head.ID, nil
	}
	if revision.IsStart || revision.ParentID == nil {
		return "", nil
	}
	return *revision.ParentID, nil
}

func (e *Engine) branchState(tx *gorm.DB, branchID string) (revisions.BranchState, error) {
	branch, err := e.store.FindBranchByID(tx, branchID)
	if err != nil {
		return revisions.BranchState{}, err
	}
	return e.store.State(tx, branch)
}

func (e *Engine) compare(tx *gorm.DB, revisionID, compareWith string) (comparison, error) {
	revision, err := e.store.Revision(tx, revisionID)
	if err != nil {
		return comparison{}, err
	}
	baseID, err := e.compareRevisionID(tx, revision, compareWith)
	if err != nil {
		return comparison{}, err
	}
	target, err := e.loadSnapshot(tx, revision.ID)
	if err != nil {
		return comparison{}, err
	}
	base := emptySnapshot()
	if baseID != "" {
		base, err = e.loadSnapshot(tx, baseID)
		if err != nil {
			return comparison{}, err
		}
	}
	targetLog, err := e.migrations.ListMigrations(tx, revision.ID)
	if err != nil {
		return comparison{}, err
	}
	return comparison{target: target, base: base, targetLog: targetLog}, nil
}

// tablePair is one table lineage on both sides; a nil side is absent.
type tablePair struct {
	createdID string
	base      *revisions.Table
	target    *revisions.Table
}

func (p tablePair) changed() bool {
	if p.base == nil || p.target == nil {
		return true
	}
	return p.base.VersionID != p.target.VersionID
}

func (p tablePair) oldID() string {
	if p.base == nil {
		return ""
	}
	return p.base.ID
}

func (p tablePair) newID() string {
	if p.target == nil {
		return ""
	}
	return p.target.ID
}

// pairs lists every user table lineage present on either side, sorted by lineage id.
func (c comparison) pairs() []tablePair {
	seen := make(map[string]struct{}, len(c.target.tables)+len(c.base.tables))
	var createdIDs []string
	for _, createdID := range c.base.order {
		seen[createdID] = struct{}{}
		createdIDs = append(createdIDs, createdID)
	}
	for _, createdID := range c.target.order {
		if _, ok := seen[createdID]; !ok {
			createdIDs = append(createdIDs, createdID)
		}
	}
	sort.Strings(createdIDs)
	result := make([]tablePair, 0, len(createdIDs))
	for _, createdID := range createdIDs {
		pair := tablePair{createdID: createdID}
		if table, ok := c.base.tables[createdID]; ok {
			pair.base = &table
		}
		if table, ok := c.target.tables[createdID]; ok {
			pair.target = &table
		}
		result = append(result, pair)
	}
	return result
}

// pairByID resolves a table id in the target first and falls back to the compare point so
// removed tables can still be inspected.
func (c comparison) pairByID(tableID string) (tablePair, error) {
	if table, ok := c.target.byID[tableID]; ok {
		pair := tablePair{createdID: table.CreatedID, target: &table}
		if base, ok := c.base.tables[table.CreatedID]; ok {
			pair.base = &base
		}
		return pair, nil
	}
	if table, ok := c.base.byID[tableID]; ok {
		if _, kept := c.target.tables[table.CreatedID]; !kept {
			return tablePair{createdID: table.CreatedID, base: &table}, nil
		}
	}
	return tablePair{}, fmt.Errorf("%w: %s", revisions.ErrTableNotFound, tableID)
}

// read runs fn in one transaction so both sides are read from the same snapshot.
func (e *Engine) read(ctx context.Context, operation string, fn func(tx *gorm.DB) error, fields ...zap.Field) error {
	if err := e.db.WithContext(ctx).Transaction(fn); err != nil {
		e.logger.Error("diff failure", append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)...)
		return err
	}
	return nil
}
