package revisions

import (
	"time"

	"gorm.io/datatypes"
)

const (
	// SchemaTableID holds one row per table: data is the JSON Schema, meta the migration history.
	SchemaTableID = "__schema"
	// MigrationTableID holds the append-only schema migration ledger.
	MigrationTableID = "__migration"
	// ViewsTableID holds one views document per table.
	ViewsTableID = "__views"
)

// SystemTableIDs lists the built-in tables created with every root branch.
var SystemTableIDs = []string{SchemaTableID, MigrationTableID, ViewsTableID}

// Branch is a named lineage with one head revision and at most one draft revision.
type Branch struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	Name      string    `gorm:"column:name;size:190;not null;uniqueIndex"`
	IsRoot    bool      `gorm:"column:is_root;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Branch) TableName() string {
	return "branches"
}

// Revision is a snapshot of table versions. The draft revision of a branch is the only one
// that accepts mutations.
type Revision struct {
	ID         string    `gorm:"column:id;primaryKey;size:64;not null"`
	BranchID   string    `gorm:"column:branch_id;size:64;not null;index:idx_revisions_branch,priority:1"`
	ParentID   *string   `gorm:"column:parent_id;size:64"`
	Sequence   int64     `gorm:"column:sequence;not null;index:idx_revisions_branch,priority:2"`
	IsHead     bool      `gorm:"column:is_head;not null"`
	IsDraft    bool      `gorm:"column:is_draft;not null"`
	IsStart    bool      `gorm:"column:is_start;not null"`
	HasChanges bool      `gorm:"column:has_changes;not null"`
	Comment    string    `gorm:"column:comment;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Revision) TableName() string {
	return "revisions"
}

// Table is one content-state of a table. ID is the renameable display id, CreatedID the lineage
// key that survives renames and VersionID the join key to revisions.
type Table struct {
	VersionID  string    `gorm:"column:version_id;primaryKey;size:64;not null"`
	ID         string    `gorm:"column:id;size:64;not null;index"`
	CreatedID  string    `gorm:"column:created_id;size:64;not null;index"`
	Readonly   bool      `gorm:"column:readonly;not null"`
	System     bool      `gorm:"column:system;not null"`
	SchemaHash string    `gorm:"column:schema_hash;size:64;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Table) TableName() string {
	return "table_versions"
}

// RevisionTable connects a revision to a table version. Two revisions sharing a row here share
// the table version and all of its rows.
type RevisionTable struct {
	RevisionID     string `gorm:"column:revision_id;primaryKey;size:64;not null"`
	TableVersionID string `gorm:"column:table_version_id;primaryKey;size:64;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (RevisionTable) TableName() string {
	return "revision_tables"
}

// Row is one content-state of a row.
type Row struct {
	VersionID   string         `gorm:"column:version_id;primaryKey;size:64;not null"`
	ID          string         `gorm:"column:id;size:190;not null;index"`
	CreatedID   string         `gorm:"column:created_id;size:64;not null;index"`
	Data        datatypes.JSON `gorm:"column:data;not null"`
	Hash        string         `gorm:"column:hash;size:64;not null"`
	SchemaHash  string         `gorm:"column:schema_hash;size:64;not null"`
	Meta        datatypes.JSON `gorm:"column:meta"`
	Readonly    bool           `gorm:"column:readonly;not null"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null"`
	PublishedAt time.Time      `gorm:"column:published_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Row) TableName() string {
	return "row_versions"
}

// TableRow connects a table version to a row version.
type TableRow struct {
	TableVersionID string `gorm:"column:table_version_id;primaryKey;size:64;not null"`
	RowVersionID   string `gorm:"column:row_version_id;primaryKey;size:64;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (TableRow) TableName() string {
	return "table_rows"
}

// Models lists every persisted type of the package for AutoMigrate.
func Models() []any {
	return []any{&Branch{}, &Revision{}, &Table{}, &RevisionTable{}, &Row{}, &TableRow{}, &Changelog{}}
}
