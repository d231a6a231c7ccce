package events

import "time"

// Type names a domain event emitted after a successful mutation.
type Type string

const (
	TypeRowCreated         Type = "RowCreated"
	TypeRowUpdated         Type = "RowUpdated"
	TypeRowDeleted         Type = "RowDeleted"
	TypeRowRenamed         Type = "RowRenamed"
	TypeTableCreated       Type = "TableCreated"
	TypeTableSchemaUpdated Type = "TableSchemaUpdated"
	TypeTableDeleted       Type = "TableDeleted"
	TypeTableRenamed       Type = "TableRenamed"
	TypeViewsUpdated       Type = "ViewsUpdated"
	TypeRevisionCommitted  Type = "RevisionCommitted"
	TypeRevisionReverted   Type = "RevisionReverted"
)

// Event describes one committed mutation. Ids are logical ids; version ids identify the
// content-states before and after the mutation.
type Event struct {
	Type               Type      `json:"type"`
	BranchID           string    `json:"branchId"`
	RevisionID         string    `json:"revisionId"`
	TableID            string    `json:"tableId,omitempty"`
	PreviousTableID    string    `json:"previousTableId,omitempty"`
	RowIDs             []string  `json:"rowIds,omitempty"`
	PreviousRowID      string    `json:"previousRowId,omitempty"`
	TableVersionID     string    `json:"tableVersionId,omitempty"`
	PreviousVersionIDs []string  `json:"previousVersionIds,omitempty"`
	VersionIDs         []string  `json:"versionIds,omitempty"`
	NextRevisionID     string    `json:"nextRevisionId,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}
