package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/drafts"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/views"
)

type createBranchRequestPayload struct {
	Name           string `json:"name"`
	FromRevisionID string `json:"fromRevisionId"`
}

type commitRequestPayload struct {
	Comment string `json:"comment"`
}

type createTableRequestPayload struct {
	TableID string `json:"tableId"`
	Schema  any    `json:"schema"`
}

type updateTableRequestPayload struct {
	Patches schema.Patch `json:"patches"`
}

type renameTableRequestPayload struct {
	NextTableID string `json:"nextTableId"`
}

type createRowRequestPayload struct {
	RowID string `json:"rowId"`
	Data  any    `json:"data"`
}

type updateRowRequestPayload struct {
	Data any `json:"data"`
}

type renameRowRequestPayload struct {
	NextRowID string `json:"nextRowId"`
}

type removeRowsRequestPayload struct {
	RowIDs []string `json:"rowIds"`
}

type validateRequestPayload struct {
	Rows []drafts.RowInput `json:"rows"`
}

type revisionPayload struct {
	ID         string    `json:"id"`
	BranchID   string    `json:"branchId"`
	ParentID   string    `json:"parentId,omitempty"`
	Sequence   int64     `json:"sequence"`
	IsHead     bool      `json:"isHead"`
	IsDraft    bool      `json:"isDraft"`
	IsStart    bool      `json:"isStart"`
	HasChanges bool      `json:"hasChanges"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"createdAt"`
}

type branchPayload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	IsRoot    bool            `json:"isRoot"`
	CreatedAt time.Time       `json:"createdAt"`
	Head      revisionPayload `json:"head"`
	Draft     revisionPayload `json:"draft"`
}

type commitResponsePayload struct {
	Committed revisionPayload `json:"committed"`
	Draft     revisionPayload `json:"draft"`
}

type tablePayload struct {
	ID         string    `json:"id"`
	CreatedID  string    `json:"createdId"`
	VersionID  string    `json:"versionId"`
	Readonly   bool      `json:"readonly"`
	SchemaHash string    `json:"schemaHash"`
	Schema     any       `json:"schema,omitempty"`
	RowCount   *int64    `json:"rowCount,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type tableMutationPayload struct {
	Table             tablePayload `json:"table"`
	PreviousVersionID string       `json:"previousVersionId,omitempty"`
	PreviousTableID   string       `json:"previousTableId,omitempty"`
}

type rowPayload struct {
	ID          string    `json:"id"`
	CreatedID   string    `json:"createdId"`
	VersionID   string    `json:"versionId"`
	Hash        string    `json:"hash"`
	SchemaHash  string    `json:"schemaHash"`
	Readonly    bool      `json:"readonly"`
	Data        any       `json:"data"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	PublishedAt time.Time `json:"publishedAt"`
}

type rowMutationPayload struct {
	Row                    rowPayload `json:"row"`
	TableVersionID         string     `json:"tableVersionId"`
	PreviousTableVersionID string     `json:"previousTableVersionId,omitempty"`
	PreviousVersionID      string     `json:"previousVersionId,omitempty"`
	PreviousRowID          string     `json:"previousRowId,omitempty"`
}

type migrationsResponsePayload struct {
	Migrations []migrations.Migration `json:"migrations"`
}

type viewsResponsePayload struct {
	TableID string         `json:"tableId"`
	Views   views.Document `json:"views"`
}

func newRevisionPayload(revision revisions.Revision) revisionPayload {
	payload := revisionPayload{
		ID:         revision.ID,
		BranchID:   revision.BranchID,
		Sequence:   revision.Sequence,
		IsHead:     revision.IsHead,
		IsDraft:    revision.IsDraft,
		IsStart:    revision.IsStart,
		HasChanges: revision.HasChanges,
		Comment:    revision.Comment,
		CreatedAt:  revision.CreatedAt,
	}
	if revision.ParentID != nil {
		payload.ParentID = *revision.ParentID
	}
	return payload
}

func newBranchPayload(state revisions.BranchState) branchPayload {
	return branchPayload{
		ID:        state.Branch.ID,
		Name:      state.Branch.Name,
		IsRoot:    state.Branch.IsRoot,
		CreatedAt: state.Branch.CreatedAt,
		Head:      newRevisionPayload(state.Head),
		Draft:     newRevisionPayload(state.Draft),
	}
}

func newTablePayload(table revisions.Table, record migrations.SchemaRecord) tablePayload {
	return tablePayload{
		ID:         table.ID,
		CreatedID:  table.CreatedID,
		VersionID:  table.VersionID,
		Readonly:   table.Readonly,
		SchemaHash: table.SchemaHash,
		Schema:     record.Document,
		CreatedAt:  table.CreatedAt,
		UpdatedAt:  table.UpdatedAt,
	}
}

func newTableInfoPayload(info drafts.TableInfo) tablePayload {
	payload := newTablePayload(info.Table, info.Schema)
	count := info.RowCount
	payload.RowCount = &count
	return payload
}

func newTableMutationPayload(result drafts.TableResult) tableMutationPayload {
	return tableMutationPayload{
		Table:             newTablePayload(result.Table, result.Schema),
		PreviousVersionID: result.PreviousVersionID,
		PreviousTableID:   result.PreviousTableID,
	}
}

func newRowPayload(row revisions.Row, data any) rowPayload {
	return rowPayload{
		ID:          row.ID,
		CreatedID:   row.CreatedID,
		VersionID:   row.VersionID,
		Hash:        row.Hash,
		SchemaHash:  row.SchemaHash,
		Readonly:    row.Readonly,
		Data:        data,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		PublishedAt: row.PublishedAt,
	}
}

func newRowMutationPayload(result drafts.RowResult) (rowMutationPayload, error) {
	data, err := result.Row.DecodeData()
	if err != nil {
		return rowMutationPayload{}, err
	}
	return rowMutationPayload{
		Row:                    newRowPayload(result.Row, data),
		TableVersionID:         result.TableVersionID,
		PreviousTableVersionID: result.PreviousTableVersionID,
		PreviousVersionID:      result.PreviousVersionID,
		PreviousRowID:          result.PreviousRowID,
	}, nil
}
