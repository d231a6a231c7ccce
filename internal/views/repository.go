package views

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"gorm.io/gorm"
)

// Repository stores views documents in the views system table, one row per table id.
type Repository struct {
	store *revisions.Store
}

// NewRepository constructs a Repository.
func NewRepository(store *revisions.Store) *Repository {
	return &Repository{store: store}
}

// Get returns the stored document of a table and whether one exists. Missing documents yield the
// default document.
func (r *Repository) Get(tx *gorm.DB, revisionID, tableID string) (Document, bool, error) {
	viewsTable, err := r.store.FindTable(tx, revisionID, revisions.ViewsTableID)
	if err != nil {
		return Document{}, false, err
	}
	return r.getIn(tx, viewsTable, tableID)
}

func (r *Repository) getIn(tx *gorm.DB, viewsTable revisions.Table, tableID string) (Document, bool, error) {
	row, err := r.store.FindRow(tx, viewsTable.VersionID, tableID)
	if errors.Is(err, revisions.ErrRowNotFound) {
		return DefaultDocument(), false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	document, err := decode(row)
	if err != nil {
		return Document{}, false, err
	}
	return document, true, nil
}

// GetInTableVersion reads the document of tableID from a specific views table version.
func (r *Repository) GetInTableVersion(tx *gorm.DB, viewsTable revisions.Table, tableID string) (Document, bool, error) {
	return r.getIn(tx, viewsTable, tableID)
}

func decode(row revisions.Row) (Document, error) {
	var document Document
	if err := json.Unmarshal(row.Data, &document); err != nil {
		return Document{}, fmt.Errorf("views: decode %s: %w", row.ID, err)
	}
	return document, nil
}

// Save validates and stores the document of a table, creating the row on first write.
func (r *Repository) Save(tx *gorm.DB, draft *revisions.Draft, tableID string, document Document) error {
	if err := Validate(document); err != nil {
		return err
	}
	viewsTable, err := r.store.DraftTable(tx, draft, revisions.ViewsTableID, true)
	if err != nil {
		return err
	}
	content := revisions.RowContent{Data: document}
	_, err = r.store.FindRow(tx, viewsTable.VersionID, tableID)
	switch {
	case errors.Is(err, revisions.ErrRowNotFound):
		_, err = r.store.CreateRow(tx, draft, viewsTable, tableID, content)
		return err
	case err != nil:
		return err
	}
	_, _, err = r.store.UpdateRow(tx, draft, viewsTable, tableID, content)
	return err
}

// Rename moves the document of a renamed table, if one is stored.
func (r *Repository) Rename(tx *gorm.DB, draft *revisions.Draft, fromID, toID string) error {
	_, exists, err := r.Get(tx, draft.Revision.ID, fromID)
	if err != nil || !exists {
		return err
	}
	viewsTable, err := r.store.DraftTable(tx, draft, revisions.ViewsTableID, true)
	if err != nil {
		return err
	}
	_, _, err = r.store.RenameRow(tx, draft, viewsTable, fromID, toID)
	return err
}

// Remove deletes the document of a removed table, if one is stored.
func (r *Repository) Remove(tx *gorm.DB, draft *revisions.Draft, tableID string) error {
	_, exists, err := r.Get(tx, draft.Revision.ID, tableID)
	if err != nil || !exists {
		return err
	}
	viewsTable, err := r.store.DraftTable(tx, draft, revisions.ViewsTableID, true)
	if err != nil {
		return err
	}
	_, err = r.store.RemoveRows(tx, draft, viewsTable, []string{tableID})
	return err
}
