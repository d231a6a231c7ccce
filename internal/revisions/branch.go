package revisions

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// BranchState bundles a branch with its head and draft revisions.
type BranchState struct {
	Branch Branch
	Head   Revision
	Draft  Revision
}

// FindBranch loads a branch by name.
func (s *Store) FindBranch(tx *gorm.DB, name string) (Branch, error) {
	var branch Branch
	err := tx.Where("name = ?", name).Take(&branch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Branch{}, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	if err != nil {
		return Branch{}, err
	}
	return branch, nil
}

// FindBranchByID loads a branch by id.
func (s *Store) FindBranchByID(tx *gorm.DB, branchID string) (Branch, error) {
	var branch Branch
	err := tx.Where("id = ?", branchID).Take(&branch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Branch{}, fmt.Errorf("%w: %s", ErrBranchNotFound, branchID)
	}
	if err != nil {
		return Branch{}, err
	}
	return branch, nil
}

// State loads the head and draft revisions of a branch.
func (s *Store) State(tx *gorm.DB, branch Branch) (BranchState, error) {
	state := BranchState{Branch: branch}
	if err := tx.Where("branch_id = ? AND is_head = ?", branch.ID, true).Take(&state.Head).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BranchState{}, fmt.Errorf("%w: head of %s", ErrRevisionNotFound, branch.Name)
		}
		return BranchState{}, err
	}
	if err := tx.Where("branch_id = ? AND is_draft = ?", branch.ID, true).Take(&state.Draft).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BranchState{}, fmt.Errorf("%w: draft of %s", ErrRevisionNotFound, branch.Name)
		}
		return BranchState{}, err
	}
	return state, nil
}

func (s *Store) createBranchRecord(tx *gorm.DB, name string, isRoot bool) (Branch, error) {
	if _, err := s.FindBranch(tx, name); err == nil {
		return Branch{}, fmt.Errorf("%w: %s", ErrBranchAlreadyExists, name)
	} else if !errors.Is(err, ErrBranchNotFound) {
		return Branch{}, err
	}
	branchID, err := s.newID()
	if err != nil {
		return Branch{}, err
	}
	branch := Branch{ID: branchID, Name: name, IsRoot: isRoot, CreatedAt: s.now()}
	if err := tx.Create(&branch).Error; err != nil {
		return Branch{}, err
	}
	return branch, nil
}

func (s *Store) createRevision(tx *gorm.DB, revision Revision) (Revision, error) {
	revisionID, err := s.newID()
	if err != nil {
		return Revision{}, err
	}
	revision.ID = revisionID
	revision.CreatedAt = s.now()
	if err := tx.Create(&revision).Error; err != nil {
		return Revision{}, err
	}
	changelog := NewChangeSet().toChangelog(revision.ID)
	if err := tx.Create(&changelog).Error; err != nil {
		return Revision{}, err
	}
	return revision, nil
}

func (s *Store) copyTableJoins(tx *gorm.DB, fromRevisionID, toRevisionID string) error {
	return tx.Exec(
		"INSERT INTO revision_tables (revision_id, table_version_id) SELECT ?, table_version_id FROM revision_tables WHERE revision_id = ?",
		toRevisionID, fromRevisionID,
	).Error
}

// CreateRootBranch creates the trunk branch. Its start revision owns the readonly system tables,
// which the draft revision shares.
func (s *Store) CreateRootBranch(tx *gorm.DB, name string) (BranchState, error) {
	branch, err := s.createBranchRecord(tx, name, true)
	if err != nil {
		return BranchState{}, err
	}
	head, err := s.createRevision(tx, Revision{BranchID: branch.ID, IsHead: true, IsStart: true})
	if err != nil {
		return BranchState{}, err
	}
	now := s.now()
	for _, tableID := range SystemTableIDs {
		versionID, err := s.newID()
		if err != nil {
			return BranchState{}, err
		}
		createdID, err := s.newID()
		if err != nil {
			return BranchState{}, err
		}
		table := Table{
			VersionID: versionID,
			ID:        tableID,
			CreatedID: createdID,
			Readonly:  true,
			System:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&table).Error; err != nil {
			return BranchState{}, err
		}
		if err := tx.Create(&RevisionTable{RevisionID: head.ID, TableVersionID: table.VersionID}).Error; err != nil {
			return BranchState{}, err
		}
	}
	draft, err := s.startDraft(tx, head)
	if err != nil {
		return BranchState{}, err
	}
	return BranchState{Branch: branch, Head: head, Draft: draft}, nil
}

// CreateBranch starts a branch from a committed revision, sharing all of its table versions.
func (s *Store) CreateBranch(tx *gorm.DB, name, fromRevisionID string) (BranchState, error) {
	from, err := s.Revision(tx, fromRevisionID)
	if err != nil {
		return BranchState{}, err
	}
	if from.IsDraft {
		return BranchState{}, fmt.Errorf("%w: %s", ErrDraftBase, fromRevisionID)
	}
	branch, err := s.createBranchRecord(tx, name, false)
	if err != nil {
		return BranchState{}, err
	}
	parentID := from.ID
	head, err := s.createRevision(tx, Revision{BranchID: branch.ID, ParentID: &parentID, IsHead: true, IsStart: true})
	if err != nil {
		return BranchState{}, err
	}
	if err := s.copyTableJoins(tx, from.ID, head.ID); err != nil {
		return BranchState{}, err
	}
	draft, err := s.startDraft(tx, head)
	if err != nil {
		return BranchState{}, err
	}
	return BranchState{Branch: branch, Head: head, Draft: draft}, nil
}

func (s *Store) startDraft(tx *gorm.DB, head Revision) (Revision, error) {
	parentID := head.ID
	draft, err := s.createRevision(tx, Revision{
		BranchID: head.BranchID,
		ParentID: &parentID,
		Sequence: head.Sequence + 1,
		IsDraft:  true,
	})
	if err != nil {
		return Revision{}, err
	}
	if err := s.copyTableJoins(tx, head.ID, draft.ID); err != nil {
		return Revision{}, err
	}
	return draft, nil
}

// Commit publishes the draft: every version it holds becomes readonly, the draft becomes the
// branch head and a fresh draft sharing the same versions is started.
func (s *Store) Commit(tx *gorm.DB, draft *Draft, comment string) (Revision, Revision, error) {
	if !draft.Changes.HasChanges() {
		return Revision{}, Revision{}, fmt.Errorf("%w: %s", ErrNoChanges, draft.Revision.ID)
	}
	revisionID := draft.Revision.ID
	if err := tx.Exec(
		"UPDATE table_versions SET readonly = ? WHERE version_id IN (SELECT table_version_id FROM revision_tables WHERE revision_id = ?)",
		true, revisionID,
	).Error; err != nil {
		return Revision{}, Revision{}, err
	}
	if err := tx.Exec(
		"UPDATE row_versions SET readonly = ? WHERE version_id IN (SELECT table_rows.row_version_id FROM table_rows JOIN revision_tables ON revision_tables.table_version_id = table_rows.table_version_id WHERE revision_tables.revision_id = ?)",
		true, revisionID,
	).Error; err != nil {
		return Revision{}, Revision{}, err
	}
	if err := tx.Model(&Revision{}).
		Where("branch_id = ? AND is_head = ?", draft.Revision.BranchID, true).
		Update("is_head", false).Error; err != nil {
		return Revision{}, Revision{}, err
	}
	if err := s.SaveDraft(tx, draft); err != nil {
		return Revision{}, Revision{}, err
	}
	committed := draft.Revision
	committed.IsDraft = false
	committed.IsHead = true
	committed.Comment = comment
	if err := tx.Model(&Revision{}).Where("id = ?", committed.ID).Updates(map[string]any{
		"is_draft": false,
		"is_head":  true,
		"comment":  comment,
	}).Error; err != nil {
		return Revision{}, Revision{}, err
	}
	next, err := s.startDraft(tx, committed)
	if err != nil {
		return Revision{}, Revision{}, err
	}
	return committed, next, nil
}

// Revert discards every change of the draft, reconnecting it to the head's table versions.
func (s *Store) Revert(tx *gorm.DB, draft *Draft) error {
	headID := draft.HeadID()
	if headID == "" {
		return fmt.Errorf("%w: %s has no head", ErrRevisionNotFound, draft.Revision.ID)
	}
	var draftVersions []string
	if err := tx.Model(&RevisionTable{}).Where("revision_id = ?", draft.Revision.ID).
		Pluck("table_version_id", &draftVersions).Error; err != nil {
		return err
	}
	if err := tx.Where("revision_id = ?", draft.Revision.ID).Delete(&RevisionTable{}).Error; err != nil {
		return err
	}
	if err := s.copyTableJoins(tx, headID, draft.Revision.ID); err != nil {
		return err
	}
	for _, versionID := range draftVersions {
		if err := s.deleteTableIfOrphan(tx, versionID); err != nil {
			return err
		}
	}
	draft.Changes = NewChangeSet()
	return s.SaveDraft(tx, draft)
}
