package revisions

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the category of every missing revision, branch, table or row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is the category of duplicate names, system table mutations and empty commits.
	ErrConflict = errors.New("conflict")

	// ErrRevisionNotFound indicates that a revision does not exist or is not a draft.
	ErrRevisionNotFound = fmt.Errorf("revisions: revision %w", ErrNotFound)
	// ErrBranchNotFound indicates that a branch does not exist.
	ErrBranchNotFound = fmt.Errorf("revisions: branch %w", ErrNotFound)
	// ErrTableNotFound indicates that a table does not exist in the revision.
	ErrTableNotFound = fmt.Errorf("revisions: table %w", ErrNotFound)
	// ErrRowNotFound indicates that a row does not exist in the table.
	ErrRowNotFound = fmt.Errorf("revisions: row %w", ErrNotFound)

	// ErrTableAlreadyExists indicates that a table id is taken in the revision.
	ErrTableAlreadyExists = fmt.Errorf("revisions: table already exists: %w", ErrConflict)
	// ErrRowAlreadyExists indicates that a row id is taken in the table.
	ErrRowAlreadyExists = fmt.Errorf("revisions: row already exists: %w", ErrConflict)
	// ErrBranchAlreadyExists indicates that a branch name is taken.
	ErrBranchAlreadyExists = fmt.Errorf("revisions: branch already exists: %w", ErrConflict)
	// ErrSystemTable indicates an ordinary mutation of a system table.
	ErrSystemTable = fmt.Errorf("revisions: system tables cannot be modified: %w", ErrConflict)
	// ErrNoChanges indicates a commit of a draft without changes.
	ErrNoChanges = fmt.Errorf("revisions: draft has no changes: %w", ErrConflict)
	// ErrDraftBase indicates a branch started from a revision that is still a draft.
	ErrDraftBase = fmt.Errorf("revisions: branch must start from a committed revision: %w", ErrConflict)
)
