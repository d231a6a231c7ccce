package drafts

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/events"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CommitResult carries the published revision and the draft started after it.
type CommitResult struct {
	Committed revisions.Revision
	Draft     revisions.Revision
}

// InitRootBranch creates the root branch, or returns it when it already exists.
func (s *Service) InitRootBranch(ctx context.Context, name string) (revisions.BranchState, error) {
	var state revisions.BranchState
	err := s.read(ctx, opInitRoot, func(tx *gorm.DB) error {
		branch, err := s.store.FindBranch(tx, name)
		if err == nil {
			state, err = s.store.State(tx, branch)
			return err
		}
		if !errors.Is(err, revisions.ErrBranchNotFound) {
			return err
		}
		state, err = s.store.CreateRootBranch(tx, name)
		return err
	}, zap.String("branch", name))
	if err != nil {
		return revisions.BranchState{}, err
	}
	return state, nil
}

// CreateBranch starts a branch from a committed revision.
func (s *Service) CreateBranch(ctx context.Context, name, fromRevisionID string) (revisions.BranchState, error) {
	var state revisions.BranchState
	err := s.read(ctx, opCreateBranch, func(tx *gorm.DB) error {
		var err error
		state, err = s.store.CreateBranch(tx, name, fromRevisionID)
		return err
	}, zap.String("branch", name), zap.String("from_revision_id", fromRevisionID))
	if err != nil {
		return revisions.BranchState{}, err
	}
	return state, nil
}

// GetBranch returns a branch with its head and draft revisions.
func (s *Service) GetBranch(ctx context.Context, name string) (revisions.BranchState, error) {
	var state revisions.BranchState
	err := s.read(ctx, opGetBranch, func(tx *gorm.DB) error {
		branch, err := s.store.FindBranch(tx, name)
		if err != nil {
			return err
		}
		state, err = s.store.State(tx, branch)
		return err
	}, zap.String("branch", name))
	if err != nil {
		return revisions.BranchState{}, err
	}
	return state, nil
}

// GetRevision returns any revision.
func (s *Service) GetRevision(ctx context.Context, revisionID string) (revisions.Revision, error) {
	var revision revisions.Revision
	err := s.read(ctx, opGetRevision, func(tx *gorm.DB) error {
		var err error
		revision, err = s.store.Revision(tx, revisionID)
		return err
	}, zap.String("revision_id", revisionID))
	if err != nil {
		return revisions.Revision{}, err
	}
	return revision, nil
}

// ResolveDraftRevision fails with revisions.ErrRevisionNotFound when the revision is absent or not
// a draft.
func (s *Service) ResolveDraftRevision(ctx context.Context, revisionID string) (revisions.Revision, error) {
	var revision revisions.Revision
	err := s.read(ctx, opResolveDraft, func(tx *gorm.DB) error {
		var err error
		revision, err = s.store.ResolveDraftRevision(tx, revisionID)
		return err
	}, zap.String("revision_id", revisionID))
	if err != nil {
		return revisions.Revision{}, err
	}
	return revision, nil
}

// Commit publishes the draft as the new head of its branch.
func (s *Service) Commit(ctx context.Context, revisionID, comment string) (CommitResult, error) {
	var result CommitResult
	err := s.runDraft(ctx, opCommit, revisionID, false, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		if err := s.store.RecomputeAll(tx, draft); err != nil {
			return nil, err
		}
		committed, next, err := s.store.Commit(tx, draft, comment)
		if err != nil {
			return nil, err
		}
		result = CommitResult{Committed: committed, Draft: next}
		return []events.Event{{
			Type:           events.TypeRevisionCommitted,
			NextRevisionID: next.ID,
		}}, nil
	})
	if err != nil {
		return CommitResult{}, err
	}
	return result, nil
}

// Revert discards every change of the draft.
func (s *Service) Revert(ctx context.Context, revisionID string) (revisions.Revision, error) {
	var reverted revisions.Revision
	err := s.runDraft(ctx, opRevert, revisionID, false, func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error) {
		if err := s.store.Revert(tx, draft); err != nil {
			return nil, err
		}
		reverted = draft.Revision
		return []events.Event{{Type: events.TypeRevisionReverted}}, nil
	})
	if err != nil {
		return revisions.Revision{}, err
	}
	return reverted, nil
}
