package drafts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/events"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/integrity"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/views"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "drafts.service.new"
	opInitRoot       = "drafts.init_root_branch"
	opCreateBranch   = "drafts.create_branch"
	opGetBranch      = "drafts.get_branch"
	opGetRevision    = "drafts.get_revision"
	opResolveDraft   = "drafts.resolve_draft_revision"
	opCommit         = "drafts.commit"
	opRevert         = "drafts.revert"
	opCreateTable    = "drafts.create_table"
	opUpdateTable    = "drafts.update_table"
	opRenameTable    = "drafts.rename_table"
	opRemoveTable    = "drafts.remove_table"
	opCreateRow      = "drafts.create_row"
	opUpdateRow      = "drafts.update_row"
	opRenameRow      = "drafts.rename_row"
	opRemoveRows     = "drafts.remove_rows"
	opUpdateViews    = "drafts.update_views"
	opValidateData   = "drafts.validate_data"
	opGetTable       = "drafts.get_table"
	opListTables     = "drafts.list_tables"
	opGetSchema      = "drafts.get_schema"
	opGetViews       = "drafts.get_views"
	opGetRow         = "drafts.get_row"
	opListRows       = "drafts.list_rows"
	opListMigrations = "drafts.list_migrations"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// reasonFor names the failure category used in service error codes and log fields.
func reasonFor(err error) string {
	var viewsError *views.MigrationError
	switch {
	case errors.Is(err, revisions.ErrNotFound):
		return "not_found"
	case errors.As(err, &viewsError):
		return "views_migration_failed"
	case errors.Is(err, integrity.ErrDataValidation),
		errors.Is(err, schema.ErrInvalidSchema),
		errors.Is(err, schema.ErrInvalidPatch),
		errors.Is(err, schema.ErrSelfReference),
		errors.Is(err, views.ErrInvalidViews),
		errors.Is(err, ErrInvalidID):
		return "validation_failed"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, integrity.ErrReferentialIntegrity):
		return "referential_integrity"
	case errors.Is(err, revisions.ErrConflict):
		return "conflict"
	case errors.Is(err, migrations.ErrHashMismatch):
		return "migration_corrupt"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transaction_failed"
	}
}

// Publisher receives domain events after their transaction commits.
type Publisher interface {
	Publish(event events.Event)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider revisions.IDProvider
	Logger     *zap.Logger
	Publisher  Publisher
	Hooks      []RowMutationHook
	Metrics    *metrics.Recorder
}

// Service runs every draft mutation inside one transaction and publishes one event per
// successful mutation in commit order.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	store      *revisions.Store
	migrations *migrations.Log
	views      *views.Repository
	validator  *integrity.Validator
	publisher  Publisher
	hooks      []RowMutationHook
	metrics    *metrics.Recorder
	logger     *zap.Logger
	locks      *revisionLocks
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	ids := cfg.IDProvider
	if ids == nil {
		ids = revisions.NewUUIDProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	store, err := revisions.NewStore(ids, clock)
	if err != nil {
		return nil, newServiceError(opServiceNew, "store_init_failed", err)
	}
	log, err := migrations.NewLog(store, ids, clock)
	if err != nil {
		return nil, newServiceError(opServiceNew, "migrations_init_failed", err)
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		store:      store,
		migrations: log,
		views:      views.NewRepository(store),
		validator:  integrity.NewValidator(log, store),
		publisher:  cfg.Publisher,
		hooks:      append([]RowMutationHook(nil), cfg.Hooks...),
		metrics:    cfg.Metrics,
		logger:     logger,
		locks:      newRevisionLocks(),
	}, nil
}

// Store exposes the copy-on-write store for read-side collaborators such as the diff engine.
func (s *Service) Store() *revisions.Store {
	return s.store
}

// Migrations exposes the schema and migration log for read-side collaborators.
func (s *Service) Migrations() *migrations.Log {
	return s.migrations
}

// Views exposes the views repository for read-side collaborators.
func (s *Service) Views() *views.Repository {
	return s.views
}

type draftFunc func(tx *gorm.DB, draft *revisions.Draft) ([]events.Event, error)

// mutate runs apply against a locked draft, settles the changelog and saves it in the same
// transaction. Events are published after commit while the revision lock is still held.
func (s *Service) mutate(ctx context.Context, operation, revisionID string, apply draftFunc, fields ...zap.Field) error {
	return s.runDraft(ctx, operation, revisionID, true, apply, fields...)
}

func (s *Service) runDraft(ctx context.Context, operation, revisionID string, settle bool, apply draftFunc, fields ...zap.Field) error {
	release := s.locks.acquire(revisionID)
	defer release()

	fields = append(fields, zap.String("revision_id", revisionID))
	started := time.Now()
	var (
		draft     *revisions.Draft
		published []events.Event
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		opened, err := s.store.OpenDraft(tx, revisionID)
		if err != nil {
			return err
		}
		draft = opened
		emitted, err := apply(tx, draft)
		if err != nil {
			return err
		}
		if settle {
			if err := s.store.RecomputeAll(tx, draft); err != nil {
				return err
			}
			if err := s.store.SaveDraft(tx, draft); err != nil {
				return err
			}
		}
		published = emitted
		return nil
	})
	elapsed := time.Since(started).Seconds()
	if txErr != nil {
		s.metrics.ObserveMutation(operation, metrics.OutcomeFailure, elapsed)
		reason := reasonFor(txErr)
		s.logError(operation, reason, txErr, fields...)
		return newServiceError(operation, reason, txErr)
	}
	s.metrics.ObserveMutation(operation, metrics.OutcomeSuccess, elapsed)
	s.metrics.AddForks("table", draft.TableForks)
	s.metrics.AddForks("row", draft.RowForks)
	s.metrics.AddReverts(draft.Reverts)

	now := s.clock().UTC()
	for _, event := range published {
		if event.BranchID == "" {
			event.BranchID = draft.Revision.BranchID
		}
		if event.RevisionID == "" {
			event.RevisionID = draft.Revision.ID
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = now
		}
		if s.publisher != nil {
			s.publisher.Publish(event)
		}
		s.metrics.EventPublished(string(event.Type))
	}
	s.logger.Debug("draft mutation applied", append(fields,
		zap.String("operation", operation),
		zap.Int("table_forks", draft.TableForks),
		zap.Int("row_forks", draft.RowForks),
		zap.Int("reverts", draft.Reverts),
		zap.Bool("has_changes", draft.Changes.HasChanges()),
	)...)
	return nil
}

// read runs fn in a read transaction and wraps failures the same way mutations are wrapped.
func (s *Service) read(ctx context.Context, operation string, fn func(tx *gorm.DB) error, fields ...zap.Field) error {
	if err := s.db.WithContext(ctx).Transaction(fn); err != nil {
		reason := reasonFor(err)
		s.logError(operation, reason, err, fields...)
		return newServiceError(operation, reason, err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s == nil || s.logger == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("draft service failure", allFields...)
}

// revisionLocks serializes writers of one draft revision inside the process.
type revisionLocks struct {
	mu      sync.Mutex
	entries map[string]*revisionLock
}

type revisionLock struct {
	mu   sync.Mutex
	refs int
}

func newRevisionLocks() *revisionLocks {
	return &revisionLocks{entries: make(map[string]*revisionLock)}
}

func (l *revisionLocks) acquire(revisionID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[revisionID]
	if !ok {
		entry = &revisionLock{}
		l.entries[revisionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, revisionID)
		}
		l.mu.Unlock()
	}
}
