package drafts

import (
	"context"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
)

// HookScope identifies the table a hook runs for.
type HookScope struct {
	RevisionID string
	TableID    string
	SchemaHash string
	Schema     *schema.Node
}

// HookRow is one row handed to a hook as a schema-typed value tree.
type HookRow struct {
	RowID string
	Value *schema.Value
}

// RowMutationHook is called around row writes and reads. Returned data replaces the row content;
// the service does not interpret it further. Hooks run in configuration order.
type RowMutationHook interface {
	AfterCreateRow(ctx context.Context, scope HookScope, row HookRow) (any, error)
	AfterUpdateRow(ctx context.Context, scope HookScope, previous any, row HookRow) (any, error)
	AfterMigrateRows(ctx context.Context, scope HookScope, rows []HookRow) ([]any, error)
	ComputeRows(ctx context.Context, scope HookScope, rows []HookRow) ([]any, error)
}

// PassthroughHook returns row data unchanged. Embed it to implement only some lifecycle methods.
type PassthroughHook struct{}

func (PassthroughHook) AfterCreateRow(_ context.Context, _ HookScope, row HookRow) (any, error) {
	return row.Value.Interface(), nil
}

func (PassthroughHook) AfterUpdateRow(_ context.Context, _ HookScope, _ any, row HookRow) (any, error) {
	return row.Value.Interface(), nil
}

func (PassthroughHook) AfterMigrateRows(_ context.Context, _ HookScope, rows []HookRow) ([]any, error) {
	return interfaces(rows), nil
}

func (PassthroughHook) ComputeRows(_ context.Context, _ HookScope, rows []HookRow) ([]any, error) {
	return interfaces(rows), nil
}

func interfaces(rows []HookRow) []any {
	data := make([]any, 0, len(rows))
	for _, row := range rows {
		data = append(data, row.Value.Interface())
	}
	return data
}

func hookRows(node *schema.Node, rowIDs []string, data []any) []HookRow {
	rows := make([]HookRow, 0, len(data))
	for index, value := range data {
		rows = append(rows, HookRow{RowID: rowIDs[index], Value: schema.NewValue(node, value)})
	}
	return rows
}

func (s *Service) afterCreateRow(ctx context.Context, scope HookScope, rowID string, data any) (any, error) {
	for _, hook := range s.hooks {
		next, err := hook.AfterCreateRow(ctx, scope, HookRow{RowID: rowID, Value: schema.NewValue(scope.Schema, data)})
		if err != nil {
			return nil, err
		}
		data = next
	}
	return data, nil
}

func (s *Service) afterUpdateRow(ctx context.Context, scope HookScope, rowID string, previous, data any) (any, error) {
	for _, hook := range s.hooks {
		next, err := hook.AfterUpdateRow(ctx, scope, previous, HookRow{RowID: rowID, Value: schema.NewValue(scope.Schema, data)})
		if err != nil {
			return nil, err
		}
		data = next
	}
	return data, nil
}

func (s *Service) afterMigrateRows(ctx context.Context, scope HookScope, rowIDs []string, data []any) ([]any, error) {
	return s.runBatchHooks(ctx, scope, rowIDs, data, RowMutationHook.AfterMigrateRows)
}

func (s *Service) computeRows(ctx context.Context, scope HookScope, rowIDs []string, data []any) ([]any, error) {
	return s.runBatchHooks(ctx, scope, rowIDs, data, RowMutationHook.ComputeRows)
}

type batchHook func(hook RowMutationHook, ctx context.Context, scope HookScope, rows []HookRow) ([]any, error)

func (s *Service) runBatchHooks(ctx context.Context, scope HookScope, rowIDs []string, data []any, call batchHook) ([]any, error) {
	if len(data) == 0 {
		return data, nil
	}
	for _, hook := range s.hooks {
		next, err := call(hook, ctx, scope, hookRows(scope.Schema, rowIDs, data))
		if err != nil {
			return nil, err
		}
		if len(next) != len(data) {
			return nil, errHookResultSize
		}
		data = next
	}
	return data, nil
}
