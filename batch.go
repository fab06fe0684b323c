package dbsource

import "context"

// ExecuteBatch is multi-statement batched execution. It is declared so the
// surface is complete, but it is not implemented: every call fails with
// ErrNotImplemented before resolving the source or touching the database,
// rather than silently degrading to sequential execution.
func ExecuteBatch(ctx context.Context, source any, exprs ...any) (*Result, error) {
	return nil, errNotImplemented("ExecuteBatch")
}
