package dbsource

import "context"

// ExecOptions carries per-call options down to the execution primitives.
type ExecOptions struct {
	// Params is the positional parameter sequence. Order is significant:
	// parameter position aligns with placeholder position in the statement.
	Params []any

	// FirstRowOnly asks the primitive to fetch at most one row. Backends
	// may use it to optimize single-row retrieval.
	FirstRowOnly bool
}

// Execute resolves source and runs an executable expression against it.
// The expression is either statement text (string) or a prepared Statement;
// anything else fails with an invalid expression error before any resource
// is acquired.
//
// Execute does not release the connection it resolved: a Pool source stays
// borrowed and a Config source stays open, on purpose, so the caller can
// keep using them. Callers that want automatic release wrap the call in
// WithConnection or WithTransaction.
func Execute(ctx context.Context, source, expr any, params ...any) (*Result, error) {
	return executeOpts(ctx, "Execute", source, expr, ExecOptions{Params: params})
}

// ExecuteOpts is Execute with explicit options. Params are taken from opts.
func ExecuteOpts(ctx context.Context, source, expr any, opts ExecOptions) (*Result, error) {
	return executeOpts(ctx, "ExecuteOpts", source, expr, opts)
}

// ExecuteOne runs an executable expression and returns only the first row,
// or nil when the result is empty. The single-row limit is passed down to
// the execution primitive rather than applied afterwards.
//
// Like Execute, it does not release the resolved connection.
func ExecuteOne(ctx context.Context, source, expr any, params ...any) (Row, error) {
	return executeOne(ctx, "ExecuteOne", source, expr, ExecOptions{Params: params})
}

// ExecuteOneOpts is ExecuteOne with explicit options. The injected
// FirstRowOnly takes precedence over the caller's value.
func ExecuteOneOpts(ctx context.Context, source, expr any, opts ExecOptions) (Row, error) {
	return executeOne(ctx, "ExecuteOneOpts", source, expr, opts)
}

// Prepare resolves source and compiles statement text into a reusable
// Statement handle. The handle executes on connections of the same backend
// only.
//
// Like Execute, it does not release the resolved connection.
func Prepare(ctx context.Context, source any, sql string) (Statement, error) {
	conn, _, err := resolve(ctx, "Prepare", source)
	if err != nil {
		return nil, err
	}
	return conn.Prepare(ctx, sql)
}

func executeOne(ctx context.Context, op string, source, expr any, opts ExecOptions) (Row, error) {
	opts.FirstRowOnly = true
	res, err := executeOpts(ctx, op, source, expr, opts)
	if err != nil {
		return nil, err
	}
	return res.First(), nil
}

func executeOpts(ctx context.Context, op string, source, expr any, opts ExecOptions) (*Result, error) {
	var text string
	var stmt Statement
	switch e := expr.(type) {
	case string:
		text = e
	case Statement:
		stmt = e
	default:
		return nil, errInvalidExpression(op, expr)
	}

	conn, _, err := resolve(ctx, op, source)
	if err != nil {
		return nil, err
	}

	if stmt != nil {
		return conn.ExecStatement(ctx, stmt, opts)
	}
	return conn.ExecText(ctx, text, opts)
}
