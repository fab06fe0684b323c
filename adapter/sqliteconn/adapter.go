// Package sqliteconn adapts zombiezen SQLite connections and pools for
// use as dbsource sources. Importing it registers the "sqlite" driver:
//
//	import _ "github.com/fernandezvara/dbsource/adapter/sqliteconn"
//
// The Config's Database field is the database file path; ":memory:"
// opens an in-memory database.
package sqliteconn

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/fernandezvara/dbsource"
	"github.com/fernandezvara/dbsource/hooks"
)

func init() {
	dbsource.RegisterOpener("sqlite", open)
}

// stmtSeq numbers prepared statements for observability
var stmtSeq atomic.Int64

// Conn adapts a single *sqlite.Conn. SQLite reports no transaction
// status on the wire, so the open transaction is tracked locally.
// Connections are not safe for concurrent use.
type Conn struct {
	conn *sqlite.Conn
	inTx bool
}

var (
	_ dbsource.Conn      = (*Conn)(nil)
	_ dbsource.Statement = (*Statement)(nil)
)

// FromConn wraps an existing SQLite connection. The caller keeps
// ownership of the underlying connection.
func FromConn(conn *sqlite.Conn) *Conn {
	return &Conn{conn: conn}
}

// SQLiteConn returns the underlying SQLite connection
func (c *Conn) SQLiteConn() *sqlite.Conn {
	return c.conn
}

// Idle reports whether the connection is outside a transaction
func (c *Conn) Idle() bool {
	return !c.inTx
}

// ExecText runs a single SQL statement with positional parameters
func (c *Conn) ExecText(ctx context.Context, query string, opts dbsource.ExecOptions) (*dbsource.Result, error) {
	done := c.conn.SetInterrupt(ctx.Done())
	defer c.conn.SetInterrupt(done)

	stmt, err := c.conn.Prepare(query)
	if err != nil {
		return nil, wrapError(err, "ExecText")
	}
	return c.run(stmt, opts, "ExecText")
}

// ExecStatement runs a prepared statement. The statement is re-prepared
// from its text through the connection's statement cache, so statements
// survive transactions and work on any connection from this package.
func (c *Conn) ExecStatement(ctx context.Context, stmt dbsource.Statement, opts dbsource.ExecOptions) (*dbsource.Result, error) {
	prepared, ok := stmt.(*Statement)
	if !ok {
		return nil, &dbsource.Error{
			Code:    dbsource.CodeInvalidExpression,
			Message: fmt.Sprintf("statement was prepared by a different driver (got %T)", stmt),
			Op:      "ExecStatement",
		}
	}

	done := c.conn.SetInterrupt(ctx.Done())
	defer c.conn.SetInterrupt(done)

	st, err := c.conn.Prepare(prepared.sql)
	if err != nil {
		return nil, wrapError(err, "ExecStatement")
	}
	return c.run(st, opts, "ExecStatement")
}

// Prepare validates the statement and warms the connection's cache
func (c *Conn) Prepare(ctx context.Context, query string) (dbsource.Statement, error) {
	done := c.conn.SetInterrupt(ctx.Done())
	defer c.conn.SetInterrupt(done)

	if _, err := c.conn.Prepare(query); err != nil {
		return nil, wrapError(err, "Prepare")
	}
	name := fmt.Sprintf("dbsource_stmt_%d", stmtSeq.Add(1))
	return &Statement{name: name, sql: query}, nil
}

// Begin opens a transaction. Writing transactions take the write lock
// up front; read-only ones defer it. SQLite transactions are always
// serializable, so the isolation level is ignored.
func (c *Conn) Begin(ctx context.Context, opts dbsource.BeginOptions) error {
	if c.inTx {
		return &dbsource.Error{
			Code:    dbsource.CodeUnknown,
			Message: "transaction already open",
			Op:      "Begin",
		}
	}

	done := c.conn.SetInterrupt(ctx.Done())
	defer c.conn.SetInterrupt(done)

	begin := "BEGIN IMMEDIATE"
	if opts.ReadOnly {
		begin = "BEGIN DEFERRED"
	}
	if err := sqlitex.ExecuteTransient(c.conn, begin, nil); err != nil {
		return wrapError(err, "Begin")
	}
	c.inTx = true
	return nil
}

// Commit commits the current transaction. On failure the transaction
// stays open.
func (c *Conn) Commit(ctx context.Context) error {
	done := c.conn.SetInterrupt(ctx.Done())
	defer c.conn.SetInterrupt(done)

	if err := sqlitex.ExecuteTransient(c.conn, "COMMIT", nil); err != nil {
		return wrapError(err, "Commit")
	}
	c.inTx = false
	return nil
}

// Rollback rolls back the current transaction
func (c *Conn) Rollback(ctx context.Context) error {
	done := c.conn.SetInterrupt(ctx.Done())
	defer c.conn.SetInterrupt(done)

	err := sqlitex.ExecuteTransient(c.conn, "ROLLBACK", nil)
	c.inTx = false
	if err != nil {
		return wrapError(err, "Rollback")
	}
	return nil
}

// Close closes the connection
func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close()
}

// run binds, steps, and collects one statement execution
func (c *Conn) run(stmt *sqlite.Stmt, opts dbsource.ExecOptions, op string) (*dbsource.Result, error) {
	defer func() {
		stmt.Reset()
		stmt.ClearBindings()
	}()

	if err := bindParams(stmt, opts.Params); err != nil {
		return nil, err
	}

	columns := make([]string, stmt.ColumnCount())
	for i := range columns {
		columns[i] = stmt.ColumnName(i)
	}

	res := &dbsource.Result{Columns: columns}
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, wrapError(err, op)
		}
		if !hasRow {
			break
		}

		row := make(dbsource.Row, len(columns))
		for i, col := range columns {
			row[col] = columnValue(stmt, i)
		}
		res.Rows = append(res.Rows, row)
		if opts.FirstRowOnly {
			break
		}
	}

	if len(columns) == 0 {
		res.RowsAffected = int64(c.conn.Changes())
	} else {
		res.RowsAffected = int64(len(res.Rows))
	}
	return res, nil
}

// bindParams binds positional parameters; SQLite indexes are 1-based
func bindParams(stmt *sqlite.Stmt, params []any) error {
	for i, param := range params {
		if err := bindValue(stmt, i+1, param); err != nil {
			return err
		}
	}
	return nil
}

// bindValue binds one Go value to a statement parameter
func bindValue(stmt *sqlite.Stmt, index int, value any) error {
	switch v := value.(type) {
	case nil:
		stmt.BindNull(index)
	case bool:
		if v {
			stmt.BindInt64(index, 1)
		} else {
			stmt.BindInt64(index, 0)
		}
	case int:
		stmt.BindInt64(index, int64(v))
	case int32:
		stmt.BindInt64(index, int64(v))
	case int64:
		stmt.BindInt64(index, v)
	case float32:
		stmt.BindFloat(index, float64(v))
	case float64:
		stmt.BindFloat(index, v)
	case string:
		stmt.BindText(index, v)
	case []byte:
		stmt.BindBytes(index, v)
	case time.Time:
		stmt.BindText(index, v.UTC().Format(time.RFC3339Nano))
	default:
		return &dbsource.Error{
			Code:    dbsource.CodeUnknown,
			Message: fmt.Sprintf("cannot bind parameter %d (got %T)", index, value),
			Op:      "Bind",
		}
	}
	return nil
}

// columnValue reads one column using its declared storage class
func columnValue(stmt *sqlite.Stmt, i int) any {
	switch stmt.ColumnType(i) {
	case sqlite.TypeInteger:
		return stmt.ColumnInt64(i)
	case sqlite.TypeFloat:
		return stmt.ColumnFloat(i)
	case sqlite.TypeText:
		return stmt.ColumnText(i)
	case sqlite.TypeBlob:
		buf := make([]byte, stmt.ColumnLen(i))
		stmt.ColumnBytes(i, buf)
		return buf
	default:
		return nil
	}
}

// Statement is a prepared statement identified by its text; executing
// connections resolve it through their statement cache
type Statement struct {
	name string
	sql  string
}

// Name returns the statement label
func (s *Statement) Name() string { return s.name }

// SQL returns the text the statement was prepared from
func (s *Statement) SQL() string { return s.sql }

// wrapError maps SQLite result codes onto the error taxonomy
func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}

	var dbErr *dbsource.Error
	if errors.As(err, &dbErr) {
		return err
	}

	var code dbsource.ErrorCode
	switch sqlite.ErrCode(err) {
	case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
		code = dbsource.CodeDuplicate
	case sqlite.ResultConstraintForeignKey:
		code = dbsource.CodeForeignKey
	case sqlite.ResultConstraintCheck:
		code = dbsource.CodeCheckViolation
	case sqlite.ResultConstraintNotNull:
		code = dbsource.CodeNotNullViolation
	case sqlite.ResultInterrupt:
		code = dbsource.CodeTimeout
	case sqlite.ResultBusy, sqlite.ResultLocked:
		code = dbsource.CodeSerialization
	case sqlite.ResultCantOpen:
		code = dbsource.CodeConnectionFailed
	default:
		code = dbsource.CodeUnknown
	}

	return &dbsource.Error{
		Code:    code,
		Message: err.Error(),
		Op:      op,
		Cause:   err,
	}
}

// databasePath picks the SQLite path out of the config
func databasePath(cfg *dbsource.Config) string {
	if cfg.Database != "" {
		return cfg.Database
	}
	return cfg.URL
}

// prepareConn applies per-connection pragmas. Foreign keys default off
// in SQLite; enabling them matches the constraint behavior of the other
// drivers.
func prepareConn(conn *sqlite.Conn) error {
	return sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys=ON", nil)
}

// open connects per the config; registered as the "sqlite" opener
func open(ctx context.Context, cfg *dbsource.Config) (dbsource.Conn, error) {
	path := databasePath(cfg)
	if path == "" {
		return nil, &dbsource.Error{
			Code:    dbsource.CodeConnectionFailed,
			Message: "sqlite requires a database path (or :memory:)",
			Op:      "Connect",
		}
	}

	conn, err := sqlite.OpenConn(path)
	if err != nil {
		return nil, wrapError(err, "Connect")
	}
	if err := prepareConn(conn); err != nil {
		_ = conn.Close()
		return nil, wrapError(err, "Connect")
	}

	chain, err := hooks.FromConfig(cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return dbsource.WithHooks(&Conn{conn: conn}, chain...), nil
}
