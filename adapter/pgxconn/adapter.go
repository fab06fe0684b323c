// Package pgxconn adapts pgx v5 connections and pools for use as
// dbsource sources. Importing it registers the "pgx" driver:
//
//	import _ "github.com/fernandezvara/dbsource/adapter/pgxconn"
package pgxconn

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5"

	"github.com/fernandezvara/dbsource"
	"github.com/fernandezvara/dbsource/hooks"
)

func init() {
	dbsource.RegisterOpener("pgx", open)
}

// stmtSeq numbers prepared statements across all connections
var stmtSeq atomic.Int64

// Conn adapts a single *pgx.Conn
type Conn struct {
	conn *pgx.Conn
}

var (
	_ dbsource.Conn      = (*Conn)(nil)
	_ dbsource.Statement = (*Statement)(nil)
)

// FromConn wraps an existing pgx connection. The caller keeps ownership
// of the underlying connection.
func FromConn(conn *pgx.Conn) *Conn {
	return &Conn{conn: conn}
}

// PgxConn returns the underlying pgx connection
func (c *Conn) PgxConn() *pgx.Conn {
	return c.conn
}

// Idle reports whether the connection is outside any transaction. An
// aborted but still open transaction counts as in-transaction.
func (c *Conn) Idle() bool {
	return c.conn.PgConn().TxStatus() == 'I'
}

// ExecText runs a single SQL statement with positional parameters
func (c *Conn) ExecText(ctx context.Context, sql string, opts dbsource.ExecOptions) (*dbsource.Result, error) {
	rows, err := c.conn.Query(ctx, sql, opts.Params...)
	if err != nil {
		return nil, dbsource.WrapError(err, "ExecText")
	}
	return collectResult(rows, opts.FirstRowOnly, "ExecText")
}

// ExecStatement runs a statement prepared on this connection
func (c *Conn) ExecStatement(ctx context.Context, stmt dbsource.Statement, opts dbsource.ExecOptions) (*dbsource.Result, error) {
	prepared, ok := stmt.(*Statement)
	if !ok {
		return nil, &dbsource.Error{
			Code:    dbsource.CodeInvalidExpression,
			Message: fmt.Sprintf("statement was prepared by a different driver (got %T)", stmt),
			Op:      "ExecStatement",
		}
	}

	// querying by prepared statement name executes it
	rows, err := c.conn.Query(ctx, prepared.name, opts.Params...)
	if err != nil {
		return nil, dbsource.WrapError(err, "ExecStatement")
	}
	return collectResult(rows, opts.FirstRowOnly, "ExecStatement")
}

// Prepare creates a server-side prepared statement. The statement is
// only valid on this connection.
func (c *Conn) Prepare(ctx context.Context, sql string) (dbsource.Statement, error) {
	name := fmt.Sprintf("dbsource_stmt_%d", stmtSeq.Add(1))
	desc, err := c.conn.Prepare(ctx, name, sql)
	if err != nil {
		return nil, dbsource.WrapError(err, "Prepare")
	}
	return &Statement{name: desc.Name, sql: desc.SQL}, nil
}

// Begin opens a transaction with the requested isolation and access mode
func (c *Conn) Begin(ctx context.Context, opts dbsource.BeginOptions) error {
	if _, err := c.conn.Exec(ctx, beginSQL(opts)); err != nil {
		return dbsource.WrapError(err, "Begin")
	}
	return nil
}

// Commit commits the current transaction
func (c *Conn) Commit(ctx context.Context) error {
	if _, err := c.conn.Exec(ctx, "COMMIT"); err != nil {
		return dbsource.WrapError(err, "Commit")
	}
	return nil
}

// Rollback rolls back the current transaction
func (c *Conn) Rollback(ctx context.Context) error {
	if _, err := c.conn.Exec(ctx, "ROLLBACK"); err != nil {
		return dbsource.WrapError(err, "Rollback")
	}
	return nil
}

// Close closes the connection
func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// beginSQL renders BeginOptions as a BEGIN statement. The "deferrable"
// Extra flag maps to DEFERRABLE, which PostgreSQL only honors for
// serializable read-only transactions.
func beginSQL(opts dbsource.BeginOptions) string {
	var b strings.Builder
	b.WriteString("BEGIN")
	if opts.IsolationLevel != dbsource.LevelDefault {
		b.WriteString(" ISOLATION LEVEL ")
		b.WriteString(strings.ToUpper(string(opts.IsolationLevel)))
	}
	if opts.ReadOnly {
		b.WriteString(" READ ONLY")
	}
	if deferrable, ok := opts.Extra["deferrable"].(bool); ok && deferrable {
		b.WriteString(" DEFERRABLE")
	}
	return b.String()
}

// collectResult drains rows into a Result
func collectResult(rows pgx.Rows, firstOnly bool, op string) (*dbsource.Result, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	res := &dbsource.Result{Columns: columns}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, dbsource.WrapError(err, op)
		}
		row := make(dbsource.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		res.Rows = append(res.Rows, row)
		if firstOnly {
			break
		}
	}

	// CommandTag is only valid after Close
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbsource.WrapError(err, op)
	}
	res.RowsAffected = rows.CommandTag().RowsAffected()
	return res, nil
}

// Statement is a server-side prepared statement
type Statement struct {
	name string
	sql  string
}

// Name returns the server-side statement name
func (s *Statement) Name() string { return s.name }

// SQL returns the text the statement was prepared from
func (s *Statement) SQL() string { return s.sql }

// open connects per the config; registered as the "pgx" opener
func open(ctx context.Context, cfg *dbsource.Config) (dbsource.Conn, error) {
	connCfg, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, &dbsource.Error{
			Code:    dbsource.CodeConnectionFailed,
			Message: "invalid connection string",
			Op:      "Connect",
			Cause:   err,
		}
	}
	if cfg.DialTimeout > 0 {
		connCfg.ConnectTimeout = cfg.DialTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, dbsource.WrapError(err, "Connect")
	}

	chain, err := hooks.FromConfig(cfg)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return dbsource.WithHooks(&Conn{conn: conn}, chain...), nil
}
