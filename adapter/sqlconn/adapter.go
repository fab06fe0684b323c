// Package sqlconn adapts database/sql connections and pools, backed by
// the Bun PostgreSQL driver. Importing it registers the "pgdriver"
// driver:
//
//	import _ "github.com/fernandezvara/dbsource/adapter/sqlconn"
package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/fernandezvara/dbsource"
	"github.com/fernandezvara/dbsource/hooks"
)

func init() {
	dbsource.RegisterOpener("pgdriver", open)
}

// stmtSeq numbers prepared statements for observability
var stmtSeq atomic.Int64

// Conn adapts a dedicated *sql.Conn. While a transaction is open every
// operation routes through it; database/sql forbids using the parent
// connection directly until the transaction ends.
type Conn struct {
	conn    *sql.Conn
	tx      *sql.Tx
	ownedDB *sql.DB // closed with the connection when set
}

var (
	_ dbsource.Conn      = (*Conn)(nil)
	_ dbsource.Statement = (*Statement)(nil)
)

// FromConn wraps an existing dedicated connection. The caller keeps
// ownership of the underlying connection.
func FromConn(conn *sql.Conn) *Conn {
	return &Conn{conn: conn}
}

// Idle reports whether the connection is outside a transaction
func (c *Conn) Idle() bool {
	return c.tx == nil
}

// ExecText runs a single SQL statement with positional parameters
func (c *Conn) ExecText(ctx context.Context, query string, opts dbsource.ExecOptions) (*dbsource.Result, error) {
	if !returnsRows(query) {
		var res sql.Result
		var err error
		if c.tx != nil {
			res, err = c.tx.ExecContext(ctx, query, opts.Params...)
		} else {
			res, err = c.conn.ExecContext(ctx, query, opts.Params...)
		}
		if err != nil {
			return nil, dbsource.WrapError(err, "ExecText")
		}
		affected, _ := res.RowsAffected()
		return &dbsource.Result{RowsAffected: affected}, nil
	}

	var rows *sql.Rows
	var err error
	if c.tx != nil {
		rows, err = c.tx.QueryContext(ctx, query, opts.Params...)
	} else {
		rows, err = c.conn.QueryContext(ctx, query, opts.Params...)
	}
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

	st := prepared.stmt
	if c.tx != nil && !prepared.txScope {
		st = c.tx.StmtContext(ctx, st)
		defer st.Close()
	}

	if !returnsRows(prepared.sql) {
		res, err := st.ExecContext(ctx, opts.Params...)
		if err != nil {
			return nil, dbsource.WrapError(err, "ExecStatement")
		}
		affected, _ := res.RowsAffected()
		return &dbsource.Result{RowsAffected: affected}, nil
	}

	rows, err := st.QueryContext(ctx, opts.Params...)
	if err != nil {
		return nil, dbsource.WrapError(err, "ExecStatement")
	}
	return collectResult(rows, opts.FirstRowOnly, "ExecStatement")
}

// Prepare creates a prepared statement. Statements prepared inside a
// transaction are only valid until it ends.
func (c *Conn) Prepare(ctx context.Context, query string) (dbsource.Statement, error) {
	name := fmt.Sprintf("dbsource_stmt_%d", stmtSeq.Add(1))

	if c.tx != nil {
		st, err := c.tx.PrepareContext(ctx, query)
		if err != nil {
			return nil, dbsource.WrapError(err, "Prepare")
		}
		return &Statement{name: name, sql: query, stmt: st, txScope: true}, nil
	}

	st, err := c.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, dbsource.WrapError(err, "Prepare")
	}
	return &Statement{name: name, sql: query, stmt: st}, nil
}

// Begin opens a transaction with the requested isolation and access mode
func (c *Conn) Begin(ctx context.Context, opts dbsource.BeginOptions) error {
	if c.tx != nil {
		return &dbsource.Error{
			Code:    dbsource.CodeUnknown,
			Message: "transaction already open",
			Op:      "Begin",
		}
	}

	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: mapIsolation(opts.IsolationLevel),
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return dbsource.WrapError(err, "Begin")
	}
	c.tx = tx
	return nil
}

// Commit commits the current transaction
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return &dbsource.Error{
			Code:    dbsource.CodeUnknown,
			Message: "no open transaction",
			Op:      "Commit",
		}
	}
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return dbsource.WrapError(err, "Commit")
	}
	return nil
}

// Rollback rolls back the current transaction. Rolling back a finished
// transaction is not an error.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return dbsource.WrapError(err, "Rollback")
	}
	return nil
}

// Close closes the connection. An open transaction is rolled back
// first; closing the connection while it is held by a transaction
// blocks forever otherwise.
func (c *Conn) Close(ctx context.Context) error {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	err := c.conn.Close()
	if c.ownedDB != nil {
		if dbErr := c.ownedDB.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}

// Statement is a prepared statement. The name is a client-side label;
// database/sql manages server-side naming itself.
type Statement struct {
	name    string
	sql     string
	stmt    *sql.Stmt
	txScope bool
}

// Name returns the statement label
func (s *Statement) Name() string { return s.name }

// SQL returns the text the statement was prepared from
func (s *Statement) SQL() string { return s.sql }

// returnsRows reports whether the statement produces a row set.
// database/sql splits execution into Query and Exec paths, so a
// misclassified SELECT would have its rows silently discarded.
func returnsRows(query string) bool {
	q := strings.ToUpper(stripLeading(query))
	if strings.HasPrefix(q, "(") {
		// parenthesized select
		return true
	}
	for _, prefix := range []string{"SELECT", "WITH", "VALUES", "SHOW", "EXPLAIN", "TABLE"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return strings.Contains(q, "RETURNING")
}

// stripLeading removes whitespace and SQL comments from the front of a
// statement so classification sees the first real token. Block comments
// nest, per PostgreSQL.
func stripLeading(query string) string {
	for {
		query = strings.TrimLeft(query, " \t\r\n")
		switch {
		case strings.HasPrefix(query, "--"):
			nl := strings.IndexByte(query, '\n')
			if nl < 0 {
				return ""
			}
			query = query[nl+1:]
		case strings.HasPrefix(query, "/*"):
			depth := 1
			i := 2
			for i < len(query) && depth > 0 {
				switch {
				case strings.HasPrefix(query[i:], "/*"):
					depth++
					i += 2
				case strings.HasPrefix(query[i:], "*/"):
					depth--
					i += 2
				default:
					i++
				}
			}
			query = query[i:]
		default:
			return query
		}
	}
}

// mapIsolation converts an isolation level to database/sql's enum
func mapIsolation(level dbsource.IsolationLevel) sql.IsolationLevel {
	switch level {
	case dbsource.LevelReadUncommitted:
		return sql.LevelReadUncommitted
	case dbsource.LevelReadCommitted:
		return sql.LevelReadCommitted
	case dbsource.LevelRepeatableRead:
		return sql.LevelRepeatableRead
	case dbsource.LevelSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// collectResult drains rows into a Result
func collectResult(rows *sql.Rows, firstOnly bool, op string) (*dbsource.Result, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, dbsource.WrapError(err, op)
	}

	res := &dbsource.Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, dbsource.WrapError(err, op)
		}

		row := make(dbsource.Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		res.Rows = append(res.Rows, row)
		if firstOnly {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, dbsource.WrapError(err, op)
	}
	return res, nil
}

// normalizeValue converts driver []byte text to string
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// open connects per the config; registered as the "pgdriver" opener
func open(ctx context.Context, cfg *dbsource.Config) (dbsource.Conn, error) {
	db := openDB(cfg)
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, dbsource.WrapError(err, "Connect")
	}

	chain, err := hooks.FromConfig(cfg)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	return dbsource.WithHooks(&Conn{conn: conn, ownedDB: db}, chain...), nil
}

// openDB builds the pgdriver-backed pool the config describes
func openDB(cfg *dbsource.Config) *sql.DB {
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN()),
		pgdriver.WithDialTimeout(cfg.DialTimeout),
		pgdriver.WithReadTimeout(cfg.ReadTimeout),
		pgdriver.WithWriteTimeout(cfg.WriteTimeout),
	)

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return db
}
