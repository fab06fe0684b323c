/*
Package dbsource resolves heterogeneous connection sources and
coordinates execution and transactions on them.

A source is anything that can yield a connection:

  - Conn: an open connection, used directly and left open
  - Pool: a connection is acquired for the operation and released after
  - Config or *Config: a fresh connection is opened and closed after

Every operation accepts a source, so application code can pass whatever
it holds. Ownership is decided once, at resolution: borrowed connections
are never released, acquired and opened ones always are.

# Basic Usage

	import _ "github.com/fernandezvara/dbsource/adapter/pgxconn"

	cfg := dbsource.DefaultConfig(os.Getenv("DATABASE_URL"))
	cfg.Logger = slog.Default()
	cfg.LogSlowQueries = 100 * time.Millisecond

	res, err := dbsource.Execute(ctx, cfg, "SELECT id, email FROM users WHERE active = $1", true)
	if err != nil {
	    log.Fatal(err)
	}
	for _, row := range res.Rows {
	    email, _ := row.String("email")
	    fmt.Println(email)
	}

Single-row lookups return the first row or nil:

	row, err := dbsource.ExecuteOne(ctx, cfg, "SELECT * FROM users WHERE id = $1", id)
	if row == nil {
	    // not found
	}

# Connection Scope

Several operations against the same session:

	err := dbsource.WithConnection(ctx, pool, func(ctx context.Context, conn dbsource.Conn) error {
	    if _, err := dbsource.Execute(ctx, conn, "SET search_path TO tenant_42"); err != nil {
	        return err
	    }
	    _, err := dbsource.Execute(ctx, conn, "SELECT * FROM orders")
	    return err
	})

# Transactions

Callback-based (auto commit/rollback):

	err := dbsource.WithTransaction(ctx, pool, nil, func(ctx context.Context, conn dbsource.Conn) error {
	    if _, err := dbsource.Execute(ctx, conn, debitSQL, from, amount); err != nil {
	        return err // rollback
	    }
	    _, err := dbsource.Execute(ctx, conn, creditSQL, to, amount)
	    return err // commit on nil
	})

Options select isolation, read-only mode, or a dry run that always
rolls back:

	opts := &dbsource.TxOptions{Isolation: dbsource.LevelSerializable}
	err := dbsource.WithTransaction(ctx, pool, opts, transfer)

	dry := &dbsource.TxOptions{RollbackOnly: true}
	err = dbsource.WithTransaction(ctx, pool, dry, transfer) // work is discarded

Transactions nest through savepoints: a failing inner transaction rolls
back to its savepoint without disturbing the outer one.

# Error Handling

	_, err := dbsource.Execute(ctx, cfg, "INSERT INTO users (email) VALUES ($1)", email)
	if dbsource.IsDuplicate(err) {
	    // handle duplicate key
	}

	var srcErr *dbsource.Error
	if errors.As(err, &srcErr) {
	    fmt.Println(srcErr.Code)       // DUPLICATE
	    fmt.Println(srcErr.Constraint) // users_email_key
	    fmt.Println(srcErr.Detail)     // Key (email)=(test@example.com) already exists
	}
*/
package dbsource
