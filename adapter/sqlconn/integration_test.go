package sqlconn

import (
	"context"
	"os"
	"testing"

	"github.com/fernandezvara/dbsource"
)

// testConfig builds a Config for the integration database. Tests are
// skipped unless TEST_DATABASE_URL is set.
func testConfig(t *testing.T) *dbsource.Config {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	return &dbsource.Config{URL: dbURL, Driver: "pgdriver", MaxOpenConns: 5}
}

func openTestPool(t *testing.T) *Pool {
	t.Helper()

	cfg := testConfig(t)
	pool, err := NewPool(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	err = dbsource.WithConnection(context.Background(), pool, func(ctx context.Context, conn dbsource.Conn) error {
		_, err := dbsource.Execute(ctx, conn, "DROP TABLE IF EXISTS sqlconn_test")
		return err
	})
	if err != nil {
		t.Fatalf("Failed to drop test table: %v", err)
	}
	return pool
}

func TestIntegration_ExecRoundTrip(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	err := dbsource.WithConnection(ctx, pool, func(ctx context.Context, conn dbsource.Conn) error {
		if _, err := dbsource.Execute(ctx, conn, "CREATE TABLE sqlconn_test (id SERIAL PRIMARY KEY, name TEXT NOT NULL)"); err != nil {
			return err
		}

		res, err := dbsource.Execute(ctx, conn, "INSERT INTO sqlconn_test (name) VALUES ($1)", "alice")
		if err != nil {
			return err
		}
		if res.RowsAffected != 1 {
			t.Errorf("Expected 1 row affected, got %d", res.RowsAffected)
		}

		row, err := dbsource.ExecuteOne(ctx, conn, "SELECT name FROM sqlconn_test WHERE name = $1", "alice")
		if err != nil {
			return err
		}
		if name, _ := row.String("name"); name != "alice" {
			t.Errorf("Expected alice, got %q", name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithConnection failed: %v", err)
	}
}

func TestIntegration_TransactionRoutesThroughTx(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	err := dbsource.WithConnection(ctx, pool, func(ctx context.Context, conn dbsource.Conn) error {
		if _, err := dbsource.Execute(ctx, conn, "CREATE TABLE sqlconn_test (n INTEGER)"); err != nil {
			return err
		}

		return dbsource.Transact(ctx, conn, &dbsource.TxOptions{RollbackOnly: true}, func(ctx context.Context, conn dbsource.Conn) error {
			if !dbsource.InTransaction(conn) {
				t.Error("Expected to be inside a transaction")
			}
			if _, err := dbsource.Execute(ctx, conn, "INSERT INTO sqlconn_test VALUES (1)"); err != nil {
				return err
			}
			row, err := dbsource.ExecuteOne(ctx, conn, "SELECT count(*) AS c FROM sqlconn_test")
			if err != nil {
				return err
			}
			if c, _ := row.Int64("c"); c != 1 {
				t.Errorf("Expected the transaction to see its insert, got %d", c)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	// rollback-only discarded the insert
	err = dbsource.WithConnection(ctx, pool, func(ctx context.Context, conn dbsource.Conn) error {
		row, err := dbsource.ExecuteOne(ctx, conn, "SELECT count(*) AS c FROM sqlconn_test")
		if err != nil {
			return err
		}
		if c, _ := row.Int64("c"); c != 0 {
			t.Errorf("Expected the work to be discarded, got %d rows", c)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithConnection failed: %v", err)
	}
}

func TestIntegration_PreparedStatementReboundInTx(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	err := dbsource.WithConnection(ctx, pool, func(ctx context.Context, conn dbsource.Conn) error {
		if _, err := dbsource.Execute(ctx, conn, "CREATE TABLE sqlconn_test (n INTEGER)"); err != nil {
			return err
		}

		// prepared outside the transaction, executed inside it
		stmt, err := dbsource.Prepare(ctx, conn, "INSERT INTO sqlconn_test VALUES ($1)")
		if err != nil {
			return err
		}
		return dbsource.Transact(ctx, conn, nil, func(ctx context.Context, conn dbsource.Conn) error {
			_, err := dbsource.Execute(ctx, conn, stmt, 42)
			return err
		})
	})
	if err != nil {
		t.Fatalf("WithConnection failed: %v", err)
	}

	err = dbsource.WithConnection(ctx, pool, func(ctx context.Context, conn dbsource.Conn) error {
		row, err := dbsource.ExecuteOne(ctx, conn, "SELECT n FROM sqlconn_test")
		if err != nil {
			return err
		}
		if n, _ := row.Int64("n"); n != 42 {
			t.Errorf("Expected 42, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithConnection failed: %v", err)
	}
}

func TestIntegration_PoolStats(t *testing.T) {
	pool := openTestPool(t)

	stats := pool.Stats()
	if stats.MaxOpenConnections != 5 {
		t.Errorf("Expected 5 max connections, got %d", stats.MaxOpenConnections)
	}

	status := dbsource.Health(context.Background(), pool)
	if !status.Healthy {
		t.Fatalf("Expected healthy, got %q", status.Error)
	}
	if status.Pool == nil {
		t.Error("Expected pool statistics in the health report")
	}
}

func TestIntegration_ConfigSourceOpensAndCloses(t *testing.T) {
	cfg := testConfig(t)

	err := dbsource.WithConnection(context.Background(), cfg, func(ctx context.Context, conn dbsource.Conn) error {
		row, err := dbsource.ExecuteOne(ctx, conn, "SELECT 1 AS one")
		if err != nil {
			return err
		}
		if one, _ := row.Int64("one"); one != 1 {
			t.Errorf("Expected 1, got %d", one)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithConnection failed: %v", err)
	}
}
