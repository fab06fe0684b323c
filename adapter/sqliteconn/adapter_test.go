package sqliteconn

import (
	"context"
	"errors"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/fernandezvara/dbsource"
)

// openTestConn opens a fresh in-memory database
func openTestConn(t *testing.T) *Conn {
	t.Helper()

	raw, err := sqlite.OpenConn(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := prepareConn(raw); err != nil {
		t.Fatalf("Failed to prepare connection: %v", err)
	}
	conn := FromConn(raw)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func mustExec(t *testing.T, conn *Conn, sql string, params ...any) *dbsource.Result {
	t.Helper()
	res, err := conn.ExecText(context.Background(), sql, dbsource.ExecOptions{Params: params})
	if err != nil {
		t.Fatalf("ExecText(%q) failed: %v", sql, err)
	}
	return res
}

func TestExecText_RoundTrip(t *testing.T) {
	conn := openTestConn(t)

	mustExec(t, conn, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER)")
	mustExec(t, conn, "INSERT INTO users (name, age) VALUES ($1, $2)", "alice", int64(30))
	mustExec(t, conn, "INSERT INTO users (name, age) VALUES ($1, $2)", "bob", int64(25))

	res := mustExec(t, conn, "SELECT name, age FROM users ORDER BY id")
	if len(res.Columns) != 2 || res.Columns[0] != "name" {
		t.Errorf("Unexpected columns: %v", res.Columns)
	}
	if res.Len() != 2 {
		t.Fatalf("Expected 2 rows, got %d", res.Len())
	}
	name, _ := res.Rows[0].String("name")
	if name != "alice" {
		t.Errorf("Expected alice, got %q", name)
	}
	age, ok := res.Rows[1].Int64("age")
	if !ok || age != 25 {
		t.Errorf("Expected age 25, got %d (ok=%v)", age, ok)
	}
}

func TestExecText_RowsAffected(t *testing.T) {
	conn := openTestConn(t)

	mustExec(t, conn, "CREATE TABLE items (n INTEGER)")
	mustExec(t, conn, "INSERT INTO items VALUES (1)")
	mustExec(t, conn, "INSERT INTO items VALUES (2)")

	res := mustExec(t, conn, "UPDATE items SET n = n + 1")
	if res.RowsAffected != 2 {
		t.Errorf("Expected 2 rows affected, got %d", res.RowsAffected)
	}
}

func TestExecText_FirstRowOnly(t *testing.T) {
	conn := openTestConn(t)

	mustExec(t, conn, "CREATE TABLE nums (n INTEGER)")
	mustExec(t, conn, "INSERT INTO nums VALUES (1), (2), (3)")

	res, err := conn.ExecText(context.Background(), "SELECT n FROM nums ORDER BY n",
		dbsource.ExecOptions{FirstRowOnly: true})
	if err != nil {
		t.Fatalf("ExecText failed: %v", err)
	}
	if res.Len() != 1 {
		t.Fatalf("Expected a single row, got %d", res.Len())
	}
	if n, _ := res.Rows[0].Int64("n"); n != 1 {
		t.Errorf("Expected the first row, got n=%d", n)
	}
}

func TestBindAndReadTypes(t *testing.T) {
	conn := openTestConn(t)
	mustExec(t, conn, "CREATE TABLE vals (b INTEGER, f REAL, s TEXT, bl BLOB, t TEXT, n TEXT)")

	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	mustExec(t, conn, "INSERT INTO vals VALUES ($1, $2, $3, $4, $5, $6)",
		true, 3.5, "text", []byte{0x1, 0x2}, now, nil)

	row := mustExec(t, conn, "SELECT * FROM vals").First()
	if row == nil {
		t.Fatal("Expected a row")
	}
	if b, _ := row.Bool("b"); !b {
		t.Error("Expected b=true")
	}
	if f, _ := row.Float64("f"); f != 3.5 {
		t.Errorf("Expected f=3.5, got %v", f)
	}
	if s, _ := row.String("s"); s != "text" {
		t.Errorf("Expected s=text, got %q", s)
	}
	if bl, _ := row.Bytes("bl"); len(bl) != 2 || bl[0] != 0x1 {
		t.Errorf("Unexpected blob: %v", bl)
	}
	if ts, ok := row.Time("t"); !ok || !ts.Equal(now) {
		t.Errorf("Expected t=%v, got %v (ok=%v)", now, ts, ok)
	}
	if row["n"] != nil {
		t.Errorf("Expected NULL, got %v", row["n"])
	}
}

func TestBindValue_Unsupported(t *testing.T) {
	conn := openTestConn(t)
	mustExec(t, conn, "CREATE TABLE vals (v TEXT)")

	_, err := conn.ExecText(context.Background(), "INSERT INTO vals VALUES ($1)",
		dbsource.ExecOptions{Params: []any{struct{}{}}})
	if err == nil {
		t.Fatal("Expected a bind error for an unsupported type")
	}
}

func TestPrepareAndExecStatement(t *testing.T) {
	conn := openTestConn(t)
	mustExec(t, conn, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	mustExec(t, conn, "INSERT INTO kv VALUES ('a', 'one'), ('b', 'two')")

	stmt, err := conn.Prepare(context.Background(), "SELECT v FROM kv WHERE k = $1")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if stmt.Name() == "" || stmt.SQL() == "" {
		t.Error("Expected the statement to carry its name and text")
	}

	for k, want := range map[string]string{"a": "one", "b": "two"} {
		res, err := conn.ExecStatement(context.Background(), stmt, dbsource.ExecOptions{Params: []any{k}})
		if err != nil {
			t.Fatalf("ExecStatement failed: %v", err)
		}
		if v, _ := res.First().String("v"); v != want {
			t.Errorf("Expected %q for key %q, got %q", want, k, v)
		}
	}
}

func TestExecStatement_ForeignStatement(t *testing.T) {
	conn := openTestConn(t)

	_, err := conn.ExecStatement(context.Background(), foreignStatement{}, dbsource.ExecOptions{})
	var dbErr *dbsource.Error
	if !errors.As(err, &dbErr) || dbErr.Code != dbsource.CodeInvalidExpression {
		t.Fatalf("Expected an invalid expression error, got %v", err)
	}
}

type foreignStatement struct{}

func (foreignStatement) Name() string { return "foreign" }
func (foreignStatement) SQL() string  { return "SELECT 1" }

func TestPrepare_Invalid(t *testing.T) {
	conn := openTestConn(t)

	if _, err := conn.Prepare(context.Background(), "SELECT FROM WHERE"); err == nil {
		t.Fatal("Expected a prepare error for invalid SQL")
	}
}

func TestTransactionLifecycle(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()
	mustExec(t, conn, "CREATE TABLE t (n INTEGER)")

	if !conn.Idle() {
		t.Fatal("Expected idle before begin")
	}
	if err := conn.Begin(ctx, dbsource.BeginOptions{}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if conn.Idle() {
		t.Fatal("Expected in-transaction after begin")
	}

	mustExec(t, conn, "INSERT INTO t VALUES (1)")
	if err := conn.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !conn.Idle() {
		t.Fatal("Expected idle after commit")
	}
	if mustExec(t, conn, "SELECT count(*) AS c FROM t").First()["c"] != int64(1) {
		t.Error("Expected the committed row")
	}
}

func TestRollbackDiscardsWork(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()
	mustExec(t, conn, "CREATE TABLE t (n INTEGER)")

	if err := conn.Begin(ctx, dbsource.BeginOptions{}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	mustExec(t, conn, "INSERT INTO t VALUES (1)")
	if err := conn.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if !conn.Idle() {
		t.Fatal("Expected idle after rollback")
	}
	if mustExec(t, conn, "SELECT count(*) AS c FROM t").First()["c"] != int64(0) {
		t.Error("Expected the insert to be discarded")
	}
}

func TestBegin_AlreadyOpen(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()

	if err := conn.Begin(ctx, dbsource.BeginOptions{}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := conn.Begin(ctx, dbsource.BeginOptions{}); err == nil {
		t.Fatal("Expected an error beginning twice")
	}
	if err := conn.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	conn := openTestConn(t)
	mustExec(t, conn, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT UNIQUE, name TEXT NOT NULL)")
	mustExec(t, conn, "CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users(id))")
	mustExec(t, conn, "INSERT INTO users VALUES (1, 'a@example.com', 'alice')")

	tests := []struct {
		name  string
		sql   string
		check func(error) bool
	}{
		{"duplicate", "INSERT INTO users VALUES (2, 'a@example.com', 'dup')", dbsource.IsDuplicate},
		{"not null", "INSERT INTO users (id, email) VALUES (3, 'c@example.com')", dbsource.IsNotNullViolation},
		{"foreign key", "INSERT INTO posts VALUES (1, 999)", dbsource.IsForeignKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := conn.ExecText(context.Background(), tt.sql, dbsource.ExecOptions{})
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !tt.check(err) {
				t.Errorf("Error not classified as expected: %v", err)
			}
		})
	}
}

func TestOpener_Registered(t *testing.T) {
	found := false
	for _, name := range dbsource.Openers() {
		if name == "sqlite" {
			found = true
		}
	}
	if !found {
		t.Fatal("Expected the sqlite opener to be registered")
	}
}

func TestOpener_MissingPath(t *testing.T) {
	cfg := &dbsource.Config{Driver: "sqlite"}
	if _, err := cfg.Connect(context.Background()); err == nil {
		t.Fatal("Expected an error without a database path")
	}
}
