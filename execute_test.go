package dbsource

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestExecute_Text(t *testing.T) {
	conn := &fakeConn{results: []*Result{{
		Columns: []string{"id", "name"},
		Rows:    []Row{{"id": int64(1), "name": "alice"}},
	}}}

	res, err := Execute(context.Background(), conn, "SELECT id, name FROM users")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Len() != 1 {
		t.Errorf("Expected 1 row, got %d", res.Len())
	}
	if len(conn.executed) != 1 || conn.executed[0] != "SELECT id, name FROM users" {
		t.Errorf("Expected the statement text to reach the connection, got %v", conn.executed)
	}
}

func TestExecute_Params(t *testing.T) {
	conn := &fakeConn{}

	_, err := Execute(context.Background(), conn, "SELECT * FROM users WHERE id = $1 AND name = $2", 10, "alice")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want := []any{10, "alice"}
	if !reflect.DeepEqual(conn.params[0], want) {
		t.Errorf("Expected params %v, got %v", want, conn.params[0])
	}
}

func TestExecute_PreparedStatement(t *testing.T) {
	conn := &fakeConn{}
	stmt := &fakeStatement{name: "s1", sql: "SELECT * FROM users WHERE id = $1"}

	_, err := Execute(context.Background(), conn, stmt, 7)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// A Statement expression goes through the prepared path, not the text path.
	if len(conn.executed) != 0 {
		t.Errorf("Expected no text execution, got %v", conn.executed)
	}
	if len(conn.executedStmts) != 1 || conn.executedStmts[0] != stmt.sql {
		t.Errorf("Expected the prepared statement to be executed, got %v", conn.executedStmts)
	}
	if !reflect.DeepEqual(conn.params[0], []any{7}) {
		t.Errorf("Expected params [7], got %v", conn.params[0])
	}
}

func TestExecute_InvalidExpression(t *testing.T) {
	pool := &fakePool{}

	_, err := Execute(context.Background(), pool, 42)
	if !IsInvalidExpression(err) {
		t.Errorf("Expected invalid expression error, got %v", err)
	}
	// Validation happens before resolution, so nothing was borrowed.
	if pool.acquires != 0 {
		t.Errorf("Expected 0 acquires, got %d", pool.acquires)
	}

	value, ok := GetSourceValue(err)
	if !ok || value != 42 {
		t.Errorf("Expected the offending expression on the error, got %v", value)
	}
}

func TestExecute_NilExpression(t *testing.T) {
	conn := &fakeConn{}

	_, err := Execute(context.Background(), conn, nil)
	if !IsInvalidExpression(err) {
		t.Errorf("Expected invalid expression error, got %v", err)
	}
}

func TestExecute_NilSource(t *testing.T) {
	_, err := Execute(context.Background(), nil, "select 1")
	if !IsNilSource(err) {
		t.Errorf("Expected nil source error, got %v", err)
	}
}

func TestExecute_DoesNotReleasePool(t *testing.T) {
	pool := &fakePool{}

	_, err := Execute(context.Background(), pool, "select 1")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if pool.acquires != 1 {
		t.Errorf("Expected 1 acquire, got %d", pool.acquires)
	}
	// Execute hands ownership to the caller; the borrow stays out.
	if pool.releases != 0 {
		t.Errorf("Expected 0 releases, got %d", pool.releases)
	}
}

func TestExecute_DoesNotCloseConfigConn(t *testing.T) {
	_, err := Execute(context.Background(), Config{Driver: "fake"}, "select 1")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if lastFakeConn.closes != 0 {
		t.Errorf("Expected the opened connection to stay open, got %d closes", lastFakeConn.closes)
	}
}

func TestExecute_ErrorPropagated(t *testing.T) {
	execErr := errors.New("syntax error")
	conn := &fakeConn{execErr: execErr}

	_, err := Execute(context.Background(), conn, "selec 1")
	if !errors.Is(err, execErr) {
		t.Errorf("Expected the execution error, got %v", err)
	}
}

func TestExecuteOpts_Params(t *testing.T) {
	conn := &fakeConn{}

	_, err := ExecuteOpts(context.Background(), conn, "SELECT * FROM users WHERE id = $1", ExecOptions{Params: []any{3}})
	if err != nil {
		t.Fatalf("ExecuteOpts failed: %v", err)
	}
	if !reflect.DeepEqual(conn.params[0], []any{3}) {
		t.Errorf("Expected params [3], got %v", conn.params[0])
	}
}

func TestExecuteOne_FirstRow(t *testing.T) {
	conn := &fakeConn{results: []*Result{{
		Columns: []string{"name"},
		Rows:    []Row{{"name": "alice"}, {"name": "bob"}},
	}}}

	row, err := ExecuteOne(context.Background(), conn, "SELECT name FROM users ORDER BY id")
	if err != nil {
		t.Fatalf("ExecuteOne failed: %v", err)
	}
	name, _ := row.String("name")
	if name != "alice" {
		t.Errorf("Expected the first row, got %v", row)
	}
	// The single-row limit travels down to the execution primitive.
	if !conn.firstRowOnly[0] {
		t.Error("Expected FirstRowOnly to be set on the primitive call")
	}
}

func TestExecuteOne_Empty(t *testing.T) {
	conn := &fakeConn{}

	row, err := ExecuteOne(context.Background(), conn, "SELECT name FROM users WHERE id = $1", -1)
	if err != nil {
		t.Errorf("Expected no error for an empty result, got %v", err)
	}
	if row != nil {
		t.Errorf("Expected nil row for an empty result, got %v", row)
	}
}

func TestExecuteOne_Error(t *testing.T) {
	execErr := errors.New("relation does not exist")
	conn := &fakeConn{execErr: execErr}

	row, err := ExecuteOne(context.Background(), conn, "SELECT * FROM missing")
	if !errors.Is(err, execErr) {
		t.Errorf("Expected the execution error, got %v", err)
	}
	if row != nil {
		t.Errorf("Expected nil row on error, got %v", row)
	}
}

func TestExecuteOneOpts_ForcesFirstRowOnly(t *testing.T) {
	conn := &fakeConn{}

	// The caller's value is overridden; ExecuteOne always asks for one row.
	_, err := ExecuteOneOpts(context.Background(), conn, "select 1", ExecOptions{FirstRowOnly: false})
	if err != nil {
		t.Fatalf("ExecuteOneOpts failed: %v", err)
	}
	if !conn.firstRowOnly[0] {
		t.Error("Expected FirstRowOnly to be forced on")
	}
}

func TestExecuteOne_Statement(t *testing.T) {
	conn := &fakeConn{results: []*Result{{
		Columns: []string{"n"},
		Rows:    []Row{{"n": int64(42)}},
	}}}
	stmt := &fakeStatement{name: "s1", sql: "SELECT n FROM t"}

	row, err := ExecuteOne(context.Background(), conn, stmt)
	if err != nil {
		t.Fatalf("ExecuteOne failed: %v", err)
	}
	n, _ := row.Int64("n")
	if n != 42 {
		t.Errorf("Expected n=42, got %v", row)
	}
}

func TestPrepare(t *testing.T) {
	conn := &fakeConn{}

	stmt, err := Prepare(context.Background(), conn, "SELECT * FROM users WHERE id = $1")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if stmt.SQL() != "SELECT * FROM users WHERE id = $1" {
		t.Errorf("Expected the statement to keep its text, got %q", stmt.SQL())
	}
	if stmt.Name() == "" {
		t.Error("Expected the statement to have a name")
	}
}

func TestPrepare_DoesNotReleasePool(t *testing.T) {
	pool := &fakePool{}

	_, err := Prepare(context.Background(), pool, "select 1")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if pool.releases != 0 {
		t.Errorf("Expected 0 releases, got %d", pool.releases)
	}
}

func TestPrepare_Error(t *testing.T) {
	prepareErr := errors.New("syntax error")
	conn := &fakeConn{prepareErr: prepareErr}

	_, err := Prepare(context.Background(), conn, "selec 1")
	if !errors.Is(err, prepareErr) {
		t.Errorf("Expected the prepare error, got %v", err)
	}
}

func TestPrepare_NilSource(t *testing.T) {
	_, err := Prepare(context.Background(), nil, "select 1")
	if !IsNilSource(err) {
		t.Errorf("Expected nil source error, got %v", err)
	}
}
