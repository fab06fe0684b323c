package dbsource

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ErrorCode represents a database error classification
type ErrorCode string

const (
	CodeNilSource         ErrorCode = "NIL_SOURCE"
	CodeUnsupportedSource ErrorCode = "UNSUPPORTED_SOURCE"
	CodeInvalidExpression ErrorCode = "INVALID_EXPRESSION"
	CodeNotImplemented    ErrorCode = "NOT_IMPLEMENTED"
	CodeDuplicate         ErrorCode = "DUPLICATE"
	CodeForeignKey        ErrorCode = "FOREIGN_KEY"
	CodeCheckViolation    ErrorCode = "CHECK_VIOLATION"
	CodeNotNullViolation  ErrorCode = "NOT_NULL"
	CodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeSerialization     ErrorCode = "SERIALIZATION"
	CodeDeadlock          ErrorCode = "DEADLOCK"
	CodeUnknown           ErrorCode = "UNKNOWN"
)

// Sentinel errors for quick checks
var (
	ErrNilSource         = errors.New("dbsource: nil source")
	ErrUnsupportedSource = errors.New("dbsource: unsupported source")
	ErrInvalidExpression = errors.New("dbsource: invalid executable expression")
	ErrNotImplemented    = errors.New("dbsource: batch execution is not implemented")
	ErrDuplicate         = errors.New("dbsource: duplicate key violation")
	ErrForeignKey        = errors.New("dbsource: foreign key violation")
	ErrCheckViolation    = errors.New("dbsource: check constraint violation")
	ErrNotNullViolation  = errors.New("dbsource: not null violation")
	ErrConnection        = errors.New("dbsource: connection failed")
	ErrTimeout           = errors.New("dbsource: operation timeout")
	ErrSerialization     = errors.New("dbsource: serialization failure")
	ErrDeadlock          = errors.New("dbsource: deadlock detected")
)

// Error is a rich database error with context
type Error struct {
	Code       ErrorCode // Error classification
	Message    string    // Human-readable message
	Op         string    // Operation that failed (e.g., "Execute", "Begin")
	Value      any       // Offending value for source/expression errors
	Table      string    // Table name if known
	Column     string    // Column name if known
	Constraint string    // Constraint name if applicable
	Detail     string    // Additional detail from PostgreSQL
	Hint       string    // Hint from PostgreSQL
	Query      string    // Query that failed (may be empty for security)
	Cause      error     // Underlying error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("dbsource: %s", e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("dbsource.%s: %s", e.Op, e.Message)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (got %T)", e.Value)
	}
	if e.Table != "" {
		msg += fmt.Sprintf(" (table: %s)", e.Table)
	}
	if e.Constraint != "" {
		msg += fmt.Sprintf(" (constraint: %s)", e.Constraint)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for sentinel error matching
func (e *Error) Is(target error) bool {
	switch e.Code {
	case CodeNilSource:
		return target == ErrNilSource
	case CodeUnsupportedSource:
		return target == ErrUnsupportedSource
	case CodeInvalidExpression:
		return target == ErrInvalidExpression
	case CodeNotImplemented:
		return target == ErrNotImplemented
	case CodeDuplicate:
		return target == ErrDuplicate
	case CodeForeignKey:
		return target == ErrForeignKey
	case CodeCheckViolation:
		return target == ErrCheckViolation
	case CodeNotNullViolation:
		return target == ErrNotNullViolation
	case CodeConnectionFailed:
		return target == ErrConnection
	case CodeTimeout:
		return target == ErrTimeout
	case CodeSerialization:
		return target == ErrSerialization
	case CodeDeadlock:
		return target == ErrDeadlock
	}
	return false
}

// errNilSource reports an absent source.
func errNilSource(op string) error {
	return &Error{
		Code:    CodeNilSource,
		Message: "source is nil",
		Op:      op,
	}
}

// errUnsupportedSource reports a source that is neither a Conn, a Pool,
// nor a Config. The offending value is carried for diagnostics.
func errUnsupportedSource(op string, value any) error {
	return &Error{
		Code:    CodeUnsupportedSource,
		Message: "source is not a connection, pool, or configuration",
		Op:      op,
		Value:   value,
	}
}

// errInvalidExpression reports an executable expression that is neither
// statement text nor a prepared statement handle.
func errInvalidExpression(op string, value any) error {
	return &Error{
		Code:    CodeInvalidExpression,
		Message: "expression is not statement text or a prepared statement",
		Op:      op,
		Value:   value,
	}
}

func errNotImplemented(op string) error {
	return &Error{
		Code:    CodeNotImplemented,
		Message: "batch execution is not implemented",
		Op:      op,
	}
}

// WrapError converts a raw driver error to a rich Error. Adapters call it
// on everything they return; already-wrapped errors pass through unchanged.
func WrapError(err error, op string) error {
	if err == nil {
		return nil
	}

	// Already wrapped
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return err
	}

	// PostgreSQL errors via pgx
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgError(op, pgErr.Code, pgErr.Message, pgErr.TableName, pgErr.ColumnName, pgErr.ConstraintName, pgErr.Detail, pgErr.Hint, pgErr)
	}

	// PostgreSQL errors via pgdriver
	var pgdErr pgdriver.Error
	if errors.As(err, &pgdErr) {
		return pgError(op, pgdErr.Field('C'), pgdErr.Field('M'), pgdErr.Field('t'), pgdErr.Field('c'), pgdErr.Field('n'), pgdErr.Field('D'), pgdErr.Field('H'), pgdErr)
	}

	// Generic wrapping
	return &Error{
		Code:    CodeUnknown,
		Message: err.Error(),
		Op:      op,
		Cause:   err,
	}
}

// pgError maps PostgreSQL SQLSTATE codes to rich errors.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
func pgError(op, code, message, table, column, constraint, detail, hint string, cause error) *Error {
	e := &Error{
		Op:         op,
		Table:      table,
		Column:     column,
		Constraint: constraint,
		Detail:     detail,
		Hint:       hint,
		Cause:      cause,
	}

	switch code {
	case "23505": // unique_violation
		e.Code = CodeDuplicate
		e.Message = "duplicate key value violates unique constraint"
	case "23503": // foreign_key_violation
		e.Code = CodeForeignKey
		e.Message = "foreign key constraint violation"
	case "23502": // not_null_violation
		e.Code = CodeNotNullViolation
		e.Message = "null value in column violates not-null constraint"
	case "23514": // check_violation
		e.Code = CodeCheckViolation
		e.Message = "check constraint violation"
	case "40001": // serialization_failure
		e.Code = CodeSerialization
		e.Message = "serialization failure, retry transaction"
	case "40P01": // deadlock_detected
		e.Code = CodeDeadlock
		e.Message = "deadlock detected"
	case "57014": // query_canceled (timeout)
		e.Code = CodeTimeout
		e.Message = "query was cancelled due to timeout"
	case "08000", "08003", "08006": // connection errors
		e.Code = CodeConnectionFailed
		e.Message = "database connection failed"
	default:
		e.Code = CodeUnknown
		e.Message = message
	}

	return e
}

// IsNilSource checks if error is a nil source error
func IsNilSource(err error) bool {
	return errors.Is(err, ErrNilSource)
}

// IsUnsupportedSource checks if error is an unsupported source error
func IsUnsupportedSource(err error) bool {
	return errors.Is(err, ErrUnsupportedSource)
}

// IsInvalidExpression checks if error is an invalid expression error
func IsInvalidExpression(err error) bool {
	return errors.Is(err, ErrInvalidExpression)
}

// IsNotImplemented checks if error is a not implemented error
func IsNotImplemented(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}

// IsDuplicate checks if error is a duplicate key error
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsForeignKey checks if error is a foreign key error
func IsForeignKey(err error) bool {
	return errors.Is(err, ErrForeignKey)
}

// IsCheckViolation checks if error is a check constraint error
func IsCheckViolation(err error) bool {
	return errors.Is(err, ErrCheckViolation)
}

// IsNotNullViolation checks if error is a not null violation error
func IsNotNullViolation(err error) bool {
	return errors.Is(err, ErrNotNullViolation)
}

// IsConnection checks if error is a connection error
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsTimeout checks if error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the error is retryable (serialization, deadlock)
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerialization) || errors.Is(err, ErrDeadlock)
}

// GetErrorCode extracts the error code if it's a dbsource error
func GetErrorCode(err error) (ErrorCode, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return dbErr.Code, true
	}
	return "", false
}

// GetConstraint extracts the constraint name if available
func GetConstraint(err error) (string, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Constraint != "" {
		return dbErr.Constraint, true
	}
	return "", false
}

// GetTable extracts the table name if available
func GetTable(err error) (string, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Table != "" {
		return dbErr.Table, true
	}
	return "", false
}

// GetColumn extracts the column name if available
func GetColumn(err error) (string, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Column != "" {
		return dbErr.Column, true
	}
	return "", false
}

// GetDetail extracts the error detail if available
func GetDetail(err error) (string, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Detail != "" {
		return dbErr.Detail, true
	}
	return "", false
}

// GetHint extracts the error hint if available
func GetHint(err error) (string, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Hint != "" {
		return dbErr.Hint, true
	}
	return "", false
}

// GetSourceValue extracts the offending value from a source or expression
// error, for diagnostics.
func GetSourceValue(err error) (any, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Value != nil {
		return dbErr.Value, true
	}
	return nil, false
}
