package dbsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Migration represents a single migration to execute
type Migration struct {
	ID          string // Unique identifier (e.g., "001", "20240115120000", or any string)
	Description string // Human-readable description
	SQL         string // SQL statements to execute
	DownSQL     string // Optional statements reversing SQL (used by RollbackLast)
}

// MigrationResult represents the result of running migrations
type MigrationResult struct {
	Applied   []AppliedMigration
	Skipped   []string // IDs that were already applied
	TotalTime time.Duration
}

// AppliedMigration represents a successfully applied migration
type AppliedMigration struct {
	ID          string
	Description string
	AppliedAt   time.Time
	Duration    time.Duration
	Checksum    string
}

// MigrationStatusEntry represents the status of a single migration
type MigrationStatusEntry struct {
	ID            string
	Description   string
	Checksum      string
	Applied       bool
	ChecksumMatch bool // Only relevant if Applied is true
}

// migrationsTable is the schema for tracking migrations. The column
// types are the portable subset understood by every registered driver;
// applied_at is always inserted explicitly.
const migrationsTable = `
CREATE TABLE IF NOT EXISTS _dbsource_migrations (
    id VARCHAR(255) PRIMARY KEY,
    description TEXT,
    checksum VARCHAR(64) NOT NULL,
    applied_at TIMESTAMP NOT NULL,
    duration_ms BIGINT NOT NULL
)`

// Migrate executes migrations in order, skipping already-applied ones.
// Each migration runs in its own transaction together with the row that
// records it. The whole run happens on a single connection resolved from
// the source.
func Migrate(ctx context.Context, source any, migrations []Migration) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{
		Applied: make([]AppliedMigration, 0),
		Skipped: make([]string, 0),
	}

	err := WithConnection(ctx, source, func(ctx context.Context, conn Conn) error {
		if err := ensureMigrationsTable(ctx, conn, "Migrate"); err != nil {
			return err
		}

		applied, err := getAppliedChecksums(ctx, conn)
		if err != nil {
			return err
		}

		for _, m := range migrations {
			checksum := checksumSQL(m.SQL)

			if existing, ok := applied[m.ID]; ok {
				if existing != checksum {
					return &Error{
						Code:    CodeUnknown,
						Message: fmt.Sprintf("migration %s has changed (checksum mismatch: expected %s, got %s)", m.ID, existing, checksum),
						Op:      "Migrate",
					}
				}
				result.Skipped = append(result.Skipped, m.ID)
				continue
			}

			migrationStart := time.Now()
			if err := applyMigration(ctx, conn, m, checksum, migrationStart); err != nil {
				return err
			}

			result.Applied = append(result.Applied, AppliedMigration{
				ID:          m.ID,
				Description: m.Description,
				AppliedAt:   time.Now(),
				Duration:    time.Since(migrationStart),
				Checksum:    checksum,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.TotalTime = time.Since(start)
	return result, nil
}

// ensureMigrationsTable creates the tracking table if missing
func ensureMigrationsTable(ctx context.Context, conn Conn, op string) error {
	if _, err := Execute(ctx, conn, migrationsTable); err != nil {
		return &Error{
			Code:    CodeUnknown,
			Message: "failed to create migrations table",
			Op:      op,
			Cause:   err,
		}
	}
	return nil
}

// getAppliedChecksums returns a map of migration ID to checksum
func getAppliedChecksums(ctx context.Context, conn Conn) (map[string]string, error) {
	res, err := Execute(ctx, conn, "SELECT id, checksum FROM _dbsource_migrations")
	if err != nil {
		return nil, err
	}

	applied := make(map[string]string, res.Len())
	for _, row := range res.Rows {
		id, _ := row.String("id")
		checksum, _ := row.String("checksum")
		applied[id] = checksum
	}
	return applied, nil
}

// applyMigration executes a single migration within a transaction
func applyMigration(ctx context.Context, conn Conn, m Migration, checksum string, startTime time.Time) error {
	return Transact(ctx, conn, nil, func(ctx context.Context, conn Conn) error {
		for _, stmt := range splitStatements(m.SQL) {
			if _, err := Execute(ctx, conn, stmt); err != nil {
				return &Error{
					Code:    CodeUnknown,
					Message: fmt.Sprintf("migration %s failed: %v", m.ID, err),
					Op:      "Migrate.Apply",
					Query:   truncateSQL(stmt, 200),
					Cause:   err,
				}
			}
		}

		durationMs := time.Since(startTime).Milliseconds()

		_, err := Execute(ctx, conn,
			"INSERT INTO _dbsource_migrations (id, description, checksum, applied_at, duration_ms) VALUES ($1, $2, $3, $4, $5)",
			m.ID, m.Description, checksum, time.Now().UTC(), durationMs)
		return err
	})
}

// MigrationStatus returns the status of all known migrations
func MigrationStatus(ctx context.Context, source any, migrations []Migration) ([]MigrationStatusEntry, error) {
	var result []MigrationStatusEntry

	err := WithConnection(ctx, source, func(ctx context.Context, conn Conn) error {
		if err := ensureMigrationsTable(ctx, conn, "MigrationStatus"); err != nil {
			return err
		}

		applied, err := getAppliedChecksums(ctx, conn)
		if err != nil {
			return err
		}

		for _, m := range migrations {
			checksum := checksumSQL(m.SQL)
			entry := MigrationStatusEntry{
				ID:          m.ID,
				Description: m.Description,
				Checksum:    checksum,
			}
			if appliedChecksum, ok := applied[m.ID]; ok {
				entry.Applied = true
				entry.ChecksumMatch = appliedChecksum == checksum
			}
			result = append(result, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetAppliedMigrations returns all migrations that have been applied, in
// application order
func GetAppliedMigrations(ctx context.Context, source any) ([]AppliedMigration, error) {
	var result []AppliedMigration

	err := WithConnection(ctx, source, func(ctx context.Context, conn Conn) error {
		if err := ensureMigrationsTable(ctx, conn, "GetAppliedMigrations"); err != nil {
			return err
		}

		res, err := Execute(ctx, conn,
			"SELECT id, description, checksum, applied_at, duration_ms FROM _dbsource_migrations ORDER BY applied_at ASC")
		if err != nil {
			return err
		}

		result = make([]AppliedMigration, 0, res.Len())
		for _, row := range res.Rows {
			id, _ := row.String("id")
			description, _ := row.String("description")
			checksum, _ := row.String("checksum")
			appliedAt, _ := row.Time("applied_at")
			durationMs, _ := row.Int64("duration_ms")

			result = append(result, AppliedMigration{
				ID:          id,
				Description: description,
				AppliedAt:   appliedAt,
				Duration:    time.Duration(durationMs) * time.Millisecond,
				Checksum:    checksum,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RollbackLast reverses the most recently applied migration using its
// DownSQL. The migrations slice supplies the down statements; migrations
// without DownSQL cannot be rolled back.
func RollbackLast(ctx context.Context, source any, migrations []Migration) (string, error) {
	byID := make(map[string]Migration, len(migrations))
	for _, m := range migrations {
		byID[m.ID] = m
	}

	var rolledBack string
	err := WithConnection(ctx, source, func(ctx context.Context, conn Conn) error {
		applied, err := GetAppliedMigrations(ctx, conn)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			return &Error{
				Code:    CodeUnknown,
				Message: "no migrations to roll back",
				Op:      "RollbackLast",
			}
		}

		last := applied[len(applied)-1]
		m, ok := byID[last.ID]
		if !ok {
			return &Error{
				Code:    CodeUnknown,
				Message: fmt.Sprintf("migration %s is applied but not in the provided list", last.ID),
				Op:      "RollbackLast",
			}
		}
		if m.DownSQL == "" {
			return &Error{
				Code:    CodeUnknown,
				Message: fmt.Sprintf("migration %s has no down SQL", last.ID),
				Op:      "RollbackLast",
			}
		}

		rolledBack = last.ID
		return Transact(ctx, conn, nil, func(ctx context.Context, conn Conn) error {
			for _, stmt := range splitStatements(m.DownSQL) {
				if _, err := Execute(ctx, conn, stmt); err != nil {
					return &Error{
						Code:    CodeUnknown,
						Message: fmt.Sprintf("rollback of migration %s failed: %v", m.ID, err),
						Op:      "RollbackLast",
						Query:   truncateSQL(stmt, 200),
						Cause:   err,
					}
				}
			}
			_, err := Execute(ctx, conn, "DELETE FROM _dbsource_migrations WHERE id = $1", m.ID)
			return err
		})
	})
	if err != nil {
		return "", err
	}
	return rolledBack, nil
}

// checksumSQL creates a SHA256 checksum of SQL content
func checksumSQL(sql string) string {
	hash := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(hash[:])
}

// truncateSQL truncates SQL for error messages
func truncateSQL(sql string, maxLen int) string {
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen] + "..."
}

// splitStatements splits a migration script into individual statements.
// Semicolons inside single- or double-quoted strings, comments, and
// dollar-quoted blocks do not split. Comments are dropped.
func splitStatements(script string) []string {
	var stmts []string
	var buf strings.Builder

	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			stmts = append(stmts, s)
		}
		buf.Reset()
	}

	i := 0
	for i < len(script) {
		c := script[i]
		switch {
		case c == '\'' || c == '"':
			quote := c
			buf.WriteByte(c)
			i++
			for i < len(script) {
				buf.WriteByte(script[i])
				if script[i] == quote {
					// a doubled quote escapes itself
					if i+1 < len(script) && script[i+1] == quote {
						i++
						buf.WriteByte(script[i])
						i++
						continue
					}
					i++
					break
				}
				i++
			}
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			// block comments nest, per PostgreSQL
			depth := 1
			i += 2
			for i < len(script) && depth > 0 {
				switch {
				case i+1 < len(script) && script[i] == '/' && script[i+1] == '*':
					depth++
					i += 2
				case i+1 < len(script) && script[i] == '*' && script[i+1] == '/':
					depth--
					i += 2
				default:
					i++
				}
			}
		case c == '$':
			if tag, ok := dollarTag(script[i:]); ok {
				rest := script[i+len(tag):]
				if end := strings.Index(rest, tag); end >= 0 {
					buf.WriteString(script[i : i+len(tag)+end+len(tag)])
					i += len(tag) + end + len(tag)
					continue
				}
			}
			buf.WriteByte(c)
			i++
		case c == ';':
			flush()
			i++
		default:
			buf.WriteByte(c)
			i++
		}
	}
	flush()
	return stmts
}

// dollarTag reports whether s starts a PostgreSQL dollar-quote opener
// like $$ or $body$ and returns the opener
func dollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1], true
		}
		isAlpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
		isDigit := c >= '0' && c <= '9'
		if !isAlpha && !isDigit {
			return "", false
		}
		// positional parameters like $1 are not dollar quotes
		if j == 1 && isDigit {
			return "", false
		}
	}
	return "", false
}
