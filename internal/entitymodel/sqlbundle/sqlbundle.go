// Package sqlbundle holds the DDL the SQL stores run at startup.
package sqlbundle

import (
	"bufio"
	_ "embed"
	"strings"
)

//go:embed sqlite.sql
var sqliteDDL string

// SQLite returns the DDL for the local snapshot database.
func SQLite() string {
	return sqliteDDL
}

// Postgres returns one CREATE TABLE statement per quoted table identifier.
// Every remote table stores a JSONB payload keyed by record id.
func Postgres(idents ...string) string {
	var b strings.Builder
	b.WriteString("-- Remote collection tables.\n")
	for _, ident := range idents {
		b.WriteString("CREATE TABLE IF NOT EXISTS " + ident + " (\n")
		b.WriteString("\tid TEXT PRIMARY KEY,\n")
		b.WriteString("\tpayload JSONB NOT NULL,\n")
		b.WriteString("\tupdated_at TIMESTAMPTZ NOT NULL DEFAULT now()\n")
		b.WriteString(");\n")
	}
	return b.String()
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}

	return stmts
}
