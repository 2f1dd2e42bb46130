package sqlbundle

import (
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	stmts := SplitStatements(SQLite())
	if len(stmts) != 1 {
		t.Fatalf("expected one sqlite statement, got %d", len(stmts))
	}
	for _, stmt := range stmts {
		if strings.HasPrefix(strings.TrimSpace(stmt), "--") {
			t.Fatalf("statement unexpectedly starts with comment: %q", stmt)
		}
		if !strings.HasSuffix(strings.TrimSpace(stmt), ";") {
			t.Fatalf("statement missing semicolon terminator: %q", stmt)
		}
	}
	if !strings.Contains(stmts[0], "CREATE TABLE IF NOT EXISTS state") {
		t.Fatalf("unexpected sqlite DDL %q", stmts[0])
	}
}

func TestSplitStatementsKeepsUnterminatedTail(t *testing.T) {
	stmts := SplitStatements("-- header\nSELECT 1;\n\nSELECT 2")
	if len(stmts) != 2 || stmts[0] != "SELECT 1;" || stmts[1] != "SELECT 2" {
		t.Fatalf("unexpected statements %q", stmts)
	}
}

func TestPostgresBundle(t *testing.T) {
	stmts := SplitStatements(Postgres(`"leads"`, `"deals"`))
	if len(stmts) != 2 {
		t.Fatalf("expected one statement per table, got %d", len(stmts))
	}
	if !strings.HasPrefix(stmts[1], `CREATE TABLE IF NOT EXISTS "deals" (`) {
		t.Fatalf("unexpected statement %q", stmts[1])
	}
	if !strings.Contains(stmts[0], "payload JSONB NOT NULL") {
		t.Fatalf("missing payload column: %q", stmts[0])
	}
	if len(SplitStatements(Postgres())) != 0 {
		t.Fatal("no tables should give no statements")
	}
}
