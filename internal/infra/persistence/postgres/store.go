// Package postgres implements the remote keyed-table datastore on Postgres.
// Each collection is a table of (id, payload JSONB, updated_at) rows.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"crmcore/internal/entitymodel/sqlbundle"
	"crmcore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.RemoteStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/crmcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a RemoteStore backed by a Postgres database.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres connection using dsn (falls back to defaultDSN),
// verifies it and creates any missing collection tables.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Tables lists every remote table in creation order.
func Tables() []string {
	out := make([]string, 0, len(domain.EntityTypes())+1)
	for _, t := range domain.EntityTypes() {
		out = append(out, string(t))
	}
	return append(out, domain.CustomEntitiesTable)
}

// tableIdent validates table against the known collections and returns the
// quoted identifier. Table names never come from free-form input.
func tableIdent(table string) (string, error) {
	if table != domain.CustomEntitiesTable {
		if _, ok := domain.ParseEntityType(table); !ok {
			return "", fmt.Errorf("%w: %q", domain.ErrUnknownEntityType, table)
		}
	}
	return `"` + table + `"`, nil
}

// EnsureSchema creates every collection table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	idents := make([]string, 0, len(Tables()))
	for _, table := range Tables() {
		ident, err := tableIdent(table)
		if err != nil {
			return err
		}
		idents = append(idents, ident)
	}
	for _, stmt := range sqlbundle.SplitStatements(sqlbundle.Postgres(idents...)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Insert writes a new row. Replaying an insert for an existing id is a no-op
// so retries stay idempotent.
func (s *Store) Insert(ctx context.Context, table string, rec domain.Record) error {
	ident, err := tableIdent(table)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, rec.ID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO `+ident+` (id, payload, updated_at) VALUES ($1, $2, now()) ON CONFLICT (id) DO NOTHING`,
		rec.ID, payload); err != nil {
		return fmt.Errorf("insert %s %s: %w", table, rec.ID, err)
	}
	return nil
}

// Update replaces the payload of id, creating the row when it is missing.
func (s *Store) Update(ctx context.Context, table, id string, rec domain.Record) error {
	ident, err := tableIdent(table)
	if err != nil {
		return err
	}
	rec.ID = id
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO `+ident+` (id, payload, updated_at) VALUES ($1, $2, now()) ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		id, payload); err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	return nil
}

// Delete removes the row with id. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	ident, err := tableIdent(table)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+ident+` WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

// LoadAll reads every table.
func (s *Store) LoadAll(ctx context.Context) (map[string][]domain.Record, error) {
	out := make(map[string][]domain.Record, len(Tables()))
	for _, table := range Tables() {
		recs, err := s.loadTable(ctx, table)
		if err != nil {
			return nil, err
		}
		out[table] = recs
	}
	return out, nil
}

func (s *Store) loadTable(ctx context.Context, table string) ([]domain.Record, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM `+ident+` ORDER BY updated_at, id`)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var recs []domain.Record
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var rec domain.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", table, id, err)
		}
		rec.ID = id
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return recs, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
