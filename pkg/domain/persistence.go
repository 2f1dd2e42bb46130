package domain

import (
	"context"
	"errors"
	"time"
)

// Store errors shared by every backend.
var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrImmutableAudit    = errors.New("audit log entries are append-only")
	ErrRecordExists      = errors.New("record already exists")
	ErrRecordNotFound    = errors.New("record not found")
)

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	FindCustom(name, id string) (Record, bool)
	CustomEntityNames() []string
	Numbering() map[DocumentKind]NumberingSeries
	Settings() Settings
}

// Transaction exposes the record operations a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	Find(t EntityType, id string) (Record, bool)
	List(t EntityType) []Record
	Create(t EntityType, rec Record) (Record, error)
	Update(t EntityType, id string, mutator func(*Record) error) (Record, error)
	Delete(t EntityType, id string) error
	NextDocumentNumber(kind DocumentKind) (string, error)
	SetNumbering(kind DocumentKind, series NumberingSeries) error
	AppendAudit(entry AuditEntry) (Record, error)
	FindCustom(name, id string) (Record, bool)
	UpsertCustom(name string, rec Record) (Record, bool, error)
	DeleteCustom(name, id string) error
	SetSettings(Settings)
}

// PersistentStore is the transactional record store consumed by the
// lifecycle service.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Commit, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}

// RemoteStore is the external keyed-table datastore the service syncs to.
type RemoteStore interface {
	Insert(ctx context.Context, table string, rec Record) error
	Update(ctx context.Context, table, id string, rec Record) error
	Delete(ctx context.Context, table, id string) error
	LoadAll(ctx context.Context) (map[string][]Record, error)
}

// SnapshotStore persists named buckets of serialized collections for
// offline continuity.
type SnapshotStore interface {
	SaveBuckets(ctx context.Context, buckets map[string][]byte) error
	LoadBuckets(ctx context.Context) (map[string][]byte, error)
}
