// Package memory provides the in-memory transactional record store. Every
// collection, custom entity, numbering series and the tenant settings live in
// a single state value that transactions clone, mutate and swap in on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crmcore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Record aliases domain.Record for in-memory persistence operations.
	Record = domain.Record
	// EntityType aliases domain.EntityType.
	EntityType = domain.EntityType
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Commit aliases domain.Commit returned by RunInTransaction.
	Commit = domain.Commit
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
)

type memoryState struct {
	collections map[EntityType]map[string]Record
	custom      map[string]map[string]Record
	numbering   map[domain.DocumentKind]domain.NumberingSeries
	settings    domain.Settings
	// auditSeq is the last sequence handed to an audit entry.
	auditSeq int64
}

func newMemoryState() memoryState {
	state := memoryState{
		collections: make(map[EntityType]map[string]Record, len(domain.EntityTypes())),
		custom:      make(map[string]map[string]Record),
		numbering:   domain.DefaultNumbering(),
		settings:    domain.Settings{ActiveIndustry: domain.DefaultIndustry},
	}
	for _, t := range domain.EntityTypes() {
		state.collections[t] = make(map[string]Record)
	}
	return state
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		collections: make(map[EntityType]map[string]Record, len(s.collections)),
		custom:      make(map[string]map[string]Record, len(s.custom)),
		numbering:   make(map[domain.DocumentKind]domain.NumberingSeries, len(s.numbering)),
		settings:    s.settings,
		auditSeq:    s.auditSeq,
	}
	for t, coll := range s.collections {
		cloned.collections[t] = cloneCollection(coll)
	}
	for name, coll := range s.custom {
		cloned.custom[name] = cloneCollection(coll)
	}
	for k, v := range s.numbering {
		cloned.numbering[k] = v
	}
	return cloned
}

func cloneCollection(in map[string]Record) map[string]Record {
	out := make(map[string]Record, len(in))
	for id, rec := range in {
		out[id] = rec.Clone()
	}
	return out
}

// sortedRecords returns the collection ordered by creation time, then id.
func sortedRecords(coll map[string]Record) []Record {
	out := make([]Record, 0, len(coll))
	for _, rec := range coll {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source stamped on records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.idFn = gen
		}
	}
}

// Store provides an in-memory transactional store for CRM records.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	idFn   func() string
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RulesEngine exposes the configured engine so callers can register rules.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The copy replaces the live state only when fn succeeds and no rule
// reports a blocking violation.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Commit{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(&tx.state), tx.changes)
		if err != nil {
			return Commit{}, err
		}
		result = res
		if res.HasBlocking() {
			return Commit{Result: res}, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return Commit{Result: result, Changes: tx.changes, Buckets: tx.dirtyBuckets()}, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

// Get returns a record by type and id.
func (s *Store) Get(t EntityType, id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.collections[t][id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// List returns every record of type t ordered by creation. Audit entries
// come back in append order.
func (s *Store) List(t EntityType) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := sortedRecords(s.state.collections[t])
	if t == domain.EntityAuditLogs {
		sort.SliceStable(out, func(i, j int) bool {
			return domain.AuditEntryFrom(out[i]).Before(domain.AuditEntryFrom(out[j]))
		})
	}
	return out
}

// ListCustom returns the records of a custom entity.
func (s *Store) ListCustom(name string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRecords(s.state.custom[name])
}

// Settings returns the persisted tenant settings.
func (s *Store) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.settings
}

// Numbering returns a copy of every numbering series.
func (s *Store) Numbering() map[domain.DocumentKind]domain.NumberingSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.DocumentKind]domain.NumberingSeries, len(s.state.numbering))
	for k, v := range s.state.numbering {
		out[k] = v
	}
	return out
}

type transaction struct {
	store     *Store
	state     memoryState
	changes   []Change
	now       time.Time
	numbering bool
	settings  bool
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) dirtyBuckets() []string {
	var out []string
	if tx.numbering {
		out = append(out, domain.BucketNumbering)
	}
	if tx.settings {
		out = append(out, domain.BucketSettings)
	}
	return out
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() domain.TransactionView {
	return newTransactionView(&tx.state)
}

// Now is the timestamp stamped on every record touched by the transaction.
func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) collection(t EntityType) (map[string]Record, error) {
	coll, ok := tx.state.collections[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEntityType, t)
	}
	return coll, nil
}

// Find returns a record by type and id within the transaction.
func (tx *transaction) Find(t EntityType, id string) (Record, bool) {
	rec, ok := tx.state.collections[t][id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// List returns every record of type t within the transaction.
func (tx *transaction) List(t EntityType) []Record {
	return sortedRecords(tx.state.collections[t])
}

// Create stores a new record, assigning an id when absent and stamping
// createdAt and updatedAt.
func (tx *transaction) Create(t EntityType, rec Record) (Record, error) {
	coll, err := tx.collection(t)
	if err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = tx.store.idFn()
	}
	if _, exists := coll[rec.ID]; exists {
		return Record{}, fmt.Errorf("%s %q: %w", t, rec.ID, domain.ErrRecordExists)
	}
	rec.CreatedAt = tx.now
	rec.UpdatedAt = tx.now
	if domain.HasRelation(t) {
		domain.NormalizeRelationFields(&rec)
	}
	normalized, err := rec.Normalize()
	if err != nil {
		return Record{}, fmt.Errorf("normalize %s %q: %w", t, rec.ID, err)
	}
	coll[normalized.ID] = normalized
	after := normalized.Clone()
	tx.recordChange(Change{Entity: t, Action: domain.ActionCreate, After: &after})
	return normalized.Clone(), nil
}

// Update mutates a record using the provided mutator. id, createdAt and
// createdBy are restored after the mutator runs.
func (tx *transaction) Update(t EntityType, id string, mutator func(*Record) error) (Record, error) {
	if t == domain.EntityAuditLogs {
		return Record{}, domain.ErrImmutableAudit
	}
	coll, err := tx.collection(t)
	if err != nil {
		return Record{}, err
	}
	current, ok := coll[id]
	if !ok {
		return Record{}, fmt.Errorf("%s %q: %w", t, id, domain.ErrRecordNotFound)
	}
	before := current.Clone()
	next := current.Clone()
	if err := mutator(&next); err != nil {
		return Record{}, err
	}
	next.ID = id
	next.CreatedAt = before.CreatedAt
	next.CreatedBy = before.CreatedBy
	next.UpdatedAt = tx.now
	if domain.HasRelation(t) {
		domain.NormalizeRelationFields(&next)
	}
	normalized, err := next.Normalize()
	if err != nil {
		return Record{}, fmt.Errorf("normalize %s %q: %w", t, id, err)
	}
	coll[id] = normalized
	after := normalized.Clone()
	tx.recordChange(Change{Entity: t, Action: domain.ActionUpdate, Before: &before, After: &after})
	return normalized.Clone(), nil
}

// Delete removes a record from the transaction state.
func (tx *transaction) Delete(t EntityType, id string) error {
	if t == domain.EntityAuditLogs {
		return domain.ErrImmutableAudit
	}
	coll, err := tx.collection(t)
	if err != nil {
		return err
	}
	current, ok := coll[id]
	if !ok {
		return fmt.Errorf("%s %q: %w", t, id, domain.ErrRecordNotFound)
	}
	delete(coll, id)
	tx.recordChange(Change{Entity: t, Action: domain.ActionDelete, Before: &current})
	return nil
}

// NextDocumentNumber formats the current counter of kind and advances it.
// The increment is discarded with the rest of the transaction on rollback.
func (tx *transaction) NextDocumentNumber(kind domain.DocumentKind) (string, error) {
	if _, ok := domain.ParseDocumentKind(string(kind)); !ok {
		return "", fmt.Errorf("unknown document kind %q", kind)
	}
	series, ok := tx.state.numbering[kind]
	if !ok {
		series = domain.DefaultNumbering()[kind]
	}
	number := series.Format()
	series.NextNumber++
	tx.state.numbering[kind] = series
	tx.numbering = true
	return number, nil
}

// SetNumbering replaces the series of kind.
func (tx *transaction) SetNumbering(kind domain.DocumentKind, series domain.NumberingSeries) error {
	if _, ok := domain.ParseDocumentKind(string(kind)); !ok {
		return fmt.Errorf("unknown document kind %q", kind)
	}
	if series.NextNumber < 1 {
		return fmt.Errorf("numbering for %s must start at 1 or later", kind)
	}
	tx.state.numbering[kind] = series
	tx.numbering = true
	return nil
}

// AppendAudit writes an entry to the audit log.
func (tx *transaction) AppendAudit(entry domain.AuditEntry) (Record, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = tx.now
	}
	tx.state.auditSeq++
	entry.Sequence = tx.state.auditSeq
	return tx.Create(domain.EntityAuditLogs, entry.Record())
}

// FindCustom returns a record of a custom entity.
func (tx *transaction) FindCustom(name, id string) (Record, bool) {
	rec, ok := tx.state.custom[name][id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// UpsertCustom creates or merges a record of a custom entity. The boolean
// reports whether the record was created.
func (tx *transaction) UpsertCustom(name string, rec Record) (Record, bool, error) {
	if name == "" {
		return Record{}, false, fmt.Errorf("custom entity name is required")
	}
	coll, ok := tx.state.custom[name]
	if !ok {
		coll = make(map[string]Record)
		tx.state.custom[name] = coll
	}
	rec.Set(KeyEntityName, name)

	if current, exists := coll[rec.ID]; exists && rec.ID != "" {
		before := current.Clone()
		next := current.Clone()
		next.Merge(rec)
		next.UpdatedAt = tx.now
		normalized, err := next.Normalize()
		if err != nil {
			return Record{}, false, err
		}
		coll[rec.ID] = normalized
		after := normalized.Clone()
		tx.recordChange(Change{Custom: name, Action: domain.ActionUpdate, Before: &before, After: &after})
		return normalized.Clone(), false, nil
	}

	if rec.ID == "" {
		rec.ID = tx.store.idFn()
	}
	rec.CreatedAt = tx.now
	rec.UpdatedAt = tx.now
	normalized, err := rec.Normalize()
	if err != nil {
		return Record{}, false, err
	}
	coll[normalized.ID] = normalized
	after := normalized.Clone()
	tx.recordChange(Change{Custom: name, Action: domain.ActionCreate, After: &after})
	return normalized.Clone(), true, nil
}

// DeleteCustom removes a record of a custom entity.
func (tx *transaction) DeleteCustom(name, id string) error {
	current, ok := tx.state.custom[name][id]
	if !ok {
		return fmt.Errorf("custom %s %q: %w", name, id, domain.ErrRecordNotFound)
	}
	delete(tx.state.custom[name], id)
	tx.recordChange(Change{Custom: name, Action: domain.ActionDelete, Before: &current})
	return nil
}

// SetSettings replaces the tenant settings.
func (tx *transaction) SetSettings(settings domain.Settings) {
	tx.state.settings = settings
	tx.settings = true
}

// KeyEntityName tags custom-entity records with their entity name so the
// shared custom_entities table can be regrouped on load.
const KeyEntityName = "entityName"

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) domain.TransactionView {
	return transactionView{state: state}
}

func (v transactionView) Find(t EntityType, id string) (Record, bool) {
	rec, ok := v.state.collections[t][id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

func (v transactionView) List(t EntityType) []Record {
	return sortedRecords(v.state.collections[t])
}

func (v transactionView) FindCustom(name, id string) (Record, bool) {
	rec, ok := v.state.custom[name][id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

func (v transactionView) ListCustom(name string) []Record {
	return sortedRecords(v.state.custom[name])
}

func (v transactionView) CustomEntityNames() []string {
	names := make([]string, 0, len(v.state.custom))
	for name := range v.state.custom {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v transactionView) Numbering() map[domain.DocumentKind]domain.NumberingSeries {
	out := make(map[domain.DocumentKind]domain.NumberingSeries, len(v.state.numbering))
	for k, s := range v.state.numbering {
		out[k] = s
	}
	return out
}

func (v transactionView) Settings() domain.Settings {
	return v.state.settings
}
