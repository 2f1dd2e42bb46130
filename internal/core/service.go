// Package core implements the CRM lifecycle service: record upserts and
// deletes with cascades, conversion workflows, permissions, audit, blueprint
// resolution and the post-commit persistence pipeline.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crmcore/internal/blob"
	"crmcore/internal/infra/persistence/memory"
	"crmcore/pkg/domain"
)

type (
	Record     = domain.Record
	EntityType = domain.EntityType
)

// SystemActor is the default actor used when none is configured.
var SystemActor = domain.User{ID: "system", Name: "System", Role: domain.RoleAdmin}

// ErrForbidden is returned when the actor's role lacks the permission for an
// operation.
var ErrForbidden = errors.New("forbidden")

// ErrNotFound is returned when reference validation fails within transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// OpResult reports the outcome of an operation whose failures are part of
// normal flow, such as a rule rejecting the change.
type OpResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Option customizes a Service.
type Option func(*Service)

// WithActor sets the user mutations are attributed to and permissions are
// evaluated for.
func WithActor(actor domain.User) Option {
	return func(s *Service) { s.actor = actor }
}

// WithPermissionMatrix replaces the default permission matrix.
func WithPermissionMatrix(m domain.PermissionMatrix) Option {
	return func(s *Service) {
		if m != nil {
			s.matrix = m
		}
	}
}

// WithBlueprints replaces the blueprint registry.
func WithBlueprints(r *BlueprintRegistry) Option {
	return func(s *Service) {
		if r != nil {
			s.blueprints = r
		}
	}
}

// WithSnapshotStore enables local snapshot writes after every commit.
func WithSnapshotStore(store domain.SnapshotStore) Option {
	return func(s *Service) { s.snapshot = store }
}

// WithRemote enables remote sync through an outbox built from cfg.
func WithRemote(remote domain.RemoteStore, cfg OutboxConfig) Option {
	return func(s *Service) {
		s.remote = remote
		s.outboxCfg = cfg
	}
}

// WithBlobStore sets the store exports are written to.
func WithBlobStore(store blob.Store) Option {
	return func(s *Service) { s.exports = store }
}

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithMetrics shares a metrics set with the service.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithIDGenerator overrides ids generated by workflows that must know an id
// before the record is inserted.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// Service exposes the CRM lifecycle operations over a transactional store.
type Service struct {
	store      *memory.Store
	matrix     domain.PermissionMatrix
	blueprints *BlueprintRegistry
	snapshot   domain.SnapshotStore
	remote     domain.RemoteStore
	outboxCfg  OutboxConfig
	outbox     *Outbox
	exports    blob.Store
	log        zerolog.Logger
	metrics    *Metrics
	newID      func() string
	now        func() time.Time

	actorMu sync.RWMutex
	actor   domain.User
}

// NewService constructs a service backed by the supplied store. A nil store
// is replaced by an in-memory store carrying the default rules.
func NewService(store *memory.Store, opts ...Option) *Service {
	if store == nil {
		store = memory.NewStore(NewDefaultRulesEngine())
	}
	s := &Service{
		store:  store,
		matrix: domain.DefaultPermissionMatrix(),
		log:    zerolog.Nop(),
		newID:  uuid.NewString,
		now:    store.NowFunc(),
		actor:  SystemActor,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.blueprints == nil {
		s.blueprints = MustDefaultBlueprints()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.remote != nil {
		s.outbox = NewOutbox(s.remote, s.outboxCfg, s.log, s.metrics)
		s.outbox.onSettle = s.persistOutbox
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the default rules.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(NewDefaultRulesEngine()), opts...)
}

// Store returns the underlying record store.
func (s *Service) Store() *memory.Store { return s.store }

// Outbox returns the remote sync queue, or nil when no remote is configured.
func (s *Service) Outbox() *Outbox { return s.outbox }

// Metrics returns the service metrics.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Blueprints returns the blueprint registry.
func (s *Service) Blueprints() *BlueprintRegistry { return s.blueprints }

// Actor returns the current actor.
func (s *Service) Actor() domain.User {
	s.actorMu.RLock()
	defer s.actorMu.RUnlock()
	return s.actor
}

// SetActor switches the actor for subsequent operations.
func (s *Service) SetActor(actor domain.User) {
	s.actorMu.Lock()
	defer s.actorMu.Unlock()
	s.actor = actor
}

// run executes fn in a store transaction and, on commit, feeds the change set
// to metrics, the outbox and the snapshot store.
func (s *Service) run(ctx context.Context, op string, fn func(tx domain.Transaction) error) (domain.Commit, error) {
	commit, err := s.store.RunInTransaction(ctx, fn)
	if err != nil {
		s.log.Debug().Err(err).Str("op", op).Msg("transaction rolled back")
		return commit, err
	}
	s.afterCommit(ctx, op, commit)
	return commit, nil
}

func (s *Service) afterCommit(ctx context.Context, op string, commit domain.Commit) {
	for _, v := range commit.Result.Violations {
		s.log.Warn().Str("op", op).Str("rule", v.Rule).Str("entity", string(v.Entity)).
			Str("id", v.EntityID).Msg(v.Message)
	}
	for _, ch := range commit.Changes {
		s.metrics.mutation(ch.Table(), ch.Action)
		s.log.Debug().Str("op", op).Str("table", ch.Table()).Str("action", string(ch.Action)).
			Str("id", ch.RecordID()).Msg("record changed")
	}
	if s.outbox != nil {
		s.outbox.EnqueueCommit(commit)
	}
	s.persistSnapshot(ctx, commit.Touched())
}

// persistSnapshot writes the full contents of each touched bucket together
// with the outbox, so unsynced operations outlive the process. Failures are
// logged; local state stays authoritative.
func (s *Service) persistSnapshot(ctx context.Context, buckets []string) {
	if s.snapshot == nil || len(buckets) == 0 {
		return
	}
	payload, err := s.store.ExportBuckets(buckets...)
	if err != nil {
		s.log.Error().Err(err).Strs("buckets", buckets).Msg("encode snapshot")
		return
	}
	s.addOutboxBucket(payload)
	if err := s.snapshot.SaveBuckets(ctx, payload); err != nil {
		s.log.Error().Err(err).Strs("buckets", buckets).Msg("write snapshot")
	}
}

// persistOutbox writes only the outbox bucket.
func (s *Service) persistOutbox(ctx context.Context) {
	if s.snapshot == nil {
		return
	}
	payload := map[string][]byte{}
	if !s.addOutboxBucket(payload) {
		return
	}
	if err := s.snapshot.SaveBuckets(ctx, payload); err != nil {
		s.log.Error().Err(err).Msg("write outbox snapshot")
	}
}

func (s *Service) addOutboxBucket(payload map[string][]byte) bool {
	if s.outbox == nil {
		return false
	}
	data, err := s.outbox.MarshalState()
	if err != nil {
		s.log.Error().Err(err).Msg("encode outbox")
		return false
	}
	payload[OutboxBucket] = data
	return true
}

// allowed evaluates the role-level permission gating action on records of t.
func (s *Service) allowed(t EntityType, action domain.PermissionAction) bool {
	return s.matrix.Allows(s.Actor().Role, domain.DomainFor(t), action)
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var rve domain.RuleViolationError
	if errors.As(err, &rve) {
		if v, ok := rve.Result.FirstBlocking(); ok && v.Message != "" {
			return v.Message
		}
	}
	return err.Error()
}

func opResult(err error) OpResult {
	if err != nil {
		return OpResult{Error: errorMessage(err)}
	}
	return OpResult{Success: true}
}
