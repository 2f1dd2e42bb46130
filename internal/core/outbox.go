package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"crmcore/pkg/domain"
)

// OutboxConfig tunes remote replay.
type OutboxConfig struct {
	// MaxAttempts is the number of failed calls after which an operation is
	// moved to the dead-letter list.
	MaxAttempts int
	// BaseDelay is the backoff after the first failure; it doubles per
	// attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Rate caps remote calls per second. Zero or less disables pacing.
	Rate  float64
	Burst int
	// Interval is how often Run drains without an enqueue notification.
	Interval time.Duration
}

// DefaultOutboxConfig returns the defaults applied to zero fields.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		MaxAttempts: 8,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    time.Minute,
		Rate:        10,
		Burst:       10,
		Interval:    5 * time.Second,
	}
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	def := DefaultOutboxConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Burst <= 0 {
		c.Burst = int(math.Max(1, math.Ceil(c.Rate)))
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	return c
}

// backoff returns the wait after the given number of failed attempts.
func (c OutboxConfig) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(c.BaseDelay) * math.Pow(2, float64(attempts-1))
	if delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// OutboxBucket names the snapshot bucket holding operations not yet applied
// on the remote.
const OutboxBucket = "outbox"

type outboxState struct {
	Pending     []SyncOp `json:"pending"`
	DeadLetters []SyncOp `json:"deadLetters"`
}

// SyncOp is one committed change waiting to be replayed on the remote store.
type SyncOp struct {
	ID          string         `json:"id"`
	Action      domain.Action  `json:"action"`
	Table       string         `json:"table"`
	RecordID    string         `json:"recordId"`
	Record      *domain.Record `json:"record,omitempty"`
	Attempts    int            `json:"attempts"`
	NextAttempt time.Time      `json:"nextAttempt"`
	LastError   string         `json:"lastError,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueuedAt"`
}

func (op SyncOp) key() string { return op.Table + "/" + op.RecordID }

// DrainReport summarizes one Drain pass.
type DrainReport struct {
	Applied      int `json:"applied"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"deadLettered"`
	// Deferred counts operations skipped because they were still backing
	// off or queued behind a failed operation on the same record.
	Deferred int `json:"deferred"`
}

// Outbox replays committed changes against a RemoteStore. Operations on the
// same record are applied in commit order; a failing operation holds back
// the ones queued after it for that record.
type Outbox struct {
	remote  domain.RemoteStore
	cfg     OutboxConfig
	log     zerolog.Logger
	metrics *Metrics
	limiter *rate.Limiter
	now     func() time.Time

	drainMu sync.Mutex
	mu      sync.Mutex
	queue   []SyncOp
	dead    []SyncOp
	notify  chan struct{}

	// onSettle runs after a drain changed the queue.
	onSettle func(context.Context)
}

// NewOutbox builds an outbox for remote. Zero config fields take their
// defaults.
func NewOutbox(remote domain.RemoteStore, cfg OutboxConfig, log zerolog.Logger, metrics *Metrics) *Outbox {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Outbox{
		remote:  remote,
		cfg:     cfg,
		log:     log.With().Str("component", "outbox").Logger(),
		metrics: metrics,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		now:     func() time.Time { return time.Now().UTC() },
		notify:  make(chan struct{}, 1),
	}
}

// Config returns the effective configuration.
func (o *Outbox) Config() OutboxConfig { return o.cfg }

// EnqueueCommit queues every change of a commit in order.
func (o *Outbox) EnqueueCommit(commit domain.Commit) {
	ops := make([]SyncOp, 0, len(commit.Changes))
	for _, ch := range commit.Changes {
		op := SyncOp{Action: ch.Action, Table: ch.Table(), RecordID: ch.RecordID()}
		if ch.After != nil {
			rec := ch.After.Clone()
			op.Record = &rec
		}
		ops = append(ops, op)
	}
	o.Enqueue(ops...)
}

// Enqueue appends operations to the queue and wakes Run.
func (o *Outbox) Enqueue(ops ...SyncOp) {
	if len(ops) == 0 {
		return
	}
	now := o.now()
	o.mu.Lock()
	for _, op := range ops {
		if op.ID == "" {
			op.ID = uuid.NewString()
		}
		if op.EnqueuedAt.IsZero() {
			op.EnqueuedAt = now
		}
		o.queue = append(o.queue, op)
	}
	o.updateGauges()
	o.mu.Unlock()
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// MarshalState encodes the queue and the dead letters.
func (o *Outbox) MarshalState() ([]byte, error) {
	o.mu.Lock()
	state := outboxState{
		Pending:     append([]SyncOp{}, o.queue...),
		DeadLetters: append([]SyncOp{}, o.dead...),
	}
	o.mu.Unlock()
	return json.Marshal(state)
}

// RestoreState puts operations persisted by MarshalState back ahead of
// anything queued since. Operations already present are skipped. It returns
// how many operations were restored.
func (o *Outbox) RestoreState(data []byte) (int, error) {
	var state outboxState
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, fmt.Errorf("decode outbox: %w", err)
	}
	o.mu.Lock()
	known := make(map[string]struct{}, len(o.queue)+len(o.dead))
	for _, op := range o.queue {
		known[op.ID] = struct{}{}
	}
	for _, op := range o.dead {
		known[op.ID] = struct{}{}
	}
	fresh := func(ops []SyncOp) []SyncOp {
		var out []SyncOp
		for _, op := range ops {
			if op.ID == "" || op.Table == "" {
				continue
			}
			if _, ok := known[op.ID]; ok {
				continue
			}
			known[op.ID] = struct{}{}
			out = append(out, op)
		}
		return out
	}
	pending := fresh(state.Pending)
	dead := fresh(state.DeadLetters)
	o.queue = append(pending, o.queue...)
	o.dead = append(dead, o.dead...)
	o.updateGauges()
	o.mu.Unlock()
	if len(pending) > 0 {
		select {
		case o.notify <- struct{}{}:
		default:
		}
	}
	return len(pending) + len(dead), nil
}

// Unsynced returns, per table, the ids of records with queued or
// dead-lettered operations.
func (o *Outbox) Unsynced() map[string]map[string]struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]map[string]struct{})
	for _, ops := range [][]SyncOp{o.queue, o.dead} {
		for _, op := range ops {
			ids, ok := out[op.Table]
			if !ok {
				ids = make(map[string]struct{})
				out[op.Table] = ids
			}
			ids[op.RecordID] = struct{}{}
		}
	}
	return out
}

// Pending returns a copy of the queued operations.
func (o *Outbox) Pending() []SyncOp {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]SyncOp(nil), o.queue...)
}

// DeadLetters returns a copy of the operations that exhausted their retries.
func (o *Outbox) DeadLetters() []SyncOp {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]SyncOp(nil), o.dead...)
}

// RetryDeadLetters moves dead letters back onto the queue with a fresh
// attempt budget and returns how many were requeued.
func (o *Outbox) RetryDeadLetters() int {
	o.mu.Lock()
	dead := o.dead
	o.dead = nil
	o.mu.Unlock()
	for i := range dead {
		dead[i].Attempts = 0
		dead[i].NextAttempt = time.Time{}
	}
	o.Enqueue(dead...)
	return len(dead)
}

// Drain attempts every operation that is due. Remote calls run without
// holding the queue lock, so commits can keep enqueuing while a drain is in
// flight. Drain returns early with ctx's error when ctx is cancelled.
func (o *Outbox) Drain(ctx context.Context) (DrainReport, error) {
	o.drainMu.Lock()
	defer o.drainMu.Unlock()

	o.mu.Lock()
	batch := append([]SyncOp(nil), o.queue...)
	o.mu.Unlock()

	var report DrainReport
	now := o.now()
	done := make(map[string]struct{})
	failed := make(map[string]SyncOp)
	blocked := make(map[string]struct{})
	var waitErr error
	for _, op := range batch {
		key := op.key()
		if _, held := blocked[key]; held || op.NextAttempt.After(now) {
			blocked[key] = struct{}{}
			report.Deferred++
			continue
		}
		if err := o.limiter.Wait(ctx); err != nil {
			waitErr = err
			break
		}
		if err := o.apply(ctx, op); err != nil {
			if ctx.Err() != nil {
				waitErr = ctx.Err()
				break
			}
			blocked[key] = struct{}{}
			op.Attempts++
			op.LastError = err.Error()
			if op.Attempts >= o.cfg.MaxAttempts {
				report.DeadLettered++
				o.log.Error().Err(err).Str("table", op.Table).Str("id", op.RecordID).
					Int("attempts", op.Attempts).Msg("sync operation dead-lettered")
			} else {
				op.NextAttempt = now.Add(o.cfg.backoff(op.Attempts))
				report.Retried++
				o.log.Warn().Err(err).Str("table", op.Table).Str("id", op.RecordID).
					Int("attempts", op.Attempts).Time("next_attempt", op.NextAttempt).Msg("sync operation failed")
			}
			failed[op.ID] = op
			continue
		}
		done[op.ID] = struct{}{}
		report.Applied++
	}
	o.settle(done, failed)
	if o.onSettle != nil && report.Applied+report.Retried+report.DeadLettered > 0 {
		o.onSettle(context.WithoutCancel(ctx))
	}
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, context.DeadlineExceeded) {
		o.log.Warn().Err(waitErr).Msg("drain interrupted")
	}
	return report, waitErr
}

// settle removes applied operations and records failures on the live queue,
// which may have grown since the batch was taken.
func (o *Outbox) settle(done map[string]struct{}, failed map[string]SyncOp) {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.queue[:0]
	for _, op := range o.queue {
		if _, ok := done[op.ID]; ok {
			continue
		}
		if updated, ok := failed[op.ID]; ok {
			if updated.Attempts >= o.cfg.MaxAttempts {
				o.dead = append(o.dead, updated)
				continue
			}
			op = updated
		}
		kept = append(kept, op)
	}
	for i := len(kept); i < len(o.queue); i++ {
		o.queue[i] = SyncOp{}
	}
	o.queue = kept
	o.updateGauges()
}

func (o *Outbox) updateGauges() {
	o.metrics.outboxSize(len(o.queue), len(o.dead))
}

func (o *Outbox) apply(ctx context.Context, op SyncOp) error {
	start := time.Now()
	var err error
	switch op.Action {
	case domain.ActionCreate:
		err = o.remote.Insert(ctx, op.Table, recordOf(op))
	case domain.ActionUpdate:
		err = o.remote.Update(ctx, op.Table, op.RecordID, recordOf(op))
	case domain.ActionDelete:
		err = o.remote.Delete(ctx, op.Table, op.RecordID)
	default:
		err = errors.New("unknown sync action " + string(op.Action))
	}
	o.metrics.syncOp(op.Action, err == nil, time.Since(start))
	if err == nil {
		o.log.Debug().Str("table", op.Table).Str("id", op.RecordID).Str("action", string(op.Action)).Msg("synced")
	}
	return err
}

func recordOf(op SyncOp) domain.Record {
	if op.Record == nil {
		return domain.Record{ID: op.RecordID}
	}
	return op.Record.Clone()
}

// Run drains on every tick and whenever new operations are enqueued, until
// ctx is done.
func (o *Outbox) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-o.notify:
		}
		if _, err := o.Drain(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
