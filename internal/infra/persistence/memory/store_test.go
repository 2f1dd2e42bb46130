package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"crmcore/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newTestStore() *Store {
	return NewStore(nil,
		WithClock(fixedClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))),
		WithIDGenerator(sequentialIDs("id-")),
	)
}

func TestStoreCreateUpdateDelete(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	var created Record
	commit, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rec, err := tx.Create(domain.EntityLeads, domain.NewRecord(map[string]any{"company": "Acme"}))
		created = rec
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "id-1", created.ID)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	require.Len(t, commit.Changes, 1)
	assert.Equal(t, domain.ActionCreate, commit.Changes[0].Action)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.Update(domain.EntityLeads, created.ID, func(r *Record) error {
			r.ID = "hijack"
			r.CreatedBy = "someone-else"
			r.Set("status", "Qualified")
			return nil
		})
		return err
	})
	require.NoError(t, err)

	got, ok := store.Get(domain.EntityLeads, created.ID)
	require.True(t, ok)
	assert.Equal(t, "Qualified", got.String("status"))
	assert.Equal(t, "Acme", got.String("company"))
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
	assert.Empty(t, got.CreatedBy)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.Delete(domain.EntityLeads, created.ID)
	})
	require.NoError(t, err)
	assert.Empty(t, store.List(domain.EntityLeads))
}

func TestStoreRollbackOnError(t *testing.T) {
	store := newTestStore()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.NextDocumentNumber(domain.DocInvoice); err != nil {
			return err
		}
		if _, err := tx.Create(domain.EntityInvoices, Record{}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Empty(t, store.List(domain.EntityInvoices))
	assert.Equal(t, domain.DefaultFirstNumber, store.Numbering()[domain.DocInvoice].NextNumber)
}

func TestStoreRuleViolationBlocksCommit(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.Create(domain.EntityDeals, Record{})
		return e
	})
	var rve domain.RuleViolationError
	require.ErrorAs(t, err, &rve)
	assert.Empty(t, store.List(domain.EntityDeals))
}

func TestStoreAuditLogIsAppendOnly(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	var entry Record
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rec, err := tx.AppendAudit(domain.AuditEntry{EntityType: "leads", EntityID: "L1", Action: domain.AuditConverted})
		entry = rec
		return err
	})
	require.NoError(t, err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.Update(domain.EntityAuditLogs, entry.ID, func(*Record) error { return nil })
		return err
	})
	require.ErrorIs(t, err, domain.ErrImmutableAudit)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.Delete(domain.EntityAuditLogs, entry.ID)
	})
	require.ErrorIs(t, err, domain.ErrImmutableAudit)
	assert.Len(t, store.List(domain.EntityAuditLogs), 1)
}

func TestStoreAuditSequence(t *testing.T) {
	next := 10
	descending := func() string {
		next--
		return fmt.Sprintf("id-%d", next)
	}
	store := NewStore(nil, WithClock(fixedClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))), WithIDGenerator(descending))
	ctx := context.Background()
	appendAll := func(actions ...string) {
		t.Helper()
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			for _, action := range actions {
				if _, err := tx.AppendAudit(domain.AuditEntry{EntityType: "deals", EntityID: "D1", Action: action}); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
	}
	appendAll("a", "b", "c", "d", "e")

	reloaded := NewStore(nil, WithClock(fixedClock(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))), WithIDGenerator(sequentialIDs("next-")))
	reloaded.ImportState(store.ExportState())
	store = reloaded
	appendAll("f")

	var actions []string
	var last int64
	for _, rec := range store.List(domain.EntityAuditLogs) {
		entry := domain.AuditEntryFrom(rec)
		actions = append(actions, entry.Action)
		assert.Greater(t, entry.Sequence, last)
		last = entry.Sequence
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, actions)
	assert.Equal(t, int64(6), last, "sequence continues after a reload")
}

func TestStoreNumberingIsMonotonic(t *testing.T) {
	store := newTestStore()
	var numbers []string
	commit, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for i := 0; i < 3; i++ {
			n, err := tx.NextDocumentNumber(domain.DocQuote)
			if err != nil {
				return err
			}
			numbers = append(numbers, n)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"QT-1001", "QT-1002", "QT-1003"}, numbers)
	assert.Contains(t, commit.Touched(), domain.BucketNumbering)
	assert.Equal(t, 1004, store.Numbering()[domain.DocQuote].NextNumber)
}

func TestStoreNormalizesRelationsOnWrite(t *testing.T) {
	store := newTestStore()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Create(domain.EntityTasks, domain.NewRecord(map[string]any{
			"relatedToId": "A1", "relatedToType": "Accounts",
		}))
		return err
	})
	require.NoError(t, err)
	tasks := store.List(domain.EntityTasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, "accounts", tasks[0].String("relatedToType"))
}

func TestStoreCustomEntities(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	var rec Record
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		created, isNew, err := tx.UpsertCustom("panels", domain.NewRecord(map[string]any{"model": "X1"}))
		require.True(t, isNew)
		rec = created
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "panels", rec.String(KeyEntityName))

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		patch := domain.NewRecord(map[string]any{"id": rec.ID, "watts": 400})
		merged, isNew, err := tx.UpsertCustom("panels", patch)
		require.False(t, isNew)
		assert.Equal(t, "X1", merged.String("model"))
		assert.Equal(t, rec.CreatedAt, merged.CreatedAt)
		return err
	})
	require.NoError(t, err)
	require.Len(t, store.ListCustom("panels"), 1)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteCustom("panels", rec.ID)
	})
	require.NoError(t, err)
	assert.Empty(t, store.ListCustom("panels"))
}

func TestStoreBucketsRoundTrip(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.Create(domain.EntityAccounts, domain.NewRecord(map[string]any{"name": "Acme"})); err != nil {
			return err
		}
		tx.SetSettings(domain.Settings{ActiveIndustry: "solar"})
		_, _, err := tx.UpsertCustom("panels", domain.NewRecord(map[string]any{"model": "X1"}))
		return err
	})
	require.NoError(t, err)

	buckets, err := store.ExportBuckets()
	require.NoError(t, err)
	require.Contains(t, buckets, "accounts")
	require.Contains(t, buckets, domain.BucketSettings)

	restored := newTestStore()
	require.NoError(t, restored.ImportBuckets(buckets))
	accounts := restored.List(domain.EntityAccounts)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Acme", accounts[0].String("name"))
	assert.Equal(t, "solar", restored.Settings().ActiveIndustry)
	assert.Len(t, restored.ListCustom("panels"), 1)
}

func TestStoreImportStateMigratesLegacyData(t *testing.T) {
	store := newTestStore()
	store.ImportState(Snapshot{
		Collections: map[EntityType][]Record{
			"widgets":                   {{ID: "w1"}},
			domain.EntityCommunications: {domain.NewRecord(map[string]any{"id": "c1", "relatedToId": "L1", "relatedToType": "LEADS"}), {}},
		},
	})
	comms := store.List(domain.EntityCommunications)
	require.Len(t, comms, 1)
	assert.Equal(t, "leads", comms[0].String("relatedToType"))
	assert.Equal(t, domain.DefaultIndustry, store.Settings().ActiveIndustry)
	assert.Equal(t, domain.DefaultFirstNumber, store.Numbering()[domain.DocJob].NextNumber)
}

func TestStoreMergeTable(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	at := func(id, title string, updated time.Time) Record {
		rec := domain.NewRecord(map[string]any{"id": id, "title": title})
		rec.UpdatedAt = updated
		return rec
	}
	store := newTestStore()
	store.ImportState(Snapshot{Collections: map[EntityType][]Record{
		domain.EntityDeals: {
			at("STALE", "Local stale", base),
			at("FRESH", "Local fresh", base.Add(time.Hour)),
			at("PENDING", "Local pending", base),
			at("GONE", "Deleted remotely", base),
			at("OFFLINE", "Created offline", base),
		},
	}})
	remote := []Record{
		at("STALE", "Remote", base.Add(time.Minute)),
		at("FRESH", "Remote", base.Add(time.Minute)),
		at("PENDING", "Remote", base.Add(time.Hour)),
		at("DELETED", "Deleted locally", base),
		at("NEW", "Remote only", base),
	}
	keep := map[string]struct{}{"PENDING": {}, "OFFLINE": {}, "DELETED": {}}
	require.NoError(t, store.MergeTable("deals", remote, keep))

	titles := map[string]string{}
	for _, rec := range store.List(domain.EntityDeals) {
		titles[rec.ID] = rec.String("title")
	}
	assert.Equal(t, map[string]string{
		"STALE":   "Remote",
		"FRESH":   "Local fresh",
		"PENDING": "Local pending",
		"OFFLINE": "Created offline",
		"NEW":     "Remote only",
	}, titles)

	require.NoError(t, store.MergeTable(domain.CustomEntitiesTable, []Record{
		domain.NewRecord(map[string]any{"id": "p1", "entityName": "panels"}),
		domain.NewRecord(map[string]any{"id": "orphan"}),
	}, nil))
	assert.Len(t, store.ListCustom("panels"), 1)
	require.ErrorIs(t, store.MergeTable("nope", nil, nil), domain.ErrUnknownEntityType)
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}
