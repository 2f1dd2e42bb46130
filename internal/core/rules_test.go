package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmcore/pkg/domain"
)

func TestDefaultRulesRegistered(t *testing.T) {
	engine := NewDefaultRulesEngine()
	assert.ElementsMatch(t, []string{"last_admin", "document_number_unique", "relation_target"}, engine.Rules())
}

func TestRelationTargetWarnsButCommits(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	commit, err := s.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.Create(domain.EntityTasks, domain.NewRecord(map[string]any{
			domain.KeyRelatedToID: "D404", domain.KeyRelatedToType: "deals",
		}))
		return err
	})
	require.NoError(t, err)
	require.Len(t, commit.Result.Violations, 1)
	v := commit.Result.Violations[0]
	assert.Equal(t, "relation_target", v.Rule)
	assert.Equal(t, domain.SeverityWarn, v.Severity)
	assert.Len(t, s.ListRecords(domain.EntityTasks), 1)

	mustUpsert(t, s, domain.EntityDeals, map[string]any{"id": "D1"})
	commit, err = s.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.Create(domain.EntityTasks, domain.NewRecord(map[string]any{
			domain.KeyRelatedToID: "D1", domain.KeyRelatedToType: "Deals",
		}))
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, commit.Result.Violations)
}

func TestRelationTargetIgnoresUnknownParentTypes(t *testing.T) {
	s := newTestService(t)
	commit, err := s.Store().RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Create(domain.EntityDocuments, domain.NewRecord(map[string]any{
			domain.KeyRelatedToID: "x", domain.KeyRelatedToType: "site_surveys",
		}))
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, commit.Result.Violations)
}

func TestDocumentNumberRuleBlocksDuplicates(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	first := mustUpsert(t, s, domain.EntityInvoices, map[string]any{"total": 10})
	number := first.String("invoiceNumber")
	require.NotEmpty(t, number)

	_, err := s.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.Create(domain.EntityInvoices, domain.NewRecord(map[string]any{"invoiceNumber": number}))
		return err
	})
	var rve domain.RuleViolationError
	require.ErrorAs(t, err, &rve)
	v, ok := rve.Result.FirstBlocking()
	require.True(t, ok)
	assert.Equal(t, "document_number_unique", v.Rule)
	assert.Len(t, s.ListRecords(domain.EntityInvoices), 1)

	_, ok = s.UpdateRecord(ctx, domain.EntityQuotes, "Q1", domain.NewRecord(map[string]any{"quoteNumber": number}))
	assert.True(t, ok, "numbers are unique per collection")
}
