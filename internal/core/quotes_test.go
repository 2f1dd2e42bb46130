package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmcore/pkg/domain"
)

func seedQuote(t *testing.T, s *Service, id, dealID string) Record {
	t.Helper()
	return mustUpsert(t, s, domain.EntityQuotes, map[string]any{
		"id":     id,
		"dealId": dealID,
		"status": domain.QuoteStatusSent,
		"lineItems": []any{
			map[string]any{"description": "Panels", "quantity": 10, "unitPrice": "249.99", "total": "2499.90"},
			map[string]any{"description": "Install", "quantity": 1, "unitPrice": 800, "total": 800},
		},
		"subtotal": "3299.90",
		"tax":      "264.00",
		"total":    "3563.90",
	})
}

func TestConvertQuoteToInvoice(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	quote := seedQuote(t, s, "Q1", "D1")

	res := s.ConvertQuoteToInvoice(ctx, "Q1")
	require.True(t, res.Success, res.Error)

	invoice := mustGet(t, s, domain.EntityInvoices, res.InvoiceID)
	assert.Equal(t, quote.Fields["lineItems"], invoice.Fields["lineItems"])
	assert.Equal(t, quote.Fields["total"], invoice.Fields["total"])
	assert.Equal(t, quote.Fields["subtotal"], invoice.Fields["subtotal"])
	assert.Equal(t, quote.Fields["tax"], invoice.Fields["tax"])
	assert.Equal(t, domain.InvoiceStatusDraft, invoice.String("status"))
	assert.Equal(t, domain.PaymentUnpaid, invoice.String("paymentStatus"))
	assert.Equal(t, "INV-1001", invoice.String("invoiceNumber"))
	assert.Equal(t, "Q1", invoice.String("quoteId"))
	assert.Equal(t, "D1", invoice.String("dealId"))

	issued, ok := invoice.Time("issueDate")
	require.True(t, ok)
	due, ok := invoice.Time("dueDate")
	require.True(t, ok)
	assert.Equal(t, 30*24*time.Hour, due.Sub(issued))

	src := mustGet(t, s, domain.EntityQuotes, "Q1")
	assert.Equal(t, domain.QuoteStatusAccepted, src.String("status"))
	assert.Equal(t, res.InvoiceID, src.String("convertedToInvoiceId"))

	again := s.ConvertQuoteToInvoice(ctx, "Q1")
	assert.False(t, again.Success)
	assert.Equal(t, res.InvoiceID, again.InvoiceID)
	assert.Len(t, s.ListRecords(domain.EntityInvoices), 1)
}

func TestConvertQuoteRequiresFinance(t *testing.T) {
	s := newTestService(t)
	seedQuote(t, s, "Q1", "")
	s.SetActor(domain.User{ID: "rep", Role: domain.RoleSalesRep})

	res := s.ConvertQuoteToInvoice(context.Background(), "Q1")
	assert.False(t, res.Success)
	assert.Empty(t, s.ListRecords(domain.EntityInvoices))
}

func TestAcceptQuoteSupersedesSiblings(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustUpsert(t, s, domain.EntityDeals, map[string]any{"id": "D1", "stage": "Proposal", "pipelineId": "sales"})
	seedQuote(t, s, "Q1", "D1")
	seedQuote(t, s, "Q2", "D1")
	seedQuote(t, s, "Q3", "D2")

	res := s.AcceptQuote(ctx, "Q1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.StageNegotiation, res.DealStage)

	assert.Equal(t, domain.QuoteStatusAccepted, mustGet(t, s, domain.EntityQuotes, "Q1").String("status"))
	assert.Equal(t, domain.QuoteStatusSuperseded, mustGet(t, s, domain.EntityQuotes, "Q2").String("status"))
	assert.Equal(t, domain.QuoteStatusSent, mustGet(t, s, domain.EntityQuotes, "Q3").String("status"))

	deal := mustGet(t, s, domain.EntityDeals, "D1")
	assert.Equal(t, domain.StageNegotiation, deal.String("stage"))
	assert.Equal(t, 75, deal.Int("probability"))
	assert.Equal(t, []string{domain.AuditStatusChanged}, auditActions(s, domain.EntityDeals, "D1"))
	assert.Equal(t, []string{domain.AuditSuperseded}, auditActions(s, domain.EntityQuotes, "Q2"))
}

func TestAcceptQuoteNeverSupersedesAcceptedSibling(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedQuote(t, s, "A", "D1")
	seedQuote(t, s, "B", "D1")

	require.True(t, s.AcceptQuote(ctx, "A").Success)
	require.True(t, s.AcceptQuote(ctx, "B").Success)

	assert.Equal(t, domain.QuoteStatusAccepted, mustGet(t, s, domain.EntityQuotes, "A").String("status"))
	assert.Equal(t, domain.QuoteStatusAccepted, mustGet(t, s, domain.EntityQuotes, "B").String("status"))
}

func TestAcceptQuoteKeepsClosedDealStage(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustUpsert(t, s, domain.EntityDeals, map[string]any{"id": "D1", "stage": domain.StageClosedWon})
	seedQuote(t, s, "Q1", "D1")

	res := s.AcceptQuote(ctx, "Q1")
	require.True(t, res.Success)
	assert.Equal(t, domain.StageClosedWon, res.DealStage)
	assert.Equal(t, domain.StageClosedWon, mustGet(t, s, domain.EntityDeals, "D1").String("stage"))
}

func TestAcceptQuoteMissing(t *testing.T) {
	s := newTestService(t)
	res := s.AcceptQuote(context.Background(), "nope")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestAcceptQuoteRequiresSalesEdit(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedQuote(t, s, "Q1", "D1")

	s.SetActor(domain.User{ID: "fin", Role: domain.RoleFinance})
	res := s.AcceptQuote(ctx, "Q1")
	assert.False(t, res.Success)
	assert.Equal(t, ErrForbidden.Error(), res.Error)
	assert.Equal(t, domain.QuoteStatusSent, mustGet(t, s, domain.EntityQuotes, "Q1").String("status"))

	s.SetActor(domain.User{ID: "rep", Role: domain.RoleSalesRep})
	res = s.AcceptQuote(ctx, "Q1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.QuoteStatusAccepted, mustGet(t, s, domain.EntityQuotes, "Q1").String("status"))
}
