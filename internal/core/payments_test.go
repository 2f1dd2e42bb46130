package core

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmcore/pkg/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRecordPaymentPartialThenFull(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustUpsert(t, s, domain.EntityInvoices, map[string]any{"id": "I1", "total": "1000.00", "status": domain.InvoiceStatusSent})

	partial := s.RecordPayment(ctx, "I1", Payment{Amount: dec("400.25"), Method: "card"})
	require.True(t, partial.Success, partial.Error)
	assert.True(t, dec("599.75").Equal(partial.RemainingBalance), partial.RemainingBalance.String())
	inv := mustGet(t, s, domain.EntityInvoices, "I1")
	assert.Equal(t, domain.PaymentPartiallyPaid, inv.String("paymentStatus"))
	assert.Equal(t, domain.InvoiceStatusSent, inv.String("status"))

	full := s.RecordPayment(ctx, "I1", Payment{Amount: dec("599.75")})
	require.True(t, full.Success, full.Error)
	assert.True(t, full.RemainingBalance.IsZero())
	inv = mustGet(t, s, domain.EntityInvoices, "I1")
	assert.Equal(t, domain.PaymentPaid, inv.String("paymentStatus"))
	assert.Equal(t, domain.InvoiceStatusPaid, inv.String("status"))

	typed, err := domain.DecodeRecord[domain.Invoice](inv)
	require.NoError(t, err)
	require.Len(t, typed.Credits, 2)
	assert.Equal(t, "card", typed.Credits[0].Method)
	assert.True(t, dec("1000").Equal(typed.Paid()))

	again := s.RecordPayment(ctx, "I1", Payment{Amount: dec("1")})
	assert.False(t, again.Success)

	assert.Equal(t, []string{domain.AuditPaymentRecorded, domain.AuditPaymentRecorded}, auditActions(s, domain.EntityInvoices, "I1"))
}

func TestRecordPaymentExactTotal(t *testing.T) {
	s := newTestService(t)
	mustUpsert(t, s, domain.EntityInvoices, map[string]any{"id": "I1", "total": 250})

	res := s.RecordPayment(context.Background(), "I1", Payment{Amount: dec("250")})
	require.True(t, res.Success)
	inv := mustGet(t, s, domain.EntityInvoices, "I1")
	assert.Equal(t, domain.PaymentPaid, inv.String("paymentStatus"))
	assert.Equal(t, domain.InvoiceStatusPaid, inv.String("status"))
	assert.True(t, res.RemainingBalance.IsZero())
}

func TestRecordPaymentRejectsNonPositive(t *testing.T) {
	s := newTestService(t)
	mustUpsert(t, s, domain.EntityInvoices, map[string]any{"id": "I1", "total": 250})
	for _, amt := range []string{"0", "-5"} {
		res := s.RecordPayment(context.Background(), "I1", Payment{Amount: dec(amt)})
		assert.False(t, res.Success, amt)
		assert.NotEmpty(t, res.Error)
	}
	assert.Equal(t, "", mustGet(t, s, domain.EntityInvoices, "I1").String("paymentStatus"))
}

func TestRecordPaymentMissingInvoice(t *testing.T) {
	s := newTestService(t)
	res := s.RecordPayment(context.Background(), "ghost", Payment{Amount: dec("1")})
	assert.False(t, res.Success)
}

func TestReconcileBankTransaction(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustUpsert(t, s, domain.EntityInvoices, map[string]any{"id": "I1", "total": "300"})
	mustUpsert(t, s, domain.EntityBankTransactions, map[string]any{"id": "B1", "amount": "120", "description": "ACH 42"})

	res := s.ReconcileBankTransaction(ctx, "B1", "I1")
	require.True(t, res.Success, res.Error)
	assert.True(t, dec("180").Equal(res.RemainingBalance))

	bank := mustGet(t, s, domain.EntityBankTransactions, "B1")
	assert.Equal(t, domain.BankTxReconciled, bank.String("status"))
	assert.Equal(t, "I1", bank.String("invoiceId"))
	assert.Equal(t, []string{domain.AuditReconciled}, auditActions(s, domain.EntityBankTransactions, "B1"))

	typed, err := domain.DecodeRecord[domain.Invoice](mustGet(t, s, domain.EntityInvoices, "I1"))
	require.NoError(t, err)
	require.Len(t, typed.Credits, 1)
	assert.Equal(t, "ACH 42", typed.Credits[0].Note)

	again := s.ReconcileBankTransaction(ctx, "B1", "I1")
	assert.False(t, again.Success)
}

func TestAddNote(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustUpsert(t, s, domain.EntityDeals, map[string]any{"id": "D1"})

	note, ok := s.AddNote(ctx, domain.EntityDeals, "D1", "  called back  ")
	require.True(t, ok)
	assert.Equal(t, "called back", note.String("body"))
	assert.Equal(t, NoteType, note.String("type"))
	assert.Len(t, s.GetCommunicationsForEntity("deals", "D1"), 1)
	assert.Equal(t, []string{domain.AuditNoteAdded}, auditActions(s, domain.EntityDeals, "D1"))

	_, ok = s.AddNote(ctx, domain.EntityDeals, "D1", " ")
	assert.False(t, ok)
	_, ok = s.AddNote(ctx, domain.EntityDeals, "D2", "orphan")
	assert.False(t, ok)
}
