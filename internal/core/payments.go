package core

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"crmcore/pkg/domain"
)

// Payment is a single amount applied to an invoice.
type Payment struct {
	Amount decimal.Decimal
	Method string
	Note   string
	// Date defaults to the transaction time.
	Date time.Time
}

// PaymentResult is the outcome of RecordPayment and ReconcileBankTransaction.
type PaymentResult struct {
	Success          bool            `json:"success"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
	Error            string          `json:"error,omitempty"`
}

var (
	errNonPositivePayment = errors.New("payment amount must be positive")
	errInvoicePaid        = errors.New("invoice is already paid")
	errBankTxReconciled   = errors.New("bank transaction is already reconciled")
)

// RecordPayment appends a credit to an invoice and advances its payment
// status. The invoice status becomes Paid only once the balance reaches zero.
func (s *Service) RecordPayment(ctx context.Context, invoiceID string, p Payment) PaymentResult {
	if !p.Amount.IsPositive() {
		return PaymentResult{Error: errNonPositivePayment.Error()}
	}
	if !s.allowed(domain.EntityInvoices, domain.PermEdit) {
		return PaymentResult{Error: errorMessage(ErrForbidden)}
	}
	var remaining decimal.Decimal
	_, err := s.run(ctx, "record_payment", func(tx domain.Transaction) error {
		var err error
		remaining, err = s.applyPayment(tx, invoiceID, p)
		return err
	})
	if err != nil {
		s.log.Info().Err(err).Str("invoice", invoiceID).Msg("payment rejected")
		return PaymentResult{Error: errorMessage(err)}
	}
	return PaymentResult{Success: true, RemainingBalance: remaining}
}

func (s *Service) applyPayment(tx domain.Transaction, invoiceID string, p Payment) (decimal.Decimal, error) {
	rec, invoice, err := find[domain.Invoice](tx, domain.EntityInvoices, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	if invoice.Status == domain.InvoiceStatusPaid || invoice.PaymentStatus == domain.PaymentPaid {
		return decimal.Zero, errInvoicePaid
	}
	date := p.Date
	if date.IsZero() {
		date = tx.Now()
	}
	creditID := s.newID()
	credit := map[string]any{
		"id":     creditID,
		"amount": amount(p.Amount),
		"date":   timestamp(date),
	}
	if p.Method != "" {
		credit["method"] = p.Method
	}
	if p.Note != "" {
		credit["note"] = p.Note
	}
	var credits []any
	if existing, ok := rec.Get("credits"); ok {
		if list, isList := existing.([]any); isList {
			credits = list
		}
	}
	credits = append(credits, credit)

	paid := invoice.Paid().Add(p.Amount)
	remaining := invoice.Total.Sub(paid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	status := domain.PaymentPartiallyPaid
	fields := map[string]any{
		"credits":    credits,
		"amountPaid": amount(paid),
		"balance":    amount(remaining),
	}
	if !remaining.IsPositive() {
		status = domain.PaymentPaid
		fields[keyStatus] = domain.InvoiceStatusPaid
		fields["paidAt"] = timestamp(tx.Now())
	}
	fields["paymentStatus"] = status
	if _, err := tx.Update(domain.EntityInvoices, invoiceID, setFields(fields)); err != nil {
		return decimal.Zero, err
	}
	_, err = tx.AppendAudit(s.auditEntry(domain.EntityInvoices, invoiceID, domain.AuditPaymentRecorded, status, map[string]any{
		"creditId":  creditID,
		"amount":    p.Amount.String(),
		"remaining": remaining.String(),
	}))
	return remaining, err
}

// ReconcileBankTransaction matches a bank transaction to an invoice and
// records its amount as a payment.
func (s *Service) ReconcileBankTransaction(ctx context.Context, bankTxID, invoiceID string) PaymentResult {
	if !s.allowed(domain.EntityBankTransactions, domain.PermEdit) {
		return PaymentResult{Error: errorMessage(ErrForbidden)}
	}
	var remaining decimal.Decimal
	_, err := s.run(ctx, "reconcile", func(tx domain.Transaction) error {
		_, bankTx, err := find[domain.BankTransaction](tx, domain.EntityBankTransactions, bankTxID)
		if err != nil {
			return err
		}
		if bankTx.Status == domain.BankTxReconciled {
			return errBankTxReconciled
		}
		if !bankTx.Amount.IsPositive() {
			return errNonPositivePayment
		}
		remaining, err = s.applyPayment(tx, invoiceID, Payment{
			Amount: bankTx.Amount,
			Method: "bank_transfer",
			Note:   bankTx.Description,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Update(domain.EntityBankTransactions, bankTxID, setFields(map[string]any{
			keyStatus:      domain.BankTxReconciled,
			"invoiceId":    invoiceID,
			"reconciledAt": timestamp(tx.Now()),
		})); err != nil {
			return err
		}
		_, err = tx.AppendAudit(s.auditEntry(domain.EntityBankTransactions, bankTxID, domain.AuditReconciled,
			domain.BankTxReconciled, map[string]any{"invoiceId": invoiceID}))
		return err
	})
	if err != nil {
		s.log.Info().Err(err).Str("bank_tx", bankTxID).Str("invoice", invoiceID).Msg("reconciliation rejected")
		return PaymentResult{Error: errorMessage(err)}
	}
	return PaymentResult{Success: true, RemainingBalance: remaining}
}
