package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crmcore/pkg/domain"
)

// InvoiceDueDays is the payment term of invoices created from quotes.
const InvoiceDueDays = 30

// QuoteConversion is the outcome of ConvertQuoteToInvoice.
type QuoteConversion struct {
	InvoiceID string `json:"invoiceId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// QuoteAcceptance is the outcome of AcceptQuote.
type QuoteAcceptance struct {
	Success   bool   `json:"success"`
	DealStage string `json:"dealStage,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	conversionQuote = "quote_to_invoice"
	keyDealID       = "dealId"
)

// ConvertQuoteToInvoice issues a draft invoice carrying the quote's line
// items and totals unchanged, and marks the quote accepted.
func (s *Service) ConvertQuoteToInvoice(ctx context.Context, quoteID string) QuoteConversion {
	if !s.allowed(domain.EntityInvoices, domain.PermCreate) {
		return QuoteConversion{Error: s.conversionFailed(conversionQuote, quoteID, ErrForbidden)}
	}
	var res QuoteConversion
	_, err := s.run(ctx, "convert_quote", func(tx domain.Transaction) error {
		rec, quote, err := find[domain.Quote](tx, domain.EntityQuotes, quoteID)
		if err != nil {
			return err
		}
		if quote.ConvertedToInvoiceID != "" {
			res.InvoiceID = quote.ConvertedToInvoiceID
			return errAlreadyConverted
		}
		now := tx.Now()
		invoiceID := s.newID()
		fields := map[string]any{
			keyStatus:       domain.InvoiceStatusDraft,
			"paymentStatus": domain.PaymentUnpaid,
			"issueDate":     timestamp(now),
			"dueDate":       timestamp(now.Add(InvoiceDueDays * 24 * time.Hour)),
			"quoteId":       quoteID,
			keyDealID:       quote.DealID,
			keyAccountID:    quote.AccountID,
			keyContactID:    quote.ContactID,
		}
		for _, key := range []string{"lineItems", "subtotal", "tax", "total"} {
			if v, ok := rec.Get(key); ok {
				fields[key] = v
			} else if key != "lineItems" {
				fields[key] = json.Number("0")
			}
		}
		if _, err := s.create(tx, domain.EntityInvoices, invoiceID, fields); err != nil {
			return err
		}
		if _, err := tx.Update(domain.EntityQuotes, quoteID, setFields(map[string]any{
			keyStatus:              domain.QuoteStatusAccepted,
			"convertedToInvoiceId": invoiceID,
		})); err != nil {
			return err
		}
		if _, err := tx.AppendAudit(s.auditEntry(domain.EntityQuotes, quoteID, domain.AuditConverted,
			domain.QuoteStatusAccepted, map[string]any{"invoiceId": invoiceID})); err != nil {
			return err
		}
		if _, err := tx.AppendAudit(s.auditEntry(domain.EntityInvoices, invoiceID, domain.AuditCreated,
			nil, map[string]any{"fromQuote": quoteID})); err != nil {
			return err
		}
		res.InvoiceID = invoiceID
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyConverted) {
			res.Error = s.conversionFailed(conversionQuote, quoteID, errors.New("quote already converted"))
			return res
		}
		return QuoteConversion{Error: s.conversionFailed(conversionQuote, quoteID, err)}
	}
	s.conversionDone(conversionQuote, quoteID)
	res.Success = true
	return res
}

// AcceptQuote accepts a quote, supersedes the other open quotes of the same
// deal and advances the deal to negotiation. Closed deals keep their stage.
// The actor needs edit on both quotes and deals.
func (s *Service) AcceptQuote(ctx context.Context, quoteID string) QuoteAcceptance {
	if !s.allowed(domain.EntityQuotes, domain.PermEdit) || !s.allowed(domain.EntityDeals, domain.PermEdit) {
		return QuoteAcceptance{Error: errorMessage(ErrForbidden)}
	}
	var res QuoteAcceptance
	_, err := s.run(ctx, "accept_quote", func(tx domain.Transaction) error {
		_, quote, err := find[domain.Quote](tx, domain.EntityQuotes, quoteID)
		if err != nil {
			return err
		}
		if quote.Status != domain.QuoteStatusAccepted {
			if _, err := tx.Update(domain.EntityQuotes, quoteID, setFields(map[string]any{
				keyStatus:    domain.QuoteStatusAccepted,
				"acceptedAt": timestamp(tx.Now()),
			})); err != nil {
				return err
			}
			if _, err := tx.AppendAudit(s.auditEntry(domain.EntityQuotes, quoteID, domain.AuditAccepted,
				domain.QuoteStatusAccepted, map[string]any{"from": quote.Status})); err != nil {
				return err
			}
		}
		if quote.DealID == "" {
			return nil
		}
		for _, sibling := range tx.List(domain.EntityQuotes) {
			if sibling.ID == quoteID || sibling.String(keyDealID) != quote.DealID {
				continue
			}
			status := sibling.String(keyStatus)
			if status == domain.QuoteStatusAccepted || status == domain.QuoteStatusSuperseded {
				continue
			}
			if _, err := tx.Update(domain.EntityQuotes, sibling.ID, setFields(map[string]any{
				keyStatus:      domain.QuoteStatusSuperseded,
				"supersededBy": quoteID,
			})); err != nil {
				return err
			}
			if _, err := tx.AppendAudit(s.auditEntry(domain.EntityQuotes, sibling.ID, domain.AuditSuperseded,
				domain.QuoteStatusSuperseded, map[string]any{"acceptedQuoteId": quoteID})); err != nil {
				return err
			}
		}
		_, deal, err := find[domain.Deal](tx, domain.EntityDeals, quote.DealID)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		res.DealStage = deal.Stage
		if deal.Stage == domain.StageClosedWon || deal.Stage == domain.StageClosedLost || deal.Stage == domain.StageNegotiation {
			return nil
		}
		fields := map[string]any{"stage": domain.StageNegotiation}
		if stage, ok := s.pipelineStage(tx.Snapshot().Settings(), deal.PipelineID, domain.StageNegotiation); ok {
			fields["probability"] = stage.Probability
		}
		if _, err := tx.Update(domain.EntityDeals, deal.ID, setFields(fields)); err != nil {
			return err
		}
		if _, err := tx.AppendAudit(s.auditEntry(domain.EntityDeals, deal.ID, domain.AuditStatusChanged,
			domain.StageNegotiation, map[string]any{"from": deal.Stage, "quoteId": quoteID})); err != nil {
			return err
		}
		res.DealStage = domain.StageNegotiation
		return nil
	})
	if err != nil {
		s.log.Info().Err(err).Str("quote", quoteID).Msg("quote acceptance rejected")
		return QuoteAcceptance{Error: errorMessage(err)}
	}
	res.Success = true
	return res
}

// pipelineStage looks a stage up in the deal's pipeline, or in the sales
// pipeline when the deal names none that is known.
func (s *Service) pipelineStage(settings domain.Settings, pipelineID, name string) (domain.PipelineStage, bool) {
	bp := s.blueprints.Resolve(settings)
	pipeline, _ := bp.SalesPipeline()
	for _, p := range bp.Pipelines {
		if p.ID == pipelineID {
			pipeline = p
			break
		}
	}
	return pipeline.Stage(name)
}
