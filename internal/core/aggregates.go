package core

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crmcore/pkg/domain"
)

// Stats are the dashboard aggregates derived from the record collections.
type Stats struct {
	PipelineValue    decimal.Decimal `json:"pipelineValue"`
	WeightedPipeline decimal.Decimal `json:"weightedPipeline"`
	WonValue         decimal.Decimal `json:"wonValue"`
	WinRate          float64         `json:"winRate"`
	OpenDeals        int             `json:"openDeals"`
	WonDeals         int             `json:"wonDeals"`
	LostDeals        int             `json:"lostDeals"`
	MRR              decimal.Decimal `json:"mrr"`
	AROutstanding    decimal.Decimal `json:"arOutstanding"`
	OverdueInvoices  int             `json:"overdueInvoices"`
}

var hundred = decimal.NewFromInt(100)

// ComputeStats aggregates deals, subscriptions and invoices visible in view.
// Draft invoices are not receivable yet and are left out of AR.
func ComputeStats(view domain.RuleView, now time.Time) Stats {
	st := Stats{}
	for _, rec := range view.List(domain.EntityDeals) {
		value := rec.Decimal("amount")
		switch rec.String("stage") {
		case domain.StageClosedWon:
			st.WonDeals++
			st.WonValue = st.WonValue.Add(value)
		case domain.StageClosedLost:
			st.LostDeals++
		default:
			st.OpenDeals++
			st.PipelineValue = st.PipelineValue.Add(value)
			st.WeightedPipeline = st.WeightedPipeline.Add(value.Mul(rec.Decimal("probability")).Div(hundred))
		}
	}
	if closed := st.WonDeals + st.LostDeals; closed > 0 {
		st.WinRate = float64(st.WonDeals) / float64(closed)
	}

	for _, rec := range view.List(domain.EntitySubscriptions) {
		if !strings.EqualFold(rec.String(keyStatus), "active") {
			continue
		}
		st.MRR = st.MRR.Add(monthly(rec.Decimal("amount"), rec.String("billingPeriod")))
	}

	for _, rec := range view.List(domain.EntityInvoices) {
		inv, err := domain.DecodeRecord[domain.Invoice](rec)
		if err != nil || inv.Status == domain.InvoiceStatusDraft || inv.Status == domain.InvoiceStatusPaid {
			continue
		}
		balance := inv.Balance()
		if !balance.IsPositive() {
			continue
		}
		st.AROutstanding = st.AROutstanding.Add(balance)
		if inv.DueDate != nil && inv.DueDate.Before(now) {
			st.OverdueInvoices++
		}
	}
	return st
}

// monthly normalizes a recurring amount to a monthly figure.
func monthly(amount decimal.Decimal, period string) decimal.Decimal {
	switch strings.ToLower(period) {
	case "yearly", "annual", "annually":
		return amount.Div(decimal.NewFromInt(12))
	case "quarterly":
		return amount.Div(decimal.NewFromInt(3))
	case "weekly":
		return amount.Mul(decimal.NewFromInt(52)).Div(decimal.NewFromInt(12))
	default:
		return amount
	}
}

// Stats computes the aggregates over the current state.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		st = ComputeStats(v, s.now())
		return nil
	})
	return st, err
}
