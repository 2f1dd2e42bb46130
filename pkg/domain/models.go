package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status values used by the lifecycle workflows.
const (
	LeadStatusNew       = "New"
	LeadStatusConverted = "Converted"

	StageClosedWon   = "Closed Won"
	StageClosedLost  = "Closed Lost"
	StageNegotiation = "Negotiation"

	QuoteStatusDraft      = "Draft"
	QuoteStatusSent       = "Sent"
	QuoteStatusAccepted   = "Accepted"
	QuoteStatusSuperseded = "Superseded"

	InvoiceStatusDraft = "Draft"
	InvoiceStatusSent  = "Sent"
	InvoiceStatusPaid  = "Paid"

	PaymentUnpaid        = "unpaid"
	PaymentPartiallyPaid = "partially_paid"
	PaymentPaid          = "paid"

	BankTxReconciled = "reconciled"
)

// Lead is the typed view of a leads record.
type Lead struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name,omitempty"`
	FirstName          string          `json:"firstName,omitempty"`
	LastName           string          `json:"lastName,omitempty"`
	Company            string          `json:"company,omitempty"`
	Email              string          `json:"email,omitempty"`
	Phone              string          `json:"phone,omitempty"`
	Address            string          `json:"address,omitempty"`
	Status             string          `json:"status,omitempty"`
	Source             string          `json:"source,omitempty"`
	EstimatedValue     decimal.Decimal `json:"estimatedValue"`
	OwnerID            string          `json:"ownerId,omitempty"`
	ConvertedAccountID string          `json:"convertedAccountId,omitempty"`
	ConvertedContactID string          `json:"convertedContactId,omitempty"`
	ConvertedToDealID  string          `json:"convertedToDealId,omitempty"`
}

// DisplayName prefers the explicit name, then first/last name, then company.
func (l Lead) DisplayName() string {
	switch {
	case l.Name != "":
		return l.Name
	case l.FirstName != "" || l.LastName != "":
		return joinName(l.FirstName, l.LastName)
	default:
		return l.Company
	}
}

// Deal is the typed view of a deals record.
type Deal struct {
	ID               string          `json:"id"`
	Title            string          `json:"title,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Stage            string          `json:"stage,omitempty"`
	Probability      decimal.Decimal `json:"probability"`
	PipelineID       string          `json:"pipelineId,omitempty"`
	AccountID        string          `json:"accountId,omitempty"`
	ContactID        string          `json:"contactId,omitempty"`
	LeadID           string          `json:"leadId,omitempty"`
	OwnerID          string          `json:"ownerId,omitempty"`
	CreatedAccountID string          `json:"createdAccountId,omitempty"`
	CreatedContactID string          `json:"createdContactId,omitempty"`
}

// LineItem is a priced row on a quote or invoice.
type LineItem struct {
	ID          string          `json:"id,omitempty"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Total       decimal.Decimal `json:"total"`
}

// Quote is the typed view of a quotes record.
type Quote struct {
	ID                   string          `json:"id"`
	QuoteNumber          string          `json:"quoteNumber,omitempty"`
	DealID               string          `json:"dealId,omitempty"`
	AccountID            string          `json:"accountId,omitempty"`
	ContactID            string          `json:"contactId,omitempty"`
	Status               string          `json:"status,omitempty"`
	LineItems            []LineItem      `json:"lineItems,omitempty"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Tax                  decimal.Decimal `json:"tax"`
	Total                decimal.Decimal `json:"total"`
	ConvertedToInvoiceID string          `json:"convertedToInvoiceId,omitempty"`
}

// Credit is a single payment applied to an invoice.
type Credit struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
	Method string          `json:"method,omitempty"`
	Note   string          `json:"note,omitempty"`
}

// Invoice is the typed view of an invoices record.
type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoiceNumber,omitempty"`
	AccountID     string          `json:"accountId,omitempty"`
	ContactID     string          `json:"contactId,omitempty"`
	DealID        string          `json:"dealId,omitempty"`
	QuoteID       string          `json:"quoteId,omitempty"`
	Status        string          `json:"status,omitempty"`
	PaymentStatus string          `json:"paymentStatus,omitempty"`
	LineItems     []LineItem      `json:"lineItems,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Credits       []Credit        `json:"credits,omitempty"`
	IssueDate     *time.Time      `json:"issueDate,omitempty"`
	DueDate       *time.Time      `json:"dueDate,omitempty"`
}

// Paid sums the credits applied to the invoice.
func (i Invoice) Paid() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range i.Credits {
		sum = sum.Add(c.Amount)
	}
	return sum
}

// Balance returns max(0, total - paid).
func (i Invoice) Balance() decimal.Decimal {
	remaining := i.Total.Sub(i.Paid())
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Subscription is the typed view of a subscriptions record.
type Subscription struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"accountId,omitempty"`
	Status        string          `json:"status,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	BillingPeriod string          `json:"billingPeriod,omitempty"`
}

// User is the typed view of a users record.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role,omitempty"`
	ManagerID string `json:"managerId,omitempty"`
}

// BankTransaction is the typed view of a bank_transactions record.
type BankTransaction struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Status      string          `json:"status,omitempty"`
	InvoiceID   string          `json:"invoiceId,omitempty"`
}

// DecodeRecord converts a record into a typed view.
func DecodeRecord[T any](rec Record) (T, error) {
	var out T
	raw, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("encode %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s into %T: %w", rec.ID, out, err)
	}
	return out, nil
}

// RecordFrom converts a typed value into a record.
func RecordFrom(value any) (Record, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// FieldValue converts a typed value into its field representation, e.g. a
// slice of line items into []any.
func FieldValue(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
