package domain

import "strconv"

// DocumentKind identifies a numbering series.
type DocumentKind string

const (
	DocInvoice       DocumentKind = "invoice"
	DocQuote         DocumentKind = "quote"
	DocPurchaseOrder DocumentKind = "purchase_order"
	DocJob           DocumentKind = "job"
	DocTicket        DocumentKind = "ticket"
)

// DefaultFirstNumber is the counter value of a fresh series.
const DefaultFirstNumber = 1001

type kindInfo struct {
	entity EntityType
	field  string
	prefix string
}

var documentKinds = map[DocumentKind]kindInfo{
	DocInvoice:       {entity: EntityInvoices, field: "invoiceNumber", prefix: "INV-"},
	DocQuote:         {entity: EntityQuotes, field: "quoteNumber", prefix: "QT-"},
	DocPurchaseOrder: {entity: EntityPurchaseOrders, field: "poNumber", prefix: "PO-"},
	DocJob:           {entity: EntityJobs, field: "jobNumber", prefix: "JOB-"},
	DocTicket:        {entity: EntityTickets, field: "ticketNumber", prefix: "TKT-"},
}

// DocumentKinds lists the numbered document kinds.
func DocumentKinds() []DocumentKind {
	return []DocumentKind{DocInvoice, DocQuote, DocPurchaseOrder, DocJob, DocTicket}
}

// ParseDocumentKind resolves a kind name.
func ParseDocumentKind(s string) (DocumentKind, bool) {
	k := DocumentKind(s)
	_, ok := documentKinds[k]
	return k, ok
}

// DocumentKindFor returns the numbering series used by records of type t.
func DocumentKindFor(t EntityType) (DocumentKind, bool) {
	for kind, info := range documentKinds {
		if info.entity == t {
			return kind, true
		}
	}
	return "", false
}

// NumberField is the record field carrying the document number.
func (k DocumentKind) NumberField() string {
	return documentKinds[k].field
}

// Entity is the collection numbered by this kind.
func (k DocumentKind) Entity() EntityType {
	return documentKinds[k].entity
}

// NumberingSeries is a per-kind prefix and counter.
type NumberingSeries struct {
	Prefix     string `json:"prefix"`
	NextNumber int    `json:"nextNumber"`
}

// Format renders the current counter with the prefix.
func (s NumberingSeries) Format() string {
	return s.Prefix + strconv.Itoa(s.NextNumber)
}

// DefaultNumbering returns the initial series for every kind.
func DefaultNumbering() map[DocumentKind]NumberingSeries {
	out := make(map[DocumentKind]NumberingSeries, len(documentKinds))
	for kind, info := range documentKinds {
		out[kind] = NumberingSeries{Prefix: info.prefix, NextNumber: DefaultFirstNumber}
	}
	return out
}
