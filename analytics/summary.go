package analytics

import (
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"github.com/shopspring/decimal"
)

// StatusBreakdown counts invoices per effective status. The five counts
// always sum to Summary.TotalInvoices.
type StatusBreakdown struct {
	Draft     int `json:"draft"`
	Sent      int `json:"sent"`
	Paid      int `json:"paid"`
	Overdue   int `json:"overdue"`
	Cancelled int `json:"cancelled"`
}

func (b *StatusBreakdown) add(status models.InvoiceStatus) {
	switch status {
	case models.InvoiceStatusDraft:
		b.Draft++
	case models.InvoiceStatusSent:
		b.Sent++
	case models.InvoiceStatusPaid:
		b.Paid++
	case models.InvoiceStatusOverdue:
		b.Overdue++
	case models.InvoiceStatusCancelled:
		b.Cancelled++
	}
}

func (b StatusBreakdown) Total() int {
	return b.Draft + b.Sent + b.Paid + b.Overdue + b.Cancelled
}

// Summary is a pure projection over (invoices, now). It is recomputed on
// demand, never stored, and merges field-wise: aggregating shards
// separately and merging equals aggregating the whole collection.
//
// TotalRevenue is billed volume: the face amount of every invoice
// regardless of payment state. Collected cash is PaidRevenue.
type Summary struct {
	TotalInvoices   int             `json:"totalInvoices"`
	TotalRevenue    decimal.Decimal `json:"totalRevenue"`
	PaidInvoices    int             `json:"paidInvoices"`
	PaidRevenue     decimal.Decimal `json:"paidRevenue"`
	PendingInvoices int             `json:"pendingInvoices"`
	PendingRevenue  decimal.Decimal `json:"pendingRevenue"`
	OverdueInvoices int             `json:"overdueInvoices"`
	OverdueRevenue  decimal.Decimal `json:"overdueRevenue"`

	InvoicesByStatus StatusBreakdown `json:"invoicesByStatus"`
}

// ZeroSummary is the identity of Merge.
func ZeroSummary() *Summary {
	return &Summary{
		TotalRevenue:   decimal.Zero,
		PaidRevenue:    decimal.Zero,
		PendingRevenue: decimal.Zero,
		OverdueRevenue: decimal.Zero,
	}
}

// Merge folds other into s field-wise.
func (s *Summary) Merge(other *Summary) {
	s.TotalInvoices += other.TotalInvoices
	s.TotalRevenue = s.TotalRevenue.Add(other.TotalRevenue)
	s.PaidInvoices += other.PaidInvoices
	s.PaidRevenue = s.PaidRevenue.Add(other.PaidRevenue)
	s.PendingInvoices += other.PendingInvoices
	s.PendingRevenue = s.PendingRevenue.Add(other.PendingRevenue)
	s.OverdueInvoices += other.OverdueInvoices
	s.OverdueRevenue = s.OverdueRevenue.Add(other.OverdueRevenue)

	s.InvoicesByStatus.Draft += other.InvoicesByStatus.Draft
	s.InvoicesByStatus.Sent += other.InvoicesByStatus.Sent
	s.InvoicesByStatus.Paid += other.InvoicesByStatus.Paid
	s.InvoicesByStatus.Overdue += other.InvoicesByStatus.Overdue
	s.InvoicesByStatus.Cancelled += other.InvoicesByStatus.Cancelled
}

func (s *Summary) addInvoice(invoice models.Invoice, status models.InvoiceStatus) {
	s.TotalInvoices++
	s.TotalRevenue = s.TotalRevenue.Add(invoice.Total)
	s.InvoicesByStatus.add(status)

	switch status {
	case models.InvoiceStatusPaid:
		s.PaidInvoices++
		s.PaidRevenue = s.PaidRevenue.Add(invoice.Total)
	case models.InvoiceStatusSent:
		s.PendingInvoices++
		s.PendingRevenue = s.PendingRevenue.Add(invoice.Total)
	case models.InvoiceStatusOverdue:
		s.OverdueInvoices++
		s.OverdueRevenue = s.OverdueRevenue.Add(invoice.Total)
	}
	// Draft and Cancelled contribute only to the totals and their bucket.
}

// AggregateInvoices resolves each invoice's effective status at now and
// folds the collection into a Summary in a single pass. A malformed
// invoice aborts the whole aggregation; the caller must not render a
// failed aggregation as an honestly-zero summary.
//
// The fold is commutative and associative over the input, so disjoint
// shards may be aggregated in parallel and merged. It reads its inputs
// only: same (invoices, now) in, same Summary out.
func AggregateInvoices(invoices []models.Invoice, now time.Time) (*Summary, error) {
	summary := ZeroSummary()
	for _, invoice := range invoices {
		status, err := ResolveStatus(invoice, now)
		if err != nil {
			return nil, err
		}
		summary.addInvoice(invoice, status)
	}
	return summary, nil
}
