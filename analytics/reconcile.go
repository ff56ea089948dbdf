package analytics

import (
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
)

// StatusRepair is one pending write-back: persist NewStatus for the
// invoice so stored queries stop lagging behind the derived status.
type StatusRepair struct {
	InvoiceId int
	NewStatus models.InvoiceStatus
}

// PlanStatusRepairs lists the invoices whose derived status disagrees
// with storage in the one direction reconciliation repairs: Sent invoices
// that have silently become Overdue. Repairs toward any other status stay
// with the mutation paths that own them.
//
// Planning is pure; applying a repair requires the conditional write in
// models.MarkInvoiceOverdue so a concurrent payment or cancellation wins.
func PlanStatusRepairs(invoices []models.Invoice, now time.Time) ([]StatusRepair, error) {
	var repairs []StatusRepair
	for _, invoice := range invoices {
		effective, err := ResolveStatus(invoice, now)
		if err != nil {
			return nil, err
		}
		if effective == models.InvoiceStatusOverdue && invoice.CurrentStatus != models.InvoiceStatusOverdue {
			repairs = append(repairs, StatusRepair{
				InvoiceId: invoice.ID,
				NewStatus: models.InvoiceStatusOverdue,
			})
		}
	}
	return repairs, nil
}
