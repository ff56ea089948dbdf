package analytics

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
)

// MalformedInvoiceError reports an invoice that violates an invariant the
// resolver depends on. The aggregation engine fails the whole batch on it
// rather than skipping the row, since a silently skipped invoice would
// corrupt the summary's totals.
type MalformedInvoiceError struct {
	InvoiceId     int
	InvoiceNumber string
	Reason        string
}

func (e *MalformedInvoiceError) Error() string {
	return fmt.Sprintf("malformed invoice id=%d number=%s: %s", e.InvoiceId, e.InvoiceNumber, e.Reason)
}

// ResolveStatus derives the effective lifecycle status of one invoice at
// the given instant. Overdue is not a fact anyone records: a Sent invoice
// is overdue exactly when now is past its due date, so it must be computed
// on every read instead of trusted from storage.
//
// Rules, first match wins:
//  1. Paid and Cancelled are terminal; time never overrides them.
//  2. A Draft has no due date and cannot be overdue.
//  3. Any other status with a due date strictly before now is Overdue.
//  4. Otherwise the stored status stands.
//
// now equal to the due date is NOT overdue: an invoice becomes overdue the
// instant after its due date, not on it.
func ResolveStatus(invoice models.Invoice, now time.Time) (models.InvoiceStatus, error) {
	status := invoice.CurrentStatus
	if !status.IsValid() {
		return "", &MalformedInvoiceError{
			InvoiceId:     invoice.ID,
			InvoiceNumber: invoice.InvoiceNumber,
			Reason:        fmt.Sprintf("unknown stored status %q", string(status)),
		}
	}
	if invoice.Total.IsNegative() {
		return "", &MalformedInvoiceError{
			InvoiceId:     invoice.ID,
			InvoiceNumber: invoice.InvoiceNumber,
			Reason:        "negative total",
		}
	}

	if status.IsTerminal() {
		return status, nil
	}
	if status == models.InvoiceStatusDraft {
		return status, nil
	}

	// Sent or Overdue: the due date invariant must hold.
	if invoice.DueDate == nil {
		return "", &MalformedInvoiceError{
			InvoiceId:     invoice.ID,
			InvoiceNumber: invoice.InvoiceNumber,
			Reason:        fmt.Sprintf("status %s without a due date", status),
		}
	}
	if now.After(*invoice.DueDate) {
		return models.InvoiceStatusOverdue, nil
	}
	return status, nil
}
