package models

import "errors"

// InvoiceStatus is the stored lifecycle status of an invoice: the last
// status explicitly written by a mutation. The effective (time-aware)
// status is derived in the analytics package and is never trusted from
// storage for reporting.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "Draft"
	InvoiceStatusSent      InvoiceStatus = "Sent"
	InvoiceStatusPaid      InvoiceStatus = "Paid"
	InvoiceStatusOverdue   InvoiceStatus = "Overdue"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
)

// AllInvoiceStatuses lists every status tag in display order.
var AllInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusDraft,
	InvoiceStatusSent,
	InvoiceStatusPaid,
	InvoiceStatusOverdue,
	InvoiceStatusCancelled,
}

var invoiceStatusByName = map[string]InvoiceStatus{
	"Draft":     InvoiceStatusDraft,
	"Sent":      InvoiceStatusSent,
	"Paid":      InvoiceStatusPaid,
	"Overdue":   InvoiceStatusOverdue,
	"Cancelled": InvoiceStatusCancelled,
}

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	status, ok := invoiceStatusByName[s]
	if !ok {
		return "", errors.New("invalid invoice status")
	}
	return status, nil
}

func (s InvoiceStatus) IsValid() bool {
	_, ok := invoiceStatusByName[string(s)]
	return ok
}

// IsTerminal reports whether no further transition is permitted.
// Paid and Cancelled are final: elapsed time never reclassifies them.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

func (s *InvoiceStatus) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("invoice status must be string")
	}
	status, err := ParseInvoiceStatus(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// UserRole mirrors the console roles: admin, owner, clerk.
type UserRole string

const (
	UserRoleAdmin UserRole = "A"
	UserRoleOwner UserRole = "O"
	UserRoleClerk UserRole = "C"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)
