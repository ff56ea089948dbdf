package analytics

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func testInvoice(id int, status models.InvoiceStatus, dueDate *time.Time, total string) models.Invoice {
	return models.Invoice{
		ID:            id,
		BusinessId:    "biz-1",
		ClientName:    "Acme",
		InvoiceNumber: "INV-" + string(rune('0'+id)),
		InvoiceDate:   testNow.AddDate(0, 0, -30),
		DueDate:       dueDate,
		Total:         decimal.RequireFromString(total),
		CurrentStatus: status,
	}
}

func datePtr(t time.Time) *time.Time { return &t }

func TestResolveStatus_TerminalStatusesIgnoreTime(t *testing.T) {
	pastDue := datePtr(testNow.AddDate(0, 0, -10))
	futureDue := datePtr(testNow.AddDate(0, 0, 10))

	cases := []struct {
		status models.InvoiceStatus
		due    *time.Time
	}{
		{models.InvoiceStatusPaid, pastDue},
		{models.InvoiceStatusPaid, futureDue},
		{models.InvoiceStatusPaid, nil},
		{models.InvoiceStatusCancelled, pastDue},
		{models.InvoiceStatusCancelled, futureDue},
		{models.InvoiceStatusCancelled, nil},
	}
	for _, tc := range cases {
		inv := testInvoice(1, tc.status, tc.due, "100")
		for _, now := range []time.Time{testNow, testNow.AddDate(10, 0, 0), testNow.AddDate(-10, 0, 0)} {
			got, err := ResolveStatus(inv, now)
			if err != nil {
				t.Fatalf("ResolveStatus(%s) error: %v", tc.status, err)
			}
			if got != tc.status {
				t.Fatalf("ResolveStatus(%s, now=%s) = %s, expected stored status", tc.status, now, got)
			}
		}
	}
}

func TestResolveStatus_DraftIsNeverOverdue(t *testing.T) {
	inv := testInvoice(1, models.InvoiceStatusDraft, nil, "75")
	got, err := ResolveStatus(inv, testNow.AddDate(5, 0, 0))
	if err != nil {
		t.Fatalf("ResolveStatus error: %v", err)
	}
	if got != models.InvoiceStatusDraft {
		t.Fatalf("ResolveStatus(draft) = %s, expected Draft", got)
	}
}

func TestResolveStatus_SentDueDateBoundary(t *testing.T) {
	due := testNow
	inv := testInvoice(1, models.InvoiceStatusSent, &due, "50")

	cases := []struct {
		name     string
		now      time.Time
		expected models.InvoiceStatus
	}{
		{"before due date", due.Add(-time.Hour), models.InvoiceStatusSent},
		{"exactly at due date", due, models.InvoiceStatusSent},
		{"instant after due date", due.Add(time.Nanosecond), models.InvoiceStatusOverdue},
		{"day after due date", due.AddDate(0, 0, 1), models.InvoiceStatusOverdue},
	}
	for _, tc := range cases {
		got, err := ResolveStatus(inv, tc.now)
		if err != nil {
			t.Fatalf("%s: ResolveStatus error: %v", tc.name, err)
		}
		if got != tc.expected {
			t.Fatalf("%s: ResolveStatus = %s, expected %s", tc.name, got, tc.expected)
		}
	}
}

func TestResolveStatus_StoredOverdueStaysAuthoritativelyDerived(t *testing.T) {
	// Storage may already hold Overdue (written by the reconciliation
	// sweep); the derivation still decides what is reported.
	pastDue := datePtr(testNow.AddDate(0, 0, -1))
	inv := testInvoice(1, models.InvoiceStatusOverdue, pastDue, "50")
	got, err := ResolveStatus(inv, testNow)
	if err != nil {
		t.Fatalf("ResolveStatus error: %v", err)
	}
	if got != models.InvoiceStatusOverdue {
		t.Fatalf("ResolveStatus(stored overdue, past due) = %s, expected Overdue", got)
	}
}

func TestResolveStatus_MalformedInvoices(t *testing.T) {
	cases := []struct {
		name string
		inv  models.Invoice
	}{
		{"sent without due date", testInvoice(1, models.InvoiceStatusSent, nil, "50")},
		{"overdue without due date", testInvoice(2, models.InvoiceStatusOverdue, nil, "50")},
		{"negative total", testInvoice(3, models.InvoiceStatusSent, datePtr(testNow), "-1")},
		{"unknown status", testInvoice(4, models.InvoiceStatus("Bogus"), datePtr(testNow), "50")},
	}
	for _, tc := range cases {
		_, err := ResolveStatus(tc.inv, testNow)
		if err == nil {
			t.Fatalf("%s: expected MalformedInvoiceError, got nil", tc.name)
		}
		var malformed *MalformedInvoiceError
		if !errors.As(err, &malformed) {
			t.Fatalf("%s: expected MalformedInvoiceError, got %T: %v", tc.name, err, err)
		}
		if malformed.InvoiceId != tc.inv.ID {
			t.Fatalf("%s: error carries invoice id %d, expected %d", tc.name, malformed.InvoiceId, tc.inv.ID)
		}
	}
}
