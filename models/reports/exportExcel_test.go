package reports

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/analytics"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var registerNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func registerInvoice(id int, status models.InvoiceStatus, dueDate *time.Time, total string) models.Invoice {
	return models.Invoice{
		ID:            id,
		BusinessId:    "biz-1",
		ClientId:      1,
		ClientName:    "Acme",
		InvoiceNumber: "INV-00" + string(rune('0'+id)),
		InvoiceDate:   registerNow.Add(-30 * 24 * time.Hour),
		DueDate:       dueDate,
		Total:         decimal.RequireFromString(total),
		CurrentStatus: status,
	}
}

func TestWriteInvoiceRegister_EffectiveStatusRows(t *testing.T) {
	pastDue := registerNow.Add(-48 * time.Hour)
	futureDue := registerNow.Add(48 * time.Hour)
	invoices := []models.Invoice{
		registerInvoice(1, models.InvoiceStatusSent, &pastDue, "100"),
		registerInvoice(2, models.InvoiceStatusSent, &futureDue, "250"),
	}

	var buf bytes.Buffer
	if err := WriteInvoiceRegister(&buf, invoices, registerNow); err != nil {
		t.Fatalf("WriteInvoiceRegister: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopening workbook: %v", err)
	}
	defer f.Close()

	// Row 2 is the stored-Sent invoice past due; the register shows the
	// effective status, not the stored one.
	status, err := f.GetCellValue(invoiceSheet, "F2")
	if err != nil {
		t.Fatalf("reading F2: %v", err)
	}
	if status != string(models.InvoiceStatusOverdue) {
		t.Fatalf("row 2 status = %q, want Overdue", status)
	}
	status, err = f.GetCellValue(invoiceSheet, "F3")
	if err != nil {
		t.Fatalf("reading F3: %v", err)
	}
	if status != string(models.InvoiceStatusSent) {
		t.Fatalf("row 3 status = %q, want Sent", status)
	}

	totalInvoices, err := f.GetCellValue(summarySheet, "B1")
	if err != nil {
		t.Fatalf("reading summary B1: %v", err)
	}
	if totalInvoices != "2" {
		t.Fatalf("summary TotalInvoices = %q, want 2", totalInvoices)
	}
}

func TestWriteInvoiceRegister_MalformedRowWritesNothing(t *testing.T) {
	// Stored Sent without a due date cannot be classified.
	invoices := []models.Invoice{
		registerInvoice(1, models.InvoiceStatusSent, nil, "100"),
	}

	var buf bytes.Buffer
	err := WriteInvoiceRegister(&buf, invoices, registerNow)

	var malformed *analytics.MalformedInvoiceError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInvoiceError, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("malformed register wrote %d bytes before failing, want none", buf.Len())
	}
}
