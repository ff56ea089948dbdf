package reports

import (
	"fmt"
	"io"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/analytics"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"github.com/xuri/excelize/v2"
)

const invoiceSheet = "Invoices"
const summarySheet = "Summary"

// WriteInvoiceRegister writes an xlsx workbook with one row per invoice
// (effective status, not stored) plus a revenue summary sheet. Both sheets
// come from the same snapshot and the same clock, so they agree. Nothing is
// written to w until the whole workbook has been built, so a malformed row
// aborts cleanly with no partial output.
func WriteInvoiceRegister(w io.Writer, invoices []models.Invoice, now time.Time) error {
	summary, err := analytics.AggregateInvoices(invoices, now)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", invoiceSheet); err != nil {
		return err
	}

	headers := []string{"InvoiceNumber", "Client", "InvoiceDate", "DueDate", "Total", "Status", "PaidAt"}
	col := 'A'
	for _, h := range headers {
		f.SetCellValue(invoiceSheet, string(col)+"1", h)
		col++
	}

	for i, invoice := range invoices {
		status, err := analytics.ResolveStatus(invoice, now)
		if err != nil {
			return err
		}
		row := fmt.Sprint(i + 2)
		f.SetCellValue(invoiceSheet, "A"+row, invoice.InvoiceNumber)
		f.SetCellValue(invoiceSheet, "B"+row, invoice.ClientName)
		f.SetCellValue(invoiceSheet, "C"+row, invoice.InvoiceDate.Format("2006-01-02"))
		if invoice.DueDate != nil {
			f.SetCellValue(invoiceSheet, "D"+row, invoice.DueDate.Format("2006-01-02"))
		}
		f.SetCellValue(invoiceSheet, "E"+row, invoice.Total.String())
		f.SetCellValue(invoiceSheet, "F"+row, string(status))
		if invoice.PaidAt != nil {
			f.SetCellValue(invoiceSheet, "G"+row, invoice.PaidAt.Format("2006-01-02"))
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	summaryRows := [][2]interface{}{
		{"TotalInvoices", summary.TotalInvoices},
		{"TotalRevenue", summary.TotalRevenue.String()},
		{"PaidInvoices", summary.PaidInvoices},
		{"PaidRevenue", summary.PaidRevenue.String()},
		{"PendingInvoices", summary.PendingInvoices},
		{"PendingRevenue", summary.PendingRevenue.String()},
		{"OverdueInvoices", summary.OverdueInvoices},
		{"OverdueRevenue", summary.OverdueRevenue.String()},
		{"Draft", summary.InvoicesByStatus.Draft},
		{"Sent", summary.InvoicesByStatus.Sent},
		{"Paid", summary.InvoicesByStatus.Paid},
		{"Overdue", summary.InvoicesByStatus.Overdue},
		{"Cancelled", summary.InvoicesByStatus.Cancelled},
	}
	for i, r := range summaryRows {
		row := fmt.Sprint(i + 1)
		f.SetCellValue(summarySheet, "A"+row, r[0])
		f.SetCellValue(summarySheet, "B"+row, r[1])
	}

	return f.Write(w)
}
