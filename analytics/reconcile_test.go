package analytics

import (
	"testing"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
)

func TestPlanStatusRepairs_OnlySentPastDue(t *testing.T) {
	yesterday := datePtr(testNow.AddDate(0, 0, -1))
	nextWeek := datePtr(testNow.AddDate(0, 0, 7))
	invoices := []models.Invoice{
		testInvoice(1, models.InvoiceStatusSent, yesterday, "50"),     // repair
		testInvoice(2, models.InvoiceStatusSent, nextWeek, "20"),      // still pending
		testInvoice(3, models.InvoiceStatusPaid, yesterday, "100"),    // terminal
		testInvoice(4, models.InvoiceStatusOverdue, yesterday, "30"),  // already stored
		testInvoice(5, models.InvoiceStatusCancelled, yesterday, "1"), // terminal
		testInvoice(6, models.InvoiceStatusDraft, nil, "75"),
	}

	repairs, err := PlanStatusRepairs(invoices, testNow)
	if err != nil {
		t.Fatalf("PlanStatusRepairs error: %v", err)
	}
	if len(repairs) != 1 {
		t.Fatalf("planned %d repairs, expected 1: %+v", len(repairs), repairs)
	}
	if repairs[0].InvoiceId != 1 || repairs[0].NewStatus != models.InvoiceStatusOverdue {
		t.Fatalf("repair = %+v, expected invoice 1 -> Overdue", repairs[0])
	}
}

func TestPlanStatusRepairs_IdempotentPlan(t *testing.T) {
	yesterday := datePtr(testNow.AddDate(0, 0, -1))
	invoices := []models.Invoice{
		testInvoice(1, models.InvoiceStatusSent, yesterday, "50"),
	}

	first, err := PlanStatusRepairs(invoices, testNow)
	if err != nil {
		t.Fatalf("PlanStatusRepairs error: %v", err)
	}

	// Apply the repair to a copy of the snapshot and re-plan: nothing left.
	invoices[0].CurrentStatus = models.InvoiceStatusOverdue
	second, err := PlanStatusRepairs(invoices, testNow)
	if err != nil {
		t.Fatalf("PlanStatusRepairs error: %v", err)
	}
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("repair plan not idempotent: first=%d second=%d", len(first), len(second))
	}
}

func TestPlanStatusRepairs_MalformedInputFailsPlan(t *testing.T) {
	invoices := []models.Invoice{
		testInvoice(1, models.InvoiceStatusSent, nil, "50"),
	}
	if _, err := PlanStatusRepairs(invoices, testNow); err == nil {
		t.Fatalf("expected malformed invoice to fail planning")
	}
}
