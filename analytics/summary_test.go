package analytics

import (
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/models"
)

func summariesEqual(a, b *Summary) bool {
	return a.TotalInvoices == b.TotalInvoices &&
		a.TotalRevenue.Equal(b.TotalRevenue) &&
		a.PaidInvoices == b.PaidInvoices &&
		a.PaidRevenue.Equal(b.PaidRevenue) &&
		a.PendingInvoices == b.PendingInvoices &&
		a.PendingRevenue.Equal(b.PendingRevenue) &&
		a.OverdueInvoices == b.OverdueInvoices &&
		a.OverdueRevenue.Equal(b.OverdueRevenue) &&
		a.InvoicesByStatus == b.InvoicesByStatus
}

func TestAggregateInvoices_EmptyCollectionIsZero(t *testing.T) {
	summary, err := AggregateInvoices(nil, testNow)
	if err != nil {
		t.Fatalf("AggregateInvoices(nil) error: %v", err)
	}
	if !summariesEqual(summary, ZeroSummary()) {
		t.Fatalf("AggregateInvoices(nil) = %+v, expected zero summary", summary)
	}
	if summary.InvoicesByStatus.Total() != 0 {
		t.Fatalf("zero summary breakdown total = %d", summary.InvoicesByStatus.Total())
	}
}

func TestAggregateInvoices_StatusBuckets(t *testing.T) {
	yesterday := datePtr(testNow.AddDate(0, 0, -1))
	invoices := []models.Invoice{
		testInvoice(1, models.InvoiceStatusPaid, yesterday, "100"),
		testInvoice(2, models.InvoiceStatusSent, yesterday, "50"),
		testInvoice(3, models.InvoiceStatusDraft, nil, "75"),
	}

	summary, err := AggregateInvoices(invoices, testNow)
	if err != nil {
		t.Fatalf("AggregateInvoices error: %v", err)
	}

	if summary.TotalInvoices != 3 {
		t.Fatalf("TotalInvoices = %d, expected 3", summary.TotalInvoices)
	}
	if summary.TotalRevenue.String() != "225" {
		t.Fatalf("TotalRevenue = %s, expected 225 (billed volume, all statuses)", summary.TotalRevenue)
	}
	if summary.PaidInvoices != 1 || summary.PaidRevenue.String() != "100" {
		t.Fatalf("paid bucket = (%d, %s), expected (1, 100)", summary.PaidInvoices, summary.PaidRevenue)
	}
	if summary.OverdueInvoices != 1 || summary.OverdueRevenue.String() != "50" {
		t.Fatalf("overdue bucket = (%d, %s), expected (1, 50): sent past due must count as overdue", summary.OverdueInvoices, summary.OverdueRevenue)
	}
	if summary.PendingInvoices != 0 || !summary.PendingRevenue.IsZero() {
		t.Fatalf("pending bucket = (%d, %s), expected (0, 0)", summary.PendingInvoices, summary.PendingRevenue)
	}

	expected := StatusBreakdown{Draft: 1, Sent: 0, Paid: 1, Overdue: 1, Cancelled: 0}
	if summary.InvoicesByStatus != expected {
		t.Fatalf("InvoicesByStatus = %+v, expected %+v", summary.InvoicesByStatus, expected)
	}
}

func TestAggregateInvoices_SentDueTomorrowIsPending(t *testing.T) {
	tomorrow := datePtr(testNow.AddDate(0, 0, 1))
	invoices := []models.Invoice{
		testInvoice(1, models.InvoiceStatusSent, tomorrow, "40"),
	}

	summary, err := AggregateInvoices(invoices, testNow)
	if err != nil {
		t.Fatalf("AggregateInvoices error: %v", err)
	}
	if summary.PendingInvoices != 1 || summary.PendingRevenue.String() != "40" {
		t.Fatalf("pending bucket = (%d, %s), expected (1, 40)", summary.PendingInvoices, summary.PendingRevenue)
	}
	if summary.OverdueInvoices != 0 {
		t.Fatalf("OverdueInvoices = %d, invoice due tomorrow must not be overdue", summary.OverdueInvoices)
	}
}

func mixedFixture() []models.Invoice {
	yesterday := datePtr(testNow.AddDate(0, 0, -1))
	nextWeek := datePtr(testNow.AddDate(0, 0, 7))
	return []models.Invoice{
		testInvoice(1, models.InvoiceStatusPaid, yesterday, "100"),
		testInvoice(2, models.InvoiceStatusSent, yesterday, "50"),
		testInvoice(3, models.InvoiceStatusDraft, nil, "75"),
		testInvoice(4, models.InvoiceStatusSent, nextWeek, "20.50"),
		testInvoice(5, models.InvoiceStatusCancelled, yesterday, "999.99"),
		testInvoice(6, models.InvoiceStatusOverdue, yesterday, "12.25"),
		testInvoice(7, models.InvoiceStatusDraft, nil, "0"),
	}
}

func TestAggregateInvoices_OrderInvariant(t *testing.T) {
	invoices := mixedFixture()
	expected, err := AggregateInvoices(invoices, testNow)
	if err != nil {
		t.Fatalf("AggregateInvoices error: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	for run := 0; run < 50; run++ {
		shuffled := make([]models.Invoice, len(invoices))
		copy(shuffled, invoices)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got, err := AggregateInvoices(shuffled, testNow)
		if err != nil {
			t.Fatalf("run=%d AggregateInvoices error: %v", run, err)
		}
		if !summariesEqual(expected, got) {
			t.Fatalf("run=%d permutation changed the summary: %+v vs %+v", run, expected, got)
		}
	}
}

func TestAggregateInvoices_Idempotent(t *testing.T) {
	invoices := mixedFixture()

	first, err := AggregateInvoices(invoices, testNow)
	if err != nil {
		t.Fatalf("AggregateInvoices error: %v", err)
	}
	second, err := AggregateInvoices(invoices, testNow)
	if err != nil {
		t.Fatalf("AggregateInvoices error: %v", err)
	}

	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	if string(firstJSON) != string(secondJSON) {
		t.Fatalf("same inputs produced different output:\n%s\n%s", firstJSON, secondJSON)
	}

	// Inputs must not be mutated by aggregation.
	if invoices[1].CurrentStatus != models.InvoiceStatusSent {
		t.Fatalf("aggregation mutated its input: invoice 2 status = %s", invoices[1].CurrentStatus)
	}
}

func TestAggregateInvoices_MergeEqualsWholeCollection(t *testing.T) {
	invoices := mixedFixture()
	whole, err := AggregateInvoices(invoices, testNow)
	if err != nil {
		t.Fatalf("AggregateInvoices error: %v", err)
	}

	for split := 0; split <= len(invoices); split++ {
		left, err := AggregateInvoices(invoices[:split], testNow)
		if err != nil {
			t.Fatalf("split=%d AggregateInvoices error: %v", split, err)
		}
		right, err := AggregateInvoices(invoices[split:], testNow)
		if err != nil {
			t.Fatalf("split=%d AggregateInvoices error: %v", split, err)
		}

		merged := ZeroSummary()
		merged.Merge(left)
		merged.Merge(right)
		if !summariesEqual(whole, merged) {
			t.Fatalf("split=%d shard merge diverged: %+v vs %+v", split, whole, merged)
		}
	}
}

func TestAggregateInvoices_BreakdownSumsToTotal(t *testing.T) {
	summary, err := AggregateInvoices(mixedFixture(), testNow)
	if err != nil {
		t.Fatalf("AggregateInvoices error: %v", err)
	}
	if summary.InvoicesByStatus.Total() != summary.TotalInvoices {
		t.Fatalf("breakdown sums to %d, TotalInvoices = %d", summary.InvoicesByStatus.Total(), summary.TotalInvoices)
	}
}

func TestAggregateInvoices_MalformedInvoiceAbortsBatch(t *testing.T) {
	yesterday := datePtr(testNow.AddDate(0, 0, -1))
	invoices := []models.Invoice{
		testInvoice(1, models.InvoiceStatusPaid, yesterday, "100"),
		testInvoice(2, models.InvoiceStatusSent, nil, "50"), // invariant violation
		testInvoice(3, models.InvoiceStatusDraft, nil, "75"),
	}

	summary, err := AggregateInvoices(invoices, testNow)
	if err == nil {
		t.Fatalf("expected aggregation to fail, got %+v", summary)
	}
	var malformed *MalformedInvoiceError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInvoiceError, got %T: %v", err, err)
	}
	if malformed.InvoiceId != 2 {
		t.Fatalf("error names invoice %d, expected 2", malformed.InvoiceId)
	}
	if summary != nil {
		t.Fatalf("failed aggregation must not return a partial summary")
	}
}

func TestAggregateInvoices_DeterministicUnderConcurrency(t *testing.T) {
	invoices := mixedFixture()
	expected, err := AggregateInvoices(invoices, testNow)
	if err != nil {
		t.Fatalf("AggregateInvoices error: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]*Summary, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := AggregateInvoices(invoices, testNow)
			if err != nil {
				t.Errorf("goroutine %d: AggregateInvoices error: %v", i, err)
				return
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	for i, s := range results {
		if s == nil {
			t.Fatalf("goroutine %d produced no result", i)
		}
		if !summariesEqual(expected, s) {
			t.Fatalf("goroutine %d diverged: %+v vs %+v", i, expected, s)
		}
	}
}

func TestAggregateInvoices_NowShiftsBuckets(t *testing.T) {
	due := testNow
	invoices := []models.Invoice{
		testInvoice(1, models.InvoiceStatusSent, &due, "50"),
	}

	before, err := AggregateInvoices(invoices, due)
	if err != nil {
		t.Fatalf("AggregateInvoices error: %v", err)
	}
	after, err := AggregateInvoices(invoices, due.Add(time.Second))
	if err != nil {
		t.Fatalf("AggregateInvoices error: %v", err)
	}

	if before.PendingInvoices != 1 || before.OverdueInvoices != 0 {
		t.Fatalf("at the due date: pending=%d overdue=%d, expected 1/0", before.PendingInvoices, before.OverdueInvoices)
	}
	if after.PendingInvoices != 0 || after.OverdueInvoices != 1 {
		t.Fatalf("after the due date: pending=%d overdue=%d, expected 0/1", after.PendingInvoices, after.OverdueInvoices)
	}
}
