package workflow

import (
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/analytics"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate the intended sweep semantics:
// - the conditional overdue write lets exactly one writer win per invoice
// - losing writers see a conflict and the sweep moves on instead of failing
// - duplicate sweep triggers are deduplicated by the idempotency key
//
// Full DB integration tests should be added in an environment that can run MySQL.

// fakeInvoiceStore mimics the conditional UPDATE ... WHERE current_status = 'Sent'.
type fakeInvoiceStore struct {
	mu       sync.Mutex
	statuses map[int]models.InvoiceStatus
}

func newFakeInvoiceStore(statuses map[int]models.InvoiceStatus) *fakeInvoiceStore {
	return &fakeInvoiceStore{statuses: statuses}
}

func (s *fakeInvoiceStore) markOverdue(invoiceId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[invoiceId] != models.InvoiceStatusSent {
		return models.ErrConcurrentUpdateConflict
	}
	s.statuses[invoiceId] = models.InvoiceStatusOverdue
	return nil
}

func (s *fakeInvoiceStore) status(invoiceId int) models.InvoiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[invoiceId]
}

func TestOverdueWrite_OnlyOneWriterWins(t *testing.T) {
	store := newFakeInvoiceStore(map[int]models.InvoiceStatus{1: models.InvoiceStatusSent})

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.markOverdue(1)
			mu.Lock()
			defer mu.Unlock()
			if err == models.ErrConcurrentUpdateConflict {
				conflicts++
			} else if err == nil {
				wins++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("wins=%d conflicts=%d, expected exactly one winner", wins, conflicts)
	}
	if store.status(1) != models.InvoiceStatusOverdue {
		t.Fatalf("final status = %s, expected Overdue", store.status(1))
	}
}

func TestOverdueWrite_ConcurrentPaymentWins(t *testing.T) {
	store := newFakeInvoiceStore(map[int]models.InvoiceStatus{1: models.InvoiceStatusSent})

	// A payment lands between the candidate read and the conditional write.
	store.mu.Lock()
	store.statuses[1] = models.InvoiceStatusPaid
	store.mu.Unlock()

	if err := store.markOverdue(1); err != models.ErrConcurrentUpdateConflict {
		t.Fatalf("expected conflict against a paid invoice, got %v", err)
	}
	if store.status(1) != models.InvoiceStatusPaid {
		t.Fatalf("payment outcome was overwritten: %s", store.status(1))
	}
}

func TestSweep_ConflictsDoNotAbortRemainingRepairs(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, -1)

	candidates := []models.Invoice{
		{ID: 1, CurrentStatus: models.InvoiceStatusSent, DueDate: &due},
		{ID: 2, CurrentStatus: models.InvoiceStatusSent, DueDate: &due},
		{ID: 3, CurrentStatus: models.InvoiceStatusSent, DueDate: &due},
	}
	repairs, err := analytics.PlanStatusRepairs(candidates, now)
	if err != nil {
		t.Fatalf("PlanStatusRepairs error: %v", err)
	}

	store := newFakeInvoiceStore(map[int]models.InvoiceStatus{
		1: models.InvoiceStatusSent,
		2: models.InvoiceStatusPaid, // raced by a payment after the candidate read
		3: models.InvoiceStatusSent,
	})

	repaired, conflicts := 0, 0
	for _, repair := range repairs {
		err := store.markOverdue(repair.InvoiceId)
		if err == models.ErrConcurrentUpdateConflict {
			conflicts++
			continue
		}
		if err != nil {
			t.Fatalf("repair %d: %v", repair.InvoiceId, err)
		}
		repaired++
	}

	if repaired != 2 || conflicts != 1 {
		t.Fatalf("repaired=%d conflicts=%d, expected 2 repairs and 1 swallowed conflict", repaired, conflicts)
	}
	if store.status(2) != models.InvoiceStatusPaid {
		t.Fatalf("paid invoice reclassified to %s", store.status(2))
	}
}

// fakeSweepRunner mimics the durable idempotency gate around the sweep.
type fakeSweepRunner struct {
	mu   sync.Mutex
	seen map[string]bool
	runs int
}

func (r *fakeSweepRunner) run(businessId, messageId string) {
	key := businessId + "|overdue-reconcile|" + messageId
	r.mu.Lock()
	if r.seen == nil {
		r.seen = map[string]bool{}
	}
	if r.seen[key] {
		r.mu.Unlock()
		return
	}
	r.seen[key] = true
	r.runs++
	r.mu.Unlock()
}

func TestSweep_DuplicateTriggerRunsOnce(t *testing.T) {
	r := &fakeSweepRunner{}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.run("biz-1", "2024-06-15")
		}()
	}
	wg.Wait()
	if r.runs != 1 {
		t.Fatalf("sweep ran %d times for one messageId, expected 1", r.runs)
	}

	// A new trigger day is a new message and runs again.
	r.run("biz-1", "2024-06-16")
	if r.runs != 2 {
		t.Fatalf("new messageId did not run: runs=%d", r.runs)
	}
}

func TestReconcileMessageId_BusinessLocalDay(t *testing.T) {
	// 19:30 UTC on June 15 is already 02:00 June 16 in Asia/Yangon (UTC+6:30).
	now := time.Date(2024, 6, 15, 19, 30, 0, 0, time.UTC)

	if got := ReconcileMessageId(now, "Asia/Yangon"); got != "2024-06-16" {
		t.Fatalf("Yangon message id = %q, want 2024-06-16", got)
	}
	if got := ReconcileMessageId(now, "UTC"); got != "2024-06-15" {
		t.Fatalf("UTC message id = %q, want 2024-06-15", got)
	}
	// An unknown zone falls back to the UTC date instead of failing the sweep.
	if got := ReconcileMessageId(now, "Not/AZone"); got != "2024-06-15" {
		t.Fatalf("fallback message id = %q, want 2024-06-15", got)
	}
}
