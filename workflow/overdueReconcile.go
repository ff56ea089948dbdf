package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/analytics"
	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"bitbucket.org/mmdatafocus/invoicing_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReconcileResult summarizes one business sweep. Conflicts are invoices whose
// stored status changed between the candidate read and the conditional write;
// they are counted, not failed.
type ReconcileResult struct {
	BusinessId string `json:"business_id"`
	Candidates int    `json:"candidates"`
	Repaired   int    `json:"repaired"`
	Conflicts  int    `json:"conflicts"`
	Skipped    bool   `json:"skipped"`
}

// ReconcileMessageId keys a scheduler trigger to the business-local calendar
// date. Two triggers on the same tenant day share a message id and the
// idempotency gate collapses them into one run.
func ReconcileMessageId(now time.Time, timezone string) string {
	day, err := utils.ConvertToDate(now, timezone)
	if err != nil {
		day = now.UTC()
	}
	return day.Format("2006-01-02")
}

// ProcessOverdueReconcile sweeps one business: finds stored-Sent invoices past
// their due date and persists Overdue with a per-invoice conditional write.
// The sweep is serialized per business and deduplicated by messageId, so
// scheduler retries and overlapping runs are safe.
func ProcessOverdueReconcile(ctx context.Context, db *gorm.DB, logger *logrus.Logger, businessId string, messageId string, now time.Time) (*ReconcileResult, error) {
	result := &ReconcileResult{BusinessId: businessId}
	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	if !config.OverdueWriteback() {
		result.Skipped = true
		return result, nil
	}

	if err := AcquireBusinessReconcileLock(db, businessId); err != nil {
		config.LogError(logger, "overdueReconcile.go", "ProcessOverdueReconcile", "Acquiring reconcile lock", businessId, err)
		return nil, err
	}
	defer ReleaseBusinessReconcileLock(db, businessId)

	skip, err := BeginIdempotency(db, businessId, "overdue-reconcile", messageId)
	if err != nil {
		config.LogError(logger, "overdueReconcile.go", "ProcessOverdueReconcile", "Begin idempotency", messageId, err)
		return nil, err
	}
	if skip {
		result.Skipped = true
		return result, nil
	}

	sweepErr := func() error {
		candidates, err := models.GetOverdueCandidates(db.WithContext(ctx), businessId, now)
		if err != nil {
			return err
		}
		result.Candidates = len(candidates)

		repairs, err := analytics.PlanStatusRepairs(candidates, now)
		if err != nil {
			return err
		}

		byId := make(map[int]models.Invoice, len(candidates))
		for _, inv := range candidates {
			byId[inv.ID] = inv
		}

		for _, repair := range repairs {
			err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return models.ApplyOverdueRepair(tx, ctx, businessId, byId[repair.InvoiceId], now)
			})
			if errors.Is(err, models.ErrConcurrentUpdateConflict) {
				// Another writer (payment, cancellation) got there first.
				result.Conflicts++
				logger.WithFields(logrus.Fields{
					"module":     "overdueReconcile.go",
					"businessId": businessId,
					"invoiceId":  repair.InvoiceId,
				}).Info("overdue repair lost the race, skipping invoice")
				continue
			}
			if err != nil {
				return err
			}
			result.Repaired++
		}
		return nil
	}()

	if sweepErr != nil {
		config.LogError(logger, "overdueReconcile.go", "ProcessOverdueReconcile", "Sweeping overdue candidates", businessId, sweepErr)
		if err := MarkIdempotencyFailed(db, businessId, "overdue-reconcile", messageId, sweepErr); err != nil {
			config.LogError(logger, "overdueReconcile.go", "ProcessOverdueReconcile", "Mark idempotency failed", messageId, err)
		}
		return nil, sweepErr
	}

	if err := MarkIdempotencySucceeded(db, businessId, "overdue-reconcile", messageId); err != nil {
		config.LogError(logger, "overdueReconcile.go", "ProcessOverdueReconcile", "Mark idempotency succeeded", messageId, err)
		return nil, err
	}
	return result, nil
}

// ProcessOverdueReconcileAll runs the sweep for every business. Used by the
// scheduled job binary; per-business failures are logged and do not stop the
// remaining businesses.
func ProcessOverdueReconcileAll(ctx context.Context, db *gorm.DB, logger *logrus.Logger, messageId string, now time.Time) ([]ReconcileResult, error) {
	businesses, err := models.GetAllBusinesses(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ReconcileResult, 0, len(businesses))
	for _, business := range businesses {
		businessId := business.ID.String()
		res, err := ProcessOverdueReconcile(ctx, db, logger, businessId, messageId, now)
		if err != nil {
			config.LogError(logger, "overdueReconcile.go", "ProcessOverdueReconcileAll", "Business sweep failed", businessId, err)
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}
