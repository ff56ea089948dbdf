package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invoice is the stored record. CurrentStatus is the last explicitly
// written status; reporting derives the effective status from it plus
// DueDate at read time (see the analytics package).
type Invoice struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	ClientId      int             `gorm:"index;not null" json:"client_id"`
	ClientName    string          `gorm:"size:100;not null" json:"client_name"`
	InvoiceNumber string          `gorm:"size:255;not null" json:"invoice_number"`
	InvoiceDate   time.Time       `gorm:"not null" json:"invoice_date"`
	DueDate       *time.Time      `gorm:"default:null" json:"due_date"`
	Total         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	CurrentStatus InvoiceStatus   `gorm:"type:enum('Draft', 'Sent', 'Paid', 'Overdue', 'Cancelled');not null;default:Draft" json:"current_status"`
	PaidAt        *time.Time      `gorm:"default:null" json:"paid_at"`
	Notes         string          `gorm:"type:text" json:"notes"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoice struct {
	ClientId      int             `json:"client_id" binding:"required"`
	InvoiceNumber string          `json:"invoice_number" binding:"required"`
	InvoiceDate   time.Time       `json:"invoice_date" binding:"required"`
	DueDate       *time.Time      `json:"due_date"`
	Total         decimal.Decimal `json:"total"`
	Notes         string          `json:"notes"`
}

var (
	// ErrTerminalStatus rejects any transition out of Paid or Cancelled.
	ErrTerminalStatus = errors.New("invoice is in a terminal status")

	// ErrConcurrentUpdateConflict means a conditional status write found the
	// stored status already changed by a concurrent mutation. Callers of the
	// reconciliation path treat this as expected and move on.
	ErrConcurrentUpdateConflict = errors.New("invoice status changed concurrently")

	ErrDraftOnly = errors.New("only draft invoices can be edited")
)

func (input NewInvoice) validate(ctx context.Context, businessId string, exceptId int) error {
	if input.Total.IsNegative() {
		return errors.New("invoice total must not be negative")
	}
	if err := utils.ValidateResourceId[Client](ctx, businessId, input.ClientId); err != nil {
		return errors.New("client not found")
	}
	return utils.ValidateUnique[Invoice](ctx, businessId, "invoice_number", input.InvoiceNumber, exceptId)
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	client, err := utils.FetchModel[Client](ctx, businessId, input.ClientId)
	if err != nil {
		return nil, err
	}

	invoice := Invoice{
		BusinessId:    businessId,
		ClientId:      input.ClientId,
		ClientName:    client.Name,
		InvoiceNumber: input.InvoiceNumber,
		InvoiceDate:   input.InvoiceDate,
		DueDate:       input.DueDate,
		Total:         input.Total,
		CurrentStatus: InvoiceStatusDraft,
		Notes:         input.Notes,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		description := fmt.Sprintf("Invoice %s created for %s.", invoice.InvoiceNumber, invoice.ClientName)
		return createHistory(tx, ctx, "create", invoice.ID, "Invoice", nil, invoice, description)
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// UpdateInvoice edits a draft. Sent and later invoices are immutable apart
// from their status transitions.
func UpdateInvoice(ctx context.Context, id int, input *NewInvoice) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	invoice, err := utils.FetchModel[Invoice](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if invoice.CurrentStatus != InvoiceStatusDraft {
		return nil, ErrDraftOnly
	}
	if input.InvoiceNumber != invoice.InvoiceNumber {
		return nil, errors.New("invoice number is immutable")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	client, err := utils.FetchModel[Client](ctx, businessId, input.ClientId)
	if err != nil {
		return nil, err
	}

	before := *invoice
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(invoice).Updates(map[string]interface{}{
			"ClientId":    input.ClientId,
			"ClientName":  client.Name,
			"InvoiceDate": input.InvoiceDate,
			"DueDate":     input.DueDate,
			"Total":       input.Total,
			"Notes":       input.Notes,
		}).Error
		if err != nil {
			return err
		}
		description := fmt.Sprintf("Invoice %s updated.", invoice.InvoiceNumber)
		return createHistory(tx, ctx, "update", invoice.ID, "Invoice", before, invoice, description)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func DeleteInvoice(ctx context.Context, id int) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	invoice, err := utils.FetchModel[Invoice](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if invoice.CurrentStatus != InvoiceStatusDraft {
		return nil, ErrDraftOnly
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(invoice).Error; err != nil {
			return err
		}
		description := fmt.Sprintf("Invoice %s deleted.", invoice.InvoiceNumber)
		return createHistory(tx, ctx, "delete", invoice.ID, "Invoice", invoice, nil, description)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// allowedTransition gates the explicit mutation paths. Paid is reachable
// only through RecordInvoicePayment and Overdue only through the
// reconciliation sweep, so neither appears as a target here.
func allowedTransition(from InvoiceStatus, to InvoiceStatus) error {
	if from.IsTerminal() {
		return ErrTerminalStatus
	}
	switch to {
	case InvoiceStatusSent:
		if from != InvoiceStatusDraft {
			return fmt.Errorf("cannot send an invoice in status %s", from)
		}
		return nil
	case InvoiceStatusCancelled:
		return nil
	default:
		return fmt.Errorf("status %s cannot be set directly", to)
	}
}

// UpdateStatusInvoice applies the send and cancel transitions, recording a
// history row and an outbox event in the same transaction as the write.
func UpdateStatusInvoice(ctx context.Context, id int, status InvoiceStatus) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !status.IsValid() {
		return nil, errors.New("invalid invoice status")
	}

	invoice, err := utils.FetchModel[Invoice](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	oldStatus := invoice.CurrentStatus
	if err := allowedTransition(oldStatus, status); err != nil {
		return nil, err
	}
	if status == InvoiceStatusSent && invoice.DueDate == nil {
		return nil, errors.New("a due date is required to send an invoice")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(invoice).Updates(map[string]interface{}{
			"CurrentStatus": status,
		}).Error
		if err != nil {
			return err
		}

		description := fmt.Sprintf("Invoice %s moved from %s to %s.", invoice.InvoiceNumber, oldStatus, status)
		if err := createHistory(tx, ctx, "status", invoice.ID, "Invoice", oldStatus, status, description); err != nil {
			return err
		}
		return recordInvoiceEvent(tx, ctx, businessId, invoice.ID, oldStatus, status)
	})
	if err != nil {
		return nil, err
	}

	invoice.CurrentStatus = status
	return invoice, nil
}

// MarkInvoiceOverdue persists a derived Overdue status with a conditional
// write: the update applies only while the stored status is still Sent and
// the due date has passed. A concurrent payment or cancellation wins the
// race and the caller receives ErrConcurrentUpdateConflict.
func MarkInvoiceOverdue(tx *gorm.DB, businessId string, invoiceId int, now time.Time) error {
	result := tx.Model(&Invoice{}).
		Where("business_id = ?", businessId).
		Where("id = ?", invoiceId).
		Where("current_status = ?", InvoiceStatusSent).
		Where("due_date IS NOT NULL AND due_date < ?", now).
		Updates(map[string]interface{}{"CurrentStatus": InvoiceStatusOverdue})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdateConflict
	}
	return nil
}

// ApplyOverdueRepair runs the conditional overdue write for one invoice and,
// when it lands, records the history row and outbox event in the same
// transaction.
func ApplyOverdueRepair(tx *gorm.DB, ctx context.Context, businessId string, invoice Invoice, now time.Time) error {
	if err := MarkInvoiceOverdue(tx, businessId, invoice.ID, now); err != nil {
		return err
	}
	description := fmt.Sprintf("Invoice %s marked overdue by reconciliation.", invoice.InvoiceNumber)
	if err := createHistory(tx, ctx, "status", invoice.ID, "Invoice", InvoiceStatusSent, InvoiceStatusOverdue, description); err != nil {
		return err
	}
	return recordInvoiceEvent(tx, ctx, businessId, invoice.ID, InvoiceStatusSent, InvoiceStatusOverdue)
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Invoice](ctx, businessId, id)
}

func GetInvoices(ctx context.Context, clientId *int, status *InvoiceStatus, invoiceNumber *string) ([]*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)

	if clientId != nil && *clientId > 0 {
		dbCtx = dbCtx.Where("client_id = ?", *clientId)
	}
	if status != nil {
		dbCtx = dbCtx.Where("current_status = ?", *status)
	}
	if invoiceNumber != nil && *invoiceNumber != "" {
		dbCtx = dbCtx.Where("invoice_number LIKE ?", "%"+*invoiceNumber+"%")
	}

	var invoices []*Invoice
	if err := dbCtx.Order("created_at DESC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// GetRecentInvoices returns the latest invoices for the dashboard panel.
func GetRecentInvoices(ctx context.Context, limit int) ([]*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if limit <= 0 {
		limit = 5
	}

	db := config.GetDB()
	var invoices []*Invoice
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("created_at DESC").
		Limit(limit).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// GetInvoicesForReporting fetches the full tenant-scoped collection as
// value snapshots for the aggregation engine.
func GetInvoicesForReporting(ctx context.Context) ([]Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var invoices []Invoice
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// GetOverdueCandidates lists invoices the reconciliation sweep should try
// to repair: stored Sent with a due date strictly before now.
func GetOverdueCandidates(tx *gorm.DB, businessId string, now time.Time) ([]Invoice, error) {
	var invoices []Invoice
	err := tx.
		Where("business_id = ?", businessId).
		Where("current_status = ?", InvoiceStatusSent).
		Where("due_date IS NOT NULL AND due_date < ?", now).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}
