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

type InvoicePayment struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	InvoiceId       int             `gorm:"index;not null" json:"invoice_id"`
	PaymentDate     time.Time       `gorm:"not null" json:"payment_date"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	PaymentMode     string          `gorm:"size:100" json:"payment_mode"`
	ReferenceNumber string          `gorm:"size:255" json:"reference_number"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewInvoicePayment struct {
	PaymentDate     time.Time       `json:"payment_date" binding:"required"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMode     string          `json:"payment_mode"`
	ReferenceNumber string          `json:"reference_number"`
}

// RecordInvoicePayment settles an invoice: payment row, paid_at stamp and
// the Paid status land in one transaction. The status write is conditional
// on the invoice still being payable so a concurrent cancellation cannot
// be overwritten.
func RecordInvoicePayment(ctx context.Context, invoiceId int, input *NewInvoicePayment) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	invoice, err := utils.FetchModel[Invoice](ctx, businessId, invoiceId)
	if err != nil {
		return nil, err
	}

	oldStatus := invoice.CurrentStatus
	if oldStatus.IsTerminal() {
		return nil, ErrTerminalStatus
	}
	if oldStatus == InvoiceStatusDraft {
		return nil, errors.New("draft invoices cannot be paid")
	}
	if input.Amount.IsNegative() || input.Amount.IsZero() {
		return nil, errors.New("payment amount must be positive")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment := InvoicePayment{
			BusinessId:      businessId,
			InvoiceId:       invoice.ID,
			PaymentDate:     input.PaymentDate,
			Amount:          input.Amount,
			PaymentMode:     input.PaymentMode,
			ReferenceNumber: input.ReferenceNumber,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}

		result := tx.Model(&Invoice{}).
			Where("business_id = ?", businessId).
			Where("id = ?", invoice.ID).
			Where("current_status IN ?", []InvoiceStatus{InvoiceStatusSent, InvoiceStatusOverdue}).
			Updates(map[string]interface{}{
				"CurrentStatus": InvoiceStatusPaid,
				"PaidAt":        input.PaymentDate,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentUpdateConflict
		}

		description := fmt.Sprintf("Invoice %s paid %s.", invoice.InvoiceNumber, input.Amount)
		if err := createHistory(tx, ctx, "status", invoice.ID, "Invoice", oldStatus, InvoiceStatusPaid, description); err != nil {
			return err
		}
		return recordInvoiceEvent(tx, ctx, businessId, invoice.ID, oldStatus, InvoiceStatusPaid)
	})
	if err != nil {
		return nil, err
	}

	invoice.CurrentStatus = InvoiceStatusPaid
	paidAt := input.PaymentDate
	invoice.PaidAt = &paidAt
	return invoice, nil
}

func GetInvoicePayments(ctx context.Context, invoiceId int) ([]*InvoicePayment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var payments []*InvoicePayment
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("invoice_id = ?", invoiceId).
		Order("payment_date").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
