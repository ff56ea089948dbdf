package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/utils"
	"gorm.io/gorm"
)

// InvoiceEvent is the transactional outbox for lifecycle transitions.
// Rows are written in the same transaction as the status change and
// published to Pub/Sub by the event dispatcher (at-least-once).
type InvoiceEvent struct {
	ID            int           `gorm:"primary_key" json:"id"`
	BusinessId    string        `gorm:"index;not null" json:"business_id"`
	InvoiceId     int           `gorm:"index;not null" json:"invoice_id"`
	OldStatus     InvoiceStatus `gorm:"size:20;not null" json:"old_status"`
	NewStatus     InvoiceStatus `gorm:"size:20;not null" json:"new_status"`
	OccurredAt    time.Time     `gorm:"not null" json:"occurred_at"`
	CorrelationId string        `gorm:"size:64" json:"correlation_id"`
	IsPublished   bool          `gorm:"index;not null;default:false" json:"is_published"`
	PublishedAt   *time.Time    `gorm:"default:null" json:"published_at"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func recordInvoiceEvent(tx *gorm.DB, ctx context.Context, businessId string, invoiceId int, oldStatus InvoiceStatus, newStatus InvoiceStatus) error {
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	event := InvoiceEvent{
		BusinessId:    businessId,
		InvoiceId:     invoiceId,
		OldStatus:     oldStatus,
		NewStatus:     newStatus,
		OccurredAt:    time.Now().UTC(),
		CorrelationId: correlationId,
	}
	return tx.Create(&event).Error
}

// GetUnpublishedInvoiceEvents returns pending outbox rows oldest-first.
func GetUnpublishedInvoiceEvents(ctx context.Context, limit int) ([]InvoiceEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	db := config.GetDB()
	var events []InvoiceEvent
	err := db.WithContext(ctx).
		Where("is_published = ?", false).
		Order("id").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func MarkInvoiceEventPublished(ctx context.Context, eventId int) error {
	db := config.GetDB()
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&InvoiceEvent{}).
		Where("id = ?", eventId).
		Updates(map[string]interface{}{
			"IsPublished": true,
			"PublishedAt": &now,
		}).Error
}
