package models

import "time"

// IdempotencyKey makes at-least-once triggers (scheduler pushes, replayed
// job requests) safe to process repeatedly.
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	BusinessId  string            `gorm:"uniqueIndex:uniq_idem,priority:1;size:64;not null" json:"business_id"`
	HandlerName string            `gorm:"uniqueIndex:uniq_idem,priority:2;size:64;not null" json:"handler_name"`
	MessageId   string            `gorm:"uniqueIndex:uniq_idem,priority:3;size:128;not null" json:"message_id"`
	Status      IdempotencyStatus `gorm:"size:16;not null" json:"status"`
	LastError   *string           `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
