package model

import (
	"time"
)

// Subscription represents an email subscription to new slots.
// A nil filter matches any value.
type Subscription struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Email            string     `gorm:"size:255;not null;index" json:"email"`
	FilterRegion     *int       `json:"filter_region"`
	FilterTown       *string    `gorm:"size:100" json:"filter_town"`
	FilterExamType   *ExamType  `gorm:"size:20" json:"filter_exam_type"`
	FilterTranslator *bool      `json:"filter_translator"`
	FilterCategories *string    `gorm:"size:100" json:"filter_categories"`
	Active           bool       `gorm:"not null;index" json:"active"`
	UnsubscribeToken string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	LastNotifiedAt   *time.Time `json:"last_notified_at"`
}

// TableName returns the table name for Subscription
func (Subscription) TableName() string {
	return "subscriptions"
}
