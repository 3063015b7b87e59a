package model

import (
	"strconv"
	"strings"
	"time"
)

// ExamType defines the kind of exam a slot is for
type ExamType string

const (
	ExamTypeDriving ExamType = "driving"
	ExamTypeTheory  ExamType = "theory"
)

// ParseExamType accepts the canonical values and the Slovenian aliases
// used by the portal and older clients.
func ParseExamType(s string) (ExamType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "driving", "voznja", "vožnja":
		return ExamTypeDriving, true
	case "theory", "teorija":
		return ExamTypeTheory, true
	default:
		return "", false
	}
}

// MaxTownLen is the width of the town column
const MaxTownLen = 100

// Slot represents a persisted exam appointment
type Slot struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	SlotKey       string     `gorm:"uniqueIndex;size:512;not null" json:"-"`
	DateStr       string     `gorm:"size:32;not null" json:"date_str"`
	TimeStr       string     `gorm:"size:16;not null" json:"time_str"`
	DateISO       *time.Time `gorm:"type:date;index:idx_slots_order,priority:1" json:"date_iso,omitempty"`
	TimeISO       string     `gorm:"size:8;index:idx_slots_order,priority:2" json:"time_iso"`
	Region        *int       `json:"region"`
	Town          *string    `gorm:"size:100" json:"town"`
	ExamType      *ExamType  `gorm:"size:20" json:"exam_type"`
	PlacesLeft    int        `gorm:"not null;default:0" json:"places_left"`
	HasTranslator bool       `gorm:"not null;default:false" json:"has_translator"`
	Categories    string     `gorm:"size:100;not null;default:''" json:"categories"`
	SourcePage    int        `json:"-"`
	Location      string     `gorm:"size:255" json:"location"`
	Available     bool       `gorm:"not null;index" json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastSeenAt    *time.Time `gorm:"index" json:"-"`
}

// TableName returns the table name for Slot
func (Slot) TableName() string {
	return "slots"
}

// SlotDraft is a parsed but not yet persisted slot.
// PlacesLeft is nil when the page did not state it.
type SlotDraft struct {
	DateStr       string
	TimeStr       string
	Region        *int
	Town          *string
	ExamType      *ExamType
	PlacesLeft    *int
	HasTranslator bool
	Categories    string
	SourcePage    int
}

// Key returns the natural key of the draft
func (d *SlotDraft) Key() string {
	return NaturalKey(d.DateStr, d.TimeStr, d.Region, d.Town, d.Categories)
}

// NaturalKey joins the identifying slot fields. A nil region or town
// contributes an empty segment.
func NaturalKey(date, clock string, region *int, town *string, categories string) string {
	var regionPart, townPart string
	if region != nil {
		regionPart = strconv.Itoa(*region)
	}
	if town != nil {
		townPart = *town
	}
	return strings.Join([]string{date, clock, regionPart, townPart, categories}, "|")
}
