package model

import (
	"time"
)

// ScrapeRunID is the id of the single scrape metadata row
const ScrapeRunID = 1

// ScrapeRun holds the time of the last successful scrape cycle
type ScrapeRun struct {
	ID            uint `gorm:"primaryKey;autoIncrement:false"`
	LastScrapedAt *time.Time
}

// TableName returns the table name for ScrapeRun
func (ScrapeRun) TableName() string {
	return "scrape_meta"
}
