package models

import "gorm.io/gorm"

// Search mode values for the research collector.
const (
	SearchModeBasic = "basic"
	SearchModeDeep  = "deep"
)

// GeneratedEmail is one row per generation. Immutable once created
// except for owner deletion (soft delete; hard-pruned by the
// maintenance worker after the retention window).
type GeneratedEmail struct {
	gorm.Model
	UserID string `gorm:"not null;index"`

	RecipientName     string `gorm:"not null"`
	RecipientCompany  string
	RecipientRole     string
	RecipientLinkedIn string

	Purpose string `gorm:"not null"`
	Tone    string

	SearchMode       string `gorm:"not null;default:'basic'"`
	ResearchFindings string `gorm:"type:text"`
	Commonalities    string `gorm:"type:text"`
	EmailText        string `gorm:"type:text;not null"`
}
