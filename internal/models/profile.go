package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscription plan and status values. Feature gates key off
// plan == pro AND status == active.
const (
	PlanFree = "free"
	PlanPro  = "pro"

	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
	StatusTrialing  = "trialing"
)

// Profile is the single per-user record: sender identity used to
// personalize emails plus subscription and billing state.
type Profile struct {
	gorm.Model
	UserID string `gorm:"uniqueIndex;not null"`

	Name     string `gorm:"not null;default:''"`
	Email    string `gorm:"index"`
	JobTitle string
	Company  string
	Location string
	Industry string

	School         string
	Degree         string
	Major          string
	GraduationYear string

	Skills     datatypes.JSON `gorm:"type:jsonb"`
	Interests  datatypes.JSON `gorm:"type:jsonb"`
	Background string         `gorm:"type:text"`
	Links      datatypes.JSON `gorm:"type:jsonb"`

	Plan   string `gorm:"not null;default:'free'"`
	Status string `gorm:"not null;default:'active'"`

	StripeCustomerID     string `gorm:"index"`
	StripeSubscriptionID string

	// Optional user-supplied search API key for deep research,
	// stored AES-GCM encrypted
	SearchKeyEncrypted string

	// Free-tier usage tracking
	GenerationsUsed  int       `gorm:"not null;default:0"`
	UsagePeriodStart time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Subscribed reports whether the profile holds an active paid plan.
func (p *Profile) Subscribed() bool {
	return p.Plan == PlanPro && p.Status == StatusActive
}
