// Package subscription decides whether a caller may use a gated feature.
// The gate fails closed: any lookup problem is a denial.
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coldbrewhq/coldbrew/internal/models"
	"gorm.io/gorm"
)

// Feature names gated behind the pro plan.
type Feature string

const (
	FeatureEmailEditing Feature = "email_editing"
	FeatureDeepResearch Feature = "deep_research"
)

// ErrCheckFailed reports that the subscription lookup itself failed.
// Distinguishable from a clean denial so callers can return 500 vs 403.
var ErrCheckFailed = errors.New("subscription check failed")

// ErrSubscriptionRequired reports a clean denial: the caller's plan or
// status does not cover the feature.
var ErrSubscriptionRequired = errors.New("subscription required")

// QuotaError reports an exhausted free-tier generation allowance.
type QuotaError struct {
	Limit int
	Used  int
}

func (e QuotaError) Error() string {
	return fmt.Sprintf("monthly generation quota exceeded (%d/%d)", e.Used, e.Limit)
}

// Gate checks plan, status, and usage against the profile store.
type Gate struct {
	db               *gorm.DB
	freeMonthlyLimit int
}

// NewGate creates a gate backed by the profile store.
func NewGate(db *gorm.DB, freeMonthlyLimit int) *Gate {
	return &Gate{db: db, freeMonthlyLimit: freeMonthlyLimit}
}

// Info is the resolved subscription view returned to callers.
type Info struct {
	Plan                string `json:"plan"`
	Status              string `json:"status"`
	EmailEditingEnabled bool   `json:"emailEditingEnabled"`
	DeepResearchEnabled bool   `json:"deepResearchEnabled"`
	GenerationsUsed     int    `json:"generationsUsed"`
	GenerationsLimit    int    `json:"generationsLimit"` // 0 means unmetered
}

// Status resolves the caller's subscription view. A missing profile is
// reported as the free plan, not an error.
func (g *Gate) Status(ctx context.Context, userID string) (Info, error) {
	var profile models.Profile
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Info{
			Plan:             models.PlanFree,
			Status:           models.StatusActive,
			GenerationsLimit: g.freeMonthlyLimit,
		}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}

	active := profile.Status == models.StatusActive
	limit := g.freeMonthlyLimit
	if profile.Subscribed() {
		limit = 0
	}
	return Info{
		Plan:                profile.Plan,
		Status:              profile.Status,
		EmailEditingEnabled: active && planAllows(profile.Plan, FeatureEmailEditing),
		DeepResearchEnabled: active && planAllows(profile.Plan, FeatureDeepResearch),
		GenerationsUsed:     profile.GenerationsUsed,
		GenerationsLimit:    limit,
	}, nil
}

// Check permits the feature iff status == active and the resolved plan
// carries the feature flag. Lookup errors deny with ErrCheckFailed.
func (g *Gate) Check(ctx context.Context, userID string, feature Feature) error {
	var profile models.Profile
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No profile means free tier
		return ErrSubscriptionRequired
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}

	if profile.Status != models.StatusActive {
		return ErrSubscriptionRequired
	}
	if !planAllows(profile.Plan, feature) {
		return ErrSubscriptionRequired
	}
	return nil
}

// ConsumeGeneration records one generation against the caller's monthly
// allowance. Pro subscribers are unmetered. The usage period resets at the
// start of the current UTC month. A missing profile is created on first
// use with free-tier defaults. The transaction runs serializable so two
// concurrent calls at the limit cannot both pass.
func (g *Gate) ConsumeGeneration(ctx context.Context, userID string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile models.Profile
		err := tx.Where("user_id = ?", userID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			profile = models.Profile{
				UserID:           userID,
				Plan:             models.PlanFree,
				Status:           models.StatusActive,
				UsagePeriodStart: monthStartUTC(time.Now()),
			}
			if err := tx.Create(&profile).Error; err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("%w: %v", ErrCheckFailed, err)
		}

		if profile.Subscribed() {
			return nil
		}

		currentPeriod := monthStartUTC(time.Now())
		used := profile.GenerationsUsed
		periodStart := profile.UsagePeriodStart
		if periodStart.Before(currentPeriod) {
			used = 0
			periodStart = currentPeriod
		}

		if used >= g.freeMonthlyLimit {
			return QuotaError{Limit: g.freeMonthlyLimit, Used: used}
		}

		return tx.Model(&profile).Updates(map[string]interface{}{
			"generations_used":   used + 1,
			"usage_period_start": periodStart,
		}).Error
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	return err
}

// RefundGeneration returns one consumed generation to the caller's monthly
// allowance after a failed pipeline run. Pro subscribers are unmetered and
// a counter already at zero stays at zero.
func (g *Gate) RefundGeneration(ctx context.Context, userID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile models.Profile
		err := tx.Where("user_id = ?", userID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if profile.Subscribed() || profile.GenerationsUsed == 0 {
			return nil
		}
		return tx.Model(&profile).
			Update("generations_used", profile.GenerationsUsed-1).Error
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// ResetExpiredPeriods zeroes usage counters whose period started before the
// current UTC month. Invoked by the maintenance worker.
func (g *Gate) ResetExpiredPeriods(ctx context.Context) (int64, error) {
	currentPeriod := monthStartUTC(time.Now())
	result := g.db.WithContext(ctx).Model(&models.Profile{}).
		Where("usage_period_start < ?", currentPeriod).
		Updates(map[string]interface{}{
			"generations_used":   0,
			"usage_period_start": currentPeriod,
		})
	return result.RowsAffected, result.Error
}

func planAllows(plan string, feature Feature) bool {
	switch plan {
	case models.PlanPro:
		return true
	default:
		return false
	}
}

func monthStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
