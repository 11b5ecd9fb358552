// Package profiles reads and writes the per-user sender profile.
package profiles

import (
	"context"
	"encoding/json"

	"github.com/coldbrewhq/coldbrew/internal/models"
	"gorm.io/gorm"
)

// Load fetches the profile for a user id. Returns gorm.ErrRecordNotFound
// when no profile exists.
func Load(ctx context.Context, db *gorm.DB, userID string) (*models.Profile, error) {
	var profile models.Profile
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func decodeList(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
