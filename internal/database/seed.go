package database

import (
	"log"
	"time"

	"github.com/coldbrewhq/coldbrew/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SeedDevData populates the database with development test data.
// Idempotent: skips if data already exists.
func SeedDevData(db *gorm.DB) error {
	var existing models.Profile
	result := db.Where("user_id = ?", "dev-user").First(&existing)
	if result.Error == nil {
		log.Println("Seed data already exists, skipping")
		return nil
	}

	profile := models.Profile{
		UserID:           "dev-user",
		Name:             "Dev User",
		Email:            "dev@coldbrew.local",
		JobTitle:         "Software Engineer",
		Company:          "Coldbrew",
		Location:         "Chicago, IL",
		Industry:         "Software",
		School:           "University of Illinois",
		Degree:           "BS",
		Major:            "Computer Science",
		GraduationYear:   "2018",
		Skills:           datatypes.JSON([]byte(`["Go","Postgres","Distributed Systems"]`)),
		Interests:        datatypes.JSON([]byte(`["Open source","Coffee","Cycling"]`)),
		Background:       "Backend engineer focused on developer tools.",
		Plan:             models.PlanPro,
		Status:           models.StatusActive,
		UsagePeriodStart: time.Now().UTC(),
	}

	if err := db.Create(&profile).Error; err != nil {
		return err
	}

	email := models.GeneratedEmail{
		UserID:           "dev-user",
		RecipientName:    "Jane Doe",
		RecipientCompany: "Acme Corp",
		RecipientRole:    "Engineering Manager",
		Purpose:          "networking",
		Tone:             "casual",
		SearchMode:       models.SearchModeBasic,
		ResearchFindings: "Jane Doe leads the platform team at Acme Corp.",
		Commonalities:    "Both studied computer science and work in developer tooling.",
		EmailText:        "Hi Jane,\n\nI came across your work on Acme's platform team...\n\nBest,\nDev User",
	}

	if err := db.Create(&email).Error; err != nil {
		return err
	}

	log.Println("Seeded dev data: 1 profile, 1 generated email")
	return nil
}
