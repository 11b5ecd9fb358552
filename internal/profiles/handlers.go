package profiles

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coldbrewhq/coldbrew/internal/auth"
	"github.com/coldbrewhq/coldbrew/internal/crypto"
	"github.com/coldbrewhq/coldbrew/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Handler serves profile get/save.
type Handler struct {
	db        *gorm.DB
	encryptor *crypto.KeyEncryptor // nil disables BYOK key storage
	logger    *slog.Logger
}

// NewHandler creates the profile handler. encryptor may be nil.
func NewHandler(db *gorm.DB, encryptor *crypto.KeyEncryptor, logger *slog.Logger) *Handler {
	return &Handler{db: db, encryptor: encryptor, logger: logger}
}

type profileResponse struct {
	Name           string   `json:"name"`
	Email          string   `json:"email,omitempty"`
	JobTitle       string   `json:"jobTitle,omitempty"`
	Company        string   `json:"company,omitempty"`
	Location       string   `json:"location,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	School         string   `json:"school,omitempty"`
	Degree         string   `json:"degree,omitempty"`
	Major          string   `json:"major,omitempty"`
	GraduationYear string   `json:"graduationYear,omitempty"`
	Skills         []string `json:"skills"`
	Interests      []string `json:"interests"`
	Background     string   `json:"background,omitempty"`
	Links          []string `json:"links"`
	Plan           string   `json:"plan"`
	Status         string   `json:"status"`
	HasSearchKey   bool     `json:"hasSearchKey"`
}

type saveProfileRequest struct {
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	JobTitle       string   `json:"jobTitle"`
	Company        string   `json:"company"`
	Location       string   `json:"location"`
	Industry       string   `json:"industry"`
	School         string   `json:"school"`
	Degree         string   `json:"degree"`
	Major          string   `json:"major"`
	GraduationYear string   `json:"graduationYear"`
	Skills         []string `json:"skills"`
	Interests      []string `json:"interests"`
	Background     string   `json:"background"`
	Links          []string `json:"links"`
	// Optional user-supplied search API key for deep research (pro only)
	SearchAPIKey string `json:"searchApiKey"`
}

// Get returns the caller's profile, 404 when none exists yet.
func (h *Handler) Get(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	profile, err := Load(c.Request.Context(), h.db, identity.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if err != nil {
		h.logger.Error("profile lookup failed", "user_id", identity.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}

	c.JSON(http.StatusOK, toResponse(profile))
}

// Save upserts the caller's profile. Non-subscribers keep name only; the
// remaining fields are nulled on write (field allow-listing by tier).
func (h *Handler) Save(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req saveProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var profile models.Profile
	err := h.db.WithContext(c.Request.Context()).Where("user_id = ?", identity.UserID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = models.Profile{
			UserID:           identity.UserID,
			Plan:             models.PlanFree,
			Status:           models.StatusActive,
			UsagePeriodStart: time.Now().UTC(),
		}
	} else if err != nil {
		h.logger.Error("profile lookup failed", "user_id", identity.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}

	profile.Name = req.Name
	profile.Email = req.Email

	if profile.Subscribed() {
		profile.JobTitle = req.JobTitle
		profile.Company = req.Company
		profile.Location = req.Location
		profile.Industry = req.Industry
		profile.School = req.School
		profile.Degree = req.Degree
		profile.Major = req.Major
		profile.GraduationYear = req.GraduationYear
		profile.Skills = encodeList(req.Skills)
		profile.Interests = encodeList(req.Interests)
		profile.Background = req.Background
		profile.Links = encodeList(req.Links)

		if req.SearchAPIKey != "" && h.encryptor != nil {
			encrypted, err := h.encryptor.Encrypt(req.SearchAPIKey)
			if err != nil {
				h.logger.Error("failed to encrypt search key", "user_id", identity.UserID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store search key"})
				return
			}
			profile.SearchKeyEncrypted = encrypted
		}
	} else {
		profile.JobTitle = ""
		profile.Company = ""
		profile.Location = ""
		profile.Industry = ""
		profile.School = ""
		profile.Degree = ""
		profile.Major = ""
		profile.GraduationYear = ""
		profile.Skills = nil
		profile.Interests = nil
		profile.Background = ""
		profile.Links = nil
		profile.SearchKeyEncrypted = ""
	}

	if err := h.db.WithContext(c.Request.Context()).Save(&profile).Error; err != nil {
		h.logger.Error("profile save failed", "user_id", identity.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save profile"})
		return
	}

	c.JSON(http.StatusOK, toResponse(&profile))
}

func toResponse(p *models.Profile) profileResponse {
	return profileResponse{
		Name:           p.Name,
		Email:          p.Email,
		JobTitle:       p.JobTitle,
		Company:        p.Company,
		Location:       p.Location,
		Industry:       p.Industry,
		School:         p.School,
		Degree:         p.Degree,
		Major:          p.Major,
		GraduationYear: p.GraduationYear,
		Skills:         decodeList(p.Skills),
		Interests:      decodeList(p.Interests),
		Background:     p.Background,
		Links:          decodeList(p.Links),
		Plan:           p.Plan,
		Status:         p.Status,
		HasSearchKey:   p.SearchKeyEncrypted != "",
	}
}

func encodeList(values []string) datatypes.JSON {
	if len(values) == 0 {
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
