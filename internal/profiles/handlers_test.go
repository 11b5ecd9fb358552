package profiles

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/coldbrewhq/coldbrew/internal/auth"
	"github.com/coldbrewhq/coldbrew/internal/crypto"
	"github.com/coldbrewhq/coldbrew/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Profile{}))
	return db
}

func newTestEncryptor(t *testing.T) *crypto.KeyEncryptor {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	enc, err := crypto.NewKeyEncryptor(key)
	require.NoError(t, err)
	return enc
}

func newProfileRouter(t *testing.T, db *gorm.DB, userID string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler := NewHandler(db, newTestEncryptor(t), slog.Default())

	router := gin.New()
	router.Use(func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), &auth.Identity{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	router.GET("/api/profile", handler.Get)
	router.PUT("/api/profile", handler.Save)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetMissingProfileIs404(t *testing.T) {
	router := newProfileRouter(t, newTestDB(t), "nobody")

	w := doJSON(t, router, http.MethodGet, "/api/profile", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSaveFreeTierKeepsNameAndEmailOnly(t *testing.T) {
	db := newTestDB(t)
	router := newProfileRouter(t, db, "free-user")

	w := doJSON(t, router, http.MethodPut, "/api/profile", gin.H{
		"name":         "Sam Lee",
		"email":        "sam@example.com",
		"jobTitle":     "Engineer",
		"company":      "Beta Corp",
		"school":       "State U",
		"skills":       []string{"go", "sql"},
		"background":   "Ten years in infrastructure.",
		"searchApiKey": "serper-key-123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var p models.Profile
	require.NoError(t, db.Where("user_id = ?", "free-user").First(&p).Error)
	assert.Equal(t, "Sam Lee", p.Name)
	assert.Equal(t, "sam@example.com", p.Email)
	assert.Empty(t, p.JobTitle)
	assert.Empty(t, p.Company)
	assert.Empty(t, p.School)
	assert.Empty(t, p.Skills)
	assert.Empty(t, p.Background)
	assert.Empty(t, p.SearchKeyEncrypted)

	var resp profileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.PlanFree, resp.Plan)
	assert.False(t, resp.HasSearchKey)
}

func TestSaveSubscriberKeepsAllFields(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Profile{
		UserID: "pro-user",
		Plan:   models.PlanPro,
		Status: models.StatusActive,
	}).Error)
	router := newProfileRouter(t, db, "pro-user")

	w := doJSON(t, router, http.MethodPut, "/api/profile", gin.H{
		"name":         "Sam Lee",
		"email":        "sam@example.com",
		"jobTitle":     "Engineer",
		"company":      "Beta Corp",
		"location":     "Denver",
		"school":       "State U",
		"skills":       []string{"go", "sql"},
		"interests":    []string{"climbing"},
		"background":   "Ten years in infrastructure.",
		"searchApiKey": "serper-key-123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var p models.Profile
	require.NoError(t, db.Where("user_id = ?", "pro-user").First(&p).Error)
	assert.Equal(t, "Engineer", p.JobTitle)
	assert.Equal(t, "Beta Corp", p.Company)
	assert.Equal(t, "Denver", p.Location)
	assert.Equal(t, []string{"go", "sql"}, decodeList(p.Skills))
	assert.NotEmpty(t, p.SearchKeyEncrypted)
	assert.NotEqual(t, "serper-key-123", p.SearchKeyEncrypted, "stored encrypted, not plaintext")

	var resp profileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.HasSearchKey)
	assert.Equal(t, []string{"climbing"}, resp.Interests)
}

func TestSaveDowngradeNullsGatedFields(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Profile{
		UserID:             "u1",
		Name:               "Sam Lee",
		JobTitle:           "Engineer",
		Company:            "Beta Corp",
		Plan:               models.PlanPro,
		Status:             models.StatusCancelled,
		SearchKeyEncrypted: "enc-blob",
	}).Error)
	router := newProfileRouter(t, db, "u1")

	w := doJSON(t, router, http.MethodPut, "/api/profile", gin.H{
		"name":     "Sam Lee",
		"email":    "sam@example.com",
		"jobTitle": "Engineer",
		"company":  "Beta Corp",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var p models.Profile
	require.NoError(t, db.Where("user_id = ?", "u1").First(&p).Error)
	assert.Empty(t, p.JobTitle)
	assert.Empty(t, p.Company)
	assert.Empty(t, p.SearchKeyEncrypted)
}

func TestGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Profile{
		UserID: "pro-user",
		Plan:   models.PlanPro,
		Status: models.StatusActive,
	}).Error)
	router := newProfileRouter(t, db, "pro-user")

	w := doJSON(t, router, http.MethodPut, "/api/profile", gin.H{
		"name":   "Sam Lee",
		"email":  "sam@example.com",
		"school": "State U",
		"skills": []string{"go"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp profileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Sam Lee", resp.Name)
	assert.Equal(t, "State U", resp.School)
	assert.Equal(t, []string{"go"}, resp.Skills)
}
