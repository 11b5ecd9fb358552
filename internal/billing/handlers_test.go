package billing

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coldbrewhq/coldbrew/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testWebhookSecret = "whsec_test_secret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Profile{}))
	return db
}

func newWebhookRouter(t *testing.T, db *gorm.DB) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := NewService(db, Config{
		SecretKey:     "sk_test_key",
		WebhookSecret: testWebhookSecret,
		PriceIDPro:    "price_test",
		FrontendURL:   "https://app.example.com",
	}, slog.Default())

	router := gin.New()
	router.POST("/webhooks/stripe", svc.Webhook)
	return router
}

func signedWebhookRequest(t *testing.T, eventType string, object interface{}) *http.Request {
	t.Helper()
	objectJSON, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]interface{}{
		"id":   "evt_test_1",
		"type": eventType,
		"data": map[string]interface{}{"object": json.RawMessage(objectJSON)},
	})
	require.NoError(t, err)

	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testWebhookSecret)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig)))
	return req
}

func loadProfile(t *testing.T, db *gorm.DB, userID string) models.Profile {
	t.Helper()
	var p models.Profile
	require.NoError(t, db.Where("user_id = ?", userID).First(&p).Error)
	return p
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Profile{
		UserID:           "u1",
		Plan:             models.PlanPro,
		Status:           models.StatusActive,
		StripeCustomerID: "cus_123",
	}).Error)
	router := newWebhookRouter(t, db)

	payload := []byte(`{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"customer":{"id":"cus_123"}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=12345,v1=deadbeef")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	p := loadProfile(t, db, "u1")
	assert.Equal(t, models.PlanPro, p.Plan)
	assert.Equal(t, models.StatusActive, p.Status)
}

func TestWebhookCheckoutCompletedUpgradesByEmail(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Profile{
		UserID: "u1",
		Email:  "sam@example.com",
		Plan:   models.PlanFree,
		Status: models.StatusActive,
	}).Error)
	router := newWebhookRouter(t, db)

	req := signedWebhookRequest(t, "checkout.session.completed", map[string]interface{}{
		"id":               "cs_test_1",
		"customer":         map[string]interface{}{"id": "cus_new"},
		"customer_details": map[string]interface{}{"email": "sam@example.com"},
		"subscription":     map[string]interface{}{"id": "sub_new"},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	p := loadProfile(t, db, "u1")
	assert.Equal(t, models.PlanPro, p.Plan)
	assert.Equal(t, models.StatusActive, p.Status)
	assert.Equal(t, "cus_new", p.StripeCustomerID)
	assert.Equal(t, "sub_new", p.StripeSubscriptionID)
}

func TestWebhookSubscriptionDeletedDowngrades(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Profile{
		UserID:           "u1",
		Plan:             models.PlanPro,
		Status:           models.StatusActive,
		StripeCustomerID: "cus_123",
	}).Error)
	require.NoError(t, db.Create(&models.Profile{
		UserID:           "u2",
		Plan:             models.PlanPro,
		Status:           models.StatusActive,
		StripeCustomerID: "cus_other",
	}).Error)
	router := newWebhookRouter(t, db)

	req := signedWebhookRequest(t, "customer.subscription.deleted", map[string]interface{}{
		"id":       "sub_123",
		"customer": map[string]interface{}{"id": "cus_123"},
		"status":   "canceled",
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	p := loadProfile(t, db, "u1")
	assert.Equal(t, models.PlanFree, p.Plan)
	assert.Equal(t, models.StatusCancelled, p.Status)

	other := loadProfile(t, db, "u2")
	assert.Equal(t, models.PlanPro, other.Plan)
	assert.Equal(t, models.StatusActive, other.Status)
}

func TestWebhookSubscriptionUpdatedSyncsStatus(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Profile{
		UserID:           "u1",
		Plan:             models.PlanPro,
		Status:           models.StatusActive,
		StripeCustomerID: "cus_123",
	}).Error)
	router := newWebhookRouter(t, db)

	req := signedWebhookRequest(t, "customer.subscription.updated", map[string]interface{}{
		"id":       "sub_123",
		"customer": map[string]interface{}{"id": "cus_123"},
		"status":   "past_due",
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	p := loadProfile(t, db, "u1")
	assert.Equal(t, models.PlanPro, p.Plan)
	assert.Equal(t, models.StatusPastDue, p.Status)
}

func TestWebhookUnknownCustomerIs404(t *testing.T) {
	db := newTestDB(t)
	router := newWebhookRouter(t, db)

	req := signedWebhookRequest(t, "customer.subscription.deleted", map[string]interface{}{
		"id":       "sub_123",
		"customer": map[string]interface{}{"id": "cus_missing"},
		"status":   "canceled",
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookIgnoresUnhandledEventTypes(t *testing.T) {
	db := newTestDB(t)
	router := newWebhookRouter(t, db)

	req := signedWebhookRequest(t, "invoice.paid", map[string]interface{}{
		"id": "in_test_1",
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp["received"])
}

func TestSubscriptionStatusMapping(t *testing.T) {
	assert.Equal(t, models.StatusActive, subscriptionStatus("active"))
	assert.Equal(t, models.StatusPastDue, subscriptionStatus("past_due"))
	assert.Equal(t, models.StatusTrialing, subscriptionStatus("trialing"))
	assert.Equal(t, models.StatusCancelled, subscriptionStatus("canceled"))
	assert.Equal(t, models.StatusExpired, subscriptionStatus("unpaid"))
}
