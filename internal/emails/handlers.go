package emails

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coldbrewhq/coldbrew/internal/auth"
	"github.com/coldbrewhq/coldbrew/internal/crypto"
	"github.com/coldbrewhq/coldbrew/internal/metrics"
	"github.com/coldbrewhq/coldbrew/internal/models"
	"github.com/coldbrewhq/coldbrew/internal/profiles"
	"github.com/coldbrewhq/coldbrew/internal/prompts"
	"github.com/coldbrewhq/coldbrew/internal/research"
	"github.com/coldbrewhq/coldbrew/internal/subscription"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ResearchCollector is the slice of the research collector the handlers
// need (mocked in tests).
type ResearchCollector interface {
	Collect(ctx context.Context, req research.Request) ([]string, error)
}

// Handler serves the research, generation, post-processing, and history
// routes.
type Handler struct {
	svc       *Service
	collector ResearchCollector
	gate      *subscription.Gate
	db        *gorm.DB
	encryptor *crypto.KeyEncryptor // nil disables BYOK key lookup
	logger    *slog.Logger
}

// NewHandler wires the email routes.
func NewHandler(svc *Service, collector ResearchCollector, gate *subscription.Gate, db *gorm.DB, encryptor *crypto.KeyEncryptor, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, collector: collector, gate: gate, db: db, encryptor: encryptor, logger: logger}
}

const noResearchText = "No research available."

type researchRequest struct {
	RecipientName string `json:"recipientName"`
	RecipientRole string `json:"recipientRole"`
	Company       string `json:"company"`
	SearchMode    string `json:"searchMode"`
}

// Research runs the query battery for a recipient. Deep mode is pro-gated
// before any search call is made.
func (h *Handler) Research(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req researchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.RecipientName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipientName is required"})
		return
	}

	mode := req.SearchMode
	if mode == "" {
		mode = models.SearchModeBasic
	}
	if mode == models.SearchModeDeep {
		if err := h.gate.Check(c.Request.Context(), identity.UserID, subscription.FeatureDeepResearch); err != nil {
			h.respondGateError(c, err)
			return
		}
	}

	findings, err := h.collector.Collect(c.Request.Context(), research.Request{
		Name:    req.RecipientName,
		Role:    req.RecipientRole,
		Company: req.Company,
		Mode:    mode,
		APIKey:  h.userSearchKey(c.Request.Context(), identity.UserID),
	})
	if errors.Is(err, research.ErrNoFindings) {
		c.JSON(http.StatusOK, gin.H{"findings": []string{}, "researchError": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("research failed", "recipient", req.RecipientName, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "research failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"findings": findings})
}

type commonalitiesRequest struct {
	RecipientName    string         `json:"recipientName"`
	RecipientCompany string         `json:"recipientCompany"`
	RecipientRole    string         `json:"recipientRole"`
	ResearchFindings string         `json:"researchFindings"`
	SenderProfile    *SenderProfile `json:"senderProfile"`
}

// Commonalities extracts sender/recipient connections. The sender profile
// is fetched by user id when not supplied inline; a missing stored profile
// is a 404.
func (h *Handler) Commonalities(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req commonalitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.RecipientName == "" || req.ResearchFindings == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipientName and researchFindings are required"})
		return
	}

	sender := req.SenderProfile
	if sender == nil {
		profile, err := profiles.Load(c.Request.Context(), h.db, identity.UserID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		if err != nil {
			h.logger.Error("profile lookup failed", "user_id", identity.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
			return
		}
		sender = senderFromProfile(profile)
	}

	out, err := h.svc.GenerateCommonalities(c.Request.Context(), CommonalitiesInput{
		RecipientName:    req.RecipientName,
		RecipientCompany: req.RecipientCompany,
		RecipientRole:    req.RecipientRole,
		Research:         req.ResearchFindings,
		Sender:           sender,
	})
	if err != nil {
		h.logger.Error("commonalities generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate commonalities"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"commonalities": out})
}

// Generate runs the full pipeline: research, commonalities, composition,
// persistence. The payload is schema-validated before any external call.
func (h *Handler) Generate(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := prompts.ValidateGenerateRequest(payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}
	recipientName := str("recipientName")
	mode := str("searchMode")
	if mode == "" {
		mode = models.SearchModeBasic
	}

	if mode == models.SearchModeDeep {
		if err := h.gate.Check(c.Request.Context(), identity.UserID, subscription.FeatureDeepResearch); err != nil {
			h.respondGateError(c, err)
			return
		}
	}
	if err := h.gate.ConsumeGeneration(c.Request.Context(), identity.UserID); err != nil {
		h.respondGateError(c, err)
		return
	}

	var sender *SenderProfile
	var searchKey string
	if profile, err := profiles.Load(c.Request.Context(), h.db, identity.UserID); err == nil {
		sender = senderFromProfile(profile)
		searchKey = h.decryptSearchKey(profile)
	}

	var researchError string
	findings, err := h.collector.Collect(c.Request.Context(), research.Request{
		Name:    recipientName,
		Role:    str("recipientRole"),
		Company: str("recipientCompany"),
		Mode:    mode,
		APIKey:  searchKey,
	})
	if err != nil {
		// Research never aborts generation; the prompt says so instead
		researchError = err.Error()
		if !errors.Is(err, research.ErrNoFindings) {
			h.logger.Warn("research failed during generation", "recipient", recipientName, "error", err)
		}
	}

	researchText := research.JoinFindings(findings)
	if researchText == "" {
		researchText = noResearchText
	}

	var commonalities string
	if len(findings) > 0 && sender != nil {
		commonalities, err = h.svc.GenerateCommonalities(c.Request.Context(), CommonalitiesInput{
			RecipientName:    recipientName,
			RecipientCompany: str("recipientCompany"),
			RecipientRole:    str("recipientRole"),
			Research:         researchText,
			Sender:           sender,
		})
		if err != nil {
			metrics.GenerationsTotal.WithLabelValues(mode, "error").Inc()
			h.refundGeneration(c.Request.Context(), identity.UserID)
			h.logger.Error("commonalities generation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate commonalities"})
			return
		}
	}

	purpose := str("outreachPurpose")
	if ctxText := str("context"); ctxText != "" {
		purpose = purpose + "\nAdditional context: " + ctxText
	}

	text, emailID, err := h.svc.ComposeEmail(c.Request.Context(), ComposeInput{
		UserID:            identity.UserID,
		RecipientName:     recipientName,
		RecipientCompany:  str("recipientCompany"),
		RecipientRole:     str("recipientRole"),
		RecipientLinkedIn: str("recipientLinkedIn"),
		Purpose:           purpose,
		Tone:              str("tone"),
		SearchMode:        mode,
		Research:          researchText,
		Commonalities:     commonalities,
		Sender:            sender,
	})
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues(mode, "error").Inc()
		h.refundGeneration(c.Request.Context(), identity.UserID)
		h.logger.Error("email generation failed", "recipient", recipientName, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate email"})
		return
	}

	metrics.GenerationsTotal.WithLabelValues(mode, "ok").Inc()

	resp := gin.H{
		"email":            text,
		"emailId":          emailID,
		"researchFindings": findings,
	}
	if researchError != "" {
		resp["researchError"] = researchError
	}
	c.JSON(http.StatusOK, resp)
}

type composeRequest struct {
	RecipientName     string         `json:"recipientName"`
	RecipientCompany  string         `json:"recipientCompany"`
	RecipientRole     string         `json:"recipientRole"`
	RecipientLinkedIn string         `json:"recipientLinkedIn"`
	Purpose           string         `json:"purpose"`
	Tone              string         `json:"tone"`
	SearchMode        string         `json:"searchMode"`
	ResearchFindings  string         `json:"researchFindings"`
	Commonalities     string         `json:"commonalities"`
	SenderProfile     *SenderProfile `json:"senderProfile"`
}

// Compose writes the final email from caller-supplied research. Research
// findings are a hard precondition here.
func (h *Handler) Compose(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req composeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.RecipientName == "" || req.Purpose == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipientName and purpose are required"})
		return
	}
	if req.ResearchFindings == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "researchFindings are required"})
		return
	}
	switch req.SearchMode {
	case "", models.SearchModeBasic, models.SearchModeDeep:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "searchMode must be basic or deep"})
		return
	}

	sender := req.SenderProfile
	if sender == nil {
		if profile, err := profiles.Load(c.Request.Context(), h.db, identity.UserID); err == nil {
			sender = senderFromProfile(profile)
		}
	}

	text, emailID, err := h.svc.ComposeEmail(c.Request.Context(), ComposeInput{
		UserID:            identity.UserID,
		RecipientName:     req.RecipientName,
		RecipientCompany:  req.RecipientCompany,
		RecipientRole:     req.RecipientRole,
		RecipientLinkedIn: req.RecipientLinkedIn,
		Purpose:           req.Purpose,
		Tone:              req.Tone,
		SearchMode:        req.SearchMode,
		Research:          req.ResearchFindings,
		Commonalities:     req.Commonalities,
		Sender:            sender,
	})
	if errors.Is(err, ErrResearchRequired) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("email composition failed", "recipient", req.RecipientName, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compose email"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"email": text, "emailId": emailID})
}

type toneRequest struct {
	Email string `json:"email"`
	Tone  string `json:"tone"`
}

// Tone rewrites an email in a different tone. Pro-gated like the other
// post-processing operations.
func (h *Handler) Tone(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req toneRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Tone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and tone are required"})
		return
	}

	if err := h.gate.Check(c.Request.Context(), identity.UserID, subscription.FeatureEmailEditing); err != nil {
		h.respondGateError(c, err)
		return
	}

	out, err := h.svc.AdjustTone(c.Request.Context(), req.Email, req.Tone)
	if err != nil {
		h.logger.Error("tone adjustment failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to adjust tone"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": out})
}

type shortenRequest struct {
	Email string `json:"email"`
}

// Shorten tightens an email. Pro-gated.
func (h *Handler) Shorten(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req shortenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	if err := h.gate.Check(c.Request.Context(), identity.UserID, subscription.FeatureEmailEditing); err != nil {
		h.respondGateError(c, err)
		return
	}

	out, err := h.svc.Shorten(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("shorten failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to shorten email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": out})
}

type editRequest struct {
	Email         string `json:"email"`
	ChangeRequest string `json:"changeRequest"`
	RecipientName string `json:"recipientName"`
}

// Edit applies a free-form change request. Pro-gated: the gate runs before
// any completion call.
func (h *Handler) Edit(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.ChangeRequest == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and changeRequest are required"})
		return
	}

	if err := h.gate.Check(c.Request.Context(), identity.UserID, subscription.FeatureEmailEditing); err != nil {
		h.respondGateError(c, err)
		return
	}

	out, err := h.svc.Edit(c.Request.Context(), req.Email, req.ChangeRequest, req.RecipientName)
	if err != nil {
		h.logger.Error("edit failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to edit email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": out})
}

type emailResponse struct {
	ID               uint   `json:"id"`
	RecipientName    string `json:"recipientName"`
	RecipientCompany string `json:"recipientCompany,omitempty"`
	RecipientRole    string `json:"recipientRole,omitempty"`
	Purpose          string `json:"purpose"`
	Tone             string `json:"tone,omitempty"`
	SearchMode       string `json:"searchMode"`
	EmailText        string `json:"email"`
	CreatedAt        string `json:"createdAt"`
}

// List returns the caller's generation history, newest first.
func (h *Handler) List(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	records, err := h.svc.ListByUser(c.Request.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("history listing failed", "user_id", identity.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list emails"})
		return
	}

	out := make([]emailResponse, 0, len(records))
	for _, r := range records {
		out = append(out, emailResponse{
			ID:               r.ID,
			RecipientName:    r.RecipientName,
			RecipientCompany: r.RecipientCompany,
			RecipientRole:    r.RecipientRole,
			Purpose:          r.Purpose,
			Tone:             r.Tone,
			SearchMode:       r.SearchMode,
			EmailText:        r.EmailText,
			CreatedAt:        r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"emails": out})
}

// Delete removes an email owned by the caller.
func (h *Handler) Delete(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email id"})
		return
	}

	err = h.svc.Delete(c.Request.Context(), identity.UserID, uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
		return
	}
	if err != nil {
		h.logger.Error("email delete failed", "user_id", identity.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete email"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Subscription returns the caller's resolved plan, status, and feature
// flags. Lookup failure is a 500, never a silent free-tier fallback.
func (h *Handler) Subscription(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	info, err := h.gate.Status(c.Request.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("subscription lookup failed", "user_id", identity.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription check failed"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// refundGeneration returns the quota unit consumed at the top of Generate
// when the pipeline fails before producing an email.
func (h *Handler) refundGeneration(ctx context.Context, userID string) {
	if err := h.gate.RefundGeneration(ctx, userID); err != nil {
		h.logger.Warn("failed to refund generation", "user_id", userID, "error", err)
	}
}

func (h *Handler) respondGateError(c *gin.Context, err error) {
	var quota subscription.QuotaError
	switch {
	case errors.Is(err, subscription.ErrCheckFailed):
		h.logger.Error("subscription check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription check failed"})
	case errors.As(err, &quota):
		c.JSON(http.StatusForbidden, gin.H{"error": quota.Error()})
	case errors.Is(err, subscription.ErrSubscriptionRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": "subscription required"})
	default:
		h.logger.Error("gate error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription check failed"})
	}
}

// userSearchKey loads and decrypts the caller's stored search API key.
// Best-effort: any miss returns the empty string (service key is used).
func (h *Handler) userSearchKey(ctx context.Context, userID string) string {
	if h.encryptor == nil {
		return ""
	}
	profile, err := profiles.Load(ctx, h.db, userID)
	if err != nil {
		return ""
	}
	return h.decryptSearchKey(profile)
}

func (h *Handler) decryptSearchKey(profile *models.Profile) string {
	if h.encryptor == nil || profile == nil || profile.SearchKeyEncrypted == "" {
		return ""
	}
	key, err := h.encryptor.Decrypt(profile.SearchKeyEncrypted)
	if err != nil {
		h.logger.Warn("failed to decrypt stored search key", "user_id", profile.UserID, "error", err)
		return ""
	}
	return key
}

// senderFromProfile converts a stored profile into the prompt-facing
// sender shape.
func senderFromProfile(p *models.Profile) *SenderProfile {
	if p == nil {
		return nil
	}
	return &SenderProfile{
		Name:           p.Name,
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
	}
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
