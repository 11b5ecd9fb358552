// Package emails implements the generation pipeline: commonality
// extraction, email composition, and post-processing transforms, plus the
// persisted history of generated emails.
package emails

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coldbrewhq/coldbrew/internal/events"
	"github.com/coldbrewhq/coldbrew/internal/llm"
	"github.com/coldbrewhq/coldbrew/internal/models"
	"github.com/coldbrewhq/coldbrew/internal/prompts"
	"gorm.io/gorm"
)

// ErrResearchRequired reports a compose call without research findings.
// A validation error, not a retry trigger.
var ErrResearchRequired = errors.New("research findings are required")

// SignaturePlaceholder is used when no sender name is available.
const SignaturePlaceholder = "[Your Name]"

// Completer is the slice of the LLM client the service needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// EventPublisher emits generation events. May be absent.
type EventPublisher interface {
	PublishEmailGenerated(ctx context.Context, ev events.EmailGenerated) (string, error)
}

// Service orchestrates prompt building, completion calls, and persistence.
type Service struct {
	db        *gorm.DB
	llm       Completer
	registry  *prompts.Registry
	publisher EventPublisher
	logger    *slog.Logger
}

// NewService wires the generation pipeline. publisher may be nil.
func NewService(db *gorm.DB, completer Completer, registry *prompts.Registry, publisher EventPublisher, logger *slog.Logger) *Service {
	return &Service{db: db, llm: completer, registry: registry, publisher: publisher, logger: logger}
}

// SenderProfile is the sender-side context embedded in prompts. Inline in
// requests or derived from the stored profile.
type SenderProfile struct {
	Name           string   `json:"name"`
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
}

// CommonalitiesInput feeds one commonality-extraction call.
type CommonalitiesInput struct {
	RecipientName    string
	RecipientCompany string
	RecipientRole    string
	Research         string
	Sender           *SenderProfile
}

// GenerateCommonalities issues a single low-temperature completion asking
// for 3-5 genuine sender/recipient connections.
func (s *Service) GenerateCommonalities(ctx context.Context, in CommonalitiesInput) (string, error) {
	tpl, err := s.registry.Get(prompts.TemplateCommonalities)
	if err != nil {
		return "", err
	}

	research := in.Research
	if strings.TrimSpace(research) == "" {
		research = "No research available."
	}

	prompt := tpl.Build([]prompts.Section{
		{Label: "Recipient", Body: recipientSection(in.RecipientName, in.RecipientRole, in.RecipientCompany, "")},
		{Label: "Research findings", Body: research},
		{Label: "Sender profile", Body: senderSection(in.Sender)},
	})

	out, err := s.llm.Complete(ctx, llm.Request{
		System:      tpl.System,
		Prompt:      prompt,
		Temperature: tpl.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("commonalities generation failed: %w", err)
	}
	return out, nil
}

// ComposeInput feeds one email composition call.
type ComposeInput struct {
	UserID            string
	RecipientName     string
	RecipientCompany  string
	RecipientRole     string
	RecipientLinkedIn string
	Purpose           string
	Tone              string
	SearchMode        string
	Research          string
	Commonalities     string
	Sender            *SenderProfile
}

// ComposeEmail issues the composition completion and persists the
// GeneratedEmail row best-effort: a failed insert is logged and the caller
// still gets their email (emailID 0 signals the miss).
func (s *Service) ComposeEmail(ctx context.Context, in ComposeInput) (string, uint, error) {
	if strings.TrimSpace(in.Research) == "" {
		return "", 0, ErrResearchRequired
	}

	tpl, err := s.registry.Get(prompts.TemplateCompose)
	if err != nil {
		return "", 0, err
	}

	tone := in.Tone
	if tone == "" {
		tone = "professional"
	}

	senderName := SignaturePlaceholder
	if in.Sender != nil && strings.TrimSpace(in.Sender.Name) != "" {
		senderName = in.Sender.Name
	}

	prompt := tpl.Build([]prompts.Section{
		{Label: "Recipient", Body: recipientSection(in.RecipientName, in.RecipientRole, in.RecipientCompany, in.RecipientLinkedIn)},
		{Label: "Outreach purpose", Body: in.Purpose},
		{Label: "Tone", Body: tone},
		{Label: "Research findings", Body: in.Research},
		{Label: "Commonalities", Body: in.Commonalities},
		{Label: "Sender profile", Body: senderSection(in.Sender)},
		{Label: "Sender name for signature", Body: senderName},
	})

	text, err := s.llm.Complete(ctx, llm.Request{
		System:      tpl.System,
		Prompt:      prompt,
		Temperature: tpl.Temperature,
	})
	if err != nil {
		return "", 0, fmt.Errorf("email composition failed: %w", err)
	}

	searchMode := in.SearchMode
	if searchMode == "" {
		searchMode = models.SearchModeBasic
	}

	record := models.GeneratedEmail{
		UserID:            in.UserID,
		RecipientName:     in.RecipientName,
		RecipientCompany:  in.RecipientCompany,
		RecipientRole:     in.RecipientRole,
		RecipientLinkedIn: in.RecipientLinkedIn,
		Purpose:           in.Purpose,
		Tone:              tone,
		SearchMode:        searchMode,
		ResearchFindings:  in.Research,
		Commonalities:     in.Commonalities,
		EmailText:         text,
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		// Degraded: the user gets their email, loses history
		s.logger.Warn("failed to persist generated email", "user_id", in.UserID, "error", err)
		return text, 0, nil
	}

	if s.publisher != nil {
		if _, err := s.publisher.PublishEmailGenerated(ctx, events.EmailGenerated{
			UserID:     in.UserID,
			EmailID:    record.ID,
			SearchMode: searchMode,
			Tone:       tone,
		}); err != nil {
			s.logger.Warn("failed to publish email event", "email_id", record.ID, "error", err)
		}
	}

	return text, record.ID, nil
}

// AdjustTone rewrites an email in the requested tone.
func (s *Service) AdjustTone(ctx context.Context, email, tone string) (string, error) {
	return s.transform(ctx, prompts.TemplateToneAdjust, []prompts.Section{
		{Label: "Requested tone", Body: tone},
		{Label: "Email", Body: email},
	})
}

// Shorten tightens an email while preserving greeting and signature.
func (s *Service) Shorten(ctx context.Context, email string) (string, error) {
	return s.transform(ctx, prompts.TemplateShorten, []prompts.Section{
		{Label: "Email", Body: email},
	})
}

// Edit applies a free-form change request to an email.
func (s *Service) Edit(ctx context.Context, email, changeRequest, recipientName string) (string, error) {
	return s.transform(ctx, prompts.TemplateEdit, []prompts.Section{
		{Label: "Change request", Body: changeRequest},
		{Label: "Recipient", Body: recipientName},
		{Label: "Email", Body: email},
	})
}

func (s *Service) transform(ctx context.Context, template string, sections []prompts.Section) (string, error) {
	tpl, err := s.registry.Get(template)
	if err != nil {
		return "", err
	}

	out, err := s.llm.Complete(ctx, llm.Request{
		System:      tpl.System,
		Prompt:      tpl.Build(sections),
		Temperature: tpl.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", template, err)
	}
	return out, nil
}

// ListByUser returns the caller's generation history, newest first. A user
// with no history gets an empty slice, not an error.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]models.GeneratedEmail, error) {
	emails := []models.GeneratedEmail{}
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&emails).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return emails, nil
}

// Delete soft-deletes an email owned by the caller. Missing or foreign
// rows report gorm.ErrRecordNotFound.
func (s *Service) Delete(ctx context.Context, userID string, id uint) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.GeneratedEmail{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func recipientSection(name, role, company, linkedIn string) string {
	var b strings.Builder
	b.WriteString("Name: " + name)
	if role != "" {
		b.WriteString("\nRole: " + role)
	}
	if company != "" {
		b.WriteString("\nCompany: " + company)
	}
	if linkedIn != "" {
		b.WriteString("\nLinkedIn: " + linkedIn)
	}
	return b.String()
}

func senderSection(p *SenderProfile) string {
	if p == nil {
		return ""
	}
	var lines []string
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Name", p.Name)
	add("Job title", p.JobTitle)
	add("Company", p.Company)
	add("Location", p.Location)
	add("Industry", p.Industry)
	add("Education", strings.TrimSpace(strings.Join([]string{p.Degree, p.Major, p.School, p.GraduationYear}, " ")))
	add("Skills", strings.Join(p.Skills, ", "))
	add("Interests", strings.Join(p.Interests, ", "))
	add("Background", p.Background)
	return strings.Join(lines, "\n")
}
