// Package billing integrates Stripe: checkout and portal sessions plus the
// webhook that drives plan transitions.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coldbrewhq/coldbrew/internal/models"
	"github.com/stripe/stripe-go/v79"
	portalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"gorm.io/gorm"
)

// Config carries the Stripe wiring.
type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceIDPro    string
	FrontendURL   string
}

// Service owns customer resolution and plan writes.
type Service struct {
	db     *gorm.DB
	cfg    Config
	logger *slog.Logger
}

// NewService sets the global Stripe API key and returns the billing service.
func NewService(db *gorm.DB, cfg Config, logger *slog.Logger) *Service {
	stripe.Key = cfg.SecretKey
	return &Service{db: db, cfg: cfg, logger: logger}
}

// ErrNoMatchingUser reports a billing event whose customer could not be
// resolved to a stored profile.
var ErrNoMatchingUser = errors.New("no profile matches billing customer")

// ensureCustomer finds or creates a Stripe customer for the user, storing
// the id on the profile.
func (s *Service) ensureCustomer(ctx context.Context, userID string) (string, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("profile not found for user %s", userID)
	}
	if err != nil {
		return "", err
	}

	if profile.StripeCustomerID != "" {
		return profile.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Metadata: map[string]string{"user_id": userID},
	}
	if profile.Email != "" {
		params.Email = stripe.String(profile.Email)
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&profile).Update("stripe_customer_id", cust.ID).Error; err != nil {
		return "", err
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout for the user and
// returns the hosted checkout URL.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID string) (string, error) {
	if s.cfg.PriceIDPro == "" || s.cfg.FrontendURL == "" {
		return "", fmt.Errorf("billing not configured")
	}

	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.cfg.PriceIDPro),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.cfg.FrontendURL + "/billing/success"),
		CancelURL:  stripe.String(s.cfg.FrontendURL + "/billing/cancel"),
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession opens the Stripe customer portal for the user.
func (s *Service) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	if s.cfg.FrontendURL == "" {
		return "", fmt.Errorf("billing not configured")
	}

	var profile models.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		return "", fmt.Errorf("failed to load profile: %w", err)
	}
	if profile.StripeCustomerID == "" {
		return "", fmt.Errorf("stripe customer missing for user")
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(profile.StripeCustomerID),
		ReturnURL: stripe.String(s.cfg.FrontendURL + "/settings/billing"),
	}

	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return sess.URL, nil
}

// applyPlanChange resolves the profile by stripe customer id, falling back
// to the billing-provider-reported email, and writes the plan transition.
// No matching profile is an error, never a silent no-op.
func (s *Service) applyPlanChange(ctx context.Context, customerID, email, plan, status, subscriptionID string) error {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && email != "" {
		err = s.db.WithContext(ctx).Where("email = ?", email).First(&profile).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: customer=%s email=%s", ErrNoMatchingUser, customerID, email)
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"plan":               plan,
		"status":             status,
		"stripe_customer_id": customerID,
	}
	if subscriptionID != "" {
		updates["stripe_subscription_id"] = subscriptionID
	}
	return s.db.WithContext(ctx).Model(&profile).Updates(updates).Error
}

// subscriptionStatus maps a Stripe subscription status to the stored one.
func subscriptionStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive:
		return models.StatusActive
	case stripe.SubscriptionStatusPastDue:
		return models.StatusPastDue
	case stripe.SubscriptionStatusTrialing:
		return models.StatusTrialing
	case stripe.SubscriptionStatusCanceled:
		return models.StatusCancelled
	case stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return models.StatusExpired
	default:
		return models.StatusActive
	}
}
