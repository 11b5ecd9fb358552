package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/coldbrewhq/coldbrew/internal/auth"
	"github.com/coldbrewhq/coldbrew/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Checkout starts a Stripe Checkout Session for the authenticated user.
func (s *Service) Checkout(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	url, err := s.CreateCheckoutSession(c.Request.Context(), identity.UserID)
	if err != nil {
		s.logger.Error("checkout session failed", "user_id", identity.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Portal creates a Stripe Customer Portal session for the authenticated user.
func (s *Service) Portal(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	url, err := s.CreatePortalSession(c.Request.Context(), identity.UserID)
	if err != nil {
		s.logger.Error("portal session failed", "user_id", identity.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create portal session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Webhook handles Stripe subscription events and updates stored plans.
// Signature verification is terminal: a failing event produces no writes.
func (s *Service) Webhook(c *gin.Context) {
	const maxBodyBytes = int64(65536)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		s.logger.Error("webhook read failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if s.cfg.WebhookSecret == "" {
		s.logger.Error("stripe webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		s.logger.Warn("webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			s.logger.Error("checkout session unmarshal failed", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session payload"})
			return
		}
		customerID := ""
		if sess.Customer != nil {
			customerID = sess.Customer.ID
		}
		if customerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing customer id"})
			return
		}
		email := ""
		if sess.CustomerDetails != nil {
			email = sess.CustomerDetails.Email
		}
		subscriptionID := ""
		if sess.Subscription != nil {
			subscriptionID = sess.Subscription.ID
		}

		if err := s.applyPlanChange(c.Request.Context(), customerID, email, models.PlanPro, models.StatusActive, subscriptionID); err != nil {
			s.respondPlanChangeError(c, "plan upgrade failed", customerID, err)
			return
		}

	case "customer.subscription.deleted":
		_, customerID, ok := decodeSubscription(c, s, event.Data.Raw)
		if !ok {
			return
		}
		if err := s.applyPlanChange(c.Request.Context(), customerID, "", models.PlanFree, models.StatusCancelled, ""); err != nil {
			s.respondPlanChangeError(c, "plan downgrade failed", customerID, err)
			return
		}

	case "customer.subscription.updated":
		sub, customerID, ok := decodeSubscription(c, s, event.Data.Raw)
		if !ok {
			return
		}
		status := subscriptionStatus(sub.Status)
		plan := models.PlanPro
		if status == models.StatusCancelled || status == models.StatusExpired {
			plan = models.PlanFree
		}
		if err := s.applyPlanChange(c.Request.Context(), customerID, "", plan, status, sub.ID); err != nil {
			s.respondPlanChangeError(c, "plan status sync failed", customerID, err)
			return
		}

	default:
		// Unhandled event types are acknowledged and ignored
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func decodeSubscription(c *gin.Context, s *Service, raw json.RawMessage) (stripe.Subscription, string, bool) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		s.logger.Error("subscription unmarshal failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload"})
		return sub, "", false
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing customer id"})
		return sub, "", false
	}
	return sub, sub.Customer.ID, true
}

func (s *Service) respondPlanChangeError(c *gin.Context, msg, customerID string, err error) {
	s.logger.Error(msg, "customer", customerID, "error", err)
	if errors.Is(err, ErrNoMatchingUser) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching user for billing customer"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
}
