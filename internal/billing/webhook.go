package billing

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"reverie/internal/store"
	"reverie/internal/stripeapi"
)

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type subscriptionObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

type invoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// ProcessWebhook handles one signed Stripe delivery. Delivery is
// at-least-once: the event ledger short-circuits replays of processed
// events, and a processing error is recorded and propagated so Stripe
// redelivers.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if s == nil || s.Store == nil {
		return errors.New("billing service not configured")
	}
	if err := s.verifySignature(payload, signatureHeader); err != nil {
		return err
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: malformed event payload", ErrValidation)
	}
	if event.ID == "" || event.Type == "" {
		return fmt.Errorf("%w: event missing id or type", ErrValidation)
	}

	payloadHash := sha256Hex(payload)
	inserted, existingStatus, err := s.Store.InsertWebhookEventIfAbsent(ctx, stripeProvider, event.ID, event.Type, payloadHash)
	if err != nil {
		return err
	}
	if !inserted && existingStatus == "processed" {
		return nil
	}

	if err := s.applyEvent(ctx, event); err != nil {
		_ = s.Store.UpdateWebhookEventStatus(ctx, stripeProvider, event.ID, "failed", err.Error())
		return err
	}
	return s.Store.UpdateWebhookEventStatus(ctx, stripeProvider, event.ID, "processed", "")
}

func (s *Service) applyEvent(ctx context.Context, event stripeEvent) error {
	switch event.Type {
	case "checkout.session.completed":
		var session checkoutSessionObject
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return err
		}
		return s.applyCheckoutCompleted(ctx, session)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub subscriptionObject
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return err
		}
		if sub.Customer == "" {
			return errors.New("subscription event missing customer")
		}
		return s.Reconcile(ctx, sub.Customer)

	case "invoice.payment_succeeded", "invoice.paid", "invoice.payment_failed":
		var invoice invoiceObject
		if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
			return err
		}
		if invoice.Subscription == "" {
			// One-off invoice, nothing to reconcile.
			return nil
		}
		return s.Reconcile(ctx, invoice.Customer)

	default:
		// Forward-compatible no-op.
		return nil
	}
}

func (s *Service) applyCheckoutCompleted(ctx context.Context, session checkoutSessionObject) error {
	customerID := session.Customer
	if customerID == "" && session.Subscription != "" {
		// Some completed-session payloads omit the customer; the live
		// subscription still carries it.
		sub, err := s.Provider.GetSubscription(ctx, session.Subscription)
		if err != nil {
			return fmt.Errorf("resolve customer for subscription %s: %w", session.Subscription, err)
		}
		customerID = sub.Customer
	}

	userID := sessionUserID(session.ClientReferenceID, session.Metadata)
	if userID == "" && customerID != "" {
		if mapped, err := s.Store.FindUserByStripeCustomer(ctx, customerID); err == nil {
			userID = mapped
		}
	}
	if userID == "" {
		return errors.New("checkout session carries no user attribution")
	}

	// Make sure the customer mapping exists before reconciling; webhook
	// delivery can race the checkout initiator's write.
	if customerID != "" {
		if err := s.ensureCustomerLink(ctx, userID, customerID, session.CustomerDetails.Email); err != nil {
			return err
		}
	}

	if session.Mode == ModePayment {
		return s.grantOneTime(ctx, userID, customerID, session.Metadata["price_id"])
	}
	if customerID == "" {
		return errors.New("subscription checkout missing customer")
	}
	return s.Reconcile(ctx, customerID)
}

func (s *Service) ensureCustomerLink(ctx context.Context, userID, customerID, email string) error {
	if _, err := s.Store.FindUserByStripeCustomer(ctx, customerID); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if email == "" {
		if existing, err := s.Store.GetBillingCustomer(ctx, userID); err == nil {
			email = existing.Email
		}
	}
	return s.Store.UpsertBillingCustomer(ctx, store.BillingCustomer{
		UserID:           userID,
		Email:            email,
		StripeCustomerID: customerID,
	})
}

// grantOneTime writes a time-boxed entitlement for a one-time purchase. The
// access window comes from the plan catalog.
func (s *Service) grantOneTime(ctx context.Context, userID, customerID, priceID string) error {
	if priceID == "" {
		return errors.New("one-time checkout missing price metadata")
	}
	plan, err := s.Store.GetPlanByPriceID(ctx, priceID)
	if err != nil {
		return fmt.Errorf("no plan for price %s: %w", priceID, err)
	}
	durationDays := int64(30)
	if plan.DurationDays.Valid && plan.DurationDays.Int64 > 0 {
		durationDays = plan.DurationDays.Int64
	}

	now := s.Now()
	return s.Store.UpsertEntitlement(ctx, store.Entitlement{
		UserID:             userID,
		StripeCustomerID:   nullString(customerID),
		Status:             "active",
		PriceID:            nullString(priceID),
		PlanCode:           nullString(plan.PlanCode),
		CurrentPeriodStart: nullTime(now),
		CurrentPeriodEnd:   nullTime(now.AddDate(0, 0, int(durationDays))),
	})
}

func (s *Service) verifySignature(payload []byte, signatureHeader string) error {
	return stripeapi.VerifySignature(payload, signatureHeader, s.Config.Stripe.WebhookSecret, s.Now())
}

func sessionUserID(clientReferenceID string, metadata map[string]string) string {
	if id := strings.TrimSpace(clientReferenceID); id != "" {
		return id
	}
	return strings.TrimSpace(metadata["user_id"])
}

func sha256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
