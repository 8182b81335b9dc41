package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"reverie/internal/auth"
	"reverie/internal/store"
	"reverie/internal/stripeapi"
)

type CheckoutRequest struct {
	PriceID    string
	Mode       string
	SuccessURL string
	CancelURL  string
}

type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckout validates the price against the requested mode, resolves or
// creates the Stripe customer for the user, and opens a checkout session
// tagged with the user id so the webhook path can attribute it back.
func (s *Service) CreateCheckout(ctx context.Context, principal auth.Principal, req CheckoutRequest) (*CheckoutResult, error) {
	if req.Mode != ModeSubscription && req.Mode != ModePayment {
		return nil, fmt.Errorf("%w: mode must be payment or subscription", ErrValidation)
	}
	if strings.TrimSpace(req.PriceID) == "" {
		return nil, fmt.Errorf("%w: missing price_id", ErrValidation)
	}

	price, err := s.Provider.GetPrice(ctx, req.PriceID)
	if err != nil {
		return nil, asValidationIfCallerFault(err, "price lookup failed")
	}
	if !price.Active {
		return nil, fmt.Errorf("%w: price %s is not active", ErrValidation, req.PriceID)
	}
	if req.Mode == ModeSubscription && price.Type != stripeapi.PriceTypeRecurring {
		return nil, fmt.Errorf("%w: price %s is not recurring", ErrValidation, req.PriceID)
	}
	if req.Mode == ModePayment && price.Type != stripeapi.PriceTypeOneTime {
		return nil, fmt.Errorf("%w: price %s is not a one-time price", ErrValidation, req.PriceID)
	}

	customer, err := s.resolveCustomer(ctx, principal)
	if err != nil {
		return nil, err
	}

	if req.Mode == ModeSubscription {
		subs, err := s.Provider.ListSubscriptions(ctx, customer.StripeCustomerID, 10)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			switch MapProviderStatus(sub.Status, false) {
			case "active", "trialing":
				s.Observer.RecordDeny(principal.UserID, "duplicate_subscription")
				return nil, ErrDuplicateSubscription
			}
		}
	}

	// Pending row so the read model knows checkout has started.
	if err := s.Store.EnsureEntitlementStub(ctx, principal.UserID, customer.StripeCustomerID); err != nil {
		return nil, err
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = s.Config.Billing.DefaultSuccessURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.Config.Billing.DefaultCancelURL
	}

	session, err := s.Provider.CreateCheckoutSession(ctx, stripeapi.CheckoutParams{
		Mode:              req.Mode,
		PriceID:           req.PriceID,
		CustomerID:        customer.StripeCustomerID,
		ClientReferenceID: principal.UserID,
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		Metadata: map[string]string{
			"user_id":  principal.UserID,
			"price_id": req.PriceID,
		},
	})
	if err != nil {
		return nil, err
	}

	s.Observer.RecordAllow(principal.UserID, "checkout_created")
	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// resolveCustomer finds or creates the 1:1 Stripe customer for the user.
// Concurrent first checkouts can race into duplicate Stripe customers; that
// is tolerated because reconciliation keys off the subscription, not the
// customer count.
func (s *Service) resolveCustomer(ctx context.Context, principal auth.Principal) (store.BillingCustomer, error) {
	existing, err := s.Store.GetBillingCustomer(ctx, principal.UserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.BillingCustomer{}, err
	}

	email := strings.TrimSpace(principal.Email)
	if email == "" {
		return store.BillingCustomer{}, fmt.Errorf("%w: token carries no email", ErrValidation)
	}

	remote, found, err := s.Provider.FindCustomerByEmail(ctx, email)
	if err != nil {
		return store.BillingCustomer{}, err
	}
	if found {
		if remote.Metadata["user_id"] != principal.UserID {
			if remote, err = s.Provider.TagCustomerUser(ctx, remote.ID, principal.UserID); err != nil {
				return store.BillingCustomer{}, err
			}
		}
	} else {
		if remote, err = s.Provider.CreateCustomer(ctx, email, principal.UserID); err != nil {
			return store.BillingCustomer{}, err
		}
	}

	customer := store.BillingCustomer{
		UserID:           principal.UserID,
		Email:            email,
		StripeCustomerID: remote.ID,
	}
	if err := s.Store.UpsertBillingCustomer(ctx, customer); err != nil {
		return store.BillingCustomer{}, err
	}
	return customer, nil
}

func asValidationIfCallerFault(err error, context string) error {
	var apiErr *stripeapi.Error
	if errors.As(err, &apiErr) && apiErr.CallerFault() {
		return fmt.Errorf("%w: %s: %s", ErrValidation, context, apiErr.Message)
	}
	return err
}
