// Package billing owns the subscription-state flow between Stripe and the
// entitlements table: starting checkouts, receiving webhooks, and
// reconciling the persisted grant from the authoritative provider state.
package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"reverie/internal/config"
	"reverie/internal/observability"
	"reverie/internal/store"
	"reverie/internal/stripeapi"
)

const stripeProvider = "stripe"

const (
	ModeSubscription = "subscription"
	ModePayment      = "payment"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrForbidden             = errors.New("forbidden")
	ErrDuplicateSubscription = errors.New("subscription already active")
	ErrNotSettled            = errors.New("payment not settled")
)

// Provider is the slice of the Stripe API this service depends on,
// implemented by *stripeapi.Client and by fakes in tests.
type Provider interface {
	GetPrice(ctx context.Context, priceID string) (stripeapi.Price, error)
	FindCustomerByEmail(ctx context.Context, email string) (stripeapi.Customer, bool, error)
	CreateCustomer(ctx context.Context, email, userID string) (stripeapi.Customer, error)
	TagCustomerUser(ctx context.Context, customerID, userID string) (stripeapi.Customer, error)
	CreateCheckoutSession(ctx context.Context, params stripeapi.CheckoutParams) (stripeapi.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (stripeapi.CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (stripeapi.Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string, limit int) ([]stripeapi.Subscription, error)
}

type Service struct {
	Config   config.Config
	Store    *store.Store
	Provider Provider
	Observer *observability.BillingObserver
	Log      zerolog.Logger
	Now      func() time.Time
}

func NewService(cfg config.Config, st *store.Store, provider Provider, observer *observability.BillingObserver, log zerolog.Logger) *Service {
	return &Service{
		Config:   cfg,
		Store:    st,
		Provider: provider,
		Observer: observer,
		Log:      log.With().Str("component", "billing").Logger(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func fromUnixOrNow(raw int64, now func() time.Time) time.Time {
	if raw <= 0 {
		return now()
	}
	return time.Unix(raw, 0).UTC()
}

func fromUnixOrDefault(raw int64, fallback time.Time) time.Time {
	if raw <= 0 {
		return fallback
	}
	return time.Unix(raw, 0).UTC()
}
