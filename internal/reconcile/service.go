// Package reconcile is the batch repair job: it re-derives every linked
// user's entitlement from the provider and closes out lapsed one-time
// grants. Run from cmd/reverie-reconcile on a schedule; webhooks remain the
// primary update path.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"reverie/internal/store"
)

// Reconciler is the slice of the billing service the job drives.
type Reconciler interface {
	Reconcile(ctx context.Context, customerID string) error
}

type Service struct {
	Store   *store.Store
	Billing Reconciler
	Log     zerolog.Logger
	Now     func() time.Time
}

type Report struct {
	CustomersReconciled int
	CustomersFailed     int
	GrantsExpired       int
}

func NewService(st *store.Store, billing Reconciler, log zerolog.Logger) *Service {
	return &Service{
		Store:   st,
		Billing: billing,
		Log:     log.With().Str("component", "reconcile").Logger(),
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Run(ctx context.Context) (Report, error) {
	var report Report
	if s == nil || s.Store == nil {
		return report, nil
	}

	customers, err := s.Store.ListBillingCustomers(ctx)
	if err != nil {
		return report, err
	}
	for _, customer := range customers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.Billing.Reconcile(ctx, customer.StripeCustomerID); err != nil {
			// One bad customer must not stall the sweep.
			s.Log.Error().Err(err).Str("user_id", customer.UserID).Str("stripe_customer_id", customer.StripeCustomerID).Msg("reconcile failed")
			report.CustomersFailed++
			continue
		}
		report.CustomersReconciled++
	}

	lapsed, err := s.Store.ListLapsedOneTimeEntitlements(ctx, s.Now())
	if err != nil {
		return report, err
	}
	for _, ent := range lapsed {
		if err := s.Store.SetEntitlementStatus(ctx, ent.UserID, "inactive"); err != nil {
			return report, err
		}
		report.GrantsExpired++
	}

	return report, nil
}
