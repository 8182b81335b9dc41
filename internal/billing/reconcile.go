package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"reverie/internal/store"
)

// Reconcile rewrites the user's entitlement from the authoritative Stripe
// subscription state for the customer. Idempotent: the same provider state
// always produces the same row.
func (s *Service) Reconcile(ctx context.Context, customerID string) error {
	userID, err := s.Store.FindUserByStripeCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Linkage can race event delivery. The next delivery or
			// reconcile run will catch up.
			s.Log.Warn().Str("stripe_customer_id", customerID).Msg("no user linked to customer, skipping reconcile")
			return nil
		}
		return err
	}

	subs, err := s.Provider.ListSubscriptions(ctx, customerID, 1)
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		// No provider subscription. Leave an unexpired one-time grant
		// alone; otherwise mark the entitlement inactive and clear the
		// stored subscription id.
		existing, err := s.Store.GetEntitlement(ctx, userID)
		if err == nil && isLiveOneTimeGrant(existing, s.Now()) {
			return nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		ent := existing
		ent.UserID = userID
		ent.StripeCustomerID = nullString(customerID)
		ent.StripeSubscriptionID = sql.NullString{}
		ent.Status = "inactive"
		return s.Store.UpsertEntitlement(ctx, ent)
	}

	sub := subs[0]
	status := MapProviderStatus(sub.Status, false)

	var priceID string
	if len(sub.Items.Data) > 0 {
		priceID = sub.Items.Data[0].Price.ID
	}
	var planCode string
	if priceID != "" {
		if plan, err := s.Store.GetPlanByPriceID(ctx, priceID); err == nil {
			planCode = plan.PlanCode
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	periodStart := fromUnixOrNow(sub.CurrentPeriodStart, s.Now)
	periodEnd := fromUnixOrDefault(sub.CurrentPeriodEnd, periodStart.AddDate(0, 1, 0))

	return s.Store.UpsertEntitlement(ctx, store.Entitlement{
		UserID:               userID,
		StripeCustomerID:     nullString(customerID),
		StripeSubscriptionID: nullString(sub.ID),
		Status:               status,
		PriceID:              nullString(priceID),
		PlanCode:             nullString(planCode),
		CurrentPeriodStart:   nullTime(periodStart),
		CurrentPeriodEnd:     nullTime(periodEnd),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	})
}

func isLiveOneTimeGrant(ent store.Entitlement, now time.Time) bool {
	return !ent.StripeSubscriptionID.Valid &&
		ent.Status == "active" &&
		ent.CurrentPeriodEnd.Valid &&
		now.Before(ent.CurrentPeriodEnd.Time)
}
