package entitlements

import (
	"errors"
	"strings"
	"time"

	"reverie/internal/store"
)

var ErrInactive = errors.New("entitlement inactive")

// ValidateAccess decides whether the entitlement grants access to gated
// features at the given instant. past_due keeps access for a grace window
// past the period end; canceled keeps access until the paid-for period ends.
func ValidateAccess(now time.Time, ent store.Entitlement, pastDueGraceDays int) error {
	switch strings.ToLower(strings.TrimSpace(ent.Status)) {
	case "active", "trialing":
		return nil
	case "past_due":
		if !ent.CurrentPeriodEnd.Valid {
			return ErrInactive
		}
		if pastDueGraceDays <= 0 {
			pastDueGraceDays = 1
		}
		grace := ent.CurrentPeriodEnd.Time.Add(time.Duration(pastDueGraceDays) * 24 * time.Hour)
		if !now.After(grace) {
			return nil
		}
		return ErrInactive
	case "canceled":
		if ent.CurrentPeriodEnd.Valid && !now.After(ent.CurrentPeriodEnd.Time) {
			return nil
		}
		return ErrInactive
	default:
		return ErrInactive
	}
}

// Summary is the read model consumed by client route guards.
type Summary struct {
	UserID            string     `json:"user_id"`
	Status            string     `json:"status"`
	HasAccess         bool       `json:"has_access"`
	PriceID           string     `json:"price_id,omitempty"`
	PlanCode          string     `json:"plan_code,omitempty"`
	SubscriptionID    string     `json:"subscription_id,omitempty"`
	CustomerID        string     `json:"customer_id,omitempty"`
	PeriodStart       *time.Time `json:"current_period_start,omitempty"`
	PeriodEnd         *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

func Summarize(now time.Time, ent store.Entitlement, pastDueGraceDays int) Summary {
	summary := Summary{
		UserID:            ent.UserID,
		Status:            ent.Status,
		HasAccess:         ValidateAccess(now, ent, pastDueGraceDays) == nil,
		CancelAtPeriodEnd: ent.CancelAtPeriodEnd,
	}
	if ent.PriceID.Valid {
		summary.PriceID = ent.PriceID.String
	}
	if ent.PlanCode.Valid {
		summary.PlanCode = ent.PlanCode.String
	}
	if ent.StripeSubscriptionID.Valid {
		summary.SubscriptionID = ent.StripeSubscriptionID.String
	}
	if ent.StripeCustomerID.Valid {
		summary.CustomerID = ent.StripeCustomerID.String
	}
	if ent.CurrentPeriodStart.Valid {
		start := ent.CurrentPeriodStart.Time
		summary.PeriodStart = &start
	}
	if ent.CurrentPeriodEnd.Valid {
		end := ent.CurrentPeriodEnd.Time
		summary.PeriodEnd = &end
	}
	return summary
}
