package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Confirmation struct {
	Success        bool   `json:"success"`
	SessionID      string `json:"sessionId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Plan           string `json:"plan"`
	Status         string `json:"status"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	CustomerID     string `json:"customerId,omitempty"`
}

// ConfirmCheckout is the synchronous fallback the client calls right after
// returning from checkout, before the webhook lands. Once the session is
// verified paid and owned by the caller, a failing entitlement write does
// not fail the call; the webhook redelivery or the reconcile job repairs it.
func (s *Service) ConfirmCheckout(ctx context.Context, callerUserID, sessionID string) (*Confirmation, error) {
	session, err := s.Provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, asValidationIfCallerFault(err, "checkout session lookup failed")
	}

	owner := sessionUserID(session.ClientReferenceID, session.Metadata)
	if owner == "" || owner != callerUserID {
		s.Observer.RecordDeny(callerUserID, "confirm_ownership_mismatch")
		return nil, fmt.Errorf("%w: checkout session does not belong to caller", ErrForbidden)
	}
	if session.PaymentStatus != "paid" {
		return nil, fmt.Errorf("%w: payment status is %q", ErrNotSettled, session.PaymentStatus)
	}

	if session.Customer != "" {
		if err := s.ensureCustomerLink(ctx, owner, session.Customer, session.CustomerDetails.Email); err != nil {
			s.Log.Warn().Err(err).Str("session_id", sessionID).Msg("customer link write failed during confirm")
		}
	}

	// Secondary writes: logged, never fatal past this point.
	if session.Mode == ModePayment {
		if err := s.grantOneTime(ctx, owner, session.Customer, session.Metadata["price_id"]); err != nil {
			s.Log.Warn().Err(err).Str("session_id", sessionID).Msg("one-time grant failed during confirm")
		}
	} else if session.Customer != "" {
		if err := s.Reconcile(ctx, session.Customer); err != nil {
			s.Log.Warn().Err(err).Str("session_id", sessionID).Msg("reconcile failed during confirm")
		}
	}

	confirmation := &Confirmation{
		Success:        true,
		SessionID:      session.ID,
		Amount:         session.AmountTotal,
		Currency:       session.Currency,
		Status:         "active",
		SubscriptionID: session.Subscription,
		CustomerID:     session.Customer,
	}
	if priceID := session.Metadata["price_id"]; priceID != "" {
		if plan, err := s.Store.GetPlanByPriceID(ctx, priceID); err == nil {
			confirmation.Plan = plan.Name
		}
	}
	if ent, err := s.Store.GetEntitlement(ctx, owner); err == nil {
		confirmation.Status = ent.Status
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.Log.Warn().Err(err).Str("user_id", owner).Msg("entitlement read failed during confirm")
	}

	s.Observer.RecordAllow(owner, "checkout_confirmed")
	return confirmation, nil
}
