package billing

import (
	"context"
	"errors"
	"testing"

	"reverie/internal/stripeapi"
)

func TestConfirmRejectsForeignSession(t *testing.T) {
	svc := unitService(&fakeProvider{
		getCheckoutSession: func(sessionID string) (stripeapi.CheckoutSession, error) {
			return stripeapi.CheckoutSession{
				ID:                sessionID,
				Mode:              ModeSubscription,
				PaymentStatus:     "paid",
				ClientReferenceID: "user-owner",
			}, nil
		},
	})
	_, err := svc.ConfirmCheckout(context.Background(), "user-intruder", "cs_test_1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign session, got %v", err)
	}
}

func TestConfirmRejectsSessionWithoutAttribution(t *testing.T) {
	svc := unitService(&fakeProvider{
		getCheckoutSession: func(sessionID string) (stripeapi.CheckoutSession, error) {
			return stripeapi.CheckoutSession{ID: sessionID, PaymentStatus: "paid"}, nil
		},
	})
	_, err := svc.ConfirmCheckout(context.Background(), "user-1", "cs_test_2")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden when session names no owner, got %v", err)
	}
}

func TestConfirmRejectsUnsettledPayment(t *testing.T) {
	svc := unitService(&fakeProvider{
		getCheckoutSession: func(sessionID string) (stripeapi.CheckoutSession, error) {
			return stripeapi.CheckoutSession{
				ID:                sessionID,
				Mode:              ModeSubscription,
				PaymentStatus:     "unpaid",
				ClientReferenceID: "user-1",
			}, nil
		},
	})
	_, err := svc.ConfirmCheckout(context.Background(), "user-1", "cs_test_3")
	if !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled for unpaid session, got %v", err)
	}
}

func TestConfirmMapsUnknownSessionToValidation(t *testing.T) {
	svc := unitService(&fakeProvider{
		getCheckoutSession: func(sessionID string) (stripeapi.CheckoutSession, error) {
			return stripeapi.CheckoutSession{}, &stripeapi.Error{StatusCode: 404, Message: "No such checkout.session"}
		},
	})
	_, err := svc.ConfirmCheckout(context.Background(), "user-1", "cs_missing")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown session id, got %v", err)
	}
}
