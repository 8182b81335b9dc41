package stripeapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("sk_test_123", srv.URL)
}

func TestGetPrice(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/prices/price_123" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		user, _, ok := r.BasicAuth()
		if !ok || user != "sk_test_123" {
			t.Fatalf("expected basic auth with secret key")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"price_123","active":true,"currency":"usd","unit_amount":900,"type":"recurring","recurring":{"interval":"month"}}`))
	}))

	price, err := client.GetPrice(context.Background(), "price_123")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Type != PriceTypeRecurring {
		t.Fatalf("expected recurring price, got %s", price.Type)
	}
	if price.Recurring == nil || price.Recurring.Interval != "month" {
		t.Fatalf("expected monthly interval")
	}
}

func TestCreateCheckoutSessionFormFields(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("client_reference_id"); got != "user-1" {
			t.Fatalf("expected client_reference_id user-1, got %q", got)
		}
		if got := r.PostForm.Get("metadata[user_id]"); got != "user-1" {
			t.Fatalf("expected metadata user_id, got %q", got)
		}
		if got := r.PostForm.Get("subscription_data[metadata][user_id]"); got != "user-1" {
			t.Fatalf("expected subscription metadata user_id, got %q", got)
		}
		if got := r.PostForm.Get("line_items[0][price]"); got != "price_123" {
			t.Fatalf("expected price line item, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))

	session, err := client.CreateCheckoutSession(context.Background(), CheckoutParams{
		Mode:              "subscription",
		PriceID:           "price_123",
		CustomerID:        "cus_1",
		ClientReferenceID: "user-1",
		SuccessURL:        "https://app.reverie.ink/ok",
		CancelURL:         "https://app.reverie.ink/cancel",
		Metadata:          map[string]string{"user_id": "user-1", "price_id": "price_123"},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_1" {
		t.Fatalf("expected session id, got %q", session.ID)
	}
}

func TestFindCustomerByEmailSkipsDeleted(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("email"); got != "dreamer@example.com" {
			t.Fatalf("expected email query, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"cus_gone","email":"dreamer@example.com","deleted":true}]}`))
	}))

	_, found, err := client.FindCustomerByEmail(context.Background(), "dreamer@example.com")
	if err != nil {
		t.Fatalf("find customer: %v", err)
	}
	if found {
		t.Fatalf("expected deleted customer to be skipped")
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such price"}}`))
	}))

	_, err := client.GetPrice(context.Background(), "price_missing")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "resource_missing" {
		t.Fatalf("unexpected error decode: %+v", apiErr)
	}
	if !apiErr.CallerFault() {
		t.Fatalf("expected 400 to be caller fault")
	}
}

func TestGetSubscription(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/subscriptions/sub_42" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub_42","customer":"cus_7","status":"past_due"}`))
	}))

	sub, err := client.GetSubscription(context.Background(), "sub_42")
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if sub.Customer != "cus_7" || sub.Status != "past_due" {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
}

func TestListSubscriptionsStatusAll(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "all" {
			t.Fatalf("expected status=all, got %q", got)
		}
		if got := r.URL.Query().Get("customer"); got != "cus_1" {
			t.Fatalf("expected customer filter, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"sub_1","customer":"cus_1","status":"active"}]}`))
	}))

	subs, err := client.ListSubscriptions(context.Background(), "cus_1", 0)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].Status != "active" {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}
}
