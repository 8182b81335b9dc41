package entitlements

import (
	"database/sql"
	"testing"
	"time"

	"reverie/internal/store"
)

func TestValidateAccess(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		status    string
		periodEnd sql.NullTime
		graceDays int
		wantErr   bool
	}{
		{name: "active allowed", status: "active", wantErr: false},
		{name: "trialing allowed", status: "trialing", wantErr: false},
		{name: "past_due in grace allowed", status: "past_due", periodEnd: sql.NullTime{Time: now.Add(-24 * time.Hour), Valid: true}, graceDays: 7, wantErr: false},
		{name: "past_due out of grace denied", status: "past_due", periodEnd: sql.NullTime{Time: now.Add(-10 * 24 * time.Hour), Valid: true}, graceDays: 7, wantErr: true},
		{name: "past_due without period denied", status: "past_due", graceDays: 7, wantErr: true},
		{name: "canceled before period end allowed", status: "canceled", periodEnd: sql.NullTime{Time: now.Add(24 * time.Hour), Valid: true}, wantErr: false},
		{name: "canceled after period end denied", status: "canceled", periodEnd: sql.NullTime{Time: now.Add(-24 * time.Hour), Valid: true}, wantErr: true},
		{name: "unpaid denied", status: "unpaid", wantErr: true},
		{name: "incomplete denied", status: "incomplete", wantErr: true},
		{name: "not_started denied", status: "not_started", wantErr: true},
		{name: "inactive denied", status: "inactive", wantErr: true},
		{name: "unknown denied", status: "something_new", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ent := store.Entitlement{
				Status:           tc.status,
				CurrentPeriodEnd: tc.periodEnd,
			}
			err := ValidateAccess(now, ent, tc.graceDays)
			if tc.wantErr && err == nil {
				t.Fatalf("expected access denied for status %s", tc.status)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected access allowed for status %s: %v", tc.status, err)
			}
		})
	}
}

func TestSummarizeHasAccess(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	ent := store.Entitlement{
		UserID:               "user-1",
		Status:               "active",
		StripeCustomerID:     sql.NullString{String: "cus_1", Valid: true},
		StripeSubscriptionID: sql.NullString{String: "sub_1", Valid: true},
		PriceID:              sql.NullString{String: "price_1", Valid: true},
		CurrentPeriodEnd:     sql.NullTime{Time: now.Add(30 * 24 * time.Hour), Valid: true},
	}
	summary := Summarize(now, ent, 7)
	if !summary.HasAccess {
		t.Fatalf("expected access for active entitlement")
	}
	if summary.SubscriptionID != "sub_1" || summary.CustomerID != "cus_1" {
		t.Fatalf("expected external ids in summary: %+v", summary)
	}
	if summary.PeriodEnd == nil {
		t.Fatalf("expected period end in summary")
	}
}
