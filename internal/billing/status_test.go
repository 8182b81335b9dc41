package billing

import "testing"

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		provider string
		deleted  bool
		expected string
	}{
		{"active", false, "active"},
		{"trialing", false, "trialing"},
		{"past_due", false, "past_due"},
		{"canceled", false, "canceled"},
		{"unpaid", false, "unpaid"},
		{"incomplete", false, "incomplete"},
		{"incomplete_expired", false, "inactive"},
		{"paused", false, "inactive"},
		{"", false, "inactive"},
		{"something_new", false, "inactive"},
		{"active", true, "canceled"},
		{"past_due", true, "canceled"},
	}
	for _, tc := range tests {
		if got := MapProviderStatus(tc.provider, tc.deleted); got != tc.expected {
			t.Errorf("MapProviderStatus(%q, %v) = %q, want %q", tc.provider, tc.deleted, got, tc.expected)
		}
	}
}
